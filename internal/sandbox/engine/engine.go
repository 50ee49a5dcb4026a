// Package engine launches a staged run through sandbox-init and supervises
// it until exit, deadline or cancellation.
package engine

import (
	"context"
	"time"

	"coderunner/internal/sandbox/result"
	"coderunner/internal/sandbox/spec"
)

// Engine executes an ExecutionSpec inside an isolated sandbox.
//
// Run returns an error only for a malformed spec. Every failure after that
// point, including a helper that cannot start, is reported in the outcome
// as a supervisor error so the caller always gets a result.
type Engine interface {
	Run(ctx context.Context, execSpec spec.ExecutionSpec) (result.ExecutionOutcome, error)
	Ready() error
}

// Config controls sandbox engine behavior.
type Config struct {
	HelperPath    string
	CgroupRoot    string
	EnableCgroup  bool
	EnableSeccomp bool
	// KillOnOutputLimit kills the run once either stream overflows instead
	// of discarding the excess.
	KillOnOutputLimit bool
	// WaitDelay bounds how long Wait blocks on pipes held open by
	// descendants that outlived the child.
	WaitDelay time.Duration
}

const (
	defaultHelperName   = "sandbox-init"
	defaultWaitDelay    = 500 * time.Millisecond
	defaultOutputBytes  = 64 * 1024
	statusMessageLimit  = 4096
	cgroupRemoveRetries = 20
)
