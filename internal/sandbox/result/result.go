// Package result defines execution outcomes and maps them to the
// caller-facing submission result.
package result

import (
	"fmt"
	"time"

	appErr "coderunner/pkg/errors"
)

// ExitKind classifies how a run ended.
type ExitKind string

const (
	ExitExited          ExitKind = "exited"
	ExitKilled          ExitKind = "killed"
	ExitTimedOut        ExitKind = "timed_out"
	ExitCanceled        ExitKind = "canceled"
	ExitSupervisorError ExitKind = "supervisor_error"
)

// ExitStatus is the supervisor's verdict on one child.
type ExitStatus struct {
	Kind   ExitKind
	Code   int
	Signal int
	Reason string
}

// Exited is a normal exit with code.
func Exited(code int) ExitStatus { return ExitStatus{Kind: ExitExited, Code: code} }

// Killed is death by signal.
func Killed(signal int) ExitStatus { return ExitStatus{Kind: ExitKilled, Signal: signal} }

// TimedOut is a wall-clock deadline kill.
func TimedOut() ExitStatus { return ExitStatus{Kind: ExitTimedOut} }

// Canceled is a kill because the caller gave up before the deadline.
func Canceled() ExitStatus { return ExitStatus{Kind: ExitCanceled} }

// SupervisorError means the sandbox itself failed, not the snippet.
func SupervisorError(reason string) ExitStatus {
	return ExitStatus{Kind: ExitSupervisorError, Reason: reason}
}

func (s ExitStatus) String() string {
	switch s.Kind {
	case ExitExited:
		return fmt.Sprintf("exited(%d)", s.Code)
	case ExitKilled:
		return fmt.Sprintf("killed(%d)", s.Signal)
	case ExitSupervisorError:
		return "supervisor_error(" + s.Reason + ")"
	default:
		return string(s.Kind)
	}
}

// ExecutionOutcome is the raw record the engine produces for one run.
type ExecutionOutcome struct {
	Stdout              []byte
	Stderr              []byte
	StdoutTruncated     bool
	StderrTruncated     bool
	Status              ExitStatus
	WallClock           time.Duration
	OutputLimitExceeded bool
	MemoryLimitExceeded bool
	Isolation           string
}

// Status is the caller-facing classification.
type Status string

const (
	StatusOK                  Status = "ok"
	StatusRuntimeError        Status = "runtime_error"
	StatusTimeout             Status = "timeout"
	StatusCanceled            Status = "canceled"
	StatusInfrastructureError Status = "infrastructure_error"
)

// SubmissionResult is returned for every accepted submission.
type SubmissionResult struct {
	Output              string  `json:"output"`
	Error               *string `json:"error"`
	ExecutionTimeMillis int64   `json:"executionTime"`
	ExitCode            int     `json:"exitCode"`
	Status              Status  `json:"status"`
	Truncated           bool    `json:"truncated,omitempty"`
	Isolation           string  `json:"isolation,omitempty"`
	RequestID           string  `json:"requestId,omitempty"`
}

const (
	canceledMessage       = "Execution canceled"
	infrastructureMessage = "sandbox failure"
)

var (
	timeoutMessage     = appErr.TimeLimitExceeded.Message()
	memoryLimitMessage = appErr.MemoryLimitExceeded.Message()
	outputLimitMessage = appErr.OutputLimitExceeded.Message()
)
