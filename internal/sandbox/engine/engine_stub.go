//go:build !linux

package engine

import (
	"context"
	"fmt"

	"coderunner/internal/sandbox/result"
	"coderunner/internal/sandbox/spec"
)

type stubEngine struct{}

// NewEngine returns an engine that refuses to run off linux.
func NewEngine(cfg Config) (Engine, error) {
	return &stubEngine{}, nil
}

func (s *stubEngine) Run(ctx context.Context, execSpec spec.ExecutionSpec) (result.ExecutionOutcome, error) {
	if err := validateSpec(execSpec); err != nil {
		return result.ExecutionOutcome{}, err
	}
	return result.ExecutionOutcome{
		Status:    result.SupervisorError("unsupported platform"),
		Isolation: string(execSpec.Isolation.Level),
	}, nil
}

func (s *stubEngine) Ready() error {
	return fmt.Errorf("sandbox engine is only supported on linux")
}
