package result

import (
	"fmt"
	"strings"
	"syscall"
	"time"
)

// Finalize maps an outcome to the caller-facing result. It never panics;
// an internal fault becomes an infrastructure_error result.
func Finalize(outcome ExecutionOutcome) (res SubmissionResult) {
	defer func() {
		if r := recover(); r != nil {
			res = InfrastructureError(fmt.Sprintf("result collection failed: %v", r), outcome.WallClock)
		}
	}()

	stdout := clean(outcome.Stdout)
	stderr := clean(outcome.Stderr)
	res = SubmissionResult{
		Output:              stdout,
		ExecutionTimeMillis: Millis(outcome.WallClock),
		Truncated:           outcome.StdoutTruncated || outcome.StderrTruncated,
		Isolation:           outcome.Isolation,
	}

	switch outcome.Status.Kind {
	case ExitExited:
		res.ExitCode = outcome.Status.Code
		if outcome.Status.Code == 0 && !outcome.OutputLimitExceeded {
			res.Status = StatusOK
			res.Error = optional(stderr)
			return res
		}
		res.Status = StatusRuntimeError
		res.Error = optional(firstNonEmpty(limitMessage(outcome), stderr,
			fmt.Sprintf("process exited with code %d", outcome.Status.Code)))
	case ExitKilled:
		res.Status = StatusRuntimeError
		res.ExitCode = 128 + outcome.Status.Signal
		res.Error = optional(firstNonEmpty(limitMessage(outcome), stderr,
			fmt.Sprintf("process terminated by signal %d (%s)", outcome.Status.Signal, signalName(outcome.Status.Signal))))
	case ExitTimedOut:
		res.Status = StatusTimeout
		res.ExitCode = -1
		res.Error = optional(timeoutMessage)
	case ExitCanceled:
		res.Status = StatusCanceled
		res.ExitCode = -1
		res.Error = optional(canceledMessage)
	case ExitSupervisorError:
		out := InfrastructureError(outcome.Status.Reason, outcome.WallClock)
		out.Isolation = outcome.Isolation
		return out
	default:
		out := InfrastructureError(fmt.Sprintf("unknown exit kind %q", outcome.Status.Kind), outcome.WallClock)
		out.Isolation = outcome.Isolation
		return out
	}
	return res
}

// InfrastructureError builds the result for a failure outside the snippet.
func InfrastructureError(reason string, elapsed time.Duration) SubmissionResult {
	msg := infrastructureMessage
	if reason != "" {
		msg += ": " + reason
	}
	return SubmissionResult{
		Error:               &msg,
		ExecutionTimeMillis: Millis(elapsed),
		ExitCode:            -1,
		Status:              StatusInfrastructureError,
	}
}

// Millis rounds to the nearest whole millisecond, never negative.
func Millis(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Millisecond/2) / time.Millisecond)
}

func limitMessage(o ExecutionOutcome) string {
	switch {
	case o.MemoryLimitExceeded:
		return memoryLimitMessage
	case o.OutputLimitExceeded:
		return outputLimitMessage
	}
	return ""
}

func clean(b []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(b), "�"))
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func signalName(sig int) string {
	name := syscall.Signal(sig).String()
	if name == "" {
		return "unknown"
	}
	return name
}
