// Package observer defines metrics hooks for sandbox execution.
package observer

import (
	"context"
	"time"
)

// MetricsRecorder records sandbox metrics.
type MetricsRecorder interface {
	ObserveSubmission(ctx context.Context, status string, isolation string, elapsed time.Duration, truncated bool)
	ObserveRejection(ctx context.Context, reason string)
	ObserveAdmissionWait(ctx context.Context, waited time.Duration)
	SetInFlight(n int)
	ObserveWorkspaceRelease(ctx context.Context, ok bool)
}

// NoopMetricsRecorder discards everything.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveSubmission(context.Context, string, string, time.Duration, bool) {}
func (NoopMetricsRecorder) ObserveRejection(context.Context, string)                               {}
func (NoopMetricsRecorder) ObserveAdmissionWait(context.Context, time.Duration)                    {}
func (NoopMetricsRecorder) SetInFlight(int)                                                        {}
func (NoopMetricsRecorder) ObserveWorkspaceRelease(context.Context, bool)                          {}
