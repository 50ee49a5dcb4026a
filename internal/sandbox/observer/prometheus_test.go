package observer

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewPrometheusRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	ctx := context.Background()

	r.ObserveSubmission(ctx, "ok", "namespaced", 20*time.Millisecond, false)
	r.ObserveSubmission(ctx, "ok", "namespaced", 30*time.Millisecond, false)
	r.ObserveSubmission(ctx, "timeout", "namespaced", time.Second, true)
	r.ObserveRejection(ctx, "invalid_input")
	r.SetInFlight(3)
	r.ObserveWorkspaceRelease(ctx, false)

	if got := testutil.ToFloat64(r.submissions.WithLabelValues("ok", "namespaced", "false")); got != 2 {
		t.Fatalf("ok submissions = %v", got)
	}
	if got := testutil.ToFloat64(r.submissions.WithLabelValues("timeout", "namespaced", "true")); got != 1 {
		t.Fatalf("timeout submissions = %v", got)
	}
	if got := testutil.ToFloat64(r.rejections.WithLabelValues("invalid_input")); got != 1 {
		t.Fatalf("rejections = %v", got)
	}
	if got := testutil.ToFloat64(r.inFlight); got != 3 {
		t.Fatalf("in flight = %v", got)
	}
	if got := testutil.ToFloat64(r.releases.WithLabelValues("false")); got != 1 {
		t.Fatalf("failed releases = %v", got)
	}

	if _, err := NewPrometheusRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}
