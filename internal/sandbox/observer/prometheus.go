package observer

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "coderunner"

// PrometheusRecorder exports sandbox metrics.
type PrometheusRecorder struct {
	submissions   *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	rejections    *prometheus.CounterVec
	admissionWait prometheus.Histogram
	inFlight      prometheus.Gauge
	releases      *prometheus.CounterVec
}

// NewPrometheusRecorder registers the collectors on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Finished submissions by status.",
		}, []string{"status", "isolation", "truncated"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_seconds",
			Help:      "Wall-clock time of sandboxed runs.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"status"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Submissions refused before execution.",
		}, []string{"reason"}),
		admissionWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_wait_seconds",
			Help:      "Time spent waiting for an execution slot.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight",
			Help:      "Runs currently holding an execution slot.",
		}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workspace_releases_total",
			Help:      "Workspace removals by outcome.",
		}, []string{"ok"}),
	}
	for _, c := range []prometheus.Collector{r.submissions, r.duration, r.rejections, r.admissionWait, r.inFlight, r.releases} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) ObserveSubmission(_ context.Context, status, isolation string, elapsed time.Duration, truncated bool) {
	r.submissions.WithLabelValues(status, isolation, strconv.FormatBool(truncated)).Inc()
	r.duration.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (r *PrometheusRecorder) ObserveRejection(_ context.Context, reason string) {
	r.rejections.WithLabelValues(reason).Inc()
}

func (r *PrometheusRecorder) ObserveAdmissionWait(_ context.Context, waited time.Duration) {
	r.admissionWait.Observe(waited.Seconds())
}

func (r *PrometheusRecorder) SetInFlight(n int) {
	r.inFlight.Set(float64(n))
}

func (r *PrometheusRecorder) ObserveWorkspaceRelease(_ context.Context, ok bool) {
	r.releases.WithLabelValues(strconv.FormatBool(ok)).Inc()
}
