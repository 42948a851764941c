package summarize

import (
	"time"

	"github.com/lotas/kurzfassung/internal/types"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRecorder observes finished summarization calls.
type MetricsRecorder interface {
	ObserveRequest(class types.Classification, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRequest(types.Classification, time.Duration) {}

// PrometheusRecorder counts calls per outcome and tracks their latency.
type PrometheusRecorder struct {
	requests *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewPrometheusRecorder registers the summarize collectors on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kurzfassung_summarize_requests_total",
			Help: "Summarization calls by outcome classification (\"ok\" on success).",
		}, []string{"classification"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kurzfassung_summarize_duration_seconds",
			Help:    "Wall time of summarization calls, including validation failures.",
			Buckets: []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60},
		}),
	}
	reg.MustRegister(r.requests, r.duration)
	return r
}

func (r *PrometheusRecorder) ObserveRequest(class types.Classification, d time.Duration) {
	label := string(class)
	if label == "" {
		label = "ok"
	}
	r.requests.WithLabelValues(label).Inc()
	r.duration.Observe(d.Seconds())
}
