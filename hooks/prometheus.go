package hooks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Skryldev/image-uploader/core"
)

const metricsNamespace = "imgupload"

// PrometheusMetrics exports pipeline and provider observations.
type PrometheusMetrics struct {
	stepDuration    *prometheus.HistogramVec
	stepErrors      *prometheus.CounterVec
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	uploadedBytes   prometheus.Counter
}

// NewPrometheusMetrics registers the collectors with reg; a nil reg means
// prometheus.DefaultRegisterer.  Registering twice on one registry panics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &PrometheusMetrics{
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "step_duration_seconds",
			Help:      "Duration of image pipeline steps.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
		stepErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "step_errors_total",
			Help:      "Image pipeline step failures by error category.",
		}, []string{"step", "category"}),
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "provider",
			Name:      "attempts_total",
			Help:      "Provider upload attempts by outcome.",
		}, []string{"provider", "outcome"}),
		attemptDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "provider",
			Name:      "attempt_duration_seconds",
			Help:      "Wall-clock duration of provider upload attempts.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider"}),
		uploadedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes accepted by providers.",
		}),
	}
}

func (p *PrometheusMetrics) RecordProcessingTime(stepName string, d time.Duration) {
	p.stepDuration.WithLabelValues(stepName).Observe(d.Seconds())
}

func (p *PrometheusMetrics) RecordThroughput(bytes int64) {
	p.uploadedBytes.Add(float64(bytes))
}

func (p *PrometheusMetrics) RecordError(stepName string, category string) {
	p.stepErrors.WithLabelValues(stepName, category).Inc()
}

func (p *PrometheusMetrics) RecordAttempt(provider string, outcome core.AttemptOutcome, d time.Duration) {
	p.attempts.WithLabelValues(provider, string(outcome)).Inc()
	p.attemptDuration.WithLabelValues(provider).Observe(d.Seconds())
}

var _ core.MetricsCollector = (*PrometheusMetrics)(nil)
