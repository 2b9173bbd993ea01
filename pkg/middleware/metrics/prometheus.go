package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	costsTotal      *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	throttleTotal   *prometheus.CounterVec
	queueWait       *prometheus.HistogramVec
}

//nolint:gochecknoglobals // promauto registers on the default registry; registering twice panics
var (
	prometheusOnce     sync.Once
	prometheusRecorder *PrometheusRecorder
)

// NewPrometheusRecorder creates a recorder backed by the default Prometheus
// registry. Metrics are registered once per process; subsequent calls return
// the same recorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	prometheusOnce.Do(func() {
		prometheusRecorder = &PrometheusRecorder{
			requestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "llm_requests_total",
					Help: "Total number of LLM requests",
				},
				[]string{"provider", "model", "conversation_id", "status", "error_type"},
			),
			tokensTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "llm_tokens_total",
					Help: "Total tokens consumed by LLM requests",
				},
				[]string{"provider", "model", "conversation_id", "type"},
			),
			costsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "llm_costs_total",
					Help: "Total cost in USD of LLM requests",
				},
				[]string{"provider", "model", "conversation_id"},
			),
			requestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "llm_request_duration_seconds",
					Help:    "Duration of LLM requests in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider", "model"},
			),
			throttleTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "llm_throttle_total",
					Help: "Total number of throttling events",
				},
				[]string{"provider", "reason"},
			),
			queueWait: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "llm_queue_wait_duration_seconds",
					Help:    "Time spent waiting for rate limit capacity",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
		}
	})
	return prometheusRecorder
}

// ObserveRequest records a completed LLM request to Prometheus.
func (p *PrometheusRecorder) ObserveRequest(
	provider, model, conversationID string,
	promptTokens, completionTokens int,
	cost float64,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := "success"
	if !success {
		status = "error"
	}

	p.requestsTotal.WithLabelValues(provider, model, conversationID, status, errorType).Inc()
	p.requestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())

	// Tokens and costs only accrue for successful requests.
	if success {
		p.tokensTotal.WithLabelValues(provider, model, conversationID, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(provider, model, conversationID, "completion").Add(float64(completionTokens))
		p.costsTotal.WithLabelValues(provider, model, conversationID).Add(cost)
	}
}

// IncThrottle increments the throttle counter.
func (p *PrometheusRecorder) IncThrottle(provider, reason string) {
	p.throttleTotal.WithLabelValues(provider, reason).Inc()
}

// ObserveQueueWait records rate limiter queue wait time.
func (p *PrometheusRecorder) ObserveQueueWait(provider string, duration time.Duration) {
	p.queueWait.WithLabelValues(provider).Observe(duration.Seconds())
}
