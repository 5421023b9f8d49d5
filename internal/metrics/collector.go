// Package metrics registers the relay's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var startTime = time.Now()

var (
	MessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "llmrelay_messages_total",
			Help: "Inbound text messages seen by the dispatcher",
		},
	)

	DispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrelay_dispatch_outcomes_total",
			Help: "Dispatches by terminal state",
		},
		[]string{"outcome"},
	)

	// Inference backend
	InferenceRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "llmrelay_inference_requests_total",
			Help: "Requests sent to the inference backend",
		},
	)

	InferenceFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "llmrelay_inference_failures_total",
			Help: "Inference requests that failed",
		},
	)

	InferenceLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "llmrelay_inference_latency_seconds",
			Help:    "Inference round-trip latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	DeliveryFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "llmrelay_delivery_fallbacks_total",
			Help: "Replies resent as plain text after markup rejection",
		},
	)

	_ = promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "llmrelay_uptime_seconds",
			Help: "Time since start in seconds",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

// Outcome returns the dispatch counter for one terminal state.
func Outcome(name string) prometheus.Counter {
	return DispatchOutcomes.WithLabelValues(name)
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
