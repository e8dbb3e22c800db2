// Package metrics provides Prometheus metrics for the forest inference
// engine, the benchmark harness and the prediction server. All metrics are
// registered through an injectable registry so tests can collect in isolation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the inference engine and its hosts.
type Metrics struct {
	// Prediction metrics
	PredictionsTotal  prometheus.Counter   // Total number of predictions made
	PredictionErrors  prometheus.Counter   // Predictions rejected with a traversal or bounds error
	PredictionLatency prometheus.Histogram // End-to-end prediction latency in seconds

	// Evaluation metrics
	SamplesEvaluated prometheus.Counter   // Total number of samples run through the harness
	EvalAccuracy     prometheus.Gauge     // Accuracy of the most recent evaluation run
	EvalDuration     prometheus.Histogram // Wall time of evaluation runs in seconds

	// Model metrics
	BundleLoads prometheus.Counter // Total number of bundles loaded or fetched

	// Server metrics
	WSClients prometheus.Gauge // Currently connected websocket stream clients

	// System metrics
	ErrorsTotal prometheus.Counter // Total number of errors encountered
}

// New creates and registers all metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		PredictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of predictions made",
		}),
		PredictionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "prediction_errors_total",
			Help: "Total number of predictions rejected with a traversal or bounds error",
		}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_latency_seconds",
			Help:    "End-to-end prediction latency in seconds",
			Buckets: prometheus.ExponentialBuckets(1e-7, 4, 12),
		}),
		SamplesEvaluated: factory.NewCounter(prometheus.CounterOpts{
			Name: "samples_evaluated_total",
			Help: "Total number of samples run through the benchmark harness",
		}),
		EvalAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "eval_accuracy",
			Help: "Accuracy of the most recent evaluation run",
		}),
		EvalDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "eval_duration_seconds",
			Help:    "Wall time of evaluation runs in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		BundleLoads: factory.NewCounter(prometheus.CounterOpts{
			Name: "bundle_loads_total",
			Help: "Total number of model bundles loaded or fetched",
		}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ws_stream_clients",
			Help: "Currently connected websocket stream clients",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}
