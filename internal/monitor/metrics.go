package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the validation engine.
type Metrics struct {
	Registry *prometheus.Registry

	ValidationsTotal   *prometheus.CounterVec
	ValidationDuration *prometheus.HistogramVec
	ValidationErrors   *prometheus.CounterVec
	ActiveValidations  prometheus.Gauge
	PolicyViolations   *prometheus.CounterVec
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	CoalescedRequests  prometheus.Counter
	StaleReevaluations prometheus.Counter
	AnalysisTimeouts   prometheus.Counter
	StoreLatency       *prometheus.HistogramVec
	RequestsInFlight   prometheus.Gauge
	CodeSizeBytes      prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "validations_total",
				Help:      "Total number of validation requests by language and outcome.",
			},
			[]string{"language", "outcome"},
		),

		ValidationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "toolgate",
				Name:      "validation_duration_seconds",
				Help:      "Duration of validation requests in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"language"},
		),

		ValidationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "validation_errors_total",
				Help:      "Total validation pipeline errors by type.",
			},
			[]string{"type"},
		),

		ActiveValidations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "toolgate",
				Name:      "active_validations",
				Help:      "Number of validation pipelines currently running.",
			},
		),

		PolicyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "policy_violations_total",
				Help:      "Total policy violations found, by rule ID.",
			},
			[]string{"rule"},
		),

		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "cache_hits_total",
				Help:      "Validation requests served from the artifact cache.",
			},
		),

		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "cache_misses_total",
				Help:      "Validation requests that ran the full pipeline.",
			},
		),

		CoalescedRequests: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "coalesced_requests_total",
				Help:      "Requests that attached to an already in-flight validation.",
			},
		),

		StaleReevaluations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "stale_reevaluations_total",
				Help:      "Cached artifacts re-evaluated after a policy version change.",
			},
		),

		AnalysisTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "analysis_timeouts_total",
				Help:      "Validations that exceeded the analysis wall-clock budget.",
			},
		),

		StoreLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "toolgate",
				Name:      "store_operation_duration_seconds",
				Help:      "Duration of artifact store operations.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"operation"},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "toolgate",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		CodeSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "toolgate",
				Name:      "code_size_bytes",
				Help:      "Size of submitted code in bytes.",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
			},
		),
	}

	// Register all collectors
	reg.MustRegister(
		m.ValidationsTotal,
		m.ValidationDuration,
		m.ValidationErrors,
		m.ActiveValidations,
		m.PolicyViolations,
		m.CacheHits,
		m.CacheMisses,
		m.CoalescedRequests,
		m.StaleReevaluations,
		m.AnalysisTimeouts,
		m.StoreLatency,
		m.RequestsInFlight,
		m.CodeSizeBytes,
	)

	return m
}

// RecordValidation records metrics for a completed validation request.
func (m *Metrics) RecordValidation(language, outcome string, durationSec float64) {
	m.ValidationsTotal.WithLabelValues(language, outcome).Inc()
	m.ValidationDuration.WithLabelValues(language).Observe(durationSec)
}

// RecordError records a pipeline error by type.
func (m *Metrics) RecordError(errType string) {
	m.ValidationErrors.WithLabelValues(errType).Inc()
}

// RecordViolations records every violation found, labelled by rule ID.
func (m *Metrics) RecordViolations(rules []string) {
	for _, rule := range rules {
		m.PolicyViolations.WithLabelValues(rule).Inc()
	}
}
