// Package metrics exposes Prometheus metrics for the triage service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Webhook metrics
	EventsTotal      *prometheus.CounterVec
	EventDuration    *prometheus.HistogramVec
	RepliesTotal     *prometheus.CounterVec
	ResolutionsTotal *prometheus.CounterVec
	EventErrorsTotal *prometheus.CounterVec

	// Conversation metrics
	SessionsActive prometheus.Gauge
	ThreadsTotal   prometheus.Counter

	// Extraction metrics
	ExtractionsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triago_events_total",
				Help: "Total number of inbound task events",
			},
			[]string{"tenant"},
		),
		EventDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "triago_event_duration_seconds",
				Help:    "Duration of task event handling in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tenant"},
		),
		RepliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triago_replies_total",
				Help: "Total number of replies sent back to tasks",
			},
			[]string{"tenant"},
		),
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triago_resolutions_total",
				Help: "Total number of auto-resolved tasks",
			},
			[]string{"tenant"},
		),
		EventErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triago_event_errors_total",
				Help: "Total number of failed task events",
			},
			[]string{"tenant", "error_type"},
		),

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "triago_sessions_active",
				Help: "Number of task dialogs currently open",
			},
		),
		ThreadsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "triago_threads_total",
				Help: "Total number of conversation threads created",
			},
		),

		ExtractionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triago_extractions_total",
				Help: "Total number of field extraction runs",
			},
			[]string{"tenant"},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.EventsTotal)
	m.registry.MustRegister(m.EventDuration)
	m.registry.MustRegister(m.RepliesTotal)
	m.registry.MustRegister(m.ResolutionsTotal)
	m.registry.MustRegister(m.EventErrorsTotal)

	m.registry.MustRegister(m.SessionsActive)
	m.registry.MustRegister(m.ThreadsTotal)

	m.registry.MustRegister(m.ExtractionsTotal)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
