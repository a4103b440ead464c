// Package metrics provides Prometheus metrics for questbot.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bot.
type Metrics struct {
	EventsTotal      *prometheus.CounterVec
	XPAwardedTotal   prometheus.Counter
	LevelUpsTotal    prometheus.Counter
	StoriesTotal     *prometheus.CounterVec
	DeliveriesTotal  *prometheus.CounterVec
	PipelineDuration prometheus.Histogram
	ErrorsTotal      *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "questbot_events_total",
				Help: "Webhook events by kind and outcome (accepted, rejected, failed).",
			},
			[]string{"kind", "outcome"},
		),
		XPAwardedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "questbot_xp_awarded_total",
				Help: "Total XP points awarded.",
			},
		),
		LevelUpsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "questbot_level_ups_total",
				Help: "Total level-up events.",
			},
		),
		StoriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "questbot_stories_total",
				Help: "Narratives by source (generated, fallback, cached).",
			},
			[]string{"source"},
		),
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "questbot_deliveries_total",
				Help: "Story deliveries by route (team, dm, skipped) and result.",
			},
			[]string{"route", "result"},
		),
		PipelineDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "questbot_pipeline_duration_seconds",
				Help:    "End-to-end pipeline processing duration per event.",
				Buckets: prometheus.DefBuckets,
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "questbot_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(m.EventsTotal)
	reg.MustRegister(m.XPAwardedTotal)
	reg.MustRegister(m.LevelUpsTotal)
	reg.MustRegister(m.StoriesTotal)
	reg.MustRegister(m.DeliveriesTotal)
	reg.MustRegister(m.PipelineDuration)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEvent increments the event counter.
func (m *Metrics) RecordEvent(kind, outcome string) {
	m.EventsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordXP adds awarded XP points.
func (m *Metrics) RecordXP(points int) {
	m.XPAwardedTotal.Add(float64(points))
}

// RecordStory increments the narrative counter.
func (m *Metrics) RecordStory(source string) {
	m.StoriesTotal.WithLabelValues(source).Inc()
}

// RecordDelivery increments the delivery counter.
func (m *Metrics) RecordDelivery(route, result string) {
	m.DeliveriesTotal.WithLabelValues(route, result).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}

// ObservePipeline records event processing duration.
func (m *Metrics) ObservePipeline(seconds float64) {
	m.PipelineDuration.Observe(seconds)
}
