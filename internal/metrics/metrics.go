package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's instrumentation on its own registry so the
// handler exposes only what the engine registers.
type Metrics struct {
	Registry *prometheus.Registry

	CallsCreated    *prometheus.CounterVec
	CallsCompleted  *prometheus.CounterVec
	CallsEvicted    *prometheus.CounterVec
	WebhookEvents   *prometheus.CounterVec
	WebhookIgnored  prometheus.Counter
	RoutingPairings *prometheus.CounterVec
	RoutingReverts  prometheus.Counter
	QueueRejections *prometheus.CounterVec
	QueueDepth      *prometheus.GaugeVec
	QueueWaitTime   *prometheus.HistogramVec
	CallDuration    prometheus.Histogram
	CallbacksDue    prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		CallsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_calls_created_total",
			Help: "Calls created, by direction.",
		}, []string{"direction"}),
		CallsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_calls_terminal_total",
			Help: "Calls reaching a terminal status.",
		}, []string{"status"}),
		CallsEvicted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_calls_evicted_total",
			Help: "Queued calls evicted on timeout, by outcome.",
		}, []string{"outcome"}),
		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_webhook_events_total",
			Help: "Provider status callbacks received, by normalized event.",
		}, []string{"event"}),
		WebhookIgnored: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_webhook_events_ignored_total",
			Help: "Duplicate or stale callbacks dropped by the idempotence rule.",
		}),
		RoutingPairings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_routing_pairings_total",
			Help: "Committed call/agent pairings, by queue.",
		}, []string{"queue"}),
		RoutingReverts: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_routing_reverts_total",
			Help: "Pairings reverted after a failed bridge.",
		}),
		QueueRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_queue_rejections_total",
			Help: "Inbound calls rejected because the queue was at capacity.",
		}, []string{"queue"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_queue_depth",
			Help: "Calls currently waiting, by queue.",
		}, []string{"queue"}),
		QueueWaitTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engine_queue_wait_seconds",
			Help:    "Time from queue entry to answer.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		}, []string{"queue"}),
		CallDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_call_duration_seconds",
			Help:    "Talk time of completed calls.",
			Buckets: []float64{30, 60, 180, 300, 600, 1200, 3600},
		}),
		CallbacksDue: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_callbacks_due_total",
			Help: "Callback requests handed to outbound placement.",
		}),
	}
}
