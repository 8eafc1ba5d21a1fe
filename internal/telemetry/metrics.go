package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the broker's Prometheus instruments.
type Metrics struct {
	EventsReceived     prometheus.Counter
	EventsDeduplicated prometheus.Counter
	EventsProcessed    prometheus.Counter
	EventsFailed       prometheus.Counter
	DispatchBatchSize  prometheus.Histogram
	FanoutConnections  prometheus.Gauge
	FanoutSends        prometheus.Counter
	FanoutSendFailures prometheus.Counter
}

// NewMetrics registers the broker metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cti_events_received_total",
			Help: "Webhook events accepted into the queue.",
		}),
		EventsDeduplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cti_events_deduplicated_total",
			Help: "Webhook deliveries dropped as duplicates of an existing queue row.",
		}),
		EventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cti_events_processed_total",
			Help: "Queue events successfully handled by the dispatcher.",
		}),
		EventsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cti_events_failed_total",
			Help: "Handler failures; the event stays queued for retry.",
		}),
		DispatchBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cti_dispatch_batch_size",
			Help:    "Events leased per dispatcher pass.",
			Buckets: prometheus.LinearBuckets(1, 5, 10),
		}),
		FanoutConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cti_fanout_connections",
			Help: "Open subscriber websocket connections.",
		}),
		FanoutSends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cti_fanout_sends_total",
			Help: "Fanout messages written to subscriber connections.",
		}),
		FanoutSendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cti_fanout_send_failures_total",
			Help: "Fanout writes that failed; the connection is dropped.",
		}),
	}
	reg.MustRegister(
		m.EventsReceived, m.EventsDeduplicated, m.EventsProcessed, m.EventsFailed,
		m.DispatchBatchSize, m.FanoutConnections, m.FanoutSends, m.FanoutSendFailures,
	)
	return m
}

// NewTestMetrics returns metrics on a throwaway registry for tests.
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
