// Package metrics defines the Prometheus instrumentation for the
// ingestion pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mesh_ingester"

// Pipeline counters (incremented directly by the correlation engine and
// source clients).
var (
	MessagesReceivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mqtt_messages_total",
		Help:      "Raw MQTT messages received per source.",
	}, []string{"source"})

	EventsDecodedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_decoded_total",
		Help:      "Decoded mesh events per port type.",
	}, []string{"port"})

	DecodeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decode_failures_total",
		Help:      "Envelopes that failed to parse.",
	})

	ReadingsCommittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "readings_committed_total",
		Help:      "Enriched readings committed to the analytical store buffer.",
	}, []string{"source", "reading_type"})

	DuplicatesDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicates_dropped_total",
		Help:      "Readings suppressed by the dedup window.",
	})

	PendingBufferedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pending_buffered_total",
		Help:      "Readings buffered while awaiting a position fix.",
	}, []string{"source"})

	FutureTimestampsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "future_timestamps_total",
		Help:      "Readings rejected for timestamps beyond tolerance.",
	})
)

func init() {
	prometheus.MustRegister(
		MessagesReceivedTotal,
		EventsDecodedTotal,
		DecodeFailuresTotal,
		ReadingsCommittedTotal,
		DuplicatesDroppedTotal,
		PendingBufferedTotal,
		FutureTimestampsTotal,
	)
}
