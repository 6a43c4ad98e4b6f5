// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesSentTotal tracks outbound messages by final status.
	MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Outbound messages processed by the send pipeline",
		},
		[]string{"status"},
	)

	// SendQueueDepth tracks the number of queued outbound messages.
	SendQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_send_queue_depth",
			Help: "Messages waiting in the outbound queue",
		},
	)

	// InitRetriesTotal tracks initialization retry attempts.
	InitRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_init_retries_total",
			Help: "Initialization attempts retried after transient failure",
		},
	)

	// UploadsResolvedTotal tracks upload reconciliations by outcome and by
	// which signal resolved them.
	UploadsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_uploads_resolved_total",
			Help: "File/image uploads resolved",
		},
		[]string{"outcome", "source"},
	)

	// RealtimeEventsTotal tracks realtime events received by type.
	RealtimeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_realtime_events_total",
			Help: "Events delivered by the realtime monitor",
		},
		[]string{"type"},
	)

	// TypingActivitiesTotal tracks typing activities by disposition.
	TypingActivitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_typing_activities_total",
			Help: "Typing activities sent or suppressed by the debounce",
		},
		[]string{"activity", "disposition"},
	)

	// APIRequestDuration tracks REST round trips by operation and status.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_api_request_duration_seconds",
			Help:    "REST request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "status"},
	)
)

// RecordSend records the outcome of one outbound message POST.
func RecordSend(status string) {
	MessagesSentTotal.WithLabelValues(status).Inc()
}

// RecordUpload records one resolved upload.
func RecordUpload(outcome, source string) {
	UploadsResolvedTotal.WithLabelValues(outcome, source).Inc()
}

// RecordRealtimeEvent records one delivered realtime event.
func RecordRealtimeEvent(eventType string) {
	RealtimeEventsTotal.WithLabelValues(eventType).Inc()
}
