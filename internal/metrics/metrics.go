// Package metrics exposes Prometheus instrumentation for the broker and its
// transport surfaces, plus a periodic process sampler feeding the system
// gauges.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	connectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pubsub_connections_total",
		Help: "Total number of WebSocket connections accepted",
	})

	connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pubsub_connections_active",
		Help: "Current number of active WebSocket connections",
	})

	connectionsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pubsub_connections_rejected_total",
		Help: "Total number of connections rejected at admission",
	})

	// Broker state gauges
	topicsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pubsub_topics",
		Help: "Current number of registered topics",
	})

	subscriptionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pubsub_subscriptions",
		Help: "Current number of topic subscriptions across all clients",
	})

	// Message flow metrics
	messagesPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pubsub_messages_published_total",
		Help: "Total number of successful publishes across all topics",
	})

	eventsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pubsub_events_delivered_total",
		Help: "Total number of event frames queued to subscribers",
	})

	eventsReplayed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pubsub_events_replayed_total",
		Help: "Total number of historical events replayed on subscribe",
	})

	sendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pubsub_send_failures_total",
		Help: "Total number of fan-out sends that failed or hit a closed connection",
	})

	// Stream request metrics
	framesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pubsub_frames_received_total",
		Help: "Total number of text frames received from clients",
	})

	frameErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pubsub_frame_errors_total",
		Help: "Total number of error frames returned to clients, by code",
	}, []string{"code"})

	rateLimitedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pubsub_rate_limited_frames_total",
		Help: "Total number of client frames dropped by the per-session rate limit",
	})

	// System metrics (fed by the Collector)
	memoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pubsub_memory_bytes",
		Help: "Current resident memory of the process in bytes",
	})

	goroutines = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pubsub_goroutines",
		Help: "Current number of goroutines",
	})
)

func init() {
	prometheus.MustRegister(
		connectionsTotal,
		connectionsActive,
		connectionsRejected,
		topicsGauge,
		subscriptionsGauge,
		messagesPublished,
		eventsDelivered,
		eventsReplayed,
		sendFailures,
		framesReceived,
		frameErrors,
		rateLimitedFrames,
		memoryUsageBytes,
		goroutines,
	)
}

// Handler returns the HTTP handler serving the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ConnectionOpened records an accepted WebSocket connection.
func ConnectionOpened() {
	connectionsTotal.Inc()
	connectionsActive.Inc()
}

// ConnectionClosed records a terminated WebSocket connection.
func ConnectionClosed() {
	connectionsActive.Dec()
}

// ConnectionRejected records a connection refused at admission.
func ConnectionRejected() {
	connectionsRejected.Inc()
}

// SetTopics updates the registered-topics gauge.
func SetTopics(n int) {
	topicsGauge.Set(float64(n))
}

// SetSubscriptions updates the total-subscriptions gauge.
func SetSubscriptions(n int) {
	subscriptionsGauge.Set(float64(n))
}

// RecordPublish records one successful publish.
func RecordPublish() {
	messagesPublished.Inc()
}

// RecordEventDelivered records one event frame queued to a subscriber.
func RecordEventDelivered() {
	eventsDelivered.Inc()
}

// RecordEventReplayed records one historical event replayed on subscribe.
func RecordEventReplayed() {
	eventsReplayed.Inc()
}

// RecordSendFailure records a fan-out send that failed.
func RecordSendFailure() {
	sendFailures.Inc()
}

// RecordFrameReceived records one inbound client text frame.
func RecordFrameReceived() {
	framesReceived.Inc()
}

// RecordFrameError records an error frame returned to a client.
func RecordFrameError(code string) {
	frameErrors.WithLabelValues(code).Inc()
}

// RecordRateLimited records a client frame dropped by rate limiting.
func RecordRateLimited() {
	rateLimitedFrames.Inc()
}
