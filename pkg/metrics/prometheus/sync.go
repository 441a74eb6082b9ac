// Package prometheus provides Prometheus-backed implementations of the
// metrics interfaces in pkg/metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/remotedev/pkg/metrics"
)

// syncMetrics is the Prometheus implementation of metrics.SyncMetrics.
type syncMetrics struct {
	requestsSent     *prometheus.CounterVec
	requestsReceived *prometheus.CounterVec
	requestsDropped  *prometheus.CounterVec
	bytesTransferred *prometheus.CounterVec
	actionsApplied   *prometheus.CounterVec
	actionDuration   *prometheus.HistogramVec
	sendFailures     prometheus.Counter
	reconnects       prometheus.Counter
	queueDepth       prometheus.Gauge
	activeClients    prometheus.Gauge
}

// NewSyncMetrics creates a new Prometheus-backed SyncMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewSyncMetrics() *syncMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &syncMetrics{
		requestsSent: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "remotedev_requests_sent_total",
				Help: "Total number of requests written to the wire by kind",
			},
			[]string{"kind"}, // "FILE", "LOG", "PING", ...
		),
		requestsReceived: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "remotedev_requests_received_total",
				Help: "Total number of requests decoded from the wire by kind",
			},
			[]string{"kind"},
		),
		requestsDropped: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "remotedev_requests_dropped_total",
				Help: "Total number of requests dropped before taking effect, by reason",
			},
			[]string{"reason"}, // "filtered", "unmapped", "loop", "queue_full", "malformed"
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "remotedev_bytes_transferred_total",
				Help: "Total encoded frame bytes moved over the wire by direction",
			},
			[]string{"direction"}, // "sent", "received"
		),
		actionsApplied: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "remotedev_actions_applied_total",
				Help: "Total number of filesystem actions applied by the executor",
			},
			[]string{"action", "outcome"}, // action "UPDATE".."DELETE"; outcome "ok", "error"
		),
		actionDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "remotedev_action_duration_milliseconds",
				Help: "Duration of executor filesystem actions in milliseconds",
				Buckets: []float64{
					0.1, // in-memory no-ops
					0.5,
					1,
					5,
					10,
					50,
					100, // large file writes
					500,
					1000,
				},
			},
			[]string{"action"},
		),
		sendFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "remotedev_send_failures_total",
				Help: "Total number of failed socket writes",
			},
		),
		reconnects: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "remotedev_reconnects_total",
				Help: "Total number of tunnel reconnect attempts",
			},
		),
		queueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "remotedev_executor_queue_depth",
				Help: "Current number of requests waiting in the executor queue",
			},
		),
		activeClients: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "remotedev_active_clients",
				Help: "Number of dev clients currently connected to the exec side (0 or 1)",
			},
		),
	}
}

// RecordRequestSent records one request written to the wire.
func (m *syncMetrics) RecordRequestSent(kind string, bytes int) {
	if m == nil {
		return
	}
	m.requestsSent.WithLabelValues(kind).Inc()
	m.bytesTransferred.WithLabelValues("sent").Add(float64(bytes))
}

// RecordRequestReceived records one request decoded from the wire.
func (m *syncMetrics) RecordRequestReceived(kind string, bytes int) {
	if m == nil {
		return
	}
	m.requestsReceived.WithLabelValues(kind).Inc()
	m.bytesTransferred.WithLabelValues("received").Add(float64(bytes))
}

// RecordRequestDropped records a dropped request by reason.
func (m *syncMetrics) RecordRequestDropped(reason string) {
	if m == nil {
		return
	}
	m.requestsDropped.WithLabelValues(reason).Inc()
}

// RecordActionApplied records one executor action with its outcome.
func (m *syncMetrics) RecordActionApplied(action string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	m.actionsApplied.WithLabelValues(action, outcome).Inc()
	m.actionDuration.WithLabelValues(action).Observe(float64(duration.Milliseconds()))
}

// RecordSendFailure increments the failed-write counter.
func (m *syncMetrics) RecordSendFailure() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}

// RecordReconnect increments the reconnect counter.
func (m *syncMetrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// SetQueueDepth updates the executor queue depth gauge.
func (m *syncMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// SetActiveClients updates the active client gauge.
func (m *syncMetrics) SetActiveClients(count int) {
	if m == nil {
		return
	}
	m.activeClients.Set(float64(count))
}
