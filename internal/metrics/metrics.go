package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	connectionUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "orderfeed",
			Subsystem: "connection",
			Name:      "up",
			Help:      "Whether the order feed connection is currently open (1) or not (0).",
		},
	)

	isLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "orderfeed",
			Subsystem: "leader",
			Name:      "is_leader",
			Help:      "Whether this instance currently holds the session lease (1) or not (0).",
		},
	)

	reconnectAttempt = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "orderfeed",
			Subsystem: "connection",
			Name:      "reconnect_attempt",
			Help:      "Current reconnect attempt counter; resets after a stable connection.",
		},
	)

	reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orderfeed",
			Subsystem: "connection",
			Name:      "reconnects_total",
			Help:      "Total number of reconnect attempts scheduled.",
		},
	)

	authRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orderfeed",
			Subsystem: "connection",
			Name:      "auth_rejections_total",
			Help:      "Total number of terminal authorization rejections.",
		},
	)

	heartbeatFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orderfeed",
			Subsystem: "connection",
			Name:      "heartbeat_failures_total",
			Help:      "Total number of connections force-closed for missed liveness replies.",
		},
	)

	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orderfeed",
			Subsystem: "connection",
			Name:      "frames_received_total",
			Help:      "Total inbound frames by envelope type.",
		},
		[]string{"type"},
	)

	malformedFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orderfeed",
			Subsystem: "connection",
			Name:      "malformed_frames_total",
			Help:      "Total inbound frames dropped as unparseable.",
		},
	)

	dispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orderfeed",
			Subsystem: "dispatch",
			Name:      "messages_dispatched_total",
			Help:      "Total messages fanned out to subscribers.",
		},
	)

	callbackPanics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orderfeed",
			Subsystem: "dispatch",
			Name:      "callback_panics_total",
			Help:      "Total subscriber callbacks that panicked during dispatch.",
		},
	)

	dispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "orderfeed",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time to deliver one message to all subscribers.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	storeInserts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orderfeed",
			Subsystem: "store",
			Name:      "inserts_total",
			Help:      "Total notification rows inserted.",
		},
	)

	storeConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orderfeed",
			Subsystem: "store",
			Name:      "conflicts_total",
			Help:      "Total notification rows skipped as duplicates.",
		},
	)

	storeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orderfeed",
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Total failed notification batch writes.",
		},
	)
)

func init() {
	Registry.MustRegister(
		connectionUp,
		isLeader,
		reconnectAttempt,
		reconnects,
		authRejections,
		heartbeatFailures,
		framesReceived,
		malformedFrames,
		dispatched,
		callbackPanics,
		dispatchDuration,
		storeInserts,
		storeConflicts,
		storeErrors,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetConnected records the current connection state.
func SetConnected(up bool) {
	if up {
		connectionUp.Set(1)
	} else {
		connectionUp.Set(0)
	}
}

// SetLeader records whether this instance holds the session lease.
func SetLeader(leader bool) {
	if leader {
		isLeader.Set(1)
	} else {
		isLeader.Set(0)
	}
}

// SetReconnectAttempt records the current backoff attempt counter.
func SetReconnectAttempt(attempt uint) {
	reconnectAttempt.Set(float64(attempt))
}

// RecordReconnect counts one scheduled reconnect attempt.
func RecordReconnect() {
	reconnects.Inc()
}

// RecordAuthRejection counts one terminal authorization rejection.
func RecordAuthRejection() {
	authRejections.Inc()
}

// RecordHeartbeatFailure counts one heartbeat-forced close.
func RecordHeartbeatFailure() {
	heartbeatFailures.Inc()
}

// RecordFrame counts one inbound frame by envelope type.
func RecordFrame(frameType string) {
	framesReceived.WithLabelValues(frameType).Inc()
}

// RecordMalformedFrame counts one dropped unparseable frame.
func RecordMalformedFrame() {
	malformedFrames.Inc()
}

// RecordDispatch records one completed fan-out.
func RecordDispatch(duration time.Duration) {
	dispatched.Inc()
	dispatchDuration.Observe(duration.Seconds())
}

// RecordCallbackPanic counts one recovered subscriber panic.
func RecordCallbackPanic() {
	callbackPanics.Inc()
}

// RecordStoreFlush records the outcome of one notification batch write.
func RecordStoreFlush(inserts, conflicts int, failed bool) {
	if failed {
		storeErrors.Inc()
		return
	}
	storeInserts.Add(float64(inserts))
	storeConflicts.Add(float64(conflicts))
}
