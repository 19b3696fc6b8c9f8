package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	commandsObserved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "viewsync",
			Subsystem: "queue",
			Name:      "commands_observed_total",
			Help:      "Commands ingested with a new id.",
		},
		[]string{"method"},
	)
	commandsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "viewsync",
			Subsystem: "queue",
			Name:      "commands_dispatched_total",
			Help:      "Dispatch attempts by outcome.",
		},
		[]string{"method", "outcome"},
	)
	commandsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "viewsync",
			Subsystem: "queue",
			Name:      "commands_dropped_total",
			Help:      "Commands ignored at ingestion.",
		},
		[]string{"reason"},
	)
	queuePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "viewsync",
			Subsystem: "queue",
			Name:      "pending",
			Help:      "Commands buffered until the view is ready.",
		},
	)
	queueCursor = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "viewsync",
			Subsystem: "queue",
			Name:      "cursor",
			Help:      "Command cursor positions (observed, applied).",
		},
		[]string{"name"},
	)
	restoreEntities = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "viewsync",
			Subsystem: "restore",
			Name:      "entities_total",
			Help:      "Entities recreated, skipped or failed during restoration.",
		},
		[]string{"entity", "outcome"},
	)
	restoreDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "viewsync",
			Subsystem: "restore",
			Name:      "duration_seconds",
			Help:      "Time from view creation to ready.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	eventsAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "viewsync",
			Subsystem: "events",
			Name:      "appended_total",
			Help:      "Outbound events appended to the log.",
		},
		[]string{"type"},
	)
	viewLifecycle = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "viewsync",
			Subsystem: "view",
			Name:      "lifecycle_total",
			Help:      "View mounts and unmounts.",
		},
		[]string{"phase", "success"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "viewsync",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "viewsync",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	peersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "viewsync",
			Subsystem: "transport",
			Name:      "peers",
			Help:      "Connected WebSocket peers.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			commandsObserved, commandsDispatched, commandsDropped,
			queuePending, queueCursor,
			restoreEntities, restoreDuration,
			eventsAppended, viewLifecycle,
			httpRequests, httpDuration,
			peersConnected,
		)
	})
}

func RecordObserved(method string) {
	RegisterMetrics()
	commandsObserved.WithLabelValues(method).Inc()
}

func RecordDispatch(method, outcome string) {
	RegisterMetrics()
	commandsDispatched.WithLabelValues(method, outcome).Inc()
}

func RecordDropped(reason string) {
	RegisterMetrics()
	commandsDropped.WithLabelValues(reason).Inc()
}

func SetPending(n int) {
	RegisterMetrics()
	queuePending.Set(float64(n))
}

func SetCursors(observed, applied int64) {
	RegisterMetrics()
	queueCursor.WithLabelValues("observed").Set(float64(observed))
	queueCursor.WithLabelValues("applied").Set(float64(applied))
}

func RecordRestoreEntity(entity, outcome string) {
	RegisterMetrics()
	restoreEntities.WithLabelValues(entity, outcome).Inc()
}

func RecordRestoreDuration(d time.Duration) {
	RegisterMetrics()
	restoreDuration.Observe(d.Seconds())
}

func RecordEvent(eventType string) {
	RegisterMetrics()
	eventsAppended.WithLabelValues(eventType).Inc()
}

func RecordViewLifecycle(phase string, success bool) {
	RegisterMetrics()
	viewLifecycle.WithLabelValues(phase, strconv.FormatBool(success)).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func PeerConnected() {
	RegisterMetrics()
	peersConnected.Inc()
}

func PeerDisconnected() {
	RegisterMetrics()
	peersConnected.Dec()
}
