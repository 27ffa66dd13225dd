// Package metrics exposes Prometheus instrumentation for a server process:
// datum store occupancy, work and request queue depth, and the closed-data
// cache hit rate.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Datum store metrics
	DatumsLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adlb_datums_live",
			Help: "Number of datums currently held by this server's store",
		},
	)

	DatumsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adlb_datums_created_total",
			Help: "Total number of datums created on this server",
		},
	)

	DatumsCollected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adlb_datums_garbage_collected_total",
			Help: "Total number of datums garbage collected on this server",
		},
	)

	StoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adlb_store_errors_total",
			Help: "Total number of store operations that returned a non-success code",
		},
		[]string{"code"},
	)

	// Dependency engine metrics
	PendingTasksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adlb_pending_tasks",
			Help: "Number of tasks currently blocked in the dependency engine",
		},
	)

	TasksReadyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adlb_tasks_ready_total",
			Help: "Total number of tasks that transitioned to ready",
		},
	)

	// Work/request queue metrics
	WorkQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "adlb_work_queue_depth",
			Help: "Number of work units currently queued, by lane group",
		},
		[]string{"work_type"},
	)

	RequestQueueBlocked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adlb_requests_blocked",
			Help: "Number of workers currently blocked on a get request",
		},
	)

	WorkMatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adlb_work_matched_total",
			Help: "Total number of work units matched to a request, by strictness",
		},
		[]string{"strictness"},
	)

	// Closed-data cache metrics
	ClosedCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adlb_closed_cache_hits_total",
			Help: "Total subscribe calls short-circuited by the closed-data cache",
		},
		[]string{"cache"},
	)

	ClosedCacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adlb_closed_cache_misses_total",
			Help: "Total subscribe calls that missed the closed-data cache",
		},
		[]string{"cache"},
	)

	// Sync protocol metrics
	SyncRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adlb_sync_request_duration_seconds",
			Help:    "Latency of a cross-server sync round trip",
			Buckets: prometheus.DefBuckets,
		},
	)

	SyncRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adlb_sync_requests_total",
			Help: "Total cross-server sync requests sent, by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		DatumsLive,
		DatumsCreated,
		DatumsCollected,
		StoreErrorsTotal,
		PendingTasksTotal,
		TasksReadyTotal,
		WorkQueueDepth,
		RequestQueueBlocked,
		WorkMatchedTotal,
		ClosedCacheHits,
		ClosedCacheMisses,
		SyncRequestDuration,
		SyncRequestsTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
