package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Imaging service control calls (session create/get, notifications, uploads).
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewer_upstream_requests_total",
			Help: "Calls made to the imaging service by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "viewer_upstream_request_duration_seconds",
			Help:    "Latency of imaging service calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ProxyRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewer_proxy_requests_total",
			Help: "Requests relayed through the pass-through proxy by route and status class",
		},
		[]string{"route", "status_class"},
	)

	BackgroundTasksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "viewer_background_tasks_in_flight",
			Help: "Source upload tasks currently queued or running",
		},
	)

	BackgroundTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewer_background_tasks_total",
			Help: "Finished source upload tasks by result (started, stopped, rejected)",
		},
		[]string{"result"},
	)

	StorageOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewer_storage_operations_total",
			Help: "Local resource store operations by family, operation and result",
		},
		[]string{"family", "operation", "result"},
	)

	ConfigReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewer_config_reloads_total",
			Help: "Configuration reload attempts by result",
		},
		[]string{"result"},
	)
)

// StatusClass renders an HTTP status as "2xx", "4xx" and so on.
func StatusClass(status int) string {
	if status < 100 || status > 999 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
