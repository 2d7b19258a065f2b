package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Snapshot metrics
	snapshotBuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshot_builds_total",
			Help: "Total number of snapshot builds",
		},
		[]string{"kind", "outcome"},
	)

	snapshotBuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snapshot_build_duration_seconds",
			Help:    "Snapshot build duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind"},
	)

	snapshotCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshot_cache_requests_total",
			Help: "Total number of snapshot cache lookups",
		},
		[]string{"kind", "result"},
	)

	snapshotStaleServes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshot_stale_serves_total",
			Help: "Total number of requests answered from a stale snapshot",
		},
		[]string{"kind"},
	)

	// Database metrics
	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware. The path label uses the
// registered route template rather than the raw URL to keep cardinality
// bounded.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			httpRequestsInFlight.Inc()
			defer httpRequestsInFlight.Dec()

			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}

			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}

			httpRequestsTotal.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// --- Snapshot metric helpers ---

// RecordSnapshotBuild records a snapshot build attempt
func RecordSnapshotBuild(kind, outcome string, duration time.Duration) {
	snapshotBuildsTotal.WithLabelValues(kind, outcome).Inc()
	snapshotBuildDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordCacheRequest records a snapshot cache lookup
func RecordCacheRequest(kind, result string) {
	snapshotCacheRequests.WithLabelValues(kind, result).Inc()
}

// RecordStaleServe records a request answered from a stale snapshot
func RecordStaleServe(kind string) {
	snapshotStaleServes.WithLabelValues(kind).Inc()
}

// RecordDBConnections records active database connections
func RecordDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}
