package http_handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filedrop_http_requests_total",
			Help: "HTTP requests by route and status.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filedrop_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	eventStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "filedrop_event_streams",
		Help: "Open live event streams.",
	})

	downloadCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedrop_download_cache_hits_total",
		Help: "Downloads served from the decoded payload cache.",
	})

	downloadCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedrop_download_cache_misses_total",
		Help: "Downloads that had to decode the payload.",
	})
)

// metricsMiddleware records request count and latency. The route pattern
// is used as the path label so ids do not blow up cardinality.
func metricsMiddleware(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	status := c.Response().StatusCode()
	if err != nil {
		status = fiber.StatusInternalServerError
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
		}
	}

	path := c.Route().Path
	httpRequestsTotal.WithLabelValues(c.Method(), path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(c.Method(), path).Observe(time.Since(start).Seconds())
	return err
}
