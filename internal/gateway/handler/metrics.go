package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	skylinkRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skylink_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	skylinkRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skylink_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	skylinkTelemetryEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skylink_telemetry_events_total",
		Help: "Telemetry ingestion outcomes.",
	}, []string{"outcome"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		skylinkRequestsTotal.WithLabelValues(method, path, status).Inc()
		skylinkRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordTelemetryOutcome records one ingestion outcome.
func RecordTelemetryOutcome(outcome string) {
	skylinkTelemetryEventsTotal.WithLabelValues(outcome).Inc()
}
