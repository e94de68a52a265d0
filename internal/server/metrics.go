package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmanager_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskmanager_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	protectedDeletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmanager_protected_deletions_total",
			Help: "Deletions refused because the object is still referenced",
		},
		[]string{"entity"},
	)

	loginAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmanager_login_attempts_total",
			Help: "Login attempts by result",
		},
		[]string{"result"},
	)

	rateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmanager_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"route"},
	)

	rateLimitErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskmanager_rate_limit_errors_total",
			Help: "Rate limiter backend failures; requests are let through",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		protectedDeletionsTotal,
		loginAttemptsTotal,
		rateLimitHitsTotal,
		rateLimitErrorsTotal,
	)
}

// instrument records request counts and latency per matched route.
func (s *Server) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
