package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status", "route", "mode"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "mode"},
	)

	upstreamCalls = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_upstream_call_seconds",
			Help:    "Latency of upstream Assistants API calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"op", "outcome"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assistant_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	relayTTFT = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_ttft_seconds",
			Help:    "Time To First Token latency in seconds",
			Buckets: []float64{0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
		},
	)

	relayEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Normalized events written to SSE clients",
		},
		[]string{"type"},
	)

	pollAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poller_attempts",
			Help:    "Run status polls per buffered completion",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
		[]string{"outcome"},
	)
)

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		// Set by the handlers once they know which path they took
		mode := "unknown"
		if val, exists := c.Get("mode"); exists {
			if m, ok := val.(string); ok {
				mode = m
			}
		}

		httpRequestsTotal.WithLabelValues(method, status, route, mode).Inc()
		httpRequestDuration.WithLabelValues(route, mode).Observe(duration)
	}
}

// RecordUpstreamCall records the latency and outcome of one upstream call
func RecordUpstreamCall(op, outcome string, durationSeconds float64) {
	upstreamCalls.WithLabelValues(op, outcome).Observe(durationSeconds)
}

// RecordBreakerState publishes the current circuit breaker state
func RecordBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

// RecordTTFT records the Time To First Token of a relayed stream
func RecordTTFT(durationSeconds float64) {
	relayTTFT.Observe(durationSeconds)
}

// RecordRelayEvent counts one normalized event sent downstream
func RecordRelayEvent(eventType string) {
	relayEvents.WithLabelValues(eventType).Inc()
}

// RecordPollAttempts records how many status polls a completion needed
func RecordPollAttempts(outcome string, attempts int) {
	pollAttempts.WithLabelValues(outcome).Observe(float64(attempts))
}
