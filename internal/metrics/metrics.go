// Package metrics exposes Prometheus metrics for the service: HTTP traffic,
// authentication outcomes, cache effectiveness, and rate limiting.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskvault",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taskvault",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks current in-flight requests
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taskvault",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

var (
	// LoginAttempts counts authentication attempts by outcome
	// (success, invalid_credentials, locked, inactive)
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskvault",
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Total number of login attempts by outcome",
		},
		[]string{"outcome"},
	)

	// LockoutsEngaged counts accounts entering the locked state
	LockoutsEngaged = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskvault",
			Subsystem: "auth",
			Name:      "lockouts_engaged_total",
			Help:      "Total number of account lockouts engaged",
		},
	)

	// TokensRevoked counts explicit token revocations by trigger
	// (logout, refresh, password_change)
	TokensRevoked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskvault",
			Subsystem: "auth",
			Name:      "tokens_revoked_total",
			Help:      "Total number of session tokens revoked by trigger",
		},
		[]string{"trigger"},
	)
)

var (
	// CacheHits counts cache reads served from the store
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskvault",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits",
		},
	)

	// CacheMisses counts cache reads that fell through to the database
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskvault",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses",
		},
	)

	// CacheErrors counts failed cache commands absorbed by the fail-open path
	CacheErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskvault",
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Total number of cache command failures absorbed",
		},
	)

	// CacheInvalidations counts invalidated entries by key family
	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskvault",
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Total number of cache invalidations by key family",
		},
		[]string{"family"},
	)
)

var (
	// RateLimitRejections counts rejected requests by operation class
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskvault",
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Total number of rate-limited requests by operation class",
		},
		[]string{"class"},
	)

	// RateLimitFailOpen counts requests allowed because the counter store was down
	RateLimitFailOpen = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskvault",
			Subsystem: "ratelimit",
			Name:      "fail_open_total",
			Help:      "Total number of requests allowed because the rate-limit store was unreachable",
		},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns a chi middleware that records HTTP metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		path := getRoutePattern(r)

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// getRoutePattern returns the route pattern from chi context,
// falling back to the URL path if no pattern is available
func getRoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
