// Package obs carries the service's observability surface: the shared JSON
// logger, prometheus metrics and the HTTP instrumentation middleware.
package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	accessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "group_access_decisions_total",
			Help: "Access resolutions by operation and decision.",
		},
		[]string{"operation", "decision"},
	)

	cacheInvalidations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "group_cache_tag_invalidations_total",
		Help: "Invalidated group-content cache tags.",
	})

	orphanOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "group_orphan_outcomes_total",
			Help: "Orphan cleanup outcomes.",
		},
		[]string{"outcome"},
	)

	orphanQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "group_orphan_queue_depth",
		Help: "Pending orphan cleanup items.",
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "Whether the service reports ready (1) or not (0).",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		accessDecisions, cacheInvalidations, orphanOutcomes,
		orphanQueueDepth, ready,
	)
}

// Handler exposes the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CountAccessDecision records one access resolution.
func CountAccessDecision(operation, decision string) {
	accessDecisions.WithLabelValues(operation, decision).Inc()
}

// CountCacheInvalidations records invalidated tags.
func CountCacheInvalidations(n int) {
	cacheInvalidations.Add(float64(n))
}

// CountOrphanOutcome records one orphan cleanup outcome.
func CountOrphanOutcome(outcome string) {
	orphanOutcomes.WithLabelValues(outcome).Inc()
}

// SetOrphanQueueDepth publishes the current queue backlog.
func SetOrphanQueueDepth(n int) {
	orphanQueueDepth.Set(float64(n))
}

// SetReady publishes the readiness state.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
	} else {
		ready.Set(0)
	}
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses id segments so metric label cardinality stays
// bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	for _, prefix := range []string{"/v1/memberships/", "/v1/roles/", "/v1/entities/"} {
		if strings.HasPrefix(path, prefix) {
			return prefix + ":id"
		}
	}
	return path
}

// statusWriter captures the response code for labelling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
