package middleware

import (
	"net/http"
	"strconv"
	"time"
)

// MetricsRecorder receives one observation per served request. The concrete
// implementation lives in internal/observability; the interface keeps this
// package free of a Prometheus dependency.
type MetricsRecorder interface {
	ObserveRequest(method, route string, status string, elapsed time.Duration)
}

// Metrics creates a middleware that records request counts and latencies.
//
// The route label is the matched mux pattern (e.g. "GET /dag/{id}") rather
// than the raw URL path, keeping the metric cardinality bounded by the route
// table instead of by node ids.
func Metrics(recorder MetricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}

			recorder.ObserveRequest(r.Method, route, strconv.Itoa(rw.statusCode), time.Since(start))
		})
	}
}
