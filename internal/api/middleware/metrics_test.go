package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// recordedRequest is one observation captured by the stub recorder.
type recordedRequest struct {
	method  string
	route   string
	status  string
	elapsed time.Duration
}

// stubRecorder captures ObserveRequest calls for assertions.
type stubRecorder struct {
	mu    sync.Mutex
	calls []recordedRequest
}

func (s *stubRecorder) ObserveRequest(method, route string, status string, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, recordedRequest{method: method, route: route, status: status, elapsed: elapsed})
}

func (s *stubRecorder) last(t *testing.T) recordedRequest {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.calls) == 0 {
		t.Fatal("expected at least one recorded request")
	}

	return s.calls[len(s.calls)-1]
}

// TestMetrics_RecordsMatchedPattern verifies that the route label is the
// matched mux pattern, not the raw URL path, so metric cardinality stays
// bounded by the route table.
func TestMetrics_RecordsMatchedPattern(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	recorder := &stubRecorder{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /dag/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := Metrics(recorder)(mux)

	req := httptest.NewRequest(http.MethodGet, "/dag/model.shop.orders", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	call := recorder.last(t)

	if call.method != http.MethodGet {
		t.Errorf("expected method GET, got %q", call.method)
	}

	if call.route != "GET /dag/{id}" {
		t.Errorf("expected route label %q, got %q", "GET /dag/{id}", call.route)
	}

	if call.status != "200" {
		t.Errorf("expected status label %q, got %q", "200", call.status)
	}
}

// TestMetrics_UnmatchedRouteLabel verifies the fallback label when the
// request never went through the mux and no pattern was matched.
func TestMetrics_UnmatchedRouteLabel(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	recorder := &stubRecorder{}

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	handler := Metrics(recorder)(next)

	req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	call := recorder.last(t)

	if call.route != "unmatched" {
		t.Errorf("expected route label %q, got %q", "unmatched", call.route)
	}

	if call.status != "404" {
		t.Errorf("expected status label %q, got %q", "404", call.status)
	}
}

// TestMetrics_DefaultsToStatus200 verifies that handlers which never call
// WriteHeader are recorded as 200.
func TestMetrics_DefaultsToStatus200(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	recorder := &stubRecorder{}

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("implicit 200"))
	})

	handler := Metrics(recorder)(next)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if call := recorder.last(t); call.status != "200" {
		t.Errorf("expected status label %q, got %q", "200", call.status)
	}
}
