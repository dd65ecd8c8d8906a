package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// corsConfigStub satisfies CORSConfig for tests without importing the api
// package.
type corsConfigStub struct {
	origins []string
	methods []string
	headers []string
	maxAge  int
}

func (c corsConfigStub) GetAllowedOrigins() []string { return c.origins }
func (c corsConfigStub) GetAllowedMethods() []string { return c.methods }
func (c corsConfigStub) GetAllowedHeaders() []string { return c.headers }
func (c corsConfigStub) GetMaxAge() int              { return c.maxAge }

// TestCORS_WildcardOrigin verifies that a wildcard configuration allows any
// origin without echoing the caller's Origin header.
func TestCORS_WildcardOrigin(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	config := corsConfigStub{
		origins: []string{"*"},
		methods: []string{"GET", "POST", "OPTIONS"},
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := CORS(config)(next)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if origin := rec.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected wildcard origin, got %q", origin)
	}

	if methods := rec.Header().Get("Access-Control-Allow-Methods"); methods != "GET, POST, OPTIONS" {
		t.Errorf("expected joined methods header, got %q", methods)
	}
}

// TestCORS_SpecificOriginEchoed verifies that an allow-listed origin is
// echoed back and an unlisted one gets no origin header at all.
func TestCORS_SpecificOriginEchoed(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	config := corsConfigStub{
		origins: []string{"https://dashboard.example.com", "https://admin.example.com"},
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := CORS(config)(next)

	// Allow-listed origin is echoed
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Origin", "https://admin.example.com")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if origin := rec.Header().Get("Access-Control-Allow-Origin"); origin != "https://admin.example.com" {
		t.Errorf("expected allow-listed origin to be echoed, got %q", origin)
	}

	// Unlisted origin gets nothing
	req2 := httptest.NewRequest(http.MethodGet, "/test", nil)
	req2.Header.Set("Origin", "https://evil.example.com")

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)

	if origin := rec2.Header().Get("Access-Control-Allow-Origin"); origin != "" {
		t.Errorf("expected no origin header for unlisted origin, got %q", origin)
	}
}

// TestCORS_PreflightShortCircuits verifies that OPTIONS requests are
// answered with 204 and never reach the wrapped handler.
func TestCORS_PreflightShortCircuits(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	config := corsConfigStub{
		origins: []string{"*"},
		methods: []string{"GET", "POST"},
		headers: []string{"Content-Type", "X-Correlation-ID"},
		maxAge:  3600,
	}

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		nextCalled = true

		w.WriteHeader(http.StatusOK)
	})

	handler := CORS(config)(next)

	req := httptest.NewRequest(http.MethodOptions, "/dag/model.shop.orders", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected status 204 for preflight, got %d", rec.Code)
	}

	if nextCalled {
		t.Error("expected preflight to short-circuit before the handler")
	}

	if headers := rec.Header().Get("Access-Control-Allow-Headers"); headers != "Content-Type, X-Correlation-ID" {
		t.Errorf("expected joined headers header, got %q", headers)
	}

	if maxAge := rec.Header().Get("Access-Control-Max-Age"); maxAge != "3600" {
		t.Errorf("expected max age 3600, got %q", maxAge)
	}
}

// TestCORS_NoHeadersWithoutConfig verifies that empty configuration emits
// no CORS headers.
func TestCORS_NoHeadersWithoutConfig(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := CORS(corsConfigStub{})(next)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	for _, header := range []string{
		"Access-Control-Allow-Origin",
		"Access-Control-Allow-Methods",
		"Access-Control-Allow-Headers",
		"Access-Control-Max-Age",
	} {
		if value := rec.Header().Get(header); value != "" {
			t.Errorf("expected %s to be unset, got %q", header, value)
		}
	}
}
