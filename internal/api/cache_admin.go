package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pipewatch-io/pipewatch/internal/api/middleware"
	"github.com/pipewatch-io/pipewatch/internal/cache"
)

// Cache-admin actions accepted by POST /cache/clear.
const (
	actionClearAll   = "clear-all"
	actionClearLayer = "clear-layer"
)

// handleCacheStats handles GET /cache/stats.
// Reports the live entry population, lifetime hit/miss/eviction counters,
// and the layer TTLs. A layer query parameter additionally dumps that
// layer's entries with their expiry bookkeeping.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	layer := r.URL.Query().Get("layer")
	if layer != "" {
		if _, err := cache.DefaultTTL(layer); err != nil {
			WriteErrorResponse(w, r, s.logger, BadRequest("Invalid parameter 'layer': must be one of hot, warm, cold"))

			return
		}
	}

	contents := CacheContents{
		TotalEntries: s.cache.Len(),
		Layers:       s.cache.LayerCounts(),
	}

	if layer != "" {
		contents.Entries = s.cache.DebugInfo(layer)
	}

	response := CacheStatsResponse{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Cache:       contents,
		Performance: s.cache.Aggregate(),
		TTL: map[string]float64{
			cache.LayerHot:  cache.HotTTL.Seconds(),
			cache.LayerWarm: cache.WarmTTL.Seconds(),
			cache.LayerCold: cache.ColdTTL.Seconds(),
		},
	}

	data, err := json.Marshal(response)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to marshal cache stats",
			"correlation_id", correlationID,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleCacheClear handles POST /cache/clear.
// clear-all empties every layer and resets the memoized artifacts so the
// next request reloads from disk; clear-layer empties one layer.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	req, problem := s.parseCacheClearRequest(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	var cleared int

	switch req.Action {
	case actionClearAll:
		cleared = s.cache.Clear()

		// The admin asked for a cold start: drop the memoized bundle and
		// catalog too, so the next request re-reads the artifact files.
		s.store.ClearAll()

		if s.metrics != nil {
			s.metrics.ArtifactReloads.Inc()
		}
	case actionClearLayer:
		count, err := s.cache.InvalidateLayer(req.Layer)
		if err != nil {
			WriteErrorResponse(w, r, s.logger, BadRequest("Invalid parameter 'layer': must be one of hot, warm, cold"))

			return
		}

		cleared = count
	default:
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid parameter 'action': must be 'clear-all' or 'clear-layer'"))

		return
	}

	s.logger.InfoContext(ctx, "Cache cleared",
		"correlation_id", correlationID,
		"action", req.Action,
		"layer", req.Layer,
		"cleared", cleared,
	)

	response := CacheClearResponse{
		Success:           true,
		Action:            req.Action,
		Layer:             req.Layer,
		TotalItemsCleared: cleared,
		ClearedAt:         time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.Marshal(response)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// parseCacheClearRequest parses and validates the HTTP request body for cache clearing.
// Returns the parsed request or an ErrorResponse if validation fails.
//
// Validates:
//   - Request size (optimization for known oversized requests)
//   - Empty body check (better UX than JSON decode error)
//   - JSON parsing
func (s *Server) parseCacheClearRequest(r *http.Request) (*CacheClearRequest, *ErrorResponse) {
	// Request size check (optimization: fail fast for known oversized requests)
	// Allow unknown sizes (-1) or 0 (empty, caught later)
	if r.ContentLength > 0 && r.ContentLength > s.config.MaxRequestSize {
		return nil, PayloadTooLarge(
			fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize),
		)
	}

	// Empty body check (better UX: specific error message)
	if r.ContentLength == 0 {
		return nil, BadRequest("Request body cannot be empty")
	}

	// Parse JSON (with size limit - ultimate protection)
	var req CacheClearRequest

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(&req); err != nil {
		return nil, BadRequest("Invalid JSON in request body")
	}

	return &req, nil
}
