package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pipewatch-io/pipewatch/internal/api/middleware"
	"github.com/pipewatch-io/pipewatch/internal/cache"
	"github.com/pipewatch-io/pipewatch/internal/compare"
	"github.com/pipewatch-io/pipewatch/internal/lineage"
)

// Cache-Control max-age values, in seconds. Lineage views change only when
// artifacts change; test reports carry fresher signals.
const (
	lineageMaxAge = 1800
	errorsMaxAge  = 300
)

type (
	// lineageParams holds parsed query parameters for the lineage endpoint.
	lineageParams struct {
		maxDepth int
		fresh    bool
		compare  compare.Params
	}

	// paramError represents a parameter validation error.
	paramError struct {
		param string
		msg   string
	}
)

func (e *paramError) Error() string {
	return "Invalid parameter '" + e.param + "': " + e.msg
}

// handleGetLineage handles GET /dag/{id}.
// Computes (or replays from cache) the lineage view rooted at the node.
//
// Query Parameters:
//   - maxDepth: traversal bound, clamped to [0, 100] (default: 10)
//   - fresh: "true" bypasses the cache lookup (the result is still stored)
//   - currentSnapshot: snapshot label to serve as the current side
//   - previousSnapshot: snapshot label to serve as the baseline
//   - previousManifestPath / previousCatalogPath: explicit baseline files
//
// Response: LineageResponse envelope with X-Cache and X-Compute-Time-Ms headers.
func (s *Server) handleGetLineage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	nodeID := r.PathValue("id")
	if nodeID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("node id is required"))

		return
	}

	params, err := parseLineageParams(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	key := dagCacheKey(nodeID, params.maxDepth, params.compare)

	if !params.fresh {
		if raw, ok := s.cache.Get(key); ok {
			s.observeCacheLookup(true)
			s.writeLineageResponse(w, r, raw, true, 0)

			return
		}
	}

	s.observeCacheLookup(false)

	start := time.Now()

	cmp, err := s.resolver.Resolve(ctx, params.compare)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to resolve comparison artifacts",
			"correlation_id", correlationID,
			"node_id", nodeID,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, fromDomainError(err, "Failed to resolve comparison artifacts"))

		return
	}

	// Structural validation is advisory and runs only when the artifact
	// signature changed since the last pass.
	s.store.ValidateIfChanged(cmp.Current.Bundle)

	view, err := s.engine.ComputeDAG(ctx, cmp, nodeID, params.maxDepth)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to compute lineage view",
			"correlation_id", correlationID,
			"node_id", nodeID,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, fromDomainError(err, "Failed to compute lineage"))

		return
	}

	elapsed := time.Since(start)
	s.observeLineageCompute(elapsed)

	data, err := json.Marshal(view)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to marshal lineage view",
			"correlation_id", correlationID,
			"node_id", nodeID,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	payload, err := json.Marshal(lineagePayload{
		Data:     data,
		NodeID:   nodeID,
		Metadata: s.responseMetadata(cmp),
	})
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	// A cancelled request skips the insertion; there is nothing to roll back.
	if ctx.Err() == nil {
		if err := s.cache.Set(key, payload, cache.LayerWarm, 0); err != nil {
			s.logger.Warn("Failed to cache lineage payload",
				"correlation_id", correlationID,
				"key", key,
				"error", err.Error(),
			)
		}
	}

	s.writeLineageResponse(w, r, payload, false, elapsed.Milliseconds())
}

// writeLineageResponse wraps a cached-or-fresh payload in the response
// envelope. Both paths route through the same stored bytes, so a replayed
// response is byte-identical to the one that populated the cache.
func (s *Server) writeLineageResponse(
	w http.ResponseWriter,
	r *http.Request,
	payload []byte,
	cached bool,
	computeTimeMs int64,
) {
	var stored lineagePayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		s.logger.ErrorContext(r.Context(), "Failed to decode stored lineage payload",
			"correlation_id", middleware.GetCorrelationID(r.Context()),
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to decode cached response"))

		return
	}

	response := LineageResponse{
		Data:          stored.Data,
		Cached:        cached,
		ComputeTimeMs: computeTimeMs,
		NodeID:        stored.NodeID,
		Metadata:      stored.Metadata,
	}

	data, err := json.Marshal(response)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	setReadHeaders(w, cached, computeTimeMs, lineageMaxAge)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// setReadHeaders sets the shared response headers for successful reads.
func setReadHeaders(w http.ResponseWriter, cached bool, computeTimeMs int64, maxAge int) {
	cacheState := "MISS"
	if cached {
		cacheState = "HIT"
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", cacheState)
	w.Header().Set("X-Compute-Time-Ms", strconv.FormatInt(computeTimeMs, 10))
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(maxAge))
}

// parseLineageParams parses and validates query parameters.
func parseLineageParams(r *http.Request) (*lineageParams, error) {
	q := r.URL.Query()

	params := &lineageParams{
		maxDepth: lineage.DefaultDepth,
		fresh:    q.Get("fresh") == "true",
		compare:  comparisonParams(r),
	}

	if depthStr := q.Get("maxDepth"); depthStr != "" {
		depth, err := strconv.Atoi(depthStr)
		if err != nil {
			return nil, &paramError{param: "maxDepth", msg: "must be a valid integer"}
		}

		params.maxDepth = lineage.ClampDepth(depth)
	}

	return params, nil
}

// comparisonParams extracts the comparison-selection query parameters shared
// by the lineage and errors endpoints.
func comparisonParams(r *http.Request) compare.Params {
	q := r.URL.Query()

	return compare.Params{
		CurrentSnapshot:      q.Get("currentSnapshot"),
		PreviousSnapshot:     q.Get("previousSnapshot"),
		PreviousManifestPath: q.Get("previousManifestPath"),
		PreviousCatalogPath:  q.Get("previousCatalogPath"),
	}
}

// responseMetadata assembles the artifact-identification block of a response.
func (s *Server) responseMetadata(cmp *compare.Comparison) ResponseMetadata {
	md := ResponseMetadata{Comparison: cmp.Describe()}

	if bundle := cmp.Current.Bundle; bundle != nil {
		md.ManifestVersion = bundle.DBTVersion()
		md.GeneratedAt = bundle.GeneratedAt()
	}

	if catalog := cmp.Current.Catalog; catalog != nil {
		md.CatalogVersion = catalog.Metadata.GeneratedAt
	}

	return md
}

// observeCacheLookup feeds the cache hit/miss counters when metrics are wired.
func (s *Server) observeCacheLookup(hit bool) {
	if s.metrics != nil {
		s.metrics.ObserveCacheLookup(hit)
	}
}

// observeLineageCompute feeds the compute-duration histogram when metrics are wired.
func (s *Server) observeLineageCompute(elapsed time.Duration) {
	if s.metrics != nil {
		s.metrics.LineageComputeDuration.Observe(elapsed.Seconds())
	}
}
