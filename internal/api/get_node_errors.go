package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pipewatch-io/pipewatch/internal/api/middleware"
	"github.com/pipewatch-io/pipewatch/internal/cache"
	"github.com/pipewatch-io/pipewatch/internal/quality"
)

// handleGetNodeErrors handles GET /errors/{id}.
// Returns the test report for the node: declared dbt tests plus the three
// synthetic broad-check tests.
//
// Query Parameters:
//   - testType: freshness | volume | quality | other (default: all types)
//   - statusFilter: pass | fail | unknown (default: all statuses)
//   - fresh: "true" bypasses the cache lookup (the result is still stored)
//   - same comparison parameters as the lineage endpoint
//
// Response: ErrorsResponse envelope with X-Cache and X-Compute-Time-Ms headers.
func (s *Server) handleGetNodeErrors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	nodeID := r.PathValue("id")
	if nodeID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("node id is required"))

		return
	}

	filter, err := parseErrorsFilter(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	params := comparisonParams(r)
	fresh := r.URL.Query().Get("fresh") == "true"
	key := errorsCacheKey(nodeID, filter, params)

	if !fresh {
		if raw, ok := s.cache.Get(key); ok {
			s.observeCacheLookup(true)
			writeErrorsResponse(w, raw, true, 0)

			return
		}
	}

	s.observeCacheLookup(false)

	start := time.Now()

	cmp, err := s.resolver.Resolve(ctx, params)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to resolve comparison artifacts",
			"correlation_id", correlationID,
			"node_id", nodeID,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, fromDomainError(err, "Failed to resolve comparison artifacts"))

		return
	}

	s.store.ValidateIfChanged(cmp.Current.Bundle)

	if _, ok := cmp.Current.Bundle.Node(nodeID); !ok {
		WriteErrorResponse(w, r, s.logger, NotFound("node not found: "+nodeID))

		return
	}

	report := s.aggregator.Report(nodeID, cmp, filter)

	elapsed := time.Since(start)

	data, err := json.Marshal(report)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to marshal test report",
			"correlation_id", correlationID,
			"node_id", nodeID,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	// A cancelled request skips the insertion; there is nothing to roll back.
	if ctx.Err() == nil {
		if err := s.cache.Set(key, data, cache.LayerHot, 0); err != nil {
			s.logger.Warn("Failed to cache test report",
				"correlation_id", correlationID,
				"key", key,
				"error", err.Error(),
			)
		}
	}

	writeErrorsResponse(w, data, false, elapsed.Milliseconds())
}

// writeErrorsResponse wraps the stored report bytes in the response envelope.
func writeErrorsResponse(w http.ResponseWriter, report []byte, cached bool, computeTimeMs int64) {
	response := ErrorsResponse{
		Data:          report,
		Cached:        cached,
		ComputeTimeMs: computeTimeMs,
	}

	data, err := json.Marshal(response)
	if err != nil {
		// The payload is JSON we produced; re-wrapping it cannot fail in
		// practice, but the write path stays total.
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)

		return
	}

	setReadHeaders(w, cached, computeTimeMs, errorsMaxAge)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// parseErrorsFilter parses and validates the test filter parameters.
func parseErrorsFilter(r *http.Request) (quality.Filter, error) {
	q := r.URL.Query()
	filter := quality.Filter{
		TestType: q.Get("testType"),
		Status:   q.Get("statusFilter"),
	}

	switch filter.TestType {
	case "", quality.TypeFreshness, quality.TypeVolume, quality.TypeQuality, quality.TypeOther:
	default:
		return quality.Filter{}, &paramError{
			param: "testType",
			msg:   "must be one of freshness, volume, quality, other",
		}
	}

	switch filter.Status {
	case "", quality.StatusPass, quality.StatusFail, quality.StatusUnknown:
	default:
		return quality.Filter{}, &paramError{
			param: "statusFilter",
			msg:   "must be one of pass, fail, unknown",
		}
	}

	return filter, nil
}
