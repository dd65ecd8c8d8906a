package api

import (
	"encoding/json"
	"net/http"

	"github.com/pipewatch-io/pipewatch/internal/api/middleware"
)

// handleInvalidateNode handles POST /dag/{id}?action=invalidate.
// Deletes every cached payload whose key embeds the node id, across both the
// dag and errors key families, and reports how many entries went away.
func (s *Server) handleInvalidateNode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	nodeID := r.PathValue("id")
	if nodeID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("node id is required"))

		return
	}

	action := r.URL.Query().Get("action")
	if action != "invalidate" {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid parameter 'action': must be 'invalidate'"))

		return
	}

	removed := s.cache.DeleteMatching(func(key string) bool {
		return keyMatchesNode(key, nodeID)
	})

	if s.metrics != nil {
		s.metrics.CacheEvictions.Add(float64(removed))
	}

	s.logger.InfoContext(ctx, "Invalidated cached payloads for node",
		"correlation_id", correlationID,
		"node_id", nodeID,
		"removed", removed,
	)

	response := InvalidateResponse{
		Success:          true,
		NodeID:           nodeID,
		InvalidatedCount: removed,
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
