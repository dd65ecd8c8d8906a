package api

import (
	"encoding/json"
	"net/http"

	"github.com/pipewatch-io/pipewatch/internal/api/middleware"
)

// handleGetSnapshots handles GET /snapshots.
// Enumerates the labelled artifact captures available for comparison
// selection, in index order, with their summary metadata when present.
func (s *Server) handleGetSnapshots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	labels, err := s.store.SnapshotLabels()
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to enumerate snapshots",
			"correlation_id", correlationID,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to enumerate snapshots"))

		return
	}

	snapshots := make([]SnapshotInfo, 0, len(labels))

	for _, label := range labels {
		info := SnapshotInfo{Label: label}

		if summary := s.store.SnapshotSummaryFor(label); summary != nil {
			info.GeneratedAt = summary.GeneratedAt
			info.Description = summary.Description
			info.NodeCount = summary.NodeCount
			info.SourceCount = summary.SourceCount
		}

		snapshots = append(snapshots, info)
	}

	response := SnapshotListResponse{
		Snapshots: snapshots,
		Total:     len(snapshots),
	}

	data, err := json.Marshal(response)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to marshal snapshot list",
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
