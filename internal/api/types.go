package api

import (
	"encoding/json"

	"github.com/pipewatch-io/pipewatch/internal/cache"
	"github.com/pipewatch-io/pipewatch/internal/compare"
)

type (
	// LineageResponse is the envelope for GET /dag/{id}. Data is the computed
	// lineage view, kept as raw JSON so cached responses replay byte-identical
	// payloads instead of re-marshalled ones.
	LineageResponse struct {
		Data          json.RawMessage  `json:"data"`
		Cached        bool             `json:"cached"`
		ComputeTimeMs int64            `json:"computeTimeMs"`
		NodeID        string           `json:"nodeId"`
		Metadata      ResponseMetadata `json:"metadata"`
	}

	// ResponseMetadata identifies the artifacts a lineage response was
	// computed from.
	ResponseMetadata struct {
		ManifestVersion string              `json:"manifestVersion"`
		GeneratedAt     string              `json:"generatedAt"`
		CatalogVersion  string              `json:"catalogVersion"`
		Comparison      compare.Description `json:"comparison"`
	}

	// lineagePayload is what actually lives in the cache for a dag key: the
	// view plus the envelope fields that must replay with it.
	lineagePayload struct {
		Data     json.RawMessage  `json:"data"`
		NodeID   string           `json:"nodeId"`
		Metadata ResponseMetadata `json:"metadata"`
	}

	// ErrorsResponse is the envelope for GET /errors/{id}.
	ErrorsResponse struct {
		Data          json.RawMessage `json:"data"`
		Cached        bool            `json:"cached"`
		ComputeTimeMs int64           `json:"computeTimeMs"`
	}

	// InvalidateResponse is the body for POST /dag/{id}?action=invalidate.
	InvalidateResponse struct {
		Success          bool   `json:"success"`
		NodeID           string `json:"nodeId"`
		InvalidatedCount int    `json:"invalidatedCount"`
	}

	// CacheStatsResponse is the body for GET /cache/stats.
	CacheStatsResponse struct {
		Timestamp   string               `json:"timestamp"`
		Cache       CacheContents        `json:"cache"`
		Performance cache.AggregateStats `json:"performance"`
		TTL         map[string]float64   `json:"ttl"`
	}

	// CacheContents describes the live entry population, optionally narrowed
	// to one layer's entries.
	CacheContents struct {
		TotalEntries int               `json:"totalEntries"`
		Layers       map[string]int    `json:"layers"`
		Entries      []cache.EntryInfo `json:"entries,omitempty"`
	}

	// CacheClearRequest is the body for POST /cache/clear.
	CacheClearRequest struct {
		Action string `json:"action"`
		Layer  string `json:"layer,omitempty"`
	}

	// CacheClearResponse is the body for POST /cache/clear.
	CacheClearResponse struct {
		Success           bool   `json:"success"`
		Action            string `json:"action"`
		Layer             string `json:"layer,omitempty"`
		TotalItemsCleared int    `json:"totalItemsCleared"`
		ClearedAt         string `json:"clearedAt"`
	}

	// SnapshotListResponse is the body for GET /snapshots.
	SnapshotListResponse struct {
		Snapshots []SnapshotInfo `json:"snapshots"`
		Total     int            `json:"total"`
	}

	// SnapshotInfo is one labelled artifact capture in the listing. Summary
	// fields are zero-valued when the capture has no summary sidecar.
	SnapshotInfo struct {
		Label       string `json:"label"`
		GeneratedAt string `json:"generated_at,omitempty"`
		Description string `json:"description,omitempty"`
		NodeCount   int    `json:"node_count,omitempty"`
		SourceCount int    `json:"source_count,omitempty"`
	}

	// HealthStatus represents the health check response.
	HealthStatus struct {
		Status    string            `json:"status"`
		Service   string            `json:"service"`
		Version   string            `json:"version"`
		Timestamp string            `json:"timestamp"`
		Uptime    string            `json:"uptime"`
		Checks    map[string]string `json:"checks,omitempty"`
	}
)
