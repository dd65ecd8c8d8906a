package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipewatch-io/pipewatch/internal/artifact"
)

func TestGetSnapshotsListsCapturesInIndexOrder(t *testing.T) {
	tree := chainTree("2025-06-03T00:00:00Z")
	tree.Snapshots = []artifact.FixtureSnapshot{
		{Label: "batch-002", Manifest: artifact.FixtureChain("2025-06-02T00:00:00Z")},
		{Label: "batch-001", Manifest: artifact.FixtureChain("2025-06-01T00:00:00Z")},
	}

	server := newTestServer(t, tree)

	rr := doRequest(server, http.MethodGet, "/snapshots", nil)

	require.Equal(t, http.StatusOK, rr.Code, "Response: %s", rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp SnapshotListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	require.Equal(t, 2, resp.Total)
	require.Len(t, resp.Snapshots, 2)

	// index.json order wins over lexicographic order.
	assert.Equal(t, "batch-002", resp.Snapshots[0].Label)
	assert.Equal(t, "2025-06-02T00:00:00Z", resp.Snapshots[0].GeneratedAt)
	assert.Equal(t, "batch-001", resp.Snapshots[1].Label)
	assert.Equal(t, "2025-06-01T00:00:00Z", resp.Snapshots[1].GeneratedAt)
}

func TestGetSnapshotsEmptyWithoutCaptures(t *testing.T) {
	server := newTestServer(t, chainTree("2025-06-01T00:00:00Z"))

	rr := doRequest(server, http.MethodGet, "/snapshots", nil)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp SnapshotListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	assert.Zero(t, resp.Total)
	assert.Empty(t, resp.Snapshots)
}
