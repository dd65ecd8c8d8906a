package artifact

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLastUpdatedPriorityChain(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	sourceTime := now.Add(-1 * time.Hour)
	catalogTime := now.Add(-2 * time.Hour)
	metaTime := now.Add(-3 * time.Hour)

	node := &Node{
		UniqueID: "source.proj.raw.orders",
		Meta:     map[string]any{"last_updated_at": metaTime.Format(time.RFC3339)},
	}
	entry := &CatalogEntry{
		Stats: map[string]any{"max_loaded_at": catalogTime.Format(time.RFC3339)},
	}
	sources := FreshnessMap{
		node.UniqueID: {UniqueID: node.UniqueID, MaxLoadedAt: sourceTime},
	}

	t.Run("sources artifact wins", func(t *testing.T) {
		got, tag, ok := ResolveLastUpdated(node, entry, sources, now)
		require.True(t, ok)
		assert.Equal(t, FreshnessFromSources, tag)
		assert.True(t, sourceTime.Equal(got))
	})

	t.Run("catalog stats next", func(t *testing.T) {
		got, tag, ok := ResolveLastUpdated(node, entry, nil, now)
		require.True(t, ok)
		assert.Equal(t, FreshnessFromCatalog, tag)
		assert.True(t, catalogTime.Equal(got))
	})

	t.Run("manifest meta next", func(t *testing.T) {
		got, tag, ok := ResolveLastUpdated(node, nil, nil, now)
		require.True(t, ok)
		assert.Equal(t, FreshnessFromManifest, tag)
		assert.True(t, metaTime.Equal(got))
	})

	t.Run("unknown when nothing available", func(t *testing.T) {
		bare := &Node{UniqueID: "model.proj.bare"}

		_, tag, ok := ResolveLastUpdated(bare, nil, nil, now)
		assert.False(t, ok)
		assert.Equal(t, FreshnessUnknown, tag)
	})
}

func TestResolveLastUpdatedCatalogMetadataFallback(t *testing.T) {
	now := time.Now().UTC()
	entry := &CatalogEntry{
		Metadata: EntryMetadata{UpdatedAt: "2025-06-01T08:00:00Z"},
		Stats:    map[string]any{},
	}

	got, tag, ok := ResolveLastUpdated(&Node{UniqueID: "model.proj.x"}, entry, nil, now)
	require.True(t, ok)
	assert.Equal(t, FreshnessFromCatalog, tag)
	assert.Equal(t, 2025, got.Year())
}

func TestLegacyCreatedAtGuardrails(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	secondsAgo := func(v float64) *float64 { return &v }

	tests := []struct {
		name string
		v    *float64
		ok   bool
	}{
		{"nil", nil, false},
		{"zero", secondsAgo(0), false},
		{"negative", secondsAgo(-60), false},
		{"one hour ago", secondsAgo(3600), true},
		{"just under ceiling", secondsAgo(legacyCreatedAtCeiling - 1), true},
		{"at ceiling", secondsAgo(legacyCreatedAtCeiling), false},
		{"epoch timestamp", secondsAgo(1749556800), false}, // 2025 as unix epoch, way past 50 years of seconds
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := &Node{CreatedAt: tt.v}

			got, ok := LegacyCreatedAt(node, now)
			assert.Equal(t, tt.ok, ok)

			if tt.ok {
				assert.True(t, got.Before(now))
			}
		})
	}

	t.Run("one hour ago resolves through the chain", func(t *testing.T) {
		node := &Node{UniqueID: "model.proj.legacy", CreatedAt: secondsAgo(3600)}

		got, tag, ok := ResolveLastUpdated(node, nil, nil, now)
		require.True(t, ok)
		assert.Equal(t, FreshnessFromCreatedAt, tag)
		assert.True(t, now.Add(-time.Hour).Equal(got))
	})
}

func TestFreshnessMapLastLoaded(t *testing.T) {
	loaded := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	snapped := loaded.Add(30 * time.Minute)

	fm := FreshnessMap{
		"source.a": {MaxLoadedAt: loaded, SnapshottedAt: snapped},
		"source.b": {SnapshottedAt: snapped},
		"source.c": {},
	}

	got, ok := fm.LastLoaded("source.a")
	require.True(t, ok)
	assert.True(t, loaded.Equal(got))

	got, ok = fm.LastLoaded("source.b")
	require.True(t, ok)
	assert.True(t, snapped.Equal(got))

	_, ok = fm.LastLoaded("source.c")
	assert.False(t, ok)

	_, ok = fm.LastLoaded("source.missing")
	assert.False(t, ok)
}
