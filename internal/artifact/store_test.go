package artifact

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestStoreBundleLoadsAndMemoizes(t *testing.T) {
	root := WriteFixtureTree(t, FixtureTree{Manifest: FixtureChain("2025-06-01T00:00:00Z")})
	store := NewStore(root, testLogger())

	bundle, err := store.Bundle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, bundle)

	assert.Len(t, bundle.Nodes, 3)
	assert.Equal(t, "1.8.0:2025-06-01T00:00:00Z:3:0:0", bundle.Signature)

	// Second call returns the same memoized bundle.
	again, err := store.Bundle(context.Background())
	require.NoError(t, err)
	assert.Same(t, bundle, again)
}

func TestStoreBundleMissingManifest(t *testing.T) {
	store := NewStore(t.TempDir(), testLogger())

	_, err := store.Bundle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrArtifactMissing)
}

func TestStoreBundleMalformedManifest(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ManifestFileName), []byte("{not json"), 0o600))

	store := NewStore(root, testLogger())

	_, err := store.Bundle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrArtifactMalformed)
}

func TestStoreCatalogMissingIsNotAnError(t *testing.T) {
	root := WriteFixtureTree(t, FixtureTree{Manifest: FixtureChain("2025-06-01T00:00:00Z")})
	store := NewStore(root, testLogger())

	catalog, err := store.Catalog(context.Background())
	require.NoError(t, err)
	assert.Nil(t, catalog)

	// The absence is memoized; a second call stays nil without error.
	catalog, err = store.Catalog(context.Background())
	require.NoError(t, err)
	assert.Nil(t, catalog)
}

func TestStoreClearAllForcesReload(t *testing.T) {
	root := WriteFixtureTree(t, FixtureTree{Manifest: FixtureChain("2025-06-01T00:00:00Z")})
	store := NewStore(root, testLogger())

	first, err := store.Bundle(context.Background())
	require.NoError(t, err)

	// Rewrite the manifest with a new build instant, then reset.
	writeJSONFixture(t, filepath.Join(root, ManifestFileName), FixtureChain("2025-06-02T00:00:00Z"))
	store.ClearAll()

	second, err := store.Bundle(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.Signature, second.Signature)
	assert.Contains(t, second.Signature, "2025-06-02T00:00:00Z")
}

func TestStoreConcurrentFirstLoadSingleBundle(t *testing.T) {
	root := WriteFixtureTree(t, FixtureTree{Manifest: FixtureChain("2025-06-01T00:00:00Z")})
	store := NewStore(root, testLogger())

	const goroutines = 16

	bundles := make([]*Bundle, goroutines)

	var wg sync.WaitGroup

	for i := range goroutines {
		wg.Add(1)

		go func(slot int) {
			defer wg.Done()

			bundle, err := store.Bundle(context.Background())
			assert.NoError(t, err)

			bundles[slot] = bundle
		}(i)
	}

	wg.Wait()

	for _, bundle := range bundles {
		assert.Same(t, bundles[0], bundle)
	}
}

func TestChildIndexCorrectness(t *testing.T) {
	// Graph with a macro dependency, a source, and a dangling reference.
	source := &Node{UniqueID: "source.proj.raw.orders", Name: "orders", ResourceType: KindSource}
	macro := &Node{UniqueID: "macro.proj.clean", Name: "clean", ResourceType: KindMacro}
	staging := &Node{
		UniqueID:     "model.proj.stg_orders",
		Name:         "stg_orders",
		ResourceType: KindModel,
		DependsOn: DependsOn{
			Nodes:  []string{source.UniqueID, "model.proj.ghost"},
			Macros: []string{macro.UniqueID},
		},
	}
	mart := FixtureNode("model.proj.orders_mart", "orders_mart", staging.UniqueID, staging.UniqueID) // duplicate parent

	bundle := NewBundle(FixtureManifest("2025-06-01T00:00:00Z", source, macro, staging, mart))

	// Every dependency pair appears exactly once.
	assert.Equal(t, []string{staging.UniqueID}, bundle.Children(source.UniqueID))
	assert.Equal(t, []string{staging.UniqueID}, bundle.Children(macro.UniqueID))
	assert.Equal(t, []string{mart.UniqueID}, bundle.Children(staging.UniqueID))

	// The dangling parent is indexed but has no node entry of its own.
	assert.Equal(t, []string{staging.UniqueID}, bundle.Children("model.proj.ghost"))
	_, exists := bundle.Node("model.proj.ghost")
	assert.False(t, exists)

	// No pairs beyond the declared dependencies.
	total := 0
	for _, children := range bundle.ChildIndex {
		total += len(children)
	}

	assert.Equal(t, 4, total)
}

func TestMergedViewPrecedence(t *testing.T) {
	shadowed := &Node{UniqueID: "model.proj.dup", Name: "from_sources", ResourceType: KindSource}
	winner := &Node{UniqueID: "model.proj.dup", Name: "from_nodes", ResourceType: KindModel}

	m := &Manifest{
		Metadata: ManifestMetadata{DBTVersion: "1.8.0", GeneratedAt: "2025-06-01T00:00:00Z"},
		Nodes:    map[string]*Node{winner.UniqueID: winner},
		Sources:  map[string]*Node{shadowed.UniqueID: shadowed},
		Macros:   map[string]*Node{},
	}

	bundle := NewBundle(m)

	node, ok := bundle.Node("model.proj.dup")
	require.True(t, ok)
	assert.Equal(t, "from_nodes", node.Name)
}

func TestNodeKindNormalization(t *testing.T) {
	tests := []struct {
		name         string
		resourceType string
		uniqueID     string
		want         string
	}{
		{"model", "model", "model.proj.a", KindModel},
		{"seed uppercase", "SEED", "seed.proj.currency", KindSeed},
		{"unknown type", "exposure", "exposure.proj.dash", KindOther},
		{"empty falls back to id prefix", "", "source.proj.raw.orders", KindSource},
		{"empty with unknown prefix", "", "widget.proj.x", KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &Node{ResourceType: tt.resourceType, UniqueID: tt.uniqueID}
			assert.Equal(t, tt.want, n.Kind())
		})
	}
}

func TestParentIDsDeduplicates(t *testing.T) {
	n := &Node{
		DependsOn: DependsOn{
			Nodes:  []string{"b", "c", "b", ""},
			Macros: []string{"m", "c"},
		},
	}

	assert.Equal(t, []string{"b", "c", "m"}, n.ParentIDs())
}
