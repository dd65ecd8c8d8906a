package lineage

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipewatch-io/pipewatch/internal/artifact"
	"github.com/pipewatch-io/pipewatch/internal/checks"
	"github.com/pipewatch-io/pipewatch/internal/compare"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEngine() *Engine {
	return NewEngine(checks.NewEvaluator(checks.DefaultThresholds(), nil), testLogger())
}

func comparisonOf(m *artifact.Manifest, c *artifact.Catalog) *compare.Comparison {
	return &compare.Comparison{
		Current:  compare.Slot{Bundle: artifact.NewBundle(m), Catalog: c, Source: compare.SourceCurrent},
		Previous: compare.Slot{Source: compare.SourceNone},
	}
}

func TestComputeDAGUpstreamChain(t *testing.T) {
	cmp := comparisonOf(artifact.FixtureChain("2025-06-01T00:00:00Z"), nil)

	view, err := newTestEngine().ComputeDAG(context.Background(), cmp, "model.proj.a", 10)
	require.NoError(t, err)

	assert.Equal(t, "model.proj.a", view.Root.UniqueID)

	require.Len(t, view.Parents, 2)
	assert.Equal(t, "model.proj.b", view.Parents[0].UniqueID)
	assert.Equal(t, "model.proj.c", view.Parents[1].UniqueID)

	assert.Equal(t, map[string]int{"model.proj.b": 1, "model.proj.c": 2}, view.ParentDepth)
	assert.Empty(t, view.Children)
	assert.Empty(t, view.ChildDepth)
	assert.Equal(t, Depth{Upstream: 2, Downstream: 0}, view.Depth)
}

func TestComputeDAGDownstreamChain(t *testing.T) {
	cmp := comparisonOf(artifact.FixtureChain("2025-06-01T00:00:00Z"), nil)

	view, err := newTestEngine().ComputeDAG(context.Background(), cmp, "model.proj.c", 10)
	require.NoError(t, err)

	assert.Empty(t, view.Parents)
	assert.Empty(t, view.ParentDepth)

	require.Len(t, view.Children, 2)
	assert.Equal(t, "model.proj.a", view.Children[0].UniqueID)
	assert.Equal(t, "model.proj.b", view.Children[1].UniqueID)

	assert.Equal(t, map[string]int{"model.proj.b": 1, "model.proj.a": 2}, view.ChildDepth)
	assert.Equal(t, Depth{Upstream: 0, Downstream: 2}, view.Depth)
}

func TestComputeDAGShortestPathWins(t *testing.T) {
	// root depends on x directly and through y; x must be recorded at 1.
	x := artifact.FixtureNode("model.proj.x", "x")
	y := artifact.FixtureNode("model.proj.y", "y", x.UniqueID)
	root := artifact.FixtureNode("model.proj.root", "root", x.UniqueID, y.UniqueID)

	cmp := comparisonOf(artifact.FixtureManifest("2025-06-01T00:00:00Z", root, y, x), nil)

	view, err := newTestEngine().ComputeDAG(context.Background(), cmp, "model.proj.root", 10)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"model.proj.x": 1, "model.proj.y": 1}, view.ParentDepth)
	assert.Equal(t, 1, view.Depth.Upstream)
}

func TestComputeDAGCycleTerminates(t *testing.T) {
	// a → b → c → a. The cycle must neither loop nor put the root into its
	// own depth map.
	a := artifact.FixtureNode("model.proj.a", "a", "model.proj.b")
	b := artifact.FixtureNode("model.proj.b", "b", "model.proj.c")
	c := artifact.FixtureNode("model.proj.c", "c", "model.proj.a")

	cmp := comparisonOf(artifact.FixtureManifest("2025-06-01T00:00:00Z", a, b, c), nil)

	view, err := newTestEngine().ComputeDAG(context.Background(), cmp, "model.proj.a", 10)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"model.proj.b": 1, "model.proj.c": 2}, view.ParentDepth)
	assert.NotContains(t, view.ParentDepth, "model.proj.a")

	// Downstream mirrors the cycle: c depends on a, b depends on c.
	assert.Equal(t, map[string]int{"model.proj.c": 1, "model.proj.b": 2}, view.ChildDepth)
}

func TestComputeDAGMaxDepthZero(t *testing.T) {
	cmp := comparisonOf(artifact.FixtureChain("2025-06-01T00:00:00Z"), nil)

	view, err := newTestEngine().ComputeDAG(context.Background(), cmp, "model.proj.b", 0)
	require.NoError(t, err)

	assert.Empty(t, view.Parents)
	assert.Empty(t, view.Children)
	assert.Equal(t, Depth{Upstream: 0, Downstream: 0}, view.Depth)
	assert.Equal(t, "model.proj.b", view.Root.UniqueID)
}

func TestComputeDAGDepthLimitCutsTraversal(t *testing.T) {
	cmp := comparisonOf(artifact.FixtureChain("2025-06-01T00:00:00Z"), nil)

	view, err := newTestEngine().ComputeDAG(context.Background(), cmp, "model.proj.a", 1)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"model.proj.b": 1}, view.ParentDepth)
	assert.Equal(t, 1, view.Depth.Upstream)
}

func TestClampDepth(t *testing.T) {
	assert.Equal(t, 0, ClampDepth(-5))
	assert.Equal(t, 0, ClampDepth(0))
	assert.Equal(t, 42, ClampDepth(42))
	assert.Equal(t, 100, ClampDepth(100))
	assert.Equal(t, 100, ClampDepth(500))
}

func TestComputeDAGNodeNotFound(t *testing.T) {
	cmp := comparisonOf(artifact.FixtureChain("2025-06-01T00:00:00Z"), nil)

	_, err := newTestEngine().ComputeDAG(context.Background(), cmp, "model.proj.absent", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestComputeDAGCancelledContext(t *testing.T) {
	cmp := comparisonOf(artifact.FixtureChain("2025-06-01T00:00:00Z"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestEngine().ComputeDAG(ctx, cmp, "model.proj.a", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestComputeDAGDanglingParentTolerated(t *testing.T) {
	orphaned := artifact.FixtureNode("model.proj.orphaned", "orphaned", "model.proj.gone")

	cmp := comparisonOf(artifact.FixtureManifest("2025-06-01T00:00:00Z", orphaned), nil)

	view, err := newTestEngine().ComputeDAG(context.Background(), cmp, "model.proj.orphaned", 10)
	require.NoError(t, err)

	// The dangling reference is neither recorded nor traversed.
	assert.Empty(t, view.ParentDepth)
	assert.Empty(t, view.Parents)
}

func TestComputeDAGEnrichment(t *testing.T) {
	node := artifact.FixtureNode("model.proj.currency", "currency", "model.proj.rates")
	node.Columns = map[string]artifact.Column{
		"code": {Name: "code", DataType: "varchar", Description: "ISO code"},
	}
	rates := artifact.FixtureNode("model.proj.rates", "rates")
	downstream := artifact.FixtureNode("model.proj.prices", "prices", "model.proj.currency")

	manifest := artifact.FixtureManifest("2025-06-01T00:00:00Z", node, rates, downstream)

	catalog := artifact.FixtureCatalog("2025-06-01T00:00:00Z", map[string]float64{"model.proj.currency": 42})
	catalog.Nodes["model.proj.currency"].Columns = map[string]artifact.CatalogColumn{
		"code": {Type: "TEXT", Index: 1, Comment: "observed"},
		"name": {Type: "TEXT", Index: 2},
	}

	cmp := comparisonOf(manifest, catalog)

	view, err := newTestEngine().ComputeDAG(context.Background(), cmp, "model.proj.currency", 10)
	require.NoError(t, err)

	root := view.Root
	assert.Equal(t, "model", root.Kind)
	require.NotNil(t, root.RowCount)
	assert.Equal(t, int64(42), *root.RowCount)

	// Merged columns: manifest spelling and description, catalog type wins.
	require.Len(t, root.Columns, 2)
	assert.Equal(t, "code", root.Columns[0].Name)
	assert.Equal(t, "TEXT", root.Columns[0].Type)
	assert.Equal(t, "ISO code", root.Columns[0].Description)
	assert.Equal(t, "observed", root.Columns[0].Comment)
	assert.Equal(t, "name", root.Columns[1].Name)

	// "currency" is on the hardcoded reference allowlist.
	assert.True(t, root.Reference.IsReference)

	assert.Equal(t, []string{"model.proj.rates"}, root.ParentIDs)
	assert.Equal(t, []string{"model.proj.prices"}, root.ChildIDs)

	require.NotNil(t, root.Observability)
	assert.Equal(t, checks.StatusUnknown, root.Observability.Volume.Status)
}

func TestComputeDAGIdempotentPayload(t *testing.T) {
	cmp := comparisonOf(artifact.FixtureChain("2025-06-01T00:00:00Z"), nil)
	engine := newTestEngine()

	first, err := engine.ComputeDAG(context.Background(), cmp, "model.proj.a", 10)
	require.NoError(t, err)

	second, err := engine.ComputeDAG(context.Background(), cmp, "model.proj.a", 10)
	require.NoError(t, err)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)

	assert.Equal(t, firstJSON, secondJSON)
}
