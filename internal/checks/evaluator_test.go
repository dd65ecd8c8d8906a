package checks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipewatch-io/pipewatch/internal/artifact"
	"github.com/pipewatch-io/pipewatch/internal/compare"
)

var testNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func newTestEvaluator() *Evaluator {
	e := NewEvaluator(DefaultThresholds(), nil)
	e.now = func() time.Time { return testNow }

	return e
}

// comparisonWith wraps a current and optional previous manifest/catalog pair
// into a resolved comparison.
func comparisonWith(current, previous *artifact.Manifest, currentCat, previousCat *artifact.Catalog) *compare.Comparison {
	cmp := &compare.Comparison{
		Current: compare.Slot{
			Bundle:  artifact.NewBundle(current),
			Catalog: currentCat,
			Source:  compare.SourceCurrent,
		},
		Previous: compare.Slot{Source: compare.SourceNone},
	}

	if previous != nil {
		cmp.Previous = compare.Slot{
			Bundle:  artifact.NewBundle(previous),
			Catalog: previousCat,
			Source:  compare.SourceBackup,
		}
	}

	return cmp
}

func catalogWithEntry(id string, columns map[string]artifact.CatalogColumn, rows *float64) *artifact.Catalog {
	entry := &artifact.CatalogEntry{
		Metadata: artifact.EntryMetadata{Type: "BASE TABLE"},
		Columns:  columns,
		Stats:    map[string]any{},
	}

	if rows != nil {
		entry.Stats["num_rows"] = map[string]any{"value": *rows}
	}

	return &artifact.Catalog{
		Nodes: map[string]*artifact.CatalogEntry{id: entry},
	}
}

func floatPtr(f float64) *float64 { return &f }

func TestVolumeDeviationBeyondThresholdFails(t *testing.T) {
	node := artifact.FixtureNode("model.proj.orders", "orders")
	current := artifact.FixtureManifest("2025-06-10T00:00:00Z", node)
	previous := artifact.FixtureManifest("2025-06-09T00:00:00Z", artifact.FixtureNode("model.proj.orders", "orders"))

	cmp := comparisonWith(current, previous,
		catalogWithEntry("model.proj.orders", nil, floatPtr(1300)),
		catalogWithEntry("model.proj.orders", nil, floatPtr(1000)),
	)

	result := newTestEvaluator().Evaluate("model.proj.orders", cmp)

	require.NotNil(t, result.Volume.DeviationPct)
	assert.InDelta(t, 30.0, *result.Volume.DeviationPct, 1e-9)
	assert.Equal(t, StatusFail, result.Volume.Status)
	assert.Equal(t, int64(1300), *result.Volume.CurrentRowCount)
	assert.Equal(t, int64(1000), *result.Volume.PreviousRowCount)
	assert.Equal(t, "volume", result.StyleKey)
	assert.Equal(t, 1, result.FailCount)
}

func TestVolumeDeviationAtThresholdPasses(t *testing.T) {
	node := artifact.FixtureNode("model.proj.orders", "orders")
	current := artifact.FixtureManifest("2025-06-10T00:00:00Z", node)
	previous := artifact.FixtureManifest("2025-06-09T00:00:00Z", artifact.FixtureNode("model.proj.orders", "orders"))

	cmp := comparisonWith(current, previous,
		catalogWithEntry("model.proj.orders", nil, floatPtr(1250)),
		catalogWithEntry("model.proj.orders", nil, floatPtr(1000)),
	)

	result := newTestEvaluator().Evaluate("model.proj.orders", cmp)

	// Exactly 25% with threshold 25: the check fails only strictly beyond.
	assert.InDelta(t, 25.0, *result.Volume.DeviationPct, 1e-9)
	assert.Equal(t, StatusPass, result.Volume.Status)
}

func TestVolumeZeroBaselineIsUnknown(t *testing.T) {
	node := artifact.FixtureNode("model.proj.orders", "orders")
	current := artifact.FixtureManifest("2025-06-10T00:00:00Z", node)
	previous := artifact.FixtureManifest("2025-06-09T00:00:00Z", artifact.FixtureNode("model.proj.orders", "orders"))

	cmp := comparisonWith(current, previous,
		catalogWithEntry("model.proj.orders", nil, floatPtr(500)),
		catalogWithEntry("model.proj.orders", nil, floatPtr(0)),
	)

	result := newTestEvaluator().Evaluate("model.proj.orders", cmp)

	assert.Equal(t, StatusUnknown, result.Volume.Status)
	assert.Nil(t, result.Volume.DeviationPct)
	assert.Equal(t, int64(0), *result.Volume.PreviousRowCount)
}

func TestSchemaDriftReportsAddsRemovesAndTypeChanges(t *testing.T) {
	node := artifact.FixtureNode("model.proj.orders", "orders")
	current := artifact.FixtureManifest("2025-06-10T00:00:00Z", node)
	previous := artifact.FixtureManifest("2025-06-09T00:00:00Z", artifact.FixtureNode("model.proj.orders", "orders"))

	cmp := comparisonWith(current, previous,
		catalogWithEntry("model.proj.orders", map[string]artifact.CatalogColumn{
			"a": {Type: "bigint", Index: 1},
			"c": {Type: "text", Index: 2},
		}, nil),
		catalogWithEntry("model.proj.orders", map[string]artifact.CatalogColumn{
			"a": {Type: "int", Index: 1},
			"b": {Type: "text", Index: 2},
		}, nil),
	)

	result := newTestEvaluator().Evaluate("model.proj.orders", cmp)

	assert.Equal(t, StatusFail, result.Schema.Status)
	assert.Equal(t, []string{"c"}, result.Schema.AddedColumns)
	assert.Equal(t, []string{"b"}, result.Schema.RemovedColumns)
	require.Len(t, result.Schema.TypeChanges, 1)
	assert.Equal(t, TypeChange{Column: "a", Previous: "int", Current: "bigint"}, result.Schema.TypeChanges[0])
	assert.Equal(t, "schema", result.StyleKey)
}

func TestSchemaCatalogTypeWinsOverManifest(t *testing.T) {
	currentNode := artifact.FixtureNode("model.proj.orders", "orders")
	currentNode.Columns = map[string]artifact.Column{
		"a": {Name: "a", DataType: "varchar"},
	}
	previousNode := artifact.FixtureNode("model.proj.orders", "orders")
	previousNode.Columns = map[string]artifact.Column{
		"a": {Name: "a", DataType: "varchar"},
	}

	current := artifact.FixtureManifest("2025-06-10T00:00:00Z", currentNode)
	previous := artifact.FixtureManifest("2025-06-09T00:00:00Z", previousNode)

	// The catalog observes TEXT on both sides; the manifest's varchar is
	// overridden and no drift is reported.
	cmp := comparisonWith(current, previous,
		catalogWithEntry("model.proj.orders", map[string]artifact.CatalogColumn{"A": {Type: "TEXT"}}, nil),
		catalogWithEntry("model.proj.orders", map[string]artifact.CatalogColumn{"a": {Type: "text"}}, nil),
	)

	result := newTestEvaluator().Evaluate("model.proj.orders", cmp)

	assert.Equal(t, StatusPass, result.Schema.Status)
	assert.Empty(t, result.Schema.TypeChanges)
}

func TestMissingBaselineLeavesEveryCheckUnknown(t *testing.T) {
	node := artifact.FixtureNode("model.proj.orders", "orders")
	current := artifact.FixtureManifest("2025-06-10T00:00:00Z", node)

	cmp := comparisonWith(current, nil, nil, nil)

	result := newTestEvaluator().Evaluate("model.proj.orders", cmp)

	assert.Equal(t, StatusUnknown, result.Schema.Status)
	assert.Equal(t, StatusUnknown, result.Volume.Status)
	assert.Equal(t, StatusUnknown, result.Freshness.Status)
	assert.Equal(t, StyleKeyNone, result.StyleKey)
	assert.Equal(t, 0, result.FailCount)
}

func TestFreshnessReferenceNodeGetsLongThreshold(t *testing.T) {
	node := artifact.FixtureNode("model.proj.currency_rates", "currency_rates")
	node.Tags = []string{"reference"}
	node.Meta = map[string]any{
		"last_updated_at": testNow.Add(-6 * time.Hour).Format(time.RFC3339),
	}
	current := artifact.FixtureManifest("2025-06-10T00:00:00Z", node)

	cmp := comparisonWith(current, nil, nil, nil)

	result := newTestEvaluator().Evaluate("model.proj.currency_rates", cmp)

	assert.Equal(t, StatusPass, result.Freshness.Status)
	require.NotNil(t, result.Freshness.LagMinutes)
	assert.Equal(t, int64(360), *result.Freshness.LagMinutes)
	assert.Equal(t, DefaultReferenceFreshnessThresholdMinutes, result.Freshness.ThresholdMinutes)
	assert.True(t, result.Freshness.IsReferenceLike)
	assert.Equal(t, artifact.FreshnessFromManifest, result.Freshness.FreshnessSource)
}

func TestFreshnessRegularNodeFailsAtSameLag(t *testing.T) {
	node := artifact.FixtureNode("model.proj.orders", "orders")
	node.Meta = map[string]any{
		"last_updated_at": testNow.Add(-24 * time.Hour).Format(time.RFC3339),
	}
	current := artifact.FixtureManifest("2025-06-10T00:00:00Z", node)

	cmp := comparisonWith(current, nil, nil, nil)

	result := newTestEvaluator().Evaluate("model.proj.orders", cmp)

	assert.Equal(t, StatusFail, result.Freshness.Status)
	assert.Equal(t, int64(24*60), *result.Freshness.LagMinutes)
	assert.Equal(t, DefaultFreshnessThresholdMinutes, result.Freshness.ThresholdMinutes)
	assert.False(t, result.Freshness.IsReferenceLike)
	assert.Equal(t, "freshness", result.StyleKey)
}

func TestFreshnessFutureTimestampClampsToZeroLag(t *testing.T) {
	node := artifact.FixtureNode("model.proj.orders", "orders")
	node.Meta = map[string]any{
		"last_updated_at": testNow.Add(10 * time.Minute).Format(time.RFC3339),
	}
	current := artifact.FixtureManifest("2025-06-10T00:00:00Z", node)

	cmp := comparisonWith(current, nil, nil, nil)

	result := newTestEvaluator().Evaluate("model.proj.orders", cmp)

	assert.Equal(t, StatusPass, result.Freshness.Status)
	assert.Equal(t, int64(0), *result.Freshness.LagMinutes)
}

func TestFreshnessPrefersSourcesArtifact(t *testing.T) {
	node := artifact.FixtureNode("source.proj.raw.orders", "raw_orders")
	node.ResourceType = artifact.KindSource
	node.Meta = map[string]any{
		"last_updated_at": testNow.Add(-48 * time.Hour).Format(time.RFC3339),
	}
	current := artifact.FixtureManifest("2025-06-10T00:00:00Z", node)

	cmp := comparisonWith(current, nil, nil, nil)
	cmp.Current.Sources = artifact.FreshnessMap{
		"source.proj.raw.orders": artifact.SourceFreshness{
			UniqueID:    "source.proj.raw.orders",
			MaxLoadedAt: testNow.Add(-30 * time.Minute),
		},
	}

	result := newTestEvaluator().Evaluate("source.proj.raw.orders", cmp)

	assert.Equal(t, artifact.FreshnessFromSources, result.Freshness.FreshnessSource)
	assert.Equal(t, int64(30), *result.Freshness.LagMinutes)
	assert.Equal(t, StatusPass, result.Freshness.Status)
}

func TestStyleKeyJoinsFailuresInCanonicalOrder(t *testing.T) {
	node := artifact.FixtureNode("model.proj.orders", "orders")
	node.Meta = map[string]any{
		"last_updated_at": testNow.Add(-24 * time.Hour).Format(time.RFC3339),
	}
	current := artifact.FixtureManifest("2025-06-10T00:00:00Z", node)
	previous := artifact.FixtureManifest("2025-06-09T00:00:00Z", artifact.FixtureNode("model.proj.orders", "orders"))

	cmp := comparisonWith(current, previous,
		catalogWithEntry("model.proj.orders", map[string]artifact.CatalogColumn{"a": {Type: "int"}}, floatPtr(2000)),
		catalogWithEntry("model.proj.orders", map[string]artifact.CatalogColumn{"b": {Type: "int"}}, floatPtr(1000)),
	)

	result := newTestEvaluator().Evaluate("model.proj.orders", cmp)

	assert.Equal(t, StatusFail, result.Schema.Status)
	assert.Equal(t, StatusFail, result.Volume.Status)
	assert.Equal(t, StatusFail, result.Freshness.Status)
	assert.Equal(t, "schema+volume+freshness", result.StyleKey)
	assert.Equal(t, 3, result.FailCount)
}

func TestLoadThresholdsFromEnvironment(t *testing.T) {
	t.Setenv(EnvVolumeThresholdPct, "40.5")
	t.Setenv(EnvFreshnessThresholdMinutes, "60")
	t.Setenv(EnvReferenceFreshnessThresholdMinutes, "20160")

	got := LoadThresholds()
	assert.InDelta(t, 40.5, got.VolumeDeviationPct, 1e-9)
	assert.Equal(t, 60, got.FreshnessMinutes)
	assert.Equal(t, 20160, got.ReferenceFreshnessMinutes)
}

func TestLoadThresholdsRejectsNegativeAndNonFinite(t *testing.T) {
	t.Setenv(EnvVolumeThresholdPct, "NaN")
	t.Setenv(EnvFreshnessThresholdMinutes, "-5")
	t.Setenv(EnvReferenceFreshnessThresholdMinutes, "garbage")

	got := LoadThresholds()
	assert.InDelta(t, DefaultVolumeThresholdPct, got.VolumeDeviationPct, 1e-9)
	assert.Equal(t, DefaultFreshnessThresholdMinutes, got.FreshnessMinutes)
	assert.Equal(t, DefaultReferenceFreshnessThresholdMinutes, got.ReferenceFreshnessMinutes)
}
