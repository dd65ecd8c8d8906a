// Shared test fixtures for packages that exercise artifact trees on disk.
// Tests across internal/ packages build their temp artifact directories
// through these helpers so the on-disk layout stays consistent everywhere.
package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type (
	// FixtureTree describes an on-disk artifact layout for a test: the
	// current pair at the root, optional backups, an optional sources file,
	// and labelled snapshot captures.
	FixtureTree struct {
		Manifest       *Manifest
		Catalog        *Catalog
		Sources        []SourceFreshnessFixture
		BackupManifest *Manifest
		BackupCatalog  *Catalog
		Snapshots      []FixtureSnapshot
	}

	// FixtureSnapshot is one labelled capture under the snapshot directory.
	FixtureSnapshot struct {
		Label       string
		Manifest    *Manifest
		Catalog     *Catalog
		Sources     []SourceFreshnessFixture
		GeneratedAt string
	}

	// SourceFreshnessFixture is one row of a sources.json results array.
	SourceFreshnessFixture struct {
		UniqueID      string `json:"unique_id"`
		MaxLoadedAt   string `json:"max_loaded_at,omitempty"`
		SnapshottedAt string `json:"snapshotted_at,omitempty"`
		Status        string `json:"status,omitempty"`
	}
)

// WriteFixtureTree materializes the tree under t.TempDir() and returns the
// root directory.
func WriteFixtureTree(t *testing.T, tree FixtureTree) string {
	t.Helper()

	root := t.TempDir()

	if tree.Manifest != nil {
		writeJSONFixture(t, filepath.Join(root, ManifestFileName), tree.Manifest)
	}

	if tree.Catalog != nil {
		writeJSONFixture(t, filepath.Join(root, CatalogFileName), tree.Catalog)
	}

	if tree.Sources != nil {
		writeJSONFixture(t, filepath.Join(root, SourcesFileName), map[string]any{"results": tree.Sources})
	}

	if tree.BackupManifest != nil {
		writeJSONFixture(t, filepath.Join(root, ManifestBackupName), tree.BackupManifest)
	}

	if tree.BackupCatalog != nil {
		writeJSONFixture(t, filepath.Join(root, CatalogBackupName), tree.BackupCatalog)
	}

	if len(tree.Snapshots) > 0 {
		snapshotDir := filepath.Join(root, filepath.FromSlash(SnapshotDirName))
		labels := make([]string, 0, len(tree.Snapshots))

		for _, snapshot := range tree.Snapshots {
			labels = append(labels, snapshot.Label)
			dir := filepath.Join(snapshotDir, snapshot.Label)
			require.NoError(t, os.MkdirAll(dir, 0o755))

			if snapshot.Manifest != nil {
				writeJSONFixture(t, filepath.Join(dir, ManifestFileName), snapshot.Manifest)
			}

			if snapshot.Catalog != nil {
				writeJSONFixture(t, filepath.Join(dir, CatalogFileName), snapshot.Catalog)
			}

			if snapshot.Sources != nil {
				writeJSONFixture(t, filepath.Join(dir, SourcesFileName), map[string]any{"results": snapshot.Sources})
			}

			generatedAt := snapshot.GeneratedAt
			if generatedAt == "" && snapshot.Manifest != nil {
				generatedAt = snapshot.Manifest.Metadata.GeneratedAt
			}

			writeJSONFixture(t, filepath.Join(dir, "summary.json"), SnapshotSummary{
				Label:       snapshot.Label,
				GeneratedAt: generatedAt,
			})
		}

		writeJSONFixture(t, filepath.Join(snapshotDir, "index.json"), labels)
	}

	return root
}

func writeJSONFixture(t *testing.T, path string, v any) {
	t.Helper()

	raw, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, raw, 0o600))
}

// FixtureNode builds a minimal model node whose parents are the given ids.
func FixtureNode(id, name string, parents ...string) *Node {
	return &Node{
		UniqueID:     id,
		Name:         name,
		ResourceType: KindModel,
		Database:     "analytics",
		Schema:       "main",
		DependsOn:    DependsOn{Nodes: parents},
	}
}

// FixtureTestNode builds a generic test node attached to target.
func FixtureTestNode(id, testName, target, column string) *Node {
	node := &Node{
		UniqueID:     id,
		Name:         testName + "_" + column,
		ResourceType: KindTest,
		DependsOn:    DependsOn{Nodes: []string{target}},
		TestMetadata: &TestMetadata{
			Name:   testName,
			Kwargs: map[string]any{"column_name": column},
		},
	}

	if column == "" {
		node.Name = testName
		node.TestMetadata.Kwargs = map[string]any{}
	}

	return node
}

// FixtureManifest wraps nodes into a manifest. Tests use distinct
// generated_at strings to drive signature and comparison behavior.
func FixtureManifest(generatedAt string, nodes ...*Node) *Manifest {
	m := &Manifest{
		Metadata: ManifestMetadata{
			DBTSchemaVersion: "https://schemas.getdbt.com/dbt/manifest/v12.json",
			DBTVersion:       "1.8.0",
			GeneratedAt:      generatedAt,
		},
		Nodes:   map[string]*Node{},
		Sources: map[string]*Node{},
		Macros:  map[string]*Node{},
	}

	for _, node := range nodes {
		switch node.Kind() {
		case KindSource:
			m.Sources[node.UniqueID] = node
		case KindMacro:
			m.Macros[node.UniqueID] = node
		default:
			m.Nodes[node.UniqueID] = node
		}
	}

	return m
}

// FixtureChain builds the linear manifest A depends on B depends on C that
// most traversal tests start from.
func FixtureChain(generatedAt string) *Manifest {
	c := FixtureNode("model.proj.c", "c")
	b := FixtureNode("model.proj.b", "b", c.UniqueID)
	a := FixtureNode("model.proj.a", "a", b.UniqueID)

	return FixtureManifest(generatedAt, a, b, c)
}

// FixtureCatalog builds a catalog carrying a num_rows stat per id.
func FixtureCatalog(generatedAt string, rows map[string]float64) *Catalog {
	c := &Catalog{
		Metadata: CatalogMetadata{
			DBTVersion:  "1.8.0",
			GeneratedAt: generatedAt,
		},
		Nodes:   map[string]*CatalogEntry{},
		Sources: map[string]*CatalogEntry{},
	}

	for id, n := range rows {
		c.Nodes[id] = &CatalogEntry{
			Metadata: EntryMetadata{Type: "BASE TABLE", Schema: "main"},
			Columns:  map[string]CatalogColumn{},
			Stats:    map[string]any{"num_rows": map[string]any{"value": n}},
		}
	}

	return c
}

// UniqueLabel returns a snapshot label that cannot collide across tests
// sharing a directory.
func UniqueLabel(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}
