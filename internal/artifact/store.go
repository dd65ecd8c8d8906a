package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Artifact file names expected at the store root.
const (
	ManifestFileName   = "manifest.json"
	CatalogFileName    = "catalog.json"
	SourcesFileName    = "sources.json"
	ManifestBackupName = "manifest_backup.json"
	CatalogBackupName  = "catalog_backup.json"

	bundleLoadGroupKey  = "bundle"
	catalogLoadGroupKey = "catalog"
)

var (
	// ErrArtifactMissing indicates a required artifact file does not exist.
	ErrArtifactMissing = errors.New("artifact file missing")

	// ErrArtifactMalformed indicates an artifact file exists but cannot be parsed.
	ErrArtifactMalformed = errors.New("artifact file malformed")
)

type (
	// Bundle is the combined in-memory representation of one manifest: the
	// merged node view (nodes ∪ sources ∪ macros), the inverse-dependency
	// Child Index, and the identifying signature. Bundles are immutable once
	// built; readers share references without further synchronization.
	Bundle struct {
		Manifest   *Manifest
		Nodes      map[string]*Node
		ChildIndex map[string][]string
		Signature  string
	}

	// Store loads and memoizes the current artifact pair from a root
	// directory, and provides un-memoized loads for snapshot and explicit
	// path comparisons. All methods are safe for concurrent use.
	Store struct {
		root   string
		logger *slog.Logger

		mu             sync.RWMutex
		bundle         *Bundle
		catalog        *Catalog
		catalogAbsent  bool
		lastValidated  string
		validationSeen bool

		group singleflight.Group

		freshMu   sync.RWMutex
		freshness map[string]*freshnessEntry
	}
)

// NewStore creates a Store rooted at dir. The directory is where
// manifest.json and catalog.json live; snapshots are resolved beneath it.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		root:      filepath.Clean(dir),
		logger:    logger,
		freshness: make(map[string]*freshnessEntry),
	}
}

// Root returns the artifact root directory.
func (s *Store) Root() string {
	return s.root
}

// Bundle returns the memoized current manifest bundle, loading it on first
// use. Concurrent first loads are collapsed into a single disk read.
func (s *Store) Bundle(ctx context.Context) (*Bundle, error) {
	s.mu.RLock()
	bundle := s.bundle
	s.mu.RUnlock()

	if bundle != nil {
		return bundle, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err, _ := s.group.Do(bundleLoadGroupKey, func() (any, error) {
		s.mu.RLock()
		cached := s.bundle
		s.mu.RUnlock()

		if cached != nil {
			return cached, nil
		}

		loaded, loadErr := s.LoadBundleFrom(ctx, filepath.Join(s.root, ManifestFileName))
		if loadErr != nil {
			return nil, loadErr
		}

		s.mu.Lock()
		s.bundle = loaded
		s.mu.Unlock()

		s.logger.Info("manifest bundle loaded",
			slog.String("signature", loaded.Signature),
			slog.Int("node_count", len(loaded.Nodes)),
		)

		return loaded, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*Bundle), nil
}

// Catalog returns the memoized current catalog. A missing or unreadable
// catalog is not an error: it is logged once and callers receive nil,
// which downstream components treat as "no physical statistics available".
func (s *Store) Catalog(ctx context.Context) (*Catalog, error) {
	s.mu.RLock()
	catalog, absent := s.catalog, s.catalogAbsent
	s.mu.RUnlock()

	if catalog != nil || absent {
		return catalog, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, _, _ := s.group.Do(catalogLoadGroupKey, func() (any, error) {
		s.mu.RLock()
		cached, cachedAbsent := s.catalog, s.catalogAbsent
		s.mu.RUnlock()

		if cached != nil || cachedAbsent {
			return cached, nil
		}

		loaded, loadErr := s.LoadCatalogFrom(ctx, filepath.Join(s.root, CatalogFileName))
		if loadErr != nil {
			s.logger.Warn("catalog unavailable, continuing without physical statistics",
				slog.String("path", filepath.Join(s.root, CatalogFileName)),
				slog.String("error", loadErr.Error()),
			)

			loaded = nil
		}

		s.mu.Lock()
		s.catalog = loaded
		s.catalogAbsent = loaded == nil
		s.mu.Unlock()

		return loaded, nil
	})

	catalog, _ = result.(*Catalog)

	return catalog, nil
}

// ClearAll drops every memoized artifact: the current bundle, the catalog,
// the validation state, and the source-freshness cache. The next request
// reloads from disk.
func (s *Store) ClearAll() {
	s.mu.Lock()
	s.bundle = nil
	s.catalog = nil
	s.catalogAbsent = false
	s.lastValidated = ""
	s.validationSeen = false
	s.mu.Unlock()

	s.freshMu.Lock()
	s.freshness = make(map[string]*freshnessEntry)
	s.freshMu.Unlock()

	s.group.Forget(bundleLoadGroupKey)
	s.group.Forget(catalogLoadGroupKey)

	s.logger.Info("artifact store cleared")
}

// LoadBundleFrom reads and parses a manifest at an explicit path, without
// touching the memoized state. Used for snapshots and explicit comparisons.
func (s *Store) LoadBundleFrom(ctx context.Context, path string) (*Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactMissing, path)
		}

		return nil, fmt.Errorf("%w: %s: %w", ErrArtifactMalformed, path, err)
	}

	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrArtifactMalformed, path, err)
	}

	manifest.normalize()

	return NewBundle(&manifest), nil
}

// LoadCatalogFrom reads and parses a catalog at an explicit path, without
// touching the memoized state.
func (s *Store) LoadCatalogFrom(ctx context.Context, path string) (*Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactMissing, path)
		}

		return nil, fmt.Errorf("%w: %s: %w", ErrArtifactMalformed, path, err)
	}

	var catalog Catalog
	if err := json.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrArtifactMalformed, path, err)
	}

	catalog.normalize()

	return &catalog, nil
}

// NewBundle builds the merged node view and the Child Index for a parsed
// manifest. Node ids win over source ids win over macro ids when the same
// unique id appears in more than one collection.
func NewBundle(m *Manifest) *Bundle {
	merged := make(map[string]*Node, len(m.Nodes)+len(m.Sources)+len(m.Macros))

	for id, node := range m.Macros {
		merged[id] = node
	}

	for id, node := range m.Sources {
		merged[id] = node
	}

	for id, node := range m.Nodes {
		merged[id] = node
	}

	return &Bundle{
		Manifest:   m,
		Nodes:      merged,
		ChildIndex: buildChildIndex(merged),
		Signature:  Signature(m),
	}
}

// buildChildIndex inverts the depends_on relation in one pass. Iteration
// runs over sorted ids so child lists come out in a deterministic order.
// A parent id with no node entry of its own (a dangling reference) still
// receives a child list; it is tolerated but never traversed from.
func buildChildIndex(nodes map[string]*Node) map[string][]string {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	index := make(map[string][]string)

	for _, id := range ids {
		for _, parent := range nodes[id].ParentIDs() {
			index[parent] = append(index[parent], id)
		}
	}

	return index
}

// Node looks up an asset in the merged view. Safe on a nil bundle (an empty
// comparison slot), which never holds any node.
func (b *Bundle) Node(id string) (*Node, bool) {
	if b == nil {
		return nil, false
	}

	n, ok := b.Nodes[id]

	return n, ok
}

// Children returns the direct children of id per the Child Index. The
// returned slice is shared; callers must not mutate it.
func (b *Bundle) Children(id string) []string {
	if b == nil {
		return nil
	}

	return b.ChildIndex[id]
}

// GeneratedAt returns the manifest's build instant string.
func (b *Bundle) GeneratedAt() string {
	return b.Manifest.Metadata.GeneratedAt
}

// DBTVersion returns the producing toolchain version string.
func (b *Bundle) DBTVersion() string {
	return b.Manifest.Metadata.DBTVersion
}
