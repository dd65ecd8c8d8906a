// Package compare resolves the (current, previous) artifact pair a request
// operates on, from explicit query parameters, labelled snapshot captures,
// backup files, or the in-process bundle.
package compare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pipewatch-io/pipewatch/internal/artifact"
)

// Source tags identifying how a slot was resolved.
const (
	SourceCurrent      = "current"
	SourceSnapshot     = "snapshot"
	SourcePaths        = "paths"
	SourceBackup       = "backup"
	SourceAutoSnapshot = "auto-snapshot"
	SourceNone         = "none"
)

var (
	// ErrPartialPathPair indicates that only one of a manifest/catalog path
	// pair was supplied; explicit paths must come in pairs.
	ErrPartialPathPair = errors.New("manifest and catalog paths must be supplied together")

	// ErrUnsafePath indicates a caller-supplied path that escapes the
	// artifact root or does not name a .json file.
	ErrUnsafePath = errors.New("unsafe artifact path")
)

type (
	// Params are the comparison-selection query parameters, blank when
	// absent. Snapshot labels take precedence over explicit paths.
	Params struct {
		CurrentSnapshot      string
		PreviousSnapshot     string
		CurrentManifestPath  string
		CurrentCatalogPath   string
		PreviousManifestPath string
		PreviousCatalogPath  string
	}

	// Slot is one side of a comparison: the bundle plus its optional
	// companions, tagged with how it was chosen. An empty previous slot
	// (no baseline anywhere) carries a nil Bundle and the tag "none".
	Slot struct {
		Bundle  *artifact.Bundle
		Catalog *artifact.Catalog
		Sources artifact.FreshnessMap
		Source  string
		Label   string
	}

	// Comparison is the resolved (current, previous) pair.
	Comparison struct {
		Current  Slot
		Previous Slot
	}

	// SlotInfo is the response-metadata description of one slot.
	SlotInfo struct {
		Source      string `json:"source"`
		Label       string `json:"label,omitempty"`
		GeneratedAt string `json:"generatedAt,omitempty"`
	}

	// Description is the response-metadata description of a comparison.
	Description struct {
		Current  SlotInfo `json:"current"`
		Previous SlotInfo `json:"previous"`
	}

	// Resolver selects comparison slots against one artifact store.
	Resolver struct {
		store  *artifact.Store
		logger *slog.Logger
	}
)

// NewResolver creates a resolver over the given store.
func NewResolver(store *artifact.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{store: store, logger: logger}
}

// Resolve selects the comparison pair for one request.
//
// The current slot is the labelled snapshot when currentSnapshot is given;
// else the explicit path pair when both paths are given (one without the
// other is rejected); else the in-process bundle.
//
// The previous slot is the labelled snapshot when previousSnapshot is given;
// else the explicit path pair when either path is given (same pairing rule);
// else the manifest_backup/catalog_backup pair when both files exist; else
// the lexicographically-last snapshot whose build instant differs from the
// current's; else an empty slot tagged "none".
func (r *Resolver) Resolve(ctx context.Context, params Params) (*Comparison, error) {
	current, err := r.resolveCurrent(ctx, params)
	if err != nil {
		return nil, err
	}

	previous, err := r.resolvePrevious(ctx, params, current)
	if err != nil {
		return nil, err
	}

	return &Comparison{Current: current, Previous: previous}, nil
}

func (r *Resolver) resolveCurrent(ctx context.Context, params Params) (Slot, error) {
	if params.CurrentSnapshot != "" {
		return r.snapshotSlot(ctx, params.CurrentSnapshot)
	}

	if params.CurrentManifestPath != "" || params.CurrentCatalogPath != "" {
		return r.pathsSlot(ctx, params.CurrentManifestPath, params.CurrentCatalogPath)
	}

	bundle, err := r.store.Bundle(ctx)
	if err != nil {
		return Slot{}, err
	}

	catalog, err := r.store.Catalog(ctx)
	if err != nil {
		return Slot{}, err
	}

	// The root sources.json is optional; freshness falls back to other
	// sources when it is absent.
	sources, err := r.store.Sources(filepath.Join(r.store.Root(), artifact.SourcesFileName))
	if err != nil {
		sources = nil
	}

	return Slot{
		Bundle:  bundle,
		Catalog: catalog,
		Sources: sources,
		Source:  SourceCurrent,
	}, nil
}

func (r *Resolver) resolvePrevious(ctx context.Context, params Params, current Slot) (Slot, error) {
	if params.PreviousSnapshot != "" {
		return r.snapshotSlot(ctx, params.PreviousSnapshot)
	}

	if params.PreviousManifestPath != "" || params.PreviousCatalogPath != "" {
		return r.pathsSlot(ctx, params.PreviousManifestPath, params.PreviousCatalogPath)
	}

	if slot, ok, err := r.backupSlot(ctx); err != nil || ok {
		return slot, err
	}

	if slot, ok := r.autoSnapshotSlot(ctx, current); ok {
		return slot, nil
	}

	return Slot{Source: SourceNone}, nil
}

func (r *Resolver) snapshotSlot(ctx context.Context, label string) (Slot, error) {
	snapshot, err := r.store.LoadSnapshot(ctx, label)
	if err != nil {
		return Slot{}, err
	}

	return Slot{
		Bundle:  snapshot.Bundle,
		Catalog: snapshot.Catalog,
		Sources: snapshot.Sources,
		Source:  SourceSnapshot,
		Label:   snapshot.Label,
	}, nil
}

func (r *Resolver) pathsSlot(ctx context.Context, manifestPath, catalogPath string) (Slot, error) {
	if manifestPath == "" || catalogPath == "" {
		return Slot{}, ErrPartialPathPair
	}

	manifestAbs, err := r.safePath(manifestPath)
	if err != nil {
		return Slot{}, err
	}

	catalogAbs, err := r.safePath(catalogPath)
	if err != nil {
		return Slot{}, err
	}

	bundle, err := r.store.LoadBundleFrom(ctx, manifestAbs)
	if err != nil {
		return Slot{}, err
	}

	catalog, err := r.store.LoadCatalogFrom(ctx, catalogAbs)
	if err != nil {
		return Slot{}, err
	}

	return Slot{
		Bundle:  bundle,
		Catalog: catalog,
		Source:  SourcePaths,
	}, nil
}

// backupSlot loads the manifest_backup/catalog_backup pair beside the
// current artifacts. The pair is used only when both files exist.
func (r *Resolver) backupSlot(ctx context.Context) (Slot, bool, error) {
	manifestPath := filepath.Join(r.store.Root(), artifact.ManifestBackupName)
	catalogPath := filepath.Join(r.store.Root(), artifact.CatalogBackupName)

	if _, err := os.Stat(manifestPath); err != nil {
		return Slot{}, false, nil
	}

	if _, err := os.Stat(catalogPath); err != nil {
		return Slot{}, false, nil
	}

	bundle, err := r.store.LoadBundleFrom(ctx, manifestPath)
	if err != nil {
		return Slot{}, false, err
	}

	catalog, err := r.store.LoadCatalogFrom(ctx, catalogPath)
	if err != nil {
		return Slot{}, false, err
	}

	return Slot{
		Bundle:  bundle,
		Catalog: catalog,
		Source:  SourceBackup,
	}, true, nil
}

// autoSnapshotSlot picks the lexicographically-last snapshot whose build
// instant differs from the current slot's. Captures that fail to load are
// skipped rather than failing the request; the baseline is best-effort.
func (r *Resolver) autoSnapshotSlot(ctx context.Context, current Slot) (Slot, bool) {
	labels, err := r.store.SnapshotLabels()
	if err != nil || len(labels) == 0 {
		return Slot{}, false
	}

	sorted := make([]string, len(labels))
	copy(sorted, labels)
	sort.Strings(sorted)

	currentGeneratedAt := ""
	if current.Bundle != nil {
		currentGeneratedAt = current.Bundle.GeneratedAt()
	}

	for i := len(sorted) - 1; i >= 0; i-- {
		label := sorted[i]

		generatedAt := r.store.SnapshotGeneratedAt(ctx, label)
		if generatedAt == "" || generatedAt == currentGeneratedAt {
			continue
		}

		snapshot, err := r.store.LoadSnapshot(ctx, label)
		if err != nil {
			r.logger.Warn("auto-baseline snapshot failed to load, trying older capture",
				slog.String("label", label),
				slog.String("error", err.Error()),
			)

			continue
		}

		return Slot{
			Bundle:  snapshot.Bundle,
			Catalog: snapshot.Catalog,
			Sources: snapshot.Sources,
			Source:  SourceAutoSnapshot,
			Label:   snapshot.Label,
		}, true
	}

	return Slot{}, false
}

// safePath resolves a caller-supplied path against the artifact root and
// rejects anything that escapes it or does not name a .json file. This is
// the only input-validation rule the resolver owes its callers.
func (r *Resolver) safePath(path string) (string, error) {
	if !strings.HasSuffix(strings.ToLower(path), ".json") {
		return "", fmt.Errorf("%w: %q must name a .json file", ErrUnsafePath, path)
	}

	root := r.store.Root()

	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}

	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes the artifact root", ErrUnsafePath, path)
	}

	return abs, nil
}

// HasPrevious reports whether the comparison carries a usable baseline.
func (c *Comparison) HasPrevious() bool {
	return c.Previous.Bundle != nil
}

// Describe summarizes the comparison for response metadata.
func (c *Comparison) Describe() Description {
	return Description{
		Current:  c.Current.describe(),
		Previous: c.Previous.describe(),
	}
}

func (s Slot) describe() SlotInfo {
	info := SlotInfo{Source: s.Source, Label: s.Label}
	if s.Bundle != nil {
		info.GeneratedAt = s.Bundle.GeneratedAt()
	}

	return info
}
