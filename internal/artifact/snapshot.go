package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// SnapshotDirName is the directory under the store root holding labelled
// point-in-time artifact captures, each in its own subdirectory with a
// sibling index.json enumerating the labels.
const SnapshotDirName = "samples/adventureworks-batches"

// ErrInvalidSnapshotLabel indicates a snapshot label that is empty or would
// escape the snapshot directory.
var ErrInvalidSnapshotLabel = errors.New("invalid snapshot label")

type (
	// Snapshot is one labelled artifact capture: the manifest bundle plus
	// whatever optional companions the capture includes.
	Snapshot struct {
		Label   string
		Bundle  *Bundle
		Catalog *Catalog
		Sources FreshnessMap
		Summary *SnapshotSummary
	}

	// SnapshotSummary is the capture's summary.json sidecar.
	SnapshotSummary struct {
		Label       string `json:"label"`
		GeneratedAt string `json:"generated_at"`
		Description string `json:"description"`
		NodeCount   int    `json:"node_count"`
		SourceCount int    `json:"source_count"`
	}

	// snapshotIndex tolerates the two index.json spellings in the wild:
	// a bare JSON array of labels, or an object with a labels array.
	snapshotIndex struct {
		Labels []string `json:"labels"`
	}
)

// SnapshotDir returns the absolute snapshot directory for this store.
func (s *Store) SnapshotDir() string {
	return filepath.Join(s.root, filepath.FromSlash(SnapshotDirName))
}

// SnapshotLabels enumerates available snapshot labels. The index.json
// sidecar is authoritative and preserves insertion order; when it is absent
// the directory listing is used instead, sorted ascending.
func (s *Store) SnapshotLabels() ([]string, error) {
	indexPath := filepath.Join(s.SnapshotDir(), "index.json")

	raw, err := os.ReadFile(indexPath)
	if err == nil {
		if labels, parseErr := parseSnapshotIndex(raw); parseErr == nil {
			return labels, nil
		}

		s.logger.Warn("snapshot index malformed, falling back to directory listing",
			"path", indexPath,
		)
	}

	entries, err := os.ReadDir(s.SnapshotDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading snapshot directory: %w", err)
	}

	labels := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			labels = append(labels, entry.Name())
		}
	}

	sort.Strings(labels)

	return labels, nil
}

func parseSnapshotIndex(raw []byte) ([]string, error) {
	var bare []string
	if err := json.Unmarshal(raw, &bare); err == nil {
		return bare, nil
	}

	var wrapped snapshotIndex
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}

	return wrapped.Labels, nil
}

// SnapshotSummaryFor reads the summary.json of one capture. Absent or
// malformed summaries return nil without error; the summary is advisory.
func (s *Store) SnapshotSummaryFor(label string) *SnapshotSummary {
	dir, err := s.snapshotPath(label)
	if err != nil {
		return nil
	}

	raw, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	if err != nil {
		return nil
	}

	var summary SnapshotSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil
	}

	if summary.Label == "" {
		summary.Label = label
	}

	return &summary
}

// LoadSnapshot loads one labelled capture. The manifest is required; catalog
// and sources are optional companions. The three files are read in parallel.
func (s *Store) LoadSnapshot(ctx context.Context, label string) (*Snapshot, error) {
	dir, err := s.snapshotPath(label)
	if err != nil {
		return nil, err
	}

	if _, statErr := os.Stat(dir); statErr != nil {
		return nil, fmt.Errorf("%w: snapshot %q", ErrArtifactMissing, label)
	}

	snapshot := &Snapshot{Label: label}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		bundle, loadErr := s.LoadBundleFrom(ctx, filepath.Join(dir, ManifestFileName))
		if loadErr != nil {
			return loadErr
		}

		snapshot.Bundle = bundle

		return nil
	})

	g.Go(func() error {
		catalog, loadErr := s.LoadCatalogFrom(ctx, filepath.Join(dir, CatalogFileName))
		if loadErr != nil {
			// Optional companion: absence and parse failures degrade to nil.
			s.logger.Debug("snapshot catalog unavailable",
				"label", label,
				"error", loadErr.Error(),
			)

			return nil
		}

		snapshot.Catalog = catalog

		return nil
	})

	g.Go(func() error {
		sources, loadErr := s.Sources(filepath.Join(dir, SourcesFileName))
		if loadErr != nil {
			return nil
		}

		snapshot.Sources = sources

		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	snapshot.Summary = s.SnapshotSummaryFor(label)

	return snapshot, nil
}

// SnapshotGeneratedAt returns the capture's build instant without loading
// the full bundle: the summary sidecar is preferred, with the manifest
// metadata as fallback.
func (s *Store) SnapshotGeneratedAt(ctx context.Context, label string) string {
	if summary := s.SnapshotSummaryFor(label); summary != nil && summary.GeneratedAt != "" {
		return summary.GeneratedAt
	}

	dir, err := s.snapshotPath(label)
	if err != nil {
		return ""
	}

	bundle, err := s.LoadBundleFrom(ctx, filepath.Join(dir, ManifestFileName))
	if err != nil {
		return ""
	}

	return bundle.GeneratedAt()
}

// snapshotPath validates a label and resolves it inside the snapshot
// directory. Labels are bare directory names; separators and parent
// references are rejected so callers cannot escape the snapshot root.
func (s *Store) snapshotPath(label string) (string, error) {
	if label == "" ||
		strings.ContainsAny(label, `/\`) ||
		strings.Contains(label, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidSnapshotLabel, label)
	}

	return filepath.Join(s.SnapshotDir(), label), nil
}
