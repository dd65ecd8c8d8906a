package artifact

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

type (
	// SourceFreshness is one source's freshness observation from the
	// sources.json artifact.
	SourceFreshness struct {
		UniqueID      string
		MaxLoadedAt   time.Time
		SnapshottedAt time.Time
		Status        string
	}

	// FreshnessMap indexes freshness observations by source unique id.
	FreshnessMap map[string]SourceFreshness

	// freshnessEntry caches one parsed sources file keyed by its
	// modification instant; a changed file replaces the entry.
	freshnessEntry struct {
		modTime time.Time
		data    FreshnessMap
	}

	// sourcesArtifact mirrors the subset of sources.json the engine reads.
	sourcesArtifact struct {
		Results []sourceResult `json:"results"`
	}

	sourceResult struct {
		UniqueID      string `json:"unique_id"`
		MaxLoadedAt   string `json:"max_loaded_at"`
		SnapshottedAt string `json:"snapshotted_at"`
		Status        string `json:"status"`
	}
)

// Sources loads the source-freshness artifact at path, caching the parsed
// map per absolute path and invalidating on file modification. A missing
// file is silently absent: freshness falls back to catalog and manifest
// sources downstream. An empty path reads sources.json at the store root.
func (s *Store) Sources(path string) (FreshnessMap, error) {
	if path == "" {
		path = filepath.Join(s.root, SourcesFileName)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, nil
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, nil
	}

	s.freshMu.RLock()
	entry, ok := s.freshness[abs]
	s.freshMu.RUnlock()

	if ok && entry.modTime.Equal(info.ModTime()) {
		return entry.data, nil
	}

	data := parseSourcesFile(abs, s.logger)

	s.freshMu.Lock()
	s.freshness[abs] = &freshnessEntry{modTime: info.ModTime(), data: data}
	s.freshMu.Unlock()

	return data, nil
}

// parseSourcesFile reads and parses one sources.json. Unreadable or
// malformed content degrades to an empty map with a warning; the freshness
// check has other sources to fall back on.
func parseSourcesFile(path string, logger *slog.Logger) FreshnessMap {
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("source freshness file unreadable",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return FreshnessMap{}
	}

	var parsed sourcesArtifact
	if err := json.Unmarshal(raw, &parsed); err != nil {
		logger.Warn("source freshness file malformed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return FreshnessMap{}
	}

	data := make(FreshnessMap, len(parsed.Results))

	for _, result := range parsed.Results {
		if result.UniqueID == "" {
			continue
		}

		entry := SourceFreshness{
			UniqueID: result.UniqueID,
			Status:   result.Status,
		}

		if t, ok := ParseArtifactTime(result.MaxLoadedAt); ok {
			entry.MaxLoadedAt = t
		}

		if t, ok := ParseArtifactTime(result.SnapshottedAt); ok {
			entry.SnapshottedAt = t
		}

		data[result.UniqueID] = entry
	}

	return data
}

// LastLoaded resolves the freshness instant for a source: max_loaded_at when
// recorded, otherwise snapshotted_at. The second return is false when neither
// instant is known.
func (f FreshnessMap) LastLoaded(id string) (time.Time, bool) {
	entry, ok := f[id]
	if !ok {
		return time.Time{}, false
	}

	if !entry.MaxLoadedAt.IsZero() {
		return entry.MaxLoadedAt, true
	}

	if !entry.SnapshottedAt.IsZero() {
		return entry.SnapshottedAt, true
	}

	return time.Time{}, false
}
