package artifact

import (
	"strconv"
	"strings"
	"time"
)

type (
	// Catalog is the physical counterpart of the Manifest: per-asset column
	// types, ownership, and statistics as observed in the warehouse.
	Catalog struct {
		Metadata CatalogMetadata          `json:"metadata"`
		Nodes    map[string]*CatalogEntry `json:"nodes"`
		Sources  map[string]*CatalogEntry `json:"sources"`
	}

	// CatalogMetadata identifies the catalog build.
	CatalogMetadata struct {
		DBTSchemaVersion string `json:"dbt_schema_version"`
		DBTVersion       string `json:"dbt_version"`
		GeneratedAt      string `json:"generated_at"`
	}

	// CatalogEntry holds one asset's physical description.
	CatalogEntry struct {
		Metadata EntryMetadata            `json:"metadata"`
		Columns  map[string]CatalogColumn `json:"columns"`

		// Stats values are loosely typed on purpose: producers emit
		// primitives, numeric strings, or {value: ...} wrappers depending on
		// the warehouse adapter. Use StatValue / StatNumber / StatTime.
		Stats map[string]any `json:"stats"`
	}

	// EntryMetadata is the identification block of a catalog entry.
	EntryMetadata struct {
		Type      string `json:"type"`
		Schema    string `json:"schema"`
		Name      string `json:"name"`
		Comment   string `json:"comment"`
		Owner     string `json:"owner"`
		UpdatedAt string `json:"updated_at"`
	}

	// CatalogColumn is a physically observed column.
	CatalogColumn struct {
		Type    string `json:"type"`
		Index   int    `json:"index"`
		Comment string `json:"comment"`
	}
)

// Entry returns the catalog record for id, looking at nodes first and then
// sources. The second return is false when the id has no physical record.
func (c *Catalog) Entry(id string) (*CatalogEntry, bool) {
	if c == nil {
		return nil, false
	}

	if e, ok := c.Nodes[id]; ok && e != nil {
		return e, true
	}

	if e, ok := c.Sources[id]; ok && e != nil {
		return e, true
	}

	return nil, false
}

// normalize replaces nil maps after JSON decoding.
func (c *Catalog) normalize() {
	if c.Nodes == nil {
		c.Nodes = map[string]*CatalogEntry{}
	}

	if c.Sources == nil {
		c.Sources = map[string]*CatalogEntry{}
	}
}

// StatValue unwraps a raw statistics value. Adapter output disagrees on
// shape: a stat may be a bare primitive or an object carrying the primitive
// under "value" (the full dbt form also has id/label/description siblings).
func StatValue(raw any) (any, bool) {
	if raw == nil {
		return nil, false
	}

	if wrapper, ok := raw.(map[string]any); ok {
		inner, present := wrapper["value"]
		if !present || inner == nil {
			return nil, false
		}

		return inner, true
	}

	return raw, true
}

// StatNumber reads a statistics value as a float64, accepting primitives,
// {value} wrappers, and numeric strings.
func StatNumber(stats map[string]any, key string) (float64, bool) {
	raw, ok := stats[key]
	if !ok {
		return 0, false
	}

	inner, ok := StatValue(raw)
	if !ok {
		return 0, false
	}

	return asNumber(inner)
}

// StatTime reads a statistics value as a timestamp, accepting the string
// layouts adapters are known to emit plus numeric epochs.
func StatTime(stats map[string]any, key string) (time.Time, bool) {
	raw, ok := stats[key]
	if !ok {
		return time.Time{}, false
	}

	inner, ok := StatValue(raw)
	if !ok {
		return time.Time{}, false
	}

	return asTime(inner)
}

// RowCount resolves an entry's row count from stats.num_rows or
// stats.row_count, in that order.
func (e *CatalogEntry) RowCount() (float64, bool) {
	if e == nil || e.Stats == nil {
		return 0, false
	}

	if n, ok := StatNumber(e.Stats, "num_rows"); ok {
		return n, true
	}

	return StatNumber(e.Stats, "row_count")
}

func asNumber(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0, false
		}

		return n, true
	default:
		return 0, false
	}
}

// timeLayouts are tried in order when parsing string timestamps. The set
// covers RFC 3339 plus the space-separated variants warehouse adapters emit.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

const millisEpochThreshold = 1e12 // numeric epochs above this are milliseconds

func asTime(v any) (time.Time, bool) {
	switch value := v.(type) {
	case string:
		return ParseArtifactTime(value)
	case float64:
		if value <= 0 {
			return time.Time{}, false
		}

		if value >= millisEpochThreshold {
			return time.UnixMilli(int64(value)).UTC(), true
		}

		return time.Unix(int64(value), 0).UTC(), true
	default:
		return time.Time{}, false
	}
}

// ParseArtifactTime parses a timestamp string using the layouts artifact
// producers are known to emit. Returns false on empty or unparseable input.
func ParseArtifactTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}

	return time.Time{}, false
}
