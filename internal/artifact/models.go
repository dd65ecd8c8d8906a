// Package artifact provides loading, parsing, and indexing of dbt build
// artifacts (manifest.json, catalog.json, sources.json) for the Pipewatch engine.
package artifact

import (
	"strings"
)

// Node kinds recognized by the engine. Anything else normalizes to KindOther.
const (
	KindModel    = "model"
	KindSeed     = "seed"
	KindTest     = "test"
	KindSource   = "source"
	KindSnapshot = "snapshot"
	KindMacro    = "macro"
	KindOther    = "other"
)

type (
	// Manifest is the declarative asset graph produced by the upstream
	// transformation toolchain. Only the fields the engine reads are modeled;
	// everything else in the file is ignored on parse.
	Manifest struct {
		Metadata ManifestMetadata `json:"metadata"`
		Nodes    map[string]*Node `json:"nodes"`
		Sources  map[string]*Node `json:"sources"`
		Macros   map[string]*Node `json:"macros"`
	}

	// ManifestMetadata identifies the producing toolchain version and build instant.
	ManifestMetadata struct {
		DBTSchemaVersion string `json:"dbt_schema_version"`
		DBTVersion       string `json:"dbt_version"`
		GeneratedAt      string `json:"generated_at"`
	}

	// Node is a single asset in the manifest: a model, seed, source, test,
	// snapshot, or macro. The same shape is used for every collection; fields
	// that do not apply to a given kind are simply zero.
	Node struct {
		UniqueID     string            `json:"unique_id"`
		Name         string            `json:"name"`
		ResourceType string            `json:"resource_type"`
		Database     string            `json:"database"`
		Schema       string            `json:"schema"`
		Description  string            `json:"description"`
		Tags         []string          `json:"tags"`
		Columns      map[string]Column `json:"columns,omitempty"`
		Meta         map[string]any    `json:"meta,omitempty"`
		Config       *NodeConfig       `json:"config,omitempty"`
		DependsOn    DependsOn         `json:"depends_on"`
		TestMetadata *TestMetadata     `json:"test_metadata,omitempty"`
		FileKeyName  string            `json:"file_key_name,omitempty"`

		// CreatedAt is a legacy numeric field some artifact producers emit.
		// When present and plausible it is interpreted as "seconds before now"
		// by the freshness resolution chain. See LegacyCreatedAt.
		CreatedAt *float64 `json:"created_at,omitempty"`
	}

	// Column is a declared manifest column.
	Column struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		DataType    string `json:"data_type"`
	}

	// NodeConfig carries the subset of node configuration the engine reads.
	NodeConfig struct {
		Materialized string `json:"materialized"`
		Severity     string `json:"severity"`
	}

	// DependsOn lists the direct parents of a node.
	DependsOn struct {
		Nodes  []string `json:"nodes"`
		Macros []string `json:"macros"`
	}

	// TestMetadata describes a generic test attached to a node.
	TestMetadata struct {
		Name      string         `json:"name"`
		Namespace string         `json:"namespace"`
		Kwargs    map[string]any `json:"kwargs"`
	}
)

// Kind normalizes the node's resource type to one of the Kind* constants.
// An empty resource type falls back to the unique id prefix (e.g.
// "source.proj.raw.orders" is a source), which some older artifacts rely on.
func (n *Node) Kind() string {
	rt := strings.ToLower(strings.TrimSpace(n.ResourceType))
	if rt == "" {
		if i := strings.IndexByte(n.UniqueID, '.'); i > 0 {
			rt = strings.ToLower(n.UniqueID[:i])
		}
	}

	switch rt {
	case KindModel, KindSeed, KindTest, KindSource, KindSnapshot, KindMacro:
		return rt
	default:
		return KindOther
	}
}

// Materialization returns the configured materialization, if any.
func (n *Node) Materialization() string {
	if n.Config == nil {
		return ""
	}

	return strings.ToLower(strings.TrimSpace(n.Config.Materialized))
}

// Severity returns the configured test severity normalized to
// "error" or "warning". Tests without an explicit severity are warnings.
func (n *Node) Severity() string {
	if n.Config != nil && strings.EqualFold(strings.TrimSpace(n.Config.Severity), "error") {
		return "error"
	}

	return "warning"
}

// HasTag reports whether the node carries the given tag (case-insensitive).
func (n *Node) HasTag(tag string) bool {
	for _, t := range n.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}

	return false
}

// MetaString returns the string value stored under key in the node's
// free-form metadata, or "" when absent or non-string.
func (n *Node) MetaString(key string) string {
	if n.Meta == nil {
		return ""
	}

	if v, ok := n.Meta[key].(string); ok {
		return v
	}

	return ""
}

// MetaBool returns the boolean value stored under key in the node's
// metadata. String spellings of truth ("true", "yes", "1") are accepted
// because artifact producers are inconsistent about meta value types.
func (n *Node) MetaBool(key string) bool {
	if n.Meta == nil {
		return false
	}

	switch v := n.Meta[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1":
			return true
		}
	}

	return false
}

// TestColumnName extracts the column a generic test targets, when declared.
func (n *Node) TestColumnName() string {
	if n.TestMetadata == nil || n.TestMetadata.Kwargs == nil {
		return ""
	}

	if v, ok := n.TestMetadata.Kwargs["column_name"].(string); ok {
		return v
	}

	return ""
}

// ParentIDs returns the node's direct parents: depends_on.nodes followed by
// depends_on.macros, deduplicated while preserving first-seen order.
// Artifact producers occasionally emit the same parent twice.
func (n *Node) ParentIDs() []string {
	total := len(n.DependsOn.Nodes) + len(n.DependsOn.Macros)
	if total == 0 {
		return nil
	}

	seen := make(map[string]struct{}, total)
	parents := make([]string, 0, total)

	appendParent := func(id string) {
		if id == "" {
			return
		}

		if _, dup := seen[id]; dup {
			return
		}

		seen[id] = struct{}{}
		parents = append(parents, id)
	}

	for _, id := range n.DependsOn.Nodes {
		appendParent(id)
	}

	for _, id := range n.DependsOn.Macros {
		appendParent(id)
	}

	return parents
}

// DependsOnNode reports whether id appears in the node's dependency lists.
func (n *Node) DependsOnNode(id string) bool {
	for _, p := range n.DependsOn.Nodes {
		if p == id {
			return true
		}
	}

	for _, p := range n.DependsOn.Macros {
		if p == id {
			return true
		}
	}

	return false
}

// normalize fills derived fields after JSON decoding: map-key unique ids win
// over (possibly absent) in-body ids, and nil collections become empty so
// callers never nil-check.
func (m *Manifest) normalize() {
	if m.Nodes == nil {
		m.Nodes = map[string]*Node{}
	}

	if m.Sources == nil {
		m.Sources = map[string]*Node{}
	}

	if m.Macros == nil {
		m.Macros = map[string]*Node{}
	}

	for _, collection := range []map[string]*Node{m.Nodes, m.Sources, m.Macros} {
		for id, node := range collection {
			if node == nil {
				node = &Node{}
				collection[id] = node
			}

			if node.UniqueID == "" {
				node.UniqueID = id
			}
		}
	}
}
