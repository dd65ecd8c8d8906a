// Package classify decides whether an asset represents slow-changing
// reference data (lookup tables, dimensions, seeds) as opposed to regular
// pipeline output. Reference-like assets earn a much longer freshness
// threshold and a UI hint.
package classify

import (
	"sort"
	"strings"

	"github.com/pipewatch-io/pipewatch/internal/artifact"
)

// Reason tags, one per decision rule. Rules are evaluated in the order
// listed here; the first match wins.
const (
	ReasonMetaFlag        = "meta.reference_table"
	ReasonMetaDataClass   = "meta.data_class=reference"
	ReasonTag             = "tag"
	ReasonSeed            = "seed"
	ReasonHardcodedName   = "hardcoded_table_name"
	ReasonNamePattern     = "name_pattern"
	ReasonKeyValueColumns = "key_value_columns"
	ReasonNotReference    = "not_reference"
)

type (
	// Result is the classification verdict for one asset.
	Result struct {
		IsReference bool   `json:"is_reference"`
		Reason      string `json:"reason"`
	}

	// Classifier evaluates the reference-data decision rules. It is built
	// once at startup (defaults plus optional YAML extensions) and is safe
	// for concurrent use.
	Classifier struct {
		tables   map[string]struct{}
		tags     map[string]struct{}
		patterns []string
		kvPairs  map[string]struct{}
	}
)

// defaultTables lists well-known slow-changing reference entities from the
// AdventureWorks sample corpus the artifact layout ships with.
var defaultTables = []string{
	"addresstype",
	"contacttype",
	"countryregion",
	"culture",
	"currency",
	"phonenumbertype",
	"salesreason",
	"scrapreason",
	"shipmethod",
	"unitmeasure",
}

// defaultTags are the tag spellings that mark an asset as reference data.
var defaultTags = []string{"ref", "reference", "lookup", "static", "dimension"}

// defaultPatterns are the name substrings that suggest reference data.
var defaultPatterns = []string{"lookup", "reference", "_type", "_reason"}

// keyValuePairs are the canonical two-column shapes of a key/value lookup
// table. Each pair is stored with its members sorted so column order in the
// manifest does not matter.
var keyValuePairs = [][2]string{
	{"id", "name"},
	{"id", "description"},
	{"code", "name"},
	{"code", "description"},
	{"key", "value"},
	{"type", "description"},
	{"status", "description"},
}

// NewClassifier builds a classifier from the built-in rules extended by the
// optional configuration. A nil config uses the defaults alone.
func NewClassifier(cfg *Config) *Classifier {
	c := &Classifier{
		tables:  make(map[string]struct{}, len(defaultTables)),
		tags:    make(map[string]struct{}, len(defaultTags)),
		kvPairs: make(map[string]struct{}, len(keyValuePairs)),
	}

	for _, name := range defaultTables {
		c.tables[name] = struct{}{}
	}

	for _, tag := range defaultTags {
		c.tags[tag] = struct{}{}
	}

	c.patterns = append(c.patterns, defaultPatterns...)

	for _, pair := range keyValuePairs {
		c.kvPairs[pairKey(pair[0], pair[1])] = struct{}{}
	}

	if cfg != nil {
		for _, name := range cfg.ReferenceTables {
			if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
				c.tables[name] = struct{}{}
			}
		}

		for _, tag := range cfg.ReferenceTags {
			if tag = strings.ToLower(strings.TrimSpace(tag)); tag != "" {
				c.tags[tag] = struct{}{}
			}
		}

		for _, pattern := range cfg.ReferenceNamePatterns {
			if pattern = strings.ToLower(strings.TrimSpace(pattern)); pattern != "" {
				c.patterns = append(c.patterns, pattern)
			}
		}
	}

	return c
}

// Classify applies the decision rules to one asset; the first matching rule
// determines the verdict. Pure function of the asset's attributes.
func (c *Classifier) Classify(node *artifact.Node) Result {
	if node == nil {
		return Result{IsReference: false, Reason: ReasonNotReference}
	}

	if node.MetaBool("reference_table") {
		return Result{IsReference: true, Reason: ReasonMetaFlag}
	}

	if strings.EqualFold(node.MetaString("data_class"), "reference") {
		return Result{IsReference: true, Reason: ReasonMetaDataClass}
	}

	for _, tag := range node.Tags {
		if _, ok := c.tags[strings.ToLower(strings.TrimSpace(tag))]; ok {
			return Result{IsReference: true, Reason: ReasonTag}
		}
	}

	if node.Kind() == artifact.KindSeed || node.Materialization() == artifact.KindSeed {
		return Result{IsReference: true, Reason: ReasonSeed}
	}

	name := strings.ToLower(node.Name)

	if _, ok := c.tables[name]; ok {
		return Result{IsReference: true, Reason: ReasonHardcodedName}
	}

	for _, pattern := range c.patterns {
		if strings.Contains(name, pattern) {
			return Result{IsReference: true, Reason: ReasonNamePattern}
		}
	}

	if c.matchesKeyValueShape(node) {
		return Result{IsReference: true, Reason: ReasonKeyValueColumns}
	}

	return Result{IsReference: false, Reason: ReasonNotReference}
}

// matchesKeyValueShape reports whether the asset's declared columns are
// exactly one of the canonical key/value lookup pairs. Wider tables do not
// match even when they contain such a pair.
func (c *Classifier) matchesKeyValueShape(node *artifact.Node) bool {
	if len(node.Columns) != 2 {
		return false
	}

	names := make([]string, 0, 2)
	for name := range node.Columns {
		names = append(names, strings.ToLower(name))
	}

	_, ok := c.kvPairs[pairKey(names[0], names[1])]

	return ok
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}

	return a + "+" + b
}

// TableNames returns the hardcoded reference table allowlist, sorted.
// Exposed for diagnostics.
func (c *Classifier) TableNames() []string {
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
