package quality

import (
	"strings"

	"github.com/pipewatch-io/pipewatch/internal/artifact"
)

// Test types. Every test is binned into exactly one.
const (
	TypeFreshness = "freshness"
	TypeVolume    = "volume"
	TypeQuality   = "quality"
	TypeOther     = "other"
)

// genericQualityTests are the built-in generic test names that assert data
// quality.
var genericQualityTests = map[string]struct{}{
	"unique":          {},
	"not_null":        {},
	"relationships":   {},
	"accepted_values": {},
}

// classifyTest bins one test node. Generic-test metadata is authoritative
// when it carries the expected namespace; otherwise the lowercased test name
// is matched by substring.
func classifyTest(node *artifact.Node) string {
	if md := node.TestMetadata; md != nil && md.Name != "" && isGenericNamespace(md.Namespace) {
		name := strings.ToLower(md.Name)

		switch {
		case name == "dbt_freshness" || name == "freshness":
			return TypeFreshness
		default:
			if _, ok := genericQualityTests[name]; ok {
				return TypeQuality
			}

			return TypeOther
		}
	}

	return classifyTestName(node.Name)
}

// isGenericNamespace reports whether a test_metadata namespace is the
// built-in generic-test namespace. dbt spells it as an empty string; some
// producers write "dbt" explicitly.
func isGenericNamespace(namespace string) bool {
	switch strings.ToLower(strings.TrimSpace(namespace)) {
	case "", "dbt":
		return true
	default:
		return false
	}
}

// classifyTestName is the substring fallback for tests without usable
// metadata.
func classifyTestName(name string) string {
	n := strings.ToLower(name)

	switch {
	case strings.Contains(n, "freshness"):
		return TypeFreshness
	case strings.Contains(n, "row_count"),
		strings.Contains(n, "volume"),
		strings.Contains(n, "not_empty"):
		return TypeVolume
	case strings.Contains(n, "not_null"),
		strings.Contains(n, "unique"),
		strings.Contains(n, "accepted_values"),
		strings.Contains(n, "relationships"),
		strings.Contains(n, "type_check"):
		return TypeQuality
	default:
		return TypeOther
	}
}
