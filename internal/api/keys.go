package api

import (
	"strconv"
	"strings"

	"github.com/pipewatch-io/pipewatch/internal/compare"
	"github.com/pipewatch-io/pipewatch/internal/quality"
)

// Cache key sentinels. Absent comparison parameters are folded to fixed
// spellings so the same logical request always maps to the same key.
const (
	sentinelCurrent = "current"
	sentinelAuto    = "auto"
	sentinelAll     = "all"

	keySeparator = "|"
)

// dagCacheKey composes the cache key for a lineage request. The key carries
// everything that changes the payload: node id, clamped depth, and the four
// comparison selectors.
func dagCacheKey(nodeID string, maxDepth int, params compare.Params) string {
	parts := []string{
		"dag",
		nodeID,
		strconv.Itoa(maxDepth),
		orSentinel(params.CurrentSnapshot, sentinelCurrent),
		orSentinel(params.PreviousSnapshot, sentinelAuto),
		orSentinel(params.PreviousManifestPath, sentinelAuto),
		orSentinel(params.PreviousCatalogPath, sentinelAuto),
	}

	return strings.Join(parts, keySeparator)
}

// errorsCacheKey composes the cache key for a test-report request. Filters
// change the payload, so they are part of the key.
func errorsCacheKey(nodeID string, filter quality.Filter, params compare.Params) string {
	parts := []string{
		"errors",
		nodeID,
		orSentinel(filter.TestType, sentinelAll),
		orSentinel(filter.Status, sentinelAll),
		orSentinel(params.CurrentSnapshot, sentinelCurrent),
		orSentinel(params.PreviousSnapshot, sentinelAuto),
		orSentinel(params.PreviousManifestPath, sentinelAuto),
		orSentinel(params.PreviousCatalogPath, sentinelAuto),
	}

	return strings.Join(parts, keySeparator)
}

// keyMatchesNode reports whether a cache key belongs to the given node, for
// either key family. The node id is always the second segment.
func keyMatchesNode(key, nodeID string) bool {
	parts := strings.SplitN(key, keySeparator, 3)

	return len(parts) >= 2 && parts[1] == nodeID
}

func orSentinel(value, sentinel string) string {
	if value == "" {
		return sentinel
	}

	return value
}
