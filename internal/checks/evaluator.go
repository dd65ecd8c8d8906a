package checks

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pipewatch-io/pipewatch/internal/artifact"
	"github.com/pipewatch-io/pipewatch/internal/classify"
	"github.com/pipewatch-io/pipewatch/internal/compare"
)

// Check statuses.
const (
	StatusPass    = "pass"
	StatusFail    = "fail"
	StatusUnknown = "unknown"
)

// Check names. They double as style-key segments; the order schema, volume,
// freshness is fixed wherever the three appear together.
const (
	CheckSchema    = "schema"
	CheckVolume    = "volume"
	CheckFreshness = "freshness"
)

// StyleKeyNone is the style key when no check fails.
const StyleKeyNone = "none"

type (
	// SchemaCheck reports column drift between the previous and current
	// artifacts.
	SchemaCheck struct {
		Status         string       `json:"status"`
		AddedColumns   []string     `json:"added_columns"`
		RemovedColumns []string     `json:"removed_columns"`
		TypeChanges    []TypeChange `json:"type_changes"`
	}

	// TypeChange is one column whose type differs across the comparison.
	TypeChange struct {
		Column   string `json:"column"`
		Previous string `json:"previous"`
		Current  string `json:"current"`
	}

	// VolumeCheck reports row-count deviation against the baseline.
	VolumeCheck struct {
		Status           string   `json:"status"`
		CurrentRowCount  *int64   `json:"current_row_count,omitempty"`
		PreviousRowCount *int64   `json:"previous_row_count,omitempty"`
		DeviationPct     *float64 `json:"deviation_pct,omitempty"`
		ThresholdPct     float64  `json:"threshold_pct"`
	}

	// FreshnessCheck reports staleness of the current artifact. It does not
	// consult the baseline; the threshold depends on the reference
	// classification.
	FreshnessCheck struct {
		Status           string `json:"status"`
		LastUpdated      string `json:"last_updated,omitempty"`
		LagMinutes       *int64 `json:"lag_minutes,omitempty"`
		ThresholdMinutes int    `json:"threshold_minutes"`
		IsReferenceLike  bool   `json:"is_reference_like"`
		FreshnessSource  string `json:"freshness_source"`
	}

	// BroadChecks is the combined result for one node.
	BroadChecks struct {
		Schema    SchemaCheck    `json:"schema"`
		Volume    VolumeCheck    `json:"volume"`
		Freshness FreshnessCheck `json:"freshness"`
		StyleKey  string         `json:"style_key"`
		FailCount int            `json:"fail_count"`
	}

	// Evaluator computes broad checks for nodes of a comparison. Safe for
	// concurrent use; the thresholds and classifier are read-only.
	Evaluator struct {
		thresholds Thresholds
		classifier *classify.Classifier

		// now is the clock; tests substitute it to pin lag arithmetic.
		now func() time.Time
	}
)

// NewEvaluator creates an evaluator with the given limits and classifier.
func NewEvaluator(thresholds Thresholds, classifier *classify.Classifier) *Evaluator {
	if classifier == nil {
		classifier = classify.NewClassifier(nil)
	}

	return &Evaluator{
		thresholds: thresholds,
		classifier: classifier,
		now:        time.Now,
	}
}

// Thresholds returns the evaluator's configured limits.
func (e *Evaluator) Thresholds() Thresholds {
	return e.thresholds
}

// Now returns the evaluator's clock reading. Enrichment uses it so view
// timestamps and check lag agree on a single instant.
func (e *Evaluator) Now() time.Time {
	return e.now()
}

// Classify exposes the evaluator's reference classification for a node id
// of the comparison's current bundle.
func (e *Evaluator) Classify(nodeID string, cmp *compare.Comparison) classify.Result {
	node, _ := cmp.Current.Bundle.Node(nodeID)

	return e.classifier.Classify(node)
}

// Evaluate computes the three broad checks for nodeID over the comparison
// pair, plus the combined style key and fail count.
func (e *Evaluator) Evaluate(nodeID string, cmp *compare.Comparison) BroadChecks {
	currentNode, _ := cmp.Current.Bundle.Node(nodeID)
	previousNode, _ := cmp.Previous.Bundle.Node(nodeID)

	currentEntry, _ := cmp.Current.Catalog.Entry(nodeID)
	previousEntry, _ := cmp.Previous.Catalog.Entry(nodeID)

	result := BroadChecks{
		Schema:    schemaCheck(currentNode, currentEntry, previousNode, previousEntry),
		Volume:    e.volumeCheck(currentEntry, previousEntry),
		Freshness: e.freshnessCheck(currentNode, currentEntry, cmp.Current.Sources),
	}

	result.StyleKey, result.FailCount = styleKey(result)

	return result
}

// schemaCheck diffs the merged column-type maps of the two sides. With no
// baseline columns there is nothing to diff against and the status is
// unknown.
func schemaCheck(
	currentNode *artifact.Node,
	currentEntry *artifact.CatalogEntry,
	previousNode *artifact.Node,
	previousEntry *artifact.CatalogEntry,
) SchemaCheck {
	current := columnTypes(currentNode, currentEntry)
	previous := columnTypes(previousNode, previousEntry)

	check := SchemaCheck{
		Status:         StatusUnknown,
		AddedColumns:   []string{},
		RemovedColumns: []string{},
		TypeChanges:    []TypeChange{},
	}

	if len(previous) == 0 {
		return check
	}

	for name, currentType := range current {
		previousType, existed := previous[name]
		if !existed {
			check.AddedColumns = append(check.AddedColumns, name)

			continue
		}

		if previousType != currentType && previousType != "" && currentType != "" {
			check.TypeChanges = append(check.TypeChanges, TypeChange{
				Column:   name,
				Previous: previousType,
				Current:  currentType,
			})
		}
	}

	for name := range previous {
		if _, exists := current[name]; !exists {
			check.RemovedColumns = append(check.RemovedColumns, name)
		}
	}

	sort.Strings(check.AddedColumns)
	sort.Strings(check.RemovedColumns)
	sort.Slice(check.TypeChanges, func(i, j int) bool {
		return check.TypeChanges[i].Column < check.TypeChanges[j].Column
	})

	if len(check.AddedColumns) > 0 || len(check.RemovedColumns) > 0 || len(check.TypeChanges) > 0 {
		check.Status = StatusFail
	} else {
		check.Status = StatusPass
	}

	return check
}

// columnTypes merges a node's declared columns with its catalog's observed
// columns into one name→type map, preferring the catalog's type. Names and
// types are lowercased so warehouse case-folding does not read as drift.
func columnTypes(node *artifact.Node, entry *artifact.CatalogEntry) map[string]string {
	types := make(map[string]string)

	if node != nil {
		for name, column := range node.Columns {
			types[strings.ToLower(name)] = strings.ToLower(strings.TrimSpace(column.DataType))
		}
	}

	if entry != nil {
		for name, column := range entry.Columns {
			key := strings.ToLower(name)

			if observed := strings.ToLower(strings.TrimSpace(column.Type)); observed != "" {
				types[key] = observed
			} else if _, exists := types[key]; !exists {
				types[key] = ""
			}
		}
	}

	return types
}

// volumeCheck compares catalog row counts. Deviation is only defined when
// both counts exist and the baseline is positive; otherwise the status is
// unknown.
func (e *Evaluator) volumeCheck(currentEntry, previousEntry *artifact.CatalogEntry) VolumeCheck {
	check := VolumeCheck{
		Status:       StatusUnknown,
		ThresholdPct: e.thresholds.VolumeDeviationPct,
	}

	currentCount, currentOK := currentEntry.RowCount()
	if currentOK {
		n := int64(math.Round(currentCount))
		check.CurrentRowCount = &n
	}

	previousCount, previousOK := previousEntry.RowCount()
	if previousOK {
		n := int64(math.Round(previousCount))
		check.PreviousRowCount = &n
	}

	if !currentOK || !previousOK || previousCount <= 0 {
		return check
	}

	deviation := (currentCount - previousCount) / previousCount * 100
	check.DeviationPct = &deviation

	if math.Abs(deviation) > e.thresholds.VolumeDeviationPct {
		check.Status = StatusFail
	} else {
		check.Status = StatusPass
	}

	return check
}

// freshnessCheck measures how stale the node's data is, resolving the
// last-updated instant through the artifact priority chain.
func (e *Evaluator) freshnessCheck(
	node *artifact.Node,
	entry *artifact.CatalogEntry,
	sources artifact.FreshnessMap,
) FreshnessCheck {
	reference := e.classifier.Classify(node)

	threshold := e.thresholds.FreshnessMinutes
	if reference.IsReference {
		threshold = e.thresholds.ReferenceFreshnessMinutes
	}

	check := FreshnessCheck{
		Status:           StatusUnknown,
		ThresholdMinutes: threshold,
		IsReferenceLike:  reference.IsReference,
		FreshnessSource:  artifact.FreshnessUnknown,
	}

	now := e.now()

	lastUpdated, source, ok := artifact.ResolveLastUpdated(node, entry, sources, now)
	check.FreshnessSource = source

	if !ok {
		return check
	}

	check.LastUpdated = lastUpdated.UTC().Format(time.RFC3339)

	lag := int64(math.Round(now.Sub(lastUpdated).Minutes()))
	if lag < 0 {
		lag = 0
	}

	check.LagMinutes = &lag

	if lag > int64(threshold) {
		check.Status = StatusFail
	} else {
		check.Status = StatusPass
	}

	return check
}

// styleKey joins the names of failing checks with "+" in the canonical
// order. No failures spells "none".
func styleKey(result BroadChecks) (string, int) {
	failing := make([]string, 0, 3)

	if result.Schema.Status == StatusFail {
		failing = append(failing, CheckSchema)
	}

	if result.Volume.Status == StatusFail {
		failing = append(failing, CheckVolume)
	}

	if result.Freshness.Status == StatusFail {
		failing = append(failing, CheckFreshness)
	}

	if len(failing) == 0 {
		return StyleKeyNone, 0
	}

	return strings.Join(failing, "+"), len(failing)
}
