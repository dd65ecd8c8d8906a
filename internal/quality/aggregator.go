// Package quality aggregates the dbt tests attached to a node into a test
// report: declared tests from the manifest plus three synthetic tests drawn
// from the broad-check results.
package quality

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pipewatch-io/pipewatch/internal/artifact"
	"github.com/pipewatch-io/pipewatch/internal/checks"
	"github.com/pipewatch-io/pipewatch/internal/compare"
)

// Test statuses reuse the check-status spellings. Declared tests default to
// unknown because the manifest carries definitions, not run results.
const (
	StatusPass    = checks.StatusPass
	StatusFail    = checks.StatusFail
	StatusUnknown = checks.StatusUnknown
)

// Synthetic test names, one per broad check.
const (
	SyntheticSchemaDrift  = "schema_drift"
	SyntheticVolumeChange = "volume_change"
	SyntheticFreshnessLag = "freshness_lag"
)

type (
	// Test is one row of the report.
	Test struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Type        string `json:"type"`
		Status      string `json:"status"`
		Severity    string `json:"severity"`
		Description string `json:"description,omitempty"`
		ColumnName  string `json:"column_name,omitempty"`
	}

	// TestReport is the aggregate for one node. TotalTests and FailingTests
	// describe the full assembled set; the Tests list reflects the request's
	// filters.
	TestReport struct {
		NodeID        string              `json:"node_id"`
		TotalTests    int                 `json:"total_tests"`
		FailingTests  int                 `json:"failing_tests"`
		Tests         []Test              `json:"tests"`
		VolumeMetrics checks.VolumeCheck  `json:"volume_metrics"`
		BroadChecks   checks.BroadChecks  `json:"broad_checks"`
		Comparison    compare.Description `json:"comparison"`
	}

	// Filter narrows the reported test list. Empty fields match everything.
	Filter struct {
		TestType string
		Status   string
	}

	// Aggregator assembles test reports over a comparison pair.
	Aggregator struct {
		evaluator *checks.Evaluator
	}
)

// NewAggregator creates an aggregator that synthesizes broad-check tests
// through the given evaluator.
func NewAggregator(evaluator *checks.Evaluator) *Aggregator {
	return &Aggregator{evaluator: evaluator}
}

// Report assembles the test report for nodeID: every declared test attached
// to the node, plus the three synthetic broad-check tests, filtered by the
// request's type and status. Counters are taken before filtering.
func (a *Aggregator) Report(nodeID string, cmp *compare.Comparison, filter Filter) *TestReport {
	broad := a.evaluator.Evaluate(nodeID, cmp)

	tests := enumerateTests(nodeID, cmp.Current.Bundle)
	tests = append(tests, synthesizeTests(broad)...)

	failing := 0

	for _, test := range tests {
		if test.Status == StatusFail {
			failing++
		}
	}

	report := &TestReport{
		NodeID:        nodeID,
		TotalTests:    len(tests),
		FailingTests:  failing,
		Tests:         applyFilter(tests, filter),
		VolumeMetrics: broad.Volume,
		BroadChecks:   broad,
		Comparison:    cmp.Describe(),
	}

	return report
}

// enumerateTests collects the declared tests attached to nodeID: every node
// of kind test whose dependency list contains the id or whose file_key_name
// equals it. Sorted by test id.
func enumerateTests(nodeID string, bundle *artifact.Bundle) []Test {
	if bundle == nil || bundle.Manifest == nil {
		return nil
	}

	var tests []Test

	for _, node := range bundle.Manifest.Nodes {
		if node == nil || node.Kind() != artifact.KindTest {
			continue
		}

		if !testTargets(node, nodeID) {
			continue
		}

		tests = append(tests, Test{
			ID:          node.UniqueID,
			Name:        testName(node),
			Type:        classifyTest(node),
			Status:      StatusUnknown,
			Severity:    node.Severity(),
			Description: node.Description,
			ColumnName:  node.TestColumnName(),
		})
	}

	sort.Slice(tests, func(i, j int) bool { return tests[i].ID < tests[j].ID })

	return tests
}

func testTargets(test *artifact.Node, nodeID string) bool {
	for _, parent := range test.ParentIDs() {
		if parent == nodeID {
			return true
		}
	}

	return test.FileKeyName == nodeID
}

// testName prefers the generic-test name from the metadata over the node's
// often machine-generated full name.
func testName(node *artifact.Node) string {
	if node.TestMetadata != nil && node.TestMetadata.Name != "" {
		return node.TestMetadata.Name
	}

	return node.Name
}

// synthesizeTests turns the three broad checks into report rows with
// descriptions stating the numeric facts. Severity is error exactly when the
// check failed.
func synthesizeTests(broad checks.BroadChecks) []Test {
	return []Test{
		{
			ID:          "synthetic." + SyntheticSchemaDrift,
			Name:        SyntheticSchemaDrift,
			Type:        TypeQuality,
			Status:      broad.Schema.Status,
			Severity:    syntheticSeverity(broad.Schema.Status),
			Description: describeSchema(broad.Schema),
		},
		{
			ID:          "synthetic." + SyntheticVolumeChange,
			Name:        SyntheticVolumeChange,
			Type:        TypeVolume,
			Status:      broad.Volume.Status,
			Severity:    syntheticSeverity(broad.Volume.Status),
			Description: describeVolume(broad.Volume),
		},
		{
			ID:          "synthetic." + SyntheticFreshnessLag,
			Name:        SyntheticFreshnessLag,
			Type:        TypeFreshness,
			Status:      broad.Freshness.Status,
			Severity:    syntheticSeverity(broad.Freshness.Status),
			Description: describeFreshness(broad.Freshness),
		},
	}
}

func syntheticSeverity(status string) string {
	if status == StatusFail {
		return "error"
	}

	return "warning"
}

func describeSchema(check checks.SchemaCheck) string {
	if check.Status == StatusUnknown {
		return "no baseline columns to compare against"
	}

	return fmt.Sprintf("%d columns added, %d removed, %d type changes",
		len(check.AddedColumns), len(check.RemovedColumns), len(check.TypeChanges))
}

func describeVolume(check checks.VolumeCheck) string {
	if check.DeviationPct == nil {
		return "row counts unavailable for one or both sides"
	}

	return fmt.Sprintf("row count %d vs %d (deviation %.1f%%, threshold %.1f%%)",
		derefInt64(check.CurrentRowCount), derefInt64(check.PreviousRowCount),
		*check.DeviationPct, check.ThresholdPct)
}

func describeFreshness(check checks.FreshnessCheck) string {
	if check.LagMinutes == nil {
		return "no freshness timestamp available"
	}

	return fmt.Sprintf("last updated %d minutes ago (threshold %d)",
		*check.LagMinutes, check.ThresholdMinutes)
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}

	return *v
}

// applyFilter narrows the list to the requested type and status. Matching
// is case-insensitive; empty filter fields pass everything.
func applyFilter(tests []Test, filter Filter) []Test {
	testType := strings.ToLower(strings.TrimSpace(filter.TestType))
	status := strings.ToLower(strings.TrimSpace(filter.Status))

	if testType == "" && status == "" {
		return tests
	}

	filtered := make([]Test, 0, len(tests))

	for _, test := range tests {
		if testType != "" && test.Type != testType {
			continue
		}

		if status != "" && test.Status != status {
			continue
		}

		filtered = append(filtered, test)
	}

	return filtered
}
