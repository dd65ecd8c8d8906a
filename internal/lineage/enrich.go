package lineage

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pipewatch-io/pipewatch/internal/artifact"
	"github.com/pipewatch-io/pipewatch/internal/checks"
	"github.com/pipewatch-io/pipewatch/internal/classify"
	"github.com/pipewatch-io/pipewatch/internal/compare"
)

type (
	// NodeDetail is one asset of the view, enriched with catalog-derived
	// fields and its broad-checks result.
	NodeDetail struct {
		UniqueID        string              `json:"unique_id"`
		Name            string              `json:"name"`
		Kind            string              `json:"kind"`
		Database        string              `json:"database,omitempty"`
		Schema          string              `json:"schema,omitempty"`
		Description     string              `json:"description,omitempty"`
		Tags            []string            `json:"tags"`
		Materialized    string              `json:"materialized,omitempty"`
		Columns         []ColumnDetail      `json:"columns"`
		RowCount        *int64              `json:"row_count,omitempty"`
		LastUpdated     string              `json:"last_updated,omitempty"`
		FreshnessSource string              `json:"freshness_source"`
		Reference       classify.Result     `json:"reference"`
		ParentIDs       []string            `json:"parent_ids"`
		ChildIDs        []string            `json:"child_ids"`
		Observability   *checks.BroadChecks `json:"observability"`
	}

	// ColumnDetail is one column of the merged manifest/catalog column set.
	ColumnDetail struct {
		Name        string `json:"name"`
		Type        string `json:"type,omitempty"`
		Description string `json:"description,omitempty"`
		Comment     string `json:"comment,omitempty"`
		Index       int    `json:"index,omitempty"`
	}
)

// enrichAll builds sorted details for every id of a depth map, checking the
// caller's cancellation signal per node.
func (e *Engine) enrichAll(
	ctx context.Context,
	cmp *compare.Comparison,
	depths map[string]int,
) ([]*NodeDetail, error) {
	ids := make([]string, 0, len(depths))
	for id := range depths {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	details := make([]*NodeDetail, 0, len(ids))

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		node, ok := cmp.Current.Bundle.Node(id)
		if !ok {
			continue
		}

		details = append(details, e.enrich(node, cmp))
	}

	return details, nil
}

// enrich assembles the detail for one asset: merged columns, row count and
// last-updated from the catalog and freshness chain, reference
// classification, direct relatives, and the broad-checks block.
func (e *Engine) enrich(node *artifact.Node, cmp *compare.Comparison) *NodeDetail {
	entry, _ := cmp.Current.Catalog.Entry(node.UniqueID)

	detail := &NodeDetail{
		UniqueID:        node.UniqueID,
		Name:            node.Name,
		Kind:            node.Kind(),
		Database:        node.Database,
		Schema:          node.Schema,
		Description:     node.Description,
		Tags:            node.Tags,
		Materialized:    node.Materialization(),
		Columns:         mergeColumns(node, entry),
		FreshnessSource: artifact.FreshnessUnknown,
		Reference:       e.evaluator.Classify(node.UniqueID, cmp),
		ParentIDs:       node.ParentIDs(),
		ChildIDs:        cmp.Current.Bundle.Children(node.UniqueID),
	}

	if detail.Tags == nil {
		detail.Tags = []string{}
	}

	if detail.ParentIDs == nil {
		detail.ParentIDs = []string{}
	}

	if detail.ChildIDs == nil {
		detail.ChildIDs = []string{}
	}

	if count, ok := entry.RowCount(); ok {
		n := int64(math.Round(count))
		detail.RowCount = &n
	}

	if lastUpdated, source, ok := artifact.ResolveLastUpdated(node, entry, cmp.Current.Sources, e.evaluator.Now()); ok {
		detail.LastUpdated = lastUpdated.UTC().Format(time.RFC3339)
		detail.FreshnessSource = source
	}

	observability := e.evaluator.Evaluate(node.UniqueID, cmp)
	detail.Observability = &observability

	return detail
}

// mergeColumns unions the manifest's declared columns with the catalog's
// observed columns. The catalog's type wins when both declare one; the
// manifest's name spelling wins when the two differ only by case. The result
// is sorted by name.
func mergeColumns(node *artifact.Node, entry *artifact.CatalogEntry) []ColumnDetail {
	merged := make(map[string]*ColumnDetail)

	for name, column := range node.Columns {
		if name == "" {
			name = column.Name
		}

		merged[strings.ToLower(name)] = &ColumnDetail{
			Name:        name,
			Type:        column.DataType,
			Description: column.Description,
		}
	}

	if entry != nil {
		for name, column := range entry.Columns {
			key := strings.ToLower(name)

			detail, exists := merged[key]
			if !exists {
				detail = &ColumnDetail{Name: name}
				merged[key] = detail
			}

			if column.Type != "" {
				detail.Type = column.Type
			}

			detail.Comment = column.Comment
			detail.Index = column.Index
		}
	}

	columns := make([]ColumnDetail, 0, len(merged))
	for _, detail := range merged {
		columns = append(columns, *detail)
	}

	sort.Slice(columns, func(i, j int) bool { return columns[i].Name < columns[j].Name })

	return columns
}
