package artifact

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// maxReportedCycles bounds how many dependency cycles the validator logs for
// one manifest. Beyond this the graph is pathological and the count suffices.
const maxReportedCycles = 5

// Signature produces the bundle identity string used for cheap change
// detection: toolchain version, build instant, and per-collection node counts.
func Signature(m *Manifest) string {
	return fmt.Sprintf("%s:%s:%d:%d:%d",
		m.Metadata.DBTVersion,
		m.Metadata.GeneratedAt,
		len(m.Nodes),
		len(m.Sources),
		len(m.Macros),
	)
}

// ValidationResult is the advisory outcome of a structural validation pass.
// Issues never fail a load; they are logged for operators.
type ValidationResult struct {
	Valid  bool
	Issues []string
	Cycles []string
}

// ValidateIfChanged runs the structural validator when the bundle signature
// differs from the last validated one, and records the new signature. The
// result is advisory: a failing validation does not reject the bundle.
func (s *Store) ValidateIfChanged(b *Bundle) {
	s.mu.Lock()
	unchanged := s.validationSeen && s.lastValidated == b.Signature
	if !unchanged {
		s.lastValidated = b.Signature
		s.validationSeen = true
	}
	s.mu.Unlock()

	if unchanged {
		return
	}

	result := ValidateStructure(b)
	if result.Valid {
		s.logger.Debug("manifest structure validated",
			slog.String("signature", b.Signature),
		)

		return
	}

	s.logger.Warn("manifest structure validation found issues",
		slog.String("signature", b.Signature),
		slog.Int("issue_count", len(result.Issues)),
		slog.String("issues", strings.Join(result.Issues, "; ")),
	)
}

// ValidateStructure checks a bundle for the structural properties the engine
// relies on: a populated metadata section, a non-empty node union, and an
// acyclic dependency graph. Cycles are reported but tolerated; the lineage
// traversal is cycle-safe by construction.
func ValidateStructure(b *Bundle) ValidationResult {
	var result ValidationResult

	meta := b.Manifest.Metadata
	if meta.DBTVersion == "" && meta.GeneratedAt == "" && meta.DBTSchemaVersion == "" {
		result.Issues = append(result.Issues, "manifest metadata section is missing or empty")
	}

	if len(b.Nodes) == 0 {
		result.Issues = append(result.Issues, "manifest contains no nodes, sources, or macros")
	}

	result.Cycles = findDependencyCycles(b.Nodes)
	for _, cycle := range result.Cycles {
		result.Issues = append(result.Issues, "dependency cycle: "+cycle)
	}

	result.Valid = len(result.Issues) == 0

	return result
}

// visit states for the iterative cycle scan.
const (
	colorUnvisited = iota
	colorInStack
	colorDone
)

// findDependencyCycles runs an iterative DFS with an explicit recursion-stack
// set over the dependency edges. It returns up to maxReportedCycles
// representative cycle descriptions. Dangling parent references are skipped;
// they cannot participate in a cycle because they have no outgoing edges.
func findDependencyCycles(nodes map[string]*Node) []string {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	color := make(map[string]int, len(nodes))

	var cycles []string

	type frame struct {
		id      string
		parents []string
		next    int
	}

	for _, start := range ids {
		if color[start] != colorUnvisited {
			continue
		}

		stack := []frame{{id: start, parents: existingParents(nodes, start)}}
		color[start] = colorInStack

		for len(stack) > 0 {
			top := &stack[len(stack)-1]

			if top.next >= len(top.parents) {
				color[top.id] = colorDone
				stack = stack[:len(stack)-1]

				continue
			}

			parent := top.parents[top.next]
			top.next++

			switch color[parent] {
			case colorUnvisited:
				color[parent] = colorInStack
				stack = append(stack, frame{id: parent, parents: existingParents(nodes, parent)})
			case colorInStack:
				if len(cycles) < maxReportedCycles {
					path := make([]string, 0, len(stack))
					for i := range stack {
						path = append(path, stack[i].id)
					}

					cycles = append(cycles, describeCycle(path, parent))
				}
			}
		}
	}

	return cycles
}

// existingParents filters a node's parents to those present in the merged
// view; dangling references have no edges to follow.
func existingParents(nodes map[string]*Node, id string) []string {
	node, ok := nodes[id]
	if !ok {
		return nil
	}

	parents := node.ParentIDs()

	existing := make([]string, 0, len(parents))

	for _, p := range parents {
		if _, present := nodes[p]; present {
			existing = append(existing, p)
		}
	}

	return existing
}

// describeCycle renders the portion of the DFS path from the re-entered
// node to the top, which is exactly the cycle body.
func describeCycle(path []string, reentered string) string {
	var begin int

	for i, id := range path {
		if id == reentered {
			begin = i

			break
		}
	}

	parts := make([]string, 0, len(path)-begin+1)
	parts = append(parts, path[begin:]...)
	parts = append(parts, reentered)

	return strings.Join(parts, " -> ")
}
