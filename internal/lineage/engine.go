// Package lineage computes bounded upstream/downstream closures over a
// manifest bundle's dependency graph, recording the shortest-path depth of
// every reached node.
package lineage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pipewatch-io/pipewatch/internal/artifact"
	"github.com/pipewatch-io/pipewatch/internal/checks"
	"github.com/pipewatch-io/pipewatch/internal/compare"
)

// Depth bounds. Requests outside [MinDepth, MaxDepth] are clamped, not
// rejected; DefaultDepth applies when a request does not say.
const (
	MinDepth     = 0
	MaxDepth     = 100
	DefaultDepth = 10
)

// ErrNodeNotFound indicates a root id absent from the merged node view.
var ErrNodeNotFound = errors.New("node not found")

type (
	// View is the computed lineage for one root: the enriched root asset,
	// its ancestors and descendants, the shortest-path depth per reached id,
	// and the two depth maxima.
	View struct {
		Root        *NodeDetail    `json:"root"`
		Parents     []*NodeDetail  `json:"parents"`
		Children    []*NodeDetail  `json:"children"`
		ParentDepth map[string]int `json:"parent_depth"`
		ChildDepth  map[string]int `json:"child_depth"`
		Depth       Depth          `json:"depth"`
	}

	// Depth holds the maxima of the two depth maps.
	Depth struct {
		Upstream   int `json:"upstream"`
		Downstream int `json:"downstream"`
	}

	// Engine runs the traversals and enriches reached nodes. Safe for
	// concurrent use: traversal state is per-call and bundles are immutable.
	Engine struct {
		evaluator *checks.Evaluator
		logger    *slog.Logger
	}
)

// NewEngine creates a lineage engine that enriches nodes through the given
// broad-checks evaluator.
func NewEngine(evaluator *checks.Evaluator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{evaluator: evaluator, logger: logger}
}

// ClampDepth forces a requested depth into [MinDepth, MaxDepth].
func ClampDepth(depth int) int {
	if depth < MinDepth {
		return MinDepth
	}

	if depth > MaxDepth {
		return MaxDepth
	}

	return depth
}

// ComputeDAG builds the lineage view for rootID over the comparison's
// current bundle, traversing at most maxDepth edges in each direction.
// Fails with ErrNodeNotFound when rootID is absent from the merged view and
// with the context's error when the caller goes away mid-traversal.
func (e *Engine) ComputeDAG(
	ctx context.Context,
	cmp *compare.Comparison,
	rootID string,
	maxDepth int,
) (*View, error) {
	maxDepth = ClampDepth(maxDepth)

	bundle := cmp.Current.Bundle

	root, ok := bundle.Node(rootID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, rootID)
	}

	upstream := func(id string) []string {
		node, exists := bundle.Node(id)
		if !exists {
			return nil
		}

		return node.ParentIDs()
	}

	parentDepth, err := traverse(ctx, bundle.Node, rootID, maxDepth, upstream)
	if err != nil {
		return nil, err
	}

	childDepth, err := traverse(ctx, bundle.Node, rootID, maxDepth, bundle.Children)
	if err != nil {
		return nil, err
	}

	view := &View{
		Root:        e.enrich(root, cmp),
		ParentDepth: parentDepth,
		ChildDepth:  childDepth,
		Depth: Depth{
			Upstream:   maxValue(parentDepth),
			Downstream: maxValue(childDepth),
		},
	}

	view.Parents, err = e.enrichAll(ctx, cmp, parentDepth)
	if err != nil {
		return nil, err
	}

	view.Children, err = e.enrichAll(ctx, cmp, childDepth)
	if err != nil {
		return nil, err
	}

	return view, nil
}

// traverse is one direction of the closure: an iterative depth-first walk
// with an explicit stack (deep chains must not exhaust the call stack) that
// relaxes depths, so a node reached again on a shorter path is re-expanded.
// The depth map doubles as the visited set; cycles therefore add no work
// beyond the first full traversal. The root's reserved depth 0 is removed
// before returning. Ids that resolve to no asset (dangling parent
// references) are tolerated but neither recorded nor traversed.
func traverse(
	ctx context.Context,
	lookup func(id string) (*artifact.Node, bool),
	rootID string,
	maxDepth int,
	neighbors func(id string) []string,
) (map[string]int, error) {
	depths := map[string]int{rootID: 0}
	stack := []string{rootID}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		depth := depths[id]
		if depth >= maxDepth {
			continue
		}

		for _, next := range neighbors(id) {
			if _, exists := lookup(next); !exists {
				continue
			}

			candidate := depth + 1

			if recorded, seen := depths[next]; seen && recorded <= candidate {
				continue
			}

			depths[next] = candidate
			stack = append(stack, next)
		}
	}

	delete(depths, rootID)

	return depths, nil
}

func maxValue(depths map[string]int) int {
	best := 0
	for _, d := range depths {
		if d > best {
			best = d
		}
	}

	return best
}
