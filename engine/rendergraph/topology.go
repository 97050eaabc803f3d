package rendergraph

import (
	"fmt"

	"github.com/spaghettifunk/vixen/engine/core"
)

// GraphEdge connects a producer output to a consumer input. ArrayIndex is
// used when the target slot binds an array element; -1 otherwise.
type GraphEdge struct {
	Source            NodeHandle
	SourceOutputIndex int
	Target            NodeHandle
	TargetInputIndex  int
	ArrayIndex        int

	// Modifier metadata attached at connect time, keyed by name.
	Metadata map[string]interface{}

	// True when source and target were assigned different devices; an
	// external transfer node must be inserted before execution.
	RequiresTransfer bool
}

// topology tracks the edge set over the dense node array.
type topology struct {
	edges []GraphEdge
}

func (t *topology) addEdge(edge GraphEdge) {
	t.edges = append(t.edges, edge)
}

func (t *topology) clear() {
	t.edges = nil
}

// removeNode drops edges touching the handle and re-indexes the handles
// above it after the dense array shifted down.
func (t *topology) removeNode(handle NodeHandle) {
	kept := t.edges[:0]
	for _, edge := range t.edges {
		if edge.Source == handle || edge.Target == handle {
			continue
		}
		if edge.Source > handle {
			edge.Source--
		}
		if edge.Target > handle {
			edge.Target--
		}
		kept = append(kept, edge)
	}
	t.edges = kept
}

// edgesFrom returns the edges produced by a node.
func (t *topology) edgesFrom(handle NodeHandle) []GraphEdge {
	var result []GraphEdge
	for _, edge := range t.edges {
		if edge.Source == handle {
			result = append(result, edge)
		}
	}
	return result
}

// edgesTo returns the edges consumed by a node.
func (t *topology) edgesTo(handle NodeHandle) []GraphEdge {
	var result []GraphEdge
	for _, edge := range t.edges {
		if edge.Target == handle {
			result = append(result, edge)
		}
	}
	return result
}

// findEdge locates an existing edge into a target input slot.
func (t *topology) findEdge(target NodeHandle, inputIndex int, arrayIndex int) *GraphEdge {
	for i := range t.edges {
		edge := &t.edges[i]
		if edge.Target == target && edge.TargetInputIndex == inputIndex && edge.ArrayIndex == arrayIndex {
			return edge
		}
	}
	return nil
}

// topologicalOrder produces a linear execution order with Kahn's
// algorithm. Ties resolve by dense index so the order is deterministic.
// Returns ErrCycleDetected when edges form a cycle.
func (t *topology) topologicalOrder(nodeCount int) ([]NodeHandle, error) {
	inDegree := make([]int, nodeCount)
	adjacency := make([][]int, nodeCount)
	seen := make(map[[2]NodeHandle]bool)

	for _, edge := range t.edges {
		key := [2]NodeHandle{edge.Source, edge.Target}
		if seen[key] {
			// Parallel edges (multiple slots) count once for ordering.
			continue
		}
		seen[key] = true
		adjacency[edge.Source] = append(adjacency[edge.Source], int(edge.Target))
		inDegree[edge.Target]++
	}

	var ready []int
	for i := 0; i < nodeCount; i++ {
		if inDegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]NodeHandle, 0, nodeCount)
	for len(ready) > 0 {
		// Lowest dense index first keeps the schedule stable.
		minIdx := 0
		for i := 1; i < len(ready); i++ {
			if ready[i] < ready[minIdx] {
				minIdx = i
			}
		}
		current := ready[minIdx]
		ready = append(ready[:minIdx], ready[minIdx+1:]...)

		order = append(order, NodeHandle(current))
		for _, next := range adjacency[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != nodeCount {
		return nil, fmt.Errorf("%w: %d of %d nodes unreachable from a source", core.ErrCycleDetected, nodeCount-len(order), nodeCount)
	}
	return order, nil
}
