package rendergraph

import (
	"sort"
)

// ConnectionContext is the mutable view a modifier works on while an edge
// is being established.
type ConnectionContext struct {
	Graph *Graph

	Source            Node
	SourceOutputIndex int
	Target            Node
	TargetInputIndex  int
	ArrayIndex        int

	// TargetSlot is the schema entry of the input being connected.
	TargetSlot *ResourceDescriptor

	// Metadata written by modifiers travels onto the finished edge.
	Metadata map[string]interface{}
}

/**
 * @brief ConnectionModifier attaches first-class behavior to an edge.
 * Modifiers run in descending Priority order through three hooks:
 * PreValidation may reject the connection and stash metadata, PreResolve
 * may transform slot descriptors before the edge is finalized, PostResolve
 * runs after binding.
 */
type ConnectionModifier interface {
	Priority() uint32
	Name() string
	PreValidation(ctx *ConnectionContext) error
	PreResolve(ctx *ConnectionContext) error
	PostResolve(ctx *ConnectionContext) error
}

// sortModifiers orders modifiers by descending priority, stable.
func sortModifiers(modifiers []ConnectionModifier) []ConnectionModifier {
	sorted := append([]ConnectionModifier{}, modifiers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})
	return sorted
}
