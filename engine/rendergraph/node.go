package rendergraph

import (
	"fmt"
	"math"

	"github.com/spaghettifunk/vixen/engine/core"
)

// NodeHandle is a dense index into the graph's instance array. Invalidated
// by graph mutations that shift indices (RemoveNode).
type NodeHandle uint32

const InvalidNodeHandle NodeHandle = math.MaxUint32

// NodeState is the lifecycle state of a node instance.
type NodeState uint8

const (
	StateCreated NodeState = iota
	StateSetup
	StateGraphCompileSetup
	StateCompiled
	StateReady
	StateExecuting
	StateComplete
	StateCleanup
	StateFailed
)

func (s NodeState) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateSetup:
		return "Setup"
	case StateGraphCompileSetup:
		return "GraphCompileSetup"
	case StateCompiled:
		return "Compiled"
	case StateReady:
		return "Ready"
	case StateExecuting:
		return "Executing"
	case StateComplete:
		return "Complete"
	case StateCleanup:
		return "Cleanup"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// CanTransition reports whether the state machine allows moving to next.
// States advance in declaration order; Cleanup is reachable from any
// non-Created state and Failed from anywhere.
func (s NodeState) CanTransition(next NodeState) bool {
	if next == StateFailed {
		return true
	}
	if next == StateCleanup {
		return s != StateCreated
	}
	if next == StateCreated {
		// Re-compiling a graph resets affected nodes.
		return true
	}
	return next == s+1 || (s == StateComplete && next == StateExecuting) ||
		(s == StateComplete && next == StateReady)
}

// Node is implemented by every node. The four lifecycle methods receive
// typed contexts; Base exposes the shared instance record.
type Node interface {
	Base() *NodeInstance
	Setup(ctx *SetupContext) error
	Compile(ctx *CompileContext) error
	Execute(ctx *ExecuteContext) error
	Cleanup(ctx *CleanupContext) error
}

// VariadicNode is implemented by nodes exposing a dynamic slot bundle.
type VariadicNode interface {
	Node
	// ValidateVariadicInputs adds shader-specific checks on top of the
	// base validation.
	ValidateVariadicInputs(ctx *CompileContext) bool
}

/**
 * @brief NodeInstance is the live realization of a NodeType: identity,
 * state, slots and parameters. Concrete nodes embed it and implement the
 * lifecycle hooks.
 */
type NodeInstance struct {
	InstanceName string
	Type         *NodeType

	// Dense index of the device this node runs on, assigned during
	// device-affinity propagation.
	DeviceIndex uint32
	// Preferred device declared at AddNode time; InvalidDeviceIndex when
	// the node has no preference.
	PreferredDevice uint32

	state NodeState

	params *ParameterMap

	dependencies []NodeHandle

	inputs  []*Resource
	outputs []*Resource
	// Accumulation inputs collect one entry per incoming connection.
	accumulated map[int][]*Resource

	variadicSlots []VariadicSlotInfo
	variadicMin   int
	variadicMax   int

	// ExecutionOrder is the node's index in the flat schedule, set by the
	// dependency analysis phase.
	ExecutionOrder int

	// Handle back into the owning graph's dense array.
	Handle NodeHandle

	// LogName prefixes this node's log lines.
	LogName string

	failure error
}

const InvalidDeviceIndex uint32 = math.MaxUint32

// NewNodeInstance initializes the shared record for a concrete node.
func NewNodeInstance(instanceName string, nodeType *NodeType) *NodeInstance {
	ni := &NodeInstance{
		InstanceName:    instanceName,
		Type:            nodeType,
		PreferredDevice: InvalidDeviceIndex,
		params:          NewParameterMap(),
		inputs:          make([]*Resource, len(nodeType.Inputs)),
		outputs:         make([]*Resource, len(nodeType.Outputs)),
		accumulated:     make(map[int][]*Resource),
		variadicMax:     -1,
		Handle:          InvalidNodeHandle,
		LogName:         fmt.Sprintf("%s(%s)", nodeType.TypeName, instanceName),
	}
	return ni
}

func (ni *NodeInstance) Base() *NodeInstance { return ni }

func (ni *NodeInstance) State() NodeState { return ni.state }

// SetState transitions the state machine, logging rejected transitions.
func (ni *NodeInstance) SetState(next NodeState) bool {
	if !ni.state.CanTransition(next) {
		core.LogWarn("%s: rejected state transition %s -> %s", ni.LogName, ni.state, next)
		return false
	}
	ni.state = next
	return true
}

// Fail marks the node Failed and records the diagnostic.
func (ni *NodeInstance) Fail(err error) {
	ni.state = StateFailed
	ni.failure = err
	core.LogError("%s: failed: %v", ni.LogName, err)
}

func (ni *NodeInstance) Failure() error { return ni.failure }

func (ni *NodeInstance) Parameters() *ParameterMap { return ni.params }

// Input returns the resource connected to an input slot, or nil.
func (ni *NodeInstance) Input(slot int) *Resource {
	if slot < 0 || slot >= len(ni.inputs) {
		return nil
	}
	return ni.inputs[slot]
}

// SetInput attaches a resource to an input slot. Accumulation slots
// collect; regular slots rebind.
func (ni *NodeInstance) SetInput(slot int, resource *Resource) error {
	if slot < 0 || slot >= len(ni.inputs) {
		return core.ErrInvalidSlotIndex
	}
	desc := &ni.Type.Inputs[slot]
	if desc.IsAccumulation() {
		ni.accumulated[slot] = append(ni.accumulated[slot], resource)
		ni.inputs[slot] = resource
		return nil
	}
	ni.inputs[slot] = resource
	return nil
}

// AccumulatedInputs returns every resource connected to an accumulation
// slot, in connection order.
func (ni *NodeInstance) AccumulatedInputs(slot int) []*Resource {
	return ni.accumulated[slot]
}

// Output returns the resource produced at an output slot, or nil.
func (ni *NodeInstance) Output(slot int) *Resource {
	if slot < 0 || slot >= len(ni.outputs) {
		return nil
	}
	return ni.outputs[slot]
}

// SetOutput attaches the produced resource to an output slot.
func (ni *NodeInstance) SetOutput(slot int, resource *Resource) error {
	if slot < 0 || slot >= len(ni.outputs) {
		return core.ErrInvalidSlotIndex
	}
	ni.outputs[slot] = resource
	return nil
}

// AddDependency records a producer this node waits on.
func (ni *NodeInstance) AddDependency(handle NodeHandle) {
	for _, existing := range ni.dependencies {
		if existing == handle {
			return
		}
	}
	ni.dependencies = append(ni.dependencies, handle)
}

func (ni *NodeInstance) Dependencies() []NodeHandle { return ni.dependencies }

// ResetForRecompile returns the node to Created and clears phase-derived
// state; connections and parameters survive.
func (ni *NodeInstance) ResetForRecompile() {
	ni.state = StateCreated
	ni.failure = nil
	ni.ExecutionOrder = 0
}
