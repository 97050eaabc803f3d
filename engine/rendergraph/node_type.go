package rendergraph

import (
	"fmt"

	"github.com/spaghettifunk/vixen/engine/core"
)

// NodeTypeID names a registered node type. Issued once per registry.
type NodeTypeID uint32

// PipelineType constrains what kind of pipeline instances of a type build.
type PipelineType uint8

const (
	PipelineNone PipelineType = iota
	PipelineGraphics
	PipelineCompute
	PipelineRayTracing
)

// DeviceCapabilityFlags are features a node type requires from its device.
type DeviceCapabilityFlags uint32

const (
	CapabilityMeshShading DeviceCapabilityFlags = 1 << iota
	CapabilityTaskShading
	CapabilityRayTracing
)

// SlotRole flags how an input participates in the lifecycle. Combinable.
type SlotRole uint8

const (
	// RoleDependency marks a static input gathered during Compile.
	RoleDependency SlotRole = 1 << iota
	// RoleExecute marks a transient per-frame input refreshed in Execute.
	RoleExecute
	// RoleDebug marks participation in readback plumbing.
	RoleDebug
)

func (r SlotRole) HasDependency() bool { return r&RoleDependency != 0 }
func (r SlotRole) HasExecute() bool    { return r&RoleExecute != 0 }
func (r SlotRole) HasDebug() bool      { return r&RoleDebug != 0 }

// SlotFlags carry wiring metadata beyond the role.
type SlotFlags uint8

const (
	// SlotAccumulation collects multiple source outputs into a sequence
	// instead of rebinding.
	SlotAccumulation SlotFlags = 1 << iota
	SlotMutable
)

// ResourceDescriptor is one entry of a node type's input or output schema.
type ResourceDescriptor struct {
	Name     string
	Kind     ResourceKind
	Usage    ResourceUsageFlags
	Lifetime ResourceLifetime
	// Optional inputs may stay unconnected; In returns nil then.
	Optional bool
	Role     SlotRole
	Flags    SlotFlags
}

func (d *ResourceDescriptor) IsAccumulation() bool {
	return d.Flags&SlotAccumulation != 0
}

// NodeFactory creates a live instance of a node type.
type NodeFactory func(instanceName string, nodeType *NodeType) (Node, error)

/**
 * @brief NodeType describes a class of nodes: schemas, constraints and the
 * instance factory. Registered once in a NodeTypeRegistry.
 */
type NodeType struct {
	ID       NodeTypeID
	TypeName string

	Inputs  []ResourceDescriptor
	Outputs []ResourceDescriptor

	Pipeline     PipelineType
	RequiredCaps DeviceCapabilityFlags

	// MaxInstances limits concurrent instances per graph; 0 = unlimited.
	MaxInstances uint32

	Factory NodeFactory
}

func (t *NodeType) InputCount() int  { return len(t.Inputs) }
func (t *NodeType) OutputCount() int { return len(t.Outputs) }

// CreateInstance builds a new live node of this type.
func (t *NodeType) CreateInstance(instanceName string) (Node, error) {
	if t.Factory == nil {
		return nil, fmt.Errorf("%w: type %q has no factory", core.ErrInstanceCreationFailed, t.TypeName)
	}
	return t.Factory(instanceName, t)
}

/**
 * @brief NodeTypeRegistry owns the known node types. A per-graph
 * dependency injected at construction; there is no global registry.
 */
type NodeTypeRegistry struct {
	byID   map[NodeTypeID]*NodeType
	byName map[string]*NodeType
	nextID NodeTypeID
}

func NewNodeTypeRegistry() *NodeTypeRegistry {
	return &NodeTypeRegistry{
		byID:   make(map[NodeTypeID]*NodeType),
		byName: make(map[string]*NodeType),
		nextID: 1,
	}
}

// Register assigns the type an id and stores it. Re-registering a name
// fails.
func (r *NodeTypeRegistry) Register(nodeType *NodeType) (NodeTypeID, error) {
	if nodeType == nil {
		return 0, core.ErrInvalidParameters
	}
	if _, exists := r.byName[nodeType.TypeName]; exists {
		return 0, fmt.Errorf("%w: node type %q already registered", core.ErrDuplicateInstanceName, nodeType.TypeName)
	}
	nodeType.ID = r.nextID
	r.nextID++
	r.byID[nodeType.ID] = nodeType
	r.byName[nodeType.TypeName] = nodeType
	return nodeType.ID, nil
}

func (r *NodeTypeRegistry) GetByID(id NodeTypeID) *NodeType {
	return r.byID[id]
}

func (r *NodeTypeRegistry) GetByName(name string) *NodeType {
	return r.byName[name]
}
