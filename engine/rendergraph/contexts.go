package rendergraph

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vixen/engine/eventbus"
	"github.com/spaghettifunk/vixen/engine/vulkan"
)

// nodeContext is the shared view handed to a node during any phase.
type nodeContext struct {
	graph *Graph
	node  Node
}

// In reads an input slot. Returns nil if unconnected and the slot is
// nullable; required slots were checked during validation.
func (c *nodeContext) In(slot int) *Resource {
	return c.node.Base().Input(slot)
}

// InAccumulated reads every resource connected to an accumulation slot.
func (c *nodeContext) InAccumulated(slot int) []*Resource {
	return c.node.Base().AccumulatedInputs(slot)
}

// Out writes an output slot. Creates the opaque carrier resource on first
// use so downstream inputs wired before Compile see the update.
func (c *nodeContext) Out(slot int, value interface{}) {
	base := c.node.Base()
	existing := base.Output(slot)
	if existing == nil {
		name := base.InstanceName + "." + base.Type.Outputs[slot].Name
		existing = NewOpaqueResource(name, value)
		_ = base.SetOutput(slot, existing)
		return
	}
	existing.SetPayload(value)
}

// OutResource publishes a fully formed resource on an output slot.
func (c *nodeContext) OutResource(slot int, resource *Resource) {
	_ = c.node.Base().SetOutput(slot, resource)
}

// MessageBus returns the graph's bus, or nil when the graph runs without
// one.
func (c *nodeContext) MessageBus() *eventbus.MessageBus {
	return c.graph.bus
}

// Device returns the device this node was assigned to.
func (c *nodeContext) Device() *vulkan.Device {
	base := c.node.Base()
	if base.DeviceIndex == InvalidDeviceIndex {
		return c.graph.primaryDevice
	}
	return c.graph.DeviceAt(base.DeviceIndex)
}

// CommandPool returns the graph-owned pool for nodes that allocate their
// own command buffers.
func (c *nodeContext) CommandPool() vk.CommandPool {
	return c.graph.commandPool
}

// Allocator returns the graph's injected allocator.
func (c *nodeContext) Allocator() vulkan.Allocator {
	return c.graph.allocator
}

// Graph returns the owning graph for source-node lookups (Execute-role
// slot refresh).
func (c *nodeContext) Graph() *Graph {
	return c.graph
}

// variadicContext adds the variadic-slot view for nodes that embed
// VariadicBase.
type variadicContext struct {
	variadic *VariadicBase
}

func (c *variadicContext) InVariadicCount() int {
	if c.variadic == nil {
		return 0
	}
	return c.variadic.VariadicCount()
}

func (c *variadicContext) InVariadicSlot(index int) *VariadicSlotInfo {
	if c.variadic == nil {
		return nil
	}
	return c.variadic.VariadicSlot(index)
}

func (c *variadicContext) InVariadicResource(index int) *Resource {
	if c.variadic == nil {
		return nil
	}
	return c.variadic.VariadicResource(index)
}

func (c *variadicContext) UpdateVariadicSlot(index int, info VariadicSlotInfo) bool {
	if c.variadic == nil {
		return false
	}
	return c.variadic.UpdateVariadicSlot(index, info)
}

// SetupContext is handed to Setup. Node initialization only; connected
// inputs may not be read yet.
type SetupContext struct {
	nodeContext
	variadicContext
}

// CompileContext is handed to Compile; static inputs are connected and
// pipelines/descriptor artifacts are built here.
type CompileContext struct {
	nodeContext
	variadicContext
}

// ExecuteContext is handed to Execute once per frame.
type ExecuteContext struct {
	nodeContext
	variadicContext

	// CommandBuffer records this frame's work. Null when the node manages
	// its own command buffers.
	CommandBuffer vk.CommandBuffer

	FrameNumber uint32
}

// CleanupContext is handed to Cleanup on graph teardown or node removal.
type CleanupContext struct {
	nodeContext
	variadicContext
}
