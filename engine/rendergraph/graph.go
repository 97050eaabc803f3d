package rendergraph

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"
	"github.com/spaghettifunk/vixen/engine/core"
	"github.com/spaghettifunk/vixen/engine/eventbus"
	"github.com/spaghettifunk/vixen/engine/vulkan"
)

/**
 * @brief Graph owns the node instances, the edge set and the compiled
 * schedule. Compile and Execute run single-threaded; dispatch order is
 * strictly topological.
 */
type Graph struct {
	primaryDevice *vulkan.Device
	devices       []*vulkan.Device

	registry  *NodeTypeRegistry
	allocator vulkan.Allocator
	bus       *eventbus.MessageBus

	commandPool vk.CommandPool

	nodes        []Node
	nameToHandle map[string]NodeHandle
	byType       map[NodeTypeID][]NodeHandle

	topology topology

	// Resources the graph allocated during compilation, released on
	// teardown or compile abort.
	ownedResources []*Resource

	executionOrder []NodeHandle
	isCompiled     bool

	frameNumber uint32
}

// GraphConfig injects the graph's collaborators. Registry and primary
// device are required; allocator and bus are optional (tests run without
// them).
type GraphConfig struct {
	PrimaryDevice *vulkan.Device
	Registry      *NodeTypeRegistry
	Allocator     vulkan.Allocator
	MessageBus    *eventbus.MessageBus
	CommandPool   vk.CommandPool
}

func NewGraph(config GraphConfig) (*Graph, error) {
	if config.PrimaryDevice == nil {
		return nil, fmt.Errorf("%w: primary device cannot be nil", core.ErrInvalidParameters)
	}
	if config.Registry == nil {
		return nil, fmt.Errorf("%w: node type registry cannot be nil", core.ErrInvalidParameters)
	}
	return &Graph{
		primaryDevice: config.PrimaryDevice,
		devices:       []*vulkan.Device{config.PrimaryDevice},
		registry:      config.Registry,
		allocator:     config.Allocator,
		bus:           config.MessageBus,
		commandPool:   config.CommandPool,
		nameToHandle:  make(map[string]NodeHandle),
		byType:        make(map[NodeTypeID][]NodeHandle),
	}, nil
}

// DeviceAt returns the device at a dense index, or the primary device.
func (g *Graph) DeviceAt(index uint32) *vulkan.Device {
	if int(index) < len(g.devices) {
		return g.devices[index]
	}
	return g.primaryDevice
}

// MessageBus exposes the bus for application subscriptions.
func (g *Graph) MessageBus() *eventbus.MessageBus { return g.bus }

// Registry exposes the injected type registry.
func (g *Graph) Registry() *NodeTypeRegistry { return g.registry }

// AddNode instantiates a node of a registered type on the primary device.
func (g *Graph) AddNode(typeName, instanceName string) (NodeHandle, error) {
	return g.AddNodeOnDevice(typeName, instanceName, nil)
}

// AddNodeByID instantiates by type id.
func (g *Graph) AddNodeByID(typeID NodeTypeID, instanceName string) (NodeHandle, error) {
	nodeType := g.registry.GetByID(typeID)
	if nodeType == nil {
		return InvalidNodeHandle, fmt.Errorf("%w: id %d", core.ErrUnknownNodeType, typeID)
	}
	return g.AddNodeOnDevice(nodeType.TypeName, instanceName, nil)
}

// AddNodeOnDevice instantiates a node with a device preference. A nil
// device means the primary.
func (g *Graph) AddNodeOnDevice(typeName, instanceName string, device *vulkan.Device) (NodeHandle, error) {
	if _, exists := g.nameToHandle[instanceName]; exists {
		return InvalidNodeHandle, fmt.Errorf("%w: %q", core.ErrDuplicateInstanceName, instanceName)
	}
	nodeType := g.registry.GetByName(typeName)
	if nodeType == nil {
		return InvalidNodeHandle, fmt.Errorf("%w: %q", core.ErrUnknownNodeType, typeName)
	}
	if nodeType.MaxInstances > 0 && uint32(len(g.byType[nodeType.ID])) >= nodeType.MaxInstances {
		return InvalidNodeHandle, fmt.Errorf("%w: type %q", core.ErrMaxInstancesReached, typeName)
	}

	node, err := nodeType.CreateInstance(instanceName)
	if err != nil || node == nil {
		return InvalidNodeHandle, fmt.Errorf("%w: type %q instance %q: %v", core.ErrInstanceCreationFailed, typeName, instanceName, err)
	}

	handle := NodeHandle(len(g.nodes))
	base := node.Base()
	base.Handle = handle
	if device != nil {
		base.PreferredDevice = g.deviceIndexOf(device)
	}

	g.nodes = append(g.nodes, node)
	g.nameToHandle[instanceName] = handle
	g.byType[nodeType.ID] = append(g.byType[nodeType.ID], handle)
	g.isCompiled = false
	return handle, nil
}

func (g *Graph) deviceIndexOf(device *vulkan.Device) uint32 {
	for i, existing := range g.devices {
		if existing == device {
			return uint32(i)
		}
	}
	g.devices = append(g.devices, device)
	return uint32(len(g.devices) - 1)
}

// ConnectNodes wires a producer output to a consumer input.
func (g *Graph) ConnectNodes(from NodeHandle, outputIndex int, to NodeHandle, inputIndex int) error {
	return g.Connect(from, outputIndex, to, inputIndex, -1)
}

// Connect wires with an explicit array index and optional modifiers.
func (g *Graph) Connect(from NodeHandle, outputIndex int, to NodeHandle, inputIndex int, arrayIndex int, modifiers ...ConnectionModifier) error {
	fromNode := g.Instance(from)
	toNode := g.Instance(to)
	if fromNode == nil || toNode == nil {
		return core.ErrInvalidNodeHandle
	}
	fromBase := fromNode.Base()
	toBase := toNode.Base()

	if outputIndex < 0 || outputIndex >= fromBase.Type.OutputCount() {
		return fmt.Errorf("%w: output %d of %s", core.ErrInvalidSlotIndex, outputIndex, fromBase.LogName)
	}
	if inputIndex < 0 || inputIndex >= toBase.Type.InputCount() {
		return fmt.Errorf("%w: input %d of %s", core.ErrInvalidSlotIndex, inputIndex, toBase.LogName)
	}

	targetSlot := &toBase.Type.Inputs[inputIndex]

	// Two producers into the same non-array, non-accumulation input slot
	// is a wiring error.
	if !targetSlot.IsAccumulation() && g.topology.findEdge(to, inputIndex, arrayIndex) != nil {
		return fmt.Errorf("%w: input %d of %s already connected", core.ErrConnectionTypeMismatch, inputIndex, toBase.LogName)
	}

	ctx := &ConnectionContext{
		Graph:             g,
		Source:            fromNode,
		SourceOutputIndex: outputIndex,
		Target:            toNode,
		TargetInputIndex:  inputIndex,
		ArrayIndex:        arrayIndex,
		TargetSlot:        targetSlot,
		Metadata:          map[string]interface{}{},
	}

	ordered := sortModifiers(modifiers)
	for _, modifier := range ordered {
		if err := modifier.PreValidation(ctx); err != nil {
			return fmt.Errorf("connection rejected by %s: %w", modifier.Name(), err)
		}
	}
	for _, modifier := range ordered {
		if err := modifier.PreResolve(ctx); err != nil {
			return fmt.Errorf("connection pre-resolve failed in %s: %w", modifier.Name(), err)
		}
	}

	// Create (or reuse) the producer's output resource so the same
	// output can fan out to many consumers.
	resource := fromBase.Output(outputIndex)
	if resource == nil {
		resource = g.createResourceForOutput(fromBase, outputIndex)
		_ = fromBase.SetOutput(outputIndex, resource)
	}
	if err := toBase.SetInput(inputIndex, resource); err != nil {
		return err
	}

	toBase.AddDependency(from)

	g.topology.addEdge(GraphEdge{
		Source:            from,
		SourceOutputIndex: outputIndex,
		Target:            to,
		TargetInputIndex:  inputIndex,
		ArrayIndex:        arrayIndex,
		Metadata:          ctx.Metadata,
	})

	for _, modifier := range ordered {
		if err := modifier.PostResolve(ctx); err != nil {
			return fmt.Errorf("connection post-resolve failed in %s: %w", modifier.Name(), err)
		}
	}

	g.isCompiled = false
	return nil
}

// ConnectVariadic wires a producer output into a variadic consumer's
// dynamically registered slot. The slot keeps its source pointer so
// Execute-role slots can fetch a fresh resource every frame.
func (g *Graph) ConnectVariadic(from NodeHandle, outputIndex int, to NodeHandle, slotIndex int) error {
	fromNode := g.Instance(from)
	toNode := g.Instance(to)
	if fromNode == nil || toNode == nil {
		return core.ErrInvalidNodeHandle
	}
	fromBase := fromNode.Base()
	toBase := toNode.Base()

	if outputIndex < 0 || outputIndex >= fromBase.Type.OutputCount() {
		return fmt.Errorf("%w: output %d of %s", core.ErrInvalidSlotIndex, outputIndex, fromBase.LogName)
	}
	variadic := variadicOf(toNode)
	if variadic == nil {
		return fmt.Errorf("%w: %s is not variadic", core.ErrConnectionTypeMismatch, toBase.LogName)
	}
	slot := variadic.VariadicSlot(slotIndex)
	if slot == nil {
		return fmt.Errorf("%w: variadic slot %d of %s", core.ErrInvalidSlotIndex, slotIndex, toBase.LogName)
	}

	resource := fromBase.Output(outputIndex)
	if resource == nil {
		resource = g.createResourceForOutput(fromBase, outputIndex)
		_ = fromBase.SetOutput(outputIndex, resource)
	}

	updated := *slot
	updated.SourceNode = from
	updated.SourceOutput = outputIndex
	updated.Resource = resource
	updated.ResourceType = resource.Kind
	variadic.UpdateVariadicSlot(slotIndex, updated)

	toBase.AddDependency(from)
	g.topology.addEdge(GraphEdge{
		Source:            from,
		SourceOutputIndex: outputIndex,
		Target:            to,
		TargetInputIndex:  toBase.Type.InputCount() + slotIndex,
		ArrayIndex:        -1,
	})

	g.isCompiled = false
	return nil
}

func (g *Graph) createResourceForOutput(base *NodeInstance, outputIndex int) *Resource {
	desc := &base.Type.Outputs[outputIndex]
	name := desc.Name
	if name == "" {
		name = uuid.New().String()
	}
	resource := NewResource(base.InstanceName+"."+name, desc.Kind, desc.Lifetime)
	resource.Usage = desc.Usage
	return resource
}

// RemoveNode removes a node from topology, type group and instance map,
// rebuilding the dense handle mapping. Raw handles into the old array are
// invalid afterwards.
func (g *Graph) RemoveNode(handle NodeHandle) {
	node := g.Instance(handle)
	if node == nil {
		return
	}
	base := node.Base()

	if base.State() != StateCreated {
		base.SetState(StateCleanup)
		cleanupCtx := &CleanupContext{nodeContext: nodeContext{graph: g, node: node}}
		cleanupCtx.variadic = variadicOf(node)
		if err := node.Cleanup(cleanupCtx); err != nil {
			core.LogWarn("%s: cleanup on removal: %v", base.LogName, err)
		}
	}

	g.topology.removeNode(handle)
	delete(g.nameToHandle, base.InstanceName)

	typeGroup := g.byType[base.Type.ID]
	for i, h := range typeGroup {
		if h == handle {
			g.byType[base.Type.ID] = append(typeGroup[:i], typeGroup[i+1:]...)
			break
		}
	}

	g.nodes = append(g.nodes[:handle], g.nodes[handle+1:]...)

	// Rebuild dense mappings: handles above the removed index shift down.
	g.nameToHandle = make(map[string]NodeHandle, len(g.nodes))
	g.byType = make(map[NodeTypeID][]NodeHandle, len(g.byType))
	for i, n := range g.nodes {
		b := n.Base()
		b.Handle = NodeHandle(i)
		g.nameToHandle[b.InstanceName] = NodeHandle(i)
		g.byType[b.Type.ID] = append(g.byType[b.Type.ID], NodeHandle(i))
		remapped := b.dependencies[:0]
		for _, dep := range b.dependencies {
			if dep == handle {
				continue
			}
			if dep > handle {
				dep--
			}
			remapped = append(remapped, dep)
		}
		b.dependencies = remapped
	}

	g.isCompiled = false
}

// Clear tears the graph down to an empty, uncompiled state.
func (g *Graph) Clear() {
	for _, node := range g.nodes {
		base := node.Base()
		if base.State() == StateCreated {
			continue
		}
		base.SetState(StateCleanup)
		cleanupCtx := &CleanupContext{nodeContext: nodeContext{graph: g, node: node}}
		cleanupCtx.variadic = variadicOf(node)
		if err := node.Cleanup(cleanupCtx); err != nil {
			core.LogWarn("%s: cleanup: %v", base.LogName, err)
		}
	}
	g.releaseOwnedResources()
	g.nodes = nil
	g.nameToHandle = make(map[string]NodeHandle)
	g.byType = make(map[NodeTypeID][]NodeHandle)
	g.topology.clear()
	g.executionOrder = nil
	g.devices = []*vulkan.Device{g.primaryDevice}
	g.isCompiled = false
}

func (g *Graph) releaseOwnedResources() {
	for _, resource := range g.ownedResources {
		resource.Release(g.allocator)
	}
	g.ownedResources = nil
}

// Instance returns the node at a handle, or nil.
func (g *Graph) Instance(handle NodeHandle) Node {
	if handle == InvalidNodeHandle || int(handle) >= len(g.nodes) {
		return nil
	}
	return g.nodes[handle]
}

// InstanceByName returns the node registered under a name, or nil.
func (g *Graph) InstanceByName(name string) Node {
	if handle, ok := g.nameToHandle[name]; ok {
		return g.Instance(handle)
	}
	return nil
}

// HandleByName returns the handle registered under a name.
func (g *Graph) HandleByName(name string) (NodeHandle, bool) {
	handle, ok := g.nameToHandle[name]
	return handle, ok
}

// InstancesOfType lists handles of a type id.
func (g *Graph) InstancesOfType(typeID NodeTypeID) []NodeHandle {
	return g.byType[typeID]
}

// InstanceCount counts live instances of a type id.
func (g *Graph) InstanceCount(typeID NodeTypeID) int {
	return len(g.byType[typeID])
}

func (g *Graph) NodeCount() int { return len(g.nodes) }

func (g *Graph) IsCompiled() bool { return g.isCompiled }

// Edges exposes the edge set read-only (tests, transfer-node insertion).
func (g *Graph) Edges() []GraphEdge { return g.topology.edges }

// ExecutionOrder exposes the compiled schedule.
func (g *Graph) ExecutionOrder() []NodeHandle { return g.executionOrder }

// Compile walks the phases in order: validate, propagate device affinity,
// analyze dependencies, allocate resources, generate pipelines, build the
// execution order. Validation and allocation failures abort with a
// composed error; partially allocated resources are released on abort.
func (g *Graph) Compile() error {
	// Re-compiling resets affected nodes.
	for _, node := range g.nodes {
		if node.Base().State() != StateCreated {
			node.Base().ResetForRecompile()
		}
	}

	if err := g.validate(); err != nil {
		return fmt.Errorf("graph validation failed: %w", err)
	}

	g.propagateDeviceAffinity()

	order, err := g.analyzeDependencies()
	if err != nil {
		return fmt.Errorf("graph dependency analysis failed: %w", err)
	}

	if err := g.allocateResources(order); err != nil {
		g.releaseOwnedResources()
		return fmt.Errorf("graph resource allocation failed: %w", err)
	}

	g.generatePipelines(order)

	g.executionOrder = order
	g.isCompiled = true
	return nil
}

// validate: topology acyclic, required inputs connected, instance counts
// within limits, device capabilities compatible.
func (g *Graph) validate() error {
	if _, err := g.topology.topologicalOrder(len(g.nodes)); err != nil {
		return err
	}

	for _, node := range g.nodes {
		base := node.Base()
		for i := range base.Type.Inputs {
			desc := &base.Type.Inputs[i]
			if !desc.Optional && base.Input(i) == nil {
				return fmt.Errorf("%w: node %s input %d (%s)", core.ErrMissingRequiredInput, base.LogName, i, desc.Name)
			}
		}
		if base.Type.MaxInstances > 0 && uint32(len(g.byType[base.Type.ID])) > base.Type.MaxInstances {
			return fmt.Errorf("%w: type %q", core.ErrMaxInstancesReached, base.Type.TypeName)
		}
		if err := g.checkDeviceCapabilities(base); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) checkDeviceCapabilities(base *NodeInstance) error {
	required := base.Type.RequiredCaps
	if required == 0 {
		return nil
	}
	device := g.DeviceAt(base.PreferredDevice)
	caps := device.Caps
	if required&CapabilityMeshShading != 0 && !caps.SupportsMeshShading {
		return fmt.Errorf("%w: node %s requires mesh shading", core.ErrInvalidParameters, base.LogName)
	}
	if required&CapabilityTaskShading != 0 && !caps.SupportsTaskShading {
		return fmt.Errorf("%w: node %s requires task shading", core.ErrInvalidParameters, base.LogName)
	}
	if required&CapabilityRayTracing != 0 && !caps.SupportsRayTracing {
		return fmt.Errorf("%w: node %s requires ray tracing", core.ErrInvalidParameters, base.LogName)
	}
	return nil
}

// propagateDeviceAffinity assigns every node a device index from the
// union of its producers' devices and its declared preference. Edges that
// end up crossing devices are marked as requiring a transfer; inserting
// the transfer node is an external responsibility.
func (g *Graph) propagateDeviceAffinity() {
	for _, node := range g.nodes {
		base := node.Base()
		assigned := base.PreferredDevice
		for _, dep := range base.dependencies {
			producer := g.Instance(dep)
			if producer == nil {
				continue
			}
			producerDevice := producer.Base().DeviceIndex
			if producerDevice == InvalidDeviceIndex {
				continue
			}
			if assigned == InvalidDeviceIndex {
				assigned = producerDevice
			} else if assigned != producerDevice {
				// Producers disagree; the declared preference wins and
				// the crossing edge carries the transfer mark below.
				core.LogDebug("%s: producers span devices %d and %d", base.LogName, assigned, producerDevice)
			}
		}
		if assigned == InvalidDeviceIndex {
			assigned = 0
		}
		base.DeviceIndex = assigned
	}

	for i := range g.topology.edges {
		edge := &g.topology.edges[i]
		source := g.Instance(edge.Source)
		target := g.Instance(edge.Target)
		if source == nil || target == nil {
			continue
		}
		edge.RequiresTransfer = source.Base().DeviceIndex != target.Base().DeviceIndex
		if edge.RequiresTransfer {
			core.LogDebug("edge %s -> %s crosses devices; transfer required",
				source.Base().LogName, target.Base().LogName)
		}
	}
}

// analyzeDependencies produces the linear execution order and stamps each
// node's execution index.
func (g *Graph) analyzeDependencies() ([]NodeHandle, error) {
	order, err := g.topology.topologicalOrder(len(g.nodes))
	if err != nil {
		return nil, err
	}
	for position, handle := range order {
		g.nodes[handle].Base().ExecutionOrder = position
	}
	return order, nil
}

// allocateResources walks the schedule and allocates producer outputs.
// Transient buffers with disjoint [firstUse, lastUse] ranges alias one
// another; transient images and persistents allocate directly.
func (g *Graph) allocateResources(order []NodeHandle) error {
	type lifeRange struct {
		resource *Resource
		firstUse int
		lastUse  int
	}

	// First use comes from the producer's schedule position, last use
	// from the reverse traversal over consumers.
	ranges := map[*Resource]*lifeRange{}
	for _, edge := range g.topology.edges {
		producer := g.nodes[edge.Source].Base()
		resource := producer.Output(edge.SourceOutputIndex)
		if resource == nil {
			continue
		}
		r, ok := ranges[resource]
		if !ok {
			r = &lifeRange{resource: resource, firstUse: producer.ExecutionOrder, lastUse: producer.ExecutionOrder}
			ranges[resource] = r
		}
		consumer := g.nodes[edge.Target].Base()
		if consumer.ExecutionOrder > r.lastUse {
			r.lastUse = consumer.ExecutionOrder
		}
	}

	// Deterministic walk in first-use order.
	ordered := make([]*lifeRange, 0, len(ranges))
	for _, r := range ranges {
		ordered = append(ordered, r)
	}
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j-1].firstUse > ordered[j].firstUse; j-- {
			ordered[j-1], ordered[j] = ordered[j], ordered[j-1]
		}
	}

	type aliasSlot struct {
		allocation *vulkan.Allocation
		lastUse    int
		size       uint64
	}
	var aliasPool []*aliasSlot

	for _, r := range ordered {
		resource := r.resource
		if resource.ImageDesc == nil && resource.BufferDesc == nil {
			// Opaque carriers and handle-wrapped resources allocate
			// nothing.
			continue
		}
		if resource.IsValid() {
			continue
		}
		if g.allocator == nil {
			return fmt.Errorf("%w: resource %q needs allocation", core.ErrAllocatorMissing, resource.Name)
		}

		if resource.Lifetime == LifetimeTransient && resource.BufferDesc != nil {
			// Alias onto an expired transient allocation of sufficient
			// size.
			reused := false
			for _, slot := range aliasPool {
				if slot.lastUse < r.firstUse && slot.size >= resource.BufferDesc.Size {
					resource.AdoptAllocation(slot.allocation)
					slot.lastUse = r.lastUse
					reused = true
					core.LogDebug("resource %q aliases an expired transient allocation", resource.Name)
					break
				}
			}
			if reused {
				continue
			}
		}

		var err error
		if resource.ImageDesc != nil {
			err = resource.AllocateImage(g.allocator)
		} else {
			err = resource.AllocateBuffer(g.allocator)
		}
		if err != nil {
			return fmt.Errorf("resource %q: %w", resource.Name, err)
		}
		g.ownedResources = append(g.ownedResources, resource)

		if resource.Lifetime == LifetimeTransient && resource.BufferDesc != nil {
			aliasPool = append(aliasPool, &aliasSlot{
				allocation: resource.Allocation,
				lastUse:    r.lastUse,
				size:       resource.BufferDesc.Size,
			})
		}
	}
	return nil
}

// generatePipelines runs Setup then Compile on every node in schedule
// order. Per-node failures mark the node Failed and skip its downstream
// dependents; independent branches continue.
func (g *Graph) generatePipelines(order []NodeHandle) {
	failed := map[NodeHandle]bool{}

	for _, handle := range order {
		node := g.nodes[handle]
		base := node.Base()

		// Skip nodes downstream of a failure.
		dependencyFailed := false
		for _, dep := range base.dependencies {
			if failed[dep] {
				dependencyFailed = true
				break
			}
		}
		if dependencyFailed {
			base.Fail(fmt.Errorf("dependency failed"))
			failed[handle] = true
			continue
		}

		variadic := variadicOf(node)

		base.SetState(StateSetup)
		setupCtx := &SetupContext{nodeContext: nodeContext{graph: g, node: node}}
		setupCtx.variadic = variadic
		if err := node.Setup(setupCtx); err != nil {
			base.Fail(fmt.Errorf("setup: %w", err))
			failed[handle] = true
			continue
		}

		base.SetState(StateGraphCompileSetup)
		compileCtx := &CompileContext{nodeContext: nodeContext{graph: g, node: node}}
		compileCtx.variadic = variadic
		if err := node.Compile(compileCtx); err != nil {
			base.Fail(fmt.Errorf("compile: %w", err))
			failed[handle] = true
			continue
		}

		base.SetState(StateCompiled)
		base.SetState(StateReady)
	}
}

func variadicOf(node Node) *VariadicBase {
	if holder, ok := node.(interface{ VariadicState() *VariadicBase }); ok {
		return holder.VariadicState()
	}
	return nil
}

// Execute walks the precompiled order once, invoking each ready node.
// Nodes not Ready or Compiled are skipped. Per-node errors mark the node
// Failed and execution continues with downstream-safe nodes.
func (g *Graph) Execute(commandBuffer vk.CommandBuffer) error {
	if !g.isCompiled {
		return fmt.Errorf("%w: graph must be compiled before execution", core.ErrInvalidParameters)
	}

	g.frameNumber++
	g.publishFrameEvent(eventbus.MessageFrameStart)

	for _, handle := range g.executionOrder {
		node := g.nodes[handle]
		base := node.Base()
		state := base.State()
		if state != StateReady && state != StateCompiled && state != StateComplete {
			continue
		}

		base.SetState(StateExecuting)
		executeCtx := &ExecuteContext{
			nodeContext:   nodeContext{graph: g, node: node},
			CommandBuffer: commandBuffer,
			FrameNumber:   g.frameNumber,
		}
		executeCtx.variadic = variadicOf(node)
		if err := node.Execute(executeCtx); err != nil {
			base.Fail(fmt.Errorf("execute: %w", err))
			continue
		}
		base.SetState(StateComplete)
	}

	g.publishFrameEvent(eventbus.MessageFrameEnd)

	if g.bus != nil {
		g.bus.ProcessMessages()
	}

	// Completed nodes re-arm for the next frame.
	for _, node := range g.nodes {
		if node.Base().State() == StateComplete {
			node.Base().SetState(StateReady)
		}
	}
	return nil
}

// RenderFrame executes with a null command buffer; nodes that need their
// own command buffers manage them internally.
func (g *Graph) RenderFrame() error {
	return g.Execute(vk.NullCommandBuffer)
}

func (g *Graph) FrameNumber() uint32 { return g.frameNumber }

func (g *Graph) publishFrameEvent(messageType eventbus.MessageType) {
	if g.bus == nil {
		return
	}
	g.bus.PublishImmediate(&eventbus.Message{
		Type:          messageType,
		CategoryFlags: eventbus.CategoryFrame,
		Payload:       &eventbus.FrameEventPayload{FrameNumber: g.frameNumber},
	})
}
