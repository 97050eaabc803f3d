package nodes

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vixen/engine/core"
	"github.com/spaghettifunk/vixen/engine/rendergraph"
	"github.com/spaghettifunk/vixen/engine/shaderdata"
	"github.com/spaghettifunk/vixen/engine/vulkan"
)

// DescriptorResourceGatherer slot indexes.
const (
	GathererShaderDataBundle = 0

	GathererDescriptorResources = 0
	GathererShaderBundleOut     = 1
	GathererDebugCapture        = 2
)

const DescriptorResourceGathererTypeName = "DescriptorResourceGatherer"

// GatheredResource is one entry of the gatherer's output array, indexed
// by binding slot.
type GatheredResource struct {
	Handle rendergraph.DescriptorHandle
	Role   rendergraph.SlotRole
	// DebugCapture is set when the slot's role carries the Debug flag and
	// the resource implements the capability.
	DebugCapture rendergraph.DebugCapture
}

// NewDescriptorResourceGathererNodeType describes the gatherer.
func NewDescriptorResourceGathererNodeType() *rendergraph.NodeType {
	return &rendergraph.NodeType{
		TypeName: DescriptorResourceGathererTypeName,
		Inputs: []rendergraph.ResourceDescriptor{
			{Name: "SHADER_DATA_BUNDLE", Kind: rendergraph.ResourceKindOpaque, Role: rendergraph.RoleDependency},
		},
		Outputs: []rendergraph.ResourceDescriptor{
			{Name: "DESCRIPTOR_RESOURCES", Kind: rendergraph.ResourceKindOpaque},
			{Name: "SHADER_DATA_BUNDLE_OUT", Kind: rendergraph.ResourceKindOpaque},
			{Name: "DEBUG_CAPTURE", Kind: rendergraph.ResourceKindOpaque, Optional: true},
		},
		Factory: func(instanceName string, nodeType *rendergraph.NodeType) (rendergraph.Node, error) {
			return NewDescriptorResourceGathererNode(instanceName, nodeType), nil
		},
	}
}

/**
 * @brief DescriptorResourceGathererNode reconciles what the shader
 * demands with what the graph connects: it validates pre-registered
 * tentative slots against the bundle's descriptor layout, gathers the
 * validated resources into an ordered array indexed by binding, and
 * refreshes Execute-role slots every frame from their source nodes.
 */
type DescriptorResourceGathererNode struct {
	*rendergraph.NodeInstance
	rendergraph.VariadicBase

	resourceArray []GatheredResource
}

func NewDescriptorResourceGathererNode(instanceName string, nodeType *rendergraph.NodeType) *DescriptorResourceGathererNode {
	node := &DescriptorResourceGathererNode{
		NodeInstance: rendergraph.NewNodeInstance(instanceName, nodeType),
	}
	node.SetVariadicConstraints(0, -1)
	return node
}

// PreRegisterBindings creates tentative slots from generated binding
// references and tightens the variadic min/max to the count. Argument
// order does not matter; validation matches by binding index.
func (n *DescriptorResourceGathererNode) PreRegisterBindings(references []shaderdata.BindingReference) {
	slots := make([]rendergraph.VariadicSlotInfo, 0, len(references))
	for _, ref := range references {
		slots = append(slots, rendergraph.NewTentativeSlot(ref.Binding, ref.Type, ref.Name))
	}
	n.PreRegisterSlots(slots)
}

// BindVariadicSource wires a producer output into a variadic slot. The
// resource itself is resolved at Compile (Dependency role) or every frame
// (Execute role).
func (n *DescriptorResourceGathererNode) BindVariadicSource(slotIndex int, source rendergraph.NodeHandle, outputIndex int, role rendergraph.SlotRole) bool {
	slot := n.VariadicSlot(slotIndex)
	if slot == nil {
		return false
	}
	updated := *slot
	updated.SourceNode = source
	updated.SourceOutput = outputIndex
	if role != 0 {
		updated.Role = role
	}
	return n.UpdateVariadicSlot(slotIndex, updated)
}

// AttachVariadicResource directly binds a resource to a slot (tests and
// host-produced resources).
func (n *DescriptorResourceGathererNode) AttachVariadicResource(slotIndex int, resource *rendergraph.Resource) bool {
	slot := n.VariadicSlot(slotIndex)
	if slot == nil {
		return false
	}
	updated := *slot
	updated.Resource = resource
	if resource != nil {
		updated.ResourceType = resource.Kind
	}
	return n.UpdateVariadicSlot(slotIndex, updated)
}

// ResourceArray exposes the gathered output (tests, downstream debug).
func (n *DescriptorResourceGathererNode) ResourceArray() []GatheredResource {
	return n.resourceArray
}

func (n *DescriptorResourceGathererNode) Setup(ctx *rendergraph.SetupContext) error {
	// Node initialization only; connected inputs may not be read here.
	return nil
}

func (n *DescriptorResourceGathererNode) Compile(ctx *rendergraph.CompileContext) error {
	bundle := bundleFromInput(ctx.In(GathererShaderDataBundle))
	if bundle == nil {
		return fmt.Errorf("%w: connect a shader library output to SHADER_DATA_BUNDLE", core.ErrMissingShaderBundle)
	}
	if bundle.DescriptorLayout == nil || !bundle.DescriptorLayout.IsValid() {
		return fmt.Errorf("%w: bundle %q", core.ErrMissingLayout, bundle.Name)
	}
	layout := bundle.DescriptorLayout
	core.LogDebug("%s: shader expects %d descriptor bindings", n.LogName, len(layout.Bindings))

	if err := n.validateDeviceLimits(layout, ctx.Device()); err != nil {
		return err
	}

	n.resolveSourceResources(ctx.Graph())
	n.validateTentativeSlots(layout)

	if !n.ValidateVariadicInputs(ctx) {
		return fmt.Errorf("%w: variadic input validation failed", core.ErrInvalidParameters)
	}

	n.resourceArray = make([]GatheredResource, layout.MaxBindingIndex()+1)
	n.gatherResources()

	ctx.Out(GathererDescriptorResources, n.resourceArray)
	ctx.Out(GathererShaderBundleOut, bundle)
	ctx.Out(GathererDebugCapture, n.firstDebugCapture())
	return nil
}

// validateDeviceLimits checks per-descriptor-type counts against the
// device and logs utilization.
func (n *DescriptorResourceGathererNode) validateDeviceLimits(layout *shaderdata.DescriptorLayoutSpec, device *vulkan.Device) error {
	if device == nil {
		return nil
	}
	caps := device.Caps

	counts := map[vk.DescriptorType]uint32{}
	for _, binding := range layout.Bindings {
		counts[binding.DescriptorType] += binding.DescriptorCount
	}

	for descriptorType, count := range counts {
		var limit uint32
		var typeName string
		switch descriptorType {
		case vk.DescriptorTypeSampler, vk.DescriptorTypeCombinedImageSampler:
			limit = caps.MaxPerStageDescriptorSamplers
			typeName = "samplers"
		case vk.DescriptorTypeSampledImage:
			limit = caps.MaxPerStageDescriptorSampledImages
			typeName = "sampled images"
		case vk.DescriptorTypeStorageImage:
			limit = caps.MaxPerStageDescriptorStorageImages
			typeName = "storage images"
		case vk.DescriptorTypeUniformBuffer, vk.DescriptorTypeUniformBufferDynamic:
			limit = caps.MaxPerStageDescriptorUniformBuffers
			typeName = "uniform buffers"
		case vk.DescriptorTypeStorageBuffer, vk.DescriptorTypeStorageBufferDynamic:
			limit = caps.MaxPerStageDescriptorStorageBuffers
			typeName = "storage buffers"
		default:
			continue
		}
		if limit == 0 {
			continue
		}
		if count > limit {
			return fmt.Errorf("%w: %s count %d exceeds device limit %d", core.ErrDescriptorLimitExceeded, typeName, count, limit)
		}
		usagePercent := float32(count) / float32(limit) * 100.0
		core.LogInfo("%s: %s usage %d/%d (%.0f%%, %d remaining)", n.LogName, typeName, count, limit, usagePercent, limit-count)
	}
	return nil
}

// resolveSourceResources fetches the current producer output for every
// slot wired by source handle whose resource is not directly attached.
func (n *DescriptorResourceGathererNode) resolveSourceResources(graph *rendergraph.Graph) {
	for i := 0; i < n.VariadicCount(); i++ {
		slot := n.VariadicSlot(i)
		if slot == nil || slot.Resource != nil || slot.SourceNode == rendergraph.InvalidNodeHandle {
			continue
		}
		source := graph.Instance(slot.SourceNode)
		if source == nil {
			continue
		}
		resource := source.Base().Output(slot.SourceOutput)
		if resource == nil {
			continue
		}
		updated := *slot
		updated.Resource = resource
		updated.ResourceType = resource.Kind
		n.UpdateVariadicSlot(i, updated)
	}
}

// validateTentativeSlots reconciles pre-registered slots with the shader
// layout: matched slots become Validated (the shader is authoritative on
// descriptor type), unmatched become Invalid and are skipped from then
// on.
func (n *DescriptorResourceGathererNode) validateTentativeSlots(layout *shaderdata.DescriptorLayoutSpec) {
	for i := 0; i < n.VariadicCount(); i++ {
		slot := n.VariadicSlot(i)
		if slot == nil || slot.Binding == rendergraph.SentinelBinding || slot.State != rendergraph.SlotTentative {
			continue
		}

		shaderBinding := layout.FindBinding(slot.Binding)
		updated := *slot
		if shaderBinding == nil {
			updated.State = rendergraph.SlotInvalid
			core.LogWarn("%s: slot %d (binding=%d, %s) has no matching shader binding; skipping",
				n.LogName, i, slot.Binding, slot.SlotName)
		} else {
			if shaderBinding.DescriptorType != slot.DescriptorType {
				core.LogDebug("%s: slot %d descriptor type %d -> %d (shader is authoritative)",
					n.LogName, i, slot.DescriptorType, shaderBinding.DescriptorType)
				updated.DescriptorType = shaderBinding.DescriptorType
			}
			updated.State = rendergraph.SlotValidated
		}
		n.UpdateVariadicSlot(i, updated)
	}
}

// ValidateVariadicInputs runs the base checks; shader-specific subclasses
// layer their own on top.
func (n *DescriptorResourceGathererNode) ValidateVariadicInputs(ctx *rendergraph.CompileContext) bool {
	return n.ValidateVariadicBase(n.LogName)
}

// gatherResources writes every Validated non-Execute slot's descriptor
// handle into the output array at its binding. Tentative slots never
// appear in gathered output.
func (n *DescriptorResourceGathererNode) gatherResources() {
	for i := 0; i < n.VariadicCount(); i++ {
		slot := n.VariadicSlot(i)
		if slot == nil || slot.Binding == rendergraph.SentinelBinding {
			continue
		}
		if slot.State != rendergraph.SlotValidated {
			continue
		}
		binding := slot.Binding
		if int(binding) >= len(n.resourceArray) {
			core.LogError("%s: binding %d out of range (array size %d)", n.LogName, binding, len(n.resourceArray))
			continue
		}

		n.resourceArray[binding].Role = slot.Role

		if !slot.Role.HasDependency() {
			// Execute-only: placeholder now, resource gathered per frame.
			n.resourceArray[binding].Handle = rendergraph.DescriptorHandle{}
			continue
		}
		if slot.Resource == nil {
			core.LogWarn("%s: validated slot %d (binding=%d) has null resource", n.LogName, i, binding)
			continue
		}

		n.resourceArray[binding].Handle = slot.Resource.DescriptorHandle()

		if slot.Role.HasDebug() {
			if capture, ok := rendergraph.ResourceInterface[rendergraph.DebugCapture](slot.Resource); ok {
				n.resourceArray[binding].DebugCapture = capture
				core.LogDebug("%s: attached debug capture %q to binding %d", n.LogName, capture.DebugName(), binding)
			} else {
				core.LogDebug("%s: debug-flagged slot %d does not implement DebugCapture", n.LogName, i)
			}
		}
	}
}

func (n *DescriptorResourceGathererNode) firstDebugCapture() rendergraph.DebugCapture {
	for i := range n.resourceArray {
		if n.resourceArray[i].DebugCapture != nil {
			return n.resourceArray[i].DebugCapture
		}
	}
	return nil
}

// Execute refreshes Execute-role slots from their stored source pointers
// (fresh swapchain views and similar per-frame resources) and re-emits
// the array every frame when any Execute-role slot exists. The
// DebugCapture output re-emits every
// frame so downstream readback nodes run once per frame.
func (n *DescriptorResourceGathererNode) Execute(ctx *rendergraph.ExecuteContext) error {
	hasTransients := false

	for i := 0; i < n.VariadicCount(); i++ {
		slot := n.VariadicSlot(i)
		if slot == nil || slot.Binding == rendergraph.SentinelBinding {
			continue
		}
		if !slot.Role.HasExecute() {
			continue
		}
		hasTransients = true

		source := ctx.Graph().Instance(slot.SourceNode)
		if source == nil {
			core.LogDebug("%s: transient slot %d has invalid source node", n.LogName, i)
			continue
		}
		fresh := source.Base().Output(slot.SourceOutput)
		if fresh == nil {
			core.LogDebug("%s: transient slot %d source output is null", n.LogName, i)
			continue
		}
		if int(slot.Binding) >= len(n.resourceArray) {
			core.LogError("%s: binding %d out of range (array size %d)", n.LogName, slot.Binding, len(n.resourceArray))
			continue
		}
		n.resourceArray[slot.Binding].Handle = fresh.DescriptorHandle()
	}

	if hasTransients {
		ctx.Out(GathererDescriptorResources, n.resourceArray)
	}
	ctx.Out(GathererDebugCapture, n.firstDebugCapture())
	return nil
}

func (n *DescriptorResourceGathererNode) Cleanup(ctx *rendergraph.CleanupContext) error {
	n.ClearVariadic()
	n.resourceArray = nil
	return nil
}

// bundleFromInput unwraps a ShaderDataBundle payload.
func bundleFromInput(resource *rendergraph.Resource) *shaderdata.ShaderDataBundle {
	if resource == nil {
		return nil
	}
	bundle, _ := resource.Payload().(*shaderdata.ShaderDataBundle)
	return bundle
}
