package nodes

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vixen/engine/core"
	"github.com/spaghettifunk/vixen/engine/rendergraph"
	"github.com/spaghettifunk/vixen/engine/shaderdata"
)

// DescriptorSet slot indexes.
const (
	DescriptorSetResources = 0
	DescriptorSetBundle    = 1

	DescriptorSetSetsOut   = 0
	DescriptorSetLayoutOut = 1
)

const DescriptorSetTypeName = "DescriptorSet"

// DescriptorSetArtifacts is the node's output payload: the built layout,
// pool and allocated sets.
type DescriptorSetArtifacts struct {
	Layout vk.DescriptorSetLayout
	Pool   vk.DescriptorPool
	Sets   []vk.DescriptorSet
}

// NewDescriptorSetNodeType describes the descriptor-set builder.
func NewDescriptorSetNodeType() *rendergraph.NodeType {
	return &rendergraph.NodeType{
		TypeName: DescriptorSetTypeName,
		Inputs: []rendergraph.ResourceDescriptor{
			{Name: "DESCRIPTOR_RESOURCES", Kind: rendergraph.ResourceKindOpaque, Role: rendergraph.RoleDependency},
			{Name: "SHADER_DATA_BUNDLE", Kind: rendergraph.ResourceKindOpaque, Role: rendergraph.RoleDependency},
		},
		Outputs: []rendergraph.ResourceDescriptor{
			{Name: "DESCRIPTOR_SETS", Kind: rendergraph.ResourceKindOpaque},
			{Name: "LAYOUT", Kind: rendergraph.ResourceKindOpaque},
		},
		Factory: func(instanceName string, nodeType *rendergraph.NodeType) (rendergraph.Node, error) {
			return NewDescriptorSetNode(instanceName, nodeType), nil
		},
	}
}

/**
 * @brief DescriptorSetNode turns the gathered resource array and the
 * bundle's layout spec into VkDescriptorSetLayout, VkDescriptorPool and
 * allocated, written VkDescriptorSets. The bundle is the authoritative
 * source of the layout; a parameter-based fallback is not supported.
 */
type DescriptorSetNode struct {
	*rendergraph.NodeInstance

	artifacts DescriptorSetArtifacts
	device    vk.Device
}

func NewDescriptorSetNode(instanceName string, nodeType *rendergraph.NodeType) *DescriptorSetNode {
	return &DescriptorSetNode{
		NodeInstance: rendergraph.NewNodeInstance(instanceName, nodeType),
	}
}

func (n *DescriptorSetNode) Artifacts() *DescriptorSetArtifacts {
	return &n.artifacts
}

func (n *DescriptorSetNode) Setup(ctx *rendergraph.SetupContext) error {
	return nil
}

func (n *DescriptorSetNode) Compile(ctx *rendergraph.CompileContext) error {
	gathered := gatheredFromInput(ctx.In(DescriptorSetResources))
	if gathered == nil {
		return fmt.Errorf("%w: connect a gatherer output to DESCRIPTOR_RESOURCES", core.ErrMissingRequiredInput)
	}
	bundle := bundleFromInput(ctx.In(DescriptorSetBundle))
	if bundle == nil {
		return fmt.Errorf("%w: connect a shader library output to SHADER_DATA_BUNDLE", core.ErrMissingShaderBundle)
	}
	layout := bundle.DescriptorLayout
	if layout == nil || !layout.IsValid() {
		return fmt.Errorf("%w: bundle %q", core.ErrMissingLayout, bundle.Name)
	}

	device := ctx.Device()
	if device == nil || !device.HasLogicalDevice() {
		// Headless graphs (tests) still publish the artifacts so
		// downstream wiring resolves.
		core.LogDebug("%s: no logical device; skipping Vulkan object creation", n.LogName)
		n.publish(ctx)
		return nil
	}
	n.device = device.LogicalDevice

	if err := n.createLayout(device.AllocCallbacks, layout); err != nil {
		return err
	}
	if err := n.createPool(device.AllocCallbacks, layout); err != nil {
		return err
	}
	if err := n.allocateSets(layout); err != nil {
		return err
	}
	n.writeSets(layout, gathered)

	n.publish(ctx)
	return nil
}

func (n *DescriptorSetNode) publish(ctx *rendergraph.CompileContext) {
	ctx.Out(DescriptorSetSetsOut, &n.artifacts)
	ctx.Out(DescriptorSetLayoutOut, n.artifacts.Layout)
}

func (n *DescriptorSetNode) createLayout(allocCallbacks *vk.AllocationCallbacks, layout *shaderdata.DescriptorLayoutSpec) error {
	bindings := layout.ToVulkanBindings()
	layoutCreateInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	if res := vk.CreateDescriptorSetLayout(n.device, &layoutCreateInfo, allocCallbacks, &n.artifacts.Layout); res != vk.Success {
		return core.NewVulkanError("vkCreateDescriptorSetLayout", int32(res))
	}
	return nil
}

func (n *DescriptorSetNode) createPool(allocCallbacks *vk.AllocationCallbacks, layout *shaderdata.DescriptorLayoutSpec) error {
	poolSizes := layout.ToPoolSizes()
	maxSets := layout.MaxSets
	if maxSets == 0 {
		maxSets = 1
	}
	poolCreateInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	if res := vk.CreateDescriptorPool(n.device, &poolCreateInfo, allocCallbacks, &n.artifacts.Pool); res != vk.Success {
		return core.NewVulkanError("vkCreateDescriptorPool", int32(res))
	}
	return nil
}

func (n *DescriptorSetNode) allocateSets(layout *shaderdata.DescriptorLayoutSpec) error {
	maxSets := layout.MaxSets
	if maxSets == 0 {
		maxSets = 1
	}
	n.artifacts.Sets = make([]vk.DescriptorSet, maxSets)
	layouts := make([]vk.DescriptorSetLayout, maxSets)
	for i := range layouts {
		layouts[i] = n.artifacts.Layout
	}
	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     n.artifacts.Pool,
		DescriptorSetCount: maxSets,
		PSetLayouts:        layouts,
	}
	if res := vk.AllocateDescriptorSets(n.device, &allocInfo, &n.artifacts.Sets[0]); res != vk.Success {
		return core.NewVulkanError("vkAllocateDescriptorSets", int32(res))
	}
	return nil
}

// writeSets updates every allocated set from the gathered handle
// variants. Bindings whose handle is still None are left unwritten. The
// sets are written only here, at Compile; handles the gatherer refreshes
// per frame are not written into them.
func (n *DescriptorSetNode) writeSets(layout *shaderdata.DescriptorLayoutSpec, gathered []GatheredResource) {
	for _, set := range n.artifacts.Sets {
		var writes []vk.WriteDescriptorSet
		for _, binding := range layout.Bindings {
			if int(binding.Binding) >= len(gathered) {
				continue
			}
			entry := &gathered[binding.Binding]
			write, ok := n.writeForHandle(set, &binding, entry.Handle)
			if !ok {
				continue
			}
			writes = append(writes, write)
		}
		if len(writes) > 0 {
			vk.UpdateDescriptorSets(n.device, uint32(len(writes)), writes, 0, nil)
		}
	}
}

func (n *DescriptorSetNode) writeForHandle(set vk.DescriptorSet, binding *shaderdata.DescriptorBindingSpec, handle rendergraph.DescriptorHandle) (vk.WriteDescriptorSet, bool) {
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set,
		DstBinding:      binding.Binding,
		DescriptorType:  binding.DescriptorType,
		DescriptorCount: 1,
	}

	switch handle.Kind {
	case rendergraph.HandleBuffer:
		write.PBufferInfo = []vk.DescriptorBufferInfo{{
			Buffer: handle.Buffer,
			Offset: 0,
			Range:  vk.DeviceSize(vk.WholeSize),
		}}
	case rendergraph.HandleImageView:
		imageLayout := vk.ImageLayoutShaderReadOnlyOptimal
		if binding.DescriptorType == vk.DescriptorTypeStorageImage {
			imageLayout = vk.ImageLayoutGeneral
		}
		write.PImageInfo = []vk.DescriptorImageInfo{{
			ImageView:   handle.ImageView,
			ImageLayout: imageLayout,
		}}
	case rendergraph.HandleCombinedImageSampler:
		write.PImageInfo = []vk.DescriptorImageInfo{{
			Sampler:     handle.Sampler,
			ImageView:   handle.ImageView,
			ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		}}
	case rendergraph.HandleSampler:
		write.PImageInfo = []vk.DescriptorImageInfo{{
			Sampler: handle.Sampler,
		}}
	case rendergraph.HandleAccelerationStructure:
		// Needs the ray-tracing extension loader; recorded but not
		// written here.
		core.LogWarn("%s: acceleration-structure write at binding %d requires the RT extension path", n.LogName, binding.Binding)
		return write, false
	default:
		return write, false
	}
	return write, true
}

func (n *DescriptorSetNode) Execute(ctx *rendergraph.ExecuteContext) error {
	// Sets are static; per-frame handle refresh flows through the
	// gatherer's Execute output.
	ctx.Out(DescriptorSetSetsOut, &n.artifacts)
	return nil
}

func (n *DescriptorSetNode) Cleanup(ctx *rendergraph.CleanupContext) error {
	device := ctx.Device()
	if device != nil && device.HasLogicalDevice() && n.device != vk.NullDevice {
		if n.artifacts.Pool != vk.NullDescriptorPool {
			vk.DestroyDescriptorPool(n.device, n.artifacts.Pool, device.AllocCallbacks)
		}
		if n.artifacts.Layout != vk.NullDescriptorSetLayout {
			vk.DestroyDescriptorSetLayout(n.device, n.artifacts.Layout, device.AllocCallbacks)
		}
	}
	n.artifacts = DescriptorSetArtifacts{}
	return nil
}

// gatheredFromInput unwraps the gatherer's output array.
func gatheredFromInput(resource *rendergraph.Resource) []GatheredResource {
	if resource == nil {
		return nil
	}
	gathered, _ := resource.Payload().([]GatheredResource)
	return gathered
}
