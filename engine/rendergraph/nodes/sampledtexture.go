package nodes

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vixen/engine/core"
	"github.com/spaghettifunk/vixen/engine/rendergraph"
	"github.com/spaghettifunk/vixen/engine/vulkan"
)

const SampledTextureTypeName = "SampledTexture"

// SampledTextureOut is the single output slot.
const SampledTextureOut = 0

// ParamTexture carries the decoded pixel description produced by the
// assets texture loader.
const ParamTexture = "texture"

// NewSampledTextureNodeType describes a texture producer that uploads
// decoded pixels through a staging buffer and exposes a combined
// image/sampler binding.
func NewSampledTextureNodeType() *rendergraph.NodeType {
	return &rendergraph.NodeType{
		TypeName: SampledTextureTypeName,
		Outputs: []rendergraph.ResourceDescriptor{
			{
				Name:     "TEXTURE",
				Kind:     rendergraph.ResourceKindImage,
				Usage:    rendergraph.UsageSampled | rendergraph.UsageTransferDst,
				Lifetime: rendergraph.LifetimePersistent,
			},
		},
		Factory: func(instanceName string, nodeType *rendergraph.NodeType) (rendergraph.Node, error) {
			return NewSampledTextureNode(instanceName, nodeType), nil
		},
	}
}

/**
 * @brief SampledTextureNode owns one sampled texture. The decoded pixels
 * arrive through the ParamTexture parameter; Compile stages them into a
 * TransferSrc buffer and records a single-use copy with the usual
 * undefined -> transfer-dst -> shader-read transitions.
 */
type SampledTextureNode struct {
	*rendergraph.NodeInstance
}

func NewSampledTextureNode(instanceName string, nodeType *rendergraph.NodeType) *SampledTextureNode {
	return &SampledTextureNode{
		NodeInstance: rendergraph.NewNodeInstance(instanceName, nodeType),
	}
}

// SetTexture installs the decoded pixel data to upload.
func (n *SampledTextureNode) SetTexture(texture *rendergraph.TextureDescription) {
	n.Parameters().Set(ParamTexture, rendergraph.ParamValueOpaque(texture))
}

func (n *SampledTextureNode) Setup(ctx *rendergraph.SetupContext) error {
	return nil
}

func (n *SampledTextureNode) Compile(ctx *rendergraph.CompileContext) error {
	resource := n.Output(SampledTextureOut)
	if resource == nil {
		// No consumer connected; nothing to produce.
		return nil
	}

	texture := rendergraph.GetParameter[*rendergraph.TextureDescription](n.Parameters(), ParamTexture, nil)
	if texture == nil {
		return fmt.Errorf("%w: set the %q parameter before compiling", core.ErrInvalidParameters, ParamTexture)
	}
	resource.TextureDesc = texture
	resource.ImageDesc = &rendergraph.ImageDescription{
		Extent:      vk.Extent3D{Width: texture.Width, Height: texture.Height, Depth: 1},
		Format:      texture.Format,
		Samples:     vk.SampleCount1Bit,
		Usage:       rendergraph.UsageSampled | rendergraph.UsageTransferDst,
		Tiling:      vk.ImageTilingOptimal,
		MipLevels:   1,
		ArrayLayers: 1,
	}

	device := ctx.Device()
	allocator := ctx.Allocator()
	if device == nil || !device.HasLogicalDevice() || allocator == nil {
		core.LogDebug("%s: headless; texture stays unallocated", n.LogName)
		return nil
	}

	if !resource.IsValid() {
		if err := resource.AllocateImage(allocator); err != nil {
			return err
		}
	}
	if err := n.uploadPixels(ctx, resource, texture, allocator); err != nil {
		return err
	}
	if resource.View == vk.NullImageView {
		view, err := createImageView(device.LogicalDevice, device.AllocCallbacks, resource.Allocation.Image, texture.Format)
		if err != nil {
			return err
		}
		resource.View = view
	}
	if resource.Sampler == vk.NullSampler {
		sampler, err := n.createSampler(device)
		if err != nil {
			return err
		}
		resource.Sampler = sampler
	}
	return nil
}

// uploadPixels stages the pixels into a host-visible buffer and records a
// single-use copy on the graph's command pool.
func (n *SampledTextureNode) uploadPixels(ctx *rendergraph.CompileContext, resource *rendergraph.Resource, texture *rendergraph.TextureDescription, allocator vulkan.Allocator) error {
	device := ctx.Device()

	staging, err := allocator.AllocateBuffer(vulkan.BufferAllocationRequest{
		Size:        uint64(len(texture.Pixels)),
		Usage:       vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		HostVisible: true,
		Name:        n.InstanceName + ".staging",
	})
	if err != nil {
		return err
	}
	defer allocator.FreeBuffer(staging)

	mapped, err := allocator.MapBuffer(staging)
	if err != nil {
		return err
	}
	copy(unsafe.Slice((*byte)(mapped), len(texture.Pixels)), texture.Pixels)
	if err := allocator.FlushMappedRange(staging, 0, uint64(len(texture.Pixels))); err != nil {
		return err
	}

	commandBuffer, err := vulkan.AllocateAndBeginSingleUse(device, ctx.CommandPool())
	if err != nil {
		return err
	}

	subresource := vk.ImageSubresourceRange{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LevelCount: 1,
		LayerCount: 1,
	}
	toTransferDst := vk.ImageMemoryBarrier{
		SType:            vk.StructureTypeImageMemoryBarrier,
		DstAccessMask:    vk.AccessFlags(vk.AccessTransferWriteBit),
		OldLayout:        vk.ImageLayoutUndefined,
		NewLayout:        vk.ImageLayoutTransferDstOptimal,
		Image:            resource.Allocation.Image,
		SubresourceRange: subresource,
	}
	vk.CmdPipelineBarrier(
		commandBuffer.Handle,
		vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		0,
		0, nil,
		0, nil,
		1, []vk.ImageMemoryBarrier{toTransferDst},
	)

	region := vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: 1,
		},
		ImageExtent: vk.Extent3D{Width: texture.Width, Height: texture.Height, Depth: 1},
	}
	vk.CmdCopyBufferToImage(
		commandBuffer.Handle,
		staging.Buffer,
		resource.Allocation.Image,
		vk.ImageLayoutTransferDstOptimal,
		1, []vk.BufferImageCopy{region},
	)

	toShaderRead := vk.ImageMemoryBarrier{
		SType:            vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:    vk.AccessFlags(vk.AccessTransferWriteBit),
		DstAccessMask:    vk.AccessFlags(vk.AccessShaderReadBit),
		OldLayout:        vk.ImageLayoutTransferDstOptimal,
		NewLayout:        vk.ImageLayoutShaderReadOnlyOptimal,
		Image:            resource.Allocation.Image,
		SubresourceRange: subresource,
	}
	vk.CmdPipelineBarrier(
		commandBuffer.Handle,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit|vk.PipelineStageComputeShaderBit),
		0,
		0, nil,
		0, nil,
		1, []vk.ImageMemoryBarrier{toShaderRead},
	)

	var queue vk.Queue
	vk.GetDeviceQueue(device.LogicalDevice, device.ComputeQueueFamilyIndex, 0, &queue)
	return commandBuffer.EndSingleUse(device, ctx.CommandPool(), queue)
}

func (n *SampledTextureNode) createSampler(device *vulkan.Device) (vk.Sampler, error) {
	samplerCreateInfo := vk.SamplerCreateInfo{
		SType:        vk.StructureTypeSamplerCreateInfo,
		MagFilter:    vk.FilterLinear,
		MinFilter:    vk.FilterLinear,
		AddressModeU: vk.SamplerAddressModeRepeat,
		AddressModeV: vk.SamplerAddressModeRepeat,
		AddressModeW: vk.SamplerAddressModeRepeat,
	}
	var sampler vk.Sampler
	if res := vk.CreateSampler(device.LogicalDevice, &samplerCreateInfo, device.AllocCallbacks, &sampler); res != vk.Success {
		return vk.NullSampler, core.NewVulkanError("vkCreateSampler", int32(res))
	}
	return sampler, nil
}

func (n *SampledTextureNode) Execute(ctx *rendergraph.ExecuteContext) error {
	return nil
}

func (n *SampledTextureNode) Cleanup(ctx *rendergraph.CleanupContext) error {
	resource := n.Output(SampledTextureOut)
	device := ctx.Device()
	if resource == nil || device == nil || !device.HasLogicalDevice() {
		return nil
	}
	if resource.Sampler != vk.NullSampler {
		vk.DestroySampler(device.LogicalDevice, resource.Sampler, device.AllocCallbacks)
		resource.Sampler = vk.NullSampler
	}
	if resource.View != vk.NullImageView {
		vk.DestroyImageView(device.LogicalDevice, resource.View, device.AllocCallbacks)
		resource.View = vk.NullImageView
	}
	return nil
}
