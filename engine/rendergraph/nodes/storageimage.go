package nodes

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vixen/engine/core"
	"github.com/spaghettifunk/vixen/engine/rendergraph"
)

const StorageImageTypeName = "StorageImage"

// StorageImageOut is the single output slot.
const StorageImageOut = 0

// Storage image parameters.
const (
	ParamImageWidth  = "width"
	ParamImageHeight = "height"
	ParamImageFormat = "format"
)

// NewStorageImageNodeType describes a compute-writable image producer.
func NewStorageImageNodeType() *rendergraph.NodeType {
	return &rendergraph.NodeType{
		TypeName: StorageImageTypeName,
		Outputs: []rendergraph.ResourceDescriptor{
			{
				Name:     "IMAGE",
				Kind:     rendergraph.ResourceKindStorageImage,
				Usage:    rendergraph.UsageStorage | rendergraph.UsageTransferSrc,
				Lifetime: rendergraph.LifetimePersistent,
			},
		},
		Factory: func(instanceName string, nodeType *rendergraph.NodeType) (rendergraph.Node, error) {
			return NewStorageImageNode(instanceName, nodeType), nil
		},
	}
}

/**
 * @brief StorageImageNode owns one storage image and its view. The image
 * description lands on the output resource during Compile; allocation
 * flows through the graph's allocator.
 */
type StorageImageNode struct {
	*rendergraph.NodeInstance
}

func NewStorageImageNode(instanceName string, nodeType *rendergraph.NodeType) *StorageImageNode {
	node := &StorageImageNode{
		NodeInstance: rendergraph.NewNodeInstance(instanceName, nodeType),
	}
	node.Parameters().Set(ParamImageWidth, rendergraph.ParamValueU32(512))
	node.Parameters().Set(ParamImageHeight, rendergraph.ParamValueU32(512))
	node.Parameters().Set(ParamImageFormat, rendergraph.ParamValueU32(uint32(vk.FormatR8g8b8a8Unorm)))
	return node
}

func (n *StorageImageNode) Setup(ctx *rendergraph.SetupContext) error {
	return nil
}

func (n *StorageImageNode) Compile(ctx *rendergraph.CompileContext) error {
	resource := n.Output(StorageImageOut)
	if resource == nil {
		// No consumer connected; nothing to produce.
		return nil
	}

	width := rendergraph.GetParameter[uint32](n.Parameters(), ParamImageWidth, 512)
	height := rendergraph.GetParameter[uint32](n.Parameters(), ParamImageHeight, 512)
	format := rendergraph.GetParameter[uint32](n.Parameters(), ParamImageFormat, uint32(vk.FormatR8g8b8a8Unorm))

	resource.ImageDesc = &rendergraph.ImageDescription{
		Extent:      vk.Extent3D{Width: width, Height: height, Depth: 1},
		Format:      vk.Format(format),
		Samples:     vk.SampleCount1Bit,
		Usage:       rendergraph.UsageStorage | rendergraph.UsageTransferSrc,
		Tiling:      vk.ImageTilingOptimal,
		MipLevels:   1,
		ArrayLayers: 1,
	}

	device := ctx.Device()
	allocator := ctx.Allocator()
	if device == nil || !device.HasLogicalDevice() || allocator == nil {
		core.LogDebug("%s: headless; image stays unallocated", n.LogName)
		return nil
	}

	if !resource.IsValid() {
		if err := resource.AllocateImage(allocator); err != nil {
			return err
		}
	}
	if resource.View == vk.NullImageView {
		view, err := createImageView(device.LogicalDevice, device.AllocCallbacks, resource.Allocation.Image, vk.Format(format))
		if err != nil {
			return err
		}
		resource.View = view
	}
	return nil
}

func createImageView(device vk.Device, allocCallbacks *vk.AllocationCallbacks, image vk.Image, format vk.Format) (vk.ImageView, error) {
	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	var view vk.ImageView
	if res := vk.CreateImageView(device, &viewCreateInfo, allocCallbacks, &view); res != vk.Success {
		return vk.NullImageView, core.NewVulkanError("vkCreateImageView", int32(res))
	}
	return view, nil
}

func (n *StorageImageNode) Execute(ctx *rendergraph.ExecuteContext) error {
	return nil
}

func (n *StorageImageNode) Cleanup(ctx *rendergraph.CleanupContext) error {
	resource := n.Output(StorageImageOut)
	device := ctx.Device()
	if resource != nil && resource.View != vk.NullImageView && device != nil && device.HasLogicalDevice() {
		vk.DestroyImageView(device.LogicalDevice, resource.View, device.AllocCallbacks)
		resource.View = vk.NullImageView
	}
	return nil
}
