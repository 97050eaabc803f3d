package rendergraph

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vixen/engine/core"
	"github.com/spaghettifunk/vixen/engine/vulkan"
)

// ResourceKind classifies what a Resource wraps.
type ResourceKind uint8

const (
	ResourceKindImage ResourceKind = iota
	ResourceKindImage3D
	ResourceKindCubeMap
	ResourceKindStorageImage
	ResourceKindBuffer
	ResourceKindAccelerationStructure
	ResourceKindOpaque
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceKindImage:
		return "Image"
	case ResourceKindImage3D:
		return "Image3D"
	case ResourceKindCubeMap:
		return "CubeMap"
	case ResourceKindStorageImage:
		return "StorageImage"
	case ResourceKindBuffer:
		return "Buffer"
	case ResourceKindAccelerationStructure:
		return "AccelerationStructure"
	case ResourceKindOpaque:
		return "Opaque"
	default:
		return "Unknown"
	}
}

// ResourceLifetime controls aliasing eligibility during compilation.
type ResourceLifetime uint8

const (
	// Transient resources may share an allocation with other transients
	// whose lifetimes do not overlap in the execution order.
	LifetimeTransient ResourceLifetime = iota
	// Persistent resources are never aliased.
	LifetimePersistent
)

// ResourceUsageFlags mirror the subset of Vulkan usage the graph reasons
// about when validating descriptor compatibility.
type ResourceUsageFlags uint32

const (
	UsageSampled ResourceUsageFlags = 1 << iota
	UsageStorage
	UsageUniformBuffer
	UsageStorageBuffer
	UsageColorAttachment
	UsageDepthStencilAttachment
	UsageTransferSrc
	UsageTransferDst
)

func (u ResourceUsageFlags) Has(flag ResourceUsageFlags) bool {
	return u&flag == flag
}

// ImageDescription describes an image resource before allocation.
type ImageDescription struct {
	Extent      vk.Extent3D
	Format      vk.Format
	Samples     vk.SampleCountFlagBits
	Usage       ResourceUsageFlags
	Tiling      vk.ImageTiling
	MipLevels   uint32
	ArrayLayers uint32
}

// BufferDescription describes a buffer resource before allocation.
type BufferDescription struct {
	Size        uint64
	Usage       ResourceUsageFlags
	HostVisible bool
}

// HandleDescription wraps an opaque typed payload passed between nodes
// (shader bundles, gathered arrays, capture interfaces).
type HandleDescription struct {
	Value interface{}
}

// TextureDescription describes a sampled texture with initial pixel data
// staged at allocation time.
type TextureDescription struct {
	Width, Height uint32
	Format        vk.Format
	Pixels        []byte
}

// DescriptorHandleKind discriminates the descriptor-handle sum type.
type DescriptorHandleKind uint8

const (
	HandleNone DescriptorHandleKind = iota
	HandleImageView
	HandleBuffer
	HandleSampler
	HandleAccelerationStructure
	HandleBytes
	HandleCombinedImageSampler
)

// DescriptorHandle is the variant a binding can take when written into a
// descriptor set.
type DescriptorHandle struct {
	Kind      DescriptorHandleKind
	ImageView vk.ImageView
	Buffer    vk.Buffer
	Sampler   vk.Sampler
	// Acceleration structures are recorded as raw non-dispatchable
	// handles; the ray-tracing extension loader owns the typed view.
	AccelerationStructure uint64
	Bytes                 []byte
}

func (h DescriptorHandle) IsNone() bool {
	return h.Kind == HandleNone
}

// DebugCapture is the capability a resource can expose to participate in
// readback plumbing. Extracted via ResourceInterface.
type DebugCapture interface {
	DebugName() string
	// CaptureBuffer returns the host-visible buffer readback nodes copy
	// into. Callers must have synchronized before reading.
	CaptureBuffer() vk.Buffer
	CaptureSize() uint64
}

/**
 * @brief Resource is an owned, typed handle to a GPU object or host-side
 * payload, created when first required by a producer node and destroyed
 * when its owning scope ends. Consumers hold non-owning references.
 */
type Resource struct {
	Name     string
	Kind     ResourceKind
	Lifetime ResourceLifetime
	Usage    ResourceUsageFlags

	// Usually one of these describes the resource; a sampled texture
	// carries both TextureDesc and ImageDesc.
	ImageDesc   *ImageDescription
	BufferDesc  *BufferDescription
	HandleDesc  *HandleDescription
	TextureDesc *TextureDescription

	// Set after allocation.
	Allocation *vulkan.Allocation
	// View over the allocated image, if any.
	View vk.ImageView
	// Sampler paired with the view for combined bindings.
	Sampler vk.Sampler

	// Capabilities the resource implements, keyed by capability. Nil for
	// most resources.
	capabilities []interface{}

	allocated bool
}

// NewResource creates an unallocated resource.
func NewResource(name string, kind ResourceKind, lifetime ResourceLifetime) *Resource {
	return &Resource{Name: name, Kind: kind, Lifetime: lifetime}
}

// NewOpaqueResource wraps a payload for node-to-node handoff.
func NewOpaqueResource(name string, value interface{}) *Resource {
	return &Resource{
		Name:       name,
		Kind:       ResourceKindOpaque,
		Lifetime:   LifetimePersistent,
		HandleDesc: &HandleDescription{Value: value},
		allocated:  true,
	}
}

// AllocateImage allocates the image described by ImageDesc.
func (r *Resource) AllocateImage(allocator vulkan.Allocator) error {
	if allocator == nil {
		return core.ErrAllocatorMissing
	}
	if r.ImageDesc == nil {
		return fmt.Errorf("%w: resource %q has no image description", core.ErrInvalidParameters, r.Name)
	}

	imageType := vk.ImageType2d
	if r.Kind == ResourceKindImage3D {
		imageType = vk.ImageType3d
	}
	allocation, err := allocator.AllocateImage(vulkan.ImageAllocationRequest{
		ImageType:     imageType,
		Extent:        r.ImageDesc.Extent,
		Format:        r.ImageDesc.Format,
		Tiling:        r.ImageDesc.Tiling,
		Usage:         imageUsageFlags(r.ImageDesc.Usage),
		Samples:       r.ImageDesc.Samples,
		MipLevels:     r.ImageDesc.MipLevels,
		ArrayLayers:   r.ImageDesc.ArrayLayers,
		AllowAliasing: r.Lifetime == LifetimeTransient,
		Name:          r.Name,
	})
	if err != nil {
		return err
	}
	r.Allocation = allocation
	r.Usage = r.ImageDesc.Usage
	r.allocated = true
	return nil
}

// AllocateBuffer allocates the buffer described by BufferDesc.
func (r *Resource) AllocateBuffer(allocator vulkan.Allocator) error {
	if allocator == nil {
		return core.ErrAllocatorMissing
	}
	if r.BufferDesc == nil {
		return fmt.Errorf("%w: resource %q has no buffer description", core.ErrInvalidParameters, r.Name)
	}

	allocation, err := allocator.AllocateBuffer(vulkan.BufferAllocationRequest{
		Size:          r.BufferDesc.Size,
		Usage:         bufferUsageFlags(r.BufferDesc.Usage),
		HostVisible:   r.BufferDesc.HostVisible,
		AllowAliasing: r.Lifetime == LifetimeTransient,
		Name:          r.Name,
	})
	if err != nil {
		return err
	}
	r.Allocation = allocation
	r.Usage = r.BufferDesc.Usage
	r.allocated = true
	return nil
}

// AdoptAllocation attaches an allocation produced elsewhere (aliasing).
func (r *Resource) AdoptAllocation(allocation *vulkan.Allocation) {
	r.Allocation = allocation
	r.allocated = true
}

// IsValid is true iff the resource is allocated and the underlying handle
// is non-null.
func (r *Resource) IsValid() bool {
	if r == nil || !r.allocated {
		return false
	}
	if r.Kind == ResourceKindOpaque {
		return r.HandleDesc != nil && r.HandleDesc.Value != nil
	}
	// Externally backed images (swapchain views) carry no allocation.
	if r.View != vk.NullImageView {
		return true
	}
	if r.Allocation == nil {
		return false
	}
	return r.Allocation.Buffer != vk.NullBuffer || r.Allocation.Image != vk.NullImage
}

func (r *Resource) GetType() ResourceKind {
	return r.Kind
}

// SetHandle attaches an externally created view/handle (e.g. a swapchain
// image view refreshed per frame).
func (r *Resource) SetHandle(view vk.ImageView) {
	r.View = view
	r.allocated = true
}

// SetPayload replaces the opaque payload.
func (r *Resource) SetPayload(value interface{}) {
	if r.HandleDesc == nil {
		r.HandleDesc = &HandleDescription{}
	}
	r.HandleDesc.Value = value
	r.allocated = true
}

// Payload returns the opaque payload, or nil.
func (r *Resource) Payload() interface{} {
	if r == nil || r.HandleDesc == nil {
		return nil
	}
	return r.HandleDesc.Value
}

// DescriptorHandle produces the descriptor-handle variant for the binding
// this resource backs.
func (r *Resource) DescriptorHandle() DescriptorHandle {
	if r == nil {
		return DescriptorHandle{}
	}
	switch r.Kind {
	case ResourceKindImage, ResourceKindImage3D, ResourceKindCubeMap, ResourceKindStorageImage:
		if r.View != vk.NullImageView {
			if r.Sampler != vk.NullSampler {
				return DescriptorHandle{Kind: HandleCombinedImageSampler, ImageView: r.View, Sampler: r.Sampler}
			}
			return DescriptorHandle{Kind: HandleImageView, ImageView: r.View}
		}
	case ResourceKindBuffer:
		if r.Sampler != vk.NullSampler {
			return DescriptorHandle{Kind: HandleSampler, Sampler: r.Sampler}
		}
		if r.Allocation != nil && r.Allocation.Buffer != vk.NullBuffer {
			return DescriptorHandle{Kind: HandleBuffer, Buffer: r.Allocation.Buffer}
		}
	case ResourceKindAccelerationStructure:
		if r.HandleDesc != nil {
			if handle, ok := r.HandleDesc.Value.(uint64); ok {
				return DescriptorHandle{Kind: HandleAccelerationStructure, AccelerationStructure: handle}
			}
		}
	case ResourceKindOpaque:
		if r.HandleDesc != nil {
			if bytes, ok := r.HandleDesc.Value.([]byte); ok {
				return DescriptorHandle{Kind: HandleBytes, Bytes: bytes}
			}
		}
	}
	return DescriptorHandle{}
}

// AddCapability registers a capability implementation (e.g. DebugCapture).
func (r *Resource) AddCapability(capability interface{}) {
	r.capabilities = append(r.capabilities, capability)
}

// ResourceInterface downcasts a resource to a named capability. Returns
// the zero value and false if the resource does not implement it.
func ResourceInterface[T any](r *Resource) (T, bool) {
	var zero T
	if r == nil {
		return zero, false
	}
	for _, capability := range r.capabilities {
		if typed, ok := capability.(T); ok {
			return typed, true
		}
	}
	// An opaque payload can itself be the capability.
	if r.HandleDesc != nil {
		if typed, ok := r.HandleDesc.Value.(T); ok {
			return typed, true
		}
	}
	return zero, false
}

// Release frees the owned allocation. Consumers must never call this on a
// resource they did not produce.
func (r *Resource) Release(allocator vulkan.Allocator) {
	if r == nil || r.Allocation == nil || allocator == nil {
		return
	}
	if r.Allocation.Image != vk.NullImage {
		allocator.FreeImage(r.Allocation)
	} else if r.Allocation.Buffer != vk.NullBuffer {
		allocator.FreeBuffer(r.Allocation)
	}
	r.Allocation = nil
	r.allocated = false
}

func imageUsageFlags(usage ResourceUsageFlags) vk.ImageUsageFlags {
	flags := vk.ImageUsageFlags(0)
	if usage.Has(UsageSampled) {
		flags |= vk.ImageUsageFlags(vk.ImageUsageSampledBit)
	}
	if usage.Has(UsageStorage) {
		flags |= vk.ImageUsageFlags(vk.ImageUsageStorageBit)
	}
	if usage.Has(UsageColorAttachment) {
		flags |= vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)
	}
	if usage.Has(UsageDepthStencilAttachment) {
		flags |= vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)
	}
	if usage.Has(UsageTransferSrc) {
		flags |= vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit)
	}
	if usage.Has(UsageTransferDst) {
		flags |= vk.ImageUsageFlags(vk.ImageUsageTransferDstBit)
	}
	return flags
}

func bufferUsageFlags(usage ResourceUsageFlags) vk.BufferUsageFlags {
	flags := vk.BufferUsageFlags(0)
	if usage.Has(UsageUniformBuffer) {
		flags |= vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit)
	}
	if usage.Has(UsageStorageBuffer) {
		flags |= vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)
	}
	if usage.Has(UsageTransferSrc) {
		flags |= vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit)
	}
	if usage.Has(UsageTransferDst) {
		flags |= vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)
	}
	return flags
}
