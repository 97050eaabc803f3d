package vulkan

import (
	vk "github.com/goki/vulkan"
)

/**
 * @brief The device capabilities the graph core consults. Captured once at
 * device creation so nodes and validators never touch the physical device
 * directly, and tests can fabricate a record.
 */
type DeviceCaps struct {
	/** @brief Nanoseconds per timestamp tick. */
	TimestampPeriodNs float32
	/** @brief Valid bits in a timestamp query result. */
	TimestampValidBits uint32

	MaxBoundDescriptorSets uint32

	MaxPerStageDescriptorSamplers       uint32
	MaxPerStageDescriptorSampledImages  uint32
	MaxPerStageDescriptorStorageImages  uint32
	MaxPerStageDescriptorUniformBuffers uint32
	MaxPerStageDescriptorStorageBuffers uint32

	MaxPushConstantsSize uint32

	MaxVertexInputAttributes uint32

	MaxComputeWorkGroupCount [3]uint32

	SupportsMeshShading bool
	SupportsTaskShading bool
	SupportsRayTracing  bool
}

/**
 * @brief A Vulkan device as seen by the graph: the handles plus the
 * capability record. Creation/teardown of the underlying objects is owned
 * by the application layer.
 */
type Device struct {
	Gpu            vk.PhysicalDevice
	LogicalDevice  vk.Device
	AllocCallbacks *vk.AllocationCallbacks

	Caps DeviceCaps

	/** @brief Queue family used for compute dispatch recording. */
	ComputeQueueFamilyIndex uint32
}

// QueryCaps populates the capability record from the physical device
// limits. TimestampValidBits is always 64 and the Supports* feature flags
// are left false.
func (d *Device) QueryCaps() {
	properties := vk.PhysicalDeviceProperties{}
	vk.GetPhysicalDeviceProperties(d.Gpu, &properties)
	properties.Deref()
	properties.Limits.Deref()

	limits := properties.Limits
	d.Caps = DeviceCaps{
		TimestampPeriodNs:                   limits.TimestampPeriod,
		TimestampValidBits:                  64,
		MaxBoundDescriptorSets:              limits.MaxBoundDescriptorSets,
		MaxPerStageDescriptorSamplers:       limits.MaxPerStageDescriptorSamplers,
		MaxPerStageDescriptorSampledImages:  limits.MaxPerStageDescriptorSampledImages,
		MaxPerStageDescriptorStorageImages:  limits.MaxPerStageDescriptorStorageImages,
		MaxPerStageDescriptorUniformBuffers: limits.MaxPerStageDescriptorUniformBuffers,
		MaxPerStageDescriptorStorageBuffers: limits.MaxPerStageDescriptorStorageBuffers,
		MaxPushConstantsSize:                limits.MaxPushConstantsSize,
		MaxVertexInputAttributes:            limits.MaxVertexInputAttributes,
		MaxComputeWorkGroupCount:            limits.MaxComputeWorkGroupCount,
	}
}

// HasLogicalDevice reports whether Vulkan calls can be recorded. Tests run
// the graph without one; nodes that own Vulkan objects skip creation then.
func (d *Device) HasLogicalDevice() bool {
	return d != nil && d.LogicalDevice != vk.NullDevice
}

// FindMemoryIndex returns the index of a memory type matching the filter
// and property flags, or -1.
func (d *Device) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) int32 {
	memoryProperties := vk.PhysicalDeviceMemoryProperties{}
	vk.GetPhysicalDeviceMemoryProperties(d.Gpu, &memoryProperties)
	memoryProperties.Deref()

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		memoryProperties.MemoryTypes[i].Deref()
		if typeFilter&(1<<i) != 0 &&
			memoryProperties.MemoryTypes[i].PropertyFlags&propertyFlags == propertyFlags {
			return int32(i)
		}
	}
	return -1
}
