package vulkan

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vixen/engine/core"
)

// BudgetResourceClass partitions budget accounting.
type BudgetResourceClass uint8

const (
	BudgetDeviceMemory BudgetResourceClass = iota
	BudgetHostMemory
	budgetClassCount
)

/**
 * @brief BudgetManager gates allocations before the real allocator is
 * called. Implementations must be safe for concurrent use.
 */
type BudgetManager interface {
	// TryAllocate reserves bytes against the class budget. Returns false
	// and reserves nothing when the budget would be exceeded.
	TryAllocate(class BudgetResourceClass, bytes uint64) bool
	RecordDeallocation(class BudgetResourceClass, bytes uint64)
	CurrentUsage(class BudgetResourceClass) uint64
}

// ResourceBudgetManager is the default BudgetManager: atomic counters with
// CAS reservation and atomic rollback on failure.
type ResourceBudgetManager struct {
	limits [budgetClassCount]uint64
	usage  [budgetClassCount]atomic.Uint64
}

// NewResourceBudgetManager creates a manager with per-class byte limits.
// A zero limit means unlimited.
func NewResourceBudgetManager(deviceLimit, hostLimit uint64) *ResourceBudgetManager {
	m := &ResourceBudgetManager{}
	m.limits[BudgetDeviceMemory] = deviceLimit
	m.limits[BudgetHostMemory] = hostLimit
	return m
}

func (m *ResourceBudgetManager) TryAllocate(class BudgetResourceClass, bytes uint64) bool {
	limit := m.limits[class]
	for {
		current := m.usage[class].Load()
		next := current + bytes
		if limit != 0 && next > limit {
			return false
		}
		if m.usage[class].CompareAndSwap(current, next) {
			return true
		}
	}
}

func (m *ResourceBudgetManager) RecordDeallocation(class BudgetResourceClass, bytes uint64) {
	for {
		current := m.usage[class].Load()
		next := uint64(0)
		if current > bytes {
			next = current - bytes
		}
		if m.usage[class].CompareAndSwap(current, next) {
			return
		}
	}
}

func (m *ResourceBudgetManager) CurrentUsage(class BudgetResourceClass) uint64 {
	return m.usage[class].Load()
}

// BufferAllocationRequest describes a buffer allocation.
type BufferAllocationRequest struct {
	Size          uint64
	Usage         vk.BufferUsageFlags
	HostVisible   bool
	AllowAliasing bool
	Name          string
}

// ImageAllocationRequest describes an image allocation.
type ImageAllocationRequest struct {
	ImageType     vk.ImageType
	Extent        vk.Extent3D
	Format        vk.Format
	Tiling        vk.ImageTiling
	Usage         vk.ImageUsageFlags
	Samples       vk.SampleCountFlagBits
	MipLevels     uint32
	ArrayLayers   uint32
	AllowAliasing bool
	Name          string
}

// Allocation is one owned device allocation. Exactly one Resource owns it;
// Free* clears the struct to prevent reuse.
type Allocation struct {
	Buffer vk.Buffer
	Image  vk.Image
	Memory vk.DeviceMemory
	Size   uint64
	// Mapped is non-nil for persistently mapped allocations.
	Mapped   unsafe.Pointer
	CanAlias bool
	isMapped bool
	name     string
}

func (a *Allocation) IsMapped() bool {
	return a.isMapped || a.Mapped != nil
}

/**
 * @brief Allocator mediates all GPU allocation for the graph. Injected so
 * tests can substitute a host-side fake.
 */
type Allocator interface {
	AllocateBuffer(request BufferAllocationRequest) (*Allocation, error)
	AllocateImage(request ImageAllocationRequest) (*Allocation, error)
	FreeBuffer(allocation *Allocation)
	FreeImage(allocation *Allocation)
	MapBuffer(allocation *Allocation) (unsafe.Pointer, error)
	UnmapBuffer(allocation *Allocation)
	FlushMappedRange(allocation *Allocation, offset, size uint64) error
	InvalidateMappedRange(allocation *Allocation, offset, size uint64) error
	Shutdown()
}

// DeviceAllocator is the vk-backed Allocator. An allocation record map
// guarded by a mutex backs the teardown leak check.
type DeviceAllocator struct {
	device *Device
	budget BudgetManager

	mutex   sync.Mutex
	records map[*Allocation]string
}

func NewDeviceAllocator(device *Device, budget BudgetManager) *DeviceAllocator {
	return &DeviceAllocator{
		device:  device,
		budget:  budget,
		records: make(map[*Allocation]string),
	}
}

func (da *DeviceAllocator) AllocateBuffer(request BufferAllocationRequest) (*Allocation, error) {
	if request.Size == 0 {
		return nil, core.ErrInvalidParameters
	}
	class := BudgetDeviceMemory
	if request.HostVisible {
		class = BudgetHostMemory
	}
	if da.budget != nil && !da.budget.TryAllocate(class, request.Size) {
		return nil, fmt.Errorf("%w: buffer %q (%d bytes)", core.ErrOverBudget, request.Name, request.Size)
	}

	bufferCreateInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(request.Size),
		Usage:       request.Usage,
		SharingMode: vk.SharingModeExclusive,
	}

	allocation := &Allocation{Size: request.Size, CanAlias: request.AllowAliasing, name: request.Name}
	if res := vk.CreateBuffer(da.device.LogicalDevice, &bufferCreateInfo, da.device.AllocCallbacks, &allocation.Buffer); res != vk.Success {
		da.rollback(class, request.Size)
		return nil, allocationError("vkCreateBuffer", res)
	}

	memoryRequirements := vk.MemoryRequirements{}
	vk.GetBufferMemoryRequirements(da.device.LogicalDevice, allocation.Buffer, &memoryRequirements)
	memoryRequirements.Deref()

	propertyFlags := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	if request.HostVisible {
		propertyFlags = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}
	memoryType := da.device.FindMemoryIndex(memoryRequirements.MemoryTypeBits, propertyFlags)
	if memoryType == -1 {
		vk.DestroyBuffer(da.device.LogicalDevice, allocation.Buffer, da.device.AllocCallbacks)
		da.rollback(class, request.Size)
		return nil, fmt.Errorf("%w: required memory type not found for buffer %q", core.ErrInvalidParameters, request.Name)
	}

	memoryAllocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memoryRequirements.Size,
		MemoryTypeIndex: uint32(memoryType),
	}
	if res := vk.AllocateMemory(da.device.LogicalDevice, &memoryAllocateInfo, da.device.AllocCallbacks, &allocation.Memory); res != vk.Success {
		vk.DestroyBuffer(da.device.LogicalDevice, allocation.Buffer, da.device.AllocCallbacks)
		da.rollback(class, request.Size)
		return nil, allocationError("vkAllocateMemory", res)
	}
	if res := vk.BindBufferMemory(da.device.LogicalDevice, allocation.Buffer, allocation.Memory, 0); res != vk.Success {
		da.freeRaw(allocation)
		da.rollback(class, request.Size)
		return nil, allocationError("vkBindBufferMemory", res)
	}

	// Persistently map host-visible buffers up front.
	if request.HostVisible {
		var data unsafe.Pointer
		if res := vk.MapMemory(da.device.LogicalDevice, allocation.Memory, 0, vk.DeviceSize(request.Size), 0, &data); res != vk.Success {
			da.freeRaw(allocation)
			da.rollback(class, request.Size)
			return nil, allocationError("vkMapMemory", res)
		}
		allocation.Mapped = data
		allocation.isMapped = true
	}

	da.record(allocation, request.Name)
	return allocation, nil
}

func (da *DeviceAllocator) AllocateImage(request ImageAllocationRequest) (*Allocation, error) {
	if request.Extent.Width == 0 || request.Extent.Height == 0 {
		return nil, core.ErrInvalidParameters
	}

	mipLevels := request.MipLevels
	if mipLevels == 0 {
		mipLevels = 1
	}
	arrayLayers := request.ArrayLayers
	if arrayLayers == 0 {
		arrayLayers = 1
	}
	samples := request.Samples
	if samples == 0 {
		samples = vk.SampleCount1Bit
	}
	depth := request.Extent.Depth
	if depth == 0 {
		depth = 1
	}

	imageCreateInfo := vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     request.ImageType,
		Extent:        vk.Extent3D{Width: request.Extent.Width, Height: request.Extent.Height, Depth: depth},
		MipLevels:     mipLevels,
		ArrayLayers:   arrayLayers,
		Format:        request.Format,
		Tiling:        request.Tiling,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         request.Usage,
		Samples:       samples,
		SharingMode:   vk.SharingModeExclusive,
	}

	allocation := &Allocation{CanAlias: request.AllowAliasing, name: request.Name}
	if res := vk.CreateImage(da.device.LogicalDevice, &imageCreateInfo, da.device.AllocCallbacks, &allocation.Image); res != vk.Success {
		return nil, allocationError("vkCreateImage", res)
	}

	memoryRequirements := vk.MemoryRequirements{}
	vk.GetImageMemoryRequirements(da.device.LogicalDevice, allocation.Image, &memoryRequirements)
	memoryRequirements.Deref()
	allocation.Size = uint64(memoryRequirements.Size)

	if da.budget != nil && !da.budget.TryAllocate(BudgetDeviceMemory, allocation.Size) {
		vk.DestroyImage(da.device.LogicalDevice, allocation.Image, da.device.AllocCallbacks)
		return nil, fmt.Errorf("%w: image %q (%d bytes)", core.ErrOverBudget, request.Name, allocation.Size)
	}

	memoryType := da.device.FindMemoryIndex(memoryRequirements.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if memoryType == -1 {
		vk.DestroyImage(da.device.LogicalDevice, allocation.Image, da.device.AllocCallbacks)
		da.rollback(BudgetDeviceMemory, allocation.Size)
		return nil, fmt.Errorf("%w: required memory type not found for image %q", core.ErrInvalidParameters, request.Name)
	}

	memoryAllocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memoryRequirements.Size,
		MemoryTypeIndex: uint32(memoryType),
	}
	if res := vk.AllocateMemory(da.device.LogicalDevice, &memoryAllocateInfo, da.device.AllocCallbacks, &allocation.Memory); res != vk.Success {
		vk.DestroyImage(da.device.LogicalDevice, allocation.Image, da.device.AllocCallbacks)
		da.rollback(BudgetDeviceMemory, allocation.Size)
		return nil, allocationError("vkAllocateMemory", res)
	}
	if res := vk.BindImageMemory(da.device.LogicalDevice, allocation.Image, allocation.Memory, 0); res != vk.Success {
		da.freeRaw(allocation)
		da.rollback(BudgetDeviceMemory, allocation.Size)
		return nil, allocationError("vkBindImageMemory", res)
	}

	da.record(allocation, request.Name)
	return allocation, nil
}

// FreeBuffer releases the allocation and clears the struct so a stale
// handle cannot be reused.
func (da *DeviceAllocator) FreeBuffer(allocation *Allocation) {
	if allocation == nil {
		return
	}
	if allocation.isMapped {
		vk.UnmapMemory(da.device.LogicalDevice, allocation.Memory)
	}
	if allocation.Buffer != vk.NullBuffer {
		vk.DestroyBuffer(da.device.LogicalDevice, allocation.Buffer, da.device.AllocCallbacks)
	}
	if allocation.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(da.device.LogicalDevice, allocation.Memory, da.device.AllocCallbacks)
	}
	if da.budget != nil {
		da.budget.RecordDeallocation(BudgetDeviceMemory, allocation.Size)
	}
	da.unrecord(allocation)
	*allocation = Allocation{}
}

// FreeImage releases the allocation and clears the struct.
func (da *DeviceAllocator) FreeImage(allocation *Allocation) {
	if allocation == nil {
		return
	}
	if allocation.Image != vk.NullImage {
		vk.DestroyImage(da.device.LogicalDevice, allocation.Image, da.device.AllocCallbacks)
	}
	if allocation.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(da.device.LogicalDevice, allocation.Memory, da.device.AllocCallbacks)
	}
	if da.budget != nil {
		da.budget.RecordDeallocation(BudgetDeviceMemory, allocation.Size)
	}
	da.unrecord(allocation)
	*allocation = Allocation{}
}

// MapBuffer returns the existing pointer for persistently mapped
// allocations; others are mapped on demand.
func (da *DeviceAllocator) MapBuffer(allocation *Allocation) (unsafe.Pointer, error) {
	if allocation == nil || allocation.Memory == vk.NullDeviceMemory {
		return nil, core.ErrInvalidParameters
	}
	if allocation.Mapped != nil {
		return allocation.Mapped, nil
	}
	var data unsafe.Pointer
	if res := vk.MapMemory(da.device.LogicalDevice, allocation.Memory, 0, vk.DeviceSize(allocation.Size), 0, &data); res != vk.Success {
		return nil, allocationError("vkMapMemory", res)
	}
	allocation.Mapped = data
	allocation.isMapped = true
	return data, nil
}

// UnmapBuffer unmaps any mapped allocation, persistently mapped ones
// included; a later MapBuffer maps it again on demand.
func (da *DeviceAllocator) UnmapBuffer(allocation *Allocation) {
	if allocation == nil || !allocation.isMapped {
		return
	}
	vk.UnmapMemory(da.device.LogicalDevice, allocation.Memory)
	allocation.Mapped = nil
	allocation.isMapped = false
}

func (da *DeviceAllocator) FlushMappedRange(allocation *Allocation, offset, size uint64) error {
	if allocation == nil || !allocation.IsMapped() {
		return core.ErrInvalidParameters
	}
	mappedRange := vk.MappedMemoryRange{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: allocation.Memory,
		Offset: vk.DeviceSize(offset),
		Size:   vk.DeviceSize(size),
	}
	if res := vk.FlushMappedMemoryRanges(da.device.LogicalDevice, 1, []vk.MappedMemoryRange{mappedRange}); res != vk.Success {
		return allocationError("vkFlushMappedMemoryRanges", res)
	}
	return nil
}

func (da *DeviceAllocator) InvalidateMappedRange(allocation *Allocation, offset, size uint64) error {
	if allocation == nil || !allocation.IsMapped() {
		return core.ErrInvalidParameters
	}
	mappedRange := vk.MappedMemoryRange{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: allocation.Memory,
		Offset: vk.DeviceSize(offset),
		Size:   vk.DeviceSize(size),
	}
	if res := vk.InvalidateMappedMemoryRanges(da.device.LogicalDevice, 1, []vk.MappedMemoryRange{mappedRange}); res != vk.Success {
		return allocationError("vkInvalidateMappedMemoryRanges", res)
	}
	return nil
}

// Shutdown runs the leak check. Allocations still on record belong to
// resources that were never freed.
func (da *DeviceAllocator) Shutdown() {
	da.mutex.Lock()
	defer da.mutex.Unlock()
	for _, name := range da.records {
		core.LogWarn("allocator teardown: allocation %q still owned", name)
	}
}

func (da *DeviceAllocator) record(allocation *Allocation, name string) {
	da.mutex.Lock()
	da.records[allocation] = name
	da.mutex.Unlock()
}

func (da *DeviceAllocator) unrecord(allocation *Allocation) {
	da.mutex.Lock()
	delete(da.records, allocation)
	da.mutex.Unlock()
}

func (da *DeviceAllocator) rollback(class BudgetResourceClass, bytes uint64) {
	if da.budget != nil {
		da.budget.RecordDeallocation(class, bytes)
	}
}

func allocationError(call string, res vk.Result) error {
	switch res {
	case vk.ErrorOutOfDeviceMemory:
		return fmt.Errorf("%w: %s", core.ErrOutOfDeviceMemory, call)
	case vk.ErrorOutOfHostMemory:
		return fmt.Errorf("%w: %s", core.ErrOutOfHostMemory, call)
	default:
		return core.NewVulkanError(call, int32(res))
	}
}
