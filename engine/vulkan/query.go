package vulkan

import (
	"math"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vixen/engine/core"
)

// QuerySlotHandle identifies an allocated timestamp slot pair (start+end).
type QuerySlotHandle uint32

// InvalidQuerySlot is the sentinel for an unallocated slot.
const InvalidQuerySlot QuerySlotHandle = math.MaxUint32

/**
 * @brief TimestampQueryPool hands out start/end timestamp slot pairs and
 * resolves measured GPU time in nanoseconds. One pool per device.
 *
 * Resolve assumes the caller has synchronized (waited for the fences of
 * the frame that wrote the timestamps); reading earlier returns NotReady.
 */
type TimestampQueryPool struct {
	device   *Device
	pool     vk.QueryPool
	capacity uint32

	// Slot ids are handed out with reuse so released pairs come back
	// before the pool exhausts.
	slots *core.IDPool
}

func NewTimestampQueryPool(device *Device, maxSlots uint32) (*TimestampQueryPool, error) {
	qp := &TimestampQueryPool{
		device:   device,
		capacity: maxSlots,
		slots:    core.NewIDPool(int(maxSlots)),
	}

	if device.HasLogicalDevice() {
		createInfo := vk.QueryPoolCreateInfo{
			SType:      vk.StructureTypeQueryPoolCreateInfo,
			QueryType:  vk.QueryTypeTimestamp,
			QueryCount: maxSlots * 2,
		}
		if res := vk.CreateQueryPool(device.LogicalDevice, &createInfo, device.AllocCallbacks, &qp.pool); res != vk.Success {
			return nil, core.NewVulkanError("vkCreateQueryPool", int32(res))
		}
	}
	return qp, nil
}

// AllocateSlot returns a free slot pair, or InvalidQuerySlot when the pool
// is exhausted.
func (qp *TimestampQueryPool) AllocateSlot() QuerySlotHandle {
	id := qp.slots.AcquireID(qp)
	if id >= qp.capacity {
		_ = qp.slots.ReleaseID(id)
		core.LogWarn("timestamp query pool exhausted (%d slots)", qp.capacity)
		return InvalidQuerySlot
	}
	return QuerySlotHandle(id)
}

// ReleaseSlot returns a slot pair to the pool.
func (qp *TimestampQueryPool) ReleaseSlot(slot QuerySlotHandle) {
	if slot == InvalidQuerySlot || uint32(slot) >= qp.capacity {
		return
	}
	_ = qp.slots.ReleaseID(uint32(slot))
}

// Reset clears all queries. Record once at the start of the frame's
// command buffer before any WriteStart.
func (qp *TimestampQueryPool) Reset(commandBuffer vk.CommandBuffer) {
	if qp.pool == vk.NullQueryPool {
		return
	}
	vk.CmdResetQueryPool(commandBuffer, qp.pool, 0, qp.capacity*2)
}

// WriteStart records the start-of-work timestamp for a slot.
func (qp *TimestampQueryPool) WriteStart(commandBuffer vk.CommandBuffer, slot QuerySlotHandle) {
	if qp.pool == vk.NullQueryPool || slot == InvalidQuerySlot {
		return
	}
	vk.CmdWriteTimestamp(commandBuffer, vk.PipelineStageTopOfPipeBit, qp.pool, uint32(slot)*2)
}

// WriteEnd records the end-of-work timestamp for a slot.
func (qp *TimestampQueryPool) WriteEnd(commandBuffer vk.CommandBuffer, slot QuerySlotHandle) {
	if qp.pool == vk.NullQueryPool || slot == InvalidQuerySlot {
		return
	}
	vk.CmdWriteTimestamp(commandBuffer, vk.PipelineStageBottomOfPipeBit, qp.pool, uint32(slot)*2+1)
}

// ResolveNs reads back one slot pair and converts ticks to nanoseconds via
// the device timestamp period. The caller must have synchronized first.
func (qp *TimestampQueryPool) ResolveNs(slot QuerySlotHandle) (uint64, error) {
	if qp.pool == vk.NullQueryPool || slot == InvalidQuerySlot {
		return 0, core.ErrInvalidParameters
	}

	var ticks [2]uint64
	res := vk.GetQueryPoolResults(
		qp.device.LogicalDevice,
		qp.pool,
		uint32(slot)*2,
		2,
		uint(unsafe.Sizeof(ticks)),
		unsafe.Pointer(&ticks[0]),
		vk.DeviceSize(unsafe.Sizeof(ticks[0])),
		vk.QueryResultFlags(vk.QueryResult64Bit),
	)
	if res != vk.Success {
		return 0, core.NewVulkanError("vkGetQueryPoolResults", int32(res))
	}

	validMask := uint64(math.MaxUint64)
	if qp.device.Caps.TimestampValidBits < 64 && qp.device.Caps.TimestampValidBits > 0 {
		validMask = (uint64(1) << qp.device.Caps.TimestampValidBits) - 1
	}
	start := ticks[0] & validMask
	end := ticks[1] & validMask
	if end < start {
		return 0, nil
	}
	elapsed := float64(end-start) * float64(qp.device.Caps.TimestampPeriodNs)
	return uint64(elapsed), nil
}

// Destroy releases the underlying query pool.
func (qp *TimestampQueryPool) Destroy() {
	if qp.pool != vk.NullQueryPool {
		vk.DestroyQueryPool(qp.device.LogicalDevice, qp.pool, qp.device.AllocCallbacks)
		qp.pool = vk.NullQueryPool
	}
}
