package vulkan

import (
	vk "github.com/goki/vulkan"
)

type CommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY CommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// CommandBuffer wraps a vk.CommandBuffer with its recording state, for
// nodes that manage their own command buffers.
type CommandBuffer struct {
	Handle vk.CommandBuffer
	State  CommandBufferState
}

func NewCommandBuffer(device *Device, pool vk.CommandPool, isPrimary bool) (*CommandBuffer, error) {
	commandBuffer := &CommandBuffer{
		State: COMMAND_BUFFER_STATE_NOT_ALLOCATED,
	}

	level := vk.CommandBufferLevelSecondary
	if isPrimary {
		level = vk.CommandBufferLevelPrimary
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              level,
	}

	handles := make([]vk.CommandBuffer, 1)
	if err := CheckResult("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(device.LogicalDevice, &allocateInfo, handles)); err != nil {
		return nil, err
	}
	commandBuffer.Handle = handles[0]
	commandBuffer.State = COMMAND_BUFFER_STATE_READY
	return commandBuffer, nil
}

func (c *CommandBuffer) Free(device *Device, pool vk.CommandPool) {
	vk.FreeCommandBuffers(device.LogicalDevice, pool, 1, []vk.CommandBuffer{c.Handle})
	c.Handle = nil
	c.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (c *CommandBuffer) Begin(isSingleUse, isSimultaneousUse bool) error {
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if isSingleUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if isSimultaneousUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit)
	}

	if err := CheckResult("vkBeginCommandBuffer", vk.BeginCommandBuffer(c.Handle, beginInfo)); err != nil {
		return err
	}
	c.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (c *CommandBuffer) End() error {
	if err := CheckResult("vkEndCommandBuffer", vk.EndCommandBuffer(c.Handle)); err != nil {
		return err
	}
	c.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (c *CommandBuffer) UpdateSubmitted() {
	c.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (c *CommandBuffer) Reset() {
	c.State = COMMAND_BUFFER_STATE_READY
}

// AllocateAndBeginSingleUse allocates a primary buffer and starts a
// one-time-submit recording.
func AllocateAndBeginSingleUse(device *Device, pool vk.CommandPool) (*CommandBuffer, error) {
	commandBuffer, err := NewCommandBuffer(device, pool, true)
	if err != nil {
		return nil, err
	}
	if err := commandBuffer.Begin(true, false); err != nil {
		return nil, err
	}
	return commandBuffer, nil
}

// EndSingleUse ends the recording, submits on the queue and waits idle
// before freeing. Convenience for staging uploads.
func (c *CommandBuffer) EndSingleUse(device *Device, pool vk.CommandPool, queue vk.Queue) error {
	if err := c.End(); err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{c.Handle},
	}
	if err := CheckResult("vkQueueSubmit", vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence)); err != nil {
		return err
	}
	c.UpdateSubmitted()

	if err := CheckResult("vkQueueWaitIdle", vk.QueueWaitIdle(queue)); err != nil {
		return err
	}

	c.Free(device, pool)
	return nil
}
