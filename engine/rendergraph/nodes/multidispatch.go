package nodes

import (
	"fmt"
	"sort"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vixen/engine/core"
	"github.com/spaghettifunk/vixen/engine/rendergraph"
	"github.com/spaghettifunk/vixen/engine/rendergraph/timeline"
)

// MultiDispatch slot indexes.
const (
	// MultiDispatchGroupInputs is the accumulation slot collecting
	// DispatchPass elements from producer nodes.
	MultiDispatchGroupInputs = 0
)

// MultiDispatchTypeName registers under this name.
const MultiDispatchTypeName = "MultiDispatch"

// implicitGroup is the bucket used when no group extraction is wired.
const implicitGroup uint32 = 0

// NewMultiDispatchNodeType describes the multi-dispatch engine node.
func NewMultiDispatchNodeType() *rendergraph.NodeType {
	return &rendergraph.NodeType{
		TypeName: MultiDispatchTypeName,
		Inputs: []rendergraph.ResourceDescriptor{
			{
				Name:     "GROUP_INPUTS",
				Kind:     rendergraph.ResourceKindOpaque,
				Optional: true,
				Role:     rendergraph.RoleDependency,
				Flags:    rendergraph.SlotAccumulation,
			},
		},
		Outputs: []rendergraph.ResourceDescriptor{
			{Name: "STATS", Kind: rendergraph.ResourceKindOpaque},
		},
		Pipeline: rendergraph.PipelineCompute,
		Factory: func(instanceName string, nodeType *rendergraph.NodeType) (rendergraph.Node, error) {
			return NewMultiDispatchNode(instanceName, nodeType), nil
		},
	}
}

type queuedBarrier struct {
	insertionIndex int
	barrier        DispatchBarrier
}

/**
 * @brief MultiDispatchNode records many compute dispatches into one
 * command buffer per frame. When a GROUP_INPUTS accumulation edge carries
 * a group-key extraction, the queue partitions by group id (ascending)
 * with insertion order preserved inside each group; otherwise the linear
 * queue forms one implicit group. With autoBarriers enabled a
 * conservative compute barrier lands between successive dispatches in a
 * group to cover UAV read-after-write hazards.
 */
type MultiDispatchNode struct {
	*rendergraph.NodeInstance

	taskQueue     *timeline.TaskQueue[DispatchPass]
	dispatchQueue []DispatchPass
	barrierQueue  []queuedBarrier

	groupedDispatches map[uint32][]DispatchPass

	autoBarriers bool

	// recordCallback observes each recorded pass in order; profiling and
	// test harnesses hook here.
	recordCallback func(groupID uint32, pass *DispatchPass)

	stats MultiDispatchStats

	clock *core.Clock
}

func NewMultiDispatchNode(instanceName string, nodeType *rendergraph.NodeType) *MultiDispatchNode {
	node := &MultiDispatchNode{
		NodeInstance: rendergraph.NewNodeInstance(instanceName, nodeType),
		taskQueue:    timeline.NewTaskQueue[DispatchPass](),
		autoBarriers: true,
		clock:        core.NewClock(),
	}
	node.taskQueue.SetBudget(timeline.BudgetUnlimited)
	node.stats.reset()
	return node
}

// SetRecordCallback installs an observer invoked for every recorded
// dispatch in execution order.
func (n *MultiDispatchNode) SetRecordCallback(callback func(groupID uint32, pass *DispatchPass)) {
	n.recordCallback = callback
}

// SetAutoBarriers toggles the UAV hazard policy.
func (n *MultiDispatchNode) SetAutoBarriers(enabled bool) {
	n.autoBarriers = enabled
}

// SetTaskBudget installs a budget on the internal queue; QueueDispatch
// then rejects work past it in strict mode.
func (n *MultiDispatchNode) SetTaskBudget(budget timeline.TaskBudget) {
	n.taskQueue.SetBudget(budget)
}

// TaskQueue exposes the internal queue for capacity-tracker linkage.
func (n *MultiDispatchNode) TaskQueue() *timeline.TaskQueue[DispatchPass] {
	return n.taskQueue
}

// QueueDispatch validates and enqueues a pass, returning its index.
func (n *MultiDispatchNode) QueueDispatch(pass DispatchPass) (int, error) {
	if !pass.IsValid() {
		return -1, fmt.Errorf("%w: dispatch pass %q", core.ErrInvalidParameters, pass.DebugName)
	}
	if !n.taskQueue.TryEnqueue(timeline.TaskSlot[DispatchPass]{
		Data:            pass,
		Priority:        128,
		EstimatedCostNs: pass.EstimatedCostNs,
	}) {
		return -1, fmt.Errorf("%w: dispatch pass %q", core.ErrOverBudget, pass.DebugName)
	}
	n.dispatchQueue = append(n.dispatchQueue, pass)
	return len(n.dispatchQueue) - 1, nil
}

// QueueBarrier enqueues an explicit barrier tagged with the current queue
// length. Recording emits it after a group when the number of dispatches
// recorded so far equals that tag; a barrier whose tag never matches a
// group end is not recorded.
func (n *MultiDispatchNode) QueueBarrier(barrier DispatchBarrier) {
	n.barrierQueue = append(n.barrierQueue, queuedBarrier{
		insertionIndex: len(n.dispatchQueue),
		barrier:        barrier,
	})
}

// ClearQueue is idempotent.
func (n *MultiDispatchNode) ClearQueue() {
	n.dispatchQueue = n.dispatchQueue[:0]
	n.barrierQueue = n.barrierQueue[:0]
	n.groupedDispatches = nil
	n.taskQueue.Clear()
}

func (n *MultiDispatchNode) QueueSize() int {
	return len(n.dispatchQueue)
}

func (n *MultiDispatchNode) Stats() *MultiDispatchStats {
	return &n.stats
}

func (n *MultiDispatchNode) Setup(ctx *rendergraph.SetupContext) error {
	return nil
}

// Compile pulls accumulated DispatchPass elements off the GROUP_INPUTS
// slot and partitions them when a group-key extraction was wired.
func (n *MultiDispatchNode) Compile(ctx *rendergraph.CompileContext) error {
	n.groupedDispatches = nil

	extractor := n.groupExtractor(ctx.Graph())

	elements := ctx.InAccumulated(MultiDispatchGroupInputs)
	for _, resource := range elements {
		payload := resource.Payload()
		if payload == nil {
			continue
		}
		pass, ok := payload.(*DispatchPass)
		if !ok {
			if byValue, okValue := payload.(DispatchPass); okValue {
				pass = &byValue
			} else {
				// Ordering-only connections carry other payloads.
				core.LogDebug("%s: GROUP_INPUTS element is not a DispatchPass; skipping", n.LogName)
				continue
			}
		}
		queued := *pass
		if extractor != nil {
			if groupID, found := extractor(payload); found {
				queued.GroupID = &groupID
			}
		}
		if _, err := n.QueueDispatch(queued); err != nil {
			core.LogWarn("%s: %v", n.LogName, err)
		}
	}

	return nil
}

// groupExtractor reads the closure a GroupKeyModifier stored on the
// accumulation edge.
func (n *MultiDispatchNode) groupExtractor(graph *rendergraph.Graph) rendergraph.GroupKeyExtractor {
	for _, edge := range graph.Edges() {
		if edge.Target != n.Handle || edge.TargetInputIndex != MultiDispatchGroupInputs {
			continue
		}
		if raw, ok := edge.Metadata[rendergraph.MetadataGroupKeyExtractor]; ok {
			if extractor, okType := raw.(rendergraph.GroupKeyExtractor); okType {
				return extractor
			}
		}
	}
	return nil
}

func (n *MultiDispatchNode) Execute(ctx *rendergraph.ExecuteContext) error {
	n.clock.Start()

	n.partitionGroups()
	n.recordDispatches(ctx.CommandBuffer)

	n.clock.Update()
	n.stats.RecordTimeMs = n.clock.Elapsed() / 1e6

	ctx.Out(0, &n.stats)

	// Queue is consumed by recording.
	n.ClearQueue()
	return nil
}

// partitionGroups builds the deterministic group mapping: dispatches with
// a group id bucket by id, the rest fall into the implicit group.
func (n *MultiDispatchNode) partitionGroups() {
	n.groupedDispatches = make(map[uint32][]DispatchPass)
	for _, pass := range n.dispatchQueue {
		groupID := implicitGroup
		if pass.GroupID != nil {
			groupID = *pass.GroupID
		}
		n.groupedDispatches[groupID] = append(n.groupedDispatches[groupID], pass)
	}
}

func (n *MultiDispatchNode) recordDispatches(commandBuffer vk.CommandBuffer) {
	n.stats.reset()

	groupIDs := make([]uint32, 0, len(n.groupedDispatches))
	for groupID := range n.groupedDispatches {
		groupIDs = append(groupIDs, groupID)
	}
	sort.Slice(groupIDs, func(i, j int) bool { return groupIDs[i] < groupIDs[j] })

	recorded := 0
	for _, groupID := range groupIDs {
		groupClock := core.NewClock()
		groupClock.Start()
		groupStats := n.stats.group(groupID)

		for i, pass := range n.groupedDispatches[groupID] {
			if n.autoBarriers && i > 0 {
				n.insertAutoBarrier(commandBuffer)
			}
			n.recordPass(commandBuffer, &pass)
			if n.recordCallback != nil {
				n.recordCallback(groupID, &pass)
			}
			groupStats.DispatchCount++
			groupStats.TotalWorkGroups += pass.TotalWorkGroups()
			n.stats.DispatchCount++
			n.stats.TotalWorkGroups += pass.TotalWorkGroups()
			recorded++
		}

		// Explicit barriers whose insertion index falls at this group
		// boundary.
		for _, queued := range n.barrierQueue {
			if queued.insertionIndex == recorded {
				n.recordBarrier(commandBuffer, &queued.barrier)
			}
		}

		groupClock.Update()
		groupStats.RecordTimeMs = groupClock.Elapsed() / 1e6
	}
}

// insertAutoBarrier covers UAV read-after-write between successive
// dispatches with a conservative compute-to-compute memory barrier.
func (n *MultiDispatchNode) insertAutoBarrier(commandBuffer vk.CommandBuffer) {
	n.stats.BarrierCount++
	if commandBuffer == vk.NullCommandBuffer {
		return
	}
	memoryBarrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(vk.AccessShaderWriteBit),
		DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit),
	}
	vk.CmdPipelineBarrier(
		commandBuffer,
		vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		0,
		1, []vk.MemoryBarrier{memoryBarrier},
		0, nil,
		0, nil,
	)
}

func (n *MultiDispatchNode) recordBarrier(commandBuffer vk.CommandBuffer, barrier *DispatchBarrier) {
	if barrier.IsEmpty() {
		return
	}
	n.stats.BarrierCount++
	if commandBuffer == vk.NullCommandBuffer {
		return
	}
	vk.CmdPipelineBarrier(
		commandBuffer,
		vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		0,
		uint32(len(barrier.MemoryBarriers)), barrier.MemoryBarriers,
		uint32(len(barrier.BufferBarriers)), barrier.BufferBarriers,
		uint32(len(barrier.ImageBarriers)), barrier.ImageBarriers,
	)
}

func (n *MultiDispatchNode) recordPass(commandBuffer vk.CommandBuffer, pass *DispatchPass) {
	if commandBuffer == vk.NullCommandBuffer {
		return
	}
	vk.CmdBindPipeline(commandBuffer, vk.PipelineBindPointCompute, pass.Pipeline)
	if len(pass.DescriptorSets) > 0 {
		vk.CmdBindDescriptorSets(
			commandBuffer,
			vk.PipelineBindPointCompute,
			pass.Layout,
			pass.FirstSet,
			uint32(len(pass.DescriptorSets)), pass.DescriptorSets,
			0, nil,
		)
	}
	if pass.PushConstants != nil && len(pass.PushConstants.Data) > 0 {
		vk.CmdPushConstants(
			commandBuffer,
			pass.Layout,
			pass.PushConstants.StageFlags,
			pass.PushConstants.Offset,
			uint32(len(pass.PushConstants.Data)),
			unsafe.Pointer(&pass.PushConstants.Data[0]),
		)
	}
	vk.CmdDispatch(commandBuffer, pass.WorkGroupCount.X, pass.WorkGroupCount.Y, pass.WorkGroupCount.Z)
}

func (n *MultiDispatchNode) Cleanup(ctx *rendergraph.CleanupContext) error {
	n.ClearQueue()
	return nil
}
