package nodes

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vixen/engine/math"
)

// PushConstantData is the raw byte range shipped with a dispatch.
type PushConstantData struct {
	Data       []byte
	StageFlags vk.ShaderStageFlags
	// Offset in the push-constant range.
	Offset uint32
}

/**
 * @brief DispatchPass is one complete description of a single compute
 * dispatch: pipeline, descriptor sets, optional push constants and the
 * work-group counts.
 */
type DispatchPass struct {
	Pipeline vk.Pipeline
	Layout   vk.PipelineLayout

	DescriptorSets []vk.DescriptorSet
	FirstSet       uint32

	PushConstants *PushConstantData

	WorkGroupCount math.UVec3

	DebugName string

	// GroupID partitions dispatches; nil means ungrouped.
	GroupID *uint32

	// EstimatedCostNs feeds the budget-aware queue.
	EstimatedCostNs uint64
}

func (p *DispatchPass) IsValid() bool {
	return p.Pipeline != vk.NullPipeline &&
		p.Layout != vk.NullPipelineLayout &&
		p.WorkGroupCount.X > 0 &&
		p.WorkGroupCount.Y > 0 &&
		p.WorkGroupCount.Z > 0
}

func (p *DispatchPass) TotalWorkGroups() uint64 {
	return uint64(p.WorkGroupCount.X) * uint64(p.WorkGroupCount.Y) * uint64(p.WorkGroupCount.Z)
}

// DispatchBarrier is an explicit pipeline barrier queued between
// dispatches.
type DispatchBarrier struct {
	BufferBarriers []vk.BufferMemoryBarrier
	ImageBarriers  []vk.ImageMemoryBarrier
	MemoryBarriers []vk.MemoryBarrier
}

func (b *DispatchBarrier) IsEmpty() bool {
	return len(b.BufferBarriers) == 0 &&
		len(b.ImageBarriers) == 0 &&
		len(b.MemoryBarriers) == 0
}

// GroupDispatchStats is the per-group slice of MultiDispatchStats.
type GroupDispatchStats struct {
	DispatchCount   uint32
	TotalWorkGroups uint64
	RecordTimeMs    float64
}

// MultiDispatchStats aggregates a frame's recording.
type MultiDispatchStats struct {
	DispatchCount   uint32
	BarrierCount    uint32
	TotalWorkGroups uint64
	RecordTimeMs    float64

	GroupStats map[uint32]*GroupDispatchStats
}

func (s *MultiDispatchStats) GroupCount() int {
	return len(s.GroupStats)
}

func (s *MultiDispatchStats) Group(groupID uint32) *GroupDispatchStats {
	return s.GroupStats[groupID]
}

func (s *MultiDispatchStats) reset() {
	s.DispatchCount = 0
	s.BarrierCount = 0
	s.TotalWorkGroups = 0
	s.RecordTimeMs = 0
	s.GroupStats = make(map[uint32]*GroupDispatchStats)
}

func (s *MultiDispatchStats) group(groupID uint32) *GroupDispatchStats {
	if s.GroupStats == nil {
		s.GroupStats = make(map[uint32]*GroupDispatchStats)
	}
	stats, ok := s.GroupStats[groupID]
	if !ok {
		stats = &GroupDispatchStats{}
		s.GroupStats[groupID] = stats
	}
	return stats
}
