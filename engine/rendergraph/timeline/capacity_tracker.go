package timeline

import (
	stdmath "math"

	"github.com/spaghettifunk/vixen/engine/eventbus"
	"github.com/spaghettifunk/vixen/engine/math"
)

// DeviceTimeline is the per-frame budget/measurement record for one GPU
// queue or CPU thread.
type DeviceTimeline struct {
	BudgetNs uint64

	MeasuredNs  uint64
	RemainingNs uint64

	// Utilization = measured / budget; may exceed 1.0.
	Utilization    float32
	ExceededBudget bool

	FrameNumber uint32
	TaskCount   uint32
}

func (d *DeviceTimeline) Reset() {
	d.MeasuredNs = 0
	d.RemainingNs = d.BudgetNs
	d.Utilization = 0
	d.ExceededBudget = false
	d.TaskCount = 0
}

func (d *DeviceTimeline) ComputeUtilization() {
	if d.BudgetNs > 0 {
		d.Utilization = float32(d.MeasuredNs) / float32(d.BudgetNs)
		d.ExceededBudget = d.Utilization > 1.0
		if d.MeasuredNs < d.BudgetNs {
			d.RemainingNs = d.BudgetNs - d.MeasuredNs
		} else {
			d.RemainingNs = 0
		}
	} else {
		d.Utilization = 0
		d.ExceededBudget = false
		d.RemainingNs = 0
	}
}

// Bottleneck classifies which device class limits the frame.
type Bottleneck uint8

const (
	BottleneckNone Bottleneck = iota
	BottleneckGPU
	BottleneckCPU
	BottleneckUnknown
)

const bottleneckThreshold float32 = 0.90

// SystemTimeline is the frame snapshot across all tracked devices.
type SystemTimeline struct {
	GPUQueues  []DeviceTimeline
	CPUThreads []DeviceTimeline

	FrameNumber uint32
}

func (s *SystemTimeline) Bottleneck() Bottleneck {
	if len(s.GPUQueues) == 0 && len(s.CPUThreads) == 0 {
		return BottleneckUnknown
	}
	maxUtil := float32(0)
	result := BottleneckNone
	for i := range s.GPUQueues {
		if s.GPUQueues[i].Utilization > bottleneckThreshold && s.GPUQueues[i].Utilization > maxUtil {
			maxUtil = s.GPUQueues[i].Utilization
			result = BottleneckGPU
		}
	}
	for i := range s.CPUThreads {
		if s.CPUThreads[i].Utilization > bottleneckThreshold && s.CPUThreads[i].Utilization > maxUtil {
			maxUtil = s.CPUThreads[i].Utilization
			result = BottleneckCPU
		}
	}
	return result
}

func (s *SystemTimeline) MaxGPUUtilization() float32 {
	maxUtil := float32(0)
	for i := range s.GPUQueues {
		if s.GPUQueues[i].Utilization > maxUtil {
			maxUtil = s.GPUQueues[i].Utilization
		}
	}
	return maxUtil
}

func (s *SystemTimeline) MaxCPUUtilization() float32 {
	maxUtil := float32(0)
	for i := range s.CPUThreads {
		if s.CPUThreads[i].Utilization > maxUtil {
			maxUtil = s.CPUThreads[i].Utilization
		}
	}
	return maxUtil
}

func (s *SystemTimeline) TotalGPUTime() uint64 {
	total := uint64(0)
	for i := range s.GPUQueues {
		total += s.GPUQueues[i].MeasuredNs
	}
	return total
}

func (s *SystemTimeline) TotalCPUTime() uint64 {
	total := uint64(0)
	for i := range s.CPUThreads {
		total += s.CPUThreads[i].MeasuredNs
	}
	return total
}

func (s *SystemTimeline) reset() {
	for i := range s.GPUQueues {
		s.GPUQueues[i].Reset()
	}
	for i := range s.CPUThreads {
		s.CPUThreads[i].Reset()
	}
}

func (s *SystemTimeline) computeUtilizations() {
	for i := range s.GPUQueues {
		s.GPUQueues[i].ComputeUtilization()
	}
	for i := range s.CPUThreads {
		s.CPUThreads[i].ComputeUtilization()
	}
}

func (s *SystemTimeline) clone() SystemTimeline {
	snapshot := SystemTimeline{
		GPUQueues:   append([]DeviceTimeline{}, s.GPUQueues...),
		CPUThreads:  append([]DeviceTimeline{}, s.CPUThreads...),
		FrameNumber: s.FrameNumber,
	}
	return snapshot
}

// TrackerConfig configures the capacity tracker.
type TrackerConfig struct {
	NumGPUQueues  uint32
	NumCPUThreads uint32

	GPUTimeBudgetNs uint64
	CPUTimeBudgetNs uint64

	HistoryDepth    uint32
	MaxHistoryDepth uint32

	AdaptiveThreshold       float32
	EnableAdaptiveScheduling bool

	HysteresisDamping  float32
	HysteresisDeadband float32
}

func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		NumGPUQueues:             1,
		NumCPUThreads:            1,
		GPUTimeBudgetNs:          16_666_666,
		CPUTimeBudgetNs:          8_000_000,
		HistoryDepth:             60,
		MaxHistoryDepth:          300,
		AdaptiveThreshold:        0.90,
		EnableAdaptiveScheduling: true,
		HysteresisDamping:        0.10,
		HysteresisDeadband:       0.05,
	}
}

/**
 * @brief TimelineCapacityTracker tracks one DeviceTimeline per GPU queue
 * and CPU thread, keeps a bounded frame history, learns prediction error
 * and suggests adaptive task-count scaling with damped hysteresis.
 */
type TimelineCapacityTracker struct {
	config       TrackerConfig
	currentFrame SystemTimeline
	history      []SystemTimeline
	frameCounter uint32

	predictionTracker *PredictionErrorTracker

	bus *eventbus.MessageBus
}

func NewTimelineCapacityTracker(config TrackerConfig) *TimelineCapacityTracker {
	if config.NumGPUQueues == 0 {
		config.NumGPUQueues = 1
	}
	if config.NumCPUThreads == 0 {
		config.NumCPUThreads = 1
	}
	if config.HistoryDepth == 0 {
		config.HistoryDepth = 60
	}
	if config.MaxHistoryDepth == 0 {
		config.MaxHistoryDepth = 300
	}
	if config.HistoryDepth > config.MaxHistoryDepth {
		config.HistoryDepth = config.MaxHistoryDepth
	}
	if config.AdaptiveThreshold == 0 {
		config.AdaptiveThreshold = 0.90
	}
	if config.HysteresisDamping == 0 {
		config.HysteresisDamping = 0.10
	}
	if config.HysteresisDeadband == 0 {
		config.HysteresisDeadband = 0.05
	}

	tracker := &TimelineCapacityTracker{
		config:            config,
		predictionTracker: NewPredictionErrorTracker(DefaultPredictionTrackerConfig()),
	}
	tracker.currentFrame.GPUQueues = make([]DeviceTimeline, config.NumGPUQueues)
	tracker.currentFrame.CPUThreads = make([]DeviceTimeline, config.NumCPUThreads)
	for i := range tracker.currentFrame.GPUQueues {
		tracker.currentFrame.GPUQueues[i].BudgetNs = config.GPUTimeBudgetNs
		tracker.currentFrame.GPUQueues[i].RemainingNs = config.GPUTimeBudgetNs
	}
	for i := range tracker.currentFrame.CPUThreads {
		tracker.currentFrame.CPUThreads[i].BudgetNs = config.CPUTimeBudgetNs
		tracker.currentFrame.CPUThreads[i].RemainingNs = config.CPUTimeBudgetNs
	}
	return tracker
}

// SetMessageBus attaches the bus the tracker publishes budget events on.
func (t *TimelineCapacityTracker) SetMessageBus(bus *eventbus.MessageBus) {
	t.bus = bus
}

// BeginFrame resets measurements, preserving budgets.
func (t *TimelineCapacityTracker) BeginFrame() {
	t.currentFrame.reset()
}

// RecordGPUTime accumulates measured time onto a GPU queue timeline.
func (t *TimelineCapacityTracker) RecordGPUTime(queueIndex uint32, nanoseconds uint64) {
	if int(queueIndex) >= len(t.currentFrame.GPUQueues) {
		return
	}
	timeline := &t.currentFrame.GPUQueues[queueIndex]
	timeline.MeasuredNs += nanoseconds
	timeline.TaskCount++
}

// RecordCPUTime accumulates measured time onto a CPU thread timeline.
func (t *TimelineCapacityTracker) RecordCPUTime(threadIndex uint32, nanoseconds uint64) {
	if int(threadIndex) >= len(t.currentFrame.CPUThreads) {
		return
	}
	timeline := &t.currentFrame.CPUThreads[threadIndex]
	timeline.MeasuredNs += nanoseconds
	timeline.TaskCount++
}

// EndFrame recomputes utilizations, snapshots into the bounded history,
// advances the frame counter and publishes budget events.
func (t *TimelineCapacityTracker) EndFrame() {
	t.currentFrame.computeUtilizations()
	t.currentFrame.FrameNumber = t.frameCounter
	for i := range t.currentFrame.GPUQueues {
		t.currentFrame.GPUQueues[i].FrameNumber = t.frameCounter
	}
	for i := range t.currentFrame.CPUThreads {
		t.currentFrame.CPUThreads[i].FrameNumber = t.frameCounter
	}

	t.history = append(t.history, t.currentFrame.clone())
	for uint32(len(t.history)) > t.config.HistoryDepth {
		t.history = t.history[1:]
	}

	t.publishBudgetEvents()
	t.frameCounter++
}

func (t *TimelineCapacityTracker) publishBudgetEvents() {
	if t.bus == nil {
		return
	}
	for i := range t.currentFrame.GPUQueues {
		timeline := &t.currentFrame.GPUQueues[i]
		if timeline.ExceededBudget {
			t.bus.Publish(&eventbus.Message{
				Type:          eventbus.MessageGPUOverBudget,
				CategoryFlags: eventbus.CategoryBudget,
				Payload: &eventbus.OverBudgetPayload{
					DeviceIndex: uint32(i),
					MeasuredNs:  timeline.MeasuredNs,
					BudgetNs:    timeline.BudgetNs,
					FrameNumber: t.frameCounter,
				},
			})
		}
	}
	for i := range t.currentFrame.CPUThreads {
		timeline := &t.currentFrame.CPUThreads[i]
		if timeline.ExceededBudget {
			t.bus.Publish(&eventbus.Message{
				Type:          eventbus.MessageCPUOverBudget,
				CategoryFlags: eventbus.CategoryBudget,
				Payload: &eventbus.OverBudgetPayload{
					DeviceIndex: uint32(i),
					MeasuredNs:  timeline.MeasuredNs,
					BudgetNs:    timeline.BudgetNs,
					FrameNumber: t.frameCounter,
				},
			})
		}
	}

	maxUtil := t.currentFrame.MaxGPUUtilization()
	if t.config.EnableAdaptiveScheduling && maxUtil < t.config.AdaptiveThreshold {
		t.bus.Publish(&eventbus.Message{
			Type:          eventbus.MessageUtilizationBelowAdaptive,
			CategoryFlags: eventbus.CategoryBudget | eventbus.CategoryScheduler,
			Payload: &eventbus.AdaptivePayload{
				MaxUtilization:    maxUtil,
				AdaptiveThreshold: t.config.AdaptiveThreshold,
				FrameNumber:       t.frameCounter,
			},
		})
	}
}

func (t *TimelineCapacityTracker) CurrentTimeline() *SystemTimeline {
	return &t.currentFrame
}

func (t *TimelineCapacityTracker) GPURemainingBudget(queueIndex uint32) uint64 {
	if int(queueIndex) >= len(t.currentFrame.GPUQueues) {
		return 0
	}
	return t.currentFrame.GPUQueues[queueIndex].RemainingNs
}

func (t *TimelineCapacityTracker) MinGPURemainingBudget() uint64 {
	minRemaining := uint64(stdmath.MaxUint64)
	for i := range t.currentFrame.GPUQueues {
		if t.currentFrame.GPUQueues[i].RemainingNs < minRemaining {
			minRemaining = t.currentFrame.GPUQueues[i].RemainingNs
		}
	}
	if minRemaining == stdmath.MaxUint64 {
		return 0
	}
	return minRemaining
}

func (t *TimelineCapacityTracker) CPURemainingBudget(threadIndex uint32) uint64 {
	if int(threadIndex) >= len(t.currentFrame.CPUThreads) {
		return 0
	}
	return t.currentFrame.CPUThreads[threadIndex].RemainingNs
}

func (t *TimelineCapacityTracker) MinCPURemainingBudget() uint64 {
	minRemaining := uint64(stdmath.MaxUint64)
	for i := range t.currentFrame.CPUThreads {
		if t.currentFrame.CPUThreads[i].RemainingNs < minRemaining {
			minRemaining = t.currentFrame.CPUThreads[i].RemainingNs
		}
	}
	if minRemaining == stdmath.MaxUint64 {
		return 0
	}
	return minRemaining
}

// CanScheduleMoreWork is true while the busiest GPU queue stays under the
// adaptive threshold.
func (t *TimelineCapacityTracker) CanScheduleMoreWork() bool {
	return t.currentFrame.MaxGPUUtilization() < t.config.AdaptiveThreshold
}

func (t *TimelineCapacityTracker) IsOverBudget() bool {
	for i := range t.currentFrame.GPUQueues {
		if t.currentFrame.GPUQueues[i].ExceededBudget {
			return true
		}
	}
	for i := range t.currentFrame.CPUThreads {
		if t.currentFrame.CPUThreads[i].ExceededBudget {
			return true
		}
	}
	return false
}

// SuggestAdditionalTasks returns how many tasks of the given estimated
// cost still fit, or 0 at or above the adaptive threshold.
func (t *TimelineCapacityTracker) SuggestAdditionalTasks(estimatedCostPerTaskNs uint64) uint32 {
	if estimatedCostPerTaskNs == 0 {
		return 0
	}
	if !t.config.EnableAdaptiveScheduling || !t.CanScheduleMoreWork() {
		return 0
	}
	return uint32(t.MinGPURemainingBudget() / estimatedCostPerTaskNs)
}

// ComputeTaskCountScale applies damped hysteresis to the busiest GPU
// queue's utilization: inside the deadband the scale holds at 1.0, and
// the scale never moves more than ±damping in one frame.
func (t *TimelineCapacityTracker) ComputeTaskCountScale() float32 {
	utilization := t.currentFrame.MaxGPUUtilization()

	deviation := utilization - 1.0
	if deviation < 0 {
		deviation = -deviation
	}
	if deviation < t.config.HysteresisDeadband {
		return 1.0
	}

	scale := 1.0 + (1.0 - utilization)
	return math.Clamp(scale, 1.0-t.config.HysteresisDamping, 1.0+t.config.HysteresisDamping)
}

// AverageGPUUtilization averages max-GPU utilization over the most recent
// frameCount history entries.
func (t *TimelineCapacityTracker) AverageGPUUtilization(frameCount uint32) float32 {
	return t.averageUtilization(frameCount, func(s *SystemTimeline) float32 {
		return s.MaxGPUUtilization()
	})
}

// AverageCPUUtilization averages max-CPU utilization over the history.
func (t *TimelineCapacityTracker) AverageCPUUtilization(frameCount uint32) float32 {
	return t.averageUtilization(frameCount, func(s *SystemTimeline) float32 {
		return s.MaxCPUUtilization()
	})
}

func (t *TimelineCapacityTracker) averageUtilization(frameCount uint32, read func(*SystemTimeline) float32) float32 {
	if len(t.history) == 0 || frameCount == 0 {
		return 0
	}
	count := int(frameCount)
	if count > len(t.history) {
		count = len(t.history)
	}
	sum := float32(0)
	for i := len(t.history) - count; i < len(t.history); i++ {
		sum += read(&t.history[i])
	}
	return sum / float32(count)
}

func (t *TimelineCapacityTracker) History() []SystemTimeline { return t.history }

func (t *TimelineCapacityTracker) FrameCounter() uint32 { return t.frameCounter }

// SetGPUBudget applies a budget to every GPU queue.
func (t *TimelineCapacityTracker) SetGPUBudget(nanoseconds uint64) {
	t.config.GPUTimeBudgetNs = nanoseconds
	for i := range t.currentFrame.GPUQueues {
		t.currentFrame.GPUQueues[i].BudgetNs = nanoseconds
	}
}

// SetGPUQueueBudget applies a budget to one GPU queue.
func (t *TimelineCapacityTracker) SetGPUQueueBudget(queueIndex uint32, nanoseconds uint64) {
	if int(queueIndex) < len(t.currentFrame.GPUQueues) {
		t.currentFrame.GPUQueues[queueIndex].BudgetNs = nanoseconds
	}
}

// SetCPUBudget applies a budget to every CPU thread.
func (t *TimelineCapacityTracker) SetCPUBudget(nanoseconds uint64) {
	t.config.CPUTimeBudgetNs = nanoseconds
	for i := range t.currentFrame.CPUThreads {
		t.currentFrame.CPUThreads[i].BudgetNs = nanoseconds
	}
}

// SetCPUThreadBudget applies a budget to one CPU thread.
func (t *TimelineCapacityTracker) SetCPUThreadBudget(threadIndex uint32, nanoseconds uint64) {
	if int(threadIndex) < len(t.currentFrame.CPUThreads) {
		t.currentFrame.CPUThreads[threadIndex].BudgetNs = nanoseconds
	}
}

func (t *TimelineCapacityTracker) SetAdaptiveScheduling(enabled bool) {
	t.config.EnableAdaptiveScheduling = enabled
}

func (t *TimelineCapacityTracker) Config() TrackerConfig { return t.config }

// RecordPrediction forwards a sample to the prediction tracker using the
// current frame counter.
func (t *TimelineCapacityTracker) RecordPrediction(taskID string, estimatedNs, actualNs uint64) {
	t.predictionTracker.RecordPrediction(taskID, estimatedNs, actualNs, t.frameCounter)
}

// RecordPredictionIndexed names the task by queue/slot index.
func (t *TimelineCapacityTracker) RecordPredictionIndexed(taskIndex uint32, estimatedNs, actualNs uint64) {
	t.predictionTracker.RecordPredictionIndexed(taskIndex, estimatedNs, actualNs, t.frameCounter)
}

func (t *TimelineCapacityTracker) CorrectionFactor(taskID string) float32 {
	return t.predictionTracker.CorrectionFactor(taskID)
}

// CorrectedEstimate scales an estimate by the learned correction factor.
func (t *TimelineCapacityTracker) CorrectedEstimate(taskID string, estimatedNs uint64) uint64 {
	correction := t.predictionTracker.CorrectionFactor(taskID)
	return uint64(float32(estimatedNs) * correction)
}

func (t *TimelineCapacityTracker) PredictionStats(taskID string) *TaskPredictionStats {
	return t.predictionTracker.TaskStats(taskID)
}

func (t *TimelineCapacityTracker) GlobalPredictionStats() GlobalPredictionStats {
	return t.predictionTracker.GlobalStats()
}

func (t *TimelineCapacityTracker) PredictionTracker() *PredictionErrorTracker {
	return t.predictionTracker
}
