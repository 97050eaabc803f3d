package timeline

import (
	"testing"

	"github.com/spaghettifunk/vixen/engine/eventbus"
)

func runFrame(tracker *TimelineCapacityTracker, gpuNs uint64) {
	tracker.BeginFrame()
	tracker.RecordGPUTime(0, gpuNs)
	tracker.EndFrame()
}

func TestUtilizationAndRemaining(t *testing.T) {
	tracker := NewTimelineCapacityTracker(DefaultTrackerConfig())
	tracker.SetGPUBudget(10_000_000)

	runFrame(tracker, 7_500_000)

	timeline := tracker.CurrentTimeline()
	if got := timeline.GPUQueues[0].Utilization; got < 0.74 || got > 0.76 {
		t.Errorf("Utilization = %f, want 0.75", got)
	}
	if got := tracker.GPURemainingBudget(0); got != 2_500_000 {
		t.Errorf("GPURemainingBudget = %d, want 2500000", got)
	}
	if tracker.IsOverBudget() {
		t.Error("should not be over budget at 75%")
	}
}

func TestOverBudgetFlag(t *testing.T) {
	tracker := NewTimelineCapacityTracker(DefaultTrackerConfig())
	tracker.SetGPUBudget(1_000_000)
	runFrame(tracker, 1_500_000)

	if !tracker.IsOverBudget() {
		t.Error("150% utilization should flag over budget")
	}
	if got := tracker.GPURemainingBudget(0); got != 0 {
		t.Errorf("GPURemainingBudget = %d, want 0 (saturating)", got)
	}
}

func TestBottleneckClassification(t *testing.T) {
	tests := []struct {
		name  string
		gpuNs uint64
		cpuNs uint64
		want  Bottleneck
	}{
		{"idle", 1_000_000, 1_000_000, BottleneckNone},
		{"gpu bound", 16_000_000, 1_000_000, BottleneckGPU},
		{"cpu bound", 1_000_000, 7_900_000, BottleneckCPU},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTimelineCapacityTracker(DefaultTrackerConfig())
			tracker.BeginFrame()
			tracker.RecordGPUTime(0, tt.gpuNs)
			tracker.RecordCPUTime(0, tt.cpuNs)
			tracker.EndFrame()
			if got := tracker.CurrentTimeline().Bottleneck(); got != tt.want {
				t.Errorf("Bottleneck = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTaskCountScaleDamping(t *testing.T) {
	tracker := NewTimelineCapacityTracker(DefaultTrackerConfig())
	tracker.SetGPUBudget(10_000_000)

	damping := tracker.Config().HysteresisDamping
	for _, measured := range []uint64{0, 2_000_000, 9_000_000, 10_000_000, 15_000_000, 40_000_000} {
		runFrame(tracker, measured)
		scale := tracker.ComputeTaskCountScale()
		deviation := scale - 1.0
		if deviation < 0 {
			deviation = -deviation
		}
		if deviation > damping+1e-6 {
			t.Errorf("measured=%d: |scale-1| = %f exceeds damping %f", measured, deviation, damping)
		}
	}
}

func TestTaskCountScaleDeadband(t *testing.T) {
	tracker := NewTimelineCapacityTracker(DefaultTrackerConfig())
	tracker.SetGPUBudget(10_000_000)

	// 97% utilization sits inside the ±5% deadband.
	runFrame(tracker, 9_700_000)
	if got := tracker.ComputeTaskCountScale(); got != 1.0 {
		t.Errorf("scale inside deadband = %f, want 1.0", got)
	}

	// 50% utilization is far below; scale caps at 1+damping.
	runFrame(tracker, 5_000_000)
	if got := tracker.ComputeTaskCountScale(); got < 1.09 || got > 1.11 {
		t.Errorf("scale at 50%% utilization = %f, want 1.10", got)
	}

	// 150% utilization; scale caps at 1-damping.
	runFrame(tracker, 15_000_000)
	if got := tracker.ComputeTaskCountScale(); got < 0.89 || got > 0.91 {
		t.Errorf("scale at 150%% utilization = %f, want 0.90", got)
	}
}

func TestSuggestAdditionalTasks(t *testing.T) {
	tracker := NewTimelineCapacityTracker(DefaultTrackerConfig())
	tracker.SetGPUBudget(10_000_000)

	runFrame(tracker, 4_000_000)
	if got := tracker.SuggestAdditionalTasks(1_000_000); got != 6 {
		t.Errorf("SuggestAdditionalTasks = %d, want 6", got)
	}

	// Above the 90% adaptive threshold nothing more is suggested.
	runFrame(tracker, 9_500_000)
	if got := tracker.SuggestAdditionalTasks(1_000_000); got != 0 {
		t.Errorf("SuggestAdditionalTasks above threshold = %d, want 0", got)
	}
}

func TestHistoryBounded(t *testing.T) {
	config := DefaultTrackerConfig()
	config.HistoryDepth = 3
	tracker := NewTimelineCapacityTracker(config)
	for i := 0; i < 10; i++ {
		runFrame(tracker, 1_000_000)
	}
	if got := len(tracker.History()); got != 3 {
		t.Errorf("history length = %d, want 3", got)
	}
	if tracker.FrameCounter() != 10 {
		t.Errorf("FrameCounter = %d, want 10", tracker.FrameCounter())
	}
}

func TestAverageUtilization(t *testing.T) {
	tracker := NewTimelineCapacityTracker(DefaultTrackerConfig())
	tracker.SetGPUBudget(10_000_000)
	runFrame(tracker, 2_000_000)
	runFrame(tracker, 4_000_000)
	runFrame(tracker, 6_000_000)

	if got := tracker.AverageGPUUtilization(3); got < 0.39 || got > 0.41 {
		t.Errorf("AverageGPUUtilization = %f, want 0.4", got)
	}
	if got := tracker.AverageGPUUtilization(1); got < 0.59 || got > 0.61 {
		t.Errorf("AverageGPUUtilization(1) = %f, want 0.6", got)
	}
}

func TestBudgetEventsPublished(t *testing.T) {
	bus := eventbus.NewMessageBus()

	var types []eventbus.MessageType
	bus.SubscribeCategory(eventbus.CategoryBudget, func(msg *eventbus.Message) bool {
		types = append(types, msg.Type)
		return false
	})

	tracker := NewTimelineCapacityTracker(DefaultTrackerConfig())
	tracker.SetMessageBus(bus)
	tracker.SetGPUBudget(1_000_000)

	runFrame(tracker, 2_000_000)
	bus.ProcessMessages()

	foundOverBudget := false
	for _, messageType := range types {
		if messageType == eventbus.MessageGPUOverBudget {
			foundOverBudget = true
		}
	}
	if !foundOverBudget {
		t.Errorf("expected GPUOverBudget event, got %v", types)
	}

	// An idle frame publishes the below-adaptive event instead.
	types = nil
	runFrame(tracker, 100_000)
	bus.ProcessMessages()
	foundAdaptive := false
	for _, messageType := range types {
		if messageType == eventbus.MessageUtilizationBelowAdaptive {
			foundAdaptive = true
		}
	}
	if !foundAdaptive {
		t.Errorf("expected UtilizationBelowAdaptive event, got %v", types)
	}
}
