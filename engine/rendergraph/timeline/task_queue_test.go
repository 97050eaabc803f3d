package timeline

import (
	"math"
	"testing"
)

func TestStrictBudgetRejection(t *testing.T) {
	queue := NewTaskQueue[string]()
	queue.SetFrameBudget(16_666_666)

	if !queue.TryEnqueue(TaskSlot[string]{Data: "first", Priority: 128, EstimatedCostNs: 10_000_000}) {
		t.Fatal("first task should be accepted")
	}
	if queue.TryEnqueue(TaskSlot[string]{Data: "second", Priority: 128, EstimatedCostNs: 10_000_000}) {
		t.Fatal("second task should be rejected in strict mode")
	}

	if got := queue.RemainingBudget(); got != 6_666_666 {
		t.Errorf("RemainingBudget = %d, want 6666666", got)
	}
	if got := queue.TotalEstimatedCost(); got != 10_000_000 {
		t.Errorf("TotalEstimatedCost = %d, want 10000000", got)
	}
	if got := queue.QueuedCount(); got != 1 {
		t.Errorf("QueuedCount = %d, want 1", got)
	}
}

func TestLenientBudgetWarning(t *testing.T) {
	queue := NewTaskQueue[string]()
	queue.SetBudget(NewTaskBudget(16_666_666, OverflowLenient))

	type warning struct{ total, budget, cost uint64 }
	var warnings []warning
	queue.SetWarningCallback(func(total, budget, cost uint64) {
		warnings = append(warnings, warning{total, budget, cost})
	})

	if !queue.TryEnqueue(TaskSlot[string]{Data: "a", EstimatedCostNs: 10_000_000}) {
		t.Fatal("lenient mode must accept the first task")
	}
	if !queue.TryEnqueue(TaskSlot[string]{Data: "b", EstimatedCostNs: 10_000_000}) {
		t.Fatal("lenient mode must accept the overflowing task")
	}

	if len(warnings) != 1 {
		t.Fatalf("warning callback fired %d times, want 1", len(warnings))
	}
	w := warnings[0]
	if w.total != 20_000_000 || w.budget != 16_666_666 || w.cost != 10_000_000 {
		t.Errorf("warning = (%d, %d, %d), want (20000000, 16666666, 10000000)", w.total, w.budget, w.cost)
	}
}

func TestStrictBudgetSumInvariant(t *testing.T) {
	const budget = 5_000_000
	queue := NewTaskQueue[int]()
	queue.SetFrameBudget(budget)

	costs := []uint64{1_500_000, 2_000_000, 900_000, 3_000_000, 600_000, 100_000}
	accepted := uint64(0)
	for i, cost := range costs {
		if queue.TryEnqueue(TaskSlot[int]{Data: i, EstimatedCostNs: cost}) {
			accepted += cost
		}
	}
	if accepted > budget {
		t.Errorf("accepted cost %d exceeds budget %d", accepted, budget)
	}
	if accepted != queue.TotalEstimatedCost() {
		t.Errorf("TotalEstimatedCost = %d, want %d", queue.TotalEstimatedCost(), accepted)
	}
}

func TestZeroBudget(t *testing.T) {
	strict := NewTaskQueue[int]()
	strict.SetFrameBudget(0)
	if strict.TryEnqueue(TaskSlot[int]{EstimatedCostNs: 1}) {
		t.Error("strict zero budget must reject non-zero tasks")
	}

	lenient := NewTaskQueue[int]()
	lenient.SetBudget(NewTaskBudget(0, OverflowLenient))
	warned := false
	lenient.SetWarningCallback(func(total, budget, cost uint64) { warned = true })
	if !lenient.TryEnqueue(TaskSlot[int]{EstimatedCostNs: 1}) {
		t.Error("lenient zero budget must accept")
	}
	if !warned {
		t.Error("lenient zero budget must warn")
	}
}

func TestOverflowSafeAddition(t *testing.T) {
	queue := NewTaskQueue[int]()
	queue.SetBudget(NewTaskBudget(Unlimited, OverflowLenient))
	queue.EnqueueUnchecked(TaskSlot[int]{EstimatedCostNs: math.MaxUint64 - 10})
	queue.EnqueueUnchecked(TaskSlot[int]{EstimatedCostNs: 100})
	if queue.TotalEstimatedCost() != math.MaxUint64 {
		t.Errorf("TotalEstimatedCost = %d, want clamp at MaxUint64", queue.TotalEstimatedCost())
	}
}

func TestStablePrioritySort(t *testing.T) {
	queue := NewTaskQueue[string]()
	queue.SetBudget(BudgetUnlimited)

	tasks := []struct {
		name     string
		priority uint8
	}{
		{"low-1", 10},
		{"high-1", 200},
		{"mid-1", 100},
		{"high-2", 200},
		{"mid-2", 100},
		{"low-2", 10},
	}
	for _, task := range tasks {
		queue.TryEnqueue(TaskSlot[string]{Data: task.name, Priority: task.priority})
	}

	var order []string
	queue.Execute(func(data string) {
		order = append(order, data)
	})

	want := []string{"high-1", "high-2", "mid-1", "mid-2", "low-1", "low-2"}
	if len(order) != len(want) {
		t.Fatalf("executed %d tasks, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestExecuteWithMetadata(t *testing.T) {
	queue := NewTaskQueue[int]()
	queue.SetBudget(BudgetUnlimited)
	queue.TryEnqueue(TaskSlot[int]{Data: 7, Priority: 3, EstimatedCostNs: 42})

	seen := 0
	queue.ExecuteWithMetadata(func(slot *TaskSlot[int]) {
		seen++
		if slot.Data != 7 || slot.Priority != 3 || slot.EstimatedCostNs != 42 {
			t.Errorf("slot = %+v", slot)
		}
	})
	if seen != 1 {
		t.Errorf("seen = %d, want 1", seen)
	}
}

func TestClearIdempotent(t *testing.T) {
	queue := NewTaskQueue[int]()
	queue.SetFrameBudget(100)
	queue.TryEnqueue(TaskSlot[int]{EstimatedCostNs: 50})
	queue.Clear()
	queue.Clear()
	if !queue.IsEmpty() || queue.TotalEstimatedCost() != 0 {
		t.Error("Clear should reset the queue")
	}
	if got := queue.RemainingBudget(); got != 100 {
		t.Errorf("RemainingBudget after Clear = %d, want 100", got)
	}
}

func TestMeasuredBudgetFallsBackToEstimate(t *testing.T) {
	queue := NewTaskQueue[int]()
	queue.SetFrameBudget(100)
	queue.TryEnqueue(TaskSlot[int]{EstimatedCostNs: 90})

	if queue.CanEnqueueWithMeasuredBudget(TaskSlot[int]{EstimatedCostNs: 20}) {
		t.Error("20ns task should not fit in 10ns estimated remainder")
	}
	if !queue.CanEnqueueWithMeasuredBudget(TaskSlot[int]{EstimatedCostNs: 10}) {
		t.Error("10ns task should fit exactly")
	}
}

func TestMeasuredBudgetUsesTracker(t *testing.T) {
	tracker := NewTimelineCapacityTracker(DefaultTrackerConfig())
	tracker.SetGPUBudget(100)
	tracker.BeginFrame()
	tracker.RecordGPUTime(0, 40)
	tracker.EndFrame()

	queue := NewTaskQueue[int]()
	queue.SetFrameBudget(100)
	queue.SetCapacityTracker(tracker, 0)

	if !queue.CanEnqueueWithMeasuredBudget(TaskSlot[int]{EstimatedCostNs: 60}) {
		t.Error("60ns should fit in the measured 60ns remainder")
	}
	if queue.CanEnqueueWithMeasuredBudget(TaskSlot[int]{EstimatedCostNs: 61}) {
		t.Error("61ns should not fit in the measured 60ns remainder")
	}
}
