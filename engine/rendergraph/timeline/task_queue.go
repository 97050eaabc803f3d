package timeline

import (
	"math"
	"sort"
)

// TaskSlot carries one queued task with its cost estimates.
type TaskSlot[T any] struct {
	Data T
	// Priority 0..255, 255 highest.
	Priority             uint8
	EstimatedCostNs      uint64
	EstimatedMemoryBytes uint64
	// insertionOrder breaks priority ties, preserving enqueue order.
	insertionOrder uint32
}

// WarningCallback fires when a task exceeds the budget in lenient mode,
// with (newTotalCostNs, budgetNs, taskCostNs).
type WarningCallback func(newTotalCostNs, budgetNs, taskCostNs uint64)

/**
 * @brief TaskQueue is a single-threaded budget-aware priority queue.
 * Tasks are enqueued with cost estimates and executed highest priority
 * first; equal priorities keep insertion order.
 */
type TaskQueue[T any] struct {
	slots              []TaskSlot[T]
	activeCount        uint32
	totalEstimatedCost uint64
	budget             TaskBudget
	nextInsertionOrder uint32
	needsSort          bool
	warningCallback    WarningCallback

	tracker *TimelineCapacityTracker
	// Queue index into the tracker's GPU timelines when linked.
	trackerQueueIndex uint32
}

// NewTaskQueue creates a queue with the 60 FPS strict default budget.
func NewTaskQueue[T any]() *TaskQueue[T] {
	return &TaskQueue[T]{budget: BudgetFPS60Strict}
}

func (q *TaskQueue[T]) SetBudget(budget TaskBudget) {
	q.budget = budget
}

// SetFrameBudget is the strict-mode shortcut.
func (q *TaskQueue[T]) SetFrameBudget(budgetNs uint64) {
	q.budget.GPUTimeBudgetNs = budgetNs
	q.budget.OverflowMode = OverflowStrict
}

func (q *TaskQueue[T]) Budget() TaskBudget { return q.budget }

func (q *TaskQueue[T]) FrameBudget() uint64 { return q.budget.GPUTimeBudgetNs }

// SetWarningCallback installs the lenient-overflow warning hook.
func (q *TaskQueue[T]) SetWarningCallback(callback WarningCallback) {
	q.warningCallback = callback
}

// TryEnqueue enqueues within budget constraints. Strict mode rejects
// tasks that would exceed the budget; lenient mode accepts everything and
// fires the warning callback on overflow. Zero budget rejects all
// non-zero tasks in strict mode. The running-total addition is
// overflow-safe.
func (q *TaskQueue[T]) TryEnqueue(slot TaskSlot[T]) bool {
	budgetNs := q.budget.GPUTimeBudgetNs
	taskCost := slot.EstimatedCostNs

	if budgetNs == 0 {
		if q.budget.IsStrict() {
			return false
		}
		if q.warningCallback != nil {
			q.warningCallback(taskCost, 0, taskCost)
		}
		q.EnqueueUnchecked(slot)
		return true
	}

	// Overflow-safe addition check.
	if taskCost > math.MaxUint64-q.totalEstimatedCost {
		if q.budget.IsStrict() {
			return false
		}
		if q.warningCallback != nil {
			q.warningCallback(math.MaxUint64, budgetNs, taskCost)
		}
		q.EnqueueUnchecked(slot)
		return true
	}

	newTotal := q.totalEstimatedCost + taskCost
	if newTotal > budgetNs {
		if q.budget.IsStrict() {
			return false
		}
		if q.warningCallback != nil {
			q.warningCallback(newTotal, budgetNs, taskCost)
		}
	}

	slot.insertionOrder = q.nextInsertionOrder
	q.nextInsertionOrder++
	q.slots = append(q.slots, slot)
	q.totalEstimatedCost = newTotal
	q.activeCount++
	q.needsSort = true
	return true
}

// EnqueueUnchecked bypasses the budget check for mandatory tasks.
func (q *TaskQueue[T]) EnqueueUnchecked(slot TaskSlot[T]) {
	slot.insertionOrder = q.nextInsertionOrder
	q.nextInsertionOrder++

	if slot.EstimatedCostNs <= math.MaxUint64-q.totalEstimatedCost {
		q.totalEstimatedCost += slot.EstimatedCostNs
	} else {
		q.totalEstimatedCost = math.MaxUint64
	}

	q.slots = append(q.slots, slot)
	q.activeCount++
	q.needsSort = true
}

// Execute delivers each task's data in priority order. No-op on an empty
// queue.
func (q *TaskQueue[T]) Execute(executor func(data T)) {
	if len(q.slots) == 0 {
		return
	}
	q.sortIfNeeded()
	for i := range q.slots {
		executor(q.slots[i].Data)
	}
}

// ExecuteWithMetadata delivers the full slot.
func (q *TaskQueue[T]) ExecuteWithMetadata(executor func(slot *TaskSlot[T])) {
	if len(q.slots) == 0 {
		return
	}
	q.sortIfNeeded()
	for i := range q.slots {
		executor(&q.slots[i])
	}
}

// Clear resets the queue. Idempotent.
func (q *TaskQueue[T]) Clear() {
	q.slots = q.slots[:0]
	q.activeCount = 0
	q.totalEstimatedCost = 0
	q.nextInsertionOrder = 0
	q.needsSort = false
}

func (q *TaskQueue[T]) QueuedCount() uint32 { return q.activeCount }

// TotalEstimatedCost is O(1): cached, not computed.
func (q *TaskQueue[T]) TotalEstimatedCost() uint64 { return q.totalEstimatedCost }

// RemainingBudget saturates at 0 when over budget.
func (q *TaskQueue[T]) RemainingBudget() uint64 {
	budgetNs := q.budget.GPUTimeBudgetNs
	if q.totalEstimatedCost >= budgetNs {
		return 0
	}
	return budgetNs - q.totalEstimatedCost
}

func (q *TaskQueue[T]) IsEmpty() bool { return q.activeCount == 0 }

func (q *TaskQueue[T]) IsBudgetExhausted() bool {
	return q.totalEstimatedCost >= q.budget.GPUTimeBudgetNs
}

// Reserve pre-sizes the slot storage.
func (q *TaskQueue[T]) Reserve(capacity int) {
	if cap(q.slots) < capacity {
		grown := make([]TaskSlot[T], len(q.slots), capacity)
		copy(grown, q.slots)
		q.slots = grown
	}
}

// SetCapacityTracker links the feedback loop. The queue forwards measured
// costs and can gate enqueues on the tracker's actual remaining budget.
func (q *TaskQueue[T]) SetCapacityTracker(tracker *TimelineCapacityTracker, queueIndex uint32) {
	q.tracker = tracker
	q.trackerQueueIndex = queueIndex
}

func (q *TaskQueue[T]) CapacityTracker() *TimelineCapacityTracker { return q.tracker }

// RecordActualCost forwards a measured execution time to the linked
// tracker. slotIndex addresses the sorted execution order.
func (q *TaskQueue[T]) RecordActualCost(slotIndex uint32, actualNs uint64) {
	if q.tracker == nil {
		return
	}
	q.tracker.RecordGPUTime(q.trackerQueueIndex, actualNs)
	if int(slotIndex) < len(q.slots) {
		q.sortIfNeeded()
		q.tracker.RecordPredictionIndexed(q.trackerQueueIndex, q.slots[slotIndex].EstimatedCostNs, actualNs)
	}
}

// CanEnqueueWithMeasuredBudget checks the task against the tracker's
// actual remaining capacity; falls back to the estimate-based check when
// no tracker is linked.
func (q *TaskQueue[T]) CanEnqueueWithMeasuredBudget(slot TaskSlot[T]) bool {
	if q.tracker == nil {
		return slot.EstimatedCostNs <= q.RemainingBudget()
	}
	return slot.EstimatedCostNs <= q.tracker.GPURemainingBudget(q.trackerQueueIndex)
}

func (q *TaskQueue[T]) sortIfNeeded() {
	if !q.needsSort {
		return
	}
	sort.SliceStable(q.slots, func(i, j int) bool {
		if q.slots[i].Priority != q.slots[j].Priority {
			return q.slots[i].Priority > q.slots[j].Priority
		}
		return q.slots[i].insertionOrder < q.slots[j].insertionOrder
	})
	q.needsSort = false
}
