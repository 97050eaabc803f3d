package containers

import (
	"testing"
)

func TestRingQueueFIFO(t *testing.T) {
	rq := NewRingQueue[int](4)
	for i := 0; i < 4; i++ {
		if err := rq.Enqueue(i); err != nil {
			t.Fatalf("Enqueue(%d) = %v", i, err)
		}
	}
	for i := 0; i < 4; i++ {
		got, err := rq.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue = %v", err)
		}
		if got != i {
			t.Errorf("Dequeue = %d, want %d", got, i)
		}
	}
	if !rq.IsEmpty() {
		t.Error("queue should be empty")
	}
}

func TestRingQueueWrapAround(t *testing.T) {
	rq := NewRingQueue[string](2)
	_ = rq.Enqueue("a")
	_ = rq.Enqueue("b")
	if got, _ := rq.Dequeue(); got != "a" {
		t.Errorf("Dequeue = %q, want a", got)
	}
	_ = rq.Enqueue("c")
	if got, _ := rq.Dequeue(); got != "b" {
		t.Errorf("Dequeue = %q, want b", got)
	}
	if got, _ := rq.Dequeue(); got != "c" {
		t.Errorf("Dequeue = %q, want c", got)
	}
}

func TestRingQueueGrowth(t *testing.T) {
	rq := NewRingQueue[int](2)
	for i := 0; i < 5; i++ {
		if err := rq.Enqueue(i); err != nil {
			t.Fatalf("Enqueue(%d) = %v", i, err)
		}
	}
	if rq.GrowthCount() == 0 {
		t.Error("GrowthCount should be non-zero after exceeding capacity")
	}
	if rq.MaxSizeReached() != 5 {
		t.Errorf("MaxSizeReached = %d, want 5", rq.MaxSizeReached())
	}
	// FIFO survives the regrow.
	for i := 0; i < 5; i++ {
		got, err := rq.Dequeue()
		if err != nil || got != i {
			t.Fatalf("Dequeue = %d, %v, want %d", got, err, i)
		}
	}
}

func TestRingQueueNoGrowthRejects(t *testing.T) {
	rq := NewRingQueue[int](1)
	rq.SetAllowGrowth(false)
	if err := rq.Enqueue(1); err != nil {
		t.Fatalf("Enqueue = %v", err)
	}
	if err := rq.Enqueue(2); err != ErrQueueFull {
		t.Errorf("Enqueue on full no-growth queue = %v, want ErrQueueFull", err)
	}
}

func TestRingQueueSwap(t *testing.T) {
	a := NewRingQueue[int](4)
	b := NewRingQueue[int](4)
	_ = a.Enqueue(1)
	_ = a.Enqueue(2)

	a.Swap(b)

	if !a.IsEmpty() {
		t.Error("a should be empty after swap")
	}
	if b.Size() != 2 {
		t.Fatalf("b.Size = %d, want 2", b.Size())
	}
	if got, _ := b.Dequeue(); got != 1 {
		t.Errorf("b.Dequeue = %d, want 1", got)
	}
}

func TestRingQueueReservePreservesOrder(t *testing.T) {
	rq := NewRingQueue[int](2)
	_ = rq.Enqueue(1)
	_ = rq.Enqueue(2)
	_, _ = rq.Dequeue()
	_ = rq.Enqueue(3) // wraps

	rq.Reserve(8)
	if rq.Capacity() != 8 {
		t.Fatalf("Capacity = %d, want 8", rq.Capacity())
	}
	if got, _ := rq.Dequeue(); got != 2 {
		t.Errorf("Dequeue = %d, want 2", got)
	}
	if got, _ := rq.Dequeue(); got != 3 {
		t.Errorf("Dequeue = %d, want 3", got)
	}
}
