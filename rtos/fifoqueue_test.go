package rtos

import (
	"testing"
	"time"

	"quartz/kernel"
)

func TestFifoQueueIgnoresPriorityOrder(t *testing.T) {
	sched, stop := newTestSched(t)
	defer stop()

	q := NewFifoQueue[string](sched, 4, false)
	if err := q.Push("first"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := q.Push("second"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := q.Push("third"); err != nil {
		t.Fatalf("push: %v", err)
	}

	for _, want := range []string{"first", "second", "third"} {
		v, err := q.Pop()
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if v != want {
			t.Fatalf("pop = %q, want %q (FIFO queues must ignore priority entirely)", v, want)
		}
	}
}

func TestFifoQueueTryPushOnFullFails(t *testing.T) {
	sched, stop := newTestSched(t)
	defer stop()

	q := NewFifoQueue[int](sched, 1, false)
	if err := q.TryPush(1); err != nil {
		t.Fatalf("first TryPush: %v", err)
	}
	if err := q.TryPush(2); err != kernel.ErrAgain {
		t.Fatalf("TryPush on full: expected ErrAgain, got %v", err)
	}
}

func TestFifoQueueBlocksPopperUntilPush(t *testing.T) {
	sched, stop := newTestSched(t)
	defer stop()

	q := NewFifoQueue[string](sched, 2, false)
	popped := make(chan string, 1)
	popper := kernel.NewTCB("popper", 5, sched.Config().RoundRobinQuantum, func() {
		v, err := q.Pop()
		if err != nil {
			t.Errorf("pop: %v", err)
			return
		}
		popped <- v
	})
	if err := sched.Add(popper); err != nil {
		t.Fatalf("add popper: %v", err)
	}
	waitFor(t, time.Second, func() bool { return popper.State() == kernel.Blocked })

	if err := q.Push("hello"); err != nil {
		t.Fatalf("push: %v", err)
	}
	select {
	case v := <-popped:
		if v != "hello" {
			t.Fatalf("popped %q, want %q", v, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("popper never woke up after push")
	}
}

func TestFifoQueuePopAgainstFullBufferWithPusherWaitingReturnsBufferedValue(t *testing.T) {
	sched, stop := newTestSched(t)
	defer stop()

	q := NewFifoQueue[int](sched, 1, false)
	if err := q.Push(1); err != nil {
		t.Fatalf("prefill: %v", err)
	}

	pushDone := make(chan struct{})
	pusher := kernel.NewTCB("pusher", 5, sched.Config().RoundRobinQuantum, func() {
		if err := q.Push(2); err != nil {
			t.Errorf("push: %v", err)
		}
		close(pushDone)
	})
	if err := sched.Add(pusher); err != nil {
		t.Fatalf("add pusher: %v", err)
	}
	waitFor(t, time.Second, func() bool { return pusher.State() == kernel.Blocked })

	v, err := q.Pop()
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if v != 1 {
		t.Fatalf("pop against a full buffer with a pusher waiting should return the buffered value 1, got %d", v)
	}

	select {
	case <-pushDone:
	case <-time.After(time.Second):
		t.Fatal("waiting pusher was never admitted")
	}

	v2, err := q.Pop()
	if err != nil {
		t.Fatalf("second pop: %v", err)
	}
	if v2 != 2 {
		t.Fatalf("second pop = %d, want 2", v2)
	}
}

func TestFifoQueueEmplace(t *testing.T) {
	sched, stop := newTestSched(t)
	defer stop()

	disabled := NewFifoQueue[int](sched, 4, false)
	if err := disabled.Emplace(func(v *int) { *v = 1 }); err != kernel.ErrInvalid {
		t.Fatalf("Emplace with emplace disabled: expected ErrInvalid, got %v", err)
	}

	enabled := NewFifoQueue[int](sched, 4, true)
	if err := enabled.Emplace(func(v *int) { *v = 42 }); err != nil {
		t.Fatalf("Emplace: %v", err)
	}
	v, err := enabled.Pop()
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if v != 42 {
		t.Fatalf("pop = %d, want 42", v)
	}
}

func TestFifoQueueLenAndCapacity(t *testing.T) {
	sched, stop := newTestSched(t)
	defer stop()

	q := NewFifoQueue[int](sched, 3, false)
	if q.Capacity() != 3 {
		t.Fatalf("Capacity() = %d, want 3", q.Capacity())
	}
	if err := q.Push(1); err != nil {
		t.Fatalf("push: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}
}
