package kernel

import (
	"testing"
	"time"

	"quartz/hal"
)

func newTestScheduler(t *testing.T) (*Scheduler, func()) {
	t.Helper()
	h := hal.New(time.Hour)
	idle := func() { select {} }
	sched := NewScheduler(DefaultConfig(), h.CriticalSection(), h.ContextSwitcher(), h.Logger(), idle)
	return sched, func() { h.(interface{ Stop() }).Stop() }
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition never became true within %s", timeout)
}

func TestAddStartsThreadAndBecomesCurrent(t *testing.T) {
	sched, stop := newTestScheduler(t)
	defer stop()

	ran := make(chan struct{})
	tcb := NewTCB("t", 5, sched.Config().RoundRobinQuantum, func() { close(ran) })
	if err := sched.Add(tcb); err != nil {
		t.Fatalf("Add: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("thread never ran")
	}
}

func TestAddTwiceFails(t *testing.T) {
	sched, stop := newTestScheduler(t)
	defer stop()

	tcb := NewTCB("t", 5, sched.Config().RoundRobinQuantum, func() { <-make(chan struct{}) })
	if err := sched.Add(tcb); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := sched.Add(tcb); err != ErrInvalid {
		t.Fatalf("second Add: expected ErrInvalid, got %v", err)
	}
	if !InPanicMode() {
		t.Fatal("double Add should have recorded a contract violation")
	}
}

func TestRunnableListHeadIsAlwaysHighestPriority(t *testing.T) {
	sched, stop := newTestScheduler(t)
	defer stop()

	low := NewTCB("low", 1, sched.Config().RoundRobinQuantum, func() { <-make(chan struct{}) })
	high := NewTCB("high", 9, sched.Config().RoundRobinQuantum, func() { <-make(chan struct{}) })

	if err := sched.Add(low); err != nil {
		t.Fatalf("add low: %v", err)
	}
	if err := sched.Add(high); err != nil {
		t.Fatalf("add high: %v", err)
	}

	waitUntil(t, time.Second, func() bool {
		cur := sched.GetCurrentThread()
		return cur != nil && cur.Name == "high"
	})
}

func TestBlockAndUnblock(t *testing.T) {
	sched, stop := newTestScheduler(t)
	defer stop()

	waiters := NewTCBList()
	unblocked := make(chan error, 1)
	var target *TCB

	target = NewTCB("waiter", 5, sched.Config().RoundRobinQuantum, func() {
		err := sched.Block(waiters, Blocked, nil)
		unblocked <- err
	})
	if err := sched.Add(target); err != nil {
		t.Fatalf("add: %v", err)
	}

	waitUntil(t, time.Second, func() bool { return target.State() == Blocked })

	if err := sched.Unblock(target, UnblockRequest); err != nil {
		t.Fatalf("Unblock: %v", err)
	}

	select {
	case err := <-unblocked:
		if err != nil {
			t.Fatalf("Block returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("thread never unblocked")
	}
}

func TestBlockUntilTimesOut(t *testing.T) {
	sched, stop := newTestScheduler(t)
	defer stop()

	waiters := NewTCBList()
	result := make(chan error, 1)

	tcb := NewTCB("waiter", 5, sched.Config().RoundRobinQuantum, func() {
		deadline := sched.GetTickCount() + 5
		result <- sched.BlockUntil(waiters, Blocked, deadline, nil)
	})
	if err := sched.Add(tcb); err != nil {
		t.Fatalf("add: %v", err)
	}

	go func() {
		for i := 0; i < 50; i++ {
			sched.TickInterruptHandler()
			time.Sleep(time.Millisecond)
		}
	}()

	select {
	case err := <-result:
		if err != ErrTimedOut {
			t.Fatalf("expected ErrTimedOut, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for BlockUntil to expire")
	}
}

func TestUnblockBeforeTimeoutWins(t *testing.T) {
	sched, stop := newTestScheduler(t)
	defer stop()

	waiters := NewTCBList()
	result := make(chan error, 1)
	var target *TCB

	target = NewTCB("waiter", 5, sched.Config().RoundRobinQuantum, func() {
		deadline := sched.GetTickCount() + 10000
		result <- sched.BlockUntil(waiters, Blocked, deadline, nil)
	})
	if err := sched.Add(target); err != nil {
		t.Fatalf("add: %v", err)
	}

	waitUntil(t, time.Second, func() bool { return target.State() == Blocked })
	if err := sched.Unblock(target, UnblockRequest); err != nil {
		t.Fatalf("Unblock: %v", err)
	}

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("expected nil (race won by explicit unblock), got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("thread never unblocked")
	}
}

func TestSuspendResumePreservesPriorityPosition(t *testing.T) {
	sched, stop := newTestScheduler(t)
	defer stop()

	release := make(chan struct{})
	done := make(chan struct{})
	var target *TCB
	target = NewTCB("suspendee", 5, sched.Config().RoundRobinQuantum, func() {
		<-release
		close(done)
	})
	if err := sched.Add(target); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := sched.SuspendIter(target); err != nil {
		t.Fatalf("SuspendIter: %v", err)
	}
	if target.State() != Suspended {
		t.Fatalf("state = %v, want Suspended", target.State())
	}

	if err := sched.Resume(target); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if target.State() != Runnable {
		t.Fatalf("state after resume = %v, want Runnable", target.State())
	}
	if cur := sched.GetCurrentThread(); cur != target {
		t.Fatalf("after resume the head of the runnable list is %v, want the resumed thread", cur.Name)
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("resumed thread never completed")
	}
}

func TestResumeOnNonSuspendedFails(t *testing.T) {
	sched, stop := newTestScheduler(t)
	defer stop()

	tcb := NewTCB("t", 5, sched.Config().RoundRobinQuantum, func() { <-make(chan struct{}) })
	if err := sched.Add(tcb); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := sched.Resume(tcb); err != ErrInvalid {
		t.Fatalf("Resume on a runnable TCB: expected ErrInvalid, got %v", err)
	}
}

func TestContextSwitchCounterMonotonic(t *testing.T) {
	sched, stop := newTestScheduler(t)
	defer stop()

	before := sched.GetContextSwitchCount()
	tcb := NewTCB("t", 9, sched.Config().RoundRobinQuantum, func() {})
	if err := sched.Add(tcb); err != nil {
		t.Fatalf("add: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return tcb.State() == Terminated })
	after := sched.GetContextSwitchCount()
	if after < before {
		t.Fatalf("context-switch counter went backwards: %d -> %d", before, after)
	}
	if after == before {
		t.Fatalf("context-switch counter never advanced across a higher-priority thread's run")
	}
}

func TestTickInterruptHandlerAdvancesTickCount(t *testing.T) {
	sched, stop := newTestScheduler(t)
	defer stop()

	before := sched.GetTickCount()
	sched.TickInterruptHandler()
	sched.TickInterruptHandler()
	after := sched.GetTickCount()
	if after != before+2 {
		t.Fatalf("tick count = %d, want %d", after, before+2)
	}
}

func TestYieldHandsOffToEqualPrioritySibling(t *testing.T) {
	sched, stop := newTestScheduler(t)
	defer stop()

	order := make(chan string, 2)
	bAdded := make(chan struct{})
	aResumed := make(chan struct{})

	a := NewTCB("a", 5, sched.Config().RoundRobinQuantum, func() {
		order <- "a"
		<-bAdded
		sched.Yield()
		close(aResumed)
	})
	b := NewTCB("b", 5, sched.Config().RoundRobinQuantum, func() {
		order <- "b"
	})

	if err := sched.Add(a); err != nil {
		t.Fatalf("add a: %v", err)
	}
	select {
	case name := <-order:
		if name != "a" {
			t.Fatalf("expected a to run first, got %s", name)
		}
	case <-time.After(time.Second):
		t.Fatal("a never ran")
	}

	if err := sched.Add(b); err != nil {
		t.Fatalf("add b: %v", err)
	}
	close(bAdded)

	select {
	case name := <-order:
		if name != "b" {
			t.Fatalf("Yield should have handed off to equal-priority sibling b, got %s", name)
		}
	case <-time.After(time.Second):
		t.Fatal("b never ran after a yielded")
	}

	select {
	case <-aResumed:
	case <-time.After(time.Second):
		t.Fatal("a never resumed after b terminated")
	}
}
