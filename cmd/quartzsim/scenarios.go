package main

import (
	"context"
	"fmt"
	"time"

	"quartz/hal"
	"quartz/kernel"
	"quartz/rtos"
)

// scenarios maps each spec §8 end-to-end scenario to a runnable check. Every
// entry that needs time to pass drives the scheduler's tick counter by hand (repeated
// TickInterruptHandler calls), mirroring sparkos/kernel/retry_test.go's
// TickTo-driven retry tests rather than a live wall-clock harness, so the
// outcome is exact rather than approximate.
var scenarios = map[string]func(context.Context) error{
	"priority-preemption":      scenarioPriorityPreemption,
	"timed-wait-timeout":       scenarioTimedWaitTimeout,
	"isr-to-thread-rendezvous": scenarioISRToThreadRendezvous,
	"thread-to-isr-rendezvous": scenarioThreadToISRRendezvous,
	"raw-queue-size-check":     scenarioRawQueueSizeCheck,
	"priority-inheritance":     scenarioPriorityInheritance,
}

// newTestScheduler builds a scheduler against the host HAL with a tick
// period long enough that its background ticker goroutine never fires
// during a scenario driven entirely by explicit TickInterruptHandler calls.
func newTestScheduler() (*kernel.Scheduler, func()) {
	h := hal.New(time.Hour)
	idle := func() { select {} }
	sched := kernel.NewScheduler(kernel.DefaultConfig(), h.CriticalSection(), h.ContextSwitcher(), h.Logger(), idle)
	return sched, func() { h.(interface{ Stop() }).Stop() }
}

// scenarioPriorityPreemption is spec §8 scenario 1: T1 (pri=1) never runs
// while T2 (pri=2) or Main (pri=3) is runnable, and posting the semaphore
// Main starts it blocked on transfers control to T2 before T1 ever sees the
// CPU.
func scenarioPriorityPreemption(ctx context.Context) error {
	sched, stop := newTestScheduler()
	defer stop()

	sem := rtos.NewSemaphore(sched, 0, 1)
	ran := make(chan string, 2)
	t1Blocked := false

	t1 := kernel.NewTCB("t1", 1, sched.Config().RoundRobinQuantum, func() {
		ran <- "t1"
	})
	t2 := kernel.NewTCB("t2", 2, sched.Config().RoundRobinQuantum, func() {
		if err := sem.Wait(); err != nil {
			return
		}
		ran <- "t2"
	})

	if err := sched.Add(t1); err != nil {
		return fmt.Errorf("add t1: %w", err)
	}
	if err := sched.Add(t2); err != nil {
		return fmt.Errorf("add t2: %w", err)
	}

	// Give t2 a moment to reach sem.Wait() and block before Main posts -
	// otherwise the post could race ahead of t2's own first suspension
	// point. t1, at the lowest priority, must not have run by this point.
	for i := 0; i < 200 && !t1Blocked; i++ {
		if t2.State() == kernel.Blocked {
			t1Blocked = true
		}
		time.Sleep(time.Millisecond)
	}
	if !t1Blocked {
		return fmt.Errorf("t2 never reached sem.Wait()")
	}
	select {
	case name := <-ran:
		return fmt.Errorf("unexpected thread ran before post: %s", name)
	default:
	}

	if err := sem.Post(); err != nil {
		return fmt.Errorf("post: %w", err)
	}

	select {
	case name := <-ran:
		if name != "t2" {
			return fmt.Errorf("expected t2 to run first, got %s", name)
		}
	case <-time.After(200 * time.Millisecond):
		return fmt.Errorf("t2 never ran after post")
	}
	select {
	case name := <-ran:
		if name == "t1" {
			return fmt.Errorf("t1 ran while main/t2 had not yet finished")
		}
	case <-time.After(20 * time.Millisecond):
	}
	return nil
}

// scenarioTimedWaitTimeout is spec §8 scenario 2: a capacity-0 queue's
// tryPushFor times out at exactly start+1 tick with exactly 2 context
// switches (main -> idle -> main).
func scenarioTimedWaitTimeout(ctx context.Context) error {
	sched, stop := newTestScheduler()
	defer stop()

	q := rtos.NewQueue[int](sched, 0, false)

	done := make(chan error, 1)
	main := kernel.NewTCB("main", 5, sched.Config().RoundRobinQuantum, func() {
		before := sched.GetContextSwitchCount()
		t0 := sched.GetTickCount()
		err := q.TryPushUntil(t0+1, 0, 99)
		after := sched.GetContextSwitchCount()
		if err != kernel.ErrTimedOut {
			done <- fmt.Errorf("expected ETIMEDOUT, got %v", err)
			return
		}
		if after-before != 2 {
			done <- fmt.Errorf("expected 2 context switches, got %d", after-before)
			return
		}
		done <- nil
	})
	if err := sched.Add(main); err != nil {
		return fmt.Errorf("add main: %w", err)
	}

	go func() {
		for i := 0; i < 50; i++ {
			sched.TickInterruptHandler()
			time.Sleep(time.Millisecond)
		}
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		return fmt.Errorf("timed out waiting for scenario to complete")
	}
}

// scenarioISRToThreadRendezvous is spec §8 scenario 3: a software timer
// fires at t+10 and pushes a magic value into a capacity-1 queue while Main
// is blocked in Pop; Main wakes at exactly t+10 having observed the value
// and its priority, after exactly 2 context switches.
func scenarioISRToThreadRendezvous(ctx context.Context) error {
	const magicPriority = 0x93
	const magicValue = 0x2f5be1a4

	sched, stop := newTestScheduler()
	defer stop()

	q := rtos.NewQueue[int](sched, 1, false)
	done := make(chan error, 1)

	main := kernel.NewTCB("main", 5, sched.Config().RoundRobinQuantum, func() {
		before := sched.GetContextSwitchCount()
		t0 := sched.GetTickCount()
		timer := rtos.NewTimer(sched, func() {
			_ = q.TryPushLocked(magicPriority, magicValue)
		})
		timer.Start(t0 + 10)

		v, p, err := q.PopPriority()
		after := sched.GetContextSwitchCount()
		switch {
		case err != nil:
			done <- fmt.Errorf("pop: %w", err)
		case v != magicValue:
			done <- fmt.Errorf("expected value %#x, got %#x", magicValue, v)
		case p != magicPriority:
			done <- fmt.Errorf("expected priority %#x, got %#x", magicPriority, p)
		case after-before != 2:
			done <- fmt.Errorf("expected 2 context switches, got %d", after-before)
		default:
			done <- nil
		}
	})
	if err := sched.Add(main); err != nil {
		return fmt.Errorf("add main: %w", err)
	}

	go func() {
		for i := 0; i < 50; i++ {
			sched.TickInterruptHandler()
			time.Sleep(time.Millisecond)
		}
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		return fmt.Errorf("timed out waiting for scenario to complete")
	}
}

// scenarioThreadToISRRendezvous is spec §8 scenario 4: a capacity-1 queue
// already holds oldVal. A software timer armed for t+10 pops from it while
// Main concurrently pushes newVal and blocks (the queue being full). Main
// unblocks at exactly t+10, and the timer's pop observes oldVal - the value
// already buffered, not the one Main is still trying to push.
func scenarioThreadToISRRendezvous(ctx context.Context) error {
	const oldVal = 111
	const newVal = 222

	sched, stop := newTestScheduler()
	defer stop()

	q := rtos.NewQueue[int](sched, 1, false)
	if err := q.TryPush(0, oldVal); err != nil {
		return fmt.Errorf("prefill: %w", err)
	}

	popped := make(chan int, 1)
	done := make(chan error, 1)

	main := kernel.NewTCB("main", 5, sched.Config().RoundRobinQuantum, func() {
		t0 := sched.GetTickCount()
		timer := rtos.NewTimer(sched, func() {
			if v, err := q.TryPopLocked(); err == nil {
				popped <- v
			}
		})
		timer.Start(t0 + 10)

		if err := q.Push(0, newVal); err != nil {
			done <- fmt.Errorf("push: %w", err)
			return
		}
		done <- nil
	})
	if err := sched.Add(main); err != nil {
		return fmt.Errorf("add main: %w", err)
	}

	go func() {
		for i := 0; i < 50; i++ {
			sched.TickInterruptHandler()
			time.Sleep(time.Millisecond)
		}
	}()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-time.After(2 * time.Second):
		return fmt.Errorf("timed out waiting for main's push to unblock")
	}

	select {
	case v := <-popped:
		if v != oldVal {
			return fmt.Errorf("expected timer's pop to observe %d (previous value), got %d", oldVal, v)
		}
	case <-time.After(2 * time.Second):
		return fmt.Errorf("timed out waiting for timer's pop")
	}
	return nil
}

// scenarioRawQueueSizeCheck is spec §8 scenario 5: on a capacity-0 raw
// queue, every push/pop variant called with a mismatched size returns
// EMSGSIZE immediately, without advancing the tick counter or touching the
// queue.
func scenarioRawQueueSizeCheck(ctx context.Context) error {
	sched, stop := newTestScheduler()
	defer stop()

	const elemSize = 8
	q := rtos.NewRawQueue(sched, 0, elemSize)
	buf := make([]byte, elemSize)
	badSize := elemSize - 1

	before := sched.GetTickCount()

	checks := []struct {
		name string
		err  error
	}{
		{"Push", q.Push(0, buf, badSize)},
		{"TryPushFor", q.TryPushFor(time.Millisecond, 0, buf, badSize)},
		{"TryPushUntil", q.TryPushUntil(before+1, 0, buf, badSize)},
		{"Pop", q.Pop(buf, badSize)},
		{"TryPop", q.TryPop(buf, badSize)},
		{"TryPopFor", q.TryPopFor(time.Millisecond, buf, badSize)},
		{"TryPopUntil", q.TryPopUntil(before+1, buf, badSize)},
	}
	for _, c := range checks {
		if c.err != kernel.ErrMessageSize {
			return fmt.Errorf("%s: expected EMSGSIZE, got %v", c.name, c.err)
		}
	}

	after := sched.GetTickCount()
	if after != before {
		return fmt.Errorf("tick counter advanced during size-check failures: %d -> %d", before, after)
	}
	if n := q.Len(); n != 0 {
		return fmt.Errorf("queue touched during size-check failures: len=%d", n)
	}
	return nil
}

// scenarioPriorityInheritance is spec §8 scenario 6: T-low holds M1;
// T-mid holds M2 and waits on M1; T-high waits on M2. T-low's effective
// priority must reach T-high's static priority while the chain holds, and
// recompute correctly once T-low unlocks M1.
func scenarioPriorityInheritance(ctx context.Context) error {
	sched, stop := newTestScheduler()
	defer stop()

	m1 := rtos.NewMutex(sched, rtos.MutexNormal, rtos.ProtocolPriorityInheritance, 0)
	m2 := rtos.NewMutex(sched, rtos.MutexNormal, rtos.ProtocolPriorityInheritance, 0)

	lowLockedM1 := make(chan struct{})
	midLockedM2 := make(chan struct{})
	release := make(chan struct{})
	errs := make(chan error, 3)

	var lowTCB, midTCB *kernel.TCB

	low := kernel.NewTCB("low", 1, sched.Config().RoundRobinQuantum, func() {
		if err := m1.Lock(); err != nil {
			errs <- fmt.Errorf("low: lock m1: %w", err)
			return
		}
		close(lowLockedM1)
		<-release
		if err := m1.Unlock(); err != nil {
			errs <- fmt.Errorf("low: unlock m1: %w", err)
			return
		}
		errs <- nil
	})
	mid := kernel.NewTCB("mid", 2, sched.Config().RoundRobinQuantum, func() {
		<-lowLockedM1
		if err := m2.Lock(); err != nil {
			errs <- fmt.Errorf("mid: lock m2: %w", err)
			return
		}
		close(midLockedM2)
		if err := m1.Lock(); err != nil {
			errs <- fmt.Errorf("mid: lock m1: %w", err)
			return
		}
		if err := m2.Unlock(); err != nil {
			errs <- fmt.Errorf("mid: unlock m2: %w", err)
			return
		}
		if err := m1.Unlock(); err != nil {
			errs <- fmt.Errorf("mid: unlock m1: %w", err)
			return
		}
		errs <- nil
	})
	high := kernel.NewTCB("high", 3, sched.Config().RoundRobinQuantum, func() {
		<-midLockedM2
		if err := m2.Lock(); err != nil {
			errs <- fmt.Errorf("high: lock m2: %w", err)
			return
		}
		if err := m2.Unlock(); err != nil {
			errs <- fmt.Errorf("high: unlock m2: %w", err)
			return
		}
		errs <- nil
	})
	lowTCB, midTCB = low, mid

	if err := sched.Add(low); err != nil {
		return fmt.Errorf("add low: %w", err)
	}
	if err := sched.Add(mid); err != nil {
		return fmt.Errorf("add mid: %w", err)
	}
	if err := sched.Add(high); err != nil {
		return fmt.Errorf("add high: %w", err)
	}

	reached := false
	for i := 0; i < 500 && !reached; i++ {
		if lowTCB.EffectivePriority() == 3 {
			reached = true
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !reached {
		return fmt.Errorf("low never inherited high's priority (3), stuck at %d", lowTCB.EffectivePriority())
	}
	if p := midTCB.EffectivePriority(); p != 3 {
		return fmt.Errorf("mid's effective priority should also be 3 while chained, got %d", p)
	}

	close(release)

	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			if err != nil {
				return err
			}
		case <-time.After(2 * time.Second):
			return fmt.Errorf("timed out waiting for chain to unwind")
		}
	}

	dropped := false
	for i := 0; i < 500 && !dropped; i++ {
		if lowTCB.EffectivePriority() == 1 {
			dropped = true
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !dropped {
		return fmt.Errorf("low's effective priority never dropped back to its static 1, stuck at %d", lowTCB.EffectivePriority())
	}
	return nil
}
