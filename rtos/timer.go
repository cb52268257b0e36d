package rtos

import (
	"time"

	"quartz/kernel"
)

// Timer is the public handle onto spec §4.2's software timer: Start/Stop/
// IsRunning layered directly over the scheduler's tick-fired supervisor,
// with no allocation beyond the one-time NewTimer/NewPeriodicTimer call.
// Unlike Mutex/Semaphore/Queue, Timer has no waiter list of its own - it
// exists purely so application code (and the blocking primitives built on
// BlockUntil) can schedule a deadline-fired action.
type Timer struct {
	sched *kernel.Scheduler
	t     *kernel.Timer
}

// NewTimer constructs a one-shot timer bound to sched. action runs from
// tick-interrupt context with the scheduler's critical section held; it may
// call the *Locked ISR-safe operations (TryPushLocked, UnblockLocked, ...),
// since the non-Locked forms would re-acquire the held critical section, and
// must never block (spec §4.2).
func NewTimer(sched *kernel.Scheduler, action func()) *Timer {
	return &Timer{sched: sched, t: kernel.NewTimer(action)}
}

// NewPeriodicTimer constructs a timer that reinserts itself every interval
// ticks each time it fires (spec §4.2's periodic variant).
func NewPeriodicTimer(sched *kernel.Scheduler, interval uint64, action func()) *Timer {
	return &Timer{sched: sched, t: kernel.NewPeriodicTimer(interval, action)}
}

// Start arms the timer at the given absolute tick deadline. Starting an
// already-pending timer moves it to the new deadline.
func (t *Timer) Start(deadline uint64) { t.sched.StartTimer(t.t, deadline) }

// StartFor arms the timer to fire after d, converted to ticks against the
// scheduler's configured tick frequency.
func (t *Timer) StartFor(d time.Duration) { t.Start(deadlineFor(t.sched, d)) }

// Stop disarms the timer; a no-op if it is not currently pending.
func (t *Timer) Stop() { t.sched.StopTimer(t.t) }

// IsRunning reports whether the timer is currently pending.
func (t *Timer) IsRunning() bool { return t.sched.IsTimerRunning(t.t) }
