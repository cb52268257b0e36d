package kernel

import (
	"sync/atomic"

	"quartz/hal"
)

// Scheduler owns the runnable/suspended lists, the current-thread pointer,
// the software timer supervisor, the context-switch counter, and the tick
// counter - the entire mutable state of spec §3's "Scheduler state". There
// is exactly one Scheduler per process; it is constructed once and never
// destroyed (spec §9 "Global mutable state").
//
// Go has no manual stack-pointer context switch, so "the thread that
// currently owns the CPU" is modeled as a goroutine parked on its own
// per-TCB baton channel; Scheduler hands the baton to the new head of the
// runnable list instead of the architecture layer restoring a saved stack
// (see SPEC_FULL.md §4 and DESIGN.md for the full rationale, including the
// one simplification this model accepts: a thread that loses "current"
// status purely because of ISR/tick-driven bookkeeping - not because it
// called a blocking primitive itself - keeps running until its own next
// kernel call, since nothing can truly preempt a running goroutine from
// outside it).
type Scheduler struct {
	cfg Config

	cs              hal.CriticalSection
	contextSwitcher hal.ContextSwitcher
	logger          hal.Logger

	runnable  *TCBList
	suspended *TCBList
	timers    *timerSupervisor

	current *TCB
	idle    *TCB

	csCount   uint64
	tickCount uint64

	preemptDisabled int

	// timerDepth counts software-timer actions currently executing,
	// letting BlockIf/BlockUntilIf detect a blocking call made from timer
	// (ISR-equivalent) context - a contract violation, spec §4.2 - without
	// tracking per-goroutine identity. Read/written with the critical
	// section held except by BlockIf/BlockUntilIf's own pre-lock check, so
	// it is an atomic rather than a plain int.
	timerDepth atomic.Int32
}

// NewScheduler constructs the scheduler and starts its idle thread at
// priority 0 - the lowest priority a thread may hold - so the runnable
// list invariant ("the idle thread is always present", spec §8 property 1)
// holds from the very first call onward. idleAction is supplied by the
// caller (the idle thread body is explicitly out of scope, spec §1).
func NewScheduler(cfg Config, cs hal.CriticalSection, contextSwitcher hal.ContextSwitcher, logger hal.Logger, idleAction func()) *Scheduler {
	s := &Scheduler{
		cfg:             cfg,
		cs:              cs,
		contextSwitcher: contextSwitcher,
		logger:          logger,
		runnable:        NewTCBList(),
		suspended:       NewTCBList(),
		timers:          newTimerSupervisor(),
	}
	s.idle = NewTCB("idle", 0, cfg.RoundRobinQuantum, idleAction)
	_ = s.Add(s.idle)
	return s
}

func (s *Scheduler) lock() func() { return s.cs.Lock() }

// Config returns the configuration the scheduler was constructed with.
func (s *Scheduler) Config() Config { return s.cfg }

// GetCurrentThread returns the thread currently considered "current" by the
// scheduler's bookkeeping.
func (s *Scheduler) GetCurrentThread() *TCB {
	cs := s.lock()
	defer cs()
	return s.current
}

// GetContextSwitchCount returns the monotonically increasing context-switch
// counter (spec §8 property 7).
func (s *Scheduler) GetContextSwitchCount() uint64 {
	cs := s.lock()
	defer cs()
	return s.csCount
}

// GetTickCount returns the current tick counter.
func (s *Scheduler) GetTickCount() uint64 {
	cs := s.lock()
	defer cs()
	return s.tickCount
}

// LogDiagnostic reports a kernel-internal diagnostic (dropped timer, queue
// contention, priority-ceiling violation, ...) through the configured
// hal.Logger, if any. A nil logger silently drops the message: diagnostics
// are advisory, never load-bearing (SPEC_FULL.md ambient logging).
func (s *Scheduler) LogDiagnostic(msg string) {
	if s.logger != nil {
		s.logger.WriteLineString(msg)
	}
}

// Atomic runs fn once inside the scheduler's critical section. Synchronization
// primitives (rtos.Mutex, Semaphore, Queue) use this for bookkeeping that
// must be indivisible from a scheduler state change but does not itself
// decide whether to block - e.g. Mutex.Unlock's ownership transfer. fn may
// call the *Locked family of Scheduler methods, which assume the lock is
// already held.
func (s *Scheduler) Atomic(fn func()) {
	cs := s.lock()
	fn()
	cs()
}

// dispatchLocked re-evaluates who should be current against the head of the
// runnable list and, if it changed, hands off the baton. Must be called
// with the critical section held. Returns true iff a switch happened.
func (s *Scheduler) dispatchLocked() bool {
	if s.preemptDisabled > 0 {
		return false
	}
	head := s.runnable.Front()
	if head == s.current {
		return false
	}
	s.current = head
	s.csCount++
	if s.contextSwitcher != nil {
		s.contextSwitcher.RequestContextSwitch()
	}
	if head != nil {
		select {
		case head.baton <- struct{}{}:
		default:
		}
	}
	return true
}

// MaybeRequestContextSwitch re-evaluates the runnable list head and requests
// a context switch if it no longer matches the current thread; a no-op if
// preemption is currently disabled (spec §4.1).
func (s *Scheduler) MaybeRequestContextSwitch() {
	cs := s.lock()
	defer cs()
	s.dispatchLocked()
}

// DisablePreemption masks scheduler-driven context switches until the
// returned function is called. Nestable.
func (s *Scheduler) DisablePreemption() (enable func()) {
	cs := s.lock()
	s.preemptDisabled++
	cs()
	return func() {
		cs := s.lock()
		if s.preemptDisabled > 0 {
			s.preemptDisabled--
		}
		s.dispatchLocked()
		cs()
	}
}

// SwitchContext is the Go-idiomatic stand-in for spec §4.1's architecture
// entry point: "called from the architecture layer; returns the new
// thread's stack pointer". All list/priority bookkeeping already happened
// inside the critical section that triggered the pending switch (see
// dispatchLocked); this just hands back a descriptor of the thread the
// architecture layer should now be running, instead of a raw stack pointer
// Go has no way to manipulate.
func (s *Scheduler) SwitchContext() *TCB {
	cs := s.lock()
	defer cs()
	return s.current
}

// Add moves tcb to Runnable and starts its goroutine. Fails ErrInvalid if
// tcb has already been started.
func (s *Scheduler) Add(t *TCB) error {
	cs := s.lock()
	if t.state != Created {
		cs()
		triggerPanic(PanicInfo{Thread: t, Reason: "thread added more than once"})
		return ErrInvalid
	}
	t.state = Runnable
	t.quantum = t.quantumTotal
	s.runnable.InsertSorted(t)
	s.dispatchLocked()
	cs()
	go s.runThread(t)
	return nil
}

// runThread is the goroutine body every TCB runs under: park until granted
// the baton, run the entry action, then terminate (spec §6 "thread entry").
func (s *Scheduler) runThread(t *TCB) {
	<-t.baton
	t.action()
	// Terminate t itself rather than s.current: t's own last kernel call may
	// already have made another thread current (an Unlock or Post that woke
	// a higher-priority waiter) without parking t's goroutine.
	cs := s.lock()
	s.runnable.Remove(t)
	t.state = Terminated
	if t.terminationHook != nil {
		t.terminationHook()
	}
	s.dispatchLocked()
	cs()
}

// checkNotInTimerAction reports ErrInvalid, and records a PanicInfo
// contract violation, if called while any software timer's action is
// currently executing. timerDepth is process-wide, not per goroutine, so a
// blocking call from another goroutine during that window is rejected as
// well. The case it targets is a blocking call from the action itself
// (ISR-equivalent context), which would otherwise deadlock trying to
// re-acquire the critical section the timer-firing TickInterruptHandler
// already holds (spec §4.2: timer actions "may call ISR-safe scheduler
// operations" only, never a blocking one).
func (s *Scheduler) checkNotInTimerAction() error {
	if s.timerDepth.Load() == 0 {
		return nil
	}
	triggerPanic(PanicInfo{Thread: s.current, Reason: "blocking call made from timer action context"})
	return ErrInvalid
}

// errFromReason maps an UnblockReason to the status a blocking primitive's
// caller observes (spec §4.1 block's "result reflects the unblock reason").
func errFromReason(r UnblockReason) error {
	switch r {
	case Timeout:
		return ErrTimedOut
	case Signal:
		return ErrInterrupted
	default:
		return nil
	}
}

// Block moves the current thread onto list, sets its state, and suspends
// the caller until it is unblocked. The returned error reflects the
// unblock reason.
func (s *Scheduler) Block(list *TCBList, state ThreadState, functor UnblockFunctor) error {
	return s.BlockIf(state, functor, func() (bool, error) {
		list.InsertSorted(s.current)
		return false, nil
	})
}

// BlockIf atomically evaluates check. If check reports done, BlockIf
// returns its error immediately without blocking - this is the "if the
// non-blocking precondition holds, satisfy the request" branch of spec
// §4.3's common protocol. Otherwise check is responsible for having
// enqueued the calling thread onto whatever waiter list the primitive uses
// (via TCBList.InsertSorted) before returning; BlockIf then removes the
// thread from the runnable list, applies state, dispatches, and parks the
// caller until it is unblocked.
func (s *Scheduler) BlockIf(state ThreadState, functor UnblockFunctor, check func() (done bool, err error)) error {
	if err := s.checkNotInTimerAction(); err != nil {
		return err
	}
	cs := s.lock()
	self := s.current
	if done, err := check(); done {
		cs()
		return err
	}
	s.runnable.Remove(self)
	self.state = state
	self.unblockFunctor = functor
	s.dispatchLocked()
	cs()
	<-self.baton
	return errFromReason(self.unblockReason)
}

// BlockIter blocks the TCB referenced by iter, which must be Runnable
// (ErrInvalid otherwise). If iter is the current thread this behaves like
// Block and suspends the caller; otherwise only the targeted thread is
// blocked and the caller returns immediately (spec §4.1).
func (s *Scheduler) BlockIter(list *TCBList, iter *TCB, state ThreadState, functor UnblockFunctor) error {
	cs := s.lock()
	if iter.state != Runnable || iter.list != s.runnable {
		cs()
		return ErrInvalid
	}
	isSelf := iter == s.current
	s.runnable.Remove(iter)
	iter.state = state
	iter.unblockFunctor = functor
	list.InsertSorted(iter)
	s.dispatchLocked()
	cs()
	if isSelf {
		<-iter.baton
		return errFromReason(iter.unblockReason)
	}
	return nil
}

// BlockUntil is as Block, but also arms an internal timer that unblocks the
// current thread with reason Timeout if the tick counter reaches deadline
// before any other wakeup.
func (s *Scheduler) BlockUntil(list *TCBList, state ThreadState, deadline uint64, functor UnblockFunctor) error {
	return s.BlockUntilIf(state, deadline, functor, func() (bool, error) {
		list.InsertSorted(s.current)
		return false, nil
	})
}

// BlockUntilIf is BlockIf's timed counterpart: check runs atomically first;
// if it is not satisfied, the caller is queued (by check, via
// TCBList.InsertSorted) and blocked with a timeout timer armed at deadline.
func (s *Scheduler) BlockUntilIf(state ThreadState, deadline uint64, functor UnblockFunctor, check func() (done bool, err error)) error {
	if err := s.checkNotInTimerAction(); err != nil {
		return err
	}
	cs := s.lock()
	self := s.current
	if done, err := check(); done {
		cs()
		return err
	}
	timer := &Timer{deadline: deadline, state: TimerPending}
	timer.action = func() { s.unblockLocked(self, Timeout) }
	self.timeoutTimer = timer
	s.timers.insert(timer)
	s.runnable.Remove(self)
	self.state = state
	self.unblockFunctor = functor
	s.dispatchLocked()
	cs()
	<-self.baton
	return errFromReason(self.unblockReason)
}

// StartTimer arms t at the given absolute deadline, firing t's action from
// tick-interrupt context with the critical section held (spec §4.2).
// Starting an already-pending timer moves it to the new deadline.
func (s *Scheduler) StartTimer(t *Timer, deadline uint64) {
	cs := s.lock()
	defer cs()
	if t.state == TimerPending {
		s.timers.remove(t)
	}
	t.deadline = deadline
	t.state = TimerPending
	s.timers.insert(t)
}

// StopTimer disarms t, a no-op if it is not currently pending.
func (s *Scheduler) StopTimer(t *Timer) {
	cs := s.lock()
	defer cs()
	if t.state == TimerPending {
		s.timers.remove(t)
		t.state = TimerStopped
	}
}

// IsTimerRunning reports whether t is currently pending.
func (s *Scheduler) IsTimerRunning(t *Timer) bool {
	cs := s.lock()
	defer cs()
	return t.state == TimerPending
}

// Unblock removes t from its current waiter list, records reason, and moves
// it to runnable, requesting a context switch if warranted.
func (s *Scheduler) Unblock(t *TCB, reason UnblockReason) error {
	cs := s.lock()
	defer cs()
	return s.unblockLocked(t, reason)
}

// UnblockLocked is Unblock assuming the critical section is already held -
// for use from within Scheduler.Atomic or a BlockIf/BlockUntilIf check
// callback (e.g. Mutex.Unlock transferring ownership to a waiter).
func (s *Scheduler) UnblockLocked(t *TCB, reason UnblockReason) error {
	return s.unblockLocked(t, reason)
}

func (s *Scheduler) unblockLocked(t *TCB, reason UnblockReason) error {
	if t.state != Blocked {
		return ErrInvalid
	}
	if t.list != nil {
		t.list.Remove(t)
	}
	if t.timeoutTimer != nil {
		if reason != Timeout {
			s.timers.remove(t.timeoutTimer)
			t.timeoutTimer.state = TimerStopped
		}
		t.timeoutTimer = nil
	}
	if t.unblockFunctor != nil {
		functor := t.unblockFunctor
		t.unblockFunctor = nil
		functor(reason)
	}
	t.unblockReason = reason
	t.state = Runnable
	s.runnable.InsertSorted(t)
	s.dispatchLocked()
	return nil
}

// Suspend moves the current thread to the suspended list.
func (s *Scheduler) Suspend() {
	cs := s.lock()
	self := s.current
	s.runnable.Remove(self)
	self.state = Suspended
	s.suspended.InsertSorted(self)
	s.dispatchLocked()
	cs()
	<-self.baton
}

// SuspendIter moves the TCB referenced by iter to the suspended list. If
// iter is the current thread, the caller suspends until resumed.
func (s *Scheduler) SuspendIter(iter *TCB) error {
	cs := s.lock()
	if iter.state != Runnable || iter.list != s.runnable {
		cs()
		return ErrInvalid
	}
	isSelf := iter == s.current
	s.runnable.Remove(iter)
	iter.state = Suspended
	s.suspended.InsertSorted(iter)
	s.dispatchLocked()
	cs()
	if isSelf {
		<-iter.baton
	}
	return nil
}

// Resume moves iter from the suspended list back to runnable. Fails
// ErrInvalid if iter is not currently suspended.
func (s *Scheduler) Resume(iter *TCB) error {
	cs := s.lock()
	defer cs()
	if iter.list != s.suspended {
		return ErrInvalid
	}
	s.suspended.Remove(iter)
	iter.state = Runnable
	iter.quantum = iter.quantumTotal
	s.runnable.InsertSorted(iter)
	s.dispatchLocked()
	return nil
}

// Remove transitions the current thread to Terminated. terminationHook runs
// inside the critical section, immediately before the forced context
// switch (spec §4.1).
func (s *Scheduler) Remove(terminationHook func()) {
	cs := s.lock()
	self := s.current
	s.runnable.Remove(self)
	self.state = Terminated
	if terminationHook != nil {
		terminationHook()
	}
	s.dispatchLocked()
	cs()
}

// Yield round-robin rotates the current thread within its equal-priority
// band and requests a context switch.
func (s *Scheduler) Yield() {
	cs := s.lock()
	self := s.current
	self.quantum = self.quantumTotal
	s.runnable.RotateBand(self)
	switched := s.dispatchLocked()
	cs()
	if switched {
		<-self.baton
	}
}

// UpdateEffectivePriority recomputes t's effective priority from its static
// priority and the waiters of everything it owns under priority
// inheritance, re-sorting its list membership and chaining through any
// mutex t itself is blocked on (spec §4.4's "classic chained
// inheritance").
func (s *Scheduler) UpdateEffectivePriority(t *TCB) {
	cs := s.lock()
	defer cs()
	s.updatePriorityLocked(t)
}

// UpdateEffectivePriorityLocked is UpdateEffectivePriority assuming the
// critical section is already held.
func (s *Scheduler) UpdateEffectivePriorityLocked(t *TCB) {
	s.updatePriorityLocked(t)
}

func (s *Scheduler) updatePriorityLocked(t *TCB) {
	for t != nil {
		next := t.recomputeEffectivePriority()
		if next == t.effectivePriority {
			return
		}
		t.effectivePriority = next
		if l := t.list; l != nil {
			l.Remove(t)
			l.InsertSorted(t)
		}
		if t.blockedOn == nil {
			s.dispatchLocked()
			return
		}
		t = t.blockedOn.OwnerTCB()
	}
}

// TickInterruptHandler advances the tick counter, fires expired software
// timers, accounts the current thread's round-robin quantum, and returns
// true iff the architecture layer must request a context switch on exit
// (spec §4.1).
func (s *Scheduler) TickInterruptHandler() bool {
	cs := s.lock()
	defer cs()
	s.tickCount++

	s.timers.expire(s.tickCount, func(t *Timer) {
		action := t.action
		if t.interval > 0 {
			t.deadline = s.tickCount + t.interval
			t.state = TimerPending
			s.timers.insert(t)
		}
		if action != nil {
			s.timerDepth.Add(1)
			action()
			s.timerDepth.Add(-1)
		}
	})

	needsSwitch := false
	if cur := s.current; cur != nil && cur != s.idle && cur.quantum > 0 {
		cur.quantum--
		if cur.quantum == 0 {
			cur.quantum = cur.quantumTotal
			if cur.next != nil && cur.next.effectivePriority == cur.effectivePriority {
				s.runnable.RotateBand(cur)
				needsSwitch = true
			}
		}
	}

	switched := s.dispatchLocked()
	return needsSwitch || switched
}
