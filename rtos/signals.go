package rtos

import (
	"time"

	"quartz/kernel"
)

// Signals raises and waits on the per-thread pending-signal bitset (spec
// §4.7). Unlike Mutex/Semaphore/Queue, a signal has no owning instance -
// Signals is a thin scheduler-bound handle any code with a *kernel.TCB
// reference can use to raise against another thread, or to wait on its
// own.
type Signals struct {
	sched   *kernel.Scheduler
	enabled bool
}

// NewSignals constructs a signal-raising/waiting handle bound to sched. The
// scheduler's Config.SignalsEnabled (spec §6) gates the whole subsystem:
// when false, Raise is a no-op and every Wait variant fails ErrInvalid,
// mirroring how NewQueue's Emplace support is gated by Config.EmplaceEnabled.
func NewSignals(sched *kernel.Scheduler) *Signals {
	return &Signals{sched: sched, enabled: sched.Config().SignalsEnabled}
}

// Raise sets signo's bit on thread's pending set. If thread is currently
// blocked and the signal is unmasked, thread is unblocked with reason
// Signal immediately (spec §4.7), regardless of which primitive it was
// blocked in - the interrupted call observes ErrInterrupted (EINTR) unless
// it was itself a Wait call whose mask the newly pending signal satisfies,
// in which case Wait consumes it as a successful wakeup instead.
func (s *Signals) Raise(thread *kernel.TCB, signo uint32) {
	if !s.enabled {
		s.sched.LogDiagnostic("signals: Raise called with Config.SignalsEnabled false, ignoring")
		return
	}
	s.sched.Atomic(func() {
		unmasked := thread.RaiseSignal(signo)
		if unmasked && thread.State() == kernel.Blocked {
			s.sched.UnblockLocked(thread, kernel.Signal)
		}
	})
}

// Wait blocks the current thread until at least one bit in mask becomes
// pending, consuming and returning the triggered bits. A signal outside
// mask that interrupts the block (because it is unmasked thread-wide) is
// reported as ErrInterrupted rather than silently retried.
func (s *Signals) Wait(mask uint32) (uint32, error) {
	if !s.enabled {
		return 0, kernel.ErrInvalid
	}
	self := s.sched.GetCurrentThread()
	var triggered uint32
	err := s.sched.BlockIf(kernel.Blocked, nil, func() (bool, error) {
		if hit := self.ConsumeSignals(mask); hit != 0 {
			triggered = hit
			return true, nil
		}
		return false, nil
	})
	if triggered != 0 {
		return triggered, nil
	}
	if err == nil {
		return 0, nil
	}
	// Woken by a signal outside mask (or a generic unblock of some other
	// kind): re-test under the lock in case the wakeup itself delivered a
	// matching bit concurrently with another raise.
	s.sched.Atomic(func() {
		if hit := self.ConsumeSignals(mask); hit != 0 {
			triggered = hit
		}
	})
	if triggered != 0 {
		return triggered, nil
	}
	return 0, err
}

// TryWait consumes and returns any currently pending bits in mask without
// blocking, returning ErrAgain if none are pending.
func (s *Signals) TryWait(mask uint32) (uint32, error) {
	if !s.enabled {
		return 0, kernel.ErrInvalid
	}
	self := s.sched.GetCurrentThread()
	var hit uint32
	s.sched.Atomic(func() { hit = self.ConsumeSignals(mask) })
	if hit == 0 {
		return 0, kernel.ErrAgain
	}
	return hit, nil
}

// TryWaitFor waits for mask, blocking for at most d.
func (s *Signals) TryWaitFor(d time.Duration, mask uint32) (uint32, error) {
	return s.TryWaitUntil(deadlineFor(s.sched, d), mask)
}

// TryWaitUntil waits for mask, blocking until the scheduler's tick counter
// reaches deadline.
func (s *Signals) TryWaitUntil(deadline uint64, mask uint32) (uint32, error) {
	if !s.enabled {
		return 0, kernel.ErrInvalid
	}
	self := s.sched.GetCurrentThread()
	var triggered uint32
	err := s.sched.BlockUntilIf(kernel.Blocked, deadline, nil, func() (bool, error) {
		if hit := self.ConsumeSignals(mask); hit != 0 {
			triggered = hit
			return true, nil
		}
		return false, nil
	})
	if triggered != 0 {
		return triggered, nil
	}
	if err == nil {
		return 0, nil
	}
	s.sched.Atomic(func() {
		if hit := self.ConsumeSignals(mask); hit != 0 {
			triggered = hit
		}
	})
	if triggered != 0 {
		return triggered, nil
	}
	return 0, err
}

// Pending returns the thread's currently pending signal bitset.
func (s *Signals) Pending(thread *kernel.TCB) uint32 {
	var p uint32
	s.sched.Atomic(func() { p = thread.PendingSignals() })
	return p
}

// SetMask replaces thread's signal mask, returning the previous value.
func (s *Signals) SetMask(thread *kernel.TCB, mask uint32) uint32 {
	var prev uint32
	s.sched.Atomic(func() {
		prev = thread.SignalMask()
		thread.SetSignalMask(mask)
	})
	return prev
}
