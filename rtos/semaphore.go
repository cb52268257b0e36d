package rtos

import (
	"fmt"
	"time"

	"quartz/kernel"
)

// Semaphore is a counting semaphore built on the scheduler's common
// blocking protocol (spec §4.5).
type Semaphore struct {
	sched    *kernel.Scheduler
	value    uint
	maxValue uint
	waiters  *kernel.TCBList
}

// NewSemaphore constructs a semaphore with an initial and maximum value.
func NewSemaphore(sched *kernel.Scheduler, initial, max uint) *Semaphore {
	return &Semaphore{sched: sched, value: initial, maxValue: max, waiters: kernel.NewTCBList()}
}

// Wait decrements the semaphore, blocking indefinitely while it is zero.
func (s *Semaphore) Wait() error {
	self := s.sched.GetCurrentThread()
	return s.sched.BlockIf(kernel.Blocked, nil, func() (bool, error) {
		return s.tryTakeOrEnqueue(self), nil
	})
}

// TryWait decrements the semaphore without blocking, returning ErrAgain if
// it is currently zero.
func (s *Semaphore) TryWait() error {
	var err error
	s.sched.Atomic(func() { err = s.TryWaitLocked() })
	return err
}

// TryWaitLocked is TryWait assuming the scheduler's critical section is
// already held - for use from a software timer's action or other
// ISR-context caller (spec §4.2).
func (s *Semaphore) TryWaitLocked() error {
	if s.value > 0 {
		s.value--
		return nil
	}
	return kernel.ErrAgain
}

// TryWaitFor decrements the semaphore, blocking for at most d.
func (s *Semaphore) TryWaitFor(d time.Duration) error {
	return s.TryWaitUntil(deadlineFor(s.sched, d))
}

// TryWaitUntil decrements the semaphore, blocking until the scheduler's tick
// counter reaches deadline.
func (s *Semaphore) TryWaitUntil(deadline uint64) error {
	self := s.sched.GetCurrentThread()
	return s.sched.BlockUntilIf(kernel.Blocked, deadline, nil, func() (bool, error) {
		return s.tryTakeOrEnqueue(self), nil
	})
}

func (s *Semaphore) tryTakeOrEnqueue(self *kernel.TCB) bool {
	if s.value > 0 {
		s.value--
		return true
	}
	s.waiters.InsertSorted(self)
	return false
}

// Post increments the semaphore and, if a waiter exists, unblocks the
// highest-priority oldest one - the rendezvous is completed by the poster,
// which decrements the value straight back down for the waiter it woke
// (spec §4.5).
func (s *Semaphore) Post() error {
	var err error
	s.sched.Atomic(func() { err = s.PostLocked() })
	return err
}

// PostLocked is Post assuming the scheduler's critical section is already
// held - for use from a software timer's action or other ISR-context
// caller (spec §4.2).
func (s *Semaphore) PostLocked() error {
	if front := s.waiters.Front(); front != nil {
		s.waiters.Remove(front)
		s.sched.UnblockLocked(front, kernel.UnblockRequest)
		return nil
	}
	if s.value >= s.maxValue {
		s.sched.LogDiagnostic(fmt.Sprintf("semaphore: post at max value %d dropped", s.maxValue))
		return kernel.ErrNoBufferSpace
	}
	s.value++
	return nil
}

// Value returns the current semaphore value.
func (s *Semaphore) Value() uint {
	var v uint
	s.sched.Atomic(func() { v = s.value })
	return v
}
