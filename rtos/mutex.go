package rtos

import (
	"fmt"
	"time"

	"quartz/kernel"
)

// MutexType selects the POSIX-ish mutex family (spec §3).
type MutexType uint8

const (
	MutexNormal MutexType = iota
	MutexErrorChecking
	MutexRecursive
)

// MutexProtocol selects the contention-handling protocol (spec §3).
type MutexProtocol uint8

const (
	ProtocolNone MutexProtocol = iota
	ProtocolPriorityInheritance
	ProtocolPriorityProtect
)

// Mutex implements spec §4.4: lock/unlock with optional priority
// inheritance or priority-ceiling protection, built entirely on the
// scheduler's common blocking protocol (spec §4.3).
type Mutex struct {
	sched    *kernel.Scheduler
	typ      MutexType
	protocol MutexProtocol
	ceiling  uint8

	owner     *kernel.TCB
	recursion int
	waiters   *kernel.TCBList
}

// NewMutex constructs a mutex. ceiling is only meaningful for
// ProtocolPriorityProtect.
func NewMutex(sched *kernel.Scheduler, typ MutexType, protocol MutexProtocol, ceiling uint8) *Mutex {
	return &Mutex{
		sched:    sched,
		typ:      typ,
		protocol: protocol,
		ceiling:  ceiling,
		waiters:  kernel.NewTCBList(),
	}
}

// MaxWaiterPriority implements kernel.PriorityDonor.
func (m *Mutex) MaxWaiterPriority() (uint8, bool) {
	if m.waiters.Empty() {
		return 0, false
	}
	return m.waiters.Front().EffectivePriority(), true
}

// OwnerTCB implements kernel.PriorityDonor.
func (m *Mutex) OwnerTCB() *kernel.TCB { return m.owner }

// acquireCheck is the atomic precondition test shared by Lock and
// TryLockFor/TryLockUntil: if the mutex can be acquired immediately it is,
// and acquireCheck reports done; otherwise it enqueues self as a waiter
// (raising the owner's effective priority under PriorityInheritance) and
// reports not-done, per spec §4.3's common protocol.
func (m *Mutex) acquireCheck(self *kernel.TCB) (bool, error) {
	if m.owner == nil {
		if m.protocol == ProtocolPriorityProtect && self.StaticPriority() > m.ceiling {
			m.sched.LogDiagnostic(fmt.Sprintf("mutex: priority ceiling violation, locker priority %d > ceiling %d", self.StaticPriority(), m.ceiling))
			return true, kernel.ErrInvalid
		}
		m.owner = self
		self.AddOwned(m)
		return true, nil
	}
	if m.owner == self {
		switch m.typ {
		case MutexRecursive:
			m.recursion++
			return true, nil
		case MutexErrorChecking:
			return true, kernel.ErrDeadlock
		}
		// Normal falls through to the same enqueue-and-block path as any
		// other contended owner (spec §4.4) - a genuine self-deadlock,
		// the classic POSIX "normal mutex" behavior.
	}
	if m.protocol == ProtocolPriorityInheritance {
		self.SetBlockedOn(m)
	}
	m.waiters.InsertSorted(self)
	if m.protocol == ProtocolPriorityInheritance {
		m.sched.UpdateEffectivePriorityLocked(m.owner)
	}
	return false, nil
}

func (m *Mutex) cleanupFunctor(self *kernel.TCB) kernel.UnblockFunctor {
	return func(kernel.UnblockReason) {
		self.ClearBlockedOn()
	}
}

// Lock acquires the mutex, blocking indefinitely if it is held by another
// thread.
func (m *Mutex) Lock() error {
	self := m.sched.GetCurrentThread()
	return m.sched.BlockIf(kernel.Blocked, m.cleanupFunctor(self), func() (bool, error) {
		return m.acquireCheck(self)
	})
}

// TryLock attempts to acquire the mutex without blocking, returning
// ErrAgain if it is currently held by another thread.
func (m *Mutex) TryLock() error {
	self := m.sched.GetCurrentThread()
	err := kernel.ErrAgain
	m.sched.Atomic(func() {
		if m.owner != nil && m.owner != self {
			err = kernel.ErrAgain
			return
		}
		_, err = m.acquireCheckNoEnqueue(self)
	})
	return err
}

// acquireCheckNoEnqueue is acquireCheck's non-blocking sibling: it never
// enqueues self as a waiter, since TryLock must return immediately.
func (m *Mutex) acquireCheckNoEnqueue(self *kernel.TCB) (bool, error) {
	if m.owner == nil {
		if m.protocol == ProtocolPriorityProtect && self.StaticPriority() > m.ceiling {
			m.sched.LogDiagnostic(fmt.Sprintf("mutex: priority ceiling violation, locker priority %d > ceiling %d", self.StaticPriority(), m.ceiling))
			return true, kernel.ErrInvalid
		}
		m.owner = self
		self.AddOwned(m)
		return true, nil
	}
	switch m.typ {
	case MutexRecursive:
		m.recursion++
		return true, nil
	case MutexErrorChecking:
		return true, kernel.ErrDeadlock
	default:
		// Normal: the blocking Lock would enqueue and deadlock; TryLock
		// can't block at all, so the closest honest answer is "can't
		// acquire immediately", the same as any other contended owner.
		return true, kernel.ErrAgain
	}
}

// TryLockFor attempts to acquire the mutex, blocking for at most d.
func (m *Mutex) TryLockFor(d time.Duration) error {
	return m.TryLockUntil(deadlineFor(m.sched, d))
}

// TryLockUntil attempts to acquire the mutex, blocking until the scheduler's
// tick counter reaches deadline.
func (m *Mutex) TryLockUntil(deadline uint64) error {
	self := m.sched.GetCurrentThread()
	return m.sched.BlockUntilIf(kernel.Blocked, deadline, m.cleanupFunctor(self), func() (bool, error) {
		return m.acquireCheck(self)
	})
}

// Unlock releases the mutex. Only the owner may unlock it, whatever the
// mutex type (ErrPermission otherwise).
func (m *Mutex) Unlock() error {
	self := m.sched.GetCurrentThread()
	err := error(nil)
	m.sched.Atomic(func() {
		if m.owner != self {
			err = kernel.ErrPermission
			return
		}
		if m.typ == MutexRecursive && m.recursion > 0 {
			m.recursion--
			return
		}
		self.RemoveOwned(m)
		m.owner = nil
		if m.protocol == ProtocolPriorityInheritance {
			m.sched.UpdateEffectivePriorityLocked(self)
		}
		if front := m.waiters.Front(); front != nil {
			m.waiters.Remove(front)
			m.owner = front
			front.AddOwned(m)
			front.ClearBlockedOn()
			m.sched.UnblockLocked(front, kernel.UnblockRequest)
			if m.protocol == ProtocolPriorityInheritance {
				m.sched.UpdateEffectivePriorityLocked(front)
			}
		}
	})
	return err
}

// IsLocked reports whether the mutex currently has an owner.
func (m *Mutex) IsLocked() bool {
	var locked bool
	m.sched.Atomic(func() { locked = m.owner != nil })
	return locked
}
