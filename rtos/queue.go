package rtos

import (
	"time"

	"quartz/kernel"
)

// queueEntry is one buffered element: priority-sorted descending, FIFO
// within a priority band (spec §4.6 "Message queues pop in order of
// (descending priority, ascending arrival time)"). It also doubles as the
// pusher-side rendezvous payload published through TCB.UserData, and
// popSlot as the popper-side destination, so a direct rendezvous carries
// the priority along with the value instead of losing it (spec §8 scenario
// 3: "Main wakes ... observes the value and priority").
type queueEntry[T any] struct {
	priority uint8
	seq      uint64
	value    T
}

type popSlot[T any] struct {
	value    T
	priority uint8
}

// Queue is a bounded, priority-sorted message queue (spec §4.6). Push
// blocks on the pusher-waiter list when full; Pop blocks on the
// popper-waiter list when empty. When the complementary operation arrives,
// buffered data always takes precedence over a waiting caller (see
// tryPushLocked and tryPopLocked); a value moves directly between the two
// callers' stack-local storage, skipping the buffer, only when the buffer
// cannot take part (a push with no room, a pop with nothing buffered), as
// at zero capacity - the "rendezvous is completed by the waking side"
// protocol of spec §4.3, implemented here via TCB.UserData carrying a
// pointer to each blocked caller's own destination/source variable.
type Queue[T any] struct {
	sched    *kernel.Scheduler
	capacity int
	entries  []queueEntry[T]
	seq      uint64
	pushers  *kernel.TCBList
	poppers  *kernel.TCBList
	emplace  bool
}

// NewQueue constructs a message queue of the given capacity. emplaceEnabled
// requests Emplace support for this queue specifically, but is still gated
// by the scheduler's own Config.EmplaceEnabled (spec §6): a scheduler built
// with EmplaceEnabled false disables Emplace repo-wide regardless of what
// individual callers ask for (spec §9(iii)).
func NewQueue[T any](sched *kernel.Scheduler, capacity int, emplaceEnabled bool) *Queue[T] {
	return &Queue[T]{
		sched:    sched,
		capacity: capacity,
		entries:  make([]queueEntry[T], 0, capacity),
		pushers:  kernel.NewTCBList(),
		poppers:  kernel.NewTCBList(),
		emplace:  emplaceEnabled && sched.Config().EmplaceEnabled,
	}
}

func (q *Queue[T]) insertEntry(priority uint8, value T) {
	q.seq++
	e := queueEntry[T]{priority: priority, seq: q.seq, value: value}
	i := 0
	for i < len(q.entries) && q.entries[i].priority >= priority {
		i++
	}
	q.entries = append(q.entries, queueEntry[T]{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = e
}

func (q *Queue[T]) popFront() (T, uint8) {
	e := q.entries[0]
	q.entries = q.entries[1:]
	return e.value, e.priority
}

// tryPushLocked is the atomic precondition test for Push. Buffered data
// always takes precedence over a waiting complementary caller: if there is
// room, value is buffered first and only then, if a popper happens to be
// waiting (a popper only waits while the buffer is empty), is it
// immediately drained back out to that popper. Only once the buffer has no
// room does a waiting popper receive value by direct rendezvous, skipping
// the buffer entirely, which with a popper waiting means a zero-capacity
// queue (spec §8 scenario 4: a pop
// against a full buffer with a pusher waiting returns the buffered value,
// not the waiting pusher's).
func (q *Queue[T]) tryPushLocked(priority uint8, value T) (bool, error) {
	if len(q.entries) < q.capacity {
		q.insertEntry(priority, value)
		q.serviceWaitingPopperLocked()
		return true, nil
	}
	if front := q.poppers.Front(); front != nil {
		if dest, ok := front.UserData().(*popSlot[T]); ok && dest != nil {
			dest.value = value
			dest.priority = priority
		}
		front.SetUserData(nil)
		q.poppers.Remove(front)
		q.sched.UnblockLocked(front, kernel.UnblockRequest)
		return true, nil
	}
	return false, nil
}

// serviceWaitingPopperLocked drains the buffer's front entry straight to a
// waiting popper, if any - restoring the invariant that popper-waiters are
// only ever non-empty while the buffer is empty.
func (q *Queue[T]) serviceWaitingPopperLocked() {
	front := q.poppers.Front()
	if front == nil {
		return
	}
	v, p := q.popFront()
	if dest, ok := front.UserData().(*popSlot[T]); ok && dest != nil {
		dest.value, dest.priority = v, p
	}
	front.SetUserData(nil)
	q.poppers.Remove(front)
	q.sched.UnblockLocked(front, kernel.UnblockRequest)
}

// tryPopLocked is tryPushLocked's mirror: a buffered entry is always
// returned before a waiting pusher's value is considered, and popping a
// buffered entry immediately admits a waiting pusher's value into the
// freed slot rather than handing it to this caller.
func (q *Queue[T]) tryPopLocked(dest *popSlot[T]) (bool, error) {
	if len(q.entries) > 0 {
		dest.value, dest.priority = q.popFront()
		q.serviceWaitingPusherLocked()
		return true, nil
	}
	if front := q.pushers.Front(); front != nil {
		if src, ok := front.UserData().(*queueEntry[T]); ok && src != nil {
			dest.value = src.value
			dest.priority = src.priority
		}
		front.SetUserData(nil)
		q.pushers.Remove(front)
		q.sched.UnblockLocked(front, kernel.UnblockRequest)
		return true, nil
	}
	return false, nil
}

// serviceWaitingPusherLocked admits a waiting pusher's value into the
// buffer slot a pop just freed, if any.
func (q *Queue[T]) serviceWaitingPusherLocked() {
	front := q.pushers.Front()
	if front == nil {
		return
	}
	if src, ok := front.UserData().(*queueEntry[T]); ok && src != nil {
		q.insertEntry(src.priority, src.value)
	}
	front.SetUserData(nil)
	q.pushers.Remove(front)
	q.sched.UnblockLocked(front, kernel.UnblockRequest)
}

// Push enqueues value at priority, blocking indefinitely while the queue is
// full and no popper is waiting.
func (q *Queue[T]) Push(priority uint8, value T) error {
	self := q.sched.GetCurrentThread()
	stored := &queueEntry[T]{priority: priority, value: value}
	functor := func(kernel.UnblockReason) { self.SetUserData(nil) }
	self.SetUserData(stored)
	return q.sched.BlockIf(kernel.Blocked, functor, func() (bool, error) {
		done, err := q.tryPushLocked(priority, value)
		if !done {
			q.pushers.InsertSorted(self)
		}
		return done, err
	})
}

// TryPush enqueues value without blocking, returning ErrAgain if the queue
// is full and no popper is waiting.
func (q *Queue[T]) TryPush(priority uint8, value T) error {
	var err error
	q.sched.Atomic(func() { err = q.TryPushLocked(priority, value) })
	return err
}

// TryPushLocked is TryPush assuming the scheduler's critical section is
// already held - for use from a software timer's action or other
// ISR-context caller (spec §4.2: a timer action "may call ISR-safe
// scheduler operations"), where calling TryPush directly would deadlock
// trying to re-acquire the section the caller is already inside.
func (q *Queue[T]) TryPushLocked(priority uint8, value T) error {
	done, err := q.tryPushLocked(priority, value)
	if !done {
		return kernel.ErrAgain
	}
	return err
}

// TryPushFor enqueues value, blocking for at most d.
func (q *Queue[T]) TryPushFor(d time.Duration, priority uint8, value T) error {
	return q.TryPushUntil(deadlineFor(q.sched, d), priority, value)
}

// TryPushUntil enqueues value, blocking until the scheduler's tick counter
// reaches deadline.
func (q *Queue[T]) TryPushUntil(deadline uint64, priority uint8, value T) error {
	self := q.sched.GetCurrentThread()
	stored := &queueEntry[T]{priority: priority, value: value}
	functor := func(kernel.UnblockReason) { self.SetUserData(nil) }
	self.SetUserData(stored)
	return q.sched.BlockUntilIf(kernel.Blocked, deadline, functor, func() (bool, error) {
		done, err := q.tryPushLocked(priority, value)
		if !done {
			q.pushers.InsertSorted(self)
		}
		return done, err
	})
}

// Emplace is Push's construction-callback sibling, available only when the
// emplace configuration flag is enabled (ErrInvalid otherwise). build is
// invoked exactly once, on a local value, which is then pushed as by Push:
// the element is copied into the buffer slot or the popper's destination,
// not constructed there.
func (q *Queue[T]) Emplace(priority uint8, build func(*T)) error {
	if !q.emplace {
		return kernel.ErrInvalid
	}
	var v T
	build(&v)
	return q.Push(priority, v)
}

// Pop dequeues the highest-priority, oldest-arrived value, blocking
// indefinitely while the queue is empty and no pusher is waiting. The
// value's priority is discarded; use PopPriority to observe it.
func (q *Queue[T]) Pop() (T, error) {
	v, _, err := q.PopPriority()
	return v, err
}

// PopPriority is Pop, also returning the priority the value was pushed
// with - including when the value arrives by direct rendezvous rather
// than through the buffer (spec §8 scenario 3).
func (q *Queue[T]) PopPriority() (T, uint8, error) {
	self := q.sched.GetCurrentThread()
	result := &popSlot[T]{}
	functor := func(kernel.UnblockReason) { self.SetUserData(nil) }
	self.SetUserData(result)
	err := q.sched.BlockIf(kernel.Blocked, functor, func() (bool, error) {
		done, err := q.tryPopLocked(result)
		if !done {
			q.poppers.InsertSorted(self)
		}
		return done, err
	})
	return result.value, result.priority, err
}

// TryPop dequeues without blocking, returning ErrAgain if the queue is
// empty and no pusher is waiting.
func (q *Queue[T]) TryPop() (T, error) {
	v, _, err := q.TryPopPriority()
	return v, err
}

// TryPopPriority is TryPop, also returning the priority the value was
// pushed with.
func (q *Queue[T]) TryPopPriority() (T, uint8, error) {
	var v T
	var p uint8
	var err error
	q.sched.Atomic(func() { v, p, err = q.TryPopPriorityLocked() })
	return v, p, err
}

// TryPopPriorityLocked is TryPopPriority assuming the scheduler's critical
// section is already held - for use from a software timer's action or
// other ISR-context caller (spec §4.2).
func (q *Queue[T]) TryPopPriorityLocked() (T, uint8, error) {
	result := &popSlot[T]{}
	done, err := q.tryPopLocked(result)
	if !done {
		return result.value, result.priority, kernel.ErrAgain
	}
	return result.value, result.priority, err
}

// TryPopLocked is TryPop assuming the scheduler's critical section is
// already held.
func (q *Queue[T]) TryPopLocked() (T, error) {
	v, _, err := q.TryPopPriorityLocked()
	return v, err
}

// TryPopFor dequeues, blocking for at most d.
func (q *Queue[T]) TryPopFor(d time.Duration) (T, error) {
	v, _, err := q.TryPopPriorityUntil(deadlineFor(q.sched, d))
	return v, err
}

// TryPopUntil dequeues, blocking until the scheduler's tick counter reaches
// deadline.
func (q *Queue[T]) TryPopUntil(deadline uint64) (T, error) {
	v, _, err := q.TryPopPriorityUntil(deadline)
	return v, err
}

// TryPopPriorityUntil is TryPopUntil, also returning the priority the
// value was pushed with.
func (q *Queue[T]) TryPopPriorityUntil(deadline uint64) (T, uint8, error) {
	self := q.sched.GetCurrentThread()
	result := &popSlot[T]{}
	functor := func(kernel.UnblockReason) { self.SetUserData(nil) }
	self.SetUserData(result)
	err := q.sched.BlockUntilIf(kernel.Blocked, deadline, functor, func() (bool, error) {
		done, err := q.tryPopLocked(result)
		if !done {
			q.poppers.InsertSorted(self)
		}
		return done, err
	})
	return result.value, result.priority, err
}

// Len returns the number of buffered elements (excludes waiters).
func (q *Queue[T]) Len() int {
	var n int
	q.sched.Atomic(func() { n = len(q.entries) })
	return n
}

// Capacity returns the queue's fixed capacity.
func (q *Queue[T]) Capacity() int { return q.capacity }
