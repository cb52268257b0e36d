package rtos

import (
	"time"

	"quartz/kernel"
)

// FifoQueue is Queue's priority-blind sibling (spec §4.6: "FIFO queues
// ignore priority"): elements are always enqueued at the tail and popped
// from the head, in pure arrival order. The waiter-side rendezvous and
// blocking machinery are otherwise identical to Queue.
type FifoQueue[T any] struct {
	sched    *kernel.Scheduler
	capacity int
	entries  []T
	pushers  *kernel.TCBList
	poppers  *kernel.TCBList
	emplace  bool
}

// NewFifoQueue constructs a FIFO queue of the given capacity. emplaceEnabled
// is gated by the scheduler's own Config.EmplaceEnabled the same way
// NewQueue's is (spec §6, §9(iii)).
func NewFifoQueue[T any](sched *kernel.Scheduler, capacity int, emplaceEnabled bool) *FifoQueue[T] {
	return &FifoQueue[T]{
		sched:    sched,
		capacity: capacity,
		entries:  make([]T, 0, capacity),
		pushers:  kernel.NewTCBList(),
		poppers:  kernel.NewTCBList(),
		emplace:  emplaceEnabled && sched.Config().EmplaceEnabled,
	}
}

// tryPushLocked buffers value first when there is room, only draining it
// straight to a waiting popper afterward (a popper only waits while the
// buffer is empty); a waiting popper is handed value directly by rendezvous
// only once the buffer has no room left, which with a popper waiting means
// zero capacity (mirrors Queue.tryPushLocked, spec §8 scenario 4).
func (q *FifoQueue[T]) tryPushLocked(value T) (bool, error) {
	if len(q.entries) < q.capacity {
		q.entries = append(q.entries, value)
		q.serviceWaitingPopperLocked()
		return true, nil
	}
	if front := q.poppers.Front(); front != nil {
		if dest, ok := front.UserData().(*T); ok && dest != nil {
			*dest = value
		}
		front.SetUserData(nil)
		q.poppers.Remove(front)
		q.sched.UnblockLocked(front, kernel.UnblockRequest)
		return true, nil
	}
	return false, nil
}

func (q *FifoQueue[T]) serviceWaitingPopperLocked() {
	front := q.poppers.Front()
	if front == nil {
		return
	}
	v := q.entries[0]
	q.entries = q.entries[1:]
	if dest, ok := front.UserData().(*T); ok && dest != nil {
		*dest = v
	}
	front.SetUserData(nil)
	q.poppers.Remove(front)
	q.sched.UnblockLocked(front, kernel.UnblockRequest)
}

// tryPopLocked mirrors tryPushLocked: a buffered entry always wins over a
// waiting pusher's value, and popping one immediately admits a waiting
// pusher's value into the freed slot.
func (q *FifoQueue[T]) tryPopLocked(dest *T) (bool, error) {
	if len(q.entries) > 0 {
		*dest = q.entries[0]
		q.entries = q.entries[1:]
		q.serviceWaitingPusherLocked()
		return true, nil
	}
	if front := q.pushers.Front(); front != nil {
		if src, ok := front.UserData().(*T); ok && src != nil {
			*dest = *src
		}
		front.SetUserData(nil)
		q.pushers.Remove(front)
		q.sched.UnblockLocked(front, kernel.UnblockRequest)
		return true, nil
	}
	return false, nil
}

func (q *FifoQueue[T]) serviceWaitingPusherLocked() {
	front := q.pushers.Front()
	if front == nil {
		return
	}
	if src, ok := front.UserData().(*T); ok && src != nil {
		q.entries = append(q.entries, *src)
	}
	front.SetUserData(nil)
	q.pushers.Remove(front)
	q.sched.UnblockLocked(front, kernel.UnblockRequest)
}

// Push enqueues value at the tail, blocking indefinitely while full.
func (q *FifoQueue[T]) Push(value T) error {
	self := q.sched.GetCurrentThread()
	stored := value
	functor := func(kernel.UnblockReason) { self.SetUserData(nil) }
	self.SetUserData(&stored)
	return q.sched.BlockIf(kernel.Blocked, functor, func() (bool, error) {
		done, err := q.tryPushLocked(value)
		if !done {
			q.pushers.InsertSorted(self)
		}
		return done, err
	})
}

// TryPush enqueues without blocking.
func (q *FifoQueue[T]) TryPush(value T) error {
	var err error
	q.sched.Atomic(func() { err = q.TryPushLocked(value) })
	return err
}

// TryPushLocked is TryPush assuming the scheduler's critical section is
// already held - for use from a software timer's action or other
// ISR-context caller (spec §4.2).
func (q *FifoQueue[T]) TryPushLocked(value T) error {
	done, err := q.tryPushLocked(value)
	if !done {
		return kernel.ErrAgain
	}
	return err
}

// TryPushFor enqueues value, blocking for at most d.
func (q *FifoQueue[T]) TryPushFor(d time.Duration, value T) error {
	return q.TryPushUntil(deadlineFor(q.sched, d), value)
}

// TryPushUntil enqueues value, blocking until the tick counter reaches
// deadline.
func (q *FifoQueue[T]) TryPushUntil(deadline uint64, value T) error {
	self := q.sched.GetCurrentThread()
	stored := value
	functor := func(kernel.UnblockReason) { self.SetUserData(nil) }
	self.SetUserData(&stored)
	return q.sched.BlockUntilIf(kernel.Blocked, deadline, functor, func() (bool, error) {
		done, err := q.tryPushLocked(value)
		if !done {
			q.pushers.InsertSorted(self)
		}
		return done, err
	})
}

// Emplace runs build once on a local value and pushes the result as Push
// does, when the emplace configuration flag is enabled (spec §9(iii));
// otherwise returns ErrInvalid. The element is copied into its slot, not
// constructed there.
func (q *FifoQueue[T]) Emplace(build func(*T)) error {
	if !q.emplace {
		return kernel.ErrInvalid
	}
	var v T
	build(&v)
	return q.Push(v)
}

// Pop dequeues the oldest value, blocking indefinitely while empty.
func (q *FifoQueue[T]) Pop() (T, error) {
	self := q.sched.GetCurrentThread()
	var result T
	functor := func(kernel.UnblockReason) { self.SetUserData(nil) }
	self.SetUserData(&result)
	err := q.sched.BlockIf(kernel.Blocked, functor, func() (bool, error) {
		done, err := q.tryPopLocked(&result)
		if !done {
			q.poppers.InsertSorted(self)
		}
		return done, err
	})
	return result, err
}

// TryPop dequeues without blocking.
func (q *FifoQueue[T]) TryPop() (T, error) {
	var result T
	var err error
	q.sched.Atomic(func() { result, err = q.TryPopLocked() })
	return result, err
}

// TryPopLocked is TryPop assuming the scheduler's critical section is
// already held - for use from a software timer's action or other
// ISR-context caller (spec §4.2).
func (q *FifoQueue[T]) TryPopLocked() (T, error) {
	var result T
	done, err := q.tryPopLocked(&result)
	if !done {
		return result, kernel.ErrAgain
	}
	return result, err
}

// TryPopFor dequeues, blocking for at most d.
func (q *FifoQueue[T]) TryPopFor(d time.Duration) (T, error) {
	return q.TryPopUntil(deadlineFor(q.sched, d))
}

// TryPopUntil dequeues, blocking until the tick counter reaches deadline.
func (q *FifoQueue[T]) TryPopUntil(deadline uint64) (T, error) {
	self := q.sched.GetCurrentThread()
	var result T
	functor := func(kernel.UnblockReason) { self.SetUserData(nil) }
	self.SetUserData(&result)
	err := q.sched.BlockUntilIf(kernel.Blocked, deadline, functor, func() (bool, error) {
		done, err := q.tryPopLocked(&result)
		if !done {
			q.poppers.InsertSorted(self)
		}
		return done, err
	})
	return result, err
}

// Len returns the number of buffered elements.
func (q *FifoQueue[T]) Len() int {
	var n int
	q.sched.Atomic(func() { n = len(q.entries) })
	return n
}

// Capacity returns the queue's fixed capacity.
func (q *FifoQueue[T]) Capacity() int { return q.capacity }
