package rtos

import (
	"time"

	"quartz/kernel"
)

// rawEntry is one buffered raw message: priority-sorted descending, FIFO
// within a priority band, exactly like Queue's typed entries.
type rawEntry struct {
	priority uint8
	seq      uint64
	data     []byte
}

// rawPushPayload is a blocked pusher's rendezvous payload: the priority
// and bytes it called Push with, so a direct handoff (or a deferred
// buffer admission once the popper it waited behind frees a slot) carries
// the priority along instead of losing it.
type rawPushPayload struct {
	priority uint8
	data     []byte
}

// RawQueue is spec §4.6's untyped sibling of Queue: element size is a
// runtime attribute (ElementSize), and every operation validates its size
// argument against it before touching any state, failing EMSGSIZE
// immediately on mismatch (spec §4.6 "raw queue size-check": "mismatch
// returns EMSGSIZE and mutates no state"). Bytes are memcpy'd (via Go's
// copy) rather than moved, mirroring the original's byte-oriented raw
// queue.
type RawQueue struct {
	sched       *kernel.Scheduler
	capacity    int
	elementSize int
	entries     []rawEntry
	seq         uint64
	pushers     *kernel.TCBList
	poppers     *kernel.TCBList
}

// NewRawQueue constructs a raw queue of the given capacity and fixed
// element size.
func NewRawQueue(sched *kernel.Scheduler, capacity, elementSize int) *RawQueue {
	return &RawQueue{
		sched:       sched,
		capacity:    capacity,
		elementSize: elementSize,
		entries:     make([]rawEntry, 0, capacity),
		pushers:     kernel.NewTCBList(),
		poppers:     kernel.NewTCBList(),
	}
}

// ElementSize returns the queue's fixed per-element size in bytes.
func (q *RawQueue) ElementSize() int { return q.elementSize }

// Capacity returns the queue's fixed capacity.
func (q *RawQueue) Capacity() int { return q.capacity }

func (q *RawQueue) checkSize(size int) error {
	if size != q.elementSize {
		return kernel.ErrMessageSize
	}
	return nil
}

// checkBuffer guards every data[:size]/dest[:size] slice against a
// nil-or-too-short buffer (spec §4.6: EINVAL on "null buffer with non-zero
// size"), so a caller's bad buffer returns an error instead of panicking.
func (q *RawQueue) checkBuffer(buf []byte, size int) error {
	if size > 0 && len(buf) < size {
		return kernel.ErrInvalid
	}
	return nil
}

func (q *RawQueue) insertEntry(priority uint8, data []byte) {
	q.seq++
	buf := make([]byte, len(data))
	copy(buf, data)
	e := rawEntry{priority: priority, seq: q.seq, data: buf}
	i := 0
	for i < len(q.entries) && q.entries[i].priority >= priority {
		i++
	}
	q.entries = append(q.entries, rawEntry{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = e
}

// tryPushLocked buffers data first when there is room, draining it to a
// waiting popper afterward only if one happens to be waiting (a popper only
// waits while the buffer is empty); a waiting popper receives data directly
// only once the buffer has no room left, which with a popper waiting means
// zero capacity (mirrors Queue.tryPushLocked, spec §8 scenario 4).
func (q *RawQueue) tryPushLocked(priority uint8, data []byte) (bool, error) {
	if len(q.entries) < q.capacity {
		q.insertEntry(priority, data)
		q.serviceWaitingPopperLocked()
		return true, nil
	}
	if front := q.poppers.Front(); front != nil {
		if dest, ok := front.UserData().([]byte); ok && dest != nil {
			copy(dest, data)
		}
		front.SetUserData(nil)
		q.poppers.Remove(front)
		q.sched.UnblockLocked(front, kernel.UnblockRequest)
		return true, nil
	}
	return false, nil
}

func (q *RawQueue) serviceWaitingPopperLocked() {
	front := q.poppers.Front()
	if front == nil {
		return
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	if dest, ok := front.UserData().([]byte); ok && dest != nil {
		copy(dest, e.data)
	}
	front.SetUserData(nil)
	q.poppers.Remove(front)
	q.sched.UnblockLocked(front, kernel.UnblockRequest)
}

// tryPopLocked mirrors tryPushLocked: a buffered message always wins over
// a waiting pusher's message, and popping one immediately admits a
// waiting pusher's message into the freed slot.
func (q *RawQueue) tryPopLocked(dest []byte) (bool, error) {
	if len(q.entries) > 0 {
		copy(dest, q.entries[0].data)
		q.entries = q.entries[1:]
		q.serviceWaitingPusherLocked()
		return true, nil
	}
	if front := q.pushers.Front(); front != nil {
		if src, ok := front.UserData().(*rawPushPayload); ok && src != nil {
			copy(dest, src.data)
		}
		front.SetUserData(nil)
		q.pushers.Remove(front)
		q.sched.UnblockLocked(front, kernel.UnblockRequest)
		return true, nil
	}
	return false, nil
}

func (q *RawQueue) serviceWaitingPusherLocked() {
	front := q.pushers.Front()
	if front == nil {
		return
	}
	if src, ok := front.UserData().(*rawPushPayload); ok && src != nil {
		q.insertEntry(src.priority, src.data)
	}
	front.SetUserData(nil)
	q.pushers.Remove(front)
	q.sched.UnblockLocked(front, kernel.UnblockRequest)
}

// Push enqueues the first size bytes of data at priority, blocking
// indefinitely while the queue is full. Returns EMSGSIZE immediately,
// without blocking or touching the queue, if size does not match
// ElementSize.
func (q *RawQueue) Push(priority uint8, data []byte, size int) error {
	if err := q.checkSize(size); err != nil {
		return err
	}
	if err := q.checkBuffer(data, size); err != nil {
		return err
	}
	self := q.sched.GetCurrentThread()
	stored := make([]byte, size)
	copy(stored, data[:size])
	payload := &rawPushPayload{priority: priority, data: stored}
	functor := func(kernel.UnblockReason) { self.SetUserData(nil) }
	self.SetUserData(payload)
	return q.sched.BlockIf(kernel.Blocked, functor, func() (bool, error) {
		done, err := q.tryPushLocked(priority, stored)
		if !done {
			q.pushers.InsertSorted(self)
		}
		return done, err
	})
}

// TryPush enqueues without blocking.
func (q *RawQueue) TryPush(priority uint8, data []byte, size int) error {
	if err := q.checkSize(size); err != nil {
		return err
	}
	if err := q.checkBuffer(data, size); err != nil {
		return err
	}
	var err error
	q.sched.Atomic(func() { err = q.TryPushLocked(priority, data, size) })
	return err
}

// TryPushLocked is TryPush assuming the scheduler's critical section is
// already held - for use from a software timer's action or other
// ISR-context caller (spec §4.2).
func (q *RawQueue) TryPushLocked(priority uint8, data []byte, size int) error {
	if err := q.checkSize(size); err != nil {
		return err
	}
	if err := q.checkBuffer(data, size); err != nil {
		return err
	}
	done, err := q.tryPushLocked(priority, data[:size])
	if !done {
		return kernel.ErrAgain
	}
	return err
}

// TryPushFor enqueues, blocking for at most d.
func (q *RawQueue) TryPushFor(d time.Duration, priority uint8, data []byte, size int) error {
	if err := q.checkSize(size); err != nil {
		return err
	}
	if err := q.checkBuffer(data, size); err != nil {
		return err
	}
	return q.tryPushUntil(deadlineFor(q.sched, d), priority, data, size)
}

// TryPushUntil enqueues, blocking until the tick counter reaches deadline.
func (q *RawQueue) TryPushUntil(deadline uint64, priority uint8, data []byte, size int) error {
	if err := q.checkSize(size); err != nil {
		return err
	}
	if err := q.checkBuffer(data, size); err != nil {
		return err
	}
	return q.tryPushUntil(deadline, priority, data, size)
}

func (q *RawQueue) tryPushUntil(deadline uint64, priority uint8, data []byte, size int) error {
	self := q.sched.GetCurrentThread()
	stored := make([]byte, size)
	copy(stored, data[:size])
	payload := &rawPushPayload{priority: priority, data: stored}
	functor := func(kernel.UnblockReason) { self.SetUserData(nil) }
	self.SetUserData(payload)
	return q.sched.BlockUntilIf(kernel.Blocked, deadline, functor, func() (bool, error) {
		done, err := q.tryPushLocked(priority, stored)
		if !done {
			q.pushers.InsertSorted(self)
		}
		return done, err
	})
}

// Pop dequeues the highest-priority, oldest message into dest, blocking
// indefinitely while empty. Returns EMSGSIZE immediately if size does not
// match ElementSize.
func (q *RawQueue) Pop(dest []byte, size int) error {
	if err := q.checkSize(size); err != nil {
		return err
	}
	if err := q.checkBuffer(dest, size); err != nil {
		return err
	}
	self := q.sched.GetCurrentThread()
	functor := func(kernel.UnblockReason) { self.SetUserData(nil) }
	self.SetUserData(dest[:size])
	return q.sched.BlockIf(kernel.Blocked, functor, func() (bool, error) {
		done, err := q.tryPopLocked(dest[:size])
		if !done {
			q.poppers.InsertSorted(self)
		}
		return done, err
	})
}

// TryPop dequeues without blocking.
func (q *RawQueue) TryPop(dest []byte, size int) error {
	if err := q.checkSize(size); err != nil {
		return err
	}
	if err := q.checkBuffer(dest, size); err != nil {
		return err
	}
	var err error
	q.sched.Atomic(func() { err = q.TryPopLocked(dest, size) })
	return err
}

// TryPopLocked is TryPop assuming the scheduler's critical section is
// already held - for use from a software timer's action or other
// ISR-context caller (spec §4.2).
func (q *RawQueue) TryPopLocked(dest []byte, size int) error {
	if err := q.checkSize(size); err != nil {
		return err
	}
	if err := q.checkBuffer(dest, size); err != nil {
		return err
	}
	done, err := q.tryPopLocked(dest[:size])
	if !done {
		return kernel.ErrAgain
	}
	return err
}

// TryPopFor dequeues, blocking for at most d.
func (q *RawQueue) TryPopFor(d time.Duration, dest []byte, size int) error {
	if err := q.checkSize(size); err != nil {
		return err
	}
	if err := q.checkBuffer(dest, size); err != nil {
		return err
	}
	return q.tryPopUntil(deadlineFor(q.sched, d), dest, size)
}

// TryPopUntil dequeues, blocking until the tick counter reaches deadline.
func (q *RawQueue) TryPopUntil(deadline uint64, dest []byte, size int) error {
	if err := q.checkSize(size); err != nil {
		return err
	}
	if err := q.checkBuffer(dest, size); err != nil {
		return err
	}
	return q.tryPopUntil(deadline, dest, size)
}

func (q *RawQueue) tryPopUntil(deadline uint64, dest []byte, size int) error {
	self := q.sched.GetCurrentThread()
	functor := func(kernel.UnblockReason) { self.SetUserData(nil) }
	self.SetUserData(dest[:size])
	return q.sched.BlockUntilIf(kernel.Blocked, deadline, functor, func() (bool, error) {
		done, err := q.tryPopLocked(dest[:size])
		if !done {
			q.poppers.InsertSorted(self)
		}
		return done, err
	})
}

// Len returns the number of buffered messages.
func (q *RawQueue) Len() int {
	var n int
	q.sched.Atomic(func() { n = len(q.entries) })
	return n
}
