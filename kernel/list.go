package kernel

// TCBList is an intrusive, priority-ordered doubly linked list of TCBs:
// descending effective priority, FIFO within a priority band. No
// allocation happens here beyond the list header itself - each TCB carries
// its own link fields (prev/next), matching spec §3's "intrusive: the TCB
// owns its link node."
type TCBList struct {
	head, tail *TCB
	len        int
}

// NewTCBList creates an empty waiter/runnable list. Synchronization
// primitives in package rtos call this to create their own waiter lists,
// which they then pass to Scheduler.Block/BlockUntil.
func NewTCBList() *TCBList { return &TCBList{} }

func (l *TCBList) Len() int { return l.len }

func (l *TCBList) Empty() bool { return l.head == nil }

// Front returns the highest-priority, earliest-inserted TCB, or nil.
func (l *TCBList) Front() *TCB { return l.head }

// InsertSorted inserts t keeping descending-priority, FIFO-within-band order.
// Exported so synchronization primitives in package rtos can enqueue onto
// their own waiter lists (mutex/semaphore/queue) inside the same atomic
// step that decides whether to block - see Scheduler.BlockIf.
func (l *TCBList) InsertSorted(t *TCB) { l.insertSorted(t) }

// insertSorted inserts t keeping descending-priority, FIFO-within-band
// order: t is placed after every TCB with priority >= t's, i.e. at the
// tail of its own priority band. If t is still linked into another list
// (the runnable list, when a blocking primitive enqueues the current
// thread on its waiter list), it is unlinked from that list first.
func (l *TCBList) insertSorted(t *TCB) {
	if t.list != nil {
		t.list.Remove(t)
	}
	t.list = l
	if l.head == nil {
		l.head, l.tail = t, t
		t.prev, t.next = nil, nil
		l.len++
		return
	}

	cur := l.head
	for cur != nil && cur.effectivePriority >= t.effectivePriority {
		cur = cur.next
	}

	if cur == nil {
		// lowest priority so far: append at tail
		t.prev = l.tail
		t.next = nil
		l.tail.next = t
		l.tail = t
	} else if cur.prev == nil {
		// new highest priority: prepend at head
		t.prev = nil
		t.next = cur
		cur.prev = t
		l.head = t
	} else {
		t.prev = cur.prev
		t.next = cur
		cur.prev.next = t
		cur.prev = t
	}
	l.len++
}

// Remove unlinks t from the list it currently belongs to. t must be a
// member of l.
func (l *TCBList) Remove(t *TCB) {
	if t.list != l {
		return
	}
	if t.prev != nil {
		t.prev.next = t.next
	} else {
		l.head = t.next
	}
	if t.next != nil {
		t.next.prev = t.prev
	} else {
		l.tail = t.prev
	}
	t.prev, t.next, t.list = nil, nil, nil
	l.len--
}

// RotateBand moves t to the tail of its own priority band (round robin
// among equal-effective-priority siblings), without touching threads of
// other priorities.
func (l *TCBList) RotateBand(t *TCB) {
	if t.list != l {
		return
	}
	// already at the tail of its band?
	if t.next == nil || t.next.effectivePriority != t.effectivePriority {
		return
	}
	l.Remove(t)
	l.insertSorted(t)
}

// ForEach walks the list head to tail. fn must not mutate the list.
func (l *TCBList) ForEach(fn func(*TCB)) {
	for t := l.head; t != nil; t = t.next {
		fn(t)
	}
}
