package kernel

// ThreadState mirrors the state machine of spec §3: exactly one of these is
// reflected by the TCB's list membership at all times.
type ThreadState uint8

const (
	Created ThreadState = iota
	Runnable
	Blocked
	Suspended
	Terminated
)

func (s ThreadState) String() string {
	switch s {
	case Created:
		return "created"
	case Runnable:
		return "runnable"
	case Blocked:
		return "blocked"
	case Suspended:
		return "suspended"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// UnblockReason records why a blocked thread was moved back to runnable.
type UnblockReason uint8

const (
	// UnblockRequest means the rendezvous completed normally: the waking
	// side already did whatever bookkeeping the wait was for.
	UnblockRequest UnblockReason = iota
	// Timeout means a deadline armed by BlockUntil fired first.
	Timeout
	// Signal means a pending signal unblocked the thread (EINTR).
	Signal
)

// PriorityDonor is implemented by synchronization primitives (rtos.Mutex)
// that can raise a thread's effective priority by contention. It is the
// non-owning, interface-shaped equivalent of distortos's TCB-owned
// mutex list - kept as an interface rather than a concrete type to avoid
// the kernel package depending on rtos.
type PriorityDonor interface {
	// MaxWaiterPriority returns the highest effective priority among the
	// donor's current waiters, and whether it has any.
	MaxWaiterPriority() (priority uint8, ok bool)
	// OwnerTCB returns the thread currently holding the donor, or nil.
	// The scheduler walks this to propagate chained priority inheritance
	// (spec §4.4: "classic chained inheritance").
	OwnerTCB() *TCB
}

// MaxPriority is the highest priority value a thread may hold. Priority 1
// is the lowest for application threads; MaxPriority is the highest,
// matching spec §3 ("1...PriMax"). Priority 0 is used by the scheduler's
// own idle thread (see NewScheduler).
const MaxPriority = 255

// TCB is a Thread Control Block: the kernel's entire per-thread record.
// No field is exported for mutation outside the kernel package except
// through Scheduler methods - the list membership, state, and priority
// fields must only ever change under the scheduler's critical section.
type TCB struct {
	Name string

	action func()

	staticPriority    uint8
	effectivePriority uint8

	state ThreadState

	quantum      uint32
	quantumTotal uint32

	unblockReason  UnblockReason
	unblockFunctor UnblockFunctor

	pendingSignals uint32
	signalMask     uint32

	owned []PriorityDonor

	// blockedOn is the donor (mutex) this TCB is currently enqueued on, if
	// any; the scheduler follows it to chain priority inheritance through
	// a thread that is itself waiting on another mutex.
	blockedOn PriorityDonor

	// timeoutTimer is the internal timer armed by BlockUntil, if any. Unblock
	// stops it unless the unblock reason is itself Timeout.
	timeoutTimer *Timer

	// userData is a primitive-specific payload slot a blocking call may use
	// to publish a pointer to its own stack-local rendezvous destination
	// (e.g. "write the popped value here") so the waking side can complete
	// the rendezvous directly, per spec §4.3's "rendezvous is completed by
	// the waking side" protocol. Cleared by the primitive's UnblockFunctor.
	userData any

	terminationHook func()

	// baton is the thread's run token: exactly one TCB holds a readable
	// value on baton at a time, modeling "currently owns the CPU" without
	// manual stack-pointer manipulation (Go has no such primitive). See
	// SPEC_FULL.md §4 and DESIGN.md for the rationale.
	baton chan struct{}

	list *TCBList
	prev *TCB
	next *TCB
}

// NewTCB constructs a thread control block. action is the thread's entry
// function; it is expected to call back into the owning Scheduler (via
// Block/BlockUntil/Yield or a synchronization primitive built on them) at
// its own suspension points - see the Scheduler type's note on the baton
// model, under which a running goroutine is never preempted from outside.
func NewTCB(name string, priority uint8, quantum uint32, action func()) *TCB {
	return &TCB{
		Name:              name,
		action:            action,
		staticPriority:    priority,
		effectivePriority: priority,
		state:             Created,
		quantum:           quantum,
		quantumTotal:      quantum,
		baton:             make(chan struct{}, 1),
	}
}

// SetTerminationHook registers the cleanup run by Scheduler.Remove inside
// its critical section when this thread's entry action returns (spec §6).
func (t *TCB) SetTerminationHook(fn func()) { t.terminationHook = fn }

// State returns the thread's current state.
func (t *TCB) State() ThreadState { return t.state }

// StaticPriority returns the thread's configured priority.
func (t *TCB) StaticPriority() uint8 { return t.staticPriority }

// EffectivePriority returns the thread's current (possibly inherited)
// priority.
func (t *TCB) EffectivePriority() uint8 { return t.effectivePriority }

// UnblockReason returns why the thread was last unblocked.
func (t *TCB) UnblockReason() UnblockReason { return t.unblockReason }

// AddOwned registers a lock this thread now owns, for priority-inheritance
// recomputation.
func (t *TCB) AddOwned(d PriorityDonor) { t.owned = append(t.owned, d) }

// RemoveOwned unregisters a lock this thread no longer owns.
func (t *TCB) RemoveOwned(d PriorityDonor) {
	for i, o := range t.owned {
		if o == d {
			t.owned = append(t.owned[:i], t.owned[i+1:]...)
			return
		}
	}
}

// recomputeEffectivePriority recomputes this thread's effective priority
// from its static priority and the waiters of everything it owns under
// priority inheritance (spec §4.4's chained-inheritance invariant).
func (t *TCB) recomputeEffectivePriority() uint8 {
	best := t.staticPriority
	for _, d := range t.owned {
		if p, ok := d.MaxWaiterPriority(); ok && p > best {
			best = p
		}
	}
	return best
}

// SetBlockedOn records the donor this TCB is enqueued on, for chained
// priority-inheritance propagation.
func (t *TCB) SetBlockedOn(d PriorityDonor) { t.blockedOn = d }

// ClearBlockedOn clears the donor link, normally from an UnblockFunctor.
func (t *TCB) ClearBlockedOn() { t.blockedOn = nil }

// UserData returns the primitive-specific rendezvous payload set by
// SetUserData, or nil.
func (t *TCB) UserData() any { return t.userData }

// SetUserData stores a primitive-specific rendezvous payload (typically a
// pointer to a stack-local destination/source value) while this TCB is
// blocked.
func (t *TCB) SetUserData(v any) { t.userData = v }

// PendingSignals returns the current pending-signal bitset.
func (t *TCB) PendingSignals() uint32 { return t.pendingSignals }

// SignalMask returns the current signal mask.
func (t *TCB) SignalMask() uint32 { return t.signalMask }

// SetSignalMask replaces the signal mask.
func (t *TCB) SetSignalMask(mask uint32) { t.signalMask = mask }

// RaiseSignal sets signo's bit in the pending set and reports whether it is
// currently unmasked (spec §4.7: "raise(thread, signo) sets the bit; if the
// thread is blocked AND the signal is unmasked, unblock with reason
// Signal").
func (t *TCB) RaiseSignal(signo uint32) (unmasked bool) {
	t.pendingSignals |= signo
	return t.signalMask&signo == 0
}

// ConsumeSignals clears every bit in mask from the pending set and returns
// the bits that were set beforehand.
func (t *TCB) ConsumeSignals(mask uint32) uint32 {
	hit := t.pendingSignals & mask
	t.pendingSignals &^= hit
	return hit
}
