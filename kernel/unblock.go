package kernel

// UnblockFunctor is the cleanup closure a blocking primitive hands to the
// scheduler when it blocks a thread. It is an ordinary Go closure captured
// on the caller's stack - the idiomatic equivalent of the bounded,
// stack-lived cleanup object spec §9 describes for languages without
// virtual dispatch. It runs once, synchronously, inside the scheduler's
// critical section, immediately before the thread is moved back to
// runnable, regardless of which reason triggered the unblock.
type UnblockFunctor func(reason UnblockReason)
