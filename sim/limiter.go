// Package sim is the host-side simulation harness: it drives a
// kernel.Scheduler and package-rtos primitives against the host hal.HAL
// implementation the way real firmware drives them against interrupt
// hardware, so tests can exercise the kernel's
// concurrency story without a board attached.
package sim

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// ISRLimiter bounds how many simulated device-ISR goroutines may run their
// critical sections concurrently, the host stand-in for spec §5's nested
// interrupt-priority hardware fact (at most one real interrupt executes at
// a time on the single-CPU target this kernel is written for). It is not a
// faithful reproduction of interrupt hardware - Go goroutines are
// preemptible at arbitrary points a real ISR is not - only a concurrency
// cap so tests can still exercise ISR-vs-thread races deterministically.
type ISRLimiter struct {
	sem *semaphore.Weighted
}

// NewISRLimiter constructs a limiter allowing at most n concurrent ISR
// goroutines. n is typically 1, matching the real hardware this kernel
// targets; raise it in tests that intentionally want overlapping ISR
// entry points to shake out locking bugs the real hardware would
// serialize away for free.
func NewISRLimiter(n int64) *ISRLimiter {
	if n <= 0 {
		n = 1
	}
	return &ISRLimiter{sem: semaphore.NewWeighted(n)}
}

// Acquire blocks until an ISR slot is free or ctx is done.
func (l *ISRLimiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// Release frees the ISR slot acquired by a matching Acquire.
func (l *ISRLimiter) Release() {
	l.sem.Release(1)
}
