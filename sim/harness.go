package sim

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"quartz/hal"
	"quartz/kernel"
)

// Harness wires a kernel.Scheduler to a host hal.HAL and fans out the tick
// pump plus any number of simulated device-ISR goroutines under a single
// errgroup.Group, cancelling everything on the first failure - the host
// stand-in for "the architecture layer drives ticks and interrupts" (spec
// §6), grounded in main_host.go's own ctx/errgroup-shaped run loop.
type Harness struct {
	Sched   *kernel.Scheduler
	HAL     hal.HAL
	limiter *ISRLimiter
}

// New constructs a Harness around an already-built scheduler and host HAL.
// maxConcurrentISRs bounds the simulated nested-interrupt concurrency (see
// ISRLimiter); pass 1 to model the real single-CPU target faithfully.
func New(sched *kernel.Scheduler, h hal.HAL, maxConcurrentISRs int64) *Harness {
	return &Harness{Sched: sched, HAL: h, limiter: NewISRLimiter(maxConcurrentISRs)}
}

// ISR is a simulated device interrupt handler: a function that runs
// repeatedly (or once, if it returns a non-nil error or respects ctx
// cancellation) under the harness's ISR concurrency limiter. Real ISR code
// must only call the scheduler's tryXxx family (spec §5); nothing enforces
// that from Go, it is the contract this simulates.
type ISR func(ctx context.Context, h *Harness) error

// Run pumps the HAL's tick source into Sched.TickInterruptHandler and runs
// every isr concurrently, returning when ctx is cancelled or any goroutine
// returns a non-nil, non-cancellation error.
func (h *Harness) Run(ctx context.Context, isrs ...ISR) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticks := h.HAL.Ticks().Ticks()
		for {
			select {
			case <-gctx.Done():
				return nil
			case _, ok := <-ticks:
				if !ok {
					return nil
				}
				h.Sched.TickInterruptHandler()
			}
		}
	})

	for _, isr := range isrs {
		isr := isr
		g.Go(func() error { return isr(gctx, h) })
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// RunISR runs fn once, holding a slot in the harness's ISR concurrency
// limiter for its duration - the shape every simulated device-ISR goroutine
// passed to Run should use around its actual tryXxx call.
func (h *Harness) RunISR(ctx context.Context, fn func() error) error {
	if err := h.limiter.Acquire(ctx); err != nil {
		return err
	}
	defer h.limiter.Release()
	return fn()
}

// Periodic returns an ISR that calls fn every period until ctx is done,
// the common shape for a simulated polling device ISR (e.g. a UART RX
// ready interrupt modeled as "data arrives every period").
func Periodic(period time.Duration, fn func() error) ISR {
	return func(ctx context.Context, h *Harness) error {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				if err := h.RunISR(ctx, fn); err != nil {
					return err
				}
			}
		}
	}
}
