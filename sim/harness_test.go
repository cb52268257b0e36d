package sim

import (
	"context"
	"testing"
	"time"

	"quartz/hal"
	"quartz/kernel"
)

func TestHarnessRunPumpsTicksIntoScheduler(t *testing.T) {
	h := hal.New(time.Millisecond)
	defer h.(interface{ Stop() }).Stop()

	idle := func() { select {} }
	sched := kernel.NewScheduler(kernel.DefaultConfig(), h.CriticalSection(), h.ContextSwitcher(), h.Logger(), idle)
	harness := New(sched, h, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	before := sched.GetTickCount()
	if err := harness.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	after := sched.GetTickCount()
	if after <= before {
		t.Fatalf("tick count did not advance: before=%d after=%d", before, after)
	}
}

func TestHarnessRunISRsExecuteUnderConcurrencyLimiter(t *testing.T) {
	h := hal.New(time.Hour)
	defer h.(interface{ Stop() }).Stop()

	idle := func() { select {} }
	sched := kernel.NewScheduler(kernel.DefaultConfig(), h.CriticalSection(), h.ContextSwitcher(), h.Logger(), idle)
	harness := New(sched, h, 1)

	ran := make(chan struct{}, 2)
	isr := func(ctx context.Context, h *Harness) error {
		return h.RunISR(ctx, func() error {
			ran <- struct{}{}
			return nil
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := harness.Run(ctx, isr); err != nil {
		t.Fatalf("Run: %v", err)
	}

	select {
	case <-ran:
	default:
		t.Fatal("ISR never ran")
	}
}

func TestISRLimiterSerializesAcquireRelease(t *testing.T) {
	l := NewISRLimiter(1)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		if err := l.Acquire(ctx); err != nil {
			t.Errorf("second Acquire: %v", err)
			return
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire succeeded while the single slot was still held")
	case <-time.After(20 * time.Millisecond):
	}

	l.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire never succeeded after Release")
	}
	l.Release()
}
