package kernel

import "testing"

// TestPanicLatchFiresOnce exercises triggerPanic directly. Runs before any
// other kernel test that might itself trip a contract violation (Go runs
// _test.go files in lexical order: list, panic, scheduler, timer), so this
// is the first and only call that should reach the installed handler - the
// latch (spec §9's "record once, notify, don't unwind") must not fire
// twice even if a second violation is detected later in the same process.
func TestPanicLatchFiresOnce(t *testing.T) {
	if InPanicMode() {
		t.Skip("panic latch already tripped by an earlier test in this binary")
	}

	var got PanicInfo
	calls := 0
	SetPanicHandler(func(info PanicInfo) {
		calls++
		got = info
	})

	tcb := NewTCB("victim", 1, 10, nil)
	triggerPanic(PanicInfo{Thread: tcb, Reason: "test violation"})
	triggerPanic(PanicInfo{Thread: tcb, Reason: "second violation, should be ignored"})

	if calls != 1 {
		t.Fatalf("handler invoked %d times, want exactly 1", calls)
	}
	if got.Reason != "test violation" {
		t.Fatalf("handler saw reason %q, want %q (the first violation, not the second)", got.Reason, "test violation")
	}
	if got.Thread != tcb {
		t.Fatalf("handler saw wrong thread")
	}
	if len(got.Stack) == 0 {
		t.Fatal("PanicInfo.Stack should be populated")
	}
	if !InPanicMode() {
		t.Fatal("InPanicMode() should report true after a recorded violation")
	}
}
