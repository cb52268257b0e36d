package kernel

import "testing"

func namesOf(l *TCBList) []string {
	var out []string
	l.ForEach(func(t *TCB) { out = append(out, t.Name) })
	return out
}

func TestTCBListInsertSortedDescendingPriority(t *testing.T) {
	l := NewTCBList()
	low := NewTCB("low", 1, 10, nil)
	mid := NewTCB("mid", 5, 10, nil)
	high := NewTCB("high", 9, 10, nil)

	l.InsertSorted(mid)
	l.InsertSorted(low)
	l.InsertSorted(high)

	got := namesOf(l)
	want := []string{"high", "mid", "low"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if l.Front().Name != "high" {
		t.Fatalf("Front() = %s, want high", l.Front().Name)
	}
}

func TestTCBListFIFOWithinBand(t *testing.T) {
	l := NewTCBList()
	a := NewTCB("a", 3, 10, nil)
	b := NewTCB("b", 3, 10, nil)
	c := NewTCB("c", 3, 10, nil)

	l.InsertSorted(a)
	l.InsertSorted(b)
	l.InsertSorted(c)

	got := namesOf(l)
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("equal-priority order = %v, want FIFO %v", got, want)
		}
	}
}

func TestTCBListNewArrivalGoesToTailOfItsBand(t *testing.T) {
	l := NewTCBList()
	a := NewTCB("a", 3, 10, nil)
	hi := NewTCB("hi", 5, 10, nil)
	b := NewTCB("b", 3, 10, nil)

	l.InsertSorted(a)
	l.InsertSorted(hi)
	l.InsertSorted(b)

	got := namesOf(l)
	want := []string{"hi", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestTCBListRemove(t *testing.T) {
	l := NewTCBList()
	a := NewTCB("a", 1, 10, nil)
	b := NewTCB("b", 1, 10, nil)
	c := NewTCB("c", 1, 10, nil)
	l.InsertSorted(a)
	l.InsertSorted(b)
	l.InsertSorted(c)

	l.Remove(b)
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}
	got := namesOf(l)
	if got[0] != "a" || got[1] != "c" {
		t.Fatalf("got %v, want [a c]", got)
	}
	if b.list != nil {
		t.Fatalf("removed TCB still references its old list")
	}

	// Removing an already-removed TCB is a no-op, not a panic.
	l.Remove(b)
	if l.Len() != 2 {
		t.Fatalf("double Remove changed Len() to %d", l.Len())
	}
}

func TestTCBListRotateBandOnlyWithinOwnBand(t *testing.T) {
	l := NewTCBList()
	hi := NewTCB("hi", 5, 10, nil)
	a := NewTCB("a", 3, 10, nil)
	b := NewTCB("b", 3, 10, nil)
	c := NewTCB("c", 3, 10, nil)
	l.InsertSorted(hi)
	l.InsertSorted(a)
	l.InsertSorted(b)
	l.InsertSorted(c)

	l.RotateBand(a)

	got := namesOf(l)
	want := []string{"hi", "b", "c", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestTCBListRotateBandAtTailIsNoOp(t *testing.T) {
	l := NewTCBList()
	a := NewTCB("a", 3, 10, nil)
	b := NewTCB("b", 3, 10, nil)
	l.InsertSorted(a)
	l.InsertSorted(b)

	l.RotateBand(b)

	got := namesOf(l)
	if got[0] != "a" || got[1] != "b" {
		t.Fatalf("RotateBand on the tail reordered the list: %v", got)
	}
}

func TestTCBListEmpty(t *testing.T) {
	l := NewTCBList()
	if !l.Empty() {
		t.Fatal("new list should be empty")
	}
	if l.Front() != nil {
		t.Fatal("empty list's Front() should be nil")
	}
	l.InsertSorted(NewTCB("a", 1, 10, nil))
	if l.Empty() {
		t.Fatal("list with one element should not be empty")
	}
}
