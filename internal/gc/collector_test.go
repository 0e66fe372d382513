package gc

import (
	"testing"

	"heapcore/internal/dispatch"
	"heapcore/internal/memregion"
	"heapcore/internal/tagword"
)

func newTestHeap(t *testing.T) (*Heap, *dispatch.Tables) {
	t.Helper()
	var losses []string
	lose := func(reason string) { losses = append(losses, reason) }
	tables := dispatch.Init(lose, func(tb *dispatch.Tables, sp dispatch.Space, ref tagword.Word) tagword.Word { return ref })
	heap, err := NewHeap(tables, lose, 4096, 4096)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	t.Cleanup(func() {
		if len(losses) > 0 {
			t.Fatalf("unexpected dispatch loss: %v", losses)
		}
	})
	return heap, tables
}

type fixedRoots []Root

func (f fixedRoots) Roots() []Root { return f }

// allocSimpleVector writes a minimal simple-vector object of n elements,
// all initialized to the fixnum 0, and returns its tagged reference.
func allocSimpleVector(t *testing.T, h *Heap, n int) tagword.Word {
	t.Helper()
	addr, err := h.AllocObject(uintptr(n) + 1)
	if err != nil {
		t.Fatalf("AllocObject: %v", err)
	}
	header := tagword.Word(tagword.WidetagSimpleVector) | tagword.Word(n)<<8
	memregion.WriteWord(addr, header)
	for i := 0; i < n; i++ {
		memregion.WriteWord(memregion.WordAt(addr, i+1), tagword.FixnumEncode(0))
	}
	return tagword.Retag(addr, tagword.LowtagOtherPointer)
}

func TestCollectSurvivesRootedCons(t *testing.T) {
	heap, tables := newTestHeap(t)

	consAddr, err := heap.AllocCons(tagword.FixnumEncode(42), tagword.FixnumEncode(0))
	if err != nil {
		t.Fatalf("AllocCons: %v", err)
	}
	root := tagword.Retag(consAddr, tagword.LowtagListPointer)

	// Plant the root reference in a small word buffer the collector can
	// scavenge and we can read back afterward.
	slot, err := heap.AllocObject(2)
	if err != nil {
		t.Fatalf("AllocObject: %v", err)
	}
	memregion.WriteWord(slot, root)

	_, err = heap.Collect(fixedRoots{{Start: slot, Words: 1}})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	newRoot := memregion.ReadWord(slot)
	if newRoot == root {
		t.Fatalf("expected the surviving cons to move (from-space address reused), got identical word")
	}
	newAddr := tagword.Untag(newRoot)
	if tagword.LowtagOf(newRoot) != tagword.LowtagListPointer {
		t.Fatalf("surviving root lost its list-pointer lowtag: %v", tagword.LowtagOf(newRoot))
	}
	if car := memregion.ReadWord(newAddr); tagword.FixnumDecode(car) != 42 {
		t.Fatalf("car not preserved across collection: got %d", tagword.FixnumDecode(car))
	}
	_ = tables
}

func TestCollectReclaimsUnrootedCons(t *testing.T) {
	heap, _ := newTestHeap(t)

	if _, err := heap.AllocCons(tagword.FixnumEncode(1), tagword.FixnumEncode(2)); err != nil {
		t.Fatalf("AllocCons: %v", err)
	}

	stats, err := heap.Collect(fixedRoots{})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if stats.ConsWords != 0 {
		t.Fatalf("expected an unrooted cons to be reclaimed, got %d surviving cons words", stats.ConsWords)
	}
}

func TestListLinearization(t *testing.T) {
	heap, _ := newTestHeap(t)

	// Build a 3-element list tail-first so the cells are scattered across
	// from-space in reverse allocation order.
	tailAddr, _ := heap.AllocCons(tagword.FixnumEncode(3), tagword.BrokenWeakValue)
	tail := tagword.Retag(tailAddr, tagword.LowtagListPointer)
	midAddr, _ := heap.AllocCons(tagword.FixnumEncode(2), tail)
	mid := tagword.Retag(midAddr, tagword.LowtagListPointer)
	headAddr, _ := heap.AllocCons(tagword.FixnumEncode(1), mid)
	head := tagword.Retag(headAddr, tagword.LowtagListPointer)

	slot, _ := heap.AllocObject(1)
	memregion.WriteWord(slot, head)

	if _, err := heap.Collect(fixedRoots{{Start: slot, Words: 1}}); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	newHead := memregion.ReadWord(slot)
	a0 := tagword.Untag(newHead)
	a1 := tagword.Untag(memregion.ReadWord(memregion.WordAt(a0, 1)))
	if a1 != a0+2*tagword.WordSize {
		t.Fatalf("second cell not adjacent to first after linearization: a0=%#x a1=%#x", a0, a1)
	}
}

func TestWeakPointerBreaksWhenUnreachable(t *testing.T) {
	heap, tables := newTestHeap(t)

	consAddr, _ := heap.AllocCons(tagword.FixnumEncode(7), tagword.FixnumEncode(0))
	referent := tagword.Retag(consAddr, tagword.LowtagListPointer)

	weakAddr, err := heap.AllocObject(tagword.WeakPointerWords)
	if err != nil {
		t.Fatalf("AllocObject: %v", err)
	}
	memregion.WriteWord(weakAddr, tagword.Word(tagword.WidetagWeakPointer))
	memregion.WriteWord(memregion.WordAt(weakAddr, 1), referent)
	memregion.WriteWord(memregion.WordAt(weakAddr, 2), tagword.FixnumEncode(0))
	weakRef := tagword.Retag(weakAddr, tagword.LowtagOtherPointer)

	slot, _ := heap.AllocObject(1)
	memregion.WriteWord(slot, weakRef)

	stats, err := heap.Collect(fixedRoots{{Start: slot, Words: 1}})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if stats.WeakBroken != 1 || stats.WeakKept != 0 {
		t.Fatalf("expected the weak pointer to break since nothing else roots its referent, got kept=%d broken=%d", stats.WeakKept, stats.WeakBroken)
	}

	newWeak := tagword.Untag(memregion.ReadWord(slot))
	value := memregion.ReadWord(memregion.WordAt(newWeak, 1))
	if value != tagword.BrokenWeakValue {
		t.Fatalf("weak pointer value slot not broken: %#x", value)
	}
	_ = tables
}

func TestWeakPointerSurvivesWhenReferentAlsoRooted(t *testing.T) {
	heap, _ := newTestHeap(t)

	consAddr, _ := heap.AllocCons(tagword.FixnumEncode(7), tagword.FixnumEncode(0))
	referent := tagword.Retag(consAddr, tagword.LowtagListPointer)

	weakAddr, _ := heap.AllocObject(tagword.WeakPointerWords)
	memregion.WriteWord(weakAddr, tagword.Word(tagword.WidetagWeakPointer))
	memregion.WriteWord(memregion.WordAt(weakAddr, 1), referent)
	memregion.WriteWord(memregion.WordAt(weakAddr, 2), tagword.FixnumEncode(0))
	weakRef := tagword.Retag(weakAddr, tagword.LowtagOtherPointer)

	slots, _ := heap.AllocObject(2)
	memregion.WriteWord(slots, weakRef)
	memregion.WriteWord(memregion.WordAt(slots, 1), referent) // strong root too

	stats, err := heap.Collect(fixedRoots{{Start: slots, Words: 2}})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if stats.WeakKept != 1 || stats.WeakBroken != 0 {
		t.Fatalf("expected the weak pointer to survive since its referent is independently rooted, got kept=%d broken=%d", stats.WeakKept, stats.WeakBroken)
	}

	newWeak := tagword.Untag(memregion.ReadWord(slots))
	newReferent := memregion.ReadWord(memregion.WordAt(slots, 1))
	trackedValue := memregion.ReadWord(memregion.WordAt(newWeak, 1))
	if trackedValue != newReferent {
		t.Fatalf("surviving weak pointer should track the referent's new location: got %#x want %#x", trackedValue, newReferent)
	}
}

func TestForwardingIdempotentAcrossTwoReferences(t *testing.T) {
	heap, _ := newTestHeap(t)

	v := allocSimpleVector(t, heap, 2)

	slots, _ := heap.AllocObject(2)
	memregion.WriteWord(slots, v)
	memregion.WriteWord(memregion.WordAt(slots, 1), v)

	if _, err := heap.Collect(fixedRoots{{Start: slots, Words: 2}}); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	a := memregion.ReadWord(slots)
	b := memregion.ReadWord(memregion.WordAt(slots, 1))
	if a != b {
		t.Fatalf("two references to the same object converged to different forwarding destinations: %#x vs %#x", a, b)
	}
}

func TestWhyReportsUnreachable(t *testing.T) {
	heap, _ := newTestHeap(t)
	consAddr, _ := heap.AllocCons(tagword.FixnumEncode(1), tagword.FixnumEncode(0))

	lines := Why(fixedRoots{}, consAddr)
	if len(lines) != 1 || lines[0] != "(no root reaches this address)" {
		t.Fatalf("expected an unreachable report, got %v", lines)
	}
}

func TestWhyFindsRootedPath(t *testing.T) {
	heap, _ := newTestHeap(t)
	consAddr, _ := heap.AllocCons(tagword.FixnumEncode(1), tagword.FixnumEncode(0))
	root := tagword.Retag(consAddr, tagword.LowtagListPointer)

	slot, _ := heap.AllocObject(1)
	memregion.WriteWord(slot, root)

	lines := Why(fixedRoots{{Start: slot, Words: 1}}, consAddr)
	if len(lines) == 0 || lines[len(lines)-1] == "(no root reaches this address)" {
		t.Fatalf("expected a reachability path, got %v", lines)
	}
}
