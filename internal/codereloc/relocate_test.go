package codereloc_test

import (
	"testing"

	"heapcore/internal/arch"
	"heapcore/internal/codereloc"
	"heapcore/internal/dispatch"
	"heapcore/internal/gc"
	"heapcore/internal/memregion"
	"heapcore/internal/tagword"
)

type fixedRoots []gc.Root

func (f fixedRoots) Roots() []gc.Root { return f }

// buildTwoEntryCode allocates a code object with two simple-fun entries,
// each with a self pointer equal to its own tagged address, matching
// spec scenario 4 ("Code self-reference").
func buildTwoEntryCode(t *testing.T, h *gc.Heap) (codeRoot tagword.Word, entryOffsets [2]uintptr) {
	t.Helper()
	const n = 1          // one boxed constant
	const k = 2           // two entries
	const insnBytes = 16  // arbitrary instruction payload

	insnWords := (insnBytes + tagword.WordSize - 1) / tagword.WordSize
	total := 1 + n + 1 + codereloc.SimpleFunEntryWords*k + 1 + insnWords

	addr, err := h.AllocObject(uintptr(total))
	if err != nil {
		t.Fatalf("AllocObject: %v", err)
	}

	header := tagword.Word(tagword.WidetagCodeHeader) | tagword.Word(n)<<8
	memregion.WriteWord(addr, header)
	memregion.WriteWord(memregion.WordAt(addr, 1), tagword.FixnumEncode(99)) // boxed constant
	memregion.WriteWord(memregion.WordAt(addr, 1+n), tagword.FixnumEncode(k))

	for i := 0; i < k; i++ {
		base := 1 + n + 1 + i*codereloc.SimpleFunEntryWords
		entryAddr := memregion.WordAt(addr, base)
		selfRef := tagword.Retag(entryAddr, tagword.LowtagFunctionPointer)
		memregion.WriteWord(entryAddr, tagword.Word(tagword.WidetagSimpleFunHeader))
		memregion.WriteWord(memregion.WordAt(entryAddr, 1), selfRef)
		memregion.WriteWord(memregion.WordAt(entryAddr, 2), tagword.FixnumEncode(int64(i*4)))
		memregion.WriteWord(memregion.WordAt(entryAddr, 3), tagword.FixnumEncode(int64(base)))
		entryOffsets[i] = uintptr(base)
	}

	insnLenAddr := memregion.WordAt(addr, 1+n+1+k*codereloc.SimpleFunEntryWords)
	memregion.WriteWord(insnLenAddr, tagword.FixnumEncode(insnBytes))

	return tagword.Retag(addr, tagword.LowtagOtherPointer), entryOffsets
}

func TestCodeSelfReferenceSurvivesCollection(t *testing.T) {
	var losses []string
	lose := func(reason string) { losses = append(losses, reason) }
	tables := dispatch.Init(lose, nil)
	codereloc.New(arch.ByName("amd64")).Wire(tables)

	heap, err := gc.NewHeap(tables, lose, 256, 4096)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}

	codeRef, entryOffsets := buildTwoEntryCode(t, heap)
	codeAddr := tagword.Untag(codeRef)

	// Roots: a tagged function-pointer reference to each entry.
	slot, err := heap.AllocObject(2)
	if err != nil {
		t.Fatalf("AllocObject: %v", err)
	}
	for i, off := range entryOffsets {
		entryAddr := codeAddr + tagword.Address(off*tagword.WordSize)
		memregion.WriteWord(memregion.WordAt(slot, i), tagword.Retag(entryAddr, tagword.LowtagFunctionPointer))
	}

	if _, err := heap.Collect(fixedRoots{{Start: slot, Words: 2}}); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(losses) > 0 {
		t.Fatalf("unexpected dispatch loss: %v", losses)
	}

	newEntry0 := memregion.ReadWord(slot)
	newEntry1 := memregion.ReadWord(memregion.WordAt(slot, 1))
	newBase0 := tagword.Untag(newEntry0)
	newBase1 := tagword.Untag(newEntry1)

	if newBase1 <= newBase0 {
		t.Fatalf("expected the second entry to land after the first in the relocated block")
	}
	gotDelta := uintptr(newBase1-newBase0) / tagword.WordSize
	wantDelta := entryOffsets[1] - entryOffsets[0]
	if gotDelta != wantDelta {
		t.Fatalf("entries did not preserve their relative offset: got %d words apart, want %d", gotDelta, wantDelta)
	}

	self0 := memregion.ReadWord(memregion.WordAt(newBase0, 1))
	self1 := memregion.ReadWord(memregion.WordAt(newBase1, 1))
	if self0 != newEntry0 {
		t.Fatalf("entry 0's self field does not point at its own new address: got %#x want %#x", self0, newEntry0)
	}
	if self1 != newEntry1 {
		t.Fatalf("entry 1's self field does not point at its own new address: got %#x want %#x", self1, newEntry1)
	}
}
