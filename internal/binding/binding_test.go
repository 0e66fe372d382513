package binding_test

import (
	"testing"

	"heapcore/internal/binding"
	"heapcore/internal/memregion"
	"heapcore/internal/tagword"
)

func newTestStack(t *testing.T) (*binding.Stack, func()) {
	t.Helper()
	region, err := memregion.Reserve(memregion.KindBindingStack, 4096)
	if err != nil {
		t.Fatalf("reserve binding stack: %v", err)
	}
	var losses []string
	s := binding.New(region, func(reason string) { losses = append(losses, reason) })
	cleanup := func() {
		if len(losses) > 0 {
			t.Fatalf("unexpected binding loss: %v", losses)
		}
		region.Release()
	}
	return s, cleanup
}

// newTestSymbol writes a 5-word symbol object (header, value, function,
// name, package) at addr with the given initial value, returning its
// other-pointer-tagged reference.
func newTestSymbol(addr tagword.Address, initialValue int64) tagword.Word {
	memregion.WriteWord(addr, tagword.Word(tagword.WidetagSymbol)|tagword.Word(4)<<8)
	memregion.WriteWord(memregion.WordAt(addr, 1), tagword.FixnumEncode(initialValue))
	return tagword.Retag(addr, tagword.LowtagOtherPointer)
}

func symbolValue(symbol tagword.Word) int64 {
	addr := tagword.Untag(symbol)
	return tagword.FixnumDecode(memregion.ReadWord(memregion.WordAt(addr, 1)))
}

func TestBindUnbindRestoresPriorValue(t *testing.T) {
	s, cleanup := newTestStack(t)
	defer cleanup()

	backing, err := memregion.Reserve(memregion.KindStatic, 4096)
	if err != nil {
		t.Fatalf("reserve symbol backing: %v", err)
	}
	defer backing.Release()

	sym := newTestSymbol(backing.Base, 10)

	if err := s.Bind(sym, tagword.FixnumEncode(20)); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if got := symbolValue(sym); got != 20 {
		t.Fatalf("value after bind = %d, want 20", got)
	}

	if err := s.Unbind(); err != nil {
		t.Fatalf("Unbind: %v", err)
	}
	if got := symbolValue(sym); got != 10 {
		t.Fatalf("value after unbind = %d, want 10", got)
	}
}

func TestUnbindToRestoresEachSymbolOnceAndStackPointerLandsOnMarker(t *testing.T) {
	s, cleanup := newTestStack(t)
	defer cleanup()

	backing, err := memregion.Reserve(memregion.KindStatic, 4096)
	if err != nil {
		t.Fatalf("reserve symbol backing: %v", err)
	}
	defer backing.Release()

	symA := newTestSymbol(backing.Base, 1)
	symB := newTestSymbol(memregion.WordAt(backing.Base, 8), 2)

	marker := s.Marker()

	if err := s.Bind(symA, tagword.FixnumEncode(100)); err != nil {
		t.Fatalf("Bind symA: %v", err)
	}
	if err := s.Bind(symB, tagword.FixnumEncode(200)); err != nil {
		t.Fatalf("Bind symB: %v", err)
	}
	// Rebind symA once more, nested.
	if err := s.Bind(symA, tagword.FixnumEncode(300)); err != nil {
		t.Fatalf("Bind symA (nested): %v", err)
	}

	if err := s.UnbindTo(marker); err != nil {
		t.Fatalf("UnbindTo: %v", err)
	}
	if s.Marker() != marker {
		t.Fatalf("stack pointer after UnbindTo = %v, want %v", s.Marker(), marker)
	}
	if got := symbolValue(symA); got != 1 {
		t.Fatalf("symA value after UnbindTo = %d, want 1", got)
	}
	if got := symbolValue(symB); got != 2 {
		t.Fatalf("symB value after UnbindTo = %d, want 2", got)
	}
}

func TestUnbindToRejectsMarkerAboveStackPointer(t *testing.T) {
	s, cleanup := newTestStack(t)
	defer cleanup()

	if err := s.UnbindTo(binding.Marker(64)); err == nil {
		t.Fatalf("expected an error for a marker above the current stack pointer")
	}
}

func TestRangeTracksLiveStackOnly(t *testing.T) {
	s, cleanup := newTestStack(t)
	defer cleanup()

	backing, err := memregion.Reserve(memregion.KindStatic, 4096)
	if err != nil {
		t.Fatalf("reserve symbol backing: %v", err)
	}
	defer backing.Release()
	sym := newTestSymbol(backing.Base, 5)

	if _, words := (func() (tagword.Address, uintptr) { return s.Range() })(); words != 0 {
		t.Fatalf("expected empty range before any binding")
	}

	if err := s.Bind(sym, tagword.FixnumEncode(6)); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	_, words := s.Range()
	if words != 2 {
		t.Fatalf("Range words = %d, want 2", words)
	}

	if err := s.Unbind(); err != nil {
		t.Fatalf("Unbind: %v", err)
	}
	_, words = s.Range()
	if words != 0 {
		t.Fatalf("Range words after unbind = %d, want 0", words)
	}
}
