// Package binding implements the dynamic binding stack (§4.8): a
// per-thread stack of (symbol, previous-value) records that special
// (dynamically scoped) bindings push and pop from, backed by one of the
// four fixed per-thread memory ranges internal/memregion reserves.
package binding

import (
	"fmt"

	"heapcore/internal/dispatch"
	"heapcore/internal/memregion"
	"heapcore/internal/tagword"
)

// recordWords is the size of one binding record: the bound symbol's own
// tagged reference, and the value it held just before this binding took
// effect.
const recordWords = 2

// symbolValueWordOffset is a symbol object's value slot (tagword.Size's
// SymbolWords layout: header, value, function, name, package).
const symbolValueWordOffset = 1

// Marker is an opaque binding-stack position, returned by Stack.Marker
// and consumed by UnbindTo; it is never meaningful to compare across two
// different Stacks.
type Marker uintptr

// Stack is one thread's binding stack. It is not safe for concurrent use
// by more than one goroutine, matching the source's assumption that a
// binding stack belongs to exactly one thread at a time.
type Stack struct {
	region *memregion.Region
	sp     uintptr // bytes in use, from region.Base
	lose   dispatch.Lose
}

// New wraps an already-reserved binding-stack region. lose may be nil;
// if set, it is called in addition to an error being returned whenever
// the stack cannot satisfy a request.
func New(region *memregion.Region, lose dispatch.Lose) *Stack {
	return &Stack{region: region, lose: lose}
}

// Marker returns the stack's current position, suitable for a later
// UnbindTo call that must restore every binding pushed after it.
func (s *Stack) Marker() Marker { return Marker(s.sp) }

// Range returns the live portion of the binding stack, [region.Base,
// region.Base+sp), for a caller building a collector root (§4.3 "root
// set" includes each thread's binding stack) — only the live prefix is
// ever scanned; a popped record sits above it and is invisible to a
// collection regardless of what bytes remain there.
func (s *Stack) Range() (start tagword.Address, words uintptr) {
	return s.region.Base, s.sp / tagword.WordSize
}

// Bind pushes (symbol, symbol's current value) and stores newValue into
// the symbol's value slot (§4.8 "bind"). symbol must be an
// other-pointer-tagged reference to a symbol object.
func (s *Stack) Bind(symbol tagword.Word, newValue tagword.Word) error {
	need := uintptr(recordWords) * tagword.WordSize
	if s.sp+need > uintptr(len(s.region.Data)) {
		err := fmt.Errorf("binding: stack exhausted: need %d more bytes", need)
		if s.lose != nil {
			s.lose(err.Error())
		}
		return err
	}
	symAddr := tagword.Untag(symbol)
	current := memregion.ReadWord(memregion.WordAt(symAddr, symbolValueWordOffset))

	rec := s.region.Base + tagword.Address(s.sp)
	memregion.WriteWord(rec, symbol)
	memregion.WriteWord(memregion.WordAt(rec, 1), current)
	memregion.WriteWord(memregion.WordAt(symAddr, symbolValueWordOffset), newValue)

	s.sp += need
	return nil
}

// Unbind pops the most recent binding, restoring its saved value into
// the symbol and clearing the record's symbol field so a conservative
// root walk over the stack's reserved-but-unused tail never mistakes
// stale bytes for a live reference (§4.8 "unbind"). The now-stale saved
// value is cleared too, for the same reason.
func (s *Stack) Unbind() error {
	if s.sp == 0 {
		return fmt.Errorf("binding: unbind called on an empty stack")
	}
	s.sp -= uintptr(recordWords) * tagword.WordSize
	rec := s.region.Base + tagword.Address(s.sp)

	symWord := memregion.ReadWord(rec)
	savedValue := memregion.ReadWord(memregion.WordAt(rec, 1))
	if tagword.IsPointer(symWord) {
		symAddr := tagword.Untag(symWord)
		memregion.WriteWord(memregion.WordAt(symAddr, symbolValueWordOffset), savedValue)
	}

	memregion.WriteWord(rec, 0)
	memregion.WriteWord(memregion.WordAt(rec, 1), 0)
	return nil
}

// UnbindTo pops records until the stack pointer reaches m, restoring
// each one exactly once (§4.8 invariant: "after unbind_to(m) returns,
// the binding stack pointer equals m, and each symbol popped observes
// its value restored exactly once"). It refuses a marker that does not
// land on a record boundary or that names a position above the current
// stack pointer, rather than silently rounding.
func (s *Stack) UnbindTo(m Marker) error {
	target := uintptr(m)
	if target > s.sp {
		return fmt.Errorf("binding: unbind_to marker %d is above the current stack pointer %d", target, s.sp)
	}
	if (s.sp-target)%(uintptr(recordWords)*tagword.WordSize) != 0 {
		return fmt.Errorf("binding: unbind_to marker %d does not land on a record boundary", target)
	}
	for s.sp > target {
		if err := s.Unbind(); err != nil {
			return err
		}
	}
	return nil
}
