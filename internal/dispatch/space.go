// Package dispatch implements the three parallel widetag-indexed tables
// (§4.2) — scavenge, transport, size — and the word-level scavenge loop
// (§4.3) that drives them. It is deliberately self-contained: it knows
// nothing about roots, weak-pointer post-processing, or purify's separate
// traversal (those live in internal/gc and internal/purify), only how to
// walk a range of words and copy objects forward into to-space.
package dispatch

import "heapcore/internal/tagword"

// Space is what the scavenge loop needs from a collector generation: read
// and write words, recognize from-space membership, install and query
// forwarding pointers, allocate copies, and record weak pointers for
// later fixup. internal/gc's semispace type implements this; dispatch
// itself never constructs one.
type Space interface {
	Read(addr tagword.Address) tagword.Word
	Write(addr tagword.Address, w tagword.Word)

	// InFromSpace reports whether addr names a word that still lives in
	// the generation being collected out of.
	InFromSpace(addr tagword.Address) bool

	// ForwardingOf returns the destination word previously installed at
	// addr by SetForwarding, if any.
	ForwardingOf(addr tagword.Address) (tagword.Word, bool)

	// SetForwarding marks the from-space object at addr as transported,
	// recording where it went. The slot-zero word at addr becomes dest
	// so that later readers (§3 invariant) recognize the forwarding
	// pointer by it being itself a to-space pointer.
	SetForwarding(addr tagword.Address, dest tagword.Word)

	// Allocate copies words words starting at src into a fresh object in
	// to-space and returns the new object's base address. class selects
	// which to-space sub-region receives the copy — conses and
	// header-bearing objects are kept in separate sub-regions so the
	// collector's scan driver always knows which it is looking at without
	// needing a header to tell them apart. Allocate does not tag the
	// result or install forwarding; callers do both.
	Allocate(src tagword.Address, words uintptr, class tagword.Class) tagword.Address

	// RecordWeak appends the to-space copy of a weak pointer (found at
	// newAddr) to the per-collection weak list for post-scavenge fixup
	// (§4.5).
	RecordWeak(newAddr tagword.Address)
}

// Lose is called when the tables encounter a condition the source treats
// as an unrecoverable corruption: a missing dispatch entry, or a widetag
// the tables were never told how to handle.
type Lose func(reason string)

// ScavengeFn updates the slot-range starting at the header word addr and
// returns how many words the object there occupies, including its
// header.
type ScavengeFn func(t *Tables, sp Space, addr tagword.Address) uintptr

// TransportFn copies the object tagged by ref into to-space and returns
// its new tagged reference.
type TransportFn func(t *Tables, sp Space, ref tagword.Word) tagword.Word

// SizeFn returns an object's length in words from its header word alone.
type SizeFn func(headerWord tagword.Word) uintptr
