// Package arch isolates everything the rest of this module needs that
// differs by target CPU architecture: decoding a code object's
// instruction stream to find embedded relative-branch displacements
// (internal/codereloc's fixup pass), stepping a program counter past one
// trapping instruction (internal/signal), and flushing the instruction
// cache after either rewrites executable memory (§6).
package arch

import "heapcore/internal/tagword"

// Port is one architecture's hooks. internal/codereloc and
// internal/signal depend only on this interface, never on a specific
// port, so adding a target is a matter of implementing Port and
// registering it in the table below — never a change to either caller.
type Port interface {
	// Name identifies the port for diagnostics ("amd64", "arm64", ...).
	Name() string

	// CodeFixups scans instructions (the unboxed machine-code payload of
	// one code object, already copied to its new location) and returns
	// the byte offsets of every embedded relative-branch operand that may
	// need adjusting by the object's relocation displacement;
	// internal/codereloc reads and rewrites a 4-byte little-endian signed
	// byte displacement at each returned offset.
	CodeFixups(instructions []byte) []int

	// InstructionLength returns the length in bytes of the single
	// instruction starting at pc, so a trap handler can step past it.
	InstructionLength(pc []byte) int

	// RegisterNames lists every architectural register a fake foreign
	// frame (internal/signal) must save before it can be safely entered,
	// in save order.
	RegisterNames() []string

	// FlushICache makes n bytes of freshly written instructions at addr
	// visible to the instruction fetch path, on targets where that is
	// not automatic (§4.4, §6).
	FlushICache(addr tagword.Address, n int)
}

// ByName returns the registered Port for name, or nil if name is not a
// supported target.
func ByName(name string) Port {
	return ports[name]
}

var ports = map[string]Port{}

func register(p Port) { ports[p.Name()] = p }
