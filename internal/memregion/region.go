// Package memregion implements the OS interface's memory-validation
// responsibilities (§6): reserving address ranges for read-only,
// static, dynamic, binding, control, alien, and thread-local-slot
// ranges, and changing their protection. Reserve lets the OS choose each
// range's address. Nothing in this module calls Protect or ProtectRange,
// so promoted pages stay writable and thread stacks have no guard pages.
package memregion

import (
	"fmt"

	"golang.org/x/sys/unix"

	"heapcore/internal/tagword"
)

// Kind names which of the fixed logical address ranges a Region backs
// (§3 "Object regions").
type Kind int

const (
	KindReadOnly Kind = iota
	KindStatic
	KindDynamic
	KindControlStack
	KindBindingStack
	KindAlienStack
	KindThreadLocal
)

func (k Kind) String() string {
	switch k {
	case KindReadOnly:
		return "read-only"
	case KindStatic:
		return "static"
	case KindDynamic:
		return "dynamic"
	case KindControlStack:
		return "control-stack"
	case KindBindingStack:
		return "binding-stack"
	case KindAlienStack:
		return "alien-stack"
	case KindThreadLocal:
		return "thread-local"
	default:
		return "unknown"
	}
}

// Region is one reserved, contiguous address range.
type Region struct {
	Kind Kind
	Data []byte // mmap'd backing memory; Data[0]'s address is Base
	Base tagword.Address
}

// Reserve maps sizeBytes of anonymous, zero-filled memory for kind and
// returns a Region describing it. sizeBytes is rounded up to a whole
// number of words by the caller; Reserve itself only requires page
// alignment, which mmap guarantees.
func Reserve(kind Kind, sizeBytes int) (*Region, error) {
	if sizeBytes <= 0 {
		return nil, fmt.Errorf("memregion: Reserve(%s): size must be positive, got %d", kind, sizeBytes)
	}
	data, err := unix.Mmap(-1, 0, sizeBytes, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("memregion: Reserve(%s, %d bytes): %w", kind, sizeBytes, err)
	}
	return &Region{
		Kind: kind,
		Data: data,
		Base: addressOf(data),
	}, nil
}

// Release unmaps the region. Callers must not touch r after Release
// returns.
func (r *Region) Release() error {
	if r.Data == nil {
		return nil
	}
	err := unix.Munmap(r.Data)
	r.Data = nil
	if err != nil {
		return fmt.Errorf("memregion: Release(%s): %w", r.Kind, err)
	}
	return nil
}

// Protect changes the page protection of the whole region.
func (r *Region) Protect(prot Protection) error {
	if err := unix.Mprotect(r.Data, int(prot)); err != nil {
		return fmt.Errorf("memregion: Protect(%s, %v): %w", r.Kind, prot, err)
	}
	return nil
}

// ProtectRange changes the protection of a sub-range [offset, offset+n)
// of the region, such as a single guard page rather than an entire
// stack.
func (r *Region) ProtectRange(offset, n int, prot Protection) error {
	if offset < 0 || n < 0 || offset+n > len(r.Data) {
		return fmt.Errorf("memregion: ProtectRange(%s): range [%d,%d) out of bounds (len %d)", r.Kind, offset, offset+n, len(r.Data))
	}
	if err := unix.Mprotect(r.Data[offset:offset+n], int(prot)); err != nil {
		return fmt.Errorf("memregion: ProtectRange(%s): %w", r.Kind, err)
	}
	return nil
}

// Protection mirrors the PROT_* constants the OS interface exposes
// (§6 "changing page protections").
type Protection int

const (
	ProtNone      Protection = unix.PROT_NONE
	ProtRead      Protection = unix.PROT_READ
	ProtReadWrite Protection = unix.PROT_READ | unix.PROT_WRITE
	ProtExec      Protection = unix.PROT_READ | unix.PROT_EXEC
)

// Contains reports whether addr falls within the region's byte range.
func (r *Region) Contains(addr tagword.Address) bool {
	end := r.Base + tagword.Address(len(r.Data))
	return addr >= r.Base && addr < end
}

// End returns the address one past the end of the region.
func (r *Region) End() tagword.Address {
	return r.Base + tagword.Address(len(r.Data))
}
