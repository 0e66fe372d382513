// Package gc implements the copying collector core (§4.3-4.5, §8): root
// enumeration, the scavenge/transport drive loop built on top of
// internal/dispatch, list linearization (delegated to internal/dispatch,
// which owns the per-widetag mechanics), and weak-pointer fixup.
//
// Conses have no header word, so a scan that walks new-space content
// blindly cannot tell a cons from a header-led object by looking at its
// first word alone. Rather than requiring one, this collector keeps two
// separate to-space buffers — one for conses, one for everything
// header-led — so the Cheney-style scan driver (collector.go) always
// knows which kind of object it is looking at.
package gc

import (
	"fmt"

	"heapcore/internal/dispatch"
	"heapcore/internal/memregion"
	"heapcore/internal/tagword"
)

// semispace is the dispatch.Space implementation the collector drives.
// One value is constructed per collection and discarded afterward. Both
// from-space and to-space are themselves segregated into a cons region
// and an object region — from-space arrives that way because it is
// last collection's to-space (or the mutator's initial segregated
// allocation areas), so no merge step is ever needed between
// collections, and no pointer embedded in a survivor is ever left
// dangling at a region boundary that later disappears.
type semispace struct {
	fromCons *memregion.Region
	fromObj  *memregion.Region

	toCons      *memregion.Region
	toConsAlloc uintptr // bytes allocated so far

	toObj      *memregion.Region
	toObjAlloc uintptr

	weak []tagword.Address // to-space addresses of copied weak pointers, for fixupWeak
}

func (s *semispace) Read(addr tagword.Address) tagword.Word {
	return memregion.ReadWord(addr)
}

func (s *semispace) Write(addr tagword.Address, w tagword.Word) {
	memregion.WriteWord(addr, w)
}

func (s *semispace) InFromSpace(addr tagword.Address) bool {
	return s.fromCons.Contains(addr) || s.fromObj.Contains(addr)
}

func (s *semispace) inToSpace(addr tagword.Address) bool {
	return s.toCons.Contains(addr) || s.toObj.Contains(addr)
}

// ForwardingOf implements the §3 invariant directly: a from-space
// object's forwarding pointer is recognized because the word now stored
// at its own base is itself a pointer into to-space. Before any object
// is forwarded this is not true of any live object: to-space is either
// freshly reserved (first collection) or the side the previous
// collection copied everything out of, so no live reference names it.
func (s *semispace) ForwardingOf(addr tagword.Address) (tagword.Word, bool) {
	w := s.Read(addr)
	if tagword.IsPointer(w) && s.inToSpace(tagword.Untag(w)) {
		return w, true
	}
	return 0, false
}

// SetForwarding overwrites the from-space object's base word with dest,
// which is how later readers recognize it as forwarded.
func (s *semispace) SetForwarding(addr tagword.Address, dest tagword.Word) {
	s.Write(addr, dest)
}

func (s *semispace) Allocate(src tagword.Address, words uintptr, class tagword.Class) tagword.Address {
	n := words * tagword.WordSize
	var region *memregion.Region
	var offset uintptr
	if class == tagword.ClassCons {
		region, offset = s.toCons, s.toConsAlloc
		s.toConsAlloc += n
	} else {
		region, offset = s.toObj, s.toObjAlloc
		s.toObjAlloc += n
	}
	if offset+n > uintptr(len(region.Data)) {
		panic(fmt.Sprintf("gc: to-space %s exhausted: need %d more bytes at offset %d of %d", region.Kind, n, offset, len(region.Data)))
	}
	dst := region.Base + tagword.Address(offset)
	for i := uintptr(0); i < words; i++ {
		w := memregion.ReadWord(memregion.WordAt(src, int(i)))
		memregion.WriteWord(memregion.WordAt(dst, int(i)), w)
	}
	return dst
}

func (s *semispace) RecordWeak(newAddr tagword.Address) {
	s.weak = append(s.weak, newAddr)
}

var _ dispatch.Space = (*semispace)(nil)
