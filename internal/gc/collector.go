package gc

import (
	"heapcore/internal/dispatch"
	"heapcore/internal/memregion"
	"heapcore/internal/tagword"
)

// Root is one range of words the collector must scavenge as a root: a
// thread's control stack, its binding stack, its captured interrupt
// contexts, or a static-space slot holding a dynamic-space reference
// (§4.3 "root set").
type Root struct {
	Name  string
	Start tagword.Address
	Words uintptr
}

// RootSource supplies the current root set at the start of a collection.
// internal/thread (stacks, bindings) and internal/signal (interrupt
// contexts) implement this; Heap itself knows nothing about threads.
type RootSource interface {
	Roots() []Root
}

// Heap owns dynamic space as two ping-pong region pairs — one pair for
// conses, one for header-led objects — and mediates every collection
// between them. Keeping conses and objects in separate regions is not
// just a GC scan-time trick here: the mutator's allocators (AllocCons and
// AllocObject) place new conses and new objects into the active side of
// the matching pair, so
// the same segregation a collection relies on to tell a cons from a
// header apart by address alone holds continuously, not just mid-GC.
type Heap struct {
	tables *dispatch.Tables
	lose   dispatch.Lose

	cons   [2]*memregion.Region
	obj    [2]*memregion.Region
	active int // index of the currently-mutable (from, on the next GC) side

	consAlloc uintptr // bytes allocated so far in cons[active]
	objAlloc  uintptr
}

// NewHeap reserves the cons pair at consSizeBytes per region and the
// object pair at objSizeBytes per region, and returns a Heap ready for
// mutation and collection.
func NewHeap(tables *dispatch.Tables, lose dispatch.Lose, consSizeBytes, objSizeBytes int) (*Heap, error) {
	h := &Heap{tables: tables, lose: lose}
	for i := range h.cons {
		r, err := memregion.Reserve(memregion.KindDynamic, consSizeBytes)
		if err != nil {
			h.release()
			return nil, err
		}
		h.cons[i] = r
	}
	for i := range h.obj {
		r, err := memregion.Reserve(memregion.KindDynamic, objSizeBytes)
		if err != nil {
			h.release()
			return nil, err
		}
		h.obj[i] = r
	}
	return h, nil
}

func (h *Heap) release() {
	for _, r := range h.cons {
		if r != nil {
			r.Release()
		}
	}
	for _, r := range h.obj {
		if r != nil {
			r.Release()
		}
	}
}

// Stats reports what one Collect call did, for internal/diag.
type Stats struct {
	ConsWords   uintptr
	ObjectWords uintptr
	WeakBroken  int
	WeakKept    int
}

// Collect runs one full copying collection: scavenge every root out of
// roots, drain both to-space sub-regions Cheney-style until each scan
// pointer catches its allocation pointer, fix up weak pointers, then
// swap the active side so the just-filled to-space becomes the heap's
// new mutable dynamic space (§4.3-4.5).
func (h *Heap) Collect(roots RootSource) (Stats, error) {
	from := h.active
	to := 1 - h.active

	sp := &semispace{fromCons: h.cons[from], fromObj: h.obj[from], toCons: h.cons[to], toObj: h.obj[to]}

	for _, r := range roots.Roots() {
		h.tables.ScavengeRange(sp, r.Start, r.Words)
	}
	h.drain(sp)

	stats := Stats{ConsWords: sp.toConsAlloc / tagword.WordSize, ObjectWords: sp.toObjAlloc / tagword.WordSize}
	kept, broken := fixupWeak(sp)
	stats.WeakKept, stats.WeakBroken = kept, broken

	h.active = to
	h.consAlloc, h.objAlloc = sp.toConsAlloc, sp.toObjAlloc
	return stats, nil
}

// drain is the Cheney scan: each sub-region has its own scan/alloc
// cursor, and scanning one sub-region can grow either (or both) via
// transport, so the outer loop keeps alternating until both scan
// pointers catch their respective allocation pointers (§4.3 "drains both
// to-space sub-regions to quiescence").
func (h *Heap) drain(sp *semispace) {
	var objScan, consScan uintptr
	for objScan < sp.toObjAlloc || consScan < sp.toConsAlloc {
		for objScan < sp.toObjAlloc {
			addr := sp.toObj.Base + tagword.Address(objScan)
			// ScavengeHeader (not SizeOf) reports the advance: a code
			// object's true length depends on its trailing instruction
			// byte count, which only the registered scavenger — with
			// Space access — can read; SizeOf sees the header word alone
			// and would undercount it (tagword.Size's own doc comment).
			n := h.tables.ScavengeHeader(sp, addr)
			objScan += n * tagword.WordSize
		}
		for consScan < sp.toConsAlloc {
			addr := sp.toCons.Base + tagword.Address(consScan)
			h.tables.ScavengeCons(sp, addr)
			consScan += tagword.ConsWords * tagword.WordSize
		}
	}
}

// AllocCons allocates one cons cell directly in the heap's active
// mutable region (outside collection, unlike semispace.Allocate which
// only ever runs during a scavenge pass).
func (h *Heap) AllocCons(car, cdr tagword.Word) (tagword.Address, error) {
	addr, err := h.bumpAlloc(&h.consAlloc, h.cons[h.active], tagword.ConsWords*tagword.WordSize)
	if err != nil {
		return 0, err
	}
	memregion.WriteWord(addr, car)
	memregion.WriteWord(memregion.WordAt(addr, 1), cdr)
	return addr, nil
}

// AllocObject reserves words words in the heap's active mutable object
// region and returns the base address; the caller writes the header and
// payload.
func (h *Heap) AllocObject(words uintptr) (tagword.Address, error) {
	return h.bumpAlloc(&h.objAlloc, h.obj[h.active], words*tagword.WordSize)
}

func (h *Heap) bumpAlloc(cursor *uintptr, region *memregion.Region, n uintptr) (tagword.Address, error) {
	if *cursor+n > uintptr(len(region.Data)) {
		err := errExhausted{region.Kind.String(), n}
		if h.lose != nil {
			h.lose(err.Error())
		}
		return 0, err
	}
	addr := region.Base + tagword.Address(*cursor)
	*cursor += n
	return addr, nil
}

// ActiveRanges returns the active side's [0, alloc) ranges of both regions, so
// a caller building a RootSource that must itself conservatively scan
// static space can reuse these as the dynamic-space component.
func (h *Heap) ActiveRanges() (consStart tagword.Address, consWords uintptr, objStart tagword.Address, objWords uintptr) {
	return h.cons[h.active].Base, h.consAlloc / tagword.WordSize, h.obj[h.active].Base, h.objAlloc / tagword.WordSize
}

type errExhausted struct {
	kind  string
	bytes uintptr
}

func (e errExhausted) Error() string {
	return "gc: " + e.kind + " space exhausted: need " + itoa(e.bytes) + " more bytes"
}

func itoa(n uintptr) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
