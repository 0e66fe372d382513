// Package purify implements the one-shot precise promotion traversal
// (§4.6): given a read-only-root set and a static-root set, it copies
// every object transitively reachable from them into whichever of the
// read-only or static region its own nature calls for. Dynamic space is
// left in place: purify writes forwarding pointers into the old copies
// there, but neither zeroes the region nor resets its allocation pointer.
//
// It does not reuse internal/dispatch's tables or internal/gc's
// semispace. Purify's target region is a per-object decision (an
// instance's layout can override it, a weak pointer's value slot is
// never followed) that the ordinary two-space scavenge loop has no slot
// for, and its forwarding predicate is its own: a pointer counts as
// forwarded when it lies inside the read-only or static region, which
// only ever grows, never swaps sides (§4.6 "uses its own forwarding
// predicate"). So purify drives a small traversal built directly on
// internal/tagword's classification helpers instead.
package purify

import (
	"errors"
	"fmt"

	"heapcore/internal/arch"
	"heapcore/internal/memregion"
	"heapcore/internal/tagword"
)

// ErrInterruptContextActive is returned when Purify is asked to run
// while some thread has a saved interrupt context on its
// interrupt-context stack (§4.6 "failure mode"). The caller is expected
// to retry once every thread has returned to ordinary execution.
var ErrInterruptContextActive = errors.New("purify: refused: an interrupt context is active")

// Target names which of the two promoted regions an object is destined
// for.
type Target int

const (
	TargetReadOnly Target = iota
	TargetStatic
)

func (t Target) String() string {
	if t == TargetReadOnly {
		return "read-only"
	}
	return "static"
}

// Root is one range of tagged words purify rewrites in place: every
// dynamic-space reference found in it is replaced by the promoted
// reference once resolved.
type Root struct {
	Name  string
	Start tagword.Address
	Words uintptr
}

// Stats reports how much a Purify call promoted.
type Stats struct {
	ReadOnlyWords uintptr
	StaticWords   uintptr
}

// Purifier holds the two promoted regions and the architecture port
// code-object relocation needs. A single value is built once at startup
// (the regions persist for the process's lifetime and only grow, unlike
// internal/gc's to-space, which swaps sides on every collection) and
// reused across every Purify call.
type Purifier struct {
	ro     *memregion.Region
	static *memregion.Region
	port   arch.Port
	lose   func(reason string)

	roAlloc     uintptr
	staticAlloc uintptr
}

// New builds a Purifier over already-reserved read-only and static
// regions. lose may be nil; if set, it is called (in addition to an
// error being returned) whenever purify encounters something it cannot
// promote.
func New(ro, static *memregion.Region, port arch.Port, lose func(reason string)) *Purifier {
	return &Purifier{ro: ro, static: static, port: port, lose: lose}
}

// Purify runs one traversal: every object reachable from roRoots is
// promoted with read-only as its default target, every object reachable
// from staticRoots with static as its default target. An instance's
// layout pure flag (classify.go) can override that default per object.
// Soft refusal: if interruptContextActive is true, purify does nothing
// and returns ErrInterruptContextActive (§4.6 "failure mode"); the
// collector's semispace path is unaffected either way.
func (p *Purifier) Purify(roRoots, staticRoots []Root, interruptContextActive bool) (Stats, error) {
	if interruptContextActive {
		return Stats{}, ErrInterruptContextActive
	}

	q := &deferralQueue{}
	for _, r := range roRoots {
		if err := p.scanRootRange(r.Start, r.Words, TargetReadOnly, q); err != nil {
			return Stats{}, err
		}
	}
	for _, r := range staticRoots {
		if err := p.scanRootRange(r.Start, r.Words, TargetStatic, q); err != nil {
			return Stats{}, err
		}
	}

	// Deferred payload scans run after every root has been seeded, so
	// the main Go stack never grows with the depth of the object graph
	// (§4.6 "maintains a deferral list... to keep the main stack
	// bounded"): each popped item does one object's worth of work and
	// may itself push more.
	for {
		d, ok := q.pop()
		if !ok {
			break
		}
		if err := p.scanPayload(d, q); err != nil {
			return Stats{}, err
		}
	}

	return Stats{
		ReadOnlyWords: p.roAlloc / tagword.WordSize,
		StaticWords:   p.staticAlloc / tagword.WordSize,
	}, nil
}

// ReadOnlyUsed and StaticUsed report the current bump-allocation offset
// in each region, in words, so a caller (e.g. the core loader) can
// resume handing out addresses above what a prior Purify call promoted.
func (p *Purifier) ReadOnlyUsed() uintptr { return p.roAlloc / tagword.WordSize }
func (p *Purifier) StaticUsed() uintptr   { return p.staticAlloc / tagword.WordSize }

func (p *Purifier) scanRootRange(start tagword.Address, words uintptr, target Target, q *deferralQueue) error {
	for i := uintptr(0); i < words; i++ {
		slot := memregion.WordAt(start, int(i))
		w := memregion.ReadWord(slot)
		if tagword.IsFixnum(w) || tagword.IsOtherImmediate(w) {
			continue
		}
		if !tagword.IsPointer(w) {
			continue
		}
		newWord, err := p.resolve(w, target, q)
		if err != nil {
			return err
		}
		if newWord != w {
			memregion.WriteWord(slot, newWord)
		}
	}
	return nil
}

// deferredScan is one unit of deferred work: scan `words` words starting
// `offset` words into the already-promoted object at addr, resolving
// any pointer found toward target.
type deferredScan struct {
	addr   tagword.Address
	offset uintptr
	words  uintptr
	target Target
}

type deferralQueue struct{ items []deferredScan }

func (q *deferralQueue) push(d deferredScan) { q.items = append(q.items, d) }

func (q *deferralQueue) pop() (deferredScan, bool) {
	if len(q.items) == 0 {
		return deferredScan{}, false
	}
	d := q.items[0]
	q.items = q.items[1:]
	return d, true
}

func (p *Purifier) scanPayload(d deferredScan, q *deferralQueue) error {
	base := memregion.WordAt(d.addr, int(d.offset))
	return p.scanRootRange(base, d.words, d.target, q)
}

// resolve rewrites one tagged word: if it already names an object
// resident in a promoted region, it is returned unchanged; if the
// dynamic-space object it names has already been forwarded (by an
// earlier reference, possibly toward a different target), the
// forwarding destination is returned; otherwise the object is promoted
// now.
func (p *Purifier) resolve(w tagword.Word, target Target, q *deferralQueue) (tagword.Word, error) {
	addr := tagword.Untag(w)
	if p.alreadyPromoted(addr) {
		return w, nil
	}
	if dest, ok := p.forwardingOf(addr); ok {
		return dest, nil
	}

	lt := tagword.LowtagOf(w)
	switch lt {
	case tagword.LowtagListPointer:
		return p.promoteCons(addr, target, q)
	case tagword.LowtagFunctionPointer:
		return p.promoteCode(addr, target)
	default:
		return p.promoteHeader(addr, lt, target, q)
	}
}

// alreadyPromoted reports whether addr itself already lives inside one
// of the two promoted regions — a pre-existing resident, not a
// dynamic-space object that still needs forwarding.
func (p *Purifier) alreadyPromoted(addr tagword.Address) bool {
	return p.ro.Contains(addr) || p.static.Contains(addr)
}

// forwardingOf mirrors internal/gc's semispace: the dynamic-space
// object's own base word has been overwritten with a pointer into one of
// the promoted regions.
func (p *Purifier) forwardingOf(addr tagword.Address) (tagword.Word, bool) {
	w := memregion.ReadWord(addr)
	if tagword.IsPointer(w) && p.alreadyPromoted(tagword.Untag(w)) {
		return w, true
	}
	return 0, false
}

func (p *Purifier) setForwarding(addr tagword.Address, dest tagword.Word) {
	memregion.WriteWord(addr, dest)
}

func (p *Purifier) regionFor(t Target) (*memregion.Region, *uintptr) {
	if t == TargetReadOnly {
		return p.ro, &p.roAlloc
	}
	return p.static, &p.staticAlloc
}

func (p *Purifier) allocate(target Target, words uintptr) (tagword.Address, error) {
	region, cursor := p.regionFor(target)
	n := words * tagword.WordSize
	if *cursor+n > uintptr(len(region.Data)) {
		err := fmt.Errorf("purify: %s region exhausted: need %d more bytes", region.Kind, n)
		if p.lose != nil {
			p.lose(err.Error())
		}
		return 0, err
	}
	addr := region.Base + tagword.Address(*cursor)
	*cursor += n
	return addr, nil
}

func copyWords(dst, src tagword.Address, words uintptr) {
	for i := uintptr(0); i < words; i++ {
		w := memregion.ReadWord(memregion.WordAt(src, int(i)))
		memregion.WriteWord(memregion.WordAt(dst, int(i)), w)
	}
}

func (p *Purifier) promoteCons(addr tagword.Address, target Target, q *deferralQueue) (tagword.Word, error) {
	newAddr, err := p.allocate(target, tagword.ConsWords)
	if err != nil {
		return 0, err
	}
	copyWords(newAddr, addr, tagword.ConsWords)
	result := tagword.Retag(newAddr, tagword.LowtagListPointer)
	p.setForwarding(addr, result)
	q.push(deferredScan{addr: newAddr, words: tagword.ConsWords, target: target})
	return result, nil
}

func (p *Purifier) promoteHeader(addr tagword.Address, lt tagword.Lowtag, target Target, q *deferralQueue) (tagword.Word, error) {
	header := memregion.ReadWord(addr)
	wt := tagword.WidetagOf(header)
	switch tagword.ClassOf(wt) {
	case tagword.ClassInstance:
		return p.promoteInstance(addr, lt, target, q)
	case tagword.ClassWeak:
		return p.promoteWeak(addr, lt, target)
	case tagword.ClassBoxed:
		return p.promoteGeneric(addr, lt, target, true, q)
	case tagword.ClassUnboxed:
		return p.promoteGeneric(addr, lt, target, false, q)
	default:
		if p.lose != nil {
			p.lose(fmt.Sprintf("purify: no promotion handler for widetag %#x", wt))
		}
		return tagword.Retag(addr, lt), nil
	}
}

// promoteGeneric copies a boxed or unboxed object verbatim. Boxed
// objects get their payload words deferred for scanning (the vector
// cases — §4.6 "transports vectors by element width... boxed vectors
// are then pscav-recursed" — fall out of this for free, since
// tagword.Size already accounts for element width and ClassOf already
// tells boxed from unboxed vectors apart); unboxed payloads are never
// scanned.
func (p *Purifier) promoteGeneric(addr tagword.Address, lt tagword.Lowtag, target Target, recurse bool, q *deferralQueue) (tagword.Word, error) {
	header := memregion.ReadWord(addr)
	words := tagword.Size(header)
	newAddr, err := p.allocate(target, words)
	if err != nil {
		return 0, err
	}
	copyWords(newAddr, addr, words)
	result := tagword.Retag(newAddr, lt)
	p.setForwarding(addr, result)
	if recurse && words > 1 {
		q.push(deferredScan{addr: newAddr, offset: 1, words: words - 1, target: target})
	}
	return result, nil
}

// promoteWeak copies a weak pointer without ever resolving its value
// slot, for the same reason internal/dispatch's scavengeWeak does not:
// a weak pointer never keeps its referent alive, during purify any more
// than during collection (§4.5, carried into §4.6 by omission — nothing
// in the purifier description revisits that property).
func (p *Purifier) promoteWeak(addr tagword.Address, lt tagword.Lowtag, target Target) (tagword.Word, error) {
	newAddr, err := p.allocate(target, tagword.WeakPointerWords)
	if err != nil {
		return 0, err
	}
	copyWords(newAddr, addr, tagword.WeakPointerWords)
	result := tagword.Retag(newAddr, lt)
	p.setForwarding(addr, result)
	return result, nil
}
