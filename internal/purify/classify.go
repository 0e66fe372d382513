package purify

import (
	"heapcore/internal/memregion"
	"heapcore/internal/tagword"
)

// layoutWordOffset is the payload word (1-based from the object's own
// header) holding an instance's layout pointer — the first payload
// word, the same position internal/gc's Why walk treats no differently
// from any other boxed slot, since ordinary reachability does not care
// which slot is which (internal/gc/why.go). Purify does care, because
// it is the one reader that must single this slot out before the rest
// of the instance's contents.
const layoutWordOffset = 1

// pureFlag is a layout's promotion directive for instances built from
// it (§4.6). The source records this as one of three distinct Lisp
// values — the symbol T, the symbol NIL, and the fixnum 0 — but this
// module has no general symbol table to host T and NIL as first-class
// objects, so a layout's pure-flag slot here holds a small fixnum
// discriminant instead, folding the same three cases into one
// self-contained enumeration.
type pureFlag int

const (
	pureStatic  pureFlag = iota // NIL: mutable-durable, promote to static
	pureReadOnly                // T: constant, promote to read-only
	pureSpecial                 // 0: instance goes to static; contents may promote elsewhere
)

// layoutPureFlagWordOffset is the payload word of a Layout object
// (itself a boxed, non-instance object per tagword.ClassOf) holding its
// pure-flag fixnum — the same first-payload-word convention as
// layoutWordOffset, chosen for the same reason: nothing in the
// distilled spec pins an exact Layout slot order, and reusing the
// position purify already singles out elsewhere needs no new
// bookkeeping to remember.
const layoutPureFlagWordOffset = 1

func pureFlagOf(layoutAddr tagword.Address) pureFlag {
	w := memregion.ReadWord(memregion.WordAt(layoutAddr, layoutPureFlagWordOffset))
	if !tagword.IsFixnum(w) {
		return pureStatic
	}
	switch tagword.FixnumDecode(w) {
	case 1:
		return pureReadOnly
	case 2:
		return pureSpecial
	default:
		return pureStatic
	}
}

// promoteInstance resolves the layout pointer first — §4.6's Open
// Question, decided in SPEC_FULL.md: the layout's own forwarding must be
// resolved before its pure flag is read, since the flag lives in the
// promoted copy, not (necessarily) the original — then uses the flag to
// pick the instance's own target, independent of the target its caller
// was walking toward.
func (p *Purifier) promoteInstance(addr tagword.Address, lt tagword.Lowtag, target Target, q *deferralQueue) (tagword.Word, error) {
	header := memregion.ReadWord(addr)
	words := tagword.Size(header)
	layoutWord := memregion.ReadWord(memregion.WordAt(addr, layoutWordOffset))

	resolvedLayout, err := p.resolve(layoutWord, target, q)
	if err != nil {
		return 0, err
	}
	flag := pureFlagOf(tagword.Untag(resolvedLayout))

	effectiveTarget := target
	switch flag {
	case pureReadOnly:
		effectiveTarget = TargetReadOnly
	case pureStatic, pureSpecial:
		effectiveTarget = TargetStatic
	}

	newAddr, err := p.allocate(effectiveTarget, words)
	if err != nil {
		return 0, err
	}
	copyWords(newAddr, addr, words)
	memregion.WriteWord(memregion.WordAt(newAddr, layoutWordOffset), resolvedLayout)
	result := tagword.Retag(newAddr, lt)
	p.setForwarding(addr, result)

	if words > uintptr(layoutWordOffset)+1 {
		contentsTarget := effectiveTarget
		if flag == pureSpecial {
			// "contents may be promoted" independent of where the
			// instance itself landed.
			contentsTarget = target
		}
		q.push(deferredScan{
			addr:   newAddr,
			offset: layoutWordOffset + 1,
			words:  words - layoutWordOffset - 1,
			target: contentsTarget,
		})
	}
	return result, nil
}
