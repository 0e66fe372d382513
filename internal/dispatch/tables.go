package dispatch

import "heapcore/internal/tagword"

// Tables holds the three widetag-indexed dispatch tables plus the two
// pieces of machinery every pointer lowtag ultimately needs: a way to
// transport a code object as a relocatable unit (internal/codereloc,
// injected to avoid an import cycle) and the fatal-error sink.
type Tables struct {
	scavenge [256]ScavengeFn
	transport [256]TransportFn
	size      [256]SizeFn

	// TransportCode copies a whole code object (header, boxed constants,
	// unboxed instructions) and rewrites entry-point self pointers; set
	// by internal/codereloc during wiring (§4.4).
	TransportCode TransportFn

	Lose Lose
}

// Init builds the three tables per the §4.2 initialization policy: every
// slot starts as "lose", and then each header-bearing widetag's own
// triple overrides that default. No table entries are installed for the
// four pointer lowtags: ScavengeRange recognizes a pointer word itself
// and routes it through scavengePointer, so only header words ever reach
// the tables.
func Init(lose Lose, transportCode TransportFn) *Tables {
	t := &Tables{Lose: lose, TransportCode: transportCode}

	losingScavenge := func(tb *Tables, sp Space, addr tagword.Address) uintptr {
		header := sp.Read(addr)
		tb.Lose(lossReason("scavenge", header))
		return 1
	}
	losingTransport := func(tb *Tables, sp Space, ref tagword.Word) tagword.Word {
		tb.Lose(lossReason("transport", ref))
		return ref
	}
	losingSize := func(headerWord tagword.Word) uintptr {
		return 1
	}
	for i := range t.scavenge {
		t.scavenge[i] = losingScavenge
		t.transport[i] = losingTransport
		t.size[i] = losingSize
	}

	installHeaderTriples(t)
	return t
}

func lossReason(op string, w tagword.Word) string {
	return op + ": no dispatch entry for widetag " + widetagHex(tagword.WidetagOf(w))
}

func widetagHex(wt tagword.Widetag) string {
	const hex = "0123456789abcdef"
	return string([]byte{'0', 'x', hex[wt>>4], hex[wt&0xf]})
}

// ScavengeHeader dispatches to the installed scavenger for the header
// word at addr, advancing by its reported length. It is the "otherwise it
// must be a header word" branch of §4.3.
func (t *Tables) ScavengeHeader(sp Space, addr tagword.Address) uintptr {
	header := sp.Read(addr)
	wt := tagword.WidetagOf(header)
	return t.scavenge[wt](t, sp, addr)
}

// TransportByWidetag dispatches to the installed transporter for the
// header-bearing object that ref (already known to be a from-space
// pointer) names.
func (t *Tables) TransportByWidetag(sp Space, ref tagword.Word) tagword.Word {
	header := sp.Read(tagword.Untag(ref))
	wt := tagword.WidetagOf(header)
	return t.transport[wt](t, sp, ref)
}

// SizeOf returns the table's recorded size for headerWord's widetag.
func (t *Tables) SizeOf(headerWord tagword.Word) uintptr {
	return t.size[tagword.WidetagOf(headerWord)](headerWord)
}

// SetHandler overrides the triple installed for wt. internal/codereloc
// uses this to wire the code-object scavenger/transporter after Init,
// since the code relocator needs an arch port and would otherwise create
// an import cycle with this package.
func (t *Tables) SetHandler(wt tagword.Widetag, s ScavengeFn, tr TransportFn, sz SizeFn) {
	if s != nil {
		t.scavenge[wt] = s
	}
	if tr != nil {
		t.transport[wt] = tr
	}
	if sz != nil {
		t.size[wt] = sz
	}
}

// ScavengeRange walks the n words starting at start, updating every
// pointer slot that still points into from-space (§4.3). It is the one
// entry point internal/gc calls for every root.
func (t *Tables) ScavengeRange(sp Space, start tagword.Address, n uintptr) {
	addr := start
	end := start + tagword.Address(n)*tagword.Address(tagword.WordSize)
	for addr < end {
		w := sp.Read(addr)
		switch {
		case tagword.IsFixnum(w), tagword.IsOtherImmediate(w):
			addr += tagword.Address(tagword.WordSize)

		case tagword.IsPointer(w):
			newWord := t.scavengePointer(sp, w)
			if newWord != w {
				sp.Write(addr, newWord)
			}
			addr += tagword.Address(tagword.WordSize)

		default:
			words := t.ScavengeHeader(sp, addr)
			if words == 0 {
				words = 1
			}
			addr += tagword.Address(words) * tagword.Address(tagword.WordSize)
		}
	}
}

// scavengePointer resolves one pointer word: if it already points outside
// from-space, it is left untouched; if its target already carries a
// forwarding pointer, the slot is rewritten to the forwarding
// destination; otherwise the target is transported and a forwarding
// pointer installed, converging every later reference (§8 "forwarding
// idempotence").
func (t *Tables) scavengePointer(sp Space, w tagword.Word) tagword.Word {
	target := tagword.Untag(w)
	if !sp.InFromSpace(target) {
		return w
	}
	if dest, ok := sp.ForwardingOf(target); ok {
		return dest
	}

	// Every branch below is responsible for installing its own
	// forwarding pointer(s): a cons chain installs one per linearized
	// cell, and a code object installs one per contained simple-fun, not
	// just one for the word being chased right now.
	lt := tagword.LowtagOf(w)
	switch lt {
	case tagword.LowtagListPointer:
		return t.transportCons(sp, w)
	case tagword.LowtagFunctionPointer:
		return t.TransportCode(t, sp, w)
	default: // instance-pointer, other-pointer
		return t.TransportByWidetag(sp, w)
	}
}
