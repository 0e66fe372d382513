package dispatch

import "heapcore/internal/tagword"

// scavengeBoxed walks every payload word of a boxed, header-led object
// through the generic loop, so any pointer among its slots is itself
// scavenged (§4.2 "a boxed object's scavenger walks all header-length
// payload words via the generic scavenge loop").
func scavengeBoxed(t *Tables, sp Space, addr tagword.Address) uintptr {
	header := sp.Read(addr)
	n := tagword.HeaderLength(header)
	payload := addr + tagword.Address(tagword.WordSize)
	t.ScavengeRange(sp, payload, n)
	return n + 1
}

// scavengeFixed is scavengeBoxed specialized for kinds whose total word
// count (§4.1 Size) differs from 1+HeaderLength — symbols, fdefns, value
// cells. The payload word count scavenged is total size minus the header
// word.
func scavengeFixed(t *Tables, sp Space, addr tagword.Address) uintptr {
	header := sp.Read(addr)
	words := tagword.Size(header)
	payload := addr + tagword.Address(tagword.WordSize)
	t.ScavengeRange(sp, payload, words-1)
	return words
}

// scavengeUnboxed advances past an unboxed object's payload without
// following anything inside it: the scavenger "merely advances past
// header-length payload words" (§4.2).
func scavengeUnboxed(t *Tables, sp Space, addr tagword.Address) uintptr {
	return tagword.Size(sp.Read(addr))
}

// scavengeWeak advances past a weak pointer without following its value
// slot (§4.4, §4.5): weak pointers never keep their referent alive.
func scavengeWeak(t *Tables, sp Space, addr tagword.Address) uintptr {
	return tagword.WeakPointerWords
}

// transportGeneric performs a verbatim word-for-word copy of an object
// into to-space and installs a forwarding pointer at its old location.
// It is shared by every class whose transport step is "copy, nothing
// more": boxed, unboxed, and instance objects. The recursive-looking
// work (following pointers inside the copy) happens later, when the
// collector's scan pointer reaches the copy's header — not here.
func transportGeneric(class tagword.Class) TransportFn {
	return func(t *Tables, sp Space, ref tagword.Word) tagword.Word {
		oldAddr := tagword.Untag(ref)
		header := sp.Read(oldAddr)
		words := tagword.Size(header)
		newAddr := sp.Allocate(oldAddr, words, class)
		result := tagword.Retag(newAddr, tagword.LowtagOf(ref))
		sp.SetForwarding(oldAddr, result)
		return result
	}
}

// transportWeak copies a weak pointer but does not scavenge its value
// slot, then records the copy so internal/gc can post-process it once
// the main scavenge pass quiesces (§4.4, §4.5).
func transportWeak(t *Tables, sp Space, ref tagword.Word) tagword.Word {
	oldAddr := tagword.Untag(ref)
	newAddr := sp.Allocate(oldAddr, tagword.WeakPointerWords, tagword.ClassWeak)
	result := tagword.Retag(newAddr, tagword.LowtagOf(ref))
	sp.SetForwarding(oldAddr, result)
	sp.RecordWeak(newAddr)
	return result
}

// transportCons copies a from-space cons and then linearizes: while the
// cdr still names an unforwarded from-space cons, it is copied
// immediately following in new space and chained, so a list that was
// scattered in from-space occupies consecutive cells in to-space (§4.4,
// §8 "list linearization"). It terminates on a non-cons cdr, a cdr
// outside from-space, or an already-forwarded cdr — forwarding a cell
// before recursing into what follows it, so a circular list terminates
// the loop via the "already forwarded" check rather than looping forever.
func (t *Tables) transportCons(sp Space, ref tagword.Word) tagword.Word {
	firstAddr := tagword.Untag(ref)
	firstNew := t.copyOneCons(sp, firstAddr)
	firstResult := tagword.Retag(firstNew, tagword.LowtagListPointer)

	curOld, curNew := firstAddr, firstNew
	for {
		cdr := sp.Read(curOld + tagword.Address(tagword.WordSize))
		if tagword.LowtagOf(cdr) != tagword.LowtagListPointer {
			break
		}
		nextOld := tagword.Untag(cdr)
		if !sp.InFromSpace(nextOld) {
			break
		}
		if _, already := sp.ForwardingOf(nextOld); already {
			break
		}
		nextNew := t.copyOneCons(sp, nextOld)
		// Chain: the cell just copied at curNew now points at nextNew.
		sp.Write(curNew+tagword.Address(tagword.WordSize), tagword.Retag(nextNew, tagword.LowtagListPointer))
		curOld, curNew = nextOld, nextNew
	}
	return firstResult
}

// copyOneCons allocates and copies a single from-space cons, installing
// its forwarding pointer, and returns the new (untagged) address.
func (t *Tables) copyOneCons(sp Space, oldAddr tagword.Address) tagword.Address {
	newAddr := sp.Allocate(oldAddr, tagword.ConsWords, tagword.ClassCons)
	sp.SetForwarding(oldAddr, tagword.Retag(newAddr, tagword.LowtagListPointer))
	return newAddr
}

// ScavengeCons scavenges the two words (car, cdr) of a cons already
// copied into to-space. Conses carry no header, so the collector's scan
// driver (internal/gc) calls this directly rather than through the
// widetag tables.
func (t *Tables) ScavengeCons(sp Space, addr tagword.Address) {
	t.ScavengeRange(sp, addr, tagword.ConsWords)
}
