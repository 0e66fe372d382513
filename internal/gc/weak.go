package gc

import "heapcore/internal/tagword"

// weakValueOffset and weakBrokenOffset are the word offsets of a weak
// pointer's value slot and broken flag relative to its base: word 0 is
// the header, word 1 the value, word 2 the broken flag (§4.4
// WeakPointerWords).
const (
	weakValueOffset  = 1
	weakBrokenOffset = 2
)

// fixupWeak runs once the main scavenge pass has fully quiesced (every
// strongly reachable object has been transported), over every weak
// pointer transportWeak recorded during the pass. A weak pointer's value
// slot was deliberately left unscavenged, so at this point it still holds
// whatever from-space reference the original pointed at: if scavenging
// everything else happened to transport that referent anyway (because it
// was also strongly reachable via some other path), the referent now
// carries a forwarding pointer and the weak pointer is updated to follow
// it; otherwise nothing else kept it alive, and the slot is broken
// (§4.5 "exactly the strongly reachable objects survive; a weak pointer
// is updated to track its referent only when that referent would have
// survived anyway").
func fixupWeak(sp *semispace) (kept, broken int) {
	for _, addr := range sp.weak {
		slot := addr + weakValueOffset*tagword.WordSize
		v := sp.Read(slot)

		if !tagword.IsPointer(v) {
			kept++ // an immediate value in the slot is never subject to reclamation
			continue
		}
		target := tagword.Untag(v)
		if !sp.InFromSpace(target) {
			kept++ // already points outside the generation being collected (e.g. static space)
			continue
		}
		if dest, ok := sp.ForwardingOf(target); ok {
			sp.Write(slot, dest)
			kept++
			continue
		}
		sp.Write(slot, tagword.BrokenWeakValue)
		sp.Write(addr+weakBrokenOffset*tagword.WordSize, tagword.FixnumEncode(1))
		broken++
	}
	return kept, broken
}
