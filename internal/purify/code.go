package purify

import (
	"heapcore/internal/codereloc"
	"heapcore/internal/memregion"
	"heapcore/internal/tagword"
)

// Code-object handling mirrors internal/codereloc's layout exactly
// (header, boxed constants, fixnum entry count, packed SimpleFunEntry
// table, fixnum instruction length, raw instructions): a code object
// purify promotes must remain byte-compatible with one the collector
// might later transport, since nothing marks a code object as
// "promoted by purify" versus "copied by a collection" — §4.6's "no
// dangling reference" property has to hold across both paths. Only the
// destination region and the forwarding predicate differ; the entry
// field offsets below are internal/codereloc's own (entry.go), just not
// exported from that package.
const (
	entrySelfOffset      = 1
	entryBackWordsOffset = 3
)

func entryWord(base tagword.Address, fieldOffset uintptr) tagword.Address {
	return base + tagword.Address(fieldOffset*tagword.WordSize)
}

func codeLayout(codeAddr tagword.Address) (n, k, total uintptr) {
	header := memregion.ReadWord(codeAddr)
	n = tagword.HeaderLength(header)
	kWord := memregion.ReadWord(memregion.WordAt(codeAddr, int(1+n)))
	k = uintptr(tagword.FixnumDecode(kWord))
	insnLenAddr := memregion.WordAt(codeAddr, int(1+n+1+codereloc.SimpleFunEntryWords*k))
	insnBytes := uintptr(tagword.FixnumDecode(memregion.ReadWord(insnLenAddr)))
	insnWords := (insnBytes + tagword.WordSize - 1) / tagword.WordSize
	total = 1 + n + 1 + codereloc.SimpleFunEntryWords*k + 1 + insnWords
	return
}

// promoteCode resolves a function-pointer reference, which always names
// a SimpleFunEntry rather than the code header (§4.4, carried into
// §4.6). If the entry has already been forwarded this is a lookup;
// otherwise the enclosing code object is located via the entry's
// back-offset field and copied whole, every entry (including this one)
// gets its self pointer and forwarding installed, and the boxed constants
// are scanned through a deferral queue that is drained before returning.
func (p *Purifier) promoteCode(addr tagword.Address, target Target) (tagword.Word, error) {
	if dest, ok := p.forwardingOf(addr); ok {
		return dest, nil
	}

	backWords := tagword.FixnumDecode(memregion.ReadWord(entryWord(addr, entryBackWordsOffset)))
	codeAddr := addr - tagword.Address(backWords*int64(tagword.WordSize))

	if _, ok := p.forwardingOf(codeAddr); !ok {
		if err := p.copyCodeObject(codeAddr, target); err != nil {
			return 0, err
		}
	}
	dest, ok := p.forwardingOf(addr)
	if !ok {
		if p.lose != nil {
			p.lose("purify: promoted code object has no forwarding pointer at the referenced entry")
		}
		return tagword.Retag(addr, tagword.LowtagFunctionPointer), nil
	}
	return dest, nil
}

func (p *Purifier) copyCodeObject(codeAddr tagword.Address, target Target) error {
	n, k, total := codeLayout(codeAddr)
	newAddr, err := p.allocate(target, total)
	if err != nil {
		return err
	}
	copyWords(newAddr, codeAddr, total)
	displacement := int64(newAddr) - int64(codeAddr)

	p.setForwarding(codeAddr, tagword.Retag(newAddr, tagword.LowtagOtherPointer))

	for i := uintptr(0); i < k; i++ {
		oldEntry := memregion.WordAt(codeAddr, int(1+n+1+i*codereloc.SimpleFunEntryWords))
		newEntry := memregion.WordAt(newAddr, int(1+n+1+i*codereloc.SimpleFunEntryWords))
		newSelf := tagword.Retag(newEntry, tagword.LowtagFunctionPointer)
		memregion.WriteWord(entryWord(newEntry, entrySelfOffset), newSelf)
		p.setForwarding(oldEntry, newSelf)
	}

	p.fixupInstructions(newAddr, n, k, displacement)

	q := &deferralQueue{}
	q.push(deferredScan{addr: newAddr, offset: 1, words: n, target: target})
	for d, ok := q.pop(); ok; d, ok = q.pop() {
		if err := p.scanPayload(d, q); err != nil {
			return err
		}
	}
	return nil
}

// fixupInstructions re-biases every out-of-object branch the
// architecture port identifies, exactly as internal/codereloc does for
// a collection-time move: a uniform translation leaves intra-object
// relative branches self-correcting, so only a branch whose current
// target now falls outside the object's own (old) range needs its
// displacement adjusted.
func (p *Purifier) fixupInstructions(newAddr tagword.Address, n, k uintptr, displacement int64) {
	if p.port == nil {
		return
	}
	insnLenAddr := memregion.WordAt(newAddr, int(1+n+1+k*codereloc.SimpleFunEntryWords))
	insnBytes := uintptr(tagword.FixnumDecode(memregion.ReadWord(insnLenAddr)))
	if insnBytes == 0 {
		return
	}
	insnStart := memregion.WordAt(newAddr, int(1+n+1+k*codereloc.SimpleFunEntryWords+1))
	oldInsnStart := insnStart - tagword.Address(displacement)

	buf := memregion.Bytes(insnStart, int(insnBytes))
	objWordsBeforeInsns := 1 + n + 1 + k*codereloc.SimpleFunEntryWords + 1
	objStart := int64(oldInsnStart) - int64(objWordsBeforeInsns*tagword.WordSize)
	objEnd := int64(oldInsnStart) + int64(insnBytes)

	for _, offset := range p.port.CodeFixups(buf) {
		if offset+4 > len(buf) {
			continue
		}
		rel := int32(le32(buf[offset:]))
		insnEndOld := int64(oldInsnStart) + int64(offset) + 4
		target := insnEndOld + int64(rel)
		if target >= objStart && target < objEnd {
			continue
		}
		newRel := rel - int32(displacement)
		putLE32(buf[offset:], uint32(newRel))
	}
	p.port.FlushICache(insnStart, len(buf))
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
