package codereloc

import (
	"heapcore/internal/arch"
	"heapcore/internal/dispatch"
	"heapcore/internal/tagword"
)

// Relocator transports code objects for one architecture. It holds no
// per-collection state; a single value is wired into a dispatch.Tables
// once at startup and reused for every collection thereafter.
type Relocator struct {
	port arch.Port
}

// New builds a Relocator for port, which decodes instruction streams and
// flushes the icache for whatever target the runtime is hosted on.
func New(port arch.Port) *Relocator {
	return &Relocator{port: port}
}

// Wire installs this relocator into tables: TransportCode is the field
// scavengePointer calls directly for every function-pointer-tagged
// reference (§4.4 resolves via the function-pointer lowtag, never via
// the widetag transport table), while the code widetag's own
// scavenge/size entries are reached during the Cheney drain once a code
// object has already been copied into to-space. internal/dispatch.Init
// cannot wire either of these itself without importing internal/arch,
// which would cycle back into this package.
func (r *Relocator) Wire(tables *dispatch.Tables) {
	tables.TransportCode = r.transportCode
	tables.SetHandler(tagword.WidetagCodeHeader, r.scavengeCodeHeader, nil, r.sizeCodeHeader)
}

func (r *Relocator) layout(sp dispatch.Space, codeAddr tagword.Address) (n, k, total uintptr) {
	header := sp.Read(codeAddr)
	n = tagword.HeaderLength(header)
	kWord := sp.Read(codeAddr + tagword.Address((1+n)*tagword.WordSize))
	k = uintptr(tagword.FixnumDecode(kWord))
	insnLenAddr := codeAddr + tagword.Address((1+n+1+SimpleFunEntryWords*k)*tagword.WordSize)
	insnBytes := uintptr(tagword.FixnumDecode(sp.Read(insnLenAddr)))
	insnWords := (insnBytes + tagword.WordSize - 1) / tagword.WordSize
	total = 1 + n + 1 + SimpleFunEntryWords*k + 1 + insnWords
	return
}

// sizeCodeHeader is registered as the code widetag's SizeFn. It can only
// see the header word, so — like tagword.Size — it reports the boxed
// region alone; no caller uses this entry to learn a code object's true
// total length (internal/gc's drain loop advances by ScavengeHeader's
// return value instead, which has the Space access this does not).
func (r *Relocator) sizeCodeHeader(headerWord tagword.Word) uintptr {
	return tagword.HeaderLength(headerWord) + 1
}

// scavengeCodeHeader scavenges only the boxed constants; the entry table
// and instruction stream never hold directly scavengable pointers (an
// entry's self field is fixed up once, at transport time, not on every
// scan), and returns the object's true total word length.
func (r *Relocator) scavengeCodeHeader(t *dispatch.Tables, sp dispatch.Space, addr tagword.Address) uintptr {
	n, _, total := r.layout(sp, addr)
	t.ScavengeRange(sp, addr+tagword.Address(tagword.WordSize), n)
	return total
}

// transportCode resolves a function-pointer reference, which always
// names a SimpleFunEntry, not a code header (§4.4). If the entry already
// carries a forwarding pointer this is just a lookup; otherwise it
// locates the enclosing code object via the entry's back-offset field,
// copies the whole object as one block (copyCodeObject installs a
// forwarding pointer at every entry's own address as part of that), and
// then re-reads the now-installed forwarding pointer for this entry.
func (r *Relocator) transportCode(t *dispatch.Tables, sp dispatch.Space, ref tagword.Word) tagword.Word {
	addr := tagword.Untag(ref)
	if dest, ok := sp.ForwardingOf(addr); ok {
		return dest
	}

	backWords := tagword.FixnumDecode(sp.Read(entryWord(addr, entryBackWordsOffset)))
	codeAddr := addr - tagword.Address(backWords*int64(tagword.WordSize))

	if _, ok := sp.ForwardingOf(codeAddr); !ok {
		r.copyCodeObject(sp, codeAddr)
	}
	dest, ok := sp.ForwardingOf(addr)
	if !ok {
		// copyCodeObject always installs one; this only happens if addr
		// did not actually name one of the code object's own entries.
		t.Lose("codereloc: transported code object has no forwarding pointer at the referenced entry")
	}
	return dest
}

// copyCodeObject performs the actual relocation: a raw word-for-word
// copy of header, boxed constants, entry table, and instruction bytes,
// followed by fixing up every entry's self pointer and the instruction
// stream's out-of-object branch targets by the object's displacement,
// and finally an icache flush over the relocated instruction range.
func (r *Relocator) copyCodeObject(sp dispatch.Space, codeAddr tagword.Address) {
	n, k, total := r.layout(sp, codeAddr)
	newAddr := sp.Allocate(codeAddr, total, tagword.ClassCode)
	displacement := int64(newAddr) - int64(codeAddr)

	sp.SetForwarding(codeAddr, tagword.Retag(newAddr, tagword.LowtagOtherPointer))

	for i := uintptr(0); i < k; i++ {
		oldEntry := codeAddr + tagword.Address((1+n+1+i*SimpleFunEntryWords)*tagword.WordSize)
		newEntry := newAddr + tagword.Address((1+n+1+i*SimpleFunEntryWords)*tagword.WordSize)

		newSelf := tagword.Retag(newEntry, tagword.LowtagFunctionPointer)
		sp.Write(entryWord(newEntry, entrySelfOffset), newSelf)

		sp.SetForwarding(oldEntry, newSelf)
	}

	r.fixupInstructions(sp, newAddr, n, k, displacement)
}

// fixupInstructions adjusts every branch arch.Port identifies whose
// currently encoded target now lands outside the code object's own
// (old) address range: a uniform translation of the whole block leaves
// intra-object relative branches correct automatically (both the branch
// and its target moved by the same displacement), but a branch to a
// fixed external address must be re-biased by -displacement to keep
// naming the same target (§4.4 "saved absolute fixups").
func (r *Relocator) fixupInstructions(sp dispatch.Space, newAddr tagword.Address, n, k uintptr, displacement int64) {
	insnStart := newAddr + tagword.Address((1+n+1+k*SimpleFunEntryWords+1)*tagword.WordSize)
	insnLenAddr := newAddr + tagword.Address((1+n+1+k*SimpleFunEntryWords)*tagword.WordSize)
	insnBytes := uintptr(tagword.FixnumDecode(sp.Read(insnLenAddr)))
	if insnBytes == 0 {
		return
	}

	buf := readBytes(insnStart, insnBytes)
	oldInsnStart := insnStart - tagword.Address(displacement)

	for _, offset := range r.port.CodeFixups(buf) {
		if offset+4 > len(buf) {
			continue
		}
		rel := int32(le32(buf[offset:]))
		insnEndOld := int64(oldInsnStart) + int64(offset) + 4
		target := insnEndOld + int64(rel)
		objStart := int64(oldInsnStart) - int64((1+n+1+k*SimpleFunEntryWords+1)*tagword.WordSize)
		objEnd := int64(oldInsnStart) + int64(insnBytes)
		if target >= objStart && target < objEnd {
			continue // intra-object: both ends moved together, offset unchanged
		}
		newRel := rel - int32(displacement)
		putLE32(buf[offset:], uint32(newRel))
	}
	writeBytes(insnStart, buf)
	r.port.FlushICache(insnStart, len(buf))
}
