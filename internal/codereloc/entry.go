package codereloc

import "heapcore/internal/tagword"

// SimpleFunEntryWords is the fixed size of one packed simple-fun (or
// return-PC) entry embedded in a code object's entry table.
const SimpleFunEntryWords = 4

// Entry field offsets, relative to the entry's own base address.
const (
	entryHeaderOffset    = 0 // widetag SimpleFunHeader or ReturnPCHeader
	entrySelfOffset      = 1 // tagged function-pointer reference to this entry's own address
	entryPCOffsetOffset  = 2 // fixnum: byte offset into the instruction stream where this entry starts
	entryBackWordsOffset = 3 // fixnum: word count back from this entry to the code header
)

func entryWord(base tagword.Address, fieldOffset uintptr) tagword.Address {
	return base + tagword.Address(fieldOffset*tagword.WordSize)
}
