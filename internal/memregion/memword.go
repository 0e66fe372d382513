package memregion

import (
	"unsafe"

	"heapcore/internal/tagword"
)

// addressOf returns the address of a mapped region's backing array. This
// is the one place this package reaches for unsafe: everywhere else,
// memory is addressed through tagword.Address values derived from this
// base, the same way the collector (internal/gc) and code relocator
// (internal/codereloc) other_examples Go-runtime sources treat the heap
// as raw machine words behind unsafe.Pointer.
func addressOf(data []byte) tagword.Address {
	if len(data) == 0 {
		return 0
	}
	return tagword.Address(uintptr(unsafe.Pointer(&data[0])))
}

// ReadWord reads one native word at addr.
func ReadWord(addr tagword.Address) tagword.Word {
	return tagword.Word(*(*uintptr)(unsafe.Pointer(uintptr(addr))))
}

// WriteWord writes one native word at addr.
func WriteWord(addr tagword.Address, w tagword.Word) {
	*(*uintptr)(unsafe.Pointer(uintptr(addr))) = uintptr(w)
}

// WordAt returns the address of the n'th word (0-based) after addr.
func WordAt(addr tagword.Address, n int) tagword.Address {
	return addr + tagword.Address(n*tagword.WordSize)
}

// Bytes returns a byte slice view of the n bytes starting at addr,
// backed directly by the mapped region's memory: writes through the
// slice are writes to the heap. internal/codereloc uses this to hand a
// code object's raw instruction stream to an internal/arch disassembler,
// which wants []byte rather than word-at-a-time access.
func Bytes(addr tagword.Address, n int) []byte {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), n)
}
