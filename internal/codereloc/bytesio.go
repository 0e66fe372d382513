package codereloc

import (
	"heapcore/internal/memregion"
	"heapcore/internal/tagword"
)

// readBytes copies n bytes out of the heap starting at addr into a
// private buffer the disassembler and fixup pass can scan and mutate
// without touching live memory until writeBytes commits the result.
func readBytes(addr tagword.Address, n uintptr) []byte {
	src := memregion.Bytes(addr, int(n))
	buf := make([]byte, n)
	copy(buf, src)
	return buf
}

func writeBytes(addr tagword.Address, buf []byte) {
	dst := memregion.Bytes(addr, len(buf))
	copy(dst, buf)
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
