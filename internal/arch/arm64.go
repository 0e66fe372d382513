package arch

import (
	"golang.org/x/arch/arm64/arm64asm"

	"heapcore/internal/tagword"
)

func init() { register(arm64Port{}) }

type arm64Port struct{}

func (arm64Port) Name() string { return "arm64" }

const arm64InstWidth = 4 // every A64 instruction is exactly one word

// CodeFixups decodes each fixed-width instruction with arm64asm.Decode
// and records the start offset of any branch whose argument is a
// PC-relative displacement (B, BL, and conditional/compare branches),
// mirroring amd64Port's near-relative-branch treatment for the one
// architecture difference that matters here: A64 has no variable
// instruction length to add to the recorded offset.
func (arm64Port) CodeFixups(instructions []byte) []int {
	var offsets []int
	for pos := 0; pos+arm64InstWidth <= len(instructions); pos += arm64InstWidth {
		inst, err := arm64asm.Decode(instructions[pos : pos+arm64InstWidth])
		if err != nil {
			continue
		}
		for _, a := range inst.Args {
			if a == nil {
				break
			}
			if _, ok := a.(arm64asm.PCRel); ok {
				offsets = append(offsets, pos)
				break
			}
		}
	}
	return offsets
}

func (arm64Port) InstructionLength(pc []byte) int { return arm64InstWidth }

func (arm64Port) RegisterNames() []string {
	names := make([]string, 0, 34)
	for i := 0; i < 31; i++ {
		names = append(names, "x"+itoaSmall(i))
	}
	return append(names, "sp", "pc", "nzcv")
}

// FlushICache is unimplemented on this port: no portable syscall for an
// explicit A64 instruction-cache flush is exposed by the x/sys/unix
// package this module otherwise relies on (ARM32 has SYS_CACHEFLUSH;
// ARM64 Linux does not expose an equivalent through that package). A
// real deployment on this target needs a small assembly stub (`ic ivau` /
// `isb`) this module deliberately does not fabricate.
func (arm64Port) FlushICache(addr tagword.Address, n int) {}

func itoaSmall(n int) string {
	if n < 10 {
		return string([]byte{byte('0' + n)})
	}
	return string([]byte{byte('0' + n/10), byte('0' + n%10)})
}
