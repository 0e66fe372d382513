package arch

import (
	"golang.org/x/arch/x86/x86asm"

	"heapcore/internal/tagword"
)

func init() { register(amd64Port{}) }

type amd64Port struct{}

func (amd64Port) Name() string { return "amd64" }

// CodeFixups walks instructions with x86asm.Decode and records the
// offset of the trailing rel32 displacement field of every CALL/JMP
// whose target is encoded as a near relative branch — the only
// in-instruction-stream reference a relocated code object's fixup pass
// needs to adjust by its displacement, since absolute-address operands
// in this runtime's generated code otherwise live in the object's boxed
// constants, not its instruction stream.
func (amd64Port) CodeFixups(instructions []byte) []int {
	var offsets []int
	for pos := 0; pos < len(instructions); {
		inst, err := x86asm.Decode(instructions[pos:], 64)
		if err != nil || inst.Len == 0 {
			pos++
			continue
		}
		if isNearRelBranch(inst) {
			offsets = append(offsets, pos+inst.Len-4)
		}
		pos += inst.Len
	}
	return offsets
}

func isNearRelBranch(inst x86asm.Inst) bool {
	switch inst.Op {
	case x86asm.CALL, x86asm.JMP:
		for _, a := range inst.Args {
			if a == nil {
				continue
			}
			if _, ok := a.(x86asm.Rel); ok {
				return true
			}
		}
	}
	return false
}

func (amd64Port) InstructionLength(pc []byte) int {
	inst, err := x86asm.Decode(pc, 64)
	if err != nil || inst.Len == 0 {
		return 1 // conservative single-byte step rather than a stuck trap handler
	}
	return inst.Len
}

func (amd64Port) RegisterNames() []string {
	return []string{"rax", "rbx", "rcx", "rdx", "rsi", "rdi", "rbp", "rsp",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15", "rip", "eflags"}
}

// FlushICache is a no-op on amd64: x86-64 keeps the instruction cache
// coherent with stores to executable pages without any explicit flush.
func (amd64Port) FlushICache(addr tagword.Address, n int) {}
