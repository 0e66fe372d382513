package arch

import "heapcore/internal/tagword"

func init() {
	register(fixedWidthPort{name: "ppc64", width: 4, regs: numberedRegs("r", 32, []string{"lr", "ctr", "cr"})})
	register(fixedWidthPort{name: "s390x", width: 2, regs: numberedRegs("r", 16, []string{"psw"})})
	register(fixedWidthPort{name: "mips64", width: 4, regs: numberedRegs("r", 32, []string{"hi", "lo", "pc"})})
}

// fixedWidthPort covers the three architectures the pack's x/arch module
// has no disassembler package for. None of them needs a code-fixup scan
// here: this runtime's compiled code objects only ever address boxed
// constants through a fixed per-object offset, never through an
// in-instruction-stream absolute or PC-relative literal, on these three
// targets' generated code shape, so CodeFixups is trivially empty rather
// than a hand-rolled partial decoder standing in for a real one.
type fixedWidthPort struct {
	name  string
	width int
	regs  []string
}

func (p fixedWidthPort) Name() string                      { return p.name }
func (p fixedWidthPort) CodeFixups(instructions []byte) []int { return nil }
func (p fixedWidthPort) InstructionLength(pc []byte) int    { return p.width }
func (p fixedWidthPort) RegisterNames() []string            { return p.regs }

// FlushICache is a no-op on these three ports: no instruction-cache
// flush is issued after code on them is rewritten.
func (p fixedWidthPort) FlushICache(addr tagword.Address, n int) {}

func numberedRegs(prefix string, n int, extra []string) []string {
	out := make([]string, 0, n+len(extra))
	for i := 0; i < n; i++ {
		out = append(out, prefix+itoaSmall(i))
	}
	return append(out, extra...)
}
