package gc

import (
	"heapcore/internal/memregion"
	"heapcore/internal/tagword"
)

// Why finds a shortest path through the live object graph from any one
// of roots to target, and renders it as one tagged reference per line,
// root first. If target is not reachable from any root at all, it
// reports that instead — adapted from a dependency-graph tool's
// shortest-path report to this runtime's object graph: roots replace a
// module's entry packages, and pointer slots replace import edges.
func Why(roots RootSource, target tagword.Address) []string {
	visited := map[tagword.Word]tagword.Word{} // ref -> the ref that first discovered it
	var queue []tagword.Word

	seed := func(w tagword.Word) {
		if tagword.IsFixnum(w) || tagword.IsOtherImmediate(w) {
			return
		}
		if _, ok := visited[w]; ok {
			return
		}
		visited[w] = 0
		queue = append(queue, w)
	}

	for _, r := range roots.Roots() {
		addr := r.Start
		for i := uintptr(0); i < r.Words; i++ {
			seed(memregion.ReadWord(memregion.WordAt(addr, int(i))))
		}
	}

	var found tagword.Word
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if tagword.Untag(cur) == target {
			found = cur
			break
		}
		for _, next := range successors(cur) {
			if tagword.IsFixnum(next) || tagword.IsOtherImmediate(next) {
				continue
			}
			if _, ok := visited[next]; ok {
				continue
			}
			visited[next] = cur
			queue = append(queue, next)
		}
	}

	if found == 0 {
		return []string{"(no root reaches this address)"}
	}

	var path []tagword.Word
	for w := found; w != 0; w = visited[w] {
		path = append([]tagword.Word{w}, path...)
	}
	lines := make([]string, len(path))
	for i, w := range path {
		lines[i] = formatRef(w)
	}
	return lines
}

// successors returns the tagged references held in ref's payload slots,
// skipping a weak pointer's value slot entirely: Why reports ordinary
// reachability, and a weak pointer never establishes it (§4.5).
func successors(ref tagword.Word) []tagword.Word {
	lt := tagword.LowtagOf(ref)
	addr := tagword.Untag(ref)

	if lt == tagword.LowtagListPointer {
		return []tagword.Word{
			memregion.ReadWord(addr),
			memregion.ReadWord(memregion.WordAt(addr, 1)),
		}
	}

	header := memregion.ReadWord(addr)
	wt := tagword.WidetagOf(header)
	switch tagword.ClassOf(wt) {
	case tagword.ClassBoxed, tagword.ClassInstance:
		n := tagword.HeaderLength(header)
		if isFixedLayout(wt) {
			n = tagword.Size(header) - 1
		}
		out := make([]tagword.Word, 0, n)
		for i := uintptr(0); i < n; i++ {
			out = append(out, memregion.ReadWord(memregion.WordAt(addr, int(i)+1)))
		}
		return out
	default:
		return nil
	}
}

// isFixedLayout mirrors internal/dispatch's own classification for
// symbols, fdefns, and value cells, whose word count isn't simply
// 1+HeaderLength.
func isFixedLayout(wt tagword.Widetag) bool {
	switch wt {
	case tagword.WidetagSymbol, tagword.WidetagFdefn, tagword.WidetagValueCell:
		return true
	default:
		return false
	}
}

func formatRef(w tagword.Word) string {
	lt := tagword.LowtagOf(w)
	addr := tagword.Untag(w)
	var kind string
	switch lt {
	case tagword.LowtagListPointer:
		kind = "cons"
	case tagword.LowtagFunctionPointer:
		kind = "function"
	case tagword.LowtagInstancePointer:
		kind = "instance"
	default:
		header := memregion.ReadWord(addr)
		kind = widetagName(tagword.WidetagOf(header))
	}
	return kind + "@" + hexAddr(uintptr(addr))
}

func widetagName(wt tagword.Widetag) string {
	switch wt {
	case tagword.WidetagSymbol:
		return "symbol"
	case tagword.WidetagFdefn:
		return "fdefn"
	case tagword.WidetagValueCell:
		return "value-cell"
	case tagword.WidetagWeakPointer:
		return "weak-pointer"
	case tagword.WidetagCodeHeader:
		return "code"
	case tagword.WidetagSimpleVector:
		return "simple-vector"
	default:
		return "object"
	}
}

func hexAddr(a uintptr) string {
	const hex = "0123456789abcdef"
	if a == 0 {
		return "0x0"
	}
	var buf [18]byte // "0x" + 16 hex digits
	i := len(buf)
	for a > 0 {
		i--
		buf[i] = hex[a&0xf]
		a >>= 4
	}
	i -= 2
	buf[i], buf[i+1] = '0', 'x'
	return string(buf[i:])
}
