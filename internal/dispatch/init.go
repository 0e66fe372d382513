package dispatch

import "heapcore/internal/tagword"

// allWidetags lists every widetag §3 names, grouped exactly as the
// specification groups them. installHeaderTriples walks this list once,
// at Init time, and never touches the tables again afterward (§4.2
// "populated once at startup" / §5 "read-only thereafter").
var allWidetags = []tagword.Widetag{
	tagword.WidetagBignum,
	tagword.WidetagRatio,
	tagword.WidetagSingleFloat,
	tagword.WidetagDoubleFloat,
	tagword.WidetagLongFloat,
	tagword.WidetagComplexSingleFloat,
	tagword.WidetagComplexDoubleFloat,
	tagword.WidetagComplexLongFloat,
	tagword.WidetagComplexRational,

	tagword.WidetagSimpleVector,
	tagword.WidetagSimpleBitVector,
	tagword.WidetagSimpleArrayUnsignedByte2,
	tagword.WidetagSimpleArrayUnsignedByte4,
	tagword.WidetagSimpleArrayUnsignedByte7,
	tagword.WidetagSimpleArrayUnsignedByte8,
	tagword.WidetagSimpleArrayUnsignedByte15,
	tagword.WidetagSimpleArrayUnsignedByte16,
	tagword.WidetagSimpleArrayUnsignedByte29,
	tagword.WidetagSimpleArrayUnsignedByte31,
	tagword.WidetagSimpleArrayUnsignedByte32,
	tagword.WidetagSimpleArrayUnsignedByte60,
	tagword.WidetagSimpleArrayUnsignedByte63,
	tagword.WidetagSimpleArrayUnsignedByte64,
	tagword.WidetagSimpleArraySingleFloat,
	tagword.WidetagSimpleArrayDoubleFloat,
	tagword.WidetagSimpleArrayLongFloat,
	tagword.WidetagSimpleArrayComplexSingleFloat,
	tagword.WidetagSimpleArrayComplexDoubleFloat,
	tagword.WidetagSimpleArrayComplexLongFloat,
	tagword.WidetagSimpleBaseString,
	tagword.WidetagSimpleCharacterString,
	tagword.WidetagComplexVector,
	tagword.WidetagComplexBitVector,
	tagword.WidetagComplexBaseString,
	tagword.WidetagComplexCharacterString,
	tagword.WidetagComplexArray,

	tagword.WidetagCodeHeader,
	tagword.WidetagSimpleFunHeader,
	tagword.WidetagReturnPCHeader,
	tagword.WidetagClosure,
	tagword.WidetagFuncallableInstance,

	tagword.WidetagSymbol,
	tagword.WidetagFdefn,
	tagword.WidetagValueCell,
	tagword.WidetagWeakPointer,
	tagword.WidetagInstance,
	tagword.WidetagLayout,
	tagword.WidetagSAP,
}

// installHeaderTriples gives every header-bearing widetag its own
// scavenge/transport/size triple, keyed off its Class (§4.2 "header
// widetags each set their own triple").
func installHeaderTriples(t *Tables) {
	for _, wt := range allWidetags {
		switch tagword.ClassOf(wt) {
		case tagword.ClassBoxed:
			scavenge := scavengeBoxed
			if isFixedLayout(wt) {
				scavenge = scavengeFixed
			}
			t.scavenge[wt] = scavenge
			t.transport[wt] = transportGeneric(tagword.ClassBoxed)
			t.size[wt] = tagword.Size

		case tagword.ClassUnboxed:
			t.scavenge[wt] = scavengeUnboxed
			t.transport[wt] = transportGeneric(tagword.ClassUnboxed)
			t.size[wt] = tagword.Size

		case tagword.ClassInstance:
			t.scavenge[wt] = scavengeBoxed
			t.transport[wt] = transportGeneric(tagword.ClassInstance)
			t.size[wt] = tagword.Size

		case tagword.ClassWeak:
			t.scavenge[wt] = scavengeWeak
			t.transport[wt] = transportWeak
			t.size[wt] = tagword.Size

		case tagword.ClassCode, tagword.ClassFunction:
			// Left at the "lose" default installed by Init: code is
			// always reached via the function-pointer lowtag and
			// transported by internal/codereloc, which calls
			// Tables.SetHandler once it is wired in; simple-fun and
			// return-PC headers are never scavenged or transported
			// directly at all (§4.4).

		default:
			// ClassLose: stays at the default "lose" entries.
		}
	}
}

// isFixedLayout reports whether wt's total size comes from tagword.Size's
// special-cased branch rather than from 1+HeaderLength directly.
func isFixedLayout(wt tagword.Widetag) bool {
	switch wt {
	case tagword.WidetagSymbol, tagword.WidetagFdefn, tagword.WidetagValueCell:
		return true
	default:
		return false
	}
}
