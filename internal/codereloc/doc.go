// Package codereloc transports code objects as a single relocatable
// unit (§4.4) and wires that behavior into internal/dispatch's tables
// (the code header widetag's scavenge/size entries and the
// function-pointer transport hook, Tables.TransportCode). Init leaves the
// code widetag at its "lose" default because the relocator needs an
// architecture port
// (internal/arch) and would otherwise create an import cycle between
// dispatch and arch.
//
// Layout this package assumes for a code object (a design decision this
// module makes, since the distilled spec describes the operation but not
// an exact word layout):
//
//	word 0:             header (widetag CodeHeader, header-length = n, the boxed word count)
//	words 1..n:         boxed constants, ordinary scavengable slots
//	word n+1:           fixnum k, the number of simple-fun entries
//	words n+2..n+1+4k:  k packed SimpleFunEntry structs (see entry.go)
//	word n+2+4k:        fixnum, length in bytes of the instruction stream that follows
//	remaining words:    raw instruction bytes, rounded up to a whole word count
//
// A function-pointer reference always names the base of one
// SimpleFunEntry, never the code header itself (§4.4 "resolves... via a
// function pointer whose target is inside a code object").
//
// Flush granularity (§9 open question, decided in SPEC_FULL.md): one
// icache flush per relocated code object, not one flush at the end of a
// whole collection. A single end-of-collection flush covering every
// moved code object at once would be a valid alternative and is a
// plausible future optimization, but is not implemented here.
package codereloc
