// Command heapcore is the thin outer collaborator (§1, §6): it parses
// the CLI surface, loads a core image, wires the dispatch tables, the
// collector's heap, and the thread registry, links the initial thread,
// and reports the image's initial callable address. It does not invoke
// that callable; everything beyond this setup belongs to the core
// packages, not to this file.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"

	"heapcore/internal/arch"
	"heapcore/internal/codereloc"
	"heapcore/internal/dispatch"
	"heapcore/internal/gc"
	"heapcore/internal/image"
	"heapcore/internal/rtctx"
	"heapcore/internal/thread"
)

const version = "heapcore core runtime, development build"

// Default region sizes (§3's "dynamic region" sizing is left to the host
// build: memregion.Reserve takes every size from its caller and defines
// no defaults of its own). These are conservative defaults for a CLI run,
// not the only sizes the core can run at — a future flag could expose
// them, but none of the named CLI surface flags (§6) does.
const (
	defaultConsBytes    = 16 << 20
	defaultObjBytes     = 64 << 20
	defaultControlBytes = 2 << 20
	defaultBindingBytes = 1 << 20
	defaultAlienBytes   = 1 << 20
	defaultTLSBytes     = 4 << 10
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: heapcore --core <path> [--noinform] [--end-runtime-options]\n")
	flag.PrintDefaults()
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("heapcore: ")

	corePath := flag.String("core", "", "path to the core image to load")
	noinform := flag.Bool("noinform", false, "suppress the startup banner")
	showVersion := flag.Bool("version", false, "print version and exit")
	endRuntimeOptions := flag.Bool("end-runtime-options", false, "mark the end of runtime-recognized flags")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}
	if *corePath == "" {
		usage()
		os.Exit(1)
	}

	cfg := rtctx.Config{CorePath: *corePath, NoInform: *noinform}
	if *endRuntimeOptions {
		cfg.EndRuntimeOptions = len(os.Args) - flag.NArg()
	}

	ctx := rtctx.New()
	if !cfg.NoInform {
		fmt.Fprintln(ctx.Diag, version)
	}

	img := image.Load(ctx, cfg.CorePath, version)
	defer img.Release()

	port := arch.ByName(runtime.GOARCH)
	if port == nil {
		ctx.Lose(rtctx.InitFailure, "no arch port registered for GOARCH %q", runtime.GOARCH)
		return
	}

	lose := func(reason string) { ctx.Lose(rtctx.HeapCorruption, "%s", reason) }

	tables := dispatch.Init(lose, nil)
	codereloc.New(port).Wire(tables)

	heap, err := gc.NewHeap(tables, lose, defaultConsBytes, defaultObjBytes)
	if err != nil {
		ctx.Lose(rtctx.InitFailure, "reserve heap: %v", err)
		return
	}

	registry := thread.NewRegistry(lose)
	threadCfg := thread.Config{
		ControlStackBytes: defaultControlBytes,
		BindingStackBytes: defaultBindingBytes,
		AlienStackBytes:   defaultAlienBytes,
		TLSBytes:          defaultTLSBytes,
	}
	initial, err := registry.Create(threadCfg, nil)
	if err != nil {
		ctx.Lose(rtctx.InitFailure, "create initial thread: %v", err)
		return
	}
	registry.InitialThread(initial)

	// The image's initial callable names a compiled entry point this
	// from-scratch core has no interpreter for (§1 scope: the core is
	// the collector and its supporting machinery, not a language
	// implementation). Handing it off here means exposing the address
	// and the assembled heap/registry to whatever host embeds this core;
	// a CLI-only run has nothing further to do with it.
	if !cfg.NoInform {
		consStart, consWords, objStart, objWords := heap.ActiveRanges()
		fmt.Fprintf(ctx.Diag, "initial callable at %#x, dynamic space ready (%d threads linked, cons %#x+%d words, obj %#x+%d words)\n",
			img.InitialCallable, countThreads(registry, initial), consStart, consWords, objStart, objWords)
	}

	ctx.SetExitStatus(0)
	ctx.Exit()
}

func countThreads(reg *thread.Registry, initial *thread.Record) int {
	n := 0
	reg.Each(initial.ID, func(*thread.Record) { n++ })
	return n
}
