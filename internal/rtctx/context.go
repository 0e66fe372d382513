// Package rtctx holds the single runtime-context value (diagnostics
// writer, exit status, at-exit cleanups, fatal-error sink) that
// cmd/heapcore builds and hands to the image loader. The collector, the
// signal spine and the thread registry do not take it; they take a plain
// loss callback (dispatch.Lose) instead.
package rtctx

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Kind names a fatal-error category (§7 of the specification this module
// implements).
type Kind int

const (
	HeapCorruption Kind = iota
	MissingDispatchEntry
	InterruptNesting
	InitFailure
	MissingCore
	BuildIDMismatch
)

func (k Kind) String() string {
	switch k {
	case HeapCorruption:
		return "heap-corruption"
	case MissingDispatchEntry:
		return "missing-dispatch-entry"
	case InterruptNesting:
		return "interrupt-nesting"
	case InitFailure:
		return "init-failure"
	case MissingCore:
		return "missing-core"
	case BuildIDMismatch:
		return "build-id-mismatch"
	default:
		return "unknown"
	}
}

// FatalError describes a condition that is never recoverable: continuing
// to run would corrupt the heap. Nothing in this module constructs one;
// Context.Lose takes the kind and reason directly and terminates the
// process.
type FatalError struct {
	Kind   Kind
	Reason string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Config holds the CLI surface's parsed result (§6 "CLI surface"): where
// the core image lives, whether startup banners are suppressed, and
// where runtime-only flags end and the image's own argument vector
// begins.
type Config struct {
	CorePath           string
	NoInform           bool
	EndRuntimeOptions  int // index into os.Args where runtime flags stop
}

// Context is the process-wide runtime state: where diagnostics go, the
// exit status accumulated so far, and the set of cleanup funcs to run
// before exiting. Every package that would otherwise keep file-scope
// globals takes a *Context instead.
type Context struct {
	Diag io.Writer // defaults to os.Stderr; tests substitute a buffer

	mu         sync.Mutex
	exitStatus int
	atExit     []func()
}

// New returns a Context writing diagnostics to os.Stderr.
func New() *Context {
	return &Context{Diag: os.Stderr}
}

// AtExit registers a cleanup function to run when Exit is called.
func (c *Context) AtExit(f func()) {
	c.mu.Lock()
	c.atExit = append(c.atExit, f)
	c.mu.Unlock()
}

// SetExitStatus raises the accumulated exit status, never lowering it.
func (c *Context) SetExitStatus(n int) {
	c.mu.Lock()
	if n > c.exitStatus {
		c.exitStatus = n
	}
	c.mu.Unlock()
}

// ExitStatus returns the exit status accumulated so far.
func (c *Context) ExitStatus() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitStatus
}

// Exit runs every registered cleanup and terminates the process with the
// accumulated exit status.
func (c *Context) Exit() {
	c.mu.Lock()
	fns := c.atExit
	status := c.exitStatus
	c.mu.Unlock()
	for _, f := range fns {
		f()
	}
	os.Exit(status)
}

// Lose reports a fatal invariant violation and terminates the process.
// Nothing inside the collector is recoverable; §7 requires this to print
// a diagnostic and stop, never to unwind back to mutator code.
func (c *Context) Lose(kind Kind, format string, args ...interface{}) {
	fmt.Fprintf(c.diagOrStderr(), "heapcore: fatal (%s): %s\n", kind, fmt.Sprintf(format, args...))
	c.SetExitStatus(1)
	c.Exit()
}

// Errorf records a non-fatal soft refusal (e.g. purify declining to run)
// without terminating the process.
func (c *Context) Errorf(format string, args ...interface{}) error {
	err := fmt.Errorf(format, args...)
	fmt.Fprintf(c.diagOrStderr(), "heapcore: %v\n", err)
	return err
}

func (c *Context) diagOrStderr() io.Writer {
	if c.Diag != nil {
		return c.Diag
	}
	return os.Stderr
}
