// Package signal implements the signal and interrupt spine (§4.7): the
// blockable/always-through signal split, per-thread deferral state
// (interrupts-enabled, interrupt-pending, pseudo-atomic), and the fake
// foreign frame a collector stack-walk or a mutator-visible handler
// needs when a context must be exposed.
//
// A goroutine is not a kernel thread, so this package does not install
// real OS signal handlers on the mutator's behalf (Go's own runtime
// already owns SIGSEGV/SIGBUS/etc. delivery and multiplexing raw
// sa_sigaction callbacks onto it is not something Go exposes safely).
// What it models faithfully is the *deferral state machine* §4.7
// specifies — the decision of whether a handler runs now or is
// recorded for later, and the bookkeeping a fake foreign frame needs —
// driven by explicit Deliver calls rather than an asynchronous kernel
// callback. internal/thread drives real stop-the-world coordination
// between goroutines with this state machine underneath.
package signal

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"heapcore/internal/arch"
	"heapcore/internal/dispatch"
)

// Blockable lists every signal the runtime treats as deferrable (§4.7
// "all job-control, alarm, child, IO, user-defined, and internal GC
// coordination signals"), including the two this module uses for
// internal coordination (GCStopSignal, InterruptThreadSignal).
var Blockable = []unix.Signal{
	unix.SIGHUP, unix.SIGINT, unix.SIGQUIT, unix.SIGALRM, unix.SIGCHLD,
	unix.SIGUSR1, unix.SIGUSR2, unix.SIGPIPE, unix.SIGIO, unix.SIGTERM,
}

// AlwaysThrough lists signals never deferred: synchronous machine
// faults, where deferring would resume the mutator on top of a machine
// state that is already corrupt (§4.7 "always-through").
var AlwaysThrough = []unix.Signal{unix.SIGSEGV, unix.SIGBUS, unix.SIGILL, unix.SIGFPE}

const (
	// GCStopSignal is what a collection's initiator sends a running
	// peer to ask it to stop (§4.7 "sends the GC-stop signal").
	GCStopSignal = unix.SIGUSR1
	// InterruptThreadSignal carries a callable payload for cancelling a
	// peer (§5 "Cancellation and timeouts").
	InterruptThreadSignal = unix.SIGUSR2
	// OSStopSignal and OSContinueSignal are the real OS-level
	// suspend/resume signals a stopping peer sends itself and waits on
	// (§4.7 "sends itself the OS stop signal... resumes on receipt of
	// the OS continue signal").
	OSStopSignal     = unix.SIGSTOP
	OSContinueSignal = unix.SIGCONT
)

// MaxInterrupts bounds fake-foreign-frame nesting depth (§7 "exceeded
// interrupt nesting (MAX_INTERRUPTS)"). The source names the constant
// but not its value; this is a generous, documented default rather than
// a guess at the original number.
const MaxInterrupts = 4096

// HandlerFunc is a deferred or immediately-run interrupt handler.
type HandlerFunc func(ctx *Context)

// Context is a captured machine context: a register snapshot in the
// order an arch.Port names them, plus the program counter, handed to a
// handler that runs later than the signal that produced it (§4.7 "a
// synthesized or saved context").
type Context struct {
	Registers map[string]uintptr
	PC        uintptr
}

// PendingSignal is the deferred-delivery record (§4.7 "pending-signal
// record": deferred handler pointer, signal number, saved siginfo,
// saved signal mask).
type PendingSignal struct {
	Handler   HandlerFunc
	Signum    unix.Signal
	Info      *unix.Siginfo
	SavedMask unix.Sigset_t
	Context   *Context
}

// InterruptData is one thread's interrupt state: the three state bits
// §4.7 names, plus the one pending-signal slot and the interrupt-context
// stack a fake foreign frame grows. internal/thread.Record embeds one
// per thread record ("its own copy of the interrupt-data record", §4.9).
type InterruptData struct {
	enabled                 atomic.Bool
	pending                 atomic.Bool
	pseudoAtomic            atomic.Bool
	pseudoAtomicInterrupted atomic.Bool

	mu            sync.Mutex
	pendingSignal PendingSignal

	contextStack []*Context

	lose dispatch.Lose
}

// NewInterruptData returns interrupt state for a freshly created
// thread: interrupts start enabled, nothing pending.
func NewInterruptData(lose dispatch.Lose) *InterruptData {
	d := &InterruptData{lose: lose}
	d.enabled.Store(true)
	return d
}

func (d *InterruptData) InterruptsEnabled() bool    { return d.enabled.Load() }
func (d *InterruptData) SetInterruptsEnabled(v bool) { d.enabled.Store(v) }
func (d *InterruptData) InterruptPending() bool     { return d.pending.Load() }
func (d *InterruptData) InPseudoAtomic() bool       { return d.pseudoAtomic.Load() }

// EnterPseudoAtomic marks the start of a lock-free critical section in
// allocator or write-barrier code (§4.7 "pseudo-atomic").
func (d *InterruptData) EnterPseudoAtomic() { d.pseudoAtomic.Store(true) }

// ExitPseudoAtomic clears the pseudo-atomic bit and, if a signal was
// deferred while inside the region, runs the stored handler now (§4.7
// "when the mutator leaves the critical region and observes the
// pending flag, it calls the stored handler").
func (d *InterruptData) ExitPseudoAtomic() {
	d.pseudoAtomic.Store(false)
	if d.pseudoAtomicInterrupted.CompareAndSwap(true, false) {
		d.runPending()
	}
}

// Deliver is the single entry point every signal arrival (simulated or
// real) goes through: if interrupts are disabled or the mutator is in a
// pseudo-atomic region, delivery is deferred per §4.7's rule; otherwise
// the handler runs immediately with ctx.
func (d *InterruptData) Deliver(handler HandlerFunc, signum unix.Signal, info *unix.Siginfo, savedMask unix.Sigset_t, ctx *Context) {
	if !d.enabled.Load() || d.pseudoAtomic.Load() {
		d.recordPending(handler, signum, info, savedMask, ctx)
		return
	}
	handler(ctx)
}

func (d *InterruptData) recordPending(handler HandlerFunc, signum unix.Signal, info *unix.Siginfo, savedMask unix.Sigset_t, ctx *Context) {
	d.mu.Lock()
	d.pendingSignal = PendingSignal{Handler: handler, Signum: signum, Info: info, SavedMask: savedMask, Context: ctx}
	d.mu.Unlock()
	d.pending.Store(true)
	if d.pseudoAtomic.Load() {
		d.pseudoAtomicInterrupted.Store(true)
	}
}

// runPending invokes and clears whatever was deferred. ExitPseudoAtomic
// calls it when the region it closes was interrupted, and RunPendingIfAny
// when the pending bit is set; re-enabling interrupts does not call it.
func (d *InterruptData) runPending() {
	d.mu.Lock()
	p := d.pendingSignal
	d.pendingSignal = PendingSignal{}
	d.mu.Unlock()
	d.pending.Store(false)
	if p.Handler != nil {
		p.Handler(p.Context)
	}
}

// RunPendingIfAny lets a mutator explicitly poll at a suspension point
// between pseudo-atomic regions (§5 "A mutator may suspend only at
// signal delivery points when not in a pseudo-atomic region"), rather
// than waiting for the next ExitPseudoAtomic to notice.
func (d *InterruptData) RunPendingIfAny() {
	if d.pending.Load() {
		d.runPending()
	}
}

// ContextActive reports whether this thread currently has a fake
// foreign frame on its interrupt-context stack — exactly the condition
// internal/purify's interrupt-context refusal checks (§4.6 "failure
// mode").
func (d *InterruptData) ContextActive() bool {
	return len(d.contextStack) > 0
}

// ContextDepth returns how many fake foreign frames are currently
// nested, for diagnostics and the MaxInterrupts check.
func (d *InterruptData) ContextDepth() int { return len(d.contextStack) }

// EnterFakeForeignFrame captures every named register via port, pushes
// the resulting Context onto this thread's interrupt-context stack, and
// returns it for the caller to dynamically bind "current interrupt
// context index" to (§4.7 "fake foreign frame"): the binding itself
// belongs to whoever holds this thread's binding.Stack, since this
// package has no opinion on symbol identity.
func (d *InterruptData) EnterFakeForeignFrame(port arch.Port, read func(name string) uintptr, pc uintptr) (*Context, int, error) {
	if len(d.contextStack) >= MaxInterrupts {
		err := fmt.Errorf("signal: exceeded maximum interrupt nesting (%d)", MaxInterrupts)
		if d.lose != nil {
			d.lose(err.Error())
		}
		return nil, 0, err
	}
	names := port.RegisterNames()
	ctx := &Context{Registers: make(map[string]uintptr, len(names)), PC: pc}
	for _, name := range names {
		ctx.Registers[name] = read(name)
	}
	d.contextStack = append(d.contextStack, ctx)
	return ctx, len(d.contextStack) - 1, nil
}

// LeaveFakeForeignFrame pops the most recently pushed context, the
// second half of §4.7's "undoing reverses these steps". The caller is
// responsible for unbinding "current interrupt context index" and
// restoring the allocation pointer, both of which belong to state this
// package does not own.
func (d *InterruptData) LeaveFakeForeignFrame() error {
	if len(d.contextStack) == 0 {
		return fmt.Errorf("signal: LeaveFakeForeignFrame called with no active interrupt context")
	}
	d.contextStack = d.contextStack[:len(d.contextStack)-1]
	return nil
}

// TopContext returns the innermost captured context, or nil if none is
// active — what a collector's stack walk reads to resume scanning a
// thread interrupted in foreign code (§4.7).
func (d *InterruptData) TopContext() *Context {
	if len(d.contextStack) == 0 {
		return nil
	}
	return d.contextStack[len(d.contextStack)-1]
}
