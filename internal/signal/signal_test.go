package signal_test

import (
	"testing"

	"golang.org/x/sys/unix"

	"heapcore/internal/arch"
	"heapcore/internal/signal"
)

func TestDeliverRunsImmediatelyWhenEnabledAndNotPseudoAtomic(t *testing.T) {
	d := signal.NewInterruptData(nil)
	var ran bool
	d.Deliver(func(*signal.Context) { ran = true }, unix.SIGUSR1, nil, unix.Sigset_t{}, nil)
	if !ran {
		t.Fatalf("handler did not run immediately")
	}
	if d.InterruptPending() {
		t.Fatalf("pending bit set after immediate delivery")
	}
}

func TestDeliverDefersWhileInterruptsDisabled(t *testing.T) {
	d := signal.NewInterruptData(nil)
	d.SetInterruptsEnabled(false)
	var ran bool
	d.Deliver(func(*signal.Context) { ran = true }, unix.SIGUSR1, nil, unix.Sigset_t{}, nil)
	if ran {
		t.Fatalf("handler ran even though interrupts were disabled")
	}
	if !d.InterruptPending() {
		t.Fatalf("expected pending bit set after deferral")
	}

	d.SetInterruptsEnabled(true)
	d.RunPendingIfAny()
	if !ran {
		t.Fatalf("deferred handler never ran")
	}
	if d.InterruptPending() {
		t.Fatalf("pending bit still set after running deferred handler")
	}
}

func TestPseudoAtomicDefersAndRunsExactlyOnceOnExit(t *testing.T) {
	d := signal.NewInterruptData(nil)
	d.EnterPseudoAtomic()

	runs := 0
	d.Deliver(func(*signal.Context) { runs++ }, unix.SIGUSR1, nil, unix.Sigset_t{}, nil)
	if runs != 0 {
		t.Fatalf("handler ran while pseudo-atomic, want deferred")
	}

	d.ExitPseudoAtomic()
	if runs != 1 {
		t.Fatalf("deferred handler ran %d times, want exactly 1", runs)
	}

	// A second exit with nothing newly pending must not re-run it.
	d.EnterPseudoAtomic()
	d.ExitPseudoAtomic()
	if runs != 1 {
		t.Fatalf("handler re-ran on an exit with nothing pending: runs=%d", runs)
	}
}

func TestFakeForeignFrameCapturesRegistersAndTracksContextActive(t *testing.T) {
	d := signal.NewInterruptData(nil)
	port := arch.ByName("amd64")
	if port == nil {
		t.Fatalf("amd64 port not registered")
	}

	if d.ContextActive() {
		t.Fatalf("context active before any frame pushed")
	}

	read := func(name string) uintptr { return uintptr(len(name)) }
	ctx, index, err := d.EnterFakeForeignFrame(port, read, 0x1000)
	if err != nil {
		t.Fatalf("EnterFakeForeignFrame: %v", err)
	}
	if index != 0 {
		t.Fatalf("first frame index = %d, want 0", index)
	}
	if !d.ContextActive() {
		t.Fatalf("expected context active after entering a fake foreign frame")
	}
	for _, name := range port.RegisterNames() {
		if ctx.Registers[name] != uintptr(len(name)) {
			t.Fatalf("register %s not captured correctly", name)
		}
	}
	if d.TopContext() != ctx {
		t.Fatalf("TopContext did not return the just-pushed context")
	}

	if err := d.LeaveFakeForeignFrame(); err != nil {
		t.Fatalf("LeaveFakeForeignFrame: %v", err)
	}
	if d.ContextActive() {
		t.Fatalf("expected context inactive after leaving the only frame")
	}
}

func TestLeaveFakeForeignFrameRejectsEmptyStack(t *testing.T) {
	d := signal.NewInterruptData(nil)
	if err := d.LeaveFakeForeignFrame(); err == nil {
		t.Fatalf("expected an error leaving a frame that was never entered")
	}
}

func TestEnterFakeForeignFrameRejectsExcessiveNesting(t *testing.T) {
	d := signal.NewInterruptData(nil)
	port := arch.ByName("amd64")
	read := func(string) uintptr { return 0 }

	for i := 0; i < signal.MaxInterrupts; i++ {
		if _, _, err := d.EnterFakeForeignFrame(port, read, 0); err != nil {
			t.Fatalf("unexpected error at depth %d: %v", i, err)
		}
	}
	if _, _, err := d.EnterFakeForeignFrame(port, read, 0); err == nil {
		t.Fatalf("expected an error exceeding MaxInterrupts nesting")
	}
}
