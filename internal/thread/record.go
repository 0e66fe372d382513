// Package thread implements the thread registry (§4.9, §5): per-thread
// records bundling the four OS-reserved ranges a thread owns, a
// global spinlock-protected singly-linked registry, and the
// stop-the-world coordination built on top of internal/signal's
// deferral state machine.
package thread

import (
	"fmt"

	"heapcore/internal/binding"
	"heapcore/internal/dispatch"
	"heapcore/internal/gc"
	"heapcore/internal/memregion"
	"heapcore/internal/signal"
	"heapcore/internal/tagword"
)

// State is a thread record's stop-the-world state (§4.7).
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Config sizes the four ranges a Create call reserves.
type Config struct {
	ControlStackBytes int
	BindingStackBytes int
	AlienStackBytes   int
	TLSBytes          int // "dynamic_values_bytes", §4.9
}

// Record is one thread's full state: its four OS-reserved ranges, its
// own interrupt-data copy, and its registry linkage.
type Record struct {
	ID uint64

	ControlStack *memregion.Region
	bindingStack *memregion.Region
	Bindings     *binding.Stack
	AlienStack   *memregion.Region
	tls          *memregion.Region
	tlsNext      int
	tlsFree      []int

	Interrupts *signal.InterruptData

	state    atomicState
	stopReq  chan struct{}
	resumeCh chan struct{}

	next *Record // protected by the owning Registry's spinlock
}

// Create reserves the four ranges in one logical allocation and returns
// an unlinked record (§4.9 "Create": allocation and slot initialization
// are separate from publication, which a Registry performs). If parent
// is non-nil, its thread-local slot contents seed rec's (§4.9 "copy
// thread-local defaults from the creator"); a nil parent leaves the
// slots zeroed, standing in for "a global template for the first
// thread" until a caller installs one explicitly.
func Create(id uint64, cfg Config, parent *Record, lose dispatch.Lose) (*Record, error) {
	control, err := memregion.Reserve(memregion.KindControlStack, cfg.ControlStackBytes)
	if err != nil {
		return nil, err
	}
	bindingRegion, err := memregion.Reserve(memregion.KindBindingStack, cfg.BindingStackBytes)
	if err != nil {
		control.Release()
		return nil, err
	}
	alien, err := memregion.Reserve(memregion.KindAlienStack, cfg.AlienStackBytes)
	if err != nil {
		control.Release()
		bindingRegion.Release()
		return nil, err
	}
	tls, err := memregion.Reserve(memregion.KindThreadLocal, cfg.TLSBytes)
	if err != nil {
		control.Release()
		bindingRegion.Release()
		alien.Release()
		return nil, err
	}

	rec := &Record{
		ID:           id,
		ControlStack: control,
		bindingStack: bindingRegion,
		Bindings:     binding.New(bindingRegion, lose),
		AlienStack:   alien,
		tls:          tls,
		Interrupts:   signal.NewInterruptData(lose),
		stopReq:      make(chan struct{}, 1),
		resumeCh:     make(chan struct{}, 1),
	}
	rec.state.store(StateStopped)

	if parent != nil {
		n := parent.tlsWords()
		if rec.tlsWords() < n {
			n = rec.tlsWords()
		}
		for i := uintptr(0); i < n; i++ {
			rec.WriteSlot(int(i), parent.ReadSlot(int(i)))
		}
	}
	return rec, nil
}

// State reports the record's current stop-the-world state.
func (r *Record) State() State { return r.state.load() }

// release unmaps all four of a record's ranges; called by Registry.Destroy.
func (r *Record) release() error {
	var firstErr error
	for _, region := range []*memregion.Region{r.ControlStack, r.bindingStack, r.AlienStack, r.tls} {
		if err := region.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Record) tlsWords() uintptr { return uintptr(len(r.tls.Data)) / tagword.WordSize }

// AllocSlot reserves one thread-local slot, reusing a freed index
// before growing into fresh space (§4.9's "array of thread-local
// slots", the free-list scheme `thread.c` uses for slot reuse).
func (r *Record) AllocSlot() (int, error) {
	if n := len(r.tlsFree); n > 0 {
		idx := r.tlsFree[n-1]
		r.tlsFree = r.tlsFree[:n-1]
		return idx, nil
	}
	if uintptr(r.tlsNext) >= r.tlsWords() {
		return 0, fmt.Errorf("thread: TLS slots exhausted (%d words)", r.tlsWords())
	}
	idx := r.tlsNext
	r.tlsNext++
	return idx, nil
}

// FreeSlot clears and returns a slot to the free-list for reuse.
func (r *Record) FreeSlot(idx int) {
	r.WriteSlot(idx, 0)
	r.tlsFree = append(r.tlsFree, idx)
}

func (r *Record) ReadSlot(idx int) tagword.Word {
	return memregion.ReadWord(memregion.WordAt(r.tls.Base, idx))
}

func (r *Record) WriteSlot(idx int, w tagword.Word) {
	memregion.WriteWord(memregion.WordAt(r.tls.Base, idx), w)
}

// Roots implements internal/gc.RootSource for one thread: its live
// binding-stack prefix and its whole thread-local slot array (§4.3
// "root set" includes each thread's stacks and bindings). The control
// and alien stacks are raw OS-reserved machine-code ranges this
// Go-hosted core never itself pushes tagged words onto, so they
// contribute no root range here — a host that compiles real code onto
// them would extend Roots, not replace it.
func (r *Record) Roots() []gc.Root {
	start, words := r.Bindings.Range()
	return []gc.Root{
		{Name: fmt.Sprintf("thread %d binding stack", r.ID), Start: start, Words: words},
		{Name: fmt.Sprintf("thread %d TLS", r.ID), Start: r.tls.Base, Words: r.tlsWords()},
	}
}
