package thread

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"heapcore/internal/dispatch"
)

// atomicState is a lock-free State cell; State itself stays a plain
// int32-based type so callers compare it with ordinary constants.
type atomicState struct{ v atomic.Int32 }

func (a *atomicState) load() State        { return State(a.v.Load()) }
func (a *atomicState) store(s State)      { a.v.Store(int32(s)) }
func (a *atomicState) cas(old, want State) bool {
	return a.v.CompareAndSwap(int32(old), int32(want))
}

// spinlock is a test-and-set lock whose held value is the holder's
// thread id (§4.9 "the spinlock's stored value is the holder's thread
// id, so a diagnostic can identify deadlocks"). Busy-wait is the point:
// §4.9 specifies test-and-set with a spin, not a parking mutex.
type spinlock struct{ holder atomic.Uint64 }

// noHolder is the unlocked sentinel; thread ids are assigned starting
// at 1 so 0 is never a valid holder.
const noHolder = 0

func (s *spinlock) Lock(id uint64) {
	for !s.holder.CompareAndSwap(noHolder, id) {
		runtime.Gosched()
	}
}

func (s *spinlock) Unlock(id uint64) error {
	if !s.holder.CompareAndSwap(id, noHolder) {
		return fmt.Errorf("thread: spinlock unlocked by non-holder (holder=%d, caller=%d)", s.holder.Load(), id)
	}
	return nil
}

// Holder reports the id of the thread currently holding the lock, or
// noHolder if it is free — exactly the deadlock-diagnosis value §4.9
// calls for.
func (s *spinlock) Holder() uint64 { return s.holder.Load() }

// Registry is the process-wide thread list: one spinlock-protected
// singly-linked list of Records (§4.9).
type Registry struct {
	lock   spinlock
	head   *Record
	nextID atomic.Uint64

	lose dispatch.Lose
}

// NewRegistry returns an empty registry. Thread ids it assigns start at
// 1, matching the spinlock's noHolder=0 sentinel.
func NewRegistry(lose dispatch.Lose) *Registry {
	r := &Registry{lose: lose}
	r.nextID.Store(1)
	return r
}

// Create allocates a new thread record with the next registry-assigned
// id, but does not publish it; call InitialThread or NonInitialThread
// to link it.
func (reg *Registry) Create(cfg Config, parent *Record) (*Record, error) {
	id := reg.nextID.Add(1) - 1
	return Create(id, cfg, parent, reg.lose)
}

func (reg *Registry) link(lockerID uint64, rec *Record) {
	reg.lock.Lock(lockerID)
	rec.next = reg.head
	reg.head = rec
	reg.lock.Unlock(lockerID)
}

// InitialThread links rec as the registry's first member, transitions
// it to running, and returns: the caller runs the loaded image's
// initial callable directly on the calling goroutine (§4.9 "run
// trampoline directly with the loaded image's initial callable").
func (reg *Registry) InitialThread(rec *Record) {
	reg.link(rec.ID, rec)
	rec.state.store(StateRunning)
}

// NonInitialThread starts callable on a new goroutine (§4.9
// "non-initial thread"). A goroutine shares this process's address
// space and file descriptors by construction, standing in for the
// source's "clone with shared address space"; the new goroutine links
// its own record before transitioning to running and invoking
// callable, preserving the source's ordering ("child spins on its id
// field until linked, then transitions to running") without needing an
// actual spin, since the `go` statement already establishes the
// happens-before a real spin loop exists to create by hand.
func (reg *Registry) NonInitialThread(rec *Record, callable func()) {
	go func() {
		reg.link(rec.ID, rec)
		rec.state.store(StateRunning)
		callable()
	}()
}

// Destroy unlinks rec under the spinlock and releases its four ranges
// (§4.9 "Destroy").
func (reg *Registry) Destroy(rec *Record) error {
	reg.lock.Lock(rec.ID)
	if reg.head == rec {
		reg.head = rec.next
	} else {
		for cur := reg.head; cur != nil; cur = cur.next {
			if cur.next == rec {
				cur.next = rec.next
				break
			}
		}
	}
	reg.lock.Unlock(rec.ID)
	return rec.release()
}

// Each calls f for every currently linked record, under the spinlock —
// the same lock StopTheWorld and Destroy take, so f must not itself
// call back into the registry.
func (reg *Registry) Each(callerID uint64, f func(*Record)) {
	reg.lock.Lock(callerID)
	for cur := reg.head; cur != nil; cur = cur.next {
		f(cur)
	}
	reg.lock.Unlock(callerID)
}

