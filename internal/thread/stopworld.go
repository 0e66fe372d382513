package thread

import (
	"runtime"

	"golang.org/x/sys/unix"

	"heapcore/internal/signal"
)

// StopTheWorld implements §4.7's protocol: repeatedly request every
// running peer to stop, release the list lock so peers can make
// progress toward observing the request, then recheck until every peer
// reports stopped and the peer set has not grown since the loop began.
// initiatorID identifies the calling (collecting) thread and is never
// asked to stop itself.
func (reg *Registry) StopTheWorld(initiatorID uint64) {
	for {
		reg.lock.Lock(initiatorID)
		before := 0
		for cur := reg.head; cur != nil; cur = cur.next {
			before++
			if cur.ID == initiatorID {
				continue
			}
			if cur.state.cas(StateRunning, StateStopping) {
				cur.requestStop()
			}
		}
		reg.lock.Unlock(initiatorID)

		runtime.Gosched()

		reg.lock.Lock(initiatorID)
		after := 0
		settled := true
		for cur := reg.head; cur != nil; cur = cur.next {
			after++
			if cur.ID != initiatorID && cur.state.load() != StateStopped {
				settled = false
			}
		}
		done := settled && after == before
		reg.lock.Unlock(initiatorID)
		if done {
			return
		}
	}
}

// ResumeAll sends every currently-stopped peer the OS-continue analog
// (§4.7 "the collector sends a resume to each peer and transitions
// them back to running"), completing the collector's side of
// stop-the-world. It does not block waiting for peers to actually
// observe it; CheckStopRequest's caller is expected to loop back into
// its own mutator work once resumed.
func (reg *Registry) ResumeAll(initiatorID uint64) {
	reg.Each(initiatorID, func(r *Record) {
		if r.ID == initiatorID || r.state.load() != StateStopped {
			return
		}
		select {
		case r.resumeCh <- struct{}{}:
		default:
		}
	})
}

// requestStop is the "send the GC-stop signal" step of §4.7. A peer in
// this module is a goroutine, not a kernel thread, so the signal is a
// buffered channel send; the peer's own CheckStopRequest call is what
// plays the role of the source's installed GC-stop handler.
func (r *Record) requestStop() {
	select {
	case r.stopReq <- struct{}{}:
	default:
	}
}

// CheckStopRequest is a suspension point (§5 "a mutator may suspend
// only at signal delivery points when not in a pseudo-atomic region"):
// a mutator calls this between operations to honor a pending
// stop-the-world request. If the thread is currently pseudo-atomic,
// the request is routed through InterruptData's ordinary deferral path
// instead of acted on immediately, exactly as §4.7 specifies for any
// other blockable signal arriving mid-region.
func (r *Record) CheckStopRequest() {
	select {
	case <-r.stopReq:
	default:
		return
	}
	r.Interrupts.Deliver(func(*signal.Context) {
		r.stopAndWaitForResume()
	}, signal.GCStopSignal, nil, unix.Sigset_t{}, nil)
}

func (r *Record) stopAndWaitForResume() {
	r.state.store(StateStopped)
	<-r.resumeCh
	r.state.store(StateRunning)
}
