package thread_test

import (
	"testing"
	"time"

	"heapcore/internal/tagword"
	"heapcore/internal/thread"
)

func testConfig() thread.Config {
	return thread.Config{
		ControlStackBytes: 4096,
		BindingStackBytes: 4096,
		AlienStackBytes:   4096,
		TLSBytes:          256,
	}
}

func newTestRegistry(t *testing.T) *thread.Registry {
	t.Helper()
	var losses []string
	reg := thread.NewRegistry(func(reason string) { losses = append(losses, reason) })
	t.Cleanup(func() {
		if len(losses) > 0 {
			t.Fatalf("unexpected thread loss: %v", losses)
		}
	})
	return reg
}

func TestCreateReservesFourRangesAndZeroedTLS(t *testing.T) {
	reg := newTestRegistry(t)
	rec, err := reg.Create(testConfig(), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer reg.Destroy(rec)

	idx, err := rec.AllocSlot()
	if err != nil {
		t.Fatalf("AllocSlot: %v", err)
	}
	if got := rec.ReadSlot(idx); got != 0 {
		t.Fatalf("fresh TLS slot = %v, want 0", got)
	}
}

func TestNonInitialThreadInheritsParentTLS(t *testing.T) {
	reg := newTestRegistry(t)
	parent, err := reg.Create(testConfig(), nil)
	if err != nil {
		t.Fatalf("Create parent: %v", err)
	}
	defer reg.Destroy(parent)
	reg.InitialThread(parent)

	idx, err := parent.AllocSlot()
	if err != nil {
		t.Fatalf("AllocSlot: %v", err)
	}
	parent.WriteSlot(idx, tagword.FixnumEncode(42))

	child, err := reg.Create(testConfig(), parent)
	if err != nil {
		t.Fatalf("Create child: %v", err)
	}
	defer reg.Destroy(child)

	if got := tagword.FixnumDecode(child.ReadSlot(idx)); got != 42 {
		t.Fatalf("child TLS slot %d = %d, want 42 (inherited from parent)", idx, got)
	}
}

func TestRegistryLinkAndDestroy(t *testing.T) {
	reg := newTestRegistry(t)
	rec, err := reg.Create(testConfig(), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	reg.InitialThread(rec)

	var seen []uint64
	reg.Each(rec.ID, func(r *thread.Record) { seen = append(seen, r.ID) })
	if len(seen) != 1 || seen[0] != rec.ID {
		t.Fatalf("Each saw %v, want [%d]", seen, rec.ID)
	}

	if err := reg.Destroy(rec); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	seen = nil
	reg.Each(1, func(r *thread.Record) { seen = append(seen, r.ID) })
	if len(seen) != 0 {
		t.Fatalf("registry still lists a destroyed record: %v", seen)
	}
}

func TestNonInitialThreadRunsCallableOnItsOwnGoroutine(t *testing.T) {
	reg := newTestRegistry(t)
	initial, err := reg.Create(testConfig(), nil)
	if err != nil {
		t.Fatalf("Create initial: %v", err)
	}
	reg.InitialThread(initial)
	defer reg.Destroy(initial)

	child, err := reg.Create(testConfig(), initial)
	if err != nil {
		t.Fatalf("Create child: %v", err)
	}
	defer reg.Destroy(child)

	done := make(chan struct{})
	reg.NonInitialThread(child, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("callable never ran")
	}
	if child.State() != thread.StateRunning {
		t.Fatalf("child state = %v, want running", child.State())
	}
}

func TestStopTheWorldStopsRunningPeersAndResumeAllReleasesThem(t *testing.T) {
	reg := newTestRegistry(t)
	initiator, err := reg.Create(testConfig(), nil)
	if err != nil {
		t.Fatalf("Create initiator: %v", err)
	}
	reg.InitialThread(initiator)
	defer reg.Destroy(initiator)

	peer, err := reg.Create(testConfig(), initiator)
	if err != nil {
		t.Fatalf("Create peer: %v", err)
	}
	defer reg.Destroy(peer)

	checking := make(chan struct{})
	quit := make(chan struct{})
	reg.NonInitialThread(peer, func() {
		close(checking)
		for {
			select {
			case <-quit:
				return
			default:
			}
			// CheckStopRequest blocks here, inside
			// stopAndWaitForResume, for as long as the peer is
			// actually stopped — it does not return until ResumeAll
			// releases it.
			peer.CheckStopRequest()
			time.Sleep(time.Millisecond)
		}
	})

	select {
	case <-checking:
	case <-time.After(2 * time.Second):
		t.Fatalf("peer goroutine never started")
	}

	// StopTheWorld's own poll loop only returns once every peer has
	// reported stopped, so the state is already visible by the time it
	// returns — no extra synchronization is needed here.
	reg.StopTheWorld(initiator.ID)
	if peer.State() != thread.StateStopped {
		t.Fatalf("peer state = %v, want stopped", peer.State())
	}

	reg.ResumeAll(initiator.ID)

	deadline := time.Now().Add(2 * time.Second)
	for peer.State() != thread.StateRunning {
		if time.Now().After(deadline) {
			t.Fatalf("peer never resumed")
		}
		time.Sleep(time.Millisecond)
	}
	close(quit)
}
