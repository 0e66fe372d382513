// Package diag is ambient observability: it is not named by any module
// in the specification this module implements, but the teacher's own
// tracing tooling (cmd_local/trace) records one instrumentation event
// per interesting runtime occurrence, and a copying collector has an
// obvious analog — one sample per collection. Recorder turns a stream of
// internal/gc.Stats into a pprof profile a host process can dump with
// `go tool pprof`; nothing in internal/gc depends on this package, so
// recording is purely additive.
package diag

import (
	"io"
	"sync"
	"time"

	"github.com/google/pprof/profile"

	"heapcore/internal/gc"
)

// sample value indices, matching the SampleType order Recorder declares.
const (
	valConsWords = iota
	valObjectWords
	valWeakKept
	valWeakBroken
	valPauseNanos
	valCount
)

var sampleTypes = []*profile.ValueType{
	{Type: "cons_words", Unit: "words"},
	{Type: "object_words", Unit: "words"},
	{Type: "weak_kept", Unit: "count"},
	{Type: "weak_broken", Unit: "count"},
	{Type: "pause", Unit: "nanoseconds"},
}

// Recorder accumulates one pprof Sample per collection. It is safe for
// concurrent use since the collector itself is stop-the-world but the
// diagnostics consumer (a host process dumping a profile) may run on a
// different goroutine while a collection is in flight.
type Recorder struct {
	mu       sync.Mutex
	samples  []*profile.Sample
	seq      int64
	started  time.Time
}

// NewRecorder returns an empty Recorder; started marks the profile's
// TimeNanos when Export is eventually called.
func NewRecorder() *Recorder {
	return &Recorder{started: walltime()}
}

// walltime exists so tests can exercise Record/Export without depending
// on the wall clock's actual value, only its monotonic ordering.
var walltime = time.Now

// Record appends one sample for a completed collection. pause is the
// wall-clock duration the stop-the-world pause lasted.
func (rec *Recorder) Record(stats gc.Stats, pause time.Duration) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.seq++
	values := make([]int64, valCount)
	values[valConsWords] = int64(stats.ConsWords)
	values[valObjectWords] = int64(stats.ObjectWords)
	values[valWeakKept] = int64(stats.WeakKept)
	values[valWeakBroken] = int64(stats.WeakBroken)
	values[valPauseNanos] = pause.Nanoseconds()
	rec.samples = append(rec.samples, &profile.Sample{
		Value:    values,
		NumLabel: map[string][]int64{"collection": {rec.seq}},
		NumUnit:  map[string][]string{"collection": {"index"}},
	})
}

// Count reports how many collections have been recorded so far.
func (rec *Recorder) Count() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.samples)
}

// Export assembles every recorded sample into a profile.Profile and
// writes it to w in pprof's gzip-compressed wire format. Export does not
// reset the Recorder; callers that want periodic snapshots should call
// it on their own schedule.
func (rec *Recorder) Export(w io.Writer) error {
	rec.mu.Lock()
	samples := append([]*profile.Sample(nil), rec.samples...)
	started := rec.started
	rec.mu.Unlock()

	p := &profile.Profile{
		SampleType: sampleTypes,
		Sample:     samples,
		TimeNanos:  started.UnixNano(),
	}
	return p.Write(w)
}
