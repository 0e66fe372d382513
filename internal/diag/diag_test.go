package diag_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/pprof/profile"

	"heapcore/internal/diag"
	"heapcore/internal/gc"
)

func TestRecordAccumulatesOneSamplePerCollection(t *testing.T) {
	rec := diag.NewRecorder()
	rec.Record(gc.Stats{ConsWords: 10, ObjectWords: 20, WeakKept: 1}, 5*time.Millisecond)
	rec.Record(gc.Stats{ConsWords: 30, ObjectWords: 40, WeakBroken: 2}, 7*time.Millisecond)

	if got := rec.Count(); got != 2 {
		t.Fatalf("Count() = %d, want 2", got)
	}
}

func TestExportProducesAParseableProfile(t *testing.T) {
	rec := diag.NewRecorder()
	rec.Record(gc.Stats{ConsWords: 10, ObjectWords: 20}, time.Millisecond)

	var buf bytes.Buffer
	if err := rec.Export(&buf); err != nil {
		t.Fatalf("Export: %v", err)
	}

	p, err := profile.Parse(&buf)
	if err != nil {
		t.Fatalf("profile.Parse: %v", err)
	}
	if len(p.Sample) != 1 {
		t.Fatalf("parsed profile has %d samples, want 1", len(p.Sample))
	}
	if len(p.SampleType) == 0 {
		t.Fatalf("parsed profile lost its sample types")
	}
}
