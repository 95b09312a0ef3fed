package observability

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.observe(StageGeneration, "", 500)
	w.observe(StageGeneration, "", 700)
	w.observe(StageGeneration, "", 900)
	w.observeHopRejection()
	w.observeHopRejection()

	snap := w.snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageGeneration {
		t.Fatalf("Stage = %q, want %q", s.Stage, StageGeneration)
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 500 {
		t.Fatalf("TargetP95MS = %.2f, want 500", s.TargetP95MS)
	}
	if s.OverTarget != 2 {
		t.Fatalf("OverTarget = %d, want 2 (500 sits on the target)", s.OverTarget)
	}
	if snap.HopRejections != 2 {
		t.Fatalf("HopRejections = %d, want 2", snap.HopRejections)
	}
}

func TestStageWindowSplitsPagesByTransport(t *testing.T) {
	w := newStageWindow(8)
	w.observe(StagePageTotal, "ws", 60000)
	w.observe(StagePageTotal, "http", 4000)
	w.observe(StagePageTotal, "http", 6000)

	stages := w.snapshot().Stages
	if len(stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(stages))
	}
	if stages[0].Transport != "http" || stages[0].Samples != 2 || stages[0].AvgMS != 5000 {
		t.Fatalf("http page stats = %+v", stages[0])
	}
	if stages[1].Transport != "ws" || stages[1].LastMS != 60000 {
		t.Fatalf("ws page stats = %+v", stages[1])
	}
	if stages[0].TargetP95MS != 0 || stages[0].OverTarget != 0 {
		t.Fatalf("page stages should carry no target: %+v", stages[0])
	}
}

func TestStageWindowOutcomeShares(t *testing.T) {
	w := newStageWindow(4)
	for _, o := range []string{"error", "ok", "ok", "ok", "truncated"} {
		w.observeOutcome(o)
	}

	// The window holds the last four: ok, ok, ok, truncated.
	got := w.snapshot().GenerationOutcomes
	if len(got) != 2 {
		t.Fatalf("GenerationOutcomes = %+v, want two entries", got)
	}
	if got[0].Outcome != "ok" || got[0].Count != 3 || got[0].Share != 0.75 {
		t.Fatalf("first outcome = %+v, want ok x3 share 0.75", got[0])
	}
	if got[1].Outcome != "truncated" || got[1].Count != 1 || got[1].Share != 0.25 {
		t.Fatalf("second outcome = %+v, want truncated x1 share 0.25", got[1])
	}
}

func TestStageWindowWrapsAround(t *testing.T) {
	w := newStageWindow(2)
	w.observe(StageFrequency, "", 1)
	w.observe(StageFrequency, "", 2)
	w.observe(StageFrequency, "", 3)

	s := w.snapshot().Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 2.5 {
		t.Fatalf("AvgMS = %.2f, want 2.5", s.AvgMS)
	}

	w.observeOutcome("ok")
	w.observeHopRejection()
	w.reset()
	snap := w.snapshot()
	if len(snap.Stages) != 0 || len(snap.GenerationOutcomes) != 0 || snap.HopRejections != 0 {
		t.Fatalf("snapshot after reset = %+v, want empty", snap)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveFrequency(errors.New("boom"), time.Millisecond)
	m.ObserveHopRejection()
	m.ObservePage("http", time.Millisecond)
	m.ObserveGeneration("ok", time.Millisecond)
	m.ObserveTrainingLines(3)
	m.ObserveTrainingBatch("committed", 3)
	m.StreamStarted()
	m.StreamFinished()
	if got := len(m.StageSnapshot().Stages); got != 0 {
		t.Fatalf("len(Stages) = %d, want 0", got)
	}
}

func TestMetricsRecordStages(t *testing.T) {
	m := NewMetrics(fmt.Sprintf("tarpit_test_observability_%d", time.Now().UnixNano()))
	m.ObserveFrequency(nil, 3*time.Millisecond)
	m.ObserveGeneration("empty", 10*time.Millisecond)
	m.ObservePage("ws", time.Second)
	m.ObserveHopRejection()

	snap := m.StageSnapshot()
	if len(snap.Stages) != 3 {
		t.Fatalf("len(Stages) = %d, want 3", len(snap.Stages))
	}
	if len(snap.GenerationOutcomes) != 1 || snap.GenerationOutcomes[0].Outcome != "empty" {
		t.Fatalf("GenerationOutcomes = %+v, want empty", snap.GenerationOutcomes)
	}
	if snap.HopRejections != 1 {
		t.Fatalf("HopRejections = %d, want 1", snap.HopRejections)
	}
}
