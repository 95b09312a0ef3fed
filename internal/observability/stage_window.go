package observability

import (
	"cmp"
	"math"
	"slices"
	"sync"
	"time"
)

// Stages reported by /v1/perf/latency. Page totals are split by transport
// because a websocket trickle holds a client far longer than one HTTP page.
const (
	StageFrequency  = "frequency_observe"
	StageGeneration = "markov_generate"
	StagePageTotal  = "page_total"
)

type StageStats struct {
	Stage       string  `json:"stage"`
	Transport   string  `json:"transport,omitempty"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	// OverTarget counts samples in the window slower than TargetP95MS.
	OverTarget int `json:"over_target,omitempty"`
}

// OutcomeShare is one generation outcome and its share of the window.
type OutcomeShare struct {
	Outcome string  `json:"outcome"`
	Count   int     `json:"count"`
	Share   float64 `json:"share"`
}

type StageSnapshot struct {
	GeneratedAt        time.Time      `json:"generated_at"`
	WindowSize         int            `json:"window_size"`
	Stages             []StageStats   `json:"stages"`
	GenerationOutcomes []OutcomeShare `json:"generation_outcomes,omitempty"`
	HopRejections      int            `json:"hop_rejections"`
}

type seriesKey struct {
	stage     string
	transport string
}

// latencyRing holds the newest samples of one series.
type latencyRing struct {
	values []float64
	next   int
	filled bool
	last   float64
}

func (r *latencyRing) add(ms float64) {
	r.values[r.next] = ms
	r.last = ms
	r.next++
	if r.next == len(r.values) {
		r.next = 0
		r.filled = true
	}
}

func (r *latencyRing) sorted() []float64 {
	n := r.next
	if r.filled {
		n = len(r.values)
	}
	out := slices.Clone(r.values[:n])
	slices.Sort(out)
	return out
}

// stageWindow keeps rolling latency series plus the last maxSamples
// generation outcomes, so the outcome mix tracks the same horizon as the
// generation latencies.
type stageWindow struct {
	mu            sync.RWMutex
	maxSamples    int
	series        map[seriesKey]*latencyRing
	outcomes      []string
	nextOutcome   int
	hopRejections int
}

func newStageWindow(maxSamples int) *stageWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &stageWindow{
		maxSamples: maxSamples,
		series:     make(map[seriesKey]*latencyRing),
	}
}

func (w *stageWindow) observe(stage, transport string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	key := seriesKey{stage: stage, transport: transport}
	w.mu.Lock()
	defer w.mu.Unlock()
	ring, ok := w.series[key]
	if !ok {
		ring = &latencyRing{values: make([]float64, w.maxSamples)}
		w.series[key] = ring
	}
	ring.add(ms)
}

func (w *stageWindow) observeOutcome(outcome string) {
	if outcome == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.outcomes) < w.maxSamples {
		w.outcomes = append(w.outcomes, outcome)
		return
	}
	w.outcomes[w.nextOutcome] = outcome
	w.nextOutcome = (w.nextOutcome + 1) % w.maxSamples
}

func (w *stageWindow) observeHopRejection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hopRejections++
}

func (w *stageWindow) snapshot() StageSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	stages := make([]StageStats, 0, len(w.series))
	for key, ring := range w.series {
		samples := ring.sorted()
		if len(samples) == 0 {
			continue
		}
		var sum float64
		for _, v := range samples {
			sum += v
		}
		target := stageTargetP95MS(key.stage)
		stages = append(stages, StageStats{
			Stage:       key.stage,
			Transport:   key.transport,
			Samples:     len(samples),
			LastMS:      round2(ring.last),
			AvgMS:       round2(sum / float64(len(samples))),
			P50MS:       round2(quantile(samples, 0.50)),
			P95MS:       round2(quantile(samples, 0.95)),
			P99MS:       round2(quantile(samples, 0.99)),
			TargetP95MS: target,
			OverTarget:  overTarget(samples, target),
		})
	}
	slices.SortFunc(stages, func(a, b StageStats) int {
		return cmp.Or(cmp.Compare(a.Stage, b.Stage), cmp.Compare(a.Transport, b.Transport))
	})

	return StageSnapshot{
		GeneratedAt:        time.Now().UTC(),
		WindowSize:         w.maxSamples,
		Stages:             stages,
		GenerationOutcomes: outcomeShares(w.outcomes),
		HopRejections:      w.hopRejections,
	}
}

func (w *stageWindow) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.series = make(map[seriesKey]*latencyRing)
	w.outcomes = nil
	w.nextOutcome = 0
	w.hopRejections = 0
}

func outcomeShares(outcomes []string) []OutcomeShare {
	if len(outcomes) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, o := range outcomes {
		counts[o]++
	}
	out := make([]OutcomeShare, 0, len(counts))
	for outcome, n := range counts {
		out = append(out, OutcomeShare{
			Outcome: outcome,
			Count:   n,
			Share:   round2(float64(n) / float64(len(outcomes))),
		})
	}
	slices.SortFunc(out, func(a, b OutcomeShare) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Outcome, b.Outcome))
	})
	return out
}

// overTarget counts sorted samples above target; 0 when the stage has none.
func overTarget(sorted []float64, target float64) int {
	if target <= 0 {
		return 0
	}
	i, found := slices.BinarySearch(sorted, target)
	for found && i < len(sorted) && sorted[i] == target {
		i++
	}
	return len(sorted) - i
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Page totals have no target: a slow page is the point of the tarpit.
func stageTargetP95MS(stage string) float64 {
	switch stage {
	case StageFrequency:
		return 25
	case StageGeneration:
		return 500
	default:
		return 0
	}
}
