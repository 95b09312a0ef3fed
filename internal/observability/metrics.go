package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	FrequencyObservations *prometheus.CounterVec
	HopRejections         prometheus.Counter
	PagesServed           *prometheus.CounterVec
	ActiveStreams         prometheus.Gauge
	GenerationOutcomes    *prometheus.CounterVec
	GenerationLatency     prometheus.Histogram
	TrainingLines         prometheus.Counter
	TrainingSequences     prometheus.Counter
	TrainingBatches       *prometheus.CounterVec

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		FrequencyObservations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frequency_observations_total",
			Help:      "Sliding window observations by outcome.",
		}, []string{"outcome"}),
		HopRejections: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hop_limit_rejections_total",
			Help:      "Requests refused because the client exceeded the hop limit.",
		}),
		PagesServed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_served_total",
			Help:      "Tarpit pages served by transport.",
		}, []string{"transport"}),
		ActiveStreams: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Number of tarpit responses currently trickling.",
		}),
		GenerationOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_outcomes_total",
			Help:      "Markov generation calls by outcome.",
		}, []string{"outcome"}),
		GenerationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_ms",
			Help:      "Markov generation latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2000},
		}),
		TrainingLines: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_lines_total",
			Help:      "Corpus lines consumed by the trainer.",
		}),
		TrainingSequences: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_sequences_total",
			Help:      "Transitions committed by the trainer.",
		}),
		TrainingBatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_batches_total",
			Help:      "Transition batch flushes by outcome.",
		}, []string{"outcome"}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) ObserveFrequency(err error, d time.Duration) {
	if m == nil {
		return
	}
	if err != nil {
		m.FrequencyObservations.WithLabelValues("error").Inc()
		return
	}
	m.FrequencyObservations.WithLabelValues("ok").Inc()
	m.stages.observe(StageFrequency, "", durationMS(d))
}

func (m *Metrics) ObserveHopRejection() {
	if m == nil {
		return
	}
	m.HopRejections.Inc()
	m.stages.observeHopRejection()
}

func (m *Metrics) ObservePage(transport string, d time.Duration) {
	if m == nil {
		return
	}
	m.PagesServed.WithLabelValues(transport).Inc()
	m.stages.observe(StagePageTotal, transport, durationMS(d))
}

func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

func (m *Metrics) StreamFinished() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}

func (m *Metrics) ObserveGeneration(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.GenerationOutcomes.WithLabelValues(outcome).Inc()
	m.GenerationLatency.Observe(durationMS(d))
	m.stages.observe(StageGeneration, "", durationMS(d))
	m.stages.observeOutcome(outcome)
}

func (m *Metrics) ObserveTrainingLines(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.TrainingLines.Add(float64(n))
}

func (m *Metrics) ObserveTrainingBatch(outcome string, sequences int) {
	if m == nil {
		return
	}
	m.TrainingBatches.WithLabelValues(outcome).Inc()
	if sequences > 0 {
		m.TrainingSequences.Add(float64(sequences))
	}
}

// StageSnapshot reports rolling latency percentiles for the perf endpoint.
func (m *Metrics) StageSnapshot() StageSnapshot {
	if m == nil {
		return newStageWindow(0).snapshot()
	}
	return m.stages.snapshot()
}

func (m *Metrics) ResetStages() {
	if m == nil {
		return
	}
	m.stages.reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
