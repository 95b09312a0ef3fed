package markov

import (
	"cmp"
	"context"
	"errors"
	"html"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/antoniostano/tarpit/internal/observability"
)

// UnavailableParagraph is served whenever nothing could be generated.
const UnavailableParagraph = "<p>Content generation unavailable.</p>"

const (
	outcomeOK        = "ok"
	outcomeTruncated = "truncated"
	outcomeEmpty     = "empty"
	outcomeError     = "error"
)

type GeneratorConfig struct {
	// TopK is the number of candidates considered per step.
	TopK int
	// MinWordsPerSentence and MaxWordsPerSentence bound the random per-call
	// multiplier used to derive the word budget.
	MinWordsPerSentence int
	MaxWordsPerSentence int
	// MaxIterations caps loop steps; 0 means eight times the word budget.
	MaxIterations int
	// Timeout bounds one call; partial output is returned when it fires.
	Timeout time.Duration
}

func (c GeneratorConfig) withDefaults() GeneratorConfig {
	if c.TopK <= 0 {
		c.TopK = 20
	}
	if c.MinWordsPerSentence <= 0 {
		c.MinWordsPerSentence = 15
	}
	if c.MaxWordsPerSentence < c.MinWordsPerSentence {
		c.MaxWordsPerSentence = c.MinWordsPerSentence + 15
	}
	if c.MaxIterations < 0 {
		c.MaxIterations = 0
	}
	if c.Timeout < 0 {
		c.Timeout = 0
	}
	return c
}

// Generator walks the transition table to produce HTML paragraphs.
type Generator struct {
	reader  TransitionReader
	cfg     GeneratorConfig
	logger  *slog.Logger
	metrics *observability.Metrics
}

type GeneratorOption func(*Generator)

func WithGeneratorLogger(logger *slog.Logger) GeneratorOption {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithGeneratorMetrics(m *observability.Metrics) GeneratorOption {
	return func(g *Generator) { g.metrics = m }
}

func NewGenerator(reader TransitionReader, cfg GeneratorConfig, opts ...GeneratorOption) *Generator {
	g := &Generator{
		reader: reader,
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate produces roughly sentences sentences of text using a freshly
// seeded source.
func (g *Generator) Generate(ctx context.Context, sentences int) string {
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	return g.GenerateWithRand(ctx, rng, sentences)
}

// GenerateWithRand is Generate with a caller supplied source. The same seed
// over the same table yields the same text.
func (g *Generator) GenerateWithRand(ctx context.Context, rng *rand.Rand, sentences int) string {
	started := time.Now()
	out, outcome := g.generate(ctx, rng, sentences)
	g.metrics.ObserveGeneration(outcome, time.Since(started))
	return out
}

func (g *Generator) generate(ctx context.Context, rng *rand.Rand, sentences int) (string, string) {
	if sentences <= 0 {
		sentences = 1
	}
	spread := g.cfg.MaxWordsPerSentence - g.cfg.MinWordsPerSentence + 1
	budget := sentences * (g.cfg.MinWordsPerSentence + rng.IntN(spread))
	maxIterations := g.cfg.MaxIterations
	if maxIterations == 0 {
		maxIterations = budget * 8
	}
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	var (
		paragraphs []string
		paragraph  []string
		wordCount  int
		state      = StartContext
		outcome    = outcomeOK
	)
	flush := func() {
		if len(paragraph) == 0 {
			return
		}
		text := strings.Join(paragraph, " ")
		if !endsSentence(paragraph[len(paragraph)-1]) {
			text += "."
		}
		paragraphs = append(paragraphs, "<p>"+text+"</p>")
		paragraph = paragraph[:0]
	}

	for iteration := 0; wordCount < budget; iteration++ {
		if iteration >= maxIterations {
			g.logger.Debug("generation hit iteration cap", "iterations", iteration, "words", wordCount, "budget", budget)
			outcome = outcomeTruncated
			break
		}
		if ctx.Err() != nil {
			outcome = outcomeTruncated
			break
		}

		candidates, err := g.reader.TopTransitions(ctx, state, g.cfg.TopK)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				outcome = outcomeTruncated
				break
			}
			g.logger.Warn("transition lookup failed", "error", err)
			return UnavailableParagraph, outcomeError
		}

		var next Candidate
		deadEnd := len(candidates) == 0
		if !deadEnd {
			next = pick(rng, candidates)
			deadEnd = next.NextID == SentinelID || next.Word == SentinelWord
		}
		if deadEnd {
			idle := state == StartContext && len(paragraph) == 0
			flush()
			state = StartContext
			if idle || wordCount*2 >= budget {
				break
			}
			continue
		}

		paragraph = append(paragraph, html.EscapeString(next.Word))
		wordCount++
		state = state.Shift(next.NextID)

		if endsSentence(next.Word) && len(paragraph) > 5 {
			flush()
			state = StartContext
		}
	}
	flush()

	if len(paragraphs) == 0 {
		return UnavailableParagraph, outcomeEmpty
	}
	return strings.Join(paragraphs, "\n"), outcome
}

// pick samples a candidate proportionally to its frequency. Candidates are
// ordered by (freq desc, id) first so a seeded source is reproducible no
// matter how the store broke ties.
func pick(rng *rand.Rand, candidates []Candidate) Candidate {
	slices.SortFunc(candidates, func(a, b Candidate) int {
		if c := cmp.Compare(b.Freq, a.Freq); c != 0 {
			return c
		}
		return cmp.Compare(a.NextID, b.NextID)
	})

	var total int64
	for _, c := range candidates {
		if c.Freq > 0 {
			total += c.Freq
		}
	}
	if total <= 0 {
		return candidates[rng.IntN(len(candidates))]
	}
	r := rng.Int64N(total)
	for _, c := range candidates {
		if c.Freq <= 0 {
			continue
		}
		if r < c.Freq {
			return c
		}
		r -= c.Freq
	}
	return candidates[len(candidates)-1]
}

func endsSentence(word string) bool {
	return strings.HasSuffix(word, ".") || strings.HasSuffix(word, "!") || strings.HasSuffix(word, "?")
}
