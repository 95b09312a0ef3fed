package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"

	"github.com/antoniostano/tarpit/internal/markov"
	"github.com/antoniostano/tarpit/internal/page"
)

// NewGenerateCmd creates the generate command.
func NewGenerateCmd() *cobra.Command {
	var (
		sentences int
		fullPage  bool
		seed      string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print generated text or a full tarpit page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			if sentences <= 0 {
				sentences = cfg.SentencesPerPage
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			store, err := markov.NewStore(ctx, cfg.DatabaseURL, cfg.SQLitePath)
			if err != nil {
				return fmt.Errorf("markov store init failed: %w", err)
			}
			defer store.Close()

			gen := newGenerator(cfg, store, nil, logger)
			rng := seededRand(seed)

			if !fullPage {
				fmt.Fprintln(cmd.OutOrStdout(), gen.GenerateWithRand(ctx, rng, sentences))
				return nil
			}
			out, err := page.NewAssembler(gen, page.Config{
				Sentences: sentences,
				LinkCount: cfg.FakeLinkCount,
				LinkDepth: cfg.FakeLinkDepth,
			}).Assemble(ctx, rng)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().IntVarP(&sentences, "sentences", "n", 0, "Sentence count (defaults to DEFAULT_SENTENCES_PER_PAGE)")
	cmd.Flags().BoolVar(&fullPage, "page", false, "Render a complete HTML page with fabricated links")
	cmd.Flags().StringVar(&seed, "seed", "", "Seed for reproducible output")
	return cmd
}

func seededRand(seed string) *rand.Rand {
	if seed == "" {
		return rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	return rand.New(rand.NewChaCha8(sha256.Sum256([]byte(seed))))
}
