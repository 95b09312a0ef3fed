package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/antoniostano/tarpit/internal/config"
	"github.com/antoniostano/tarpit/internal/corpus"
	"github.com/antoniostano/tarpit/internal/markov"
)

// NewTrainCmd creates the train command.
func NewTrainCmd() *cobra.Command {
	var (
		batchSize     int
		progressEvery int
		requireData   bool
	)
	cmd := &cobra.Command{
		Use:   "train <corpus>...",
		Short: "Train the Markov model from one or more corpus files",
		Long: `Train reads each corpus line by line ("-" reads stdin) and adds its word
transitions to the configured store. Files ending in .gz, .zst or .br are
decompressed on the fly. Corpora are processed one after another, each as its
own training run.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if batchSize > 0 {
				cfg.TrainBatchSize = batchSize
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)

			store, err := markov.NewStore(cmd.Context(), cfg.DatabaseURL, cfg.SQLitePath)
			if err != nil {
				return fmt.Errorf("markov store init failed: %w", err)
			}
			defer store.Close()
			if markov.StoreMode(store) == "in-memory" {
				logger.Warn("no DATABASE_URL or SQLITE_PATH set; the trained model is discarded on exit")
			}

			dict := markov.NewDictionary(store)
			for _, path := range args {
				stats, err := trainOne(cmd.Context(), cfg, store, dict, path, progressEvery, logger)
				if err != nil {
					return err
				}
				if requireData {
					if err := markov.RequireTransitions(stats); err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: run %s lines=%d sequences=%d unique_words=%d skipped_tokens=%d skipped_lines=%d batches=%d\n",
					path, stats.RunID, stats.LinesProcessed, stats.SequencesProcessed, stats.UniqueWords, stats.SkippedTokens, stats.SkippedLines, stats.Batches)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Transitions per flush (overrides TRAIN_BATCH_SIZE)")
	cmd.Flags().IntVar(&progressEvery, "progress-every", 10000, "Log progress every N lines (0 disables)")
	cmd.Flags().BoolVar(&requireData, "require-data", false, "Fail when a corpus yields no transitions")
	return cmd
}

func trainOne(ctx context.Context, cfg config.Config, store markov.Store, dict *markov.Dictionary, path string, progressEvery int, logger *slog.Logger) (markov.Stats, error) {
	src, err := corpus.Open(path)
	if err != nil {
		return markov.Stats{}, err
	}
	defer src.Close()

	trainer := markov.NewTrainer(store, markov.TrainerConfig{
		BatchSize:        cfg.TrainBatchSize,
		MaxFlushAttempts: cfg.TrainMaxFlushAttempts,
		ProgressEvery:    progressEvery,
		Source:           src.Name(),
	}, markov.WithTrainerLogger(logger), markov.WithDictionary(dict))
	return trainer.Train(ctx, src.Lines())
}
