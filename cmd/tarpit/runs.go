package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/antoniostano/tarpit/internal/markov"
)

// NewRunsCmd creates the runs command.
func NewRunsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent training runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := markov.NewStore(cmd.Context(), cfg.DatabaseURL, cfg.SQLitePath)
			if err != nil {
				return fmt.Errorf("markov store init failed: %w", err)
			}
			defer store.Close()

			recorder, ok := store.(markov.RunRecorder)
			if !ok {
				return errors.New("markov store does not keep a run ledger")
			}
			runs, err := recorder.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSOURCE\tSTATUS\tLINES\tSEQUENCES\tWORDS\tSTARTED\tDURATION")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
					r.ID, r.Source, r.Status, r.LinesProcessed, r.SequencesProcessed, r.UniqueWords,
					r.StartedAt.Format(time.RFC3339), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of runs to show")
	return cmd
}
