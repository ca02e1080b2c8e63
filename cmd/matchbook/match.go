package main

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/matchbook-labs/matchbook/internal/pipeline"
)

func matchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match pending receipts to transactions",
		Long: `Run the matching pipeline over every pending receipt: detect and
merge duplicates, score candidate transactions and link the best match,
and fold each receipt into its merchant's learned profile.

A receipt that fails to process is logged and skipped; the batch always
runs to completion.`,
		RunE: runMatch,
	}

	cmd.Flags().IntP("workers", "w", 4, "Number of receipts processed in parallel")
	cmd.Flags().Bool("no-merge", false, "Detect duplicates but do not merge them")
	cmd.Flags().Duration("item-timeout", 30*time.Second, "Per-receipt processing deadline")
	cmd.Flags().Bool("no-progress", false, "Disable the progress bar")

	_ = viper.BindPFlag("matching.workers", cmd.Flags().Lookup("workers"))

	return cmd
}

func runMatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	noMerge, _ := cmd.Flags().GetBool("no-merge")
	noProgress, _ := cmd.Flags().GetBool("no-progress")
	itemTimeout, _ := cmd.Flags().GetDuration("item-timeout")

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	cfg := pipeline.Config{
		ItemTimeout:  itemTimeout,
		Workers:      viper.GetInt("matching.workers"),
		AutoMerge:    !noMerge,
		ShowProgress: !noProgress,
	}

	stats, err := newProcessor(store, cfg).ProcessPending(ctx)
	if err != nil {
		return err
	}

	slog.Info("Batch complete",
		"processed", stats.Processed,
		"matched", stats.Matched,
		"unmatched", stats.Unmatched,
		"duplicates", stats.Duplicates,
		"failed", stats.Failed,
		"duration", stats.Duration.Round(time.Millisecond))
	return nil
}
