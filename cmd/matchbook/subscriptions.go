package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/matchbook-labs/matchbook/internal/pipeline"
)

func subscriptionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscriptions [merchant]",
		Short: "List detected subscription charges",
		Long: `List recurring charge patterns detected in receipt history, optionally
filtered to one merchant. With --refresh, detection is re-run over every
merchant with a profile first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSubscriptions,
	}

	cmd.Flags().Bool("refresh", false, "Re-run subscription detection before listing")

	return cmd
}

func runSubscriptions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	refresh, _ := cmd.Flags().GetBool("refresh")

	merchant := ""
	if len(args) == 1 {
		merchant = args[0]
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if refresh {
		p := newProcessor(store, pipeline.Config{Workers: 1})
		saved, err := p.RefreshSubscriptions(ctx)
		if err != nil {
			return fmt.Errorf("subscription refresh failed: %w", err)
		}
		slog.Info("Subscription detection refreshed", "patterns", saved)
	}

	patterns, err := store.GetSubscriptionPatterns(ctx, merchant)
	if err != nil {
		return err
	}
	if len(patterns) == 0 {
		fmt.Println("No subscription patterns detected.")
		return nil
	}

	for _, p := range patterns {
		fmt.Printf("%-24s %8.2f  %-8s %-10s confidence=%.2f seen=%d last=%s\n",
			p.MerchantName, p.Amount, p.Frequency, p.State,
			p.Confidence, p.Occurrences, p.LastSeen.Format("2006-01-02"))
	}
	return nil
}
