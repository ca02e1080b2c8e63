package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matchbook-labs/matchbook/internal/pipeline"
)

func duplicatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "duplicates",
		Short: "Find and review duplicate receipts",
		Long: `Scan receipts for duplicates (the same purchase captured twice) and
list the groups found. Without --scan, only previously recorded groups
are shown.`,
		RunE: runDuplicates,
	}

	cmd.Flags().Bool("scan", false, "Run duplicate detection before listing")
	cmd.Flags().Int("window", 90, "Scan window in days around today")

	return cmd
}

func runDuplicates(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	scan, _ := cmd.Flags().GetBool("scan")
	window, _ := cmd.Flags().GetInt("window")

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if scan {
		p := newProcessor(store, pipeline.Config{AutoMerge: false, Workers: 1})
		found, err := p.FindAllDuplicates(ctx, window)
		if err != nil {
			return fmt.Errorf("duplicate scan failed: %w", err)
		}
		slog.Info("Duplicate scan complete", "window_days", window, "groups", len(found))
	}

	groups, err := store.GetDuplicateGroups(ctx)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Println("No duplicate groups recorded.")
		return nil
	}

	for _, g := range groups {
		fmt.Printf("%s  original=%s  confidence=%.2f\n", g.ID, g.OriginalID, g.Confidence)
		fmt.Printf("  receipts: %s\n", strings.Join(g.ReceiptIDs, ", "))
		if len(g.Reasons) > 0 {
			fmt.Printf("  reasons:  %s\n", strings.Join(g.Reasons, "; "))
		}
	}
	return nil
}
