package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matchbook-labs/matchbook/internal/learner"
	"github.com/matchbook-labs/matchbook/internal/model"
)

func merchantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merchants",
		Short: "Inspect learned merchant profiles",
		Long:  `View the merchant knowledge accumulated from processed receipts and corrections.`,
	}

	cmd.AddCommand(merchantsListCmd())
	cmd.AddCommand(merchantsShowCmd())
	cmd.AddCommand(merchantsSuggestCmd())

	return cmd
}

func merchantsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all merchant profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			profiles, err := store.GetAllMerchantProfiles(ctx)
			if err != nil {
				return err
			}
			if len(profiles) == 0 {
				fmt.Println("No merchant profiles yet.")
				return nil
			}

			fmt.Printf("%-28s %5s %10s %10s %6s\n", "MERCHANT", "SEEN", "AVG", "CONF", "RECOG")
			for _, p := range profiles {
				fmt.Printf("%-28s %5d %10.2f %10.2f %6.2f\n",
					p.Name, p.TransactionCount, p.AverageAmount, p.Confidence, p.RecognitionRate)
			}
			return nil
		},
	}
}

func merchantsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <merchant>",
		Short: "Show one merchant profile in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			profile, err := store.GetMerchantProfile(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Merchant:          %s\n", profile.Name)
			if profile.Category != "" {
				fmt.Printf("Category:          %s\n", profile.Category)
			}
			if len(profile.Aliases) > 0 {
				fmt.Printf("Aliases:           %s\n", strings.Join(profile.Aliases, ", "))
			}
			fmt.Printf("Receipts seen:     %d\n", profile.TransactionCount)
			fmt.Printf("Average amount:    %.2f\n", profile.AverageAmount)
			fmt.Printf("Confidence:        %.2f\n", profile.Confidence)
			fmt.Printf("Recognition rate:  %.2f\n", profile.RecognitionRate)
			if profile.Subscription.State != "" && profile.Subscription.State != model.SubscriptionNone {
				fmt.Printf("Subscription:      %s (%s, avg %.2f)\n",
					profile.Subscription.State, profile.Subscription.Frequency,
					profile.Subscription.AverageAmount)
			}
			for _, item := range profile.ItemPatterns {
				fmt.Printf("  item %-32s -> %-16s x%d (%.2f)\n",
					item.Description, item.Category, item.MatchCount, item.Confidence)
			}
			return nil
		},
	}
}

func merchantsSuggestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "suggest <text-file>",
		Short: "Suggest merchants for raw receipt text",
		Long: `Read raw OCR text from a file (or - for stdin) and rank known
merchants by how well the text matches their learned names, aliases and
header/footer patterns.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			text, err := readTextArg(args[0])
			if err != nil {
				return err
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			suggestions, err := learner.New(store, store).SuggestMerchants(ctx, text)
			if err != nil {
				return err
			}
			if len(suggestions) == 0 {
				fmt.Println("No merchant suggestions for this text.")
				return nil
			}

			for _, s := range suggestions {
				fmt.Printf("%-28s %.2f\n", s.Merchant, s.Confidence)
			}
			return nil
		},
	}
}

func readTextArg(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(path) // #nosec G304 -- user-supplied text path
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}
