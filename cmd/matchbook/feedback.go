package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/matchbook-labs/matchbook/internal/learner"
)

func feedbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Correct or confirm a merchant recognition",
		Long: `Teach the engine from a recognition outcome.

Confirm a correct recognition:
  matchbook feedback --merchant "Walmart" --correct

Fix a wrong one (the misread name becomes an alias when it is close
enough, and the receipt text teaches header/footer patterns):
  matchbook feedback --merchant "Wallmart" --actual "Walmart" --text receipt.txt`,
		RunE: runFeedback,
	}

	cmd.Flags().String("merchant", "", "Merchant name the engine recognized")
	cmd.Flags().String("actual", "", "The merchant it should have been")
	cmd.Flags().Bool("correct", false, "The recognition was correct")
	cmd.Flags().String("text", "", "File with the receipt's raw text (or - for stdin)")
	_ = cmd.MarkFlagRequired("merchant")

	return cmd
}

func runFeedback(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	merchant, _ := cmd.Flags().GetString("merchant")
	actual, _ := cmd.Flags().GetString("actual")
	correct, _ := cmd.Flags().GetBool("correct")
	textPath, _ := cmd.Flags().GetString("text")

	if !correct && actual == "" {
		return fmt.Errorf("either --correct or --actual is required")
	}
	if correct {
		actual = merchant
	}

	text := ""
	if textPath != "" {
		var err error
		if text, err = readTextArg(textPath); err != nil {
			return err
		}
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	err = learner.New(store, store).ProcessFeedback(ctx, learner.Feedback{
		OriginalMerchant: merchant,
		CorrectMerchant:  actual,
		ReceiptText:      text,
		IsCorrect:        correct,
	})
	if err != nil {
		return err
	}

	if correct {
		slog.Info("Recognition confirmed", "merchant", merchant)
	} else {
		slog.Info("Correction learned", "recognized", merchant, "actual", actual)
	}
	return nil
}
