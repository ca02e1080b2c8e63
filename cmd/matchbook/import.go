package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/matchbook-labs/matchbook/internal/model"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import receipts and transactions",
		Long:  `Import scanned receipts or bank transaction feeds from JSON files.`,
	}

	cmd.AddCommand(importReceiptsCmd())
	cmd.AddCommand(importTransactionsCmd())

	return cmd
}

// receiptFile is the on-disk shape of an exported receipt batch.
type receiptFile struct {
	ID            string            `json:"id"`
	Merchant      string            `json:"merchant"`
	Date          string            `json:"date"`
	Category      string            `json:"category"`
	PaymentMethod string            `json:"payment_method"`
	OCRText       string            `json:"ocr_text"`
	Tags          []string          `json:"tags"`
	Metadata      map[string]string `json:"metadata"`
	Amount        float64           `json:"amount"`
	Items         []struct {
		Description string  `json:"description"`
		Category    string  `json:"category"`
		Amount      float64 `json:"amount"`
		Quantity    int     `json:"quantity"`
	} `json:"items"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
}

type transactionFile struct {
	ID            string  `json:"id"`
	AccountID     string  `json:"account_id"`
	Date          string  `json:"date"`
	Description   string  `json:"description"`
	Merchant      string  `json:"merchant"`
	Category      string  `json:"category"`
	PaymentMethod string  `json:"payment_method"`
	Amount        float64 `json:"amount"`
}

func importReceiptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "receipts <file.json>",
		Short: "Import scanned receipts",
		Long:  `Import a JSON array of receipts produced by the OCR scanner.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			var entries []receiptFile
			if err := readJSONFile(args[0], &entries); err != nil {
				return err
			}

			imported := 0
			for i := range entries {
				receipt, err := entries[i].toModel()
				if err != nil {
					return fmt.Errorf("receipt %d: %w", i, err)
				}
				if err := store.SaveReceipt(ctx, receipt); err != nil {
					return fmt.Errorf("failed to save receipt %s: %w", receipt.ID, err)
				}
				imported++
			}

			slog.Info("Receipts imported", "count", imported, "file", args[0])
			return nil
		},
	}
}

func importTransactionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transactions <file.json>",
		Short: "Import bank transactions",
		Long: `Import a JSON array of ledger entries from a bank feed export.
Entries already imported are skipped by content hash, so re-running an
import is safe.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			var entries []transactionFile
			if err := readJSONFile(args[0], &entries); err != nil {
				return err
			}

			batch := make([]model.Transaction, 0, len(entries))
			for i := range entries {
				txn, err := entries[i].toModel()
				if err != nil {
					return fmt.Errorf("transaction %d: %w", i, err)
				}
				batch = append(batch, *txn)
			}

			if err := store.SaveTransactions(ctx, batch); err != nil {
				return fmt.Errorf("failed to save transactions: %w", err)
			}

			slog.Info("Transactions imported", "count", len(batch), "file", args[0])
			return nil
		},
	}
}

func (r *receiptFile) toModel() (*model.Receipt, error) {
	date, err := parseDate(r.Date)
	if err != nil {
		return nil, err
	}

	receipt := &model.Receipt{
		ID:            r.ID,
		MerchantName:  r.Merchant,
		Amount:        r.Amount,
		Date:          date,
		Category:      r.Category,
		PaymentMethod: r.PaymentMethod,
		OCRText:       r.OCRText,
		Tags:          r.Tags,
		Metadata:      r.Metadata,
		Status:        model.StatusPending,
	}
	if receipt.ID == "" {
		receipt.ID = uuid.NewString()
	}
	if r.Location != nil {
		receipt.Location = &model.GeoPoint{Latitude: r.Location.Latitude, Longitude: r.Location.Longitude}
	}
	for _, item := range r.Items {
		receipt.Items = append(receipt.Items, model.LineItem{
			Description: item.Description,
			Category:    item.Category,
			Amount:      item.Amount,
			Quantity:    item.Quantity,
		})
	}
	return receipt, nil
}

func (t *transactionFile) toModel() (*model.Transaction, error) {
	date, err := parseDate(t.Date)
	if err != nil {
		return nil, err
	}

	txn := &model.Transaction{
		ID:            t.ID,
		AccountID:     t.AccountID,
		Date:          date,
		Amount:        t.Amount,
		Description:   t.Description,
		MerchantName:  t.Merchant,
		Category:      t.Category,
		PaymentMethod: t.PaymentMethod,
	}
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	txn.Hash = txn.GenerateHash()
	return txn, nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path) // #nosec G304 -- user-supplied import path
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// parseDate accepts both date-only and RFC 3339 timestamps.
func parseDate(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD or RFC 3339)", value)
}
