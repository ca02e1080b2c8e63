package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/matchbook-labs/matchbook/internal/common"
	"github.com/matchbook-labs/matchbook/internal/model"
)

const transactionColumns = `id, hash, account_id, date, amount, description,
	merchant_name, category, payment_method, latitude, longitude`

// SaveTransactions imports a batch of ledger entries inside one transaction.
// Entries whose hash already exists are skipped, making re-imports idempotent.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransactions(transactions); err != nil {
		return err
	}
	if len(transactions) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range transactions {
		t := &transactions[i]
		if t.Hash == "" {
			t.Hash = t.GenerateHash()
		}
		lat, lon := nullGeo(t.Location)

		if _, err := stmt.ExecContext(ctx, t.ID, t.Hash, t.AccountID, t.Date, t.Amount,
			t.Description, t.MerchantName, t.Category, t.PaymentMethod, lat, lon); err != nil {
			return fmt.Errorf("failed to save transaction %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transactions: %w", err)
	}
	return nil
}

// GetTransactionByID retrieves a single ledger entry.
func (s *SQLiteStorage) GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

// GetCandidateTransactions returns ledger entries dated within windowDays of
// the receipt, the candidate pool for match scoring.
func (s *SQLiteStorage) GetCandidateTransactions(ctx context.Context, receipt *model.Receipt, windowDays int) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateReceipt(receipt); err != nil {
		return nil, err
	}

	start := receipt.Date.AddDate(0, 0, -windowDays)
	end := receipt.Date.AddDate(0, 0, windowDays)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE date BETWEEN ? AND ?
		ORDER BY date, id`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		candidates = append(candidates, *txn)
	}
	return candidates, rows.Err()
}

func scanTransaction(row scannable) (*model.Transaction, error) {
	var (
		txn           model.Transaction
		accountID     sql.NullString
		merchantName  sql.NullString
		category      sql.NullString
		paymentMethod sql.NullString
		lat, lon      sql.NullFloat64
	)

	err := row.Scan(&txn.ID, &txn.Hash, &accountID, &txn.Date, &txn.Amount,
		&txn.Description, &merchantName, &category, &paymentMethod, &lat, &lon)
	if err != nil {
		return nil, err
	}

	txn.AccountID = accountID.String
	txn.MerchantName = merchantName.String
	txn.Category = category.String
	txn.PaymentMethod = paymentMethod.String
	txn.Location = geoFromNull(lat, lon)

	return &txn, nil
}
