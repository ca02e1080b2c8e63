package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/matchbook-labs/matchbook/internal/common"
	"github.com/matchbook-labs/matchbook/internal/model"
	"github.com/matchbook-labs/matchbook/internal/service"
)

const receiptColumns = `id, hash, merchant_name, amount, date, category, payment_method,
	ocr_text, latitude, longitude, items, tags, metadata, status, transaction_id, duplicate_count`

// SaveReceipt inserts or replaces a receipt.
func (s *SQLiteStorage) SaveReceipt(ctx context.Context, receipt *model.Receipt) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateReceipt(receipt); err != nil {
		return err
	}

	if receipt.Status == "" {
		receipt.Status = model.StatusPending
	}

	items, err := marshalJSON(receipt.Items)
	if err != nil {
		return err
	}
	tags, err := marshalJSON(receipt.Tags)
	if err != nil {
		return err
	}
	metadata, err := marshalJSON(receipt.Metadata)
	if err != nil {
		return err
	}
	lat, lon := nullGeo(receipt.Location)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO receipts (`+receiptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			merchant_name = excluded.merchant_name,
			amount = excluded.amount,
			date = excluded.date,
			category = excluded.category,
			payment_method = excluded.payment_method,
			ocr_text = excluded.ocr_text,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			items = excluded.items,
			tags = excluded.tags,
			metadata = excluded.metadata,
			status = excluded.status,
			transaction_id = excluded.transaction_id,
			duplicate_count = excluded.duplicate_count
	`, receipt.ID, receipt.GenerateHash(), receipt.MerchantName, receipt.Amount, receipt.Date,
		receipt.Category, receipt.PaymentMethod, receipt.OCRText, lat, lon,
		items, tags, metadata, string(receipt.Status), receipt.TransactionID, receipt.DuplicateCount)
	if err != nil {
		return fmt.Errorf("failed to save receipt: %w", err)
	}
	return nil
}

// GetReceiptByID retrieves a single receipt.
func (s *SQLiteStorage) GetReceiptByID(ctx context.Context, id string) (*model.Receipt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = ?`, id)
	receipt, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("receipt %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return receipt, nil
}

// GetPendingReceipts returns receipts awaiting matching, oldest first.
func (s *SQLiteStorage) GetPendingReceipts(ctx context.Context) ([]model.Receipt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.queryReceipts(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE status = ? ORDER BY date, id`,
		string(model.StatusPending))
}

// GetReceiptsByMerchant returns a merchant's receipts ordered by date, for
// subscription detection. Soft-deleted duplicates are excluded.
func (s *SQLiteStorage) GetReceiptsByMerchant(ctx context.Context, merchantName string) ([]model.Receipt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(merchantName, "merchantName"); err != nil {
		return nil, err
	}
	return s.queryReceipts(ctx, `
		SELECT `+receiptColumns+` FROM receipts
		WHERE merchant_name = ? AND status != ?
		ORDER BY date, id`, merchantName, string(model.StatusDeleted))
}

// GetReceiptsInWindow returns non-deleted receipts dated within the window,
// excluding the listed IDs. Used to build duplicate candidate pools.
func (s *SQLiteStorage) GetReceiptsInWindow(ctx context.Context, window service.ReceiptWindow) ([]model.Receipt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	start := window.Center.AddDate(0, 0, -window.Days)
	end := window.Center.AddDate(0, 0, window.Days)

	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE date BETWEEN ? AND ? AND status != ?`
	args := []any{start, end, string(model.StatusDeleted)}

	if len(window.ExcludeIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(window.ExcludeIDs)), ",")
		query += ` AND id NOT IN (` + placeholders + `)`
		for _, id := range window.ExcludeIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY date, id`

	return s.queryReceipts(ctx, query, args...)
}

// UpdateReceipt persists merge augmentation on a surviving receipt.
func (s *SQLiteStorage) UpdateReceipt(ctx context.Context, receipt *model.Receipt) error {
	return s.SaveReceipt(ctx, receipt)
}

// UpdateReceiptStatus moves a receipt through the processing pipeline.
func (s *SQLiteStorage) UpdateReceiptStatus(ctx context.Context, id string, status model.ReceiptStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `UPDATE receipts SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update receipt status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("receipt %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) queryReceipts(ctx context.Context, query string, args ...any) ([]model.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var receipts []model.Receipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, *receipt)
	}
	return receipts, rows.Err()
}

// scannable covers both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanReceipt(row scannable) (*model.Receipt, error) {
	var (
		receipt       model.Receipt
		hash          string
		status        string
		lat, lon      sql.NullFloat64
		category      sql.NullString
		paymentMethod sql.NullString
		ocrText       sql.NullString
		transactionID sql.NullString
		items         sql.NullString
		tags          sql.NullString
		metadata      sql.NullString
	)

	err := row.Scan(&receipt.ID, &hash, &receipt.MerchantName, &receipt.Amount, &receipt.Date,
		&category, &paymentMethod, &ocrText, &lat, &lon,
		&items, &tags, &metadata, &status, &transactionID, &receipt.DuplicateCount)
	if err != nil {
		return nil, err
	}

	receipt.Category = category.String
	receipt.PaymentMethod = paymentMethod.String
	receipt.OCRText = ocrText.String
	receipt.TransactionID = transactionID.String
	receipt.Status = model.ReceiptStatus(status)
	receipt.Location = geoFromNull(lat, lon)

	if err := unmarshalJSON(items.String, &receipt.Items); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(tags.String, &receipt.Tags); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata.String, &receipt.Metadata); err != nil {
		return nil, err
	}

	return &receipt, nil
}
