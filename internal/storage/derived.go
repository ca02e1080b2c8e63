package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/matchbook-labs/matchbook/internal/common"
	"github.com/matchbook-labs/matchbook/internal/model"
)

// SaveDuplicateGroup records a detected duplicate group.
func (s *SQLiteStorage) SaveDuplicateGroup(ctx context.Context, group *model.DuplicateGroup) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if group == nil || group.ID == "" {
		return fmt.Errorf("%w: duplicate group requires an id", common.ErrValidation)
	}

	receiptIDs, err := marshalJSON(group.ReceiptIDs)
	if err != nil {
		return err
	}
	reasons, err := marshalJSON(group.Reasons)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO duplicate_groups (id, original_id, receipt_ids, reasons, confidence)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			original_id = excluded.original_id,
			receipt_ids = excluded.receipt_ids,
			reasons = excluded.reasons,
			confidence = excluded.confidence
	`, group.ID, group.OriginalID, receiptIDs, reasons, group.Confidence)
	if err != nil {
		return fmt.Errorf("failed to save duplicate group: %w", err)
	}
	return nil
}

// GetDuplicateGroups returns all recorded duplicate groups.
func (s *SQLiteStorage) GetDuplicateGroups(ctx context.Context) ([]model.DuplicateGroup, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, original_id, receipt_ids, reasons, confidence
		FROM duplicate_groups ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicate groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var groups []model.DuplicateGroup
	for rows.Next() {
		var (
			group      model.DuplicateGroup
			receiptIDs sql.NullString
			reasons    sql.NullString
		)
		if err := rows.Scan(&group.ID, &group.OriginalID, &receiptIDs, &reasons, &group.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan duplicate group: %w", err)
		}
		if err := unmarshalJSON(receiptIDs.String, &group.ReceiptIDs); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(reasons.String, &group.Reasons); err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

// AppendMergeRecord adds an entry to a receipt's merge history.
func (s *SQLiteStorage) AppendMergeRecord(ctx context.Context, receiptID string, record model.MergeRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(receiptID, "receiptID"); err != nil {
		return err
	}

	reasons, err := marshalJSON(record.Reasons)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO merge_history (receipt_id, duplicate_id, confidence, reasons, merged_at)
		VALUES (?, ?, ?, ?, ?)
	`, receiptID, record.DuplicateID, record.Confidence, reasons, record.MergedAt)
	if err != nil {
		return fmt.Errorf("failed to append merge record: %w", err)
	}
	return nil
}

// GetMergeRecords returns a receipt's merge history, oldest first.
func (s *SQLiteStorage) GetMergeRecords(ctx context.Context, receiptID string) ([]model.MergeRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(receiptID, "receiptID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT duplicate_id, confidence, reasons, merged_at
		FROM merge_history WHERE receipt_id = ? ORDER BY merged_at, id`, receiptID)
	if err != nil {
		return nil, fmt.Errorf("failed to query merge history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.MergeRecord
	for rows.Next() {
		var (
			record  model.MergeRecord
			reasons sql.NullString
		)
		if err := rows.Scan(&record.DuplicateID, &record.Confidence, &reasons, &record.MergedAt); err != nil {
			return nil, fmt.Errorf("failed to scan merge record: %w", err)
		}
		if err := unmarshalJSON(reasons.String, &record.Reasons); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// SaveSubscriptionPattern upserts a detected subscription, keyed by merchant
// and amount.
func (s *SQLiteStorage) SaveSubscriptionPattern(ctx context.Context, pattern *model.SubscriptionPattern) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if pattern == nil {
		return fmt.Errorf("%w: nil subscription pattern", common.ErrValidation)
	}
	if err := validateString(pattern.MerchantName, "merchantName"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscription_patterns
			(merchant_name, amount, frequency, state, amount_tolerance, day_tolerance,
			 confidence, occurrences, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(merchant_name, amount) DO UPDATE SET
			frequency = excluded.frequency,
			state = excluded.state,
			amount_tolerance = excluded.amount_tolerance,
			day_tolerance = excluded.day_tolerance,
			confidence = excluded.confidence,
			occurrences = excluded.occurrences,
			last_seen = excluded.last_seen
	`, pattern.MerchantName, pattern.Amount, string(pattern.Frequency), string(pattern.State),
		pattern.AmountTolerance, pattern.DayTolerance, pattern.Confidence,
		pattern.Occurrences, pattern.LastSeen)
	if err != nil {
		return fmt.Errorf("failed to save subscription pattern: %w", err)
	}
	return nil
}

// GetSubscriptionPatterns returns a merchant's detected subscriptions, or all
// subscriptions when merchantName is empty.
func (s *SQLiteStorage) GetSubscriptionPatterns(ctx context.Context, merchantName string) ([]model.SubscriptionPattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT merchant_name, amount, frequency, state, amount_tolerance,
		day_tolerance, confidence, occurrences, last_seen
		FROM subscription_patterns`
	var args []any
	if merchantName != "" {
		query += ` WHERE merchant_name = ?`
		args = append(args, merchantName)
	}
	query += ` ORDER BY merchant_name, amount`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscription patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var patterns []model.SubscriptionPattern
	for rows.Next() {
		var (
			pattern   model.SubscriptionPattern
			frequency string
			state     string
			lastSeen  sql.NullTime
		)
		if err := rows.Scan(&pattern.MerchantName, &pattern.Amount, &frequency, &state,
			&pattern.AmountTolerance, &pattern.DayTolerance, &pattern.Confidence,
			&pattern.Occurrences, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan subscription pattern: %w", err)
		}
		pattern.Frequency = model.Frequency(frequency)
		pattern.State = model.SubscriptionState(state)
		pattern.LastSeen = lastSeen.Time
		patterns = append(patterns, pattern)
	}
	return patterns, rows.Err()
}

// SaveMatchResult caches a computed match for inspection.
func (s *SQLiteStorage) SaveMatchResult(ctx context.Context, result *model.MatchResult) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if result == nil {
		return fmt.Errorf("%w: nil match result", common.ErrValidation)
	}

	scores, err := marshalJSON(result.Scores)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO match_results (receipt_id, transaction_id, confidence, scores)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(receipt_id, transaction_id) DO UPDATE SET
			confidence = excluded.confidence,
			scores = excluded.scores
	`, result.ReceiptID, result.TransactionID, result.Confidence, scores)
	if err != nil {
		return fmt.Errorf("failed to save match result: %w", err)
	}
	return nil
}

// GetMatchResultsForReceipt returns cached matches ordered by confidence,
// highest first.
func (s *SQLiteStorage) GetMatchResultsForReceipt(ctx context.Context, receiptID string) ([]model.MatchResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(receiptID, "receiptID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT receipt_id, transaction_id, confidence, scores
		FROM match_results WHERE receipt_id = ?
		ORDER BY confidence DESC, transaction_id`, receiptID)
	if err != nil {
		return nil, fmt.Errorf("failed to query match results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []model.MatchResult
	for rows.Next() {
		var (
			result model.MatchResult
			scores sql.NullString
		)
		if err := rows.Scan(&result.ReceiptID, &result.TransactionID, &result.Confidence, &scores); err != nil {
			return nil, fmt.Errorf("failed to scan match result: %w", err)
		}
		if err := unmarshalJSON(scores.String, &result.Scores); err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}
