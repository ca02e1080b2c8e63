package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matchbook-labs/matchbook/internal/common"
	"github.com/matchbook-labs/matchbook/internal/model"
)

const profileColumns = `name, category, aliases, confidence, recognition_rate,
	average_amount, transaction_count, item_patterns, header_patterns,
	footer_patterns, subscription, last_updated`

// GetMerchantProfile retrieves a profile by canonical name, serving from the
// in-memory cache when fresh.
func (s *SQLiteStorage) GetMerchantProfile(ctx context.Context, name string) (*model.MerchantProfile, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	if cached := s.getCachedProfile(name); cached != nil {
		return cached, nil
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM merchant_profiles WHERE name = ?`, name)
	profile, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("merchant profile %q: %w", name, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get merchant profile: %w", err)
	}

	s.cacheProfile(profile)
	return profile, nil
}

// SaveMerchantProfile inserts or updates a profile and refreshes the cache.
func (s *SQLiteStorage) SaveMerchantProfile(ctx context.Context, profile *model.MerchantProfile) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateProfile(profile); err != nil {
		return err
	}

	aliases, err := marshalJSON(profile.Aliases)
	if err != nil {
		return err
	}
	itemPatterns, err := marshalJSON(profile.ItemPatterns)
	if err != nil {
		return err
	}
	headerPatterns, err := marshalJSON(profile.HeaderPatterns)
	if err != nil {
		return err
	}
	footerPatterns, err := marshalJSON(profile.FooterPatterns)
	if err != nil {
		return err
	}
	subscription, err := marshalJSON(profile.Subscription)
	if err != nil {
		return err
	}

	profile.LastUpdated = time.Now()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO merchant_profiles (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			category = excluded.category,
			aliases = excluded.aliases,
			confidence = excluded.confidence,
			recognition_rate = excluded.recognition_rate,
			average_amount = excluded.average_amount,
			transaction_count = excluded.transaction_count,
			item_patterns = excluded.item_patterns,
			header_patterns = excluded.header_patterns,
			footer_patterns = excluded.footer_patterns,
			subscription = excluded.subscription,
			last_updated = excluded.last_updated
	`, profile.Name, profile.Category, aliases, profile.Confidence, profile.RecognitionRate,
		profile.AverageAmount, profile.TransactionCount, itemPatterns, headerPatterns,
		footerPatterns, subscription, profile.LastUpdated)
	if err != nil {
		return fmt.Errorf("failed to save merchant profile: %w", err)
	}

	s.cacheProfile(profile)
	return nil
}

// GetAllMerchantProfiles returns every profile ordered by name.
func (s *SQLiteStorage) GetAllMerchantProfiles(ctx context.Context) ([]model.MerchantProfile, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM merchant_profiles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query merchant profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var profiles []model.MerchantProfile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan merchant profile: %w", err)
		}
		profiles = append(profiles, *profile)
	}
	return profiles, rows.Err()
}

func scanProfile(row scannable) (*model.MerchantProfile, error) {
	var (
		profile        model.MerchantProfile
		category       sql.NullString
		aliases        sql.NullString
		itemPatterns   sql.NullString
		headerPatterns sql.NullString
		footerPatterns sql.NullString
		subscription   sql.NullString
		lastUpdated    sql.NullTime
	)

	err := row.Scan(&profile.Name, &category, &aliases, &profile.Confidence,
		&profile.RecognitionRate, &profile.AverageAmount, &profile.TransactionCount,
		&itemPatterns, &headerPatterns, &footerPatterns, &subscription, &lastUpdated)
	if err != nil {
		return nil, err
	}

	profile.Category = category.String
	profile.LastUpdated = lastUpdated.Time

	if err := unmarshalJSON(aliases.String, &profile.Aliases); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(itemPatterns.String, &profile.ItemPatterns); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(headerPatterns.String, &profile.HeaderPatterns); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(footerPatterns.String, &profile.FooterPatterns); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(subscription.String, &profile.Subscription); err != nil {
		return nil, err
	}

	return &profile, nil
}
