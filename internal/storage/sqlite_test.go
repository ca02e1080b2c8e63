package storage

import (
	"context"
	"testing"
	"time"

	"github.com/matchbook-labs/matchbook/internal/common"
	"github.com/matchbook-labs/matchbook/internal/model"
	"github.com/matchbook-labs/matchbook/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))

	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func testReceipt(id string, date time.Time) *model.Receipt {
	return &model.Receipt{
		ID:           id,
		MerchantName: "Walmart",
		Amount:       42.50,
		Date:         date,
		Status:       model.StatusPending,
	}
}

func TestSaveAndGetReceipt(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	receipt := &model.Receipt{
		ID:            "r1",
		MerchantName:  "Walmart",
		Amount:        42.50,
		Date:          date,
		Category:      "Groceries",
		PaymentMethod: "VISA *1234",
		OCRText:       "WALMART SUPERCENTER\nMILK 3.99",
		Location:      &model.GeoPoint{Latitude: 37.77, Longitude: -122.42},
		Items: []model.LineItem{
			{Description: "MILK", Amount: 3.99, Quantity: 1},
		},
		Tags:     []string{"groceries"},
		Metadata: map[string]string{"source": "scan"},
	}

	require.NoError(t, store.SaveReceipt(ctx, receipt))

	got, err := store.GetReceiptByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Walmart", got.MerchantName)
	assert.InDelta(t, 42.50, got.Amount, 1e-9)
	assert.WithinDuration(t, date, got.Date, time.Second)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, receipt.Items, got.Items)
	assert.Equal(t, receipt.Tags, got.Tags)
	assert.Equal(t, receipt.Metadata, got.Metadata)
	require.NotNil(t, got.Location)
	assert.InDelta(t, 37.77, got.Location.Latitude, 1e-9)
}

func TestSaveReceiptDefaultsStatus(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	receipt := testReceipt("r1", time.Now().UTC())
	receipt.Status = ""
	require.NoError(t, store.SaveReceipt(ctx, receipt))

	got, err := store.GetReceiptByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Nil(t, got.Location)
}

func TestSaveReceiptValidation(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	tests := []struct {
		receipt *model.Receipt
		name    string
	}{
		{name: "nil receipt", receipt: nil},
		{name: "missing id", receipt: &model.Receipt{MerchantName: "Walmart", Date: time.Now()}},
		{name: "missing merchant", receipt: &model.Receipt{ID: "r1", Date: time.Now()}},
		{name: "zero date", receipt: &model.Receipt{ID: "r1", MerchantName: "Walmart"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.SaveReceipt(ctx, tt.receipt)
			assert.ErrorIs(t, err, common.ErrValidation)
		})
	}
}

func TestGetReceiptByIDNotFound(t *testing.T) {
	store := setupTestStorage(t)

	_, err := store.GetReceiptByID(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetPendingReceiptsOrdered(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveReceipt(ctx, testReceipt("r2", base.AddDate(0, 0, 2))))
	require.NoError(t, store.SaveReceipt(ctx, testReceipt("r1", base)))

	matched := testReceipt("r3", base.AddDate(0, 0, 1))
	matched.Status = model.StatusMatched
	require.NoError(t, store.SaveReceipt(ctx, matched))

	pending, err := store.GetPendingReceipts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "r1", pending[0].ID)
	assert.Equal(t, "r2", pending[1].ID)
}

func TestGetReceiptsByMerchantExcludesDeleted(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveReceipt(ctx, testReceipt("r1", base)))

	deleted := testReceipt("r2", base.AddDate(0, 0, 1))
	deleted.Status = model.StatusDeleted
	require.NoError(t, store.SaveReceipt(ctx, deleted))

	other := testReceipt("r3", base)
	other.MerchantName = "Target"
	require.NoError(t, store.SaveReceipt(ctx, other))

	got, err := store.GetReceiptsByMerchant(ctx, "Walmart")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)
}

func TestGetReceiptsInWindow(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	center := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveReceipt(ctx, testReceipt("inside", center.AddDate(0, 0, 2))))
	require.NoError(t, store.SaveReceipt(ctx, testReceipt("outside", center.AddDate(0, 0, 20))))
	require.NoError(t, store.SaveReceipt(ctx, testReceipt("excluded", center)))

	got, err := store.GetReceiptsInWindow(ctx, service.ReceiptWindow{
		Center:     center,
		Days:       5,
		ExcludeIDs: []string{"excluded"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "inside", got[0].ID)
}

func TestUpdateReceiptStatus(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.SaveReceipt(ctx, testReceipt("r1", time.Now().UTC())))
	require.NoError(t, store.UpdateReceiptStatus(ctx, "r1", model.StatusMatched))

	got, err := store.GetReceiptByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusMatched, got.Status)

	err = store.UpdateReceiptStatus(ctx, "missing", model.StatusMatched)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSaveTransactionsIdempotent(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	batch := []model.Transaction{
		{ID: "t1", Date: date, Amount: 42.50, Description: "WALMART STORE 1234", MerchantName: "Walmart"},
	}
	require.NoError(t, store.SaveTransactions(ctx, batch))

	// Re-importing the same feed entry is a no-op because the hash collides.
	batch[0].ID = "t1-reimport"
	batch[0].Hash = ""
	require.NoError(t, store.SaveTransactions(ctx, batch))

	got, err := store.GetTransactionByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "WALMART STORE 1234", got.Description)

	_, err = store.GetTransactionByID(ctx, "t1-reimport")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetCandidateTransactionsWindow(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{
		{ID: "near", Date: date.AddDate(0, 0, 1), Amount: 10, Description: "NEAR"},
		{ID: "far", Date: date.AddDate(0, 0, 30), Amount: 10, Description: "FAR"},
	}))

	receipt := testReceipt("r1", date)
	candidates, err := store.GetCandidateTransactions(ctx, receipt, 3)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "near", candidates[0].ID)
}

func TestMerchantProfileRoundTrip(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	profile := &model.MerchantProfile{
		Name:             "Walmart",
		Category:         "Groceries",
		Aliases:          []string{"Wallmart", "WAL-MART"},
		Confidence:       0.7,
		RecognitionRate:  0.9,
		AverageAmount:    55.20,
		TransactionCount: 12,
		ItemPatterns: []model.ItemPattern{
			{Description: "MILK", Category: "Groceries", Confidence: 0.5, MatchCount: 4},
		},
		HeaderPatterns: []model.TextPattern{
			{Text: "WALMART SUPERCENTER", Confidence: 0.4, MatchCount: 2},
		},
		Subscription: model.SubscriptionInfo{
			State:     model.SubscriptionNone,
			IsTypical: false,
		},
	}
	require.NoError(t, store.SaveMerchantProfile(ctx, profile))

	got, err := store.GetMerchantProfile(ctx, "Walmart")
	require.NoError(t, err)
	assert.Equal(t, profile.Aliases, got.Aliases)
	assert.Equal(t, profile.ItemPatterns, got.ItemPatterns)
	assert.Equal(t, profile.HeaderPatterns, got.HeaderPatterns)
	assert.InDelta(t, 0.7, got.Confidence, 1e-9)
	assert.Equal(t, 12, got.TransactionCount)
	assert.False(t, got.LastUpdated.IsZero())
}

func TestGetMerchantProfileNotFound(t *testing.T) {
	store := setupTestStorage(t)

	_, err := store.GetMerchantProfile(context.Background(), "Nobody")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetMerchantProfileCacheReturnsCopy(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.SaveMerchantProfile(ctx, &model.MerchantProfile{
		Name:       "Walmart",
		Confidence: 0.5,
	}))

	first, err := store.GetMerchantProfile(ctx, "Walmart")
	require.NoError(t, err)
	first.Confidence = 0.99

	second, err := store.GetMerchantProfile(ctx, "Walmart")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, second.Confidence, 1e-9)
}

func TestGetAllMerchantProfiles(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	for _, name := range []string{"Target", "Walmart", "Costco"} {
		require.NoError(t, store.SaveMerchantProfile(ctx, &model.MerchantProfile{Name: name}))
	}

	got, err := store.GetAllMerchantProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Costco", got[0].Name)
	assert.Equal(t, "Walmart", got[2].Name)
}

func TestDuplicateGroupRoundTrip(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	group := &model.DuplicateGroup{
		ID:         "g1",
		OriginalID: "r1",
		ReceiptIDs: []string{"r1", "r2"},
		Reasons:    []string{"Same merchant", "Close amount"},
		Confidence: 0.65,
	}
	require.NoError(t, store.SaveDuplicateGroup(ctx, group))

	got, err := store.GetDuplicateGroups(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, group.ReceiptIDs, got[0].ReceiptIDs)
	assert.Equal(t, group.Reasons, got[0].Reasons)
	assert.InDelta(t, 0.65, got[0].Confidence, 1e-9)
}

func TestMergeHistoryAppendAndRead(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	mergedAt := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.AppendMergeRecord(ctx, "r1", model.MergeRecord{
		DuplicateID: "r2",
		Confidence:  0.65,
		Reasons:     []string{"Same merchant"},
		MergedAt:    mergedAt,
	}))
	require.NoError(t, store.AppendMergeRecord(ctx, "r1", model.MergeRecord{
		DuplicateID: "r3",
		Confidence:  0.55,
		MergedAt:    mergedAt.Add(time.Hour),
	}))

	records, err := store.GetMergeRecords(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "r2", records[0].DuplicateID)
	assert.Equal(t, "r3", records[1].DuplicateID)
}

func TestSubscriptionPatternUpsert(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	pattern := &model.SubscriptionPattern{
		MerchantName: "Streamly",
		Amount:       9.99,
		Frequency:    model.FrequencyMonthly,
		State:        model.SubscriptionCandidate,
		Confidence:   0.3,
		Occurrences:  2,
		LastSeen:     time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.SaveSubscriptionPattern(ctx, pattern))

	pattern.State = model.SubscriptionConfirmed
	pattern.Confidence = 0.6
	pattern.Occurrences = 3
	require.NoError(t, store.SaveSubscriptionPattern(ctx, pattern))

	got, err := store.GetSubscriptionPatterns(ctx, "Streamly")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.SubscriptionConfirmed, got[0].State)
	assert.InDelta(t, 0.6, got[0].Confidence, 1e-9)
	assert.Equal(t, 3, got[0].Occurrences)
}

func TestGetSubscriptionPatternsAll(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSubscriptionPattern(ctx, &model.SubscriptionPattern{
		MerchantName: "Streamly", Amount: 9.99, Frequency: model.FrequencyMonthly,
		State: model.SubscriptionConfirmed, Confidence: 0.6,
	}))
	require.NoError(t, store.SaveSubscriptionPattern(ctx, &model.SubscriptionPattern{
		MerchantName: "GymCo", Amount: 30, Frequency: model.FrequencyMonthly,
		State: model.SubscriptionCandidate, Confidence: 0.3,
	}))

	got, err := store.GetSubscriptionPatterns(ctx, "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "GymCo", got[0].MerchantName)
}

func TestMatchResultsOrderedByConfidence(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.SaveMatchResult(ctx, &model.MatchResult{
		ReceiptID: "r1", TransactionID: "t2", Confidence: 0.6,
		Scores: model.FieldScores{Merchant: model.Score(0.6)},
	}))
	require.NoError(t, store.SaveMatchResult(ctx, &model.MatchResult{
		ReceiptID: "r1", TransactionID: "t1", Confidence: 0.9,
		Scores: model.FieldScores{Merchant: model.Score(1), Amount: model.Score(1)},
	}))

	got, err := store.GetMatchResultsForReceipt(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].TransactionID)
	require.NotNil(t, got[0].Scores.Amount)
	assert.InDelta(t, 1, *got[0].Scores.Amount, 1e-9)
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	// setupTestStorage already migrated once.
	require.NoError(t, store.Migrate(ctx))

	var version int
	err := store.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, ExpectedSchemaVersion, version)
}
