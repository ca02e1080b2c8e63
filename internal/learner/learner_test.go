package learner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/matchbook-labs/matchbook/internal/common"
	"github.com/matchbook-labs/matchbook/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory ProfileStore and HistoryStore for tests.
type memStore struct {
	mu       sync.Mutex
	profiles map[string]model.MerchantProfile
	receipts map[string][]model.Receipt
}

func newMemStore() *memStore {
	return &memStore{
		profiles: make(map[string]model.MerchantProfile),
		receipts: make(map[string][]model.Receipt),
	}
}

func (s *memStore) GetMerchantProfile(_ context.Context, name string) (*model.MerchantProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.profiles[name]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &profile, nil
}

func (s *memStore) SaveMerchantProfile(_ context.Context, profile *model.MerchantProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.Name] = *profile
	return nil
}

func (s *memStore) GetAllMerchantProfiles(_ context.Context) ([]model.MerchantProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]model.MerchantProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		all = append(all, p)
	}
	return all, nil
}

func (s *memStore) GetReceiptsByMerchant(_ context.Context, name string) ([]model.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receipts[name], nil
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestLearnFromReceiptCreatesProfile(t *testing.T) {
	store := newMemStore()
	l := New(store, store)

	receipt := &model.Receipt{ID: "r1", MerchantName: "Corner Deli", Amount: 12.50, Date: day("2024-01-10")}
	require.NoError(t, l.LearnFromReceipt(context.Background(), receipt, false))

	profile, err := store.GetMerchantProfile(context.Background(), "Corner Deli")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.TransactionCount)
	assert.InDelta(t, 12.50, profile.AverageAmount, 1e-9)
	assert.False(t, profile.LastUpdated.IsZero())
}

func TestLearnFromReceiptIncrementalMean(t *testing.T) {
	store := newMemStore()
	l := New(store, store)
	ctx := context.Background()

	amounts := []float64{10, 20, 30}
	for i, amount := range amounts {
		receipt := &model.Receipt{ID: fmt.Sprintf("r%d", i), MerchantName: "Corner Deli", Amount: amount}
		require.NoError(t, l.LearnFromReceipt(ctx, receipt, false))
	}

	profile, err := store.GetMerchantProfile(ctx, "Corner Deli")
	require.NoError(t, err)
	assert.Equal(t, 3, profile.TransactionCount)
	assert.InDelta(t, 20, profile.AverageAmount, 1e-9)
}

func TestLearnFromReceiptItemPatterns(t *testing.T) {
	store := newMemStore()
	l := New(store, store)
	ctx := context.Background()

	receipt := &model.Receipt{
		ID:           "r1",
		MerchantName: "Corner Deli",
		Amount:       10,
		Items: []model.LineItem{
			{Description: "Oat Milk", Category: "Groceries", Amount: 4.50, Quantity: 1},
			{Description: "Unlabeled", Amount: 1, Quantity: 1},
		},
	}
	require.NoError(t, l.LearnFromReceipt(ctx, receipt, false))
	require.NoError(t, l.LearnFromReceipt(ctx, receipt, false))

	profile, err := store.GetMerchantProfile(ctx, "Corner Deli")
	require.NoError(t, err)
	require.Len(t, profile.ItemPatterns, 1, "items without a category are not learned")

	pattern := profile.ItemPatterns[0]
	assert.Equal(t, "Oat Milk", pattern.Description)
	assert.Equal(t, "Groceries", pattern.Category)
	assert.Equal(t, 2, pattern.MatchCount)
	assert.InDelta(t, 0.4, pattern.Confidence, 1e-9)
}

func TestLearnFromReceiptConcurrentSameMerchant(t *testing.T) {
	store := newMemStore()
	l := New(store, store)
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			receipt := &model.Receipt{ID: fmt.Sprintf("r%d", n), MerchantName: "Corner Deli", Amount: 10}
			assert.NoError(t, l.LearnFromReceipt(ctx, receipt, false))
		}(i)
	}
	wg.Wait()

	profile, err := store.GetMerchantProfile(ctx, "Corner Deli")
	require.NoError(t, err)
	assert.Equal(t, workers, profile.TransactionCount, "per-merchant serialization must not lose increments")
	assert.InDelta(t, 10, profile.AverageAmount, 1e-9)
}

func TestLearnFromReceiptSubscriptionFlag(t *testing.T) {
	now := time.Now()
	store := newMemStore()
	store.receipts["Streamly"] = []model.Receipt{
		{ID: "r1", MerchantName: "Streamly", Amount: 9.99, Date: now.AddDate(0, 0, -65)},
		{ID: "r2", MerchantName: "Streamly", Amount: 9.99, Date: now.AddDate(0, 0, -35)},
		{ID: "r3", MerchantName: "Streamly", Amount: 9.99, Date: now.AddDate(0, 0, -5)},
	}
	l := New(store, store)

	receipt := &model.Receipt{ID: "r3", MerchantName: "Streamly", Amount: 9.99, Date: now.AddDate(0, 0, -5)}
	require.NoError(t, l.LearnFromReceipt(context.Background(), receipt, true))

	profile, err := store.GetMerchantProfile(context.Background(), "Streamly")
	require.NoError(t, err)
	assert.Equal(t, model.FrequencyMonthly, profile.Subscription.Frequency)
	assert.Equal(t, model.SubscriptionConfirmed, profile.Subscription.State)
	assert.True(t, profile.Subscription.IsTypical)
	assert.InDelta(t, 9.99, profile.Subscription.AverageAmount, 1e-9)
}

func TestProcessFeedbackWrongRecognition(t *testing.T) {
	store := newMemStore()
	store.profiles["Walmart"] = model.MerchantProfile{Name: "Walmart", Confidence: 0.7, RecognitionRate: 0.9}
	store.profiles["Wallmart"] = model.MerchantProfile{Name: "Wallmart", Confidence: 0.6, RecognitionRate: 0.8}
	l := New(store, store)

	err := l.ProcessFeedback(context.Background(), Feedback{
		OriginalMerchant: "Wallmart",
		CorrectMerchant:  "Walmart",
		IsCorrect:        false,
	})
	require.NoError(t, err)

	walmart, err := store.GetMerchantProfile(context.Background(), "Walmart")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, walmart.Confidence, 1e-9, "correct merchant's confidence is untouched")
	assert.True(t, walmart.HasAlias("Wallmart"), "edit distance 1 records an alias")

	wallmart, err := store.GetMerchantProfile(context.Background(), "Wallmart")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, wallmart.Confidence, 1e-9)
	assert.InDelta(t, 0.7, wallmart.RecognitionRate, 1e-9)
}

func TestProcessFeedbackConfidenceFloorsAtZero(t *testing.T) {
	store := newMemStore()
	store.profiles["Wallmart"] = model.MerchantProfile{Name: "Wallmart", Confidence: 0.15, RecognitionRate: 0.1}
	l := New(store, store)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.ProcessFeedback(ctx, Feedback{
			OriginalMerchant: "Wallmart",
			CorrectMerchant:  "Walmart",
			IsCorrect:        false,
		}))
	}

	profile, err := store.GetMerchantProfile(ctx, "Wallmart")
	require.NoError(t, err)
	assert.Equal(t, 0.0, profile.Confidence, "confidence must clamp at zero, never go negative")
	assert.Equal(t, 0.0, profile.RecognitionRate)
}

func TestProcessFeedbackDistantNamesNoAlias(t *testing.T) {
	store := newMemStore()
	l := New(store, store)

	err := l.ProcessFeedback(context.Background(), Feedback{
		OriginalMerchant: "Completely Different",
		CorrectMerchant:  "Walmart",
		IsCorrect:        false,
	})
	require.NoError(t, err)

	walmart, err := store.GetMerchantProfile(context.Background(), "Walmart")
	require.NoError(t, err)
	assert.False(t, walmart.HasAlias("Completely Different"))
}

func TestProcessFeedbackLearnsTextPatterns(t *testing.T) {
	store := newMemStore()
	l := New(store, store)
	ctx := context.Background()

	text := "WALMART SUPERCENTER\nStore #1234\n123 Main St\nMILK 3.99\nTOTAL 3.99\nThank you\nwww.walmart.com\nSurvey code 567"
	feedback := Feedback{
		OriginalMerchant: "Wallmart",
		CorrectMerchant:  "Walmart",
		IsCorrect:        false,
		ReceiptText:      text,
	}
	require.NoError(t, l.ProcessFeedback(ctx, feedback))
	require.NoError(t, l.ProcessFeedback(ctx, feedback))

	profile, err := store.GetMerchantProfile(ctx, "Walmart")
	require.NoError(t, err)
	require.Len(t, profile.HeaderPatterns, 3, "patterns deduplicate as a set")
	require.Len(t, profile.FooterPatterns, 3)
	assert.Equal(t, "WALMART SUPERCENTER", profile.HeaderPatterns[0].Text)
	assert.Equal(t, 2, profile.HeaderPatterns[0].MatchCount)
	assert.Equal(t, "Survey code 567", profile.FooterPatterns[2].Text)
}

func TestProcessFeedbackValidation(t *testing.T) {
	store := newMemStore()
	l := New(store, store)

	err := l.ProcessFeedback(context.Background(), Feedback{OriginalMerchant: "", CorrectMerchant: "Walmart"})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestCanonicalName(t *testing.T) {
	store := newMemStore()
	store.profiles["Walmart"] = model.MerchantProfile{Name: "Walmart", Aliases: []string{"Wallmart"}}
	l := New(store, store)
	ctx := context.Background()

	t.Run("known profile resolves to itself", func(t *testing.T) {
		got, err := l.CanonicalName(ctx, "Walmart")
		require.NoError(t, err)
		assert.Equal(t, "Walmart", got)
	})

	t.Run("alias resolves to canonical name", func(t *testing.T) {
		got, err := l.CanonicalName(ctx, "Wallmart")
		require.NoError(t, err)
		assert.Equal(t, "Walmart", got)
	})

	t.Run("unknown name resolves to itself", func(t *testing.T) {
		got, err := l.CanonicalName(ctx, "Target")
		require.NoError(t, err)
		assert.Equal(t, "Target", got)
	})
}
