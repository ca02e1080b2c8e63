package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/matchbook-labs/matchbook/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestFindDuplicatesSameMerchantCloseAmount(t *testing.T) {
	detector := NewDetector(DefaultConfig())

	receipt := &model.Receipt{ID: "r1", MerchantName: "Corner Deli", Amount: 50.00, Date: day("2024-01-10")}
	pool := []model.Receipt{
		{ID: "r2", MerchantName: "Corner Deli", Amount: 50.50, Date: day("2024-01-11")},
	}

	groups, err := detector.FindDuplicates(context.Background(), receipt, pool)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	group := groups[0]
	assert.Equal(t, "r1", group.OriginalID)
	assert.ElementsMatch(t, []string{"r1", "r2"}, group.ReceiptIDs)
	assert.Greater(t, group.Confidence, DefaultConfig().DuplicateThreshold)
	assert.Contains(t, group.Reasons, "Same merchant")
	assert.Contains(t, group.Reasons, "Close dates")
}

func TestFindDuplicatesExactAmountDifferentMerchant(t *testing.T) {
	detector := NewDetector(DefaultConfig())

	receipt := &model.Receipt{ID: "r1", MerchantName: "Shell", Amount: 42.17, Date: day("2024-01-10")}
	pool := []model.Receipt{
		// Same amount within the tight window, but a different merchant: the
		// exact-amount gate admits it while the score stays below threshold.
		{ID: "r2", MerchantName: "Chevron", Amount: 42.17, Date: day("2024-01-11")},
	}

	groups, err := detector.FindDuplicates(context.Background(), receipt, pool)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestFindDuplicatesRespectsWindow(t *testing.T) {
	detector := NewDetector(DefaultConfig())

	receipt := &model.Receipt{ID: "r1", MerchantName: "Corner Deli", Amount: 50, Date: day("2024-01-10")}
	pool := []model.Receipt{
		{ID: "r2", MerchantName: "Corner Deli", Amount: 50, Date: day("2023-06-01")},
	}

	groups, err := detector.FindDuplicates(context.Background(), receipt, pool)
	require.NoError(t, err)
	assert.Empty(t, groups, "candidates beyond the 90-day window must be ignored")
}

func TestFindDuplicatesSkipsDeletedAndSelf(t *testing.T) {
	detector := NewDetector(DefaultConfig())

	receipt := &model.Receipt{ID: "r1", MerchantName: "Corner Deli", Amount: 50, Date: day("2024-01-10")}
	pool := []model.Receipt{
		{ID: "r1", MerchantName: "Corner Deli", Amount: 50, Date: day("2024-01-10")},
		{ID: "r2", MerchantName: "Corner Deli", Amount: 50, Date: day("2024-01-10"), Status: model.StatusDeleted},
	}

	groups, err := detector.FindDuplicates(context.Background(), receipt, pool)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestFindDuplicatesItemOverlapBoostsConfidence(t *testing.T) {
	detector := NewDetector(DefaultConfig())

	items := []model.LineItem{
		{Description: "Oat Milk", Amount: 4.50, Quantity: 1},
		{Description: "Sourdough Bread", Amount: 6.00, Quantity: 1},
	}
	receipt := &model.Receipt{ID: "r1", MerchantName: "Corner Deli", Amount: 10.50, Date: day("2024-01-10"), Items: items}
	withItems := model.Receipt{ID: "r2", MerchantName: "Corner Deli", Amount: 10.50, Date: day("2024-01-10"), Items: items}
	withoutItems := model.Receipt{ID: "r3", MerchantName: "Corner Deli", Amount: 10.50, Date: day("2024-01-10")}

	withGroups, err := detector.FindDuplicates(context.Background(), receipt, []model.Receipt{withItems})
	require.NoError(t, err)
	require.Len(t, withGroups, 1)

	withoutGroups, err := detector.FindDuplicates(context.Background(), receipt, []model.Receipt{withoutItems})
	require.NoError(t, err)
	require.Len(t, withoutGroups, 1)

	assert.Greater(t, withGroups[0].Confidence, withoutGroups[0].Confidence)
	assert.Contains(t, withGroups[0].Reasons, "Similar items")
}

func TestGroupAllGreedyAssignment(t *testing.T) {
	detector := NewDetector(DefaultConfig())

	receipts := []model.Receipt{
		{ID: "r1", MerchantName: "Corner Deli", Amount: 50, Date: day("2024-01-10")},
		{ID: "r2", MerchantName: "Corner Deli", Amount: 50, Date: day("2024-01-10")},
		{ID: "r3", MerchantName: "Corner Deli", Amount: 50, Date: day("2024-01-11")},
		{ID: "r4", MerchantName: "Unrelated Shop", Amount: 7.25, Date: day("2024-01-12")},
	}

	groups, err := detector.GroupAll(context.Background(), receipts)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	assert.Equal(t, "r1", groups[0].OriginalID)
	assert.ElementsMatch(t, []string{"r1", "r2", "r3"}, groups[0].ReceiptIDs)
}

func TestMerge(t *testing.T) {
	detector := NewDetector(DefaultConfig())

	original := &model.Receipt{
		ID:           "r1",
		MerchantName: "Corner Deli",
		Amount:       50,
		Date:         day("2024-01-10"),
		Items:        []model.LineItem{{Description: "Oat Milk", Amount: 4.50, Quantity: 1}},
		Tags:         []string{"groceries"},
		Metadata:     map[string]string{"source": "scan", "device": "phone"},
	}
	duplicate := &model.Receipt{
		ID:           "r2",
		MerchantName: "Corner Deli",
		Amount:       50,
		Date:         day("2024-01-10"),
		Items: []model.LineItem{
			{Description: "Oat Milk", Amount: 4.50, Quantity: 1},
			{Description: "Bananas", Amount: 1.20, Quantity: 3},
		},
		Tags:     []string{"groceries", "weekly"},
		Metadata: map[string]string{"source": "email"},
	}

	record, err := detector.Merge(original, duplicate, model.DefaultMergeOptions())
	require.NoError(t, err)

	assert.Len(t, original.Items, 2, "items union without duplicating identical lines")
	assert.ElementsMatch(t, []string{"groceries", "weekly"}, original.Tags)
	assert.Equal(t, "email", original.Metadata["source"], "duplicate's fresher metadata wins")
	assert.Equal(t, "phone", original.Metadata["device"])
	assert.Equal(t, 1, original.DuplicateCount)
	assert.Equal(t, model.StatusDeleted, duplicate.Status)

	assert.Equal(t, "r2", record.DuplicateID)
	assert.Greater(t, record.Confidence, 0.5)
	assert.Contains(t, record.Reasons, "Same merchant")
	assert.False(t, record.MergedAt.IsZero())
}

func TestMergeSelfRejected(t *testing.T) {
	detector := NewDetector(DefaultConfig())
	r := &model.Receipt{ID: "r1"}

	_, err := detector.Merge(r, r, model.DefaultMergeOptions())
	assert.Error(t, err)
}
