// Package dedup detects and merges duplicate receipts.
package dedup

import (
	"context"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/matchbook-labs/matchbook/internal/model"
	"github.com/matchbook-labs/matchbook/internal/score"
	"github.com/matchbook-labs/matchbook/internal/similarity"
)

// Config tunes duplicate detection. The reduced weight split favors the
// binary same-merchant test, then amount, item overlap and temporal proximity.
type Config struct {
	// DuplicateThreshold is the single canonical grouping threshold.
	DuplicateThreshold float64
	// AmountTolerance is the fractional difference treated as a close amount.
	AmountTolerance float64
	// WindowDays bounds the merchant-based candidate window.
	WindowDays int
	// TightWindowDays bounds the exact-amount candidate window.
	TightWindowDays int

	MerchantWeight float64
	AmountWeight   float64
	ItemsWeight    float64
	DateWeight     float64
}

// DefaultConfig returns the standard duplicate-detection configuration.
func DefaultConfig() Config {
	return Config{
		DuplicateThreshold: 0.5,
		AmountTolerance:    0.02,
		WindowDays:         90,
		TightWindowDays:    3,
		MerchantWeight:     0.4,
		AmountWeight:       0.3,
		ItemsWeight:        0.2,
		DateWeight:         0.1,
	}
}

// Detector scores duplicate candidates and groups them greedily.
type Detector struct {
	cfg Config
}

// NewDetector creates a detector with the given configuration.
func NewDetector(cfg Config) *Detector {
	if cfg.DuplicateThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Detector{cfg: cfg}
}

// pairScore is one scored candidate with its contributing reasons.
type pairScore struct {
	receiptID  string
	reasons    []string
	confidence float64
}

// FindDuplicates scores the candidate pool against the receipt and returns
// at most one group containing every sufficiently confident candidate. The
// pool is expected to be pre-filtered to a bounded time window by the caller.
func (d *Detector) FindDuplicates(ctx context.Context, receipt *model.Receipt, pool []model.Receipt) ([]model.DuplicateGroup, error) {
	if receipt == nil || len(pool) == 0 {
		return []model.DuplicateGroup{}, nil
	}

	var members []pairScore
	for i := range pool {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		candidate := &pool[i]
		if candidate.ID == receipt.ID || candidate.Status == model.StatusDeleted {
			continue
		}
		if !d.eligible(receipt, candidate) {
			continue
		}

		ps := d.scorePair(receipt, candidate)
		if ps.confidence > d.cfg.DuplicateThreshold {
			members = append(members, ps)
		}
	}

	if len(members) == 0 {
		return []model.DuplicateGroup{}, nil
	}

	sort.Slice(members, func(i, j int) bool {
		if members[i].confidence != members[j].confidence {
			return members[i].confidence > members[j].confidence
		}
		return members[i].receiptID < members[j].receiptID
	})

	group := model.DuplicateGroup{
		ID:         uuid.NewString(),
		OriginalID: receipt.ID,
		ReceiptIDs: []string{receipt.ID},
		Confidence: members[0].confidence,
		Reasons:    members[0].reasons,
	}
	for _, m := range members {
		group.ReceiptIDs = append(group.ReceiptIDs, m.receiptID)
	}

	return []model.DuplicateGroup{group}, nil
}

// GroupAll runs greedy grouping across a whole receipt set: each receipt
// lands in at most one group, first sufficiently confident match wins.
func (d *Detector) GroupAll(ctx context.Context, receipts []model.Receipt) ([]model.DuplicateGroup, error) {
	assigned := make(map[string]bool, len(receipts))
	var groups []model.DuplicateGroup

	for i := range receipts {
		if assigned[receipts[i].ID] {
			continue
		}

		pool := make([]model.Receipt, 0, len(receipts)-i-1)
		for j := i + 1; j < len(receipts); j++ {
			if !assigned[receipts[j].ID] {
				pool = append(pool, receipts[j])
			}
		}

		found, err := d.FindDuplicates(ctx, &receipts[i], pool)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			continue
		}

		for _, id := range found[0].ReceiptIDs {
			assigned[id] = true
		}
		groups = append(groups, found[0])
	}

	return groups, nil
}

// eligible applies the candidate gates: same merchant with a close amount
// inside the wide window, or an exact amount inside the tight window.
func (d *Detector) eligible(receipt, candidate *model.Receipt) bool {
	days := daysApart(receipt, candidate)
	if days > d.cfg.WindowDays {
		return false
	}

	if sameMerchant(receipt, candidate) && amountWithin(receipt.Amount, candidate.Amount, d.cfg.AmountTolerance) {
		return true
	}
	return receipt.Amount == candidate.Amount && days <= d.cfg.TightWindowDays
}

func (d *Detector) scorePair(receipt, candidate *model.Receipt) pairScore {
	ps := pairScore{receiptID: candidate.ID}

	if sameMerchant(receipt, candidate) {
		ps.confidence += d.cfg.MerchantWeight
		ps.reasons = append(ps.reasons, "Same merchant")
	}

	switch {
	case receipt.Amount == candidate.Amount:
		ps.confidence += d.cfg.AmountWeight
		ps.reasons = append(ps.reasons, "Exact amount match")
	case amountWithin(receipt.Amount, candidate.Amount, d.cfg.AmountTolerance):
		ps.confidence += d.cfg.AmountWeight * score.Amount(receipt.Amount, candidate.Amount, d.cfg.AmountTolerance)
		ps.reasons = append(ps.reasons, "Close amount")
	}

	if items := itemSimilarity(receipt, candidate); items > 0 {
		ps.confidence += d.cfg.ItemsWeight * items
		ps.reasons = append(ps.reasons, "Similar items")
	}

	if daysApart(receipt, candidate) < d.cfg.TightWindowDays {
		ps.confidence += d.cfg.DateWeight
		ps.reasons = append(ps.reasons, "Close dates")
	}

	if ps.confidence > 1 {
		ps.confidence = 1
	}
	return ps
}

func sameMerchant(a, b *model.Receipt) bool {
	na := similarity.Normalize(a.MerchantName)
	return na != "" && na == similarity.Normalize(b.MerchantName)
}

func amountWithin(a, b, tolerance float64) bool {
	if a == b {
		return true
	}
	if a <= 0 || b <= 0 {
		return false
	}
	return math.Abs(a-b)/math.Max(a, b) <= tolerance
}

// itemSimilarity compares line-item description sets by token overlap.
func itemSimilarity(a, b *model.Receipt) float64 {
	if len(a.Items) == 0 || len(b.Items) == 0 {
		return 0
	}
	return similarity.JaccardSimilarity(joinItems(a.Items), joinItems(b.Items))
}

func joinItems(items []model.LineItem) string {
	text := ""
	for _, item := range items {
		text += item.Description + " "
	}
	return text
}

func daysApart(a, b *model.Receipt) int {
	diff := a.Date.Sub(b.Date)
	if diff < 0 {
		diff = -diff
	}
	return int(diff.Hours() / 24)
}
