// Package match implements the core receipt-to-transaction matching engine.
package match

import (
	"context"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/matchbook-labs/matchbook/internal/model"
	"github.com/matchbook-labs/matchbook/internal/score"
	"github.com/matchbook-labs/matchbook/internal/similarity"
)

// Weights holds the relative importance of each field scorer. Fields absent
// on either side are excluded from the weighted combination entirely rather
// than scored zero.
type Weights struct {
	Merchant      float64
	Amount        float64
	Date          float64
	Location      float64
	Category      float64
	PaymentMethod float64
	Text          float64
	Pattern       float64
}

// Preferences configures the matching engine.
type Preferences struct {
	Weights                Weights
	AmountTolerance        float64
	DateRangeDays          int
	MerchantMatchThreshold float64
	LocationRadiusKm       float64
	PatternMatchThreshold  float64
}

// DefaultPreferences returns the standard weight split: merchant and amount
// dominate, date is secondary, everything else is a minor signal.
func DefaultPreferences() Preferences {
	return Preferences{
		Weights: Weights{
			Merchant:      0.30,
			Amount:        0.30,
			Date:          0.15,
			Location:      0.05,
			Category:      0.05,
			PaymentMethod: 0.05,
			Text:          0.05,
			Pattern:       0.05,
		},
		AmountTolerance:        0.05,
		DateRangeDays:          3,
		MerchantMatchThreshold: 0.8,
		LocationRadiusKm:       10,
		PatternMatchThreshold:  0.1,
	}
}

// Engine ranks candidate transactions for a receipt. Stateless and safe for
// concurrent use.
type Engine struct {
	prefs   Preferences
	workers int
}

// New creates a matching engine with default preferences.
func New() *Engine {
	return NewWithPreferences(DefaultPreferences())
}

// NewWithPreferences creates a matching engine with custom preferences.
func NewWithPreferences(prefs Preferences) *Engine {
	return &Engine{
		prefs:   prefs,
		workers: runtime.NumCPU(),
	}
}

// Preferences returns the engine's active preferences.
func (e *Engine) Preferences() Preferences {
	return e.prefs
}

// FindMatches scores every candidate against the receipt, keeps those at or
// above the merchant-match threshold and returns them ranked by confidence.
// Equal confidences order by transaction ID ascending so results are
// deterministic. Scoring fans out across a bounded worker pool; the candidate
// list is the only bound on parallelism.
func (e *Engine) FindMatches(ctx context.Context, receipt *model.Receipt, candidates []model.Transaction) ([]model.MatchResult, error) {
	if receipt == nil || len(candidates) == 0 {
		return []model.MatchResult{}, nil
	}

	frequencies := merchantFrequencies(candidates)
	results := make([]model.MatchResult, len(candidates))

	workers := e.workers
	if workers > len(candidates) {
		workers = len(candidates)
	}
	if workers < 1 {
		workers = 1
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				results[i] = e.scoreCandidate(receipt, &candidates[i], frequencies)
			}
		}()
	}

	for i := range candidates {
		select {
		case <-ctx.Done():
			close(indexes)
			wg.Wait()
			return nil, ctx.Err()
		case indexes <- i:
		}
	}
	close(indexes)
	wg.Wait()

	matched := make([]model.MatchResult, 0, len(results))
	for _, r := range results {
		if r.Confidence >= e.prefs.MerchantMatchThreshold {
			matched = append(matched, r)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Confidence != matched[j].Confidence {
			return matched[i].Confidence > matched[j].Confidence
		}
		return matched[i].TransactionID < matched[j].TransactionID
	})

	return matched, nil
}

// scoreCandidate computes every applicable field score and combines them as
// sum(score*weight)/sum(weight of applicable fields).
func (e *Engine) scoreCandidate(receipt *model.Receipt, txn *model.Transaction, frequencies map[string]int) model.MatchResult {
	w := e.prefs.Weights
	result := model.MatchResult{
		ReceiptID:     receipt.ID,
		TransactionID: txn.ID,
	}

	var weightedSum, weightTotal float64
	apply := func(s, weight float64) *float64 {
		weightedSum += s * weight
		weightTotal += weight
		return model.Score(clamp(s))
	}

	txnMerchant := txn.MerchantName
	if txnMerchant == "" {
		txnMerchant = txn.Description
	}
	if receipt.MerchantName != "" && txnMerchant != "" {
		result.Scores.Merchant = apply(score.Merchant(receipt.MerchantName, txnMerchant), w.Merchant)
	}

	result.Scores.Amount = apply(score.Amount(receipt.Amount, math.Abs(txn.Amount), e.prefs.AmountTolerance), w.Amount)

	if !receipt.Date.IsZero() && !txn.Date.IsZero() {
		result.Scores.Date = apply(score.Date(receipt.Date, txn.Date, e.prefs.DateRangeDays), w.Date)
	}

	if receipt.Location.Valid() && txn.Location.Valid() {
		result.Scores.Location = apply(score.Location(receipt.Location, txn.Location, e.prefs.LocationRadiusKm), w.Location)
	}

	if receipt.Category != "" && txn.Category != "" {
		result.Scores.Category = apply(score.Category(receipt.Category, txn.Category), w.Category)
	}

	if receipt.PaymentMethod != "" && txn.PaymentMethod != "" {
		result.Scores.PaymentMethod = apply(score.PaymentMethod(receipt.PaymentMethod, txn.PaymentMethod), w.PaymentMethod)
	}

	if receipt.OCRText != "" && txn.Description != "" {
		result.Scores.Text = apply(score.Text(receipt.OCRText, txn.Description), w.Text)
	}

	if freq := score.PatternFrequency(receipt.MerchantName, frequencies, e.prefs.PatternMatchThreshold); freq > 0 {
		result.Scores.Pattern = apply(freq, w.Pattern)
	}

	if weightTotal > 0 {
		result.Confidence = clamp(weightedSum / weightTotal)
	}
	return result
}

// MatchFlags restricts MatchOne to a subset of the primary fields.
type MatchFlags struct {
	Amount   bool
	Date     bool
	Merchant bool
}

// MatchOneResult is the outcome of a single-best-match request.
type MatchOneResult struct {
	Transaction *model.Transaction
	Confidence  float64
	Matched     bool
}

// MatchOne finds the single best candidate using only the enabled fields.
// Confidence is normalized by the number of fields actually compared.
func (e *Engine) MatchOne(ctx context.Context, receipt *model.Receipt, candidates []model.Transaction, flags MatchFlags) (MatchOneResult, error) {
	if receipt == nil || (!flags.Amount && !flags.Date && !flags.Merchant) {
		return MatchOneResult{}, nil
	}

	var best MatchOneResult
	bestID := ""
	for i := range candidates {
		select {
		case <-ctx.Done():
			return MatchOneResult{}, ctx.Err()
		default:
		}

		txn := &candidates[i]
		var sum float64
		fields := 0

		if flags.Amount {
			sum += score.Amount(receipt.Amount, math.Abs(txn.Amount), e.prefs.AmountTolerance)
			fields++
		}
		if flags.Date {
			sum += score.Date(receipt.Date, txn.Date, e.prefs.DateRangeDays)
			fields++
		}
		if flags.Merchant {
			merchant := txn.MerchantName
			if merchant == "" {
				merchant = txn.Description
			}
			sum += score.Merchant(receipt.MerchantName, merchant)
			fields++
		}

		confidence := clamp(sum / float64(fields))
		if confidence > best.Confidence || (confidence == best.Confidence && best.Transaction != nil && txn.ID < bestID) {
			best.Confidence = confidence
			best.Transaction = txn
			bestID = txn.ID
		}
	}

	best.Matched = best.Transaction != nil && best.Confidence >= e.prefs.MerchantMatchThreshold
	if !best.Matched {
		best.Transaction = nil
	}
	return best, nil
}

// merchantFrequencies counts how often each normalized merchant name appears
// in the candidate pool.
func merchantFrequencies(candidates []model.Transaction) map[string]int {
	frequencies := make(map[string]int, len(candidates))
	for i := range candidates {
		name := candidates[i].MerchantName
		if name == "" {
			name = candidates[i].Description
		}
		frequencies[similarity.Normalize(name)]++
	}
	return frequencies
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
