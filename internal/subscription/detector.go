// Package subscription detects regular-interval, regular-amount charge
// patterns in a merchant's receipt history.
package subscription

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/matchbook-labs/matchbook/internal/model"
	"github.com/matchbook-labs/matchbook/internal/similarity"
)

// subscriptionKeywords hint that a first-time charge is a subscription.
var subscriptionKeywords = []string{
	"subscription", "monthly", "recurring", "membership", "auto renew", "autopay", "premium plan",
}

// cancellationKeywords short-circuit detection and emit a cancellation date.
var cancellationKeywords = []string{
	"cancel", "unsubscribe", "terminate",
}

// frequencyBand maps a mean interval range onto a frequency.
type frequencyBand struct {
	frequency    model.Frequency
	targetDays   float64
	dayTolerance int
}

var frequencyBands = []frequencyBand{
	{frequency: model.FrequencyWeekly, targetDays: 7, dayTolerance: 1},
	{frequency: model.FrequencyMonthly, targetDays: 30, dayTolerance: 3},
	{frequency: model.FrequencyYearly, targetDays: 365, dayTolerance: 5},
}

// Anomaly flags a receipt that deviates from an established pattern.
type Anomaly struct {
	Date      time.Time
	ReceiptID string
	Reason    string
	Amount    float64
}

// Result is the outcome of running detection over a merchant's history.
type Result struct {
	CancelledAt       *time.Time
	Patterns          []model.SubscriptionPattern
	Anomalies         []Anomaly
	IsNewSubscription bool
}

// Config tunes pattern detection.
type Config struct {
	// MinOccurrences is the smallest amount group worth analyzing.
	MinOccurrences int
	// ConfidencePerInterval is added for each confirming interval, capped at 1.
	ConfidencePerInterval float64
	// ConfirmedIntervals is the confirming-interval count for the confirmed state.
	ConfirmedIntervals int
	// GapFactor times the expected interval marks a lapsed subscription.
	GapFactor float64
}

// DefaultConfig returns the standard detection configuration.
func DefaultConfig() Config {
	return Config{
		MinOccurrences:        2,
		ConfidencePerInterval: 0.3,
		ConfirmedIntervals:    2,
		GapFactor:             2,
	}
}

// Detector finds subscription patterns in receipt histories.
type Detector struct {
	now func() time.Time
	cfg Config
}

// NewDetector creates a detector with the given configuration.
func NewDetector(cfg Config) *Detector {
	if cfg.MinOccurrences <= 0 {
		cfg = DefaultConfig()
	}
	return &Detector{cfg: cfg, now: time.Now}
}

// Detect groups the merchant's history by exact amount, measures the
// intervals inside each group and classifies regular ones into a frequency.
// Cancellation keywords short-circuit detection; subscription keywords on an
// otherwise patternless history flag a new subscription.
func (d *Detector) Detect(ctx context.Context, merchantName string, history []model.Receipt) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	result := Result{Patterns: []model.SubscriptionPattern{}, Anomalies: []Anomaly{}}
	if len(history) == 0 {
		return result, nil
	}

	sorted := make([]model.Receipt, len(history))
	copy(sorted, history)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	if cancelled, at := d.cancellationSignal(sorted); cancelled {
		result.CancelledAt = &at
		return result, nil
	}

	byAmount := make(map[float64][]model.Receipt)
	for _, r := range sorted {
		byAmount[r.Amount] = append(byAmount[r.Amount], r)
	}

	for amount, group := range byAmount {
		if len(group) < d.cfg.MinOccurrences {
			continue
		}
		pattern, anomalies, ok := d.analyzeGroup(merchantName, amount, group)
		if !ok {
			continue
		}
		result.Patterns = append(result.Patterns, pattern)
		result.Anomalies = append(result.Anomalies, anomalies...)
	}

	sort.Slice(result.Patterns, func(i, j int) bool {
		if result.Patterns[i].Confidence != result.Patterns[j].Confidence {
			return result.Patterns[i].Confidence > result.Patterns[j].Confidence
		}
		return result.Patterns[i].Amount < result.Patterns[j].Amount
	})

	if len(result.Patterns) == 0 && d.keywordSignal(sorted) {
		result.IsNewSubscription = true
	}

	return result, nil
}

// analyzeGroup measures successive intervals in one exact-amount group.
func (d *Detector) analyzeGroup(merchantName string, amount float64, group []model.Receipt) (model.SubscriptionPattern, []Anomaly, bool) {
	intervals := make([]float64, 0, len(group)-1)
	for i := 1; i < len(group); i++ {
		days := group[i].Date.Sub(group[i-1].Date).Hours() / 24
		if days > 0 {
			intervals = append(intervals, days)
		}
	}
	if len(intervals) == 0 {
		return model.SubscriptionPattern{}, nil, false
	}

	mean := 0.0
	for _, iv := range intervals {
		mean += iv
	}
	mean /= float64(len(intervals))

	band, ok := classifyInterval(mean)
	if !ok {
		return model.SubscriptionPattern{}, nil, false
	}

	confirming := 0
	var anomalies []Anomaly
	for i, iv := range intervals {
		if math.Abs(iv-band.targetDays) <= float64(band.dayTolerance) {
			confirming++
			continue
		}
		anomalies = append(anomalies, Anomaly{
			ReceiptID: group[i+1].ID,
			Date:      group[i+1].Date,
			Amount:    amount,
			Reason:    "irregular interval",
		})
	}

	confidence := math.Min(1, float64(confirming)*d.cfg.ConfidencePerInterval)
	lastSeen := group[len(group)-1].Date

	state := model.SubscriptionCandidate
	switch {
	case d.now().Sub(lastSeen).Hours()/24 > d.cfg.GapFactor*band.frequency.ExpectedIntervalDays():
		state = model.SubscriptionCancelled
	case confirming >= d.cfg.ConfirmedIntervals:
		state = model.SubscriptionConfirmed
	}

	return model.SubscriptionPattern{
		MerchantName:    merchantName,
		Amount:          amount,
		Frequency:       band.frequency,
		State:           state,
		AmountTolerance: 0,
		DayTolerance:    band.dayTolerance,
		Confidence:      confidence,
		Occurrences:     len(group),
		LastSeen:        lastSeen,
	}, anomalies, true
}

func classifyInterval(meanDays float64) (frequencyBand, bool) {
	for _, band := range frequencyBands {
		if math.Abs(meanDays-band.targetDays) <= float64(band.dayTolerance) {
			return band, true
		}
	}
	return frequencyBand{}, false
}

// cancellationSignal scans merchant names and line items for cancellation
// keywords and returns the date of the latest receipt carrying one.
func (d *Detector) cancellationSignal(sorted []model.Receipt) (bool, time.Time) {
	for i := len(sorted) - 1; i >= 0; i-- {
		if containsAnyKeyword(&sorted[i], cancellationKeywords) {
			return true, sorted[i].Date
		}
	}
	return false, time.Time{}
}

func (d *Detector) keywordSignal(sorted []model.Receipt) bool {
	for i := range sorted {
		if containsAnyKeyword(&sorted[i], subscriptionKeywords) {
			return true
		}
	}
	return false
}

func containsAnyKeyword(r *model.Receipt, keywords []string) bool {
	text := similarity.Normalize(r.MerchantName)
	for _, item := range r.Items {
		text += " " + similarity.Normalize(item.Description)
	}
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
