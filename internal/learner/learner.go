// Package learner maintains per-merchant profiles, updated incrementally as
// receipts are processed and corrected.
package learner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/matchbook-labs/matchbook/internal/common"
	"github.com/matchbook-labs/matchbook/internal/model"
	"github.com/matchbook-labs/matchbook/internal/service"
	"github.com/matchbook-labs/matchbook/internal/similarity"
	"github.com/matchbook-labs/matchbook/internal/subscription"
)

const (
	// aliasMaxEditDistance is the largest edit distance treated as a typo
	// variant worth recording as an alias.
	aliasMaxEditDistance = 3

	// patternBaseConfidence seeds a newly learned item or text pattern.
	patternBaseConfidence = 0.3
	// patternConfidenceStep is added on every confirming sighting.
	patternConfidenceStep = 0.1

	// feedbackPenalty is subtracted from a merchant's confidence and
	// recognition rate on a wrong recognition; both floor at 0.
	feedbackPenalty = 0.1

	// textPatternLines is how many leading/trailing receipt lines become
	// header/footer patterns.
	textPatternLines = 3
)

// HistoryStore supplies a merchant's receipt history for subscription
// re-evaluation.
type HistoryStore interface {
	GetReceiptsByMerchant(ctx context.Context, merchantName string) ([]model.Receipt, error)
}

// Feedback is a human correction of a merchant recognition.
type Feedback struct {
	OriginalMerchant string
	CorrectMerchant  string
	ReceiptText      string
	IsCorrect        bool
}

// Learner updates merchant profiles. Calls for the same merchant are
// serialized through a per-key mutex so concurrent increments never lose
// updates; different merchants proceed in parallel.
type Learner struct {
	store     service.ProfileStore
	history   HistoryStore
	detector  *subscription.Detector
	locks     *keyedLocks
	retryOpts service.RetryOptions
}

// New creates a learner backed by the given profile store. history may be
// nil, in which case subscription re-evaluation is skipped.
func New(store service.ProfileStore, history HistoryStore) *Learner {
	return &Learner{
		store:    store,
		history:  history,
		detector: subscription.NewDetector(subscription.DefaultConfig()),
		locks:    newKeyedLocks(),
		retryOpts: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
		},
	}
}

// LearnFromReceipt folds one processed receipt into its merchant's profile:
// running averages via the incremental-mean formula, item-category patterns,
// dominant-category confidence, and optionally subscription state when the
// caller supplies an explicit subscription flag.
func (l *Learner) LearnFromReceipt(ctx context.Context, receipt *model.Receipt, isSubscription bool) error {
	if receipt == nil || receipt.MerchantName == "" {
		return fmt.Errorf("%w: receipt requires a merchant name", common.ErrValidation)
	}

	unlock := l.locks.lock(similarity.Normalize(receipt.MerchantName))
	defer unlock()

	profile, err := l.fetchOrCreate(ctx, receipt.MerchantName)
	if err != nil {
		return err
	}

	profile.AverageAmount = incrementalMean(profile.AverageAmount, profile.TransactionCount, receipt.Amount)
	profile.TransactionCount++
	profile.RecognitionRate = incrementalMean(profile.RecognitionRate, profile.TransactionCount-1, 1)
	profile.Confidence = clamp(profile.Confidence + patternConfidenceStep/2)

	for _, item := range receipt.Items {
		if item.Category == "" {
			continue
		}
		bumpItemPattern(profile, item)
	}

	if receipt.Category != "" {
		if profile.Category == "" || strings.EqualFold(profile.Category, receipt.Category) {
			profile.Category = receipt.Category
		}
	}

	if isSubscription && l.history != nil {
		if err := l.refreshSubscription(ctx, profile); err != nil {
			slog.Warn("Subscription re-evaluation failed",
				"merchant", profile.Name,
				"error", err)
		}
	}

	return l.save(ctx, profile)
}

// ProcessFeedback applies a human correction. A wrong recognition lowers the
// original merchant's confidence and recognition rate (floored at zero),
// teaches header/footer text patterns to the correct merchant, and records
// the original name as an alias when it is within typo distance.
func (l *Learner) ProcessFeedback(ctx context.Context, feedback Feedback) error {
	if feedback.OriginalMerchant == "" || feedback.CorrectMerchant == "" {
		return fmt.Errorf("%w: feedback requires both merchant names", common.ErrValidation)
	}

	if feedback.IsCorrect {
		return l.confirmRecognition(ctx, feedback.OriginalMerchant)
	}

	if err := l.penalizeMerchant(ctx, feedback.OriginalMerchant); err != nil {
		return err
	}

	unlock := l.locks.lock(similarity.Normalize(feedback.CorrectMerchant))
	defer unlock()

	profile, err := l.fetchOrCreate(ctx, feedback.CorrectMerchant)
	if err != nil {
		return err
	}

	if feedback.ReceiptText != "" {
		learnTextPatterns(profile, feedback.ReceiptText)
	}

	if similarity.EditDistance(feedback.OriginalMerchant, feedback.CorrectMerchant) <= aliasMaxEditDistance &&
		!profile.HasAlias(feedback.OriginalMerchant) {
		profile.Aliases = append(profile.Aliases, feedback.OriginalMerchant)
	}

	return l.save(ctx, profile)
}

// CanonicalName resolves a possibly-misrecognized merchant name through the
// learned aliases. Unknown names resolve to themselves.
func (l *Learner) CanonicalName(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", nil
	}

	if _, err := l.store.GetMerchantProfile(ctx, name); err == nil {
		return name, nil
	} else if !errors.Is(err, common.ErrNotFound) {
		return name, err
	}

	profiles, err := l.store.GetAllMerchantProfiles(ctx)
	if err != nil {
		return name, err
	}
	for i := range profiles {
		if profiles[i].HasAlias(name) {
			return profiles[i].Name, nil
		}
	}
	return name, nil
}

func (l *Learner) confirmRecognition(ctx context.Context, merchantName string) error {
	unlock := l.locks.lock(similarity.Normalize(merchantName))
	defer unlock()

	profile, err := l.fetchOrCreate(ctx, merchantName)
	if err != nil {
		return err
	}
	profile.Confidence = clamp(profile.Confidence + patternConfidenceStep)
	profile.RecognitionRate = clamp(profile.RecognitionRate + patternConfidenceStep/2)
	return l.save(ctx, profile)
}

// penalizeMerchant lowers confidence for a merchant that was wrongly
// recognized. A merchant never seen before has no profile to penalize.
func (l *Learner) penalizeMerchant(ctx context.Context, merchantName string) error {
	unlock := l.locks.lock(similarity.Normalize(merchantName))
	defer unlock()

	profile, err := l.store.GetMerchantProfile(ctx, merchantName)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	profile.Confidence = clamp(profile.Confidence - feedbackPenalty)
	profile.RecognitionRate = clamp(profile.RecognitionRate - feedbackPenalty)
	return l.save(ctx, profile)
}

func (l *Learner) refreshSubscription(ctx context.Context, profile *model.MerchantProfile) error {
	history, err := l.history.GetReceiptsByMerchant(ctx, profile.Name)
	if err != nil {
		return err
	}

	result, err := l.detector.Detect(ctx, profile.Name, history)
	if err != nil {
		return err
	}
	if len(result.Patterns) == 0 {
		if result.IsNewSubscription {
			profile.Subscription.State = model.SubscriptionCandidate
		}
		return nil
	}

	best := result.Patterns[0]
	profile.Subscription = model.SubscriptionInfo{
		IsTypical:     best.State == model.SubscriptionConfirmed,
		State:         best.State,
		Frequency:     best.Frequency,
		AverageAmount: best.Amount,
		LastDetected:  best.LastSeen,
	}
	return nil
}

func (l *Learner) fetchOrCreate(ctx context.Context, merchantName string) (*model.MerchantProfile, error) {
	profile, err := l.store.GetMerchantProfile(ctx, merchantName)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("failed to load merchant profile: %w", err)
	}

	return &model.MerchantProfile{
		Name:            merchantName,
		Confidence:      0.5,
		RecognitionRate: 1,
	}, nil
}

// save persists the profile with bounded retry so transient store conflicts
// do not drop learned increments.
func (l *Learner) save(ctx context.Context, profile *model.MerchantProfile) error {
	profile.LastUpdated = time.Now()
	return common.WithRetry(ctx, func() error {
		return l.store.SaveMerchantProfile(ctx, profile)
	}, l.retryOpts)
}

func bumpItemPattern(profile *model.MerchantProfile, item model.LineItem) {
	for i := range profile.ItemPatterns {
		p := &profile.ItemPatterns[i]
		if strings.EqualFold(p.Description, item.Description) && strings.EqualFold(p.Category, item.Category) {
			p.MatchCount++
			p.Confidence = clamp(p.Confidence + patternConfidenceStep)
			return
		}
	}
	profile.ItemPatterns = append(profile.ItemPatterns, model.ItemPattern{
		Description: item.Description,
		Category:    item.Category,
		Confidence:  patternBaseConfidence,
		MatchCount:  1,
	})
}

// learnTextPatterns records the first and last lines of a receipt's text as
// header and footer patterns, deduplicated as sets.
func learnTextPatterns(profile *model.MerchantProfile, receiptText string) {
	var lines []string
	for _, line := range strings.Split(receiptText, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) == 0 {
		return
	}

	headers := lines
	if len(headers) > textPatternLines {
		headers = lines[:textPatternLines]
	}
	footers := lines
	if len(footers) > textPatternLines {
		footers = lines[len(lines)-textPatternLines:]
	}

	profile.HeaderPatterns = bumpTextPatterns(profile.HeaderPatterns, headers)
	profile.FooterPatterns = bumpTextPatterns(profile.FooterPatterns, footers)
}

func bumpTextPatterns(patterns []model.TextPattern, lines []string) []model.TextPattern {
	for _, line := range lines {
		found := false
		for i := range patterns {
			if patterns[i].Text == line {
				patterns[i].MatchCount++
				patterns[i].Confidence = clamp(patterns[i].Confidence + patternConfidenceStep)
				found = true
				break
			}
		}
		if !found {
			patterns = append(patterns, model.TextPattern{
				Text:       line,
				Confidence: patternBaseConfidence,
				MatchCount: 1,
			})
		}
	}
	return patterns
}

// incrementalMean folds one new value into a running average without
// re-reading history: newAvg = (oldAvg*oldCount + value) / (oldCount+1).
func incrementalMean(oldAvg float64, oldCount int, value float64) float64 {
	return (oldAvg*float64(oldCount) + value) / float64(oldCount+1)
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

// keyedLocks serializes operations per merchant key.
type keyedLocks struct {
	locks map[string]*sync.Mutex
	mu    sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
