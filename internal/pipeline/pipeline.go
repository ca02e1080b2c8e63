// Package pipeline orchestrates batch receipt processing: duplicate
// detection, transaction matching and merchant learning per receipt.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/matchbook-labs/matchbook/internal/dedup"
	"github.com/matchbook-labs/matchbook/internal/learner"
	"github.com/matchbook-labs/matchbook/internal/match"
	"github.com/matchbook-labs/matchbook/internal/model"
	"github.com/matchbook-labs/matchbook/internal/service"
	"github.com/matchbook-labs/matchbook/internal/subscription"
)

// Config tunes a batch run.
type Config struct {
	// ItemTimeout bounds the work spent on a single receipt. Zero disables
	// the per-item deadline.
	ItemTimeout time.Duration
	// Workers bounds receipt-level parallelism.
	Workers int
	// AutoMerge folds detected duplicates into their original receipt.
	AutoMerge bool
	// ShowProgress renders a progress bar on stderr.
	ShowProgress bool
}

// DefaultConfig returns the standard batch configuration.
func DefaultConfig() Config {
	return Config{
		ItemTimeout:  30 * time.Second,
		Workers:      4,
		AutoMerge:    true,
		ShowProgress: true,
	}
}

// Processor runs the receipt pipeline against a storage backend.
type Processor struct {
	storage  service.Storage
	matcher  *match.Engine
	detector *dedup.Detector
	learner  *learner.Learner
	subs     *subscription.Detector
	cfg      Config
}

// New creates a processor with default engines.
func New(storage service.Storage, cfg Config) *Processor {
	return NewWithEngines(storage, match.New(), dedup.NewDetector(dedup.DefaultConfig()), cfg)
}

// NewWithEngines creates a processor with custom matching and duplicate
// detection engines.
func NewWithEngines(storage service.Storage, matcher *match.Engine, detector *dedup.Detector, cfg Config) *Processor {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Processor{
		storage:  storage,
		matcher:  matcher,
		detector: detector,
		learner:  learner.New(storage, storage),
		subs:     subscription.NewDetector(subscription.DefaultConfig()),
		cfg:      cfg,
	}
}

// ProcessPending runs the full pipeline over every pending receipt. A failing
// receipt is counted and logged but never aborts the batch; only context
// cancellation stops the run early.
func (p *Processor) ProcessPending(ctx context.Context) (service.BatchStats, error) {
	start := time.Now()
	var stats service.BatchStats

	receipts, err := p.storage.GetPendingReceipts(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to load pending receipts: %w", err)
	}
	if len(receipts) == 0 {
		return stats, nil
	}

	var bar *progressbar.ProgressBar
	if p.cfg.ShowProgress {
		bar = progressbar.NewOptions(len(receipts),
			progressbar.OptionSetDescription("Matching receipts"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	workers := p.cfg.Workers
	if workers > len(receipts) {
		workers = len(receipts)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	indexes := make(chan int)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				outcome := p.processOne(ctx, &receipts[i])

				mu.Lock()
				stats.Processed++
				switch {
				case outcome.err != nil:
					stats.Failed++
				case outcome.skipped:
					// Merged away earlier in this batch.
				case outcome.matched:
					stats.Matched++
				default:
					stats.Unmatched++
				}
				stats.Duplicates += outcome.duplicates
				mu.Unlock()

				if bar != nil {
					_ = bar.Add(1)
				}
			}
		}()
	}

	var ctxErr error
	for i := range receipts {
		select {
		case <-ctx.Done():
			ctxErr = ctx.Err()
		case indexes <- i:
			continue
		}
		break
	}
	close(indexes)
	wg.Wait()

	if bar != nil {
		_ = bar.Finish()
	}

	stats.Duration = time.Since(start)
	return stats, ctxErr
}

type itemOutcome struct {
	err        error
	duplicates int
	matched    bool
	skipped    bool
}

// processOne runs dedup, matching and learning for a single receipt, bounded
// by the per-item timeout. Receipts merged away earlier in the same batch are
// skipped.
func (p *Processor) processOne(ctx context.Context, receipt *model.Receipt) itemOutcome {
	if p.cfg.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ItemTimeout)
		defer cancel()
	}

	outcome := itemOutcome{}

	fresh, err := p.storage.GetReceiptByID(ctx, receipt.ID)
	if err != nil {
		outcome.err = err
		return outcome
	}
	if fresh.Status != model.StatusPending {
		outcome.skipped = true
		return outcome
	}
	*receipt = *fresh

	merged, err := p.mergeDuplicates(ctx, receipt)
	if err != nil {
		slog.Error("Duplicate detection failed",
			"receipt", receipt.ID,
			"error", err)
		outcome.err = err
		return outcome
	}
	outcome.duplicates = merged

	matched, err := p.matchReceipt(ctx, receipt)
	if err != nil {
		slog.Error("Matching failed",
			"receipt", receipt.ID,
			"error", err)
		outcome.err = err
		return outcome
	}
	outcome.matched = matched

	if err := p.learner.LearnFromReceipt(ctx, receipt, true); err != nil {
		slog.Warn("Profile update failed",
			"receipt", receipt.ID,
			"merchant", receipt.MerchantName,
			"error", err)
	}

	return outcome
}

// mergeDuplicates looks for duplicates of the receipt in the surrounding
// window and, when AutoMerge is on, folds them into it. Returns the number of
// receipts merged away.
func (p *Processor) mergeDuplicates(ctx context.Context, receipt *model.Receipt) (int, error) {
	pool, err := p.storage.GetReceiptsInWindow(ctx, service.ReceiptWindow{
		Center:     receipt.Date,
		Days:       dedup.DefaultConfig().WindowDays,
		ExcludeIDs: []string{receipt.ID},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to load duplicate candidates: %w", err)
	}

	groups, err := p.detector.FindDuplicates(ctx, receipt, pool)
	if err != nil {
		return 0, err
	}
	if len(groups) == 0 {
		return 0, nil
	}

	group := groups[0]
	if err := p.storage.SaveDuplicateGroup(ctx, &group); err != nil {
		return 0, err
	}
	if !p.cfg.AutoMerge {
		return 0, nil
	}

	merged := 0
	byID := make(map[string]*model.Receipt, len(pool))
	for i := range pool {
		byID[pool[i].ID] = &pool[i]
	}

	for _, id := range group.ReceiptIDs {
		duplicate, ok := byID[id]
		if !ok {
			continue
		}

		record, err := p.detector.Merge(receipt, duplicate, model.DefaultMergeOptions())
		if err != nil {
			return merged, err
		}
		if err := p.storage.UpdateReceipt(ctx, duplicate); err != nil {
			return merged, err
		}
		if err := p.storage.AppendMergeRecord(ctx, receipt.ID, record); err != nil {
			return merged, err
		}
		merged++
	}

	if merged > 0 {
		if err := p.storage.UpdateReceipt(ctx, receipt); err != nil {
			return merged, err
		}
	}
	return merged, nil
}

// matchReceipt scores candidate transactions and links the best one. The
// merchant name is first resolved through learned aliases so a misread name
// still matches its canonical profile.
func (p *Processor) matchReceipt(ctx context.Context, receipt *model.Receipt) (bool, error) {
	canonical, err := p.learner.CanonicalName(ctx, receipt.MerchantName)
	if err != nil {
		slog.Warn("Alias resolution failed",
			"merchant", receipt.MerchantName,
			"error", err)
		canonical = receipt.MerchantName
	}

	scored := *receipt
	scored.MerchantName = canonical

	candidates, err := p.storage.GetCandidateTransactions(ctx, receipt, p.matcher.Preferences().DateRangeDays)
	if err != nil {
		return false, fmt.Errorf("failed to load candidate transactions: %w", err)
	}

	results, err := p.matcher.FindMatches(ctx, &scored, candidates)
	if err != nil {
		return false, err
	}

	for i := range results {
		results[i].ReceiptID = receipt.ID
		if err := p.storage.SaveMatchResult(ctx, &results[i]); err != nil {
			slog.Warn("Failed to cache match result",
				"receipt", receipt.ID,
				"transaction", results[i].TransactionID,
				"error", err)
		}
	}

	if len(results) == 0 {
		receipt.Status = model.StatusUnmatched
		if err := p.storage.UpdateReceiptStatus(ctx, receipt.ID, model.StatusUnmatched); err != nil {
			return false, err
		}
		return false, nil
	}

	receipt.TransactionID = results[0].TransactionID
	receipt.Status = model.StatusMatched
	if err := p.storage.UpdateReceipt(ctx, receipt); err != nil {
		return false, err
	}
	return true, nil
}

// RefreshSubscriptions re-runs subscription detection for every merchant with
// a profile and persists the detected patterns.
func (p *Processor) RefreshSubscriptions(ctx context.Context) (int, error) {
	profiles, err := p.storage.GetAllMerchantProfiles(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load merchant profiles: %w", err)
	}

	saved := 0
	var firstErr error
	for i := range profiles {
		name := profiles[i].Name

		history, err := p.storage.GetReceiptsByMerchant(ctx, name)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return saved, err
			}
			slog.Warn("Failed to load merchant history", "merchant", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		result, err := p.subs.Detect(ctx, name, history)
		if err != nil {
			return saved, err
		}

		for j := range result.Patterns {
			if err := p.storage.SaveSubscriptionPattern(ctx, &result.Patterns[j]); err != nil {
				slog.Warn("Failed to save subscription pattern", "merchant", name, "error", err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			saved++
		}
	}

	return saved, firstErr
}

// FindAllDuplicates runs greedy duplicate grouping over the receipts dated
// within windowDays of now and records the groups found.
func (p *Processor) FindAllDuplicates(ctx context.Context, windowDays int) ([]model.DuplicateGroup, error) {
	receipts, err := p.storage.GetReceiptsInWindow(ctx, service.ReceiptWindow{
		Center: time.Now(),
		Days:   windowDays,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load receipts: %w", err)
	}

	groups, err := p.detector.GroupAll(ctx, receipts)
	if err != nil {
		return nil, err
	}

	for i := range groups {
		if err := p.storage.SaveDuplicateGroup(ctx, &groups[i]); err != nil {
			return nil, err
		}
	}
	return groups, nil
}
