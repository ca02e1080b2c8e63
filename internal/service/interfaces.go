// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/matchbook-labs/matchbook/internal/model"
)

// ReceiptWindow bounds a candidate query around a receipt's date.
type ReceiptWindow struct {
	Center     time.Time
	Days       int
	ExcludeIDs []string
}

// ProfileStore is the read/write store for merchant profiles, keyed by
// canonical merchant name. The learner serializes writes per merchant.
type ProfileStore interface {
	GetMerchantProfile(ctx context.Context, name string) (*model.MerchantProfile, error)
	SaveMerchantProfile(ctx context.Context, profile *model.MerchantProfile) error
	GetAllMerchantProfiles(ctx context.Context) ([]model.MerchantProfile, error)
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	ProfileStore

	// Receipt operations
	SaveReceipt(ctx context.Context, receipt *model.Receipt) error
	GetReceiptByID(ctx context.Context, id string) (*model.Receipt, error)
	GetPendingReceipts(ctx context.Context) ([]model.Receipt, error)
	GetReceiptsByMerchant(ctx context.Context, merchantName string) ([]model.Receipt, error)
	GetReceiptsInWindow(ctx context.Context, window ReceiptWindow) ([]model.Receipt, error)
	UpdateReceipt(ctx context.Context, receipt *model.Receipt) error
	UpdateReceiptStatus(ctx context.Context, id string, status model.ReceiptStatus) error

	// Transaction operations
	SaveTransactions(ctx context.Context, transactions []model.Transaction) error
	GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error)
	GetCandidateTransactions(ctx context.Context, receipt *model.Receipt, windowDays int) ([]model.Transaction, error)

	// Duplicate group operations
	SaveDuplicateGroup(ctx context.Context, group *model.DuplicateGroup) error
	GetDuplicateGroups(ctx context.Context) ([]model.DuplicateGroup, error)
	AppendMergeRecord(ctx context.Context, receiptID string, record model.MergeRecord) error

	// Subscription state
	SaveSubscriptionPattern(ctx context.Context, pattern *model.SubscriptionPattern) error
	GetSubscriptionPatterns(ctx context.Context, merchantName string) ([]model.SubscriptionPattern, error)

	// Match result cache
	SaveMatchResult(ctx context.Context, result *model.MatchResult) error
	GetMatchResultsForReceipt(ctx context.Context, receiptID string) ([]model.MatchResult, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// BatchStats reports per-item outcomes of a batch run. A single failing item
// must not abort the rest of the batch.
type BatchStats struct {
	Duration   time.Duration
	Processed  int
	Matched    int
	Unmatched  int
	Duplicates int
	Failed     int
}
