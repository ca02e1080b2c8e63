package model

import "time"

// DuplicateGroup is a set of receipts judged to represent the same purchase.
type DuplicateGroup struct {
	ID         string
	OriginalID string
	ReceiptIDs []string
	Reasons    []string
	Confidence float64
}

// MergeRecord documents one duplicate merge applied to a surviving receipt.
type MergeRecord struct {
	MergedAt    time.Time
	DuplicateID string
	Reasons     []string
	Confidence  float64
}

// MergeOptions controls what a duplicate merge carries over.
type MergeOptions struct {
	KeepOriginal  bool
	MergeMetadata bool
	MergeItems    bool
	MergeTags     bool
}

// DefaultMergeOptions merges everything and soft-deletes the duplicate.
func DefaultMergeOptions() MergeOptions {
	return MergeOptions{
		KeepOriginal:  true,
		MergeMetadata: true,
		MergeItems:    true,
		MergeTags:     true,
	}
}
