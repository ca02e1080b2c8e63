package dedup

import (
	"fmt"
	"time"

	"github.com/matchbook-labs/matchbook/internal/model"
)

// Merge folds a duplicate receipt into its original. Items, tags and
// metadata are unioned (the duplicate's metadata values win, as the fresher
// copy), the original's duplicate counter is incremented, and the duplicate
// is soft-deleted when KeepOriginal is set. The returned MergeRecord carries
// the triggering scores for the original's merge history.
func (d *Detector) Merge(original, duplicate *model.Receipt, opts model.MergeOptions) (model.MergeRecord, error) {
	if original == nil || duplicate == nil {
		return model.MergeRecord{}, fmt.Errorf("merge requires both receipts")
	}
	if original.ID == duplicate.ID {
		return model.MergeRecord{}, fmt.Errorf("cannot merge receipt %s into itself", original.ID)
	}

	ps := d.scorePair(original, duplicate)

	if opts.MergeItems {
		original.Items = unionItems(original.Items, duplicate.Items)
	}
	if opts.MergeTags {
		original.Tags = unionStrings(original.Tags, duplicate.Tags)
	}
	if opts.MergeMetadata {
		if original.Metadata == nil {
			original.Metadata = make(map[string]string, len(duplicate.Metadata))
		}
		for k, v := range duplicate.Metadata {
			original.Metadata[k] = v
		}
	}

	original.DuplicateCount++
	if opts.KeepOriginal {
		duplicate.Status = model.StatusDeleted
	}

	return model.MergeRecord{
		MergedAt:    time.Now(),
		DuplicateID: duplicate.ID,
		Confidence:  ps.confidence,
		Reasons:     ps.reasons,
	}, nil
}

func unionItems(a, b []model.LineItem) []model.LineItem {
	seen := make(map[string]bool, len(a))
	for _, item := range a {
		seen[itemKey(item)] = true
	}

	merged := a
	for _, item := range b {
		if !seen[itemKey(item)] {
			merged = append(merged, item)
			seen[itemKey(item)] = true
		}
	}
	return merged
}

func itemKey(item model.LineItem) string {
	return fmt.Sprintf("%s|%.2f|%d", item.Description, item.Amount, item.Quantity)
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	for _, s := range a {
		seen[s] = true
	}

	merged := a
	for _, s := range b {
		if !seen[s] {
			merged = append(merged, s)
			seen[s] = true
		}
	}
	return merged
}
