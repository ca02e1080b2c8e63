package model

import "time"

// ItemPattern maps a recurring line-item description to a category with
// accumulated evidence.
type ItemPattern struct {
	Description string
	Category    string
	Confidence  float64
	MatchCount  int
}

// TextPattern is a receipt header or footer line repeatedly seen for a
// merchant, learned from correction feedback.
type TextPattern struct {
	Text       string
	Confidence float64
	MatchCount int
}

// SubscriptionInfo captures the derived subscription state for a merchant.
type SubscriptionInfo struct {
	LastDetected  time.Time
	Frequency     Frequency
	State         SubscriptionState
	AverageAmount float64
	IsTypical     bool
}

// MerchantProfile is the accumulated knowledge about one merchant, keyed by
// canonical name. Created lazily on first sighting and updated incrementally
// by the learner; never hard-deleted.
type MerchantProfile struct {
	LastUpdated      time.Time
	Name             string
	Category         string
	Aliases          []string
	ItemPatterns     []ItemPattern
	HeaderPatterns   []TextPattern
	FooterPatterns   []TextPattern
	Subscription     SubscriptionInfo
	Confidence       float64
	RecognitionRate  float64
	AverageAmount    float64
	TransactionCount int
}

// HasAlias reports whether name is already recorded as an alias.
func (p *MerchantProfile) HasAlias(name string) bool {
	for _, a := range p.Aliases {
		if a == name {
			return true
		}
	}
	return false
}
