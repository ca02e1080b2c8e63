package model

import "time"

// Frequency classifies the interval of a recurring charge.
type Frequency string

const (
	// FrequencyWeekly is a mean interval of about 7 days.
	FrequencyWeekly Frequency = "weekly"
	// FrequencyMonthly is a mean interval of about 30 days.
	FrequencyMonthly Frequency = "monthly"
	// FrequencyYearly is a mean interval of about 365 days.
	FrequencyYearly Frequency = "yearly"
)

// ExpectedIntervalDays returns the nominal gap between charges.
func (f Frequency) ExpectedIntervalDays() float64 {
	switch f {
	case FrequencyWeekly:
		return 7
	case FrequencyMonthly:
		return 30
	case FrequencyYearly:
		return 365
	default:
		return 0
	}
}

// SubscriptionState is the lifecycle position of a detected subscription.
type SubscriptionState string

const (
	// SubscriptionNone means no pattern has been found.
	SubscriptionNone SubscriptionState = "none"
	// SubscriptionCandidate means a pattern exists with low confidence.
	SubscriptionCandidate SubscriptionState = "candidate"
	// SubscriptionConfirmed means at least two confirming intervals exist.
	SubscriptionConfirmed SubscriptionState = "confirmed"
	// SubscriptionCancelled means a cancellation keyword or a long gap ended it.
	SubscriptionCancelled SubscriptionState = "cancelled"
)

// SubscriptionPattern is a detected regular-interval, regular-amount charge
// from one merchant.
type SubscriptionPattern struct {
	LastSeen        time.Time
	MerchantName    string
	Frequency       Frequency
	State           SubscriptionState
	Amount          float64
	AmountTolerance float64
	DayTolerance    int
	Confidence      float64
	Occurrences     int
}
