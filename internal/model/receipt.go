// Package model defines the core domain types shared across the engine.
package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// ReceiptStatus tracks where a receipt is in the processing pipeline.
type ReceiptStatus string

const (
	// StatusPending indicates a receipt that has not been matched yet.
	StatusPending ReceiptStatus = "PENDING"
	// StatusMatched indicates a receipt linked to a transaction.
	StatusMatched ReceiptStatus = "MATCHED"
	// StatusUnmatched indicates matching ran but found no transaction.
	StatusUnmatched ReceiptStatus = "UNMATCHED"
	// StatusDeleted indicates a receipt soft-deleted as a duplicate.
	StatusDeleted ReceiptStatus = "DELETED"
)

// LineItem is a single purchased item extracted from a receipt.
type LineItem struct {
	Description string
	Category    string
	Amount      float64
	Quantity    int
}

// Receipt represents a structured purchase record produced by the OCR
// collaborator. It is read-only after creation except for duplicate-merge
// augmentation of items, tags and metadata.
type Receipt struct {
	Date           time.Time
	Metadata       map[string]string
	ID             string
	MerchantName   string
	Category       string
	PaymentMethod  string
	OCRText        string
	TransactionID  string
	Status         ReceiptStatus
	Items          []LineItem
	Tags           []string
	Amount         float64
	Location       *GeoPoint
	DuplicateCount int
}

// GeoPoint is an optional latitude/longitude pair attached to a receipt
// or transaction.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// Valid reports whether the coordinates are inside the representable range.
func (g *GeoPoint) Valid() bool {
	if g == nil {
		return false
	}
	return g.Latitude >= -90 && g.Latitude <= 90 && g.Longitude >= -180 && g.Longitude <= 180
}

// GenerateHash creates a stable hash for exact-duplicate detection.
func (r *Receipt) GenerateHash() string {
	data := fmt.Sprintf("%s:%.2f:%s",
		r.Date.Format("2006-01-02"),
		r.Amount,
		r.MerchantName)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
