package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Transaction represents a single bank or card ledger entry sourced from a
// bank-feed collaborator. Immutable once imported.
type Transaction struct {
	Date          time.Time
	ID            string
	AccountID     string
	Description   string // Raw feed description
	MerchantName  string // Cleaned merchant name
	Category      string
	PaymentMethod string
	Hash          string
	Amount        float64
	Location      *GeoPoint
}

// GenerateHash creates a unique hash for duplicate detection on import.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%.2f:%s:%s",
		t.Date.Format("2006-01-02"),
		t.Amount,
		t.MerchantName,
		t.AccountID)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
