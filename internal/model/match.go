package model

// FieldScores carries the per-field breakdown behind a match confidence.
// A nil field means the scorer did not apply because the data was absent on
// one or both sides; its weight is excluded from the combination entirely.
type FieldScores struct {
	Merchant      *float64
	Amount        *float64
	Date          *float64
	Location      *float64
	Category      *float64
	PaymentMethod *float64
	Text          *float64
	Pattern       *float64
}

// MatchResult links a receipt to a candidate transaction with an overall
// confidence and the scores that produced it. Derived, recomputed on demand.
type MatchResult struct {
	ReceiptID     string
	TransactionID string
	Confidence    float64
	Scores        FieldScores
}

// Score is a small helper for building optional field scores.
func Score(v float64) *float64 { return &v }
