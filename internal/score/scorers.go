// Package score implements the per-field scoring functions that feed the
// match engine. Every scorer returns a value in [0,1] and degrades smoothly
// near its tolerance boundary instead of cutting off linearly.
package score

import (
	"math"
	"strings"
	"time"

	"github.com/matchbook-labs/matchbook/internal/model"
	"github.com/matchbook-labs/matchbook/internal/similarity"
)

// corporateSuffixes are trailing tokens stripped before comparing merchant
// names, so "Walmart Inc" and "Walmart" compare as the same merchant.
var corporateSuffixes = map[string]bool{
	"inc":          true,
	"incorporated": true,
	"llc":          true,
	"corp":         true,
	"corporation":  true,
	"co":           true,
	"company":      true,
	"ltd":          true,
	"limited":      true,
}

// Merchant scores two merchant names. Normalized-equal names score 1,
// containment scores 0.8, otherwise suffix-stripped edit-distance similarity.
func Merchant(a, b string) float64 {
	na := similarity.Normalize(a)
	nb := similarity.Normalize(b)

	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return 0.8
	}

	return similarity.StringSimilarity(stripCorporateSuffixes(na), stripCorporateSuffixes(nb))
}

func stripCorporateSuffixes(normalized string) string {
	tokens := strings.Fields(normalized)
	for len(tokens) > 1 && corporateSuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}

// Amount scores two monetary amounts under a fractional tolerance. Equal
// amounts score 1; within tolerance the score follows a sigmoid centered at
// tolerance/2 so it drops steeply near the boundary; beyond tolerance it is 0.
// Zero or negative amounts only match exactly.
func Amount(a, b, tolerance float64) float64 {
	if a == b {
		return 1
	}
	if a <= 0 || b <= 0 || tolerance <= 0 {
		return 0
	}

	pctDiff := math.Abs(a-b) / math.Max(a, b)
	if pctDiff > tolerance {
		return 0
	}
	return boundarySigmoid(pctDiff, tolerance)
}

// Date scores two calendar dates. Same day is 1, adjacent days 0.9, then a
// sigmoid centered at maxDays/2 out to maxDays, and 0 beyond. Zero-value
// dates score 0 rather than erroring.
func Date(a, b time.Time, maxDays int) float64 {
	if a.IsZero() || b.IsZero() || maxDays <= 0 {
		return 0
	}

	days := daysBetween(a, b)
	switch {
	case days == 0:
		return 1
	case days == 1:
		return 0.9
	case days > maxDays:
		return 0
	}

	s := boundarySigmoid(float64(days), float64(maxDays))
	return math.Min(s, 0.9)
}

// Location scores two coordinates against a radius. Missing or invalid
// coordinates score 0; beyond the radius scores 0; inside it the score
// follows a sigmoid centered at radius/2.
func Location(a, b *model.GeoPoint, radiusKm float64) float64 {
	if !a.Valid() || !b.Valid() || radiusKm <= 0 {
		return 0
	}

	dist := similarity.HaversineKm(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
	if dist < 0 || dist > radiusKm {
		return 0
	}
	return boundarySigmoid(dist, radiusKm)
}

// Category is exact-match only.
func Category(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if strings.EqualFold(a, b) {
		return 1
	}
	return 0
}

// PaymentMethod is exact-match only.
func PaymentMethod(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if strings.EqualFold(a, b) {
		return 1
	}
	return 0
}

// Text scores OCR text against a transaction description by token overlap.
func Text(receiptText, description string) float64 {
	if receiptText == "" || description == "" {
		return 0
	}
	return similarity.JaccardSimilarity(receiptText, description)
}

// PatternFrequency returns how often a merchant recurs in the candidate pool
// as a ratio, or 0 when below the threshold. A weak tie-breaking signal only.
func PatternFrequency(merchantName string, history map[string]int, threshold float64) float64 {
	total := 0
	for _, count := range history {
		total += count
	}
	if total == 0 {
		return 0
	}

	ratio := float64(history[similarity.Normalize(merchantName)]) / float64(total)
	if ratio < threshold {
		return 0
	}
	return ratio
}

// boundarySigmoid maps value in [0,limit] to (0,1), centered at limit/2 with
// a drop-off that steepens toward the limit.
func boundarySigmoid(value, limit float64) float64 {
	return 1 / (1 + math.Exp(8*(value-limit/2)/limit))
}

// daysBetween counts whole calendar days between two dates, ignoring time of
// day and timezone offsets.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)

	diff := int(da.Sub(db).Hours() / 24)
	if diff < 0 {
		diff = -diff
	}
	return diff
}
