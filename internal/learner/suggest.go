package learner

import (
	"context"
	"sort"
	"strings"

	"github.com/matchbook-labs/matchbook/internal/model"
	"github.com/matchbook-labs/matchbook/internal/similarity"
)

const (
	suggestNameWeight   = 0.5
	suggestAliasWeight  = 0.3
	suggestHeaderWeight = 0.2
	suggestFooterWeight = 0.1

	suggestMinConfidence = 0.3
	suggestLimit         = 5
)

// Suggestion is one candidate merchant for a piece of raw receipt text.
type Suggestion struct {
	Merchant   string
	Confidence float64
}

// SuggestMerchants scores every known profile against raw text using name,
// alias and learned header/footer pattern containment, and returns the top
// candidates above the minimum confidence.
func (l *Learner) SuggestMerchants(ctx context.Context, text string) ([]Suggestion, error) {
	normalized := similarity.Normalize(text)
	if normalized == "" {
		return []Suggestion{}, nil
	}

	profiles, err := l.store.GetAllMerchantProfiles(ctx)
	if err != nil {
		return nil, err
	}

	suggestions := make([]Suggestion, 0, len(profiles))
	for i := range profiles {
		profile := &profiles[i]
		score := 0.0

		if name := similarity.Normalize(profile.Name); name != "" && strings.Contains(normalized, name) {
			score += suggestNameWeight
		}

		for _, alias := range profile.Aliases {
			if a := similarity.Normalize(alias); a != "" && strings.Contains(normalized, a) {
				score += suggestAliasWeight
				break
			}
		}

		score += suggestHeaderWeight * patternHitRatio(normalized, profile.HeaderPatterns)
		score += suggestFooterWeight * patternHitRatio(normalized, profile.FooterPatterns)

		if score = clamp(score); score >= suggestMinConfidence {
			suggestions = append(suggestions, Suggestion{Merchant: profile.Name, Confidence: score})
		}
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Confidence != suggestions[j].Confidence {
			return suggestions[i].Confidence > suggestions[j].Confidence
		}
		return suggestions[i].Merchant < suggestions[j].Merchant
	})

	if len(suggestions) > suggestLimit {
		suggestions = suggestions[:suggestLimit]
	}
	return suggestions, nil
}

// patternHitRatio is the fraction of learned patterns found in the text.
func patternHitRatio(normalizedText string, patterns []model.TextPattern) float64 {
	if len(patterns) == 0 {
		return 0
	}
	hits := 0
	for _, p := range patterns {
		if text := similarity.Normalize(p.Text); text != "" && strings.Contains(normalizedText, text) {
			hits++
		}
	}
	return float64(hits) / float64(len(patterns))
}
