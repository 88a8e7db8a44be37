package evaluation

import (
	"math"

	"github.com/kalambet/attune/internal/errdefs"
)

// weightTolerance absorbs float noise when checking that weights sum to one.
const weightTolerance = 1e-6

// Weights sets the contribution of each sub-score to the overall score.
// They must sum to 1.0; Validate rejects anything else.
type Weights struct {
	Relevance        float64 `json:"relevance"`
	Engagement       float64 `json:"engagement"`
	PersonalityMatch float64 `json:"personality_match"`
	TechnicalQuality float64 `json:"technical_quality"`
}

// DefaultWeights returns 0.30 / 0.25 / 0.25 / 0.20.
func DefaultWeights() Weights {
	return Weights{
		Relevance:        0.30,
		Engagement:       0.25,
		PersonalityMatch: 0.25,
		TechnicalQuality: 0.20,
	}
}

// Validate checks that every weight is non-negative and that they sum to 1.
// Weights are never renormalized.
func (w Weights) Validate() error {
	parts := []struct {
		name string
		v    float64
	}{
		{"relevance_weight", w.Relevance},
		{"engagement_weight", w.Engagement},
		{"personality_match_weight", w.PersonalityMatch},
		{"technical_quality_weight", w.TechnicalQuality},
	}
	var sum float64
	for _, p := range parts {
		if p.v < 0 || math.IsNaN(p.v) || math.IsInf(p.v, 0) {
			return errdefs.Validation(p.name, "must be a non-negative number, got %v", p.v)
		}
		sum += p.v
	}
	if math.Abs(sum-1) > weightTolerance {
		return errdefs.Validation("evaluation weights", "must sum to 1.0, got %.6f", sum)
	}
	return nil
}

// Thresholds below which a sub-score counts as a miss.
const (
	RelevanceThreshold        = 0.6
	EngagementThreshold       = 0.7
	PersonalityMatchThreshold = 0.7
	TechnicalQualityThreshold = 0.8
)

// Category buckets an overall score.
type Category string

const (
	Excellent  Category = "excellent"
	Good       Category = "good"
	Acceptable Category = "acceptable"
	Poor       Category = "poor"
)

// Categorize maps an overall score to its Category.
func Categorize(score float64) Category {
	switch {
	case score >= 0.8:
		return Excellent
	case score >= 0.6:
		return Good
	case score >= 0.4:
		return Acceptable
	}
	return Poor
}
