package personality

import (
	"math"

	"github.com/kalambet/attune/internal/errdefs"
	"github.com/kalambet/attune/internal/signals"
)

// Config holds the adaptation constants. The influence weights are
// independent multipliers and need not sum to one.
type Config struct {
	LearningRate        float64 `json:"learning_rate"`
	MaxEvolutionPerTurn float64 `json:"max_evolution_per_turn"`
	SentimentWeight     float64 `json:"sentiment_weight"`
	StyleWeight         float64 `json:"style_weight"`
	ConsistencyWeight   float64 `json:"consistency_weight"`
}

// DefaultConfig returns the stock adaptation constants.
func DefaultConfig() Config {
	return Config{
		LearningRate:        0.1,
		MaxEvolutionPerTurn: 0.2,
		SentimentWeight:     0.3,
		StyleWeight:         0.4,
		ConsistencyWeight:   0.3,
	}
}

// Validate rejects constants that would break the bounded-change guarantee.
func (c Config) Validate() error {
	if !(c.LearningRate > 0 && c.LearningRate <= 1) {
		return errdefs.Validation("learning_rate", "must be in (0, 1], got %v", c.LearningRate)
	}
	if !(c.MaxEvolutionPerTurn > 0 && c.MaxEvolutionPerTurn <= 1) {
		return errdefs.Validation("max_evolution_per_turn", "must be in (0, 1], got %v", c.MaxEvolutionPerTurn)
	}
	for name, w := range map[string]float64{
		"sentiment_weight":   c.SentimentWeight,
		"style_weight":       c.StyleWeight,
		"consistency_weight": c.ConsistencyWeight,
	} {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return errdefs.Validation(name, "must be a non-negative number, got %v", w)
		}
	}
	return nil
}

// source names the signal that drives a dimension and which configured
// weight scales it.
type source struct {
	kind   signals.Kind
	weight func(Config) float64
}

func sentimentWeight(c Config) float64 { return c.SentimentWeight }
func styleWeight(c Config) float64     { return c.StyleWeight }

var sources = map[Dimension]source{
	Formality:      {signals.Formality, styleWeight},
	Enthusiasm:     {signals.Sentiment, sentimentWeight},
	Humor:          {signals.Humor, styleWeight},
	TechnicalDepth: {signals.Technical, styleWeight},
	Empathy:        {signals.Emotional, sentimentWeight},
	Verbosity:      {signals.Length, styleWeight},
}

// Adapt moves current toward the observed signals and returns the new
// vector with the change actually applied to each dimension.
//
// For a dimension whose signal is present the raw influence is
//
//	weight*(signal-current) + consistency_weight*(Neutral-current)
//
// scaled by the learning rate, limited to ±MaxEvolutionPerTurn, and the
// result clamped to [0, 1]. Dimensions with no signal are left untouched.
// The returned delta is new-current after clamping.
func Adapt(current Vector, set signals.Set, cfg Config) (Vector, Delta) {
	current = current.Clamped()
	next := current
	var delta Delta

	for _, d := range Dimensions {
		src, ok := sources[d]
		if !ok || !set.Has(src.kind) {
			continue
		}
		cur := current.Get(d)
		raw := src.weight(cfg)*(set.Value(src.kind)-cur) + cfg.ConsistencyWeight*(Neutral-cur)
		step := clampMagnitude(cfg.LearningRate*raw, cfg.MaxEvolutionPerTurn)
		nv := clampUnit(cur + step)
		next.Set(d, nv)
		delta.Set(d, nv-cur)
	}
	return next, delta
}

func clampMagnitude(x, limit float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(-limit, math.Min(limit, x))
}
