package evaluation

import (
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kalambet/attune/internal/personality"
)

// DefaultStabilityWindow is the number of trailing turns used for stability
// and trend reporting.
const DefaultStabilityWindow = 10

// DefaultTrackedUsers is how many users a Tracker holds series for before
// evicting the least recently used one.
const DefaultTrackedUsers = 4096

// Direction of a user's quality trend.
const (
	TrendImproving    = "improving"
	TrendDeclining    = "declining"
	TrendStable       = "stable"
	TrendInsufficient = "insufficient_data"
)

const (
	trendMinSamples = 4
	trendDeadband   = 0.05

	recommendQualityBelow    = 0.5
	recommendStabilityBelow  = 0.7
	recommendEngagementBelow = 0.6
)

// Sample is what the tracker keeps per turn.
type Sample struct {
	Scores Scores            `json:"scores"`
	Delta  personality.Delta `json:"delta"`
}

// Trend summarizes a user's trailing window of turns.
type Trend struct {
	Samples         int      `json:"samples"`
	AverageOverall  float64  `json:"average_overall"`
	Averages        Scores   `json:"averages"`
	Stability       float64  `json:"stability"`
	Direction       string   `json:"direction"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Stability returns 1 minus the normalized variance of the deltas: each
// dimension's variance is divided by maxStep², the largest variance a
// series bounded by ±maxStep can have, and the per-dimension ratios are
// averaged. Fewer than two deltas count as fully stable.
func Stability(deltas []personality.Delta, maxStep float64) float64 {
	if len(deltas) < 2 || maxStep <= 0 {
		return 1
	}
	n := float64(len(deltas))
	var ratio float64
	for _, d := range personality.Dimensions {
		var mean float64
		for _, x := range deltas {
			mean += x.Get(d)
		}
		mean /= n
		var v float64
		for _, x := range deltas {
			diff := x.Get(d) - mean
			v += diff * diff
		}
		v /= n
		ratio += v / (maxStep * maxStep)
	}
	ratio /= float64(len(personality.Dimensions))
	return 1 - math.Max(0, math.Min(1, ratio))
}

// Summarize computes a Trend over samples, oldest first.
func Summarize(samples []Sample, w Weights, maxStep float64) Trend {
	t := Trend{Samples: len(samples), Stability: 1, Direction: TrendInsufficient}
	if len(samples) == 0 {
		return t
	}

	deltas := make([]personality.Delta, len(samples))
	overall := make([]float64, len(samples))
	var sum Scores
	for i, s := range samples {
		deltas[i] = s.Delta
		overall[i] = s.Scores.Overall(w)
		sum.Relevance += s.Scores.Relevance
		sum.Engagement += s.Scores.Engagement
		sum.PersonalityMatch += s.Scores.PersonalityMatch
		sum.TechnicalQuality += s.Scores.TechnicalQuality
	}
	n := float64(len(samples))
	t.Averages = Scores{
		Relevance:        sum.Relevance / n,
		Engagement:       sum.Engagement / n,
		PersonalityMatch: sum.PersonalityMatch / n,
		TechnicalQuality: sum.TechnicalQuality / n,
	}
	t.AverageOverall = mean(overall)
	t.Stability = Stability(deltas, maxStep)

	if len(samples) >= trendMinSamples {
		half := len(overall) / 2
		diff := mean(overall[len(overall)-half:]) - mean(overall[:half])
		switch {
		case diff > trendDeadband:
			t.Direction = TrendImproving
		case diff < -trendDeadband:
			t.Direction = TrendDeclining
		default:
			t.Direction = TrendStable
		}
	}

	if t.AverageOverall < recommendQualityBelow {
		t.Recommendations = append(t.Recommendations, "Consider adjusting evolution sensitivity for better user alignment")
	}
	if t.Stability < recommendStabilityBelow {
		t.Recommendations = append(t.Recommendations, "Personality evolution may be too volatile - consider reducing learning rate")
	}
	if t.Averages.Engagement < recommendEngagementBelow {
		t.Recommendations = append(t.Recommendations, "Focus on improving response engagement and interactivity")
	}
	return t
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// Tracker keeps a rolling window of samples per user. It is safe for
// concurrent use; users never share a series. At most capacity users are
// held; an evicted user is seeded again from storage on their next turn.
type Tracker struct {
	window  int
	maxStep float64
	weights Weights

	mu     sync.Mutex
	series *lru.Cache[string, []Sample]
}

// TrackerOption configures a Tracker.
type TrackerOption func(*trackerOptions)

type trackerOptions struct {
	capacity int
}

// WithCapacity bounds the number of users tracked at once.
func WithCapacity(n int) TrackerOption {
	return func(o *trackerOptions) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// NewTracker creates a Tracker. window <= 0 uses DefaultStabilityWindow.
func NewTracker(window int, maxStep float64, w Weights, opts ...TrackerOption) *Tracker {
	if window <= 0 {
		window = DefaultStabilityWindow
	}
	o := trackerOptions{capacity: DefaultTrackedUsers}
	for _, opt := range opts {
		opt(&o)
	}
	// lru.New only fails for a non-positive size.
	series, _ := lru.New[string, []Sample](o.capacity)
	return &Tracker{
		window:  window,
		maxStep: maxStep,
		weights: w,
		series:  series,
	}
}

// Window returns the number of samples kept per user.
func (t *Tracker) Window() int { return t.window }

// Len returns the number of users currently tracked.
func (t *Tracker) Len() int { return t.series.Len() }

// Seeded reports whether the tracker already holds a series for userID.
func (t *Tracker) Seeded(userID string) bool {
	return t.series.Contains(userID)
}

// Seed replaces the series for userID, keeping the newest window samples.
func (t *Tracker) Seed(userID string, samples []Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.series.Add(userID, t.trim(append([]Sample(nil), samples...)))
}

// Observe appends s to the user's series and returns the updated trend.
func (t *Tracker) Observe(userID string, s Sample) Trend {
	t.mu.Lock()
	prev, _ := t.series.Get(userID)
	series := t.trim(append(append([]Sample(nil), prev...), s))
	t.series.Add(userID, series)
	snapshot := append([]Sample(nil), series...)
	t.mu.Unlock()
	return Summarize(snapshot, t.weights, t.maxStep)
}

// Trend returns the current trend for userID without changing it.
func (t *Tracker) Trend(userID string) Trend {
	t.mu.Lock()
	cur, _ := t.series.Peek(userID)
	snapshot := append([]Sample(nil), cur...)
	t.mu.Unlock()
	return Summarize(snapshot, t.weights, t.maxStep)
}

// Forget drops the series for userID.
func (t *Tracker) Forget(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.series.Remove(userID)
}

func (t *Tracker) trim(s []Sample) []Sample {
	if len(s) > t.window {
		return append([]Sample(nil), s[len(s)-t.window:]...)
	}
	return s
}
