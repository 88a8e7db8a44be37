package profile

import (
	"math"
	"time"

	"github.com/kalambet/attune/internal/evaluation"
	"github.com/kalambet/attune/internal/personality"
	"github.com/kalambet/attune/internal/signals"
)

// SchemaVersion is written into every stored profile. New fields are only
// ever added, so older readers keep loading newer records.
const SchemaVersion = 1

// DefaultRetention is the number of turns kept in a profile.
const DefaultRetention = 50

// Profile is everything attune knows about one user. The personality
// vector is embedded; turns are bounded by the store's retention window.
type Profile struct {
	UserID        string             `json:"user_id" yaml:"user_id"`
	SchemaVersion int                `json:"schema_version" yaml:"schema_version"`
	Personality   personality.Vector `json:"personality_vector" yaml:"personality_vector"`
	Turns         []TurnRecord       `json:"turns" yaml:"turns"`
	Counters      Counters           `json:"counters" yaml:"counters"`
	CreatedAt     time.Time          `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at" yaml:"updated_at"`

	// appended holds turns added since load, for backends with a turn log.
	appended []TurnRecord
}

// Counters are rollups over every turn the user ever had, including turns
// already evicted from the window.
type Counters struct {
	TotalTurns int     `json:"total_turns" yaml:"total_turns"`
	QualitySum float64 `json:"quality_sum" yaml:"quality_sum"`
	// CumulativeDelta is the sum of absolute deltas per dimension.
	CumulativeDelta personality.Delta `json:"cumulative_delta" yaml:"cumulative_delta"`
	Adaptations     int               `json:"adaptations" yaml:"adaptations"`
	LargestChange   Change            `json:"largest_change" yaml:"largest_change"`
}

// Change is a single-dimension change.
type Change struct {
	Dimension string  `json:"dimension,omitempty" yaml:"dimension,omitempty"`
	Value     float64 `json:"value" yaml:"value"`
}

// TurnRecord is one user/agent exchange. It is never modified once written.
type TurnRecord struct {
	ID             string            `json:"id" yaml:"id"`
	Timestamp      time.Time         `json:"timestamp" yaml:"timestamp"`
	UserText       string            `json:"user_text" yaml:"user_text"`
	AgentReply     string            `json:"agent_reply" yaml:"agent_reply"`
	Signals        signals.Set       `json:"signals" yaml:"signals"`
	Delta          personality.Delta `json:"delta" yaml:"delta"`
	Scores         evaluation.Scores `json:"scores" yaml:"scores"`
	LatencySeconds float64           `json:"latency_seconds" yaml:"latency_seconds"`
}

// newProfile returns the cold-start profile for userID.
func newProfile(userID string, now time.Time) Profile {
	return Profile{
		UserID:        userID,
		SchemaVersion: SchemaVersion,
		Personality:   personality.Default(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// AppendTurn adds rec to the profile, evicting the oldest turns beyond
// retention, and folds it into the counters. Quality is the turn's overall
// score under the configured weights.
func (p *Profile) AppendTurn(rec TurnRecord, retention int, quality float64) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	p.Turns = append(p.Turns, rec)
	if over := len(p.Turns) - retention; over > 0 {
		p.Turns = append([]TurnRecord(nil), p.Turns[over:]...)
	}
	p.appended = append(p.appended, rec)

	c := &p.Counters
	c.TotalTurns++
	c.QualitySum += quality
	c.CumulativeDelta = c.CumulativeDelta.Add(rec.Delta.Abs())
	if !rec.Delta.IsZero() {
		c.Adaptations++
	}
	if dim, v := rec.Delta.MaxAbs(); math.Abs(v) > math.Abs(c.LargestChange.Value) {
		c.LargestChange = Change{Dimension: dim.String(), Value: v}
	}
}

// Exchanges returns the retained turns as evaluator history, oldest first.
func (p Profile) Exchanges() []evaluation.Exchange {
	out := make([]evaluation.Exchange, len(p.Turns))
	for i, t := range p.Turns {
		out[i] = evaluation.Exchange{UserText: t.UserText, AgentReply: t.AgentReply}
	}
	return out
}

// Samples returns the retained turns as trend samples, oldest first.
func (p Profile) Samples() []evaluation.Sample {
	out := make([]evaluation.Sample, len(p.Turns))
	for i, t := range p.Turns {
		out[i] = evaluation.Sample{Scores: t.Scores, Delta: t.Delta}
	}
	return out
}

// AverageQuality is the mean overall score across all turns, or 0 before
// the first turn.
func (p Profile) AverageQuality() float64 {
	if p.Counters.TotalTurns == 0 {
		return 0
	}
	return p.Counters.QualitySum / float64(p.Counters.TotalTurns)
}
