// Package evaluation scores agent replies against the user's message and the
// personality the reply was generated for, and tracks per-user quality trends.
package evaluation

import (
	"math"
	"strings"
	"unicode"

	"github.com/kalambet/attune/internal/personality"
	"github.com/kalambet/attune/internal/signals"
)

const (
	// DefaultLatencyBudget is the reply latency, in seconds, that still gets
	// full credit.
	DefaultLatencyBudget = 3.0
	// noveltyWindow is how many earlier replies a new reply is compared to.
	noveltyWindow = 5
	// idealMinWords and idealMaxWords bound the engagement length band.
	idealMinWords = 5
	idealMaxWords = 50
	// verbosityWords is the reply length that corresponds to verbosity 1.
	verbosityWords = 40
)

// Exchange is one earlier user/agent pair, oldest first in a history.
type Exchange struct {
	UserText   string `json:"user_text"`
	AgentReply string `json:"agent_reply"`
}

// TurnContext is everything the evaluator looks at for one turn.
type TurnContext struct {
	UserText       string
	AgentReply     string
	Personality    personality.Vector
	LatencySeconds float64
	History        []Exchange
}

// Scores are the four sub-scores of a turn, each in [0, 1]. The overall
// score is never stored alongside them; it is always derived with Overall.
type Scores struct {
	Relevance        float64 `json:"relevance" yaml:"relevance"`
	Engagement       float64 `json:"engagement" yaml:"engagement"`
	PersonalityMatch float64 `json:"personality_match" yaml:"personality_match"`
	TechnicalQuality float64 `json:"technical_quality" yaml:"technical_quality"`
}

// Overall returns the weighted sum of the sub-scores.
func (s Scores) Overall(w Weights) float64 {
	return w.Relevance*s.Relevance +
		w.Engagement*s.Engagement +
		w.PersonalityMatch*s.PersonalityMatch +
		w.TechnicalQuality*s.TechnicalQuality
}

// Check is one sub-score compared against its success threshold.
type Check struct {
	Metric    string  `json:"metric"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	Passed    bool    `json:"passed"`
}

// Report is the result of evaluating one turn.
type Report struct {
	Scores
	Overall  float64     `json:"overall"`
	Category Category    `json:"category"`
	Checks   []Check     `json:"checks"`
	Flow     FlowMetrics `json:"flow"`
}

// Evaluator computes Reports. It holds no per-call state, so the same
// TurnContext always produces the same Report.
type Evaluator struct {
	weights       Weights
	latencyBudget float64
	extractor     signals.Extractor
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLatencyBudget overrides DefaultLatencyBudget. Non-positive values are
// ignored.
func WithLatencyBudget(seconds float64) Option {
	return func(e *Evaluator) {
		if seconds > 0 {
			e.latencyBudget = seconds
		}
	}
}

// WithExtractor sets the extractor used to read markers out of replies.
func WithExtractor(x signals.Extractor) Option {
	return func(e *Evaluator) {
		if x != nil {
			e.extractor = x
		}
	}
}

// New creates an Evaluator. It returns a ValidationError if w does not sum
// to one.
func New(w Weights, opts ...Option) (*Evaluator, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	e := &Evaluator{
		weights:       w,
		latencyBudget: DefaultLatencyBudget,
		extractor:     signals.NewLexical(),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Weights returns the weights the evaluator was built with.
func (e *Evaluator) Weights() Weights { return e.weights }

// Evaluate scores one turn.
func (e *Evaluator) Evaluate(tc TurnContext) Report {
	s := Scores{
		Relevance:        relevance(tc.UserText, tc.AgentReply),
		Engagement:       engagement(tc.AgentReply, tc.History),
		PersonalityMatch: e.personalityMatch(tc.AgentReply, tc.Personality),
		TechnicalQuality: e.technicalQuality(tc.AgentReply, tc.LatencySeconds),
	}
	return e.Report(s, Flow(tc.History, Exchange{UserText: tc.UserText, AgentReply: tc.AgentReply}))
}

// Report assembles a Report from already computed sub-scores.
func (e *Evaluator) Report(s Scores, flow FlowMetrics) Report {
	overall := s.Overall(e.weights)
	return Report{
		Scores:   s,
		Overall:  overall,
		Category: Categorize(overall),
		Checks: []Check{
			check("relevance", s.Relevance, RelevanceThreshold),
			check("engagement", s.Engagement, EngagementThreshold),
			check("personality_match", s.PersonalityMatch, PersonalityMatchThreshold),
			check("technical_quality", s.TechnicalQuality, TechnicalQualityThreshold),
		},
		Flow: flow,
	}
}

func check(metric string, score, threshold float64) Check {
	return Check{Metric: metric, Score: score, Threshold: threshold, Passed: score >= threshold}
}

var genericReplies = []string{"i understand", "that's interesting", "i see", "ok", "okay", "good", "cool"}

// relevance blends content-word overlap with whether the reply responds at
// all (and, for questions, answers rather than deflects).
func relevance(userText, reply string) float64 {
	replyWords := words(reply)
	if len(replyWords) == 0 {
		return 0
	}

	overlap := 0.5
	if user := contentWords(userText); len(user) > 0 {
		got := contentWords(reply)
		hits := 0
		for w := range user {
			if _, ok := got[w]; ok {
				hits++
			}
		}
		overlap = math.Min(float64(hits)/float64(len(user)), 1)
	}

	responsive := 1.0
	if isQuestion(userText) && !answers(reply) {
		responsive = 0.3
	}

	score := 0.6*overlap + 0.4*responsive

	if len(replyWords) < 5 {
		lower := " " + strings.Join(replyWords, " ") + " "
		for _, g := range genericReplies {
			if strings.Contains(lower, " "+g+" ") {
				score *= 0.7
				break
			}
		}
	}
	return clamp(score)
}

// engagement rewards replies inside the ideal length band that invite a
// follow-up and do not repeat recent replies.
func engagement(reply string, history []Exchange) float64 {
	n := len(words(reply))
	if n == 0 {
		return 0
	}

	var length float64
	switch {
	case n < idealMinWords:
		length = float64(n) / idealMinWords
	case n <= idealMaxWords:
		length = 1
	default:
		length = math.Max(0, 1-float64(n-idealMaxWords)/100)
	}

	followUp := 0.0
	if strings.Contains(reply, "?") {
		followUp = 1
	}

	novelty := 1.0
	start := len(history) - noveltyWindow
	if start < 0 {
		start = 0
	}
	for _, h := range history[start:] {
		if sim := jaccard(reply, h.AgentReply); 1-sim < novelty {
			novelty = 1 - sim
		}
	}

	return clamp(0.4*length + 0.3*followUp + 0.3*novelty)
}

// personalityMatch compares the marker densities observed in the reply with
// the target vector: 1 minus the mean absolute deviation over the
// dimensions the reply carries evidence for. A reply with no evidence
// scores a neutral 0.5.
func (e *Evaluator) personalityMatch(reply string, target personality.Vector) float64 {
	obs := e.extractor.Extract(reply)
	n := len(words(reply))

	var devSum float64
	var dims int
	observe := func(d personality.Dimension, got float64) {
		devSum += math.Abs(got - target.Get(d))
		dims++
	}

	if obs.Has(signals.Formality) {
		observe(personality.Formality, obs.FormalityMarkers)
	}
	if obs.Has(signals.Sentiment) {
		observe(personality.Enthusiasm, obs.SentimentPositive)
	} else if n > 0 {
		// A reply with no enthusiasm cues reads as calm.
		observe(personality.Enthusiasm, 0.2)
	}
	if obs.Has(signals.Humor) {
		observe(personality.Humor, obs.HumorMarkers)
	}
	if obs.Has(signals.Technical) {
		observe(personality.TechnicalDepth, obs.TechnicalDensity)
	}
	if obs.Has(signals.Emotional) {
		observe(personality.Empathy, obs.EmotionalDensity)
	}
	if n > 0 {
		observe(personality.Verbosity, math.Min(float64(n)/verbosityWords, 1))
	}

	if dims == 0 {
		return 0.5
	}
	return clamp(1 - devSum/float64(dims))
}

// technicalQuality combines a latency curve (full credit inside the budget,
// falling linearly to zero at four times the budget) with structural
// well-formedness checks.
func (e *Evaluator) technicalQuality(reply string, latency float64) float64 {
	return clamp(0.5*e.latencyScore(latency) + 0.5*structureScore(reply))
}

func (e *Evaluator) latencyScore(latency float64) float64 {
	if math.IsNaN(latency) || latency <= e.latencyBudget {
		return 1
	}
	return math.Max(0, 1-(latency-e.latencyBudget)/(3*e.latencyBudget))
}

func structureScore(reply string) float64 {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		return 0
	}
	checks := []bool{
		startsUpper(trimmed),
		strings.HasSuffix(trimmed, ".") || strings.HasSuffix(trimmed, "!") || strings.HasSuffix(trimmed, "?"),
		!strings.Contains(trimmed, "  "),
		maxRepetition(words(trimmed)) <= 3,
	}
	passed := 0
	for _, ok := range checks {
		if ok {
			passed++
		}
	}
	return float64(passed) / float64(len(checks))
}

func startsUpper(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return unicode.IsUpper(r)
		}
		if !unicode.IsPunct(r) && !unicode.IsSpace(r) {
			// Leading digit or symbol: nothing to capitalize.
			return true
		}
	}
	return true
}

func maxRepetition(ws []string) int {
	counts := make(map[string]int, len(ws))
	best := 0
	for _, w := range ws {
		if stopWords[w] {
			continue
		}
		counts[w]++
		if counts[w] > best {
			best = counts[w]
		}
	}
	return best
}

func clamp(x float64) float64 {
	if math.IsNaN(x) {
		return 0.5
	}
	return math.Max(0, math.Min(1, x))
}
