// Package signals turns a single utterance into normalized linguistic cues.
package signals

import "strings"

// Kind identifies one signal in a Set.
type Kind int

const (
	Sentiment Kind = iota
	Formality
	Humor
	Technical
	Emotional
	Length
)

// Kinds lists every signal kind in canonical order.
var Kinds = []Kind{Sentiment, Formality, Humor, Technical, Emotional, Length}

var kindNames = [...]string{"sentiment_positive", "formality_markers", "humor_markers", "technical_density", "emotional_density", "length_score"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Mask records which signals had evidence in the utterance.
type Mask uint8

func (m Mask) Has(k Kind) bool { return m&(1<<uint(k)) != 0 }

func (m Mask) With(k Kind) Mask { return m | 1<<uint(k) }

func (m Mask) String() string {
	var names []string
	for _, k := range Kinds {
		if m.Has(k) {
			names = append(names, k.String())
		}
	}
	return strings.Join(names, ",")
}

// Set is the extraction result for one utterance. Every score is in [0, 1].
// A score whose kind is absent from Present carries no evidence and is
// reported at its neutral value.
type Set struct {
	SentimentPositive float64 `json:"sentiment_positive"`
	FormalityMarkers  float64 `json:"formality_markers"`
	HumorMarkers      float64 `json:"humor_markers"`
	TechnicalDensity  float64 `json:"technical_density"`
	EmotionalDensity  float64 `json:"emotional_density"`
	LengthScore       float64 `json:"length_score"`
	Present           Mask    `json:"present"`
}

// Value returns the score for k.
func (s Set) Value(k Kind) float64 {
	switch k {
	case Sentiment:
		return s.SentimentPositive
	case Formality:
		return s.FormalityMarkers
	case Humor:
		return s.HumorMarkers
	case Technical:
		return s.TechnicalDensity
	case Emotional:
		return s.EmotionalDensity
	case Length:
		return s.LengthScore
	}
	return 0
}

// Has reports whether the utterance carried evidence for k.
func (s Set) Has(k Kind) bool { return s.Present.Has(k) }

// Map renders the scores keyed by signal name.
func (s Set) Map() map[string]float64 {
	m := make(map[string]float64, len(Kinds))
	for _, k := range Kinds {
		m[k.String()] = s.Value(k)
	}
	return m
}

// Extractor produces a Set from text. Implementations must be pure and
// must not fail; empty input yields a Set with nothing present.
type Extractor interface {
	Extract(text string) Set
}
