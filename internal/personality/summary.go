package personality

import (
	"fmt"
	"sort"
	"strings"
)

const (
	highThreshold = 0.7
	lowThreshold  = 0.3
)

// labels per dimension: high, low, middle.
var labels = map[Dimension][3]string{
	Formality:      {"Very formal and professional", "Casual and relaxed", "Balanced formality"},
	Enthusiasm:     {"Highly enthusiastic and energetic", "Calm and measured", "Moderately enthusiastic"},
	Humor:          {"Playful and humorous", "Serious and focused", "Occasionally playful"},
	TechnicalDepth: {"Highly technical and detailed", "Simple and accessible", "Balanced technical depth"},
	Empathy:        {"Very empathetic and understanding", "Analytical and objective", "Caring but balanced"},
	Verbosity:      {"Detailed and comprehensive", "Concise and brief", "Balanced length responses"},
}

// Trait is one dimension rendered for people.
type Trait struct {
	Dimension string  `json:"dimension" yaml:"dimension"`
	Value     float64 `json:"value" yaml:"value"`
	Label     string  `json:"label" yaml:"label"`
}

// Summary is a readable rendering of a Vector.
type Summary struct {
	Traits   []Trait  `json:"traits" yaml:"traits"`
	Dominant []string `json:"dominant" yaml:"dominant"`
	Line     string   `json:"line" yaml:"line"`
}

// Label returns the descriptive label for value x on dimension d.
func Label(d Dimension, x float64) string {
	l := labels[d]
	switch {
	case x > highThreshold:
		return l[0]
	case x < lowThreshold:
		return l[1]
	}
	return l[2]
}

// Summarize describes v. Dominant lists the dimensions furthest from
// neutral (at most two), strongest first.
func Summarize(v Vector) Summary {
	var s Summary
	type dev struct {
		d   Dimension
		off float64
	}
	var devs []dev
	for _, d := range Dimensions {
		x := v.Get(d)
		s.Traits = append(s.Traits, Trait{Dimension: d.String(), Value: x, Label: Label(d, x)})
		if x > highThreshold || x < lowThreshold {
			off := x - Neutral
			if off < 0 {
				off = -off
			}
			devs = append(devs, dev{d, off})
		}
	}
	sort.SliceStable(devs, func(i, j int) bool { return devs[i].off > devs[j].off })
	for i := 0; i < len(devs) && i < 2; i++ {
		s.Dominant = append(s.Dominant, Label(devs[i].d, v.Get(devs[i].d)))
	}

	if len(s.Dominant) == 0 {
		s.Line = "Balanced, neutral persona."
	} else {
		s.Line = strings.Join(s.Dominant, "; ") + "."
	}
	return s
}

// PromptLines renders v as one line per dimension, for a system prompt.
func PromptLines(v Vector) string {
	var sb strings.Builder
	for _, d := range Dimensions {
		x := v.Get(d)
		fmt.Fprintf(&sb, "- %s: %.2f (%s)\n", d, x, Label(d, x))
	}
	return sb.String()
}
