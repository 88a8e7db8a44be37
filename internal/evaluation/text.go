package evaluation

import (
	"strings"
	"unicode"
)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true, "in": true,
	"on": true, "at": true, "to": true, "for": true, "of": true, "with": true, "by": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "i": true, "you": true,
	"he": true, "she": true, "it": true, "we": true, "they": true, "that": true, "this": true,
	"me": true, "my": true, "your": true, "do": true, "does": true, "what": true, "how": true,
	"can": true, "so": true, "about": true, "up": true, "these": true, "those": true,
	"what's": true, "it's": true, "i'm": true, "there": true, "some": true, "any": true,
}

var questionStarters = map[string]bool{
	"what": true, "why": true, "how": true, "when": true, "where": true, "who": true,
	"which": true, "can": true, "could": true, "would": true, "should": true, "is": true,
	"are": true, "do": true, "does": true, "did": true, "will": true, "what's": true,
}

var deflections = []string{"i don't know", "not sure", "no idea", "can't say", "cannot say"}

// words lower-cases s and splits it into word tokens.
func words(s string) []string {
	s = strings.ReplaceAll(strings.ToLower(s), "’", "'")
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func contentWords(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range words(s) {
		if !stopWords[w] && len(w) > 1 {
			out[w] = struct{}{}
		}
	}
	return out
}

// isQuestion reports whether s reads as a question.
func isQuestion(s string) bool {
	if strings.Contains(s, "?") {
		return true
	}
	ws := words(s)
	return len(ws) > 0 && questionStarters[ws[0]]
}

// answers reports whether reply makes at least one statement of three or
// more words and does not open with a deflection.
func answers(reply string) bool {
	lower := strings.ToLower(strings.TrimSpace(reply))
	for _, d := range deflections {
		if strings.HasPrefix(lower, d) {
			return false
		}
	}
	for _, sentence := range splitSentences(reply) {
		s := strings.TrimSpace(sentence)
		if strings.HasSuffix(s, "?") {
			continue
		}
		if len(words(s)) >= 3 {
			return true
		}
	}
	return false
}

func splitSentences(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			out = append(out, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// jaccard returns the word-set similarity of a and b. Two empty texts are
// considered dissimilar.
func jaccard(a, b string) float64 {
	wa, wb := wordSet(a), wordSet(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range words(s) {
		out[w] = struct{}{}
	}
	return out
}
