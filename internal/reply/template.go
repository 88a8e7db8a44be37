package reply

import (
	"context"
	"strings"
	"unicode"
)

// Template answers without a model. Replies are deterministic and shaped by
// the personality vector, which keeps the whole pipeline usable offline.
type Template struct{}

// NewTemplate returns the offline generator.
func NewTemplate() Template { return Template{} }

var templateStopWords = map[string]bool{
	"the": true, "and": true, "with": true, "what": true, "what's": true, "how": true,
	"could": true, "would": true, "should": true, "you": true, "your": true, "please": true,
	"about": true, "this": true, "that": true, "these": true, "days": true, "there": true,
	"have": true, "does": true, "from": true, "into": true, "just": true, "some": true,
	"provide": true, "tell": true, "hey": true, "can": true, "are": true, "for": true,
}

func (Template) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v := req.Personality
	end := "."
	if v.Enthusiasm >= 0.7 {
		end = "!"
	}

	var parts []string
	switch {
	case v.Formality >= 0.7:
		parts = append(parts, "Certainly"+end)
	case v.Formality <= 0.3:
		parts = append(parts, "Hey"+end)
	default:
		parts = append(parts, "Sure"+end)
	}

	topic := topicOf(req.UserText)
	switch {
	case topic == "":
		parts = append(parts, "Could you tell me a bit more about what you have in mind?")
		return strings.Join(parts, " "), nil
	case strings.Contains(req.UserText, "?"):
		parts = append(parts, "Here is what I can share about "+topic+end)
	default:
		parts = append(parts, "Thanks for telling me about "+topic+end)
	}

	if v.Empathy >= 0.6 {
		parts = append(parts, "I understand why that matters to you.")
	}
	if v.TechnicalDepth >= 0.6 {
		parts = append(parts, "We can go through the implementation details and trade-offs step by step.")
	}
	if v.Humor >= 0.7 {
		parts = append(parts, "I promise to keep the puns to a minimum.")
	}
	if v.Verbosity >= 0.6 {
		parts = append(parts, "There is quite a lot to cover, so I will start with the essentials and build from there.")
	}

	if v.Formality >= 0.7 {
		parts = append(parts, "Would you like me to elaborate on any part?")
	} else {
		parts = append(parts, "Want to dig into "+topic+" a bit more?")
	}
	if v.Verbosity <= 0.3 && len(parts) > 3 {
		parts = append(parts[:2], parts[len(parts)-1])
	}
	return strings.Join(parts, " "), nil
}

// topicOf picks up to three content words from text, in order.
func topicOf(text string) string {
	var picked []string
	seen := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	}) {
		if len([]rune(w)) < 3 || templateStopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		picked = append(picked, w)
		if len(picked) == 3 {
			break
		}
	}
	return strings.Join(picked, " ")
}
