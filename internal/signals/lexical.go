package signals

import (
	"math"
	"strings"
	"unicode"
)

// Lexicon holds the marker vocabularies used by the Lexical extractor.
// Entries are lower case; multi-word entries match whole-word sequences.
type Lexicon struct {
	Formal    []string
	Casual    []string
	Positive  []string
	Humor     []string
	Technical []string
	Emotional []string
	// Symbols are matched verbatim against the raw text.
	PositiveSymbols []string
	HumorSymbols    []string
}

// DefaultLexicon returns the built-in English vocabularies.
func DefaultLexicon() Lexicon {
	return Lexicon{
		Formal: []string{
			"please", "thank you", "thanks", "could you", "would you", "may i", "kindly",
			"certainly", "indeed", "furthermore", "moreover", "however", "regards", "sincerely",
		},
		Casual: []string{
			"hey", "yeah", "cool", "awesome", "lol", "btw", "gonna", "wanna", "gotta",
			"yep", "nope", "what's up", "sup", "dude", "ya", "kinda",
		},
		Positive: []string{
			"amazing", "awesome", "fantastic", "excellent", "brilliant", "love", "excited",
			"wonderful", "incredible", "great", "happy", "glad", "nice", "thrilled",
		},
		Humor: []string{
			"lol", "haha", "hahaha", "funny", "joke", "kidding", "just joking", "lmao", "rofl",
		},
		Technical: []string{
			"algorithm", "implementation", "architecture", "framework", "api", "database",
			"optimization", "analysis", "system", "function", "method", "class", "variable",
			"parameter", "technical", "protocol", "latency", "compiler", "concurrency",
			"server", "query", "schema", "model", "code", "debug", "deploy",
		},
		Emotional: []string{
			"feel", "feeling", "feelings", "emotion", "happy", "sad", "frustrated", "excited",
			"worried", "concerned", "grateful", "appreciate", "love", "hate", "angry",
			"disappointed", "thrilled", "lonely", "anxious", "upset", "scared",
		},
		PositiveSymbols: []string{"😄", "😊", "😂", "😀", "🎉", "❤️", ":)", ":D"},
		HumorSymbols:    []string{"😂", "😄", "😊", "🤣", ":)", ":D", ";)"},
	}
}

const (
	// wordsForFullLength is the utterance length that saturates length_score.
	wordsForFullLength = 10
	// densityScale maps a hit ratio to a score; one hit in four words saturates.
	densityScale = 4.0
)

// Lexical is a keyword and pattern matching Extractor.
type Lexical struct {
	lex Lexicon
}

// NewLexical creates a Lexical extractor with the default vocabulary.
func NewLexical() *Lexical {
	return &Lexical{lex: DefaultLexicon()}
}

// NewLexicalWith creates a Lexical extractor with a custom vocabulary.
func NewLexicalWith(lex Lexicon) *Lexical {
	return &Lexical{lex: lex}
}

// Extract scores text. Formality and sentiment are only marked present when
// a cue is found; density and length signals are present for any non-empty
// text.
func (l *Lexical) Extract(text string) Set {
	set := Set{
		SentimentPositive: 0.5,
		FormalityMarkers:  0.5,
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return set
	}

	words := tokenize(text)
	joined := " " + strings.Join(words, " ") + " "
	n := math.Max(float64(len(words)), 1)

	formal := countPhrases(joined, l.lex.Formal)
	casual := countPhrases(joined, l.lex.Casual)
	if formal+casual > 0 {
		set.FormalityMarkers = float64(formal) / float64(formal+casual)
		set.Present = set.Present.With(Formality)
	}

	exclaims := strings.Count(text, "!")
	positive := countPhrases(joined, l.lex.Positive) + countSymbols(text, l.lex.PositiveSymbols)
	if exclaims > 0 || positive > 0 {
		set.SentimentPositive = clamp(
			math.Min(float64(exclaims)/2, 1)*0.4 +
				math.Min(capsRatio(text)*5, 1)*0.2 +
				math.Min(float64(positive)/2, 1)*0.4)
		set.Present = set.Present.With(Sentiment)
	}

	humor := countPhrases(joined, l.lex.Humor) + countSymbols(text, l.lex.HumorSymbols)
	set.HumorMarkers = clamp(float64(humor) / 3)

	tech := countTerms(words, l.lex.Technical)
	set.TechnicalDensity = clamp(
		math.Min(float64(tech)*densityScale/n, 1)*0.7 + wordLengthScore(words)*0.3)

	emo := countTerms(words, l.lex.Emotional)
	set.EmotionalDensity = clamp(float64(emo) * densityScale / n)

	set.LengthScore = clamp(float64(len(fields)) / wordsForFullLength)

	set.Present = set.Present.With(Humor).With(Technical).With(Emotional).With(Length)
	return set
}

// tokenize lower-cases text and splits it into words, keeping apostrophes
// inside words.
func tokenize(text string) []string {
	text = strings.ReplaceAll(strings.ToLower(text), "’", "'")
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func countPhrases(joined string, phrases []string) int {
	total := 0
	for _, p := range phrases {
		total += strings.Count(joined, " "+p+" ")
	}
	return total
}

func countSymbols(text string, symbols []string) int {
	total := 0
	for _, s := range symbols {
		total += strings.Count(text, s)
	}
	return total
}

// countTerms counts words equal to a term or its plural.
func countTerms(words []string, terms []string) int {
	set := make(map[string]struct{}, len(terms)*2)
	for _, t := range terms {
		set[t] = struct{}{}
		set[t+"s"] = struct{}{}
	}
	total := 0
	for _, w := range words {
		if _, ok := set[w]; ok {
			total++
		}
	}
	return total
}

func capsRatio(text string) float64 {
	var letters, upper int
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

// wordLengthScore rewards long words: 0 at an average of four letters,
// 1 at ten.
func wordLengthScore(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	var total int
	for _, w := range words {
		total += len([]rune(w))
	}
	avg := float64(total) / float64(len(words))
	if avg <= 4 {
		return 0
	}
	return math.Min((avg-4)/6, 1)
}

func clamp(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
