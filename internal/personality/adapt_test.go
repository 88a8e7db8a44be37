package personality

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/attune/internal/errdefs"
	"github.com/kalambet/attune/internal/signals"
)

const eps = 1e-12

func allPresent(v float64) signals.Set {
	s := signals.Set{
		SentimentPositive: v,
		FormalityMarkers:  v,
		HumorMarkers:      v,
		TechnicalDensity:  v,
		EmotionalDensity:  v,
		LengthScore:       v,
	}
	for _, k := range signals.Kinds {
		s.Present = s.Present.With(k)
	}
	return s
}

func TestAdapt_StaysInRangeAndBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	cfgs := []Config{
		DefaultConfig(),
		{LearningRate: 1, MaxEvolutionPerTurn: 0.2, SentimentWeight: 5, StyleWeight: 5, ConsistencyWeight: 2},
		{LearningRate: 0.5, MaxEvolutionPerTurn: 0.05, SentimentWeight: 1, StyleWeight: 0, ConsistencyWeight: 0},
	}

	for _, cfg := range cfgs {
		v := Default()
		for i := 0; i < 500; i++ {
			set := allPresent(rng.Float64())
			set.FormalityMarkers = rng.Float64()
			set.LengthScore = rng.Float64()

			next, delta := Adapt(v, set, cfg)
			if !next.Valid() {
				t.Fatalf("turn %d: vector out of range: %+v", i, next)
			}
			for _, d := range Dimensions {
				if got := math.Abs(delta.Get(d)); got > cfg.MaxEvolutionPerTurn+eps {
					t.Fatalf("turn %d: |delta.%s| = %v exceeds %v", i, d, got, cfg.MaxEvolutionPerTurn)
				}
				if got, want := delta.Get(d), next.Get(d)-v.Get(d); math.Abs(got-want) > eps {
					t.Fatalf("turn %d: delta.%s = %v, actual change %v", i, d, got, want)
				}
			}
			v = next
		}
	}
}

func TestAdapt_ReportsPostClampChange(t *testing.T) {
	cfg := Config{LearningRate: 1, MaxEvolutionPerTurn: 0.2, StyleWeight: 10}
	start := Default()
	start.Formality = 0.95

	set := signals.Set{FormalityMarkers: 1, Present: signals.Mask(0).With(signals.Formality)}
	next, delta := Adapt(start, set, cfg)

	if next.Formality != 1 {
		t.Errorf("Formality = %v, want 1", next.Formality)
	}
	if math.Abs(delta.Formality-0.05) > 1e-9 {
		t.Errorf("delta.Formality = %v, want 0.05", delta.Formality)
	}
}

func TestAdapt_MaxEvolutionClamp(t *testing.T) {
	cfg := Config{LearningRate: 1, MaxEvolutionPerTurn: 0.2, StyleWeight: 10}
	set := signals.Set{TechnicalDensity: 1, Present: signals.Mask(0).With(signals.Technical)}

	_, delta := Adapt(Default(), set, cfg)
	if math.Abs(delta.TechnicalDepth-0.2) > eps {
		t.Errorf("delta.TechnicalDepth = %v, want 0.2", delta.TechnicalDepth)
	}
}

func TestAdapt_NoSignalNoChange(t *testing.T) {
	v := Vector{Formality: 0.9, Enthusiasm: 0.1, Humor: 0.3, TechnicalDepth: 0.7, Empathy: 0.2, Verbosity: 0.8}
	next, delta := Adapt(v, signals.NewLexical().Extract(""), DefaultConfig())

	if !delta.IsZero() {
		t.Errorf("delta = %+v, want zero", delta)
	}
	if diff := cmp.Diff(v, next); diff != "" {
		t.Errorf("vector changed (-want +got):\n%s", diff)
	}
}

func TestAdapt_FormalTechnicalScenario(t *testing.T) {
	set := signals.NewLexical().Extract("Could you please provide detailed technical analysis?")
	_, delta := Adapt(Default(), set, DefaultConfig())

	for _, d := range []Dimension{Formality, Verbosity, TechnicalDepth} {
		x := delta.Get(d)
		if x <= 0 || x > 0.2 {
			t.Errorf("delta.%s = %v, want in (0, 0.2]", d, x)
		}
	}
}

func TestAdapt_UsersDivergeOnFormality(t *testing.T) {
	ext := signals.NewLexical()
	cfg := DefaultConfig()

	formal, _ := Adapt(Default(), ext.Extract("Could you please provide detailed technical analysis?"), cfg)
	casual, _ := Adapt(Default(), ext.Extract("Hey! What's up with AI these days? 😄"), cfg)

	if !(formal.Formality > casual.Formality) {
		t.Errorf("formal.Formality = %v, casual.Formality = %v; want formal > casual", formal.Formality, casual.Formality)
	}
	if !(casual.Enthusiasm > formal.Enthusiasm) {
		t.Errorf("casual.Enthusiasm = %v, formal.Enthusiasm = %v; want casual > formal", casual.Enthusiasm, formal.Enthusiasm)
	}
}

func TestAdapt_ClampsInvalidInput(t *testing.T) {
	bad := Vector{Formality: 1.7, Enthusiasm: -3, Humor: math.NaN(), TechnicalDepth: 0.5, Empathy: 0.5, Verbosity: 0.5}
	next, _ := Adapt(bad, signals.Set{}, DefaultConfig())
	if !next.Valid() {
		t.Errorf("Adapt returned invalid vector %+v", next)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
		ok   bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero learning rate", func(c *Config) { c.LearningRate = 0 }, false},
		{"learning rate above one", func(c *Config) { c.LearningRate = 1.5 }, false},
		{"zero max evolution", func(c *Config) { c.MaxEvolutionPerTurn = 0 }, false},
		{"negative style weight", func(c *Config) { c.StyleWeight = -0.1 }, false},
		{"weights need not sum to one", func(c *Config) { c.SentimentWeight, c.StyleWeight, c.ConsistencyWeight = 2, 2, 2 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mod(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok && !errdefs.IsValidation(err) {
				t.Errorf("Validate() = %v, want ValidationError", err)
			}
		})
	}
}
