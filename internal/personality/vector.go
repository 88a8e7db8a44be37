package personality

import (
	"fmt"
	"math"
)

// Neutral is the value every dimension starts at for a new user.
const Neutral = 0.5

// Dimension identifies one axis of the personality vector.
type Dimension int

const (
	Formality Dimension = iota
	Enthusiasm
	Humor
	TechnicalDepth
	Empathy
	Verbosity
)

// Dimensions lists every dimension in canonical order.
var Dimensions = []Dimension{Formality, Enthusiasm, Humor, TechnicalDepth, Empathy, Verbosity}

var dimensionNames = [...]string{"formality", "enthusiasm", "humor", "technical_depth", "empathy", "verbosity"}

func (d Dimension) String() string {
	if d < 0 || int(d) >= len(dimensionNames) {
		return fmt.Sprintf("dimension(%d)", int(d))
	}
	return dimensionNames[d]
}

// ParseDimension maps a dimension name back to its Dimension.
func ParseDimension(name string) (Dimension, bool) {
	for i, n := range dimensionNames {
		if n == name {
			return Dimension(i), true
		}
	}
	return 0, false
}

// Vector is the adapted persona for one user. Every field stays in [0, 1].
type Vector struct {
	Formality      float64 `json:"formality" yaml:"formality"`
	Enthusiasm     float64 `json:"enthusiasm" yaml:"enthusiasm"`
	Humor          float64 `json:"humor" yaml:"humor"`
	TechnicalDepth float64 `json:"technical_depth" yaml:"technical_depth"`
	Empathy        float64 `json:"empathy" yaml:"empathy"`
	Verbosity      float64 `json:"verbosity" yaml:"verbosity"`
}

// Default returns a vector with every dimension at Neutral.
func Default() Vector {
	return Vector{
		Formality:      Neutral,
		Enthusiasm:     Neutral,
		Humor:          Neutral,
		TechnicalDepth: Neutral,
		Empathy:        Neutral,
		Verbosity:      Neutral,
	}
}

// Get returns the value of dimension d.
func (v Vector) Get(d Dimension) float64 {
	switch d {
	case Formality:
		return v.Formality
	case Enthusiasm:
		return v.Enthusiasm
	case Humor:
		return v.Humor
	case TechnicalDepth:
		return v.TechnicalDepth
	case Empathy:
		return v.Empathy
	case Verbosity:
		return v.Verbosity
	}
	return 0
}

// Set stores x for dimension d without clamping.
func (v *Vector) Set(d Dimension, x float64) {
	switch d {
	case Formality:
		v.Formality = x
	case Enthusiasm:
		v.Enthusiasm = x
	case Humor:
		v.Humor = x
	case TechnicalDepth:
		v.TechnicalDepth = x
	case Empathy:
		v.Empathy = x
	case Verbosity:
		v.Verbosity = x
	}
}

// Clamped returns a copy of v with every dimension forced into [0, 1].
// NaN values are reset to Neutral.
func (v Vector) Clamped() Vector {
	out := v
	for _, d := range Dimensions {
		out.Set(d, clampUnit(v.Get(d)))
	}
	return out
}

// Valid reports whether every dimension is a finite value in [0, 1].
func (v Vector) Valid() bool {
	for _, d := range Dimensions {
		x := v.Get(d)
		if math.IsNaN(x) || x < 0 || x > 1 {
			return false
		}
	}
	return true
}

// Map renders the vector keyed by dimension name.
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, len(Dimensions))
	for _, d := range Dimensions {
		m[d.String()] = v.Get(d)
	}
	return m
}

// Delta holds the per-dimension change applied in one turn. Values may be
// negative.
type Delta struct {
	Formality      float64 `json:"formality" yaml:"formality"`
	Enthusiasm     float64 `json:"enthusiasm" yaml:"enthusiasm"`
	Humor          float64 `json:"humor" yaml:"humor"`
	TechnicalDepth float64 `json:"technical_depth" yaml:"technical_depth"`
	Empathy        float64 `json:"empathy" yaml:"empathy"`
	Verbosity      float64 `json:"verbosity" yaml:"verbosity"`
}

func (d Delta) Get(dim Dimension) float64 { return Vector(d).Get(dim) }

func (d *Delta) Set(dim Dimension, x float64) {
	v := Vector(*d)
	v.Set(dim, x)
	*d = Delta(v)
}

// Add returns the element-wise sum of d and o.
func (d Delta) Add(o Delta) Delta {
	var out Delta
	for _, dim := range Dimensions {
		out.Set(dim, d.Get(dim)+o.Get(dim))
	}
	return out
}

// Abs returns the element-wise absolute value of d.
func (d Delta) Abs() Delta {
	var out Delta
	for _, dim := range Dimensions {
		out.Set(dim, math.Abs(d.Get(dim)))
	}
	return out
}

// MaxAbs returns the dimension with the largest absolute change and that
// change (signed).
func (d Delta) MaxAbs() (Dimension, float64) {
	best, val := Formality, 0.0
	for _, dim := range Dimensions {
		if x := d.Get(dim); math.Abs(x) > math.Abs(val) {
			best, val = dim, x
		}
	}
	return best, val
}

// Mean returns the mean absolute change across dimensions.
func (d Delta) Mean() float64 {
	var sum float64
	for _, dim := range Dimensions {
		sum += math.Abs(d.Get(dim))
	}
	return sum / float64(len(Dimensions))
}

// IsZero reports whether no dimension changed.
func (d Delta) IsZero() bool { return d == Delta{} }

// Map renders the delta keyed by dimension name, omitting unchanged
// dimensions.
func (d Delta) Map() map[string]float64 {
	m := make(map[string]float64)
	for _, dim := range Dimensions {
		if x := d.Get(dim); x != 0 {
			m[dim.String()] = x
		}
	}
	return m
}

func clampUnit(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return Neutral
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
