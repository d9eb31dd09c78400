package design

import (
	"fmt"
	"math"
)

// Dimension is one axis of visual scoring.
type Dimension string

// Scoring dimensions.
const (
	DimLayout     Dimension = "layout"
	DimStyle      Dimension = "style"
	DimA11y       Dimension = "a11y"
	DimPerceptual Dimension = "perceptual"
)

// Dimensions lists all scoring dimensions in their canonical order.
// The order doubles as the deterministic tie-break for focus selection.
var Dimensions = []Dimension{DimLayout, DimStyle, DimA11y, DimPerceptual}

// Vector is one scoring result: each dimension in [0, 1], higher is closer
// to the design.
type Vector struct {
	Layout     float64 `json:"layout"`
	Style      float64 `json:"style"`
	A11y       float64 `json:"a11y"`
	Perceptual float64 `json:"perceptual"`
}

// Get returns the value of one dimension.
func (v Vector) Get(d Dimension) float64 {
	switch d {
	case DimLayout:
		return v.Layout
	case DimStyle:
		return v.Style
	case DimA11y:
		return v.A11y
	case DimPerceptual:
		return v.Perceptual
	default:
		return 0
	}
}

// Clamp returns a copy with every dimension forced into [0, 1].
func (v Vector) Clamp() Vector {
	return Vector{
		Layout:     clamp01(v.Layout),
		Style:      clamp01(v.Style),
		A11y:       clamp01(v.A11y),
		Perceptual: clamp01(v.Perceptual),
	}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// String renders the vector for logs and trace messages.
func (v Vector) String() string {
	return fmt.Sprintf("layout=%.2f style=%.2f a11y=%.2f perceptual=%.2f",
		v.Layout, v.Style, v.A11y, v.Perceptual)
}

// FallbackVector is the neutral score substituted when a scoring response
// cannot be parsed.
func FallbackVector() Vector {
	return Vector{Layout: 0.5, Style: 0.5, A11y: 0.5, Perceptual: 0.5}
}

// Weights assign the relative importance of each dimension in the overall
// score. They must sum to 1.
type Weights struct {
	Layout     float64 `json:"layout" yaml:"layout"`
	Style      float64 `json:"style" yaml:"style"`
	A11y       float64 `json:"a11y" yaml:"a11y"`
	Perceptual float64 `json:"perceptual" yaml:"perceptual"`
}

// DefaultWeights returns the standard dimension weighting.
func DefaultWeights() Weights {
	return Weights{Layout: 0.3, Style: 0.3, A11y: 0.2, Perceptual: 0.2}
}

// Get returns the weight of one dimension.
func (w Weights) Get(d Dimension) float64 {
	switch d {
	case DimLayout:
		return w.Layout
	case DimStyle:
		return w.Style
	case DimA11y:
		return w.A11y
	case DimPerceptual:
		return w.Perceptual
	default:
		return 0
	}
}

// Valid reports whether the weights are non-negative and sum to 1
// within floating tolerance.
func (w Weights) Valid() bool {
	for _, d := range Dimensions {
		if w.Get(d) < 0 {
			return false
		}
	}
	sum := w.Layout + w.Style + w.A11y + w.Perceptual
	return math.Abs(sum-1) < 1e-9
}

// Overall collapses a vector into the single score used for acceptance
// decisions: the weighted sum over dimensions, rounded to two decimals.
func (w Weights) Overall(v Vector) float64 {
	sum := w.Layout*v.Layout + w.Style*v.Style + w.A11y*v.A11y + w.Perceptual*v.Perceptual
	return Round2(sum)
}

// Round2 rounds to two decimal places, the precision scores are ledgered at.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// MeanVector averages vectors per dimension. Scoring runs once per
// breakpoint; the iteration's vector is the mean across breakpoints.
// An empty slice yields the zero vector.
func MeanVector(vs []Vector) Vector {
	if len(vs) == 0 {
		return Vector{}
	}
	var sum Vector
	for _, v := range vs {
		sum.Layout += v.Layout
		sum.Style += v.Style
		sum.A11y += v.A11y
		sum.Perceptual += v.Perceptual
	}
	n := float64(len(vs))
	return Vector{
		Layout:     sum.Layout / n,
		Style:      sum.Style / n,
		A11y:       sum.A11y / n,
		Perceptual: sum.Perceptual / n,
	}
}
