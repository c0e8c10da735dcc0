// Package affinity compares two pixel sequences unit by unit and reduces the
// per-unit correlations to one similarity value with a reliability estimate.
//
// A Partitioner splits each sequence into units with keys that are stable
// across both sequences, a Correlator scores each corresponding pair, and a
// Detector drives the two and aggregates the result.
package affinity

import (
	"fmt"
	"image"

	"github.com/GriffinCanCode/indicator-watch/internal/raster"
)

// Key identifies a unit. Pixel partitioners use the pixel coordinate; block
// partitioners use the block origin.
type Key image.Point

// KeyOf returns the coordinate key of a pixel.
func KeyOf(p raster.Pixel) Key { return Key{X: p.X, Y: p.Y} }

// IsOrigin reports whether k is (0,0).
func (k Key) IsOrigin() bool { return k.X == 0 && k.Y == 0 }

func (k Key) String() string { return fmt.Sprintf("(%d,%d)", k.X, k.Y) }

// Unit is one comparison granule: an identity plus an extracted feature.
type Unit struct {
	Key   Key
	Value any
}

// Correlation is the similarity of one unit pair. Value is 0 for no
// correlation and 1 for full correlation; Importance 0 excludes the pair from
// the aggregate.
type Correlation struct {
	Value      float64
	Importance float64
}

// Significant reports whether the correlation counts toward the aggregate.
func (c Correlation) Significant() bool { return c.Importance > significance }

// Agrees reports whether a significant correlation counts as agreement.
func (c Correlation) Agrees() bool { return c.Value > significance }

// Affinity is the aggregate similarity of two sequences and the confidence in
// that value.
type Affinity struct {
	Value       float64
	Reliability float64
}

// NewAffinity returns an affinity with full reliability.
func NewAffinity(v float64) Affinity {
	return Affinity{Value: v, Reliability: 1}
}

// Score is Value weighted by Reliability.
func (a Affinity) Score() float64 { return a.Value * a.Reliability }

func (a Affinity) String() string {
	return fmt.Sprintf("%.2f (rel=%.2f)", a.Value, a.Reliability)
}
