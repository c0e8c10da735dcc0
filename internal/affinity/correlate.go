package affinity

import (
	"math"

	apperrors "github.com/GriffinCanCode/indicator-watch/internal/errors"
)

const (
	// significance splits importance into counted/excluded and value into
	// agree/disagree.
	significance = 0.5

	// BackgroundBand is the half-width of the brightness band around the
	// background sample.
	BackgroundBand = 0.1
)

// Correlator scores a pair of units the caller has matched by key.
type Correlator interface {
	Correlate(a, b Unit) (Correlation, error)
}

// resetter is implemented by correlators that carry state between pairs.
type resetter interface {
	Reset()
}

// ExactCorrelator compares packed colours: {1,1} when identical, {0,1}
// otherwise. Unit values must be uint32.
type ExactCorrelator struct{}

// Correlate implements Correlator.
func (ExactCorrelator) Correlate(a, b Unit) (Correlation, error) {
	ca, okA := a.Value.(uint32)
	cb, okB := b.Value.(uint32)
	if !okA || !okB {
		return Correlation{}, apperrors.Newf(apperrors.Configuration,
			"exact correlator needs uint32 colours, got %T and %T", a.Value, b.Value)
	}
	if ca == cb {
		return Correlation{Value: 1, Importance: 1}, nil
	}
	return Correlation{Value: 0, Importance: 1}, nil
}

// BrightnessCorrelator compares brightness values (float64) and rejects
// background. The background band is re-seeded from unit a whenever a's key is
// the origin, so the first unit of the reference sequence is taken to be
// background.
//
// Until a band has been seeded no unit counts as background.
type BrightnessCorrelator struct {
	band   [2]float64
	seeded bool
}

// Reset clears the background band.
func (bc *BrightnessCorrelator) Reset() {
	bc.band = [2]float64{}
	bc.seeded = false
}

// Band returns the current background band and whether it has been seeded.
func (bc *BrightnessCorrelator) Band() (lo, hi float64, ok bool) {
	return bc.band[0], bc.band[1], bc.seeded
}

func (bc *BrightnessCorrelator) inBand(e float64) bool {
	return bc.seeded && bc.band[0] <= e && e <= bc.band[1]
}

// Correlate implements Correlator.
//
//   - a in band: {0, 0}, background, excluded.
//   - b in band only: {0, 1}, foreground against background.
//   - otherwise: {1-|a-b|, 1}.
func (bc *BrightnessCorrelator) Correlate(a, b Unit) (Correlation, error) {
	ea, okA := a.Value.(float64)
	eb, okB := b.Value.(float64)
	if !okA || !okB {
		return Correlation{}, apperrors.Newf(apperrors.Configuration,
			"brightness correlator needs float64 brightness, got %T and %T", a.Value, b.Value)
	}
	if a.Key.IsOrigin() {
		bc.band = [2]float64{ea - BackgroundBand, ea + BackgroundBand}
		bc.seeded = true
	}

	switch {
	case bc.inBand(ea):
		return Correlation{Value: 0, Importance: 0}, nil
	case bc.inBand(eb):
		return Correlation{Value: 0, Importance: 1}, nil
	default:
		return Correlation{Value: 1 - math.Abs(ea-eb), Importance: 1}, nil
	}
}
