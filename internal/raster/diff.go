package raster

import (
	"iter"

	apperrors "github.com/GriffinCanCode/indicator-watch/internal/errors"
)

// DefaultTolerance is the summed channel difference below which two pixels
// count as equal in Diff.
const DefaultTolerance = 70

// MarkRed is the colour Diff paints over differing pixels by default.
const MarkRed uint32 = 0xFF0000

// Diff walks reference and candidate in lock-step and returns the fraction
// of reference pixels that have no equal counterpart (see Pixel.Equal).
// Each differing candidate pixel is overwritten with mark. Pixels beyond the
// shorter sequence count as different.
func Diff(reference, candidate *Buffer, tolerance int, mark uint32) (float64, error) {
	if reference.Released() || candidate.Released() {
		return 0, apperrors.New(apperrors.Released, "buffer released")
	}
	if reference.Len() == 0 {
		return 0, nil
	}

	nextRef, stopRef := iter.Pull(reference.All())
	defer stopRef()
	nextCand, stopCand := iter.Pull(candidate.All())
	defer stopCand()

	diffs := reference.Len()
	for {
		c, ok := nextCand()
		if !ok {
			break
		}
		r, ok := nextRef()
		if !ok {
			break
		}
		if r.Equal(c, tolerance) {
			diffs--
		} else {
			c.SetColor(mark)
		}
	}
	return float64(diffs) / float64(reference.Len()), nil
}
