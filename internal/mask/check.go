package mask

import (
	"context"
	"image"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/nfnt/resize"

	"github.com/GriffinCanCode/indicator-watch/internal/affinity"
	apperrors "github.com/GriffinCanCode/indicator-watch/internal/errors"
	"github.com/GriffinCanCode/indicator-watch/internal/raster"
	"github.com/GriffinCanCode/indicator-watch/internal/syncx"
	"github.com/GriffinCanCode/indicator-watch/internal/trace"
)

// Threshold is the score (Value * Reliability) a check must exceed to match.
const Threshold = 0.9

// Result is the outcome of one check.
type Result struct {
	Matched  bool
	Affinity affinity.Affinity
	// Region is the screen rectangle that was captured.
	Region image.Rectangle
	// Size is the reference size the capture was compared at.
	Size image.Point
	// Rescaled is set when the capture was resized to the reference size.
	Rescaled bool
	// HashDistance is the perceptual-hash Hamming distance between reference
	// and capture, -1 when unavailable.
	HashDistance int
	Stats        affinity.CorrelationStats
	Correlations map[affinity.Key]affinity.Correlation
	CheckedAt    time.Time
}

// Check captures the indicator region and compares it with the reference.
// It fails with NOT_FOUND when no reference is installed and CAPTURE_FAILED
// when the region cannot be located or captured. The reference stays locked
// for reading until the comparison is finished.
func (s *Store) Check(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	ctx, span := trace.StartSpan(ctx, "mask.check")
	defer span.End()

	res, err := syncx.View(s.state, func(ref *reference) (Result, error) {
		if ref == nil {
			return Result{}, apperrors.New(apperrors.NotFound, "no reference mask")
		}

		region := ref.bounds
		if s.locator != nil {
			r, err := s.locator.Locate()
			if err != nil {
				return Result{}, apperrors.Wrap(err, apperrors.CaptureFailed, "locate indicator")
			}
			region = r
		}
		span.SetAttr("region", region.String())

		img, err := s.capturer.Capture(region)
		if err != nil {
			return Result{}, apperrors.Wrapf(err, apperrors.CaptureFailed, "capture %v", region)
		}
		if img == nil || img.Bounds().Empty() {
			return Result{}, apperrors.Newf(apperrors.CaptureFailed, "empty capture of %v", region)
		}

		size := ref.img.Rect.Size()
		res := Result{Region: region, Size: size, HashDistance: -1, CheckedAt: time.Now()}
		if img.Bounds().Size() != size {
			img = resize.Resize(uint(size.X), uint(size.Y), img, resize.Bilinear)
			res.Rescaled = true
		}
		captured := toRGBA(img)

		if ref.hash != nil {
			if h, err := goimagehash.PerceptionHash(captured); err == nil {
				if d, err := ref.hash.Distance(h); err == nil {
					res.HashDistance = d
				}
			}
		}

		buf, err := raster.New(captured)
		if err != nil {
			return Result{}, err
		}
		defer buf.Release()

		det := s.newDetector()
		det.Init()
		defer det.Done()

		aff, err := det.Detect(ref.buf.All(), buf.All())
		if err != nil {
			return Result{}, err
		}
		res.Affinity = aff
		res.Matched = aff.Score() > Threshold
		res.Stats = det.Stats()
		res.Correlations = det.Correlations()

		trace.Logger(ctx).Debug("mask checked",
			"affinity", aff.Value,
			"reliability", aff.Reliability,
			"hash_distance", res.HashDistance,
			"rescaled", res.Rescaled,
			"matched", res.Matched,
		)
		return res, nil
	})
	switch {
	case err == nil:
		span.SetAttr("score", res.Affinity.Score())
		span.SetAttr("matched", res.Matched)
	case !apperrors.IsCode(err, apperrors.NotFound):
		span.SetError(err)
	}
	return res, err
}

// MatchCheck reports whether the indicator currently matches the reference.
// It is false when no reference is installed; capture and detection errors
// are logged and also reported as no match.
func (s *Store) MatchCheck() bool {
	ctx := context.Background()
	res, err := s.Check(ctx)
	if err != nil {
		if !apperrors.IsCode(err, apperrors.NotFound) {
			trace.Logger(ctx).Warn("mask check failed", "error", err)
		}
		return false
	}
	return res.Matched
}

// Capture grabs the region the next check would compare: the located region
// when a locator is configured, else explicit. It is used to record a new
// reference.
func (s *Store) Capture(explicit image.Rectangle) (image.Image, image.Rectangle, error) {
	region := explicit
	if s.locator != nil {
		r, err := s.locator.Locate()
		if err != nil {
			return nil, image.Rectangle{}, apperrors.Wrap(err, apperrors.CaptureFailed, "locate indicator")
		}
		region = r
	}
	if region.Empty() {
		return nil, image.Rectangle{}, apperrors.New(apperrors.InvalidArgument, "empty capture region")
	}
	img, err := s.capturer.Capture(region)
	if err != nil {
		return nil, image.Rectangle{}, apperrors.Wrapf(err, apperrors.CaptureFailed, "capture %v", region)
	}
	if img == nil || img.Bounds().Empty() {
		return nil, image.Rectangle{}, apperrors.Newf(apperrors.CaptureFailed, "capture %v returned no pixels", region)
	}
	return img, region, nil
}
