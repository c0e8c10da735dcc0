// Package screen captures screen regions and locates the input indicator.
package screen

import (
	"image"
	"log/slog"

	"github.com/kbinani/screenshot"

	apperrors "github.com/GriffinCanCode/indicator-watch/internal/errors"
)

// backend implements raw region capture and display enumeration.
type backend interface {
	captureRect(r image.Rectangle) (*image.RGBA, error)
	displays() []image.Rectangle
}

// kbinaniBackend captures through the native APIs wrapped by
// github.com/kbinani/screenshot (GDI on Windows, CoreGraphics on macOS, X11
// on Linux).
type kbinaniBackend struct{}

func (kbinaniBackend) captureRect(r image.Rectangle) (*image.RGBA, error) {
	return screenshot.CaptureRect(r)
}

func (kbinaniBackend) displays() []image.Rectangle {
	n := screenshot.NumActiveDisplays()
	out := make([]image.Rectangle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, screenshot.GetDisplayBounds(i))
	}
	return out
}

// Capturer captures rectangles in virtual-desktop coordinates.
type Capturer struct {
	backend
}

// New creates a capturer backed by the platform screen APIs.
func New() *Capturer {
	return &Capturer{backend: kbinaniBackend{}}
}

// Capture grabs r. The rectangle must be non-empty and intersect a display.
func (c *Capturer) Capture(r image.Rectangle) (image.Image, error) {
	if r.Empty() {
		return nil, apperrors.Newf(apperrors.InvalidArgument, "empty capture region %v", r)
	}
	if !r.Overlaps(c.Desktop()) {
		return nil, apperrors.Newf(apperrors.OutOfRange, "region %v is outside the desktop %v", r, c.Desktop())
	}
	img, err := c.captureRect(r)
	if err != nil {
		slog.Debug("screen capture failed", "region", r, "error", err)
		return nil, apperrors.Wrapf(err, apperrors.CaptureFailed, "capture %v", r)
	}
	return img, nil
}

// Displays returns the bounds of the active displays.
func (c *Capturer) Displays() []image.Rectangle {
	return c.displays()
}

// Desktop returns the union of all display bounds.
func (c *Capturer) Desktop() image.Rectangle {
	var u image.Rectangle
	for _, d := range c.displays() {
		u = u.Union(d)
	}
	return u
}
