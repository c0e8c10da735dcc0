// Package mask keeps the reference image of the watched indicator, persists
// it as PNG, and checks live captures against it.
package mask

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/corona10/goimagehash"
	"golang.org/x/image/draw"

	"github.com/GriffinCanCode/indicator-watch/internal/affinity"
	apperrors "github.com/GriffinCanCode/indicator-watch/internal/errors"
	"github.com/GriffinCanCode/indicator-watch/internal/raster"
	"github.com/GriffinCanCode/indicator-watch/internal/syncx"
)

// Capturer grabs the screen content of a rectangle in screen coordinates.
type Capturer interface {
	Capture(r image.Rectangle) (image.Image, error)
}

// Locator computes the current screen region of the indicator.
type Locator interface {
	Locate() (image.Rectangle, error)
}

// DetectorFactory builds a fresh detector for one comparison.
type DetectorFactory func() *affinity.Detector

// Option configures a Store.
type Option func(*Store)

// WithLocator makes checks capture the located region instead of the stored
// bounds.
func WithLocator(l Locator) Option {
	return func(s *Store) { s.locator = l }
}

// WithDetector replaces the brightness detector used by checks.
func WithDetector(f DetectorFactory) Option {
	return func(s *Store) { s.newDetector = f }
}

// WithLogger sets the logger used outside request-scoped calls.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// reference is an installed mask. It is immutable once installed; a new mask
// replaces the whole value.
type reference struct {
	img    *image.RGBA
	buf    *raster.Buffer
	bounds image.Rectangle
	hash   *goimagehash.ImageHash
}

func newReference(img *image.RGBA, origin image.Point) (*reference, error) {
	buf, err := raster.New(img)
	if err != nil {
		return nil, err
	}
	ref := &reference{
		img:    img,
		buf:    buf,
		bounds: image.Rectangle{Min: origin, Max: origin.Add(img.Rect.Size())},
	}
	if h, err := goimagehash.PerceptionHash(img); err == nil {
		ref.hash = h
	}
	return ref, nil
}

// Store holds at most one reference mask. It is safe for concurrent use:
// checks share the read side of the guard for the whole comparison, SetMask
// and Delete take the write side.
type Store struct {
	path        string
	capturer    Capturer
	locator     Locator
	newDetector DetectorFactory
	logger      *slog.Logger

	state *syncx.RWGuard[*reference]
}

// Open creates a Store persisting to path and loads the mask found there.
// A mask without origin metadata loads with origin (0,0).
func Open(path string, c Capturer, opts ...Option) (*Store, error) {
	s := &Store{
		path:        path,
		capturer:    c,
		newDetector: affinity.NewBrightnessDetector,
		logger:      slog.Default(),
		state:       syncx.NewGuard[*reference](nil),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.IO, "create mask directory for %s", path)
	}
	ref, err := s.load()
	if err != nil {
		return nil, err
	}
	if ref != nil {
		s.state.Set(ref)
		s.logger.Info("reference mask loaded", "path", path, "bounds", ref.bounds)
	}
	return s, nil
}

func (s *Store) load() (*reference, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.IO, "read mask %s", s.path)
	}

	texts, err := textChunks(data)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeOf(err), "read mask %s", s.path)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.UnsupportedFormat, "decode mask %s", s.path)
	}

	var origin image.Point
	if v, ok := texts[OriginKeyword]; !ok {
		s.logger.Warn("mask has no origin metadata, using (0,0)", "path", s.path)
	} else if origin, err = parseOrigin(v); err != nil {
		s.logger.Warn("mask origin unreadable, using (0,0)", "path", s.path, "error", err)
		origin = image.Point{}
	}
	return newReference(toRGBA(img), origin)
}

// Path returns the persistence path.
func (s *Store) Path() string { return s.path }

// Exists reports whether a reference mask is installed.
func (s *Store) Exists() bool { return s.state.Get() != nil }

// Bounds returns the screen bounds of the reference, or the zero rectangle.
func (s *Store) Bounds() image.Rectangle {
	if ref := s.state.Get(); ref != nil {
		return ref.bounds
	}
	return image.Rectangle{}
}

// Reference returns a copy of the reference image, or nil.
func (s *Store) Reference() image.Image {
	img, _ := syncx.View(s.state, func(ref *reference) (image.Image, error) {
		if ref == nil {
			return nil, nil
		}
		return ref.buf.Image(), nil
	})
	return img
}

// SetMask installs img as the reference captured at bounds and persists it.
// The image is copied. bounds must have the image's size. On failure the
// previous mask stays installed and the file on disk is unchanged.
func (s *Store) SetMask(img image.Image, bounds image.Rectangle) error {
	if ext := strings.ToLower(filepath.Ext(s.path)); ext != ".png" {
		return apperrors.Newf(apperrors.UnsupportedFormat, "mask file %s: unsupported extension %q, want .png", s.path, ext)
	}
	if img == nil {
		return apperrors.New(apperrors.InvalidArgument, "nil mask image")
	}
	if img.Bounds().Size() != bounds.Size() {
		return apperrors.Newf(apperrors.InvalidArgument, "bounds %v do not match image size %v", bounds, img.Bounds().Size())
	}

	ref, err := newReference(copyRGBA(img), bounds.Min)
	if err != nil {
		return err
	}
	data, err := encodePNG(ref.img, bounds.Min)
	if err != nil {
		return err
	}

	return syncx.Modify(s.state, func(cur **reference) error {
		if err := writeAtomic(s.path, data); err != nil {
			ref.buf.Release()
			return err
		}
		if *cur != nil {
			(*cur).buf.Release()
		}
		*cur = ref
		s.logger.Info("reference mask set", "path", s.path, "bounds", bounds)
		return nil
	})
}

// Delete removes the persisted mask and uninstalls the reference.
func (s *Store) Delete() error {
	return syncx.Modify(s.state, func(cur **reference) error {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return apperrors.Wrapf(err, apperrors.IO, "remove mask %s", s.path)
		}
		if *cur != nil {
			(*cur).buf.Release()
			*cur = nil
		}
		s.logger.Info("reference mask deleted", "path", s.path)
		return nil
	})
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.Wrapf(err, apperrors.IO, "create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".mask-*.png")
	if err != nil {
		return apperrors.Wrap(err, apperrors.IO, "create temp mask")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperrors.Wrap(err, apperrors.IO, "write temp mask")
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Wrap(err, apperrors.IO, "close temp mask")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return apperrors.Wrapf(err, apperrors.IO, "rename mask into %s", path)
	}
	return nil
}

// copyRGBA copies img into a new RGBA image anchored at the origin.
func copyRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, img, b.Min, draw.Src)
	return dst
}

// toRGBA returns img itself when it is already an RGBA image, else a copy.
func toRGBA(img image.Image) *image.RGBA {
	if m, ok := img.(*image.RGBA); ok {
		return m
	}
	return copyRGBA(img)
}
