// Package raster provides zero-copy, strided access to 32-bit pixel memory.
//
// A Buffer never owns its pixels: it is a view over memory that belongs to an
// image or to a caller-supplied byte slice. Writes through a Buffer, Pixel or
// Plane are immediately visible in the backing memory.
package raster

import (
	"image"
	"iter"
	"sync"

	apperrors "github.com/GriffinCanCode/indicator-watch/internal/errors"
)

// BytesPerPixel is the only cell size a Buffer understands.
const BytesPerPixel = 4

// Layout describes where the colour channels live inside a 4-byte cell.
type Layout struct {
	R, G, B, A int
}

var (
	// LayoutRGBA is the layout of image.RGBA and image.NRGBA.
	LayoutRGBA = Layout{R: 0, G: 1, B: 2, A: 3}
	// LayoutBGRA is the little-endian 0xAARRGGBB / BGRx layout of native
	// screen bitmaps.
	LayoutBGRA = Layout{R: 2, G: 1, B: 0, A: 3}
)

func (l Layout) valid() bool {
	seen := [BytesPerPixel]bool{}
	for _, off := range []int{l.R, l.G, l.B, l.A} {
		if off < 0 || off >= BytesPerPixel || seen[off] {
			return false
		}
		seen[off] = true
	}
	return true
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithRelease registers fn to run exactly once when the buffer is released.
// It is the hook for unlocking memory owned by a capture backend.
func WithRelease(fn func()) Option {
	return func(b *Buffer) { b.release = fn }
}

// Buffer is a borrowed view over a rectangular grid of 32-bit pixels.
//
// A Buffer is not safe for concurrent mutation; concurrent reads are fine.
type Buffer struct {
	pix    []byte
	width  int
	height int
	stride int
	layout Layout

	release  func()
	once     sync.Once
	released bool
}

// New wraps the pixel memory of img. Only 4-byte-per-pixel images
// (*image.RGBA, *image.NRGBA) are supported; any other format fails with
// UNSUPPORTED_FORMAT.
func New(img image.Image, opts ...Option) (*Buffer, error) {
	var (
		pix    []byte
		stride int
		rect   image.Rectangle
	)
	switch m := img.(type) {
	case *image.RGBA:
		rect, stride = m.Rect, m.Stride
		if !rect.Empty() {
			pix = m.Pix[m.PixOffset(rect.Min.X, rect.Min.Y):]
		}
	case *image.NRGBA:
		rect, stride = m.Rect, m.Stride
		if !rect.Empty() {
			pix = m.Pix[m.PixOffset(rect.Min.X, rect.Min.Y):]
		}
	case nil:
		return nil, apperrors.New(apperrors.InvalidArgument, "nil image")
	default:
		return nil, apperrors.Newf(apperrors.UnsupportedFormat, "unsupported pixel format %T", img)
	}
	return FromBytes(pix, rect.Dx(), rect.Dy(), stride, LayoutRGBA, opts...)
}

// FromBytes wraps raw pixel memory with the given geometry. stride is the
// number of bytes per row and must be at least width*BytesPerPixel.
func FromBytes(pix []byte, width, height, stride int, layout Layout, opts ...Option) (*Buffer, error) {
	if width < 0 || height < 0 {
		return nil, apperrors.Newf(apperrors.InvalidArgument, "negative size %dx%d", width, height)
	}
	if !layout.valid() {
		return nil, apperrors.Newf(apperrors.UnsupportedFormat, "invalid channel layout %+v", layout)
	}
	if stride < width*BytesPerPixel {
		return nil, apperrors.Newf(apperrors.UnsupportedFormat, "stride %d shorter than row of %d pixels", stride, width)
	}
	if width > 0 && height > 0 {
		need := (height-1)*stride + width*BytesPerPixel
		if len(pix) < need {
			return nil, apperrors.Newf(apperrors.InvalidArgument, "pixel memory holds %d bytes, need %d", len(pix), need)
		}
	}

	b := &Buffer{
		pix:    pix,
		width:  width,
		height: height,
		stride: stride,
		layout: layout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Width returns the buffer width in pixels.
func (b *Buffer) Width() int { return b.width }

// Height returns the buffer height in pixels.
func (b *Buffer) Height() int { return b.height }

// Len returns the number of addressable pixels.
func (b *Buffer) Len() int { return b.width * b.height }

// Stride returns the number of bytes between vertically adjacent pixels.
func (b *Buffer) Stride() int { return b.stride }

// Bounds returns the buffer rectangle anchored at the origin.
func (b *Buffer) Bounds() image.Rectangle { return image.Rect(0, 0, b.width, b.height) }

// Released reports whether Release has been called.
func (b *Buffer) Released() bool { return b.released }

// Release detaches the view from its memory and runs the release hook.
// Calling it more than once is a no-op.
func (b *Buffer) Release() {
	b.once.Do(func() {
		b.pix = nil
		b.released = true
		if b.release != nil {
			b.release()
		}
	})
}

// offset returns the byte offset of the cell at (x, y).
func (b *Buffer) offset(x, y int) int {
	return y*b.stride + x*BytesPerPixel
}

func (b *Buffer) check(x, y int) error {
	if b.Released() {
		return apperrors.New(apperrors.Released, "buffer released")
	}
	if x < 0 || y < 0 || x >= b.width || y >= b.height {
		return apperrors.Newf(apperrors.OutOfRange, "pixel (%d,%d) outside %dx%d", x, y, b.width, b.height)
	}
	return nil
}

// PixelAt returns a view of the pixel at (x, y). Coordinates are checked.
func (b *Buffer) PixelAt(x, y int) (Pixel, error) {
	if err := b.check(x, y); err != nil {
		return Pixel{}, err
	}
	return Pixel{buf: b, X: x, Y: y}, nil
}

// All returns the pixels in row-major order (x varies fastest). Every call
// starts over at (0,0). A released buffer yields nothing.
func (b *Buffer) All() iter.Seq[Pixel] {
	return func(yield func(Pixel) bool) {
		if b.Released() {
			return
		}
		for y := 0; y < b.height; y++ {
			for x := 0; x < b.width; x++ {
				if !yield(Pixel{buf: b, X: x, Y: y}) {
					return
				}
			}
		}
	}
}

// Image copies the buffer into a new *image.RGBA with opaque alpha.
func (b *Buffer) Image() *image.RGBA {
	img := image.NewRGBA(b.Bounds())
	if b.Released() {
		return img
	}
	for y := 0; y < b.height; y++ {
		for x := 0; x < b.width; x++ {
			src := b.offset(x, y)
			dst := img.PixOffset(x, y)
			img.Pix[dst+0] = b.pix[src+b.layout.R]
			img.Pix[dst+1] = b.pix[src+b.layout.G]
			img.Pix[dst+2] = b.pix[src+b.layout.B]
			img.Pix[dst+3] = 0xFF
		}
	}
	return img
}
