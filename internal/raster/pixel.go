package raster

import "math"

// maxBrightness is the length of the (255, 255, 255) colour vector.
var maxBrightness = math.Sqrt(3 * 255 * 255)

// Pixel is a handle to one cell of a Buffer. It holds the buffer and the
// coordinate, not a cursor: a Pixel kept across iteration steps still refers
// to the cell it was created for.
//
// Reading or writing a Pixel of a released buffer panics.
type Pixel struct {
	buf  *Buffer
	X, Y int
}

func (p Pixel) cell() []byte {
	off := p.buf.offset(p.X, p.Y)
	return p.buf.pix[off : off+BytesPerPixel]
}

// R returns the red channel.
func (p Pixel) R() uint8 { return p.cell()[p.buf.layout.R] }

// G returns the green channel.
func (p Pixel) G() uint8 { return p.cell()[p.buf.layout.G] }

// B returns the blue channel.
func (p Pixel) B() uint8 { return p.cell()[p.buf.layout.B] }

// Color returns the packed colour 0x00RRGGBB.
func (p Pixel) Color() uint32 {
	c := p.cell()
	l := p.buf.layout
	return uint32(c[l.R])<<16 | uint32(c[l.G])<<8 | uint32(c[l.B])
}

// SetColor writes the packed colour 0x00RRGGBB into the backing memory.
// The alpha byte is set to opaque.
func (p Pixel) SetColor(rgb uint32) {
	c := p.cell()
	l := p.buf.layout
	c[l.R] = uint8(rgb >> 16)
	c[l.G] = uint8(rgb >> 8)
	c[l.B] = uint8(rgb)
	c[l.A] = 0xFF
}

// Brightness returns the normalized colour vector length in [0, 1].
func (p Pixel) Brightness() float64 {
	r, g, b := float64(p.R()), float64(p.G()), float64(p.B())
	return math.Sqrt(r*r+g*g+b*b) / maxBrightness
}

// Distance returns the Euclidean distance between two colours in RGB space.
func (p Pixel) Distance(o Pixel) float64 {
	dr := float64(p.R()) - float64(o.R())
	dg := float64(p.G()) - float64(o.G())
	db := float64(p.B()) - float64(o.B())
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

// Equal reports whether the summed absolute channel difference is below
// tolerance.
func (p Pixel) Equal(o Pixel, tolerance int) bool {
	return absDiff(p.R(), o.R())+absDiff(p.G(), o.G())+absDiff(p.B(), o.B()) < tolerance
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
