package raster

// Plane is a view of one 8-bit channel of a Buffer. It shares the buffer's
// memory. At and Set do not check coordinates; out-of-range access panics
// like a slice index would.
type Plane struct {
	buf    *Buffer
	offset int
}

// Red returns the red channel plane.
func (b *Buffer) Red() Plane { return Plane{buf: b, offset: b.layout.R} }

// Green returns the green channel plane.
func (b *Buffer) Green() Plane { return Plane{buf: b, offset: b.layout.G} }

// Blue returns the blue channel plane.
func (b *Buffer) Blue() Plane { return Plane{buf: b, offset: b.layout.B} }

// At returns the channel value at (x, y).
func (p Plane) At(x, y int) uint8 {
	return p.buf.pix[p.buf.offset(x, y)+p.offset]
}

// Set stores v at (x, y).
func (p Plane) Set(x, y int, v uint8) {
	p.buf.pix[p.buf.offset(x, y)+p.offset] = v
}

// ColorPlane is a view of the packed 0x00RRGGBB colours of a Buffer.
type ColorPlane struct {
	buf *Buffer
}

// Colors returns the packed colour plane.
func (b *Buffer) Colors() ColorPlane { return ColorPlane{buf: b} }

// At returns the packed colour at (x, y).
func (c ColorPlane) At(x, y int) uint32 {
	return Pixel{buf: c.buf, X: x, Y: y}.Color()
}

// Set stores the packed colour at (x, y).
func (c ColorPlane) Set(x, y int, rgb uint32) {
	Pixel{buf: c.buf, X: x, Y: y}.SetColor(rgb)
}
