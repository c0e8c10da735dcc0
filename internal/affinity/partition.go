package affinity

import (
	"cmp"
	"iter"
	"slices"

	"github.com/GriffinCanCode/indicator-watch/internal/raster"
)

// Partitioner splits a pixel sequence into units. Partitioning two sequences
// of the same geometry must produce units with equal keys at equal positions.
type Partitioner interface {
	Partition(pixels iter.Seq[raster.Pixel]) iter.Seq[Unit]
}

// ColorValue extracts the packed 0x00RRGGBB colour as a uint32.
func ColorValue(p raster.Pixel) any { return p.Color() }

// BrightnessValue extracts the normalized brightness as a float64.
func BrightnessValue(p raster.Pixel) any { return p.Brightness() }

// PixelPartitioner yields one unit per pixel keyed by its coordinate.
type PixelPartitioner struct {
	// Value extracts the unit feature. ColorValue is used when nil.
	Value func(raster.Pixel) any
}

// Partition implements Partitioner. Units are produced lazily as the pixel
// sequence advances.
func (pp PixelPartitioner) Partition(pixels iter.Seq[raster.Pixel]) iter.Seq[Unit] {
	value := pp.Value
	if value == nil {
		value = ColorValue
	}
	return func(yield func(Unit) bool) {
		for p := range pixels {
			if !yield(Unit{Key: KeyOf(p), Value: value(p)}) {
				return
			}
		}
	}
}

// BlockPartitioner groups pixels into Size x Size blocks. The key is the
// block origin and the value is the mean brightness (float64) of the block's
// pixels. Blocks at the right and bottom edges may be smaller.
type BlockPartitioner struct {
	Size int
}

type blockSum struct {
	sum float64
	n   int
}

// Partition implements Partitioner. The whole pixel sequence is consumed
// before the first unit is yielded; blocks come out in row-major order of
// their origins.
func (bp BlockPartitioner) Partition(pixels iter.Seq[raster.Pixel]) iter.Seq[Unit] {
	size := max(bp.Size, 1)
	return func(yield func(Unit) bool) {
		sums := make(map[Key]*blockSum)
		var order []Key
		for p := range pixels {
			k := Key{X: p.X - p.X%size, Y: p.Y - p.Y%size}
			s, ok := sums[k]
			if !ok {
				s = &blockSum{}
				sums[k] = s
				order = append(order, k)
			}
			s.sum += p.Brightness()
			s.n++
		}
		slices.SortFunc(order, compareKeys)
		for _, k := range order {
			s := sums[k]
			if !yield(Unit{Key: k, Value: s.sum / float64(s.n)}) {
				return
			}
		}
	}
}

func compareKeys(a, b Key) int {
	if c := cmp.Compare(a.Y, b.Y); c != 0 {
		return c
	}
	return cmp.Compare(a.X, b.X)
}
