package server

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/GriffinCanCode/indicator-watch/internal/affinity"
)

var (
	heatIgnored = color.RGBA{R: 0x40, G: 0x40, B: 0x40, A: 0xff}
	heatMissing = color.RGBA{A: 0xff}
)

// heatColor maps a correlation to a color: gray for insignificant units,
// green scaled by value for agreeing ones, red for the rest.
func heatColor(c affinity.Correlation) color.RGBA {
	switch {
	case !c.Significant():
		return heatIgnored
	case c.Agrees():
		return color.RGBA{G: uint8(255 * c.Value), A: 0xff}
	default:
		return color.RGBA{R: uint8(255 * (1 - c.Value)), A: 0xff}
	}
}

// heatmapScale lowers requested until a size heatmap scaled by it stays
// within HeatmapMaxPixels. It never goes below 1.
func heatmapScale(size image.Point, requested int) int {
	scale := max(requested, 1)
	area := size.X * size.Y
	for scale > 1 && area*scale*scale > HeatmapMaxPixels {
		scale--
	}
	return scale
}

// renderHeatmap paints one pixel per unit key over a size canvas and scales
// the result up by scale with nearest-neighbor sampling, clamped by
// heatmapScale.
func renderHeatmap(corr map[affinity.Key]affinity.Correlation, size image.Point, scale int) *image.RGBA {
	src := image.NewRGBA(image.Rectangle{Max: size})
	draw.Draw(src, src.Bounds(), image.NewUniform(heatMissing), image.Point{}, draw.Src)
	for k, c := range corr {
		p := image.Point(k)
		if p.In(src.Rect) {
			src.SetRGBA(p.X, p.Y, heatColor(c))
		}
	}

	scale = heatmapScale(size, scale)
	if scale == 1 {
		return src
	}
	dst := image.NewRGBA(image.Rectangle{Max: size.Mul(scale)})
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
