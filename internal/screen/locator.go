package screen

import (
	"image"
	"strconv"
	"strings"

	apperrors "github.com/GriffinCanCode/indicator-watch/internal/errors"
)

// Window classes and captions of the language indicator.
const (
	// Windows 10 and later: taskbar input indicator, empty caption.
	IndicatorButtonClass = "InputIndicatorButton"
	// Windows 7: floating language bar.
	LangBarClass   = "CiceroUIWndFrame"
	LangBarCaption = "TF_FloatingLangBar_WndTitle"
)

// TopTrim is the number of rows cut from the top of a located indicator
// window; they hold the taskbar highlight border.
const TopTrim = 2

// FixedLocator always reports the same region.
type FixedLocator image.Rectangle

// Locate implements mask.Locator.
func (f FixedLocator) Locate() (image.Rectangle, error) {
	r := image.Rectangle(f)
	if r.Empty() {
		return image.Rectangle{}, apperrors.New(apperrors.Configuration, "fixed locator has an empty region")
	}
	return r, nil
}

// ParseRegion parses "x,y,w,h".
func ParseRegion(s string) (image.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, apperrors.Newf(apperrors.InvalidArgument, "region %q: want x,y,w,h", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, apperrors.Wrapf(err, apperrors.InvalidArgument, "region %q", s)
		}
		v[i] = n
	}
	if v[2] <= 0 || v[3] <= 0 {
		return image.Rectangle{}, apperrors.Newf(apperrors.InvalidArgument, "region %q: width and height must be positive", s)
	}
	return image.Rect(v[0], v[1], v[0]+v[2], v[1]+v[3]), nil
}

// isIndicator reports whether a window with this class and caption is the
// language indicator.
func isIndicator(class, caption string) bool {
	switch class {
	case IndicatorButtonClass:
		return caption == ""
	case LangBarClass:
		return caption == LangBarCaption
	}
	return false
}

// trimTop removes the border rows from a located window rectangle.
func trimTop(r image.Rectangle) image.Rectangle {
	if r.Empty() {
		return r
	}
	r.Min.Y += TopTrim
	if r.Min.Y > r.Max.Y {
		r.Min.Y = r.Max.Y
	}
	return r
}
