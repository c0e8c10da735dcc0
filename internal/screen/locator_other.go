//go:build !windows

package screen

import (
	"image"
	"runtime"

	apperrors "github.com/GriffinCanCode/indicator-watch/internal/errors"
)

// TrayLocator is only available on Windows.
type TrayLocator struct{}

// NewTrayLocator fails outside Windows; use FixedLocator instead.
func NewTrayLocator() (*TrayLocator, error) {
	return nil, apperrors.Newf(apperrors.Configuration, "indicator auto-locate is not supported on %s", runtime.GOOS)
}

// Locate implements mask.Locator.
func (TrayLocator) Locate() (image.Rectangle, error) {
	return image.Rectangle{}, apperrors.Newf(apperrors.Configuration, "indicator auto-locate is not supported on %s", runtime.GOOS)
}
