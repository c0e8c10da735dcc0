//go:build windows

package screen

import (
	"image"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	apperrors "github.com/GriffinCanCode/indicator-watch/internal/errors"
)

var (
	user32               = windows.NewLazySystemDLL("user32.dll")
	procEnumWindows      = user32.NewProc("EnumWindows")
	procEnumChildWindows = user32.NewProc("EnumChildWindows")
	procGetClassNameW    = user32.NewProc("GetClassNameW")
	procGetWindowTextW   = user32.NewProc("GetWindowTextW")
	procGetWindowRect    = user32.NewProc("GetWindowRect")
)

// Callbacks created with windows.NewCallback are never freed, so the
// enumeration callbacks are created once and report into search.
var (
	enumOnce      sync.Once
	topCallback   uintptr
	childCallback uintptr

	searchMu sync.Mutex
	search   struct {
		found windows.HWND
	}
)

func initCallbacks() {
	topCallback = windows.NewCallback(func(hwnd windows.HWND, _ uintptr) uintptr {
		if visit(hwnd) {
			return 0
		}
		procEnumChildWindows.Call(uintptr(hwnd), childCallback, 0)
		if search.found != 0 {
			return 0
		}
		return 1
	})
	childCallback = windows.NewCallback(func(hwnd windows.HWND, _ uintptr) uintptr {
		if visit(hwnd) {
			return 0
		}
		return 1
	})
}

// visit records hwnd when it is the indicator.
func visit(hwnd windows.HWND) bool {
	if isIndicator(className(hwnd), windowText(hwnd)) {
		search.found = hwnd
		return true
	}
	return false
}

func className(hwnd windows.HWND) string {
	var buf [256]uint16
	n, _, _ := procGetClassNameW.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return windows.UTF16ToString(buf[:n])
}

func windowText(hwnd windows.HWND) string {
	var buf [256]uint16
	n, _, _ := procGetWindowTextW.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return windows.UTF16ToString(buf[:n])
}

func windowRect(hwnd windows.HWND) (image.Rectangle, error) {
	var r windows.Rect
	ok, _, err := procGetWindowRect.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&r)))
	if ok == 0 {
		return image.Rectangle{}, apperrors.Wrap(err, apperrors.CaptureFailed, "GetWindowRect")
	}
	return image.Rect(int(r.Left), int(r.Top), int(r.Right), int(r.Bottom)), nil
}

// TrayLocator finds the language indicator window on the taskbar (or the
// floating language bar) and returns its screen rectangle without the top
// border rows.
type TrayLocator struct{}

// NewTrayLocator returns the platform indicator locator.
func NewTrayLocator() (*TrayLocator, error) {
	if err := procEnumWindows.Find(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Configuration, "user32 EnumWindows unavailable")
	}
	return &TrayLocator{}, nil
}

// Locate implements mask.Locator.
func (TrayLocator) Locate() (image.Rectangle, error) {
	enumOnce.Do(initCallbacks)

	searchMu.Lock()
	search.found = 0
	procEnumWindows.Call(topCallback, 0)
	hwnd := search.found
	searchMu.Unlock()

	if hwnd == 0 {
		return image.Rectangle{}, apperrors.New(apperrors.CaptureFailed, "language indicator window not found")
	}
	r, err := windowRect(hwnd)
	if err != nil {
		return image.Rectangle{}, err
	}
	r = trimTop(r)
	if r.Empty() {
		return image.Rectangle{}, apperrors.Newf(apperrors.CaptureFailed, "language indicator window is empty: %v", r)
	}
	return r, nil
}
