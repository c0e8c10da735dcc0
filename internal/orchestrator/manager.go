// Package orchestrator coordinates the indicator check loop and the reference mask.
package orchestrator

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/GriffinCanCode/indicator-watch/internal/config"
	apperrors "github.com/GriffinCanCode/indicator-watch/internal/errors"
	"github.com/GriffinCanCode/indicator-watch/internal/mask"
	"github.com/GriffinCanCode/indicator-watch/internal/orchestrator/history"
	"github.com/GriffinCanCode/indicator-watch/internal/orchestrator/indicator"
	"github.com/GriffinCanCode/indicator-watch/internal/resilience"
	"github.com/GriffinCanCode/indicator-watch/internal/trace"
)

// DecisionEvent re-exported for the server.
type DecisionEvent = history.Event

// Status is re-exported for the server.
type Status = indicator.Snapshot

// Overlay is what overlay clients paint while the indicator matches.
type Overlay struct {
	Color   color.RGBA
	Opacity float64
}

// Hex returns the color as "#rrggbb".
func (o Overlay) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", o.Color.R, o.Color.G, o.Color.B)
}

// MaskStore is the part of mask.Store the manager drives.
type MaskStore interface {
	indicator.Checker
	Capture(explicit image.Rectangle) (image.Image, image.Rectangle, error)
	SetMask(img image.Image, bounds image.Rectangle) error
	Delete() error
	Exists() bool
	Bounds() image.Rectangle
	Reference() image.Image
}

// Manager runs the check loop and serializes mask changes against it.
type Manager struct {
	cfg     *config.Config
	store   MaskStore
	history *history.Store
	breaker *resilience.Breaker
	proc    *indicator.Processor
	retry   resilience.RetryConfig

	mu       sync.RWMutex
	overlay  Overlay
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a manager.
func New(cfg *config.Config, store MaskStore) (*Manager, error) {
	c, err := config.ParseColor(cfg.OverlayColor)
	if err != nil {
		return nil, err
	}

	h := history.NewStore(cfg.HistorySize, EventBuffer)
	b := resilience.New(CaptureBreakerName, resilience.CaptureConfig(cfg.CaptureFailureThreshold))

	return &Manager{
		cfg:     cfg,
		store:   store,
		history: h,
		breaker: b,
		proc:    indicator.NewProcessor(store, b, h),
		retry:   resilience.CaptureRetryConfig(),
		overlay: Overlay{Color: c, Opacity: cfg.OverlayOpacity},
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins orchestration
func (m *Manager) Start(ctx context.Context) error {
	trace.Logger(ctx).Info("indicator watch started",
		"check_rate", m.cfg.CheckRate,
		"mask", m.store.Exists(),
		"bounds", m.store.Bounds(),
	)
	go m.proc.Run(ctx, m.cfg.CheckRate, m.stopCh)
	return nil
}

// Stop stops orchestration. It is safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Status returns the latest decision.
func (m *Manager) Status() Status {
	return m.proc.Snapshot()
}

// Matched reports the latest decision.
func (m *Manager) Matched() bool {
	return m.proc.Matched()
}

// CheckNow runs a check outside the ticker.
func (m *Manager) CheckNow(ctx context.Context) Status {
	return m.proc.Poll(ctx)
}

// Events returns decision changes.
func (m *Manager) Events() <-chan DecisionEvent {
	return m.history.Events()
}

// History returns up to n recent decisions, newest last.
func (m *Manager) History(n int) []DecisionEvent {
	return m.history.Recent(n)
}

// HistorySince returns the decisions recorded within the last d, newest last.
func (m *Manager) HistorySince(d time.Duration) []DecisionEvent {
	return m.history.Since(d)
}

// Mask returns the reference bounds and whether a reference is installed.
func (m *Manager) Mask() (image.Rectangle, bool) {
	return m.store.Bounds(), m.store.Exists()
}

// Reference returns a copy of the reference image, nil when none is set.
func (m *Manager) Reference() image.Image {
	return m.store.Reference()
}

// RecordMask captures the indicator and installs the capture as the new
// reference. explicit is used when no locator is configured.
func (m *Manager) RecordMask(ctx context.Context, explicit image.Rectangle) (image.Rectangle, error) {
	ctx, span := trace.StartSpan(ctx, "record_mask")
	defer span.End()

	var (
		img    image.Image
		region image.Rectangle
	)
	err := resilience.Retry(ctx, m.retry, func() error {
		var err error
		img, region, err = m.store.Capture(explicit)
		return err
	})
	if err != nil {
		span.SetError(err)
		return image.Rectangle{}, err
	}

	bounds := image.Rectangle{Min: region.Min, Max: region.Min.Add(img.Bounds().Size())}
	span.SetAttr("bounds", bounds.String())
	if err := m.store.SetMask(img, bounds); err != nil {
		span.SetError(err)
		trace.Logger(ctx).Error("store reference mask", "error", err)
		return image.Rectangle{}, err
	}

	trace.Logger(ctx).Info("reference mask recorded", "bounds", bounds)
	m.proc.Invalidate(history.ReasonMaskSet)
	return bounds, nil
}

// DeleteMask removes the reference.
func (m *Manager) DeleteMask(ctx context.Context) error {
	if !m.store.Exists() {
		return apperrors.New(apperrors.NotFound, "no reference mask")
	}
	if err := m.store.Delete(); err != nil {
		trace.Logger(ctx).Error("delete reference mask", "error", err)
		return err
	}
	trace.Logger(ctx).Info("reference mask deleted")
	m.proc.Invalidate(history.ReasonMaskDeleted)
	return nil
}

// Overlay returns the overlay settings.
func (m *Manager) Overlay() Overlay {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overlay
}

// SetOverlay replaces the overlay settings.
func (m *Manager) SetOverlay(o Overlay) error {
	if o.Opacity < 0 || o.Opacity > 1 {
		return apperrors.Newf(apperrors.InvalidArgument, "opacity must be within [0,1], got %v", o.Opacity)
	}
	o.Color.A = 0xff
	m.mu.Lock()
	m.overlay = o
	m.mu.Unlock()
	return nil
}

var _ MaskStore = (*mask.Store)(nil)
