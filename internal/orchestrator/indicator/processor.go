package indicator

import (
	"context"
	"errors"
	"sync"
	"time"

	apperrors "github.com/GriffinCanCode/indicator-watch/internal/errors"
	"github.com/GriffinCanCode/indicator-watch/internal/mask"
	"github.com/GriffinCanCode/indicator-watch/internal/orchestrator/history"
	"github.com/GriffinCanCode/indicator-watch/internal/resilience"
	"github.com/GriffinCanCode/indicator-watch/internal/trace"
)

// Checker compares the live indicator with the reference.
type Checker interface {
	Check(ctx context.Context) (mask.Result, error)
}

// Snapshot is the processor's view of the latest check.
type Snapshot struct {
	Matched  bool
	Reason   string
	Result   mask.Result
	Err      error
	Checks   int
	Failures int
	Breaker  string
}

// Processor polls a Checker and records decision changes.
type Processor struct {
	checker Checker
	breaker *resilience.Breaker
	history *history.Store

	mu       sync.RWMutex
	gen      uint64 // bumped by Invalidate; polls started under an older gen are dropped
	last     mask.Result
	lastErr  error
	matched  bool
	reason   string
	checks   int
	failures int
}

// NewProcessor creates an indicator processor. Breaker transitions are kept
// in h next to the decisions they affect.
func NewProcessor(checker Checker, breaker *resilience.Breaker, h *history.Store) *Processor {
	p := &Processor{
		checker: checker,
		breaker: breaker,
		history: h,
	}
	breaker.OnTransition(p.recordTransition)
	return p
}

// Run starts the polling loop.
func (p *Processor) Run(ctx context.Context, rate float64, stopCh <-chan struct{}) {
	if rate <= 0 {
		rate = DefaultCheckRate
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs one check and returns the updated snapshot.
func (p *Processor) Poll(ctx context.Context) Snapshot {
	p.mu.RLock()
	gen := p.gen
	p.mu.RUnlock()

	res, err := resilience.Guard(p.breaker, isCaptureFailure, func() (mask.Result, error) {
		return p.checker.Check(ctx)
	})

	reason := history.ReasonCheck
	switch {
	case err == nil:
	case errors.Is(err, resilience.ErrOpen):
		reason = history.ReasonBreakerOpen
	case apperrors.IsCode(err, apperrors.NotFound):
		reason = history.ReasonNoMask
	case isCaptureFailure(err):
		reason = history.ReasonCaptureError
	}

	log := trace.Logger(ctx)
	if err != nil && reason != history.ReasonNoMask && reason != history.ReasonBreakerOpen {
		log.Warn("indicator check failed", "reason", reason, "error", err)
	}

	matched := err == nil && res.Matched

	p.mu.Lock()
	if p.gen != gen {
		// The mask changed while this check ran.
		p.mu.Unlock()
		log.Debug("discarding stale check", "matched", matched, "reason", reason)
		return p.Snapshot()
	}
	p.checks++
	if err != nil && reason != history.ReasonNoMask {
		p.failures++
	}
	changed := matched != p.matched || reason != p.reason
	p.last = res
	p.lastErr = err
	p.matched = matched
	p.reason = reason
	p.mu.Unlock()

	if changed {
		log.Info("indicator decision changed", "matched", matched, "reason", reason)
		e := history.Event{
			Matched:     matched,
			Value:       res.Affinity.Value,
			Reliability: res.Affinity.Reliability,
			Region:      res.Region,
			Reason:      reason,
		}
		if err != nil {
			e.Error = err.Error()
		}
		p.history.Record(e)
	}
	return p.Snapshot()
}

// Invalidate drops the current decision, records reason and forces the next
// poll to publish its result. A poll already in flight is discarded.
func (p *Processor) Invalidate(reason string) {
	p.mu.Lock()
	p.gen++
	p.last = mask.Result{}
	p.lastErr = nil
	p.matched = false
	p.reason = reason
	p.mu.Unlock()

	p.breaker.Reset()
	p.history.Record(history.Event{Reason: reason})
}

// Snapshot returns the latest decision.
func (p *Processor) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{
		Matched:  p.matched,
		Reason:   p.reason,
		Result:   p.last,
		Err:      p.lastErr,
		Checks:   p.checks,
		Failures: p.failures,
		Breaker:  p.breaker.State().String(),
	}
}

// Matched reports the latest decision.
func (p *Processor) Matched() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.matched
}

func (p *Processor) recordTransition(t resilience.Transition) {
	p.history.Add(history.Event{
		Matched: p.Matched(),
		Reason:  history.ReasonBreaker,
		Breaker: t.From.String() + "->" + t.To.String(),
		Time:    t.At,
	})
}

func isCaptureFailure(err error) bool {
	return apperrors.IsCode(err, apperrors.CaptureFailed)
}
