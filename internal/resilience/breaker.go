// Package resilience gates flaky operations: a circuit breaker that stops
// calling a failing dependency for a while, and retry with backoff.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is a breaker state.
type State uint8

const (
	Closed   State = iota // calls pass through
	Open                  // calls fail fast with ErrOpen
	HalfOpen              // trial calls decide whether to close again
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrOpen is returned by Allow while the breaker is open.
var ErrOpen = errors.New("circuit breaker open")

// Transition describes one state change.
type Transition struct {
	Breaker  string
	From     State
	To       State
	Failures int // consecutive failures when the change happened
	At       time.Time
}

// Breaker stops calls to a failing dependency until ResetTimeout has passed
// since it opened.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	observers []func(Transition)
}

// New creates a closed breaker. name identifies it in logs and transitions.
func New(name string, cfg Config) *Breaker {
	return &Breaker{name: name, cfg: cfg.withDefaults(), now: time.Now}
}

// OnTransition registers fn to run after every state change. fn is called
// without the breaker lock held.
func (b *Breaker) OnTransition(fn func(Transition)) {
	b.mu.Lock()
	b.observers = append(b.observers, fn)
	b.mu.Unlock()
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow returns ErrOpen while the breaker is open. Once ResetTimeout has
// elapsed it moves to half-open and lets the call through.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	if b.state != Open {
		b.mu.Unlock()
		return nil
	}
	if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
		b.mu.Unlock()
		return ErrOpen
	}
	t, ok := b.moveLocked(HalfOpen)
	b.mu.Unlock()
	b.notify(t, ok)
	return nil
}

// Success records a call that worked.
func (b *Breaker) Success() {
	b.mu.Lock()
	var (
		t  Transition
		ok bool
	)
	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		if b.successes >= b.cfg.HalfOpenSuccesses {
			t, ok = b.moveLocked(Closed)
		}
	}
	b.mu.Unlock()
	b.notify(t, ok)
}

// Failure records a failed call. A failure while half-open reopens at once.
func (b *Breaker) Failure() {
	b.mu.Lock()
	b.failures++
	var (
		t  Transition
		ok bool
	)
	switch b.state {
	case Closed:
		if b.failures >= b.cfg.Threshold {
			t, ok = b.moveLocked(Open)
		}
	case HalfOpen:
		t, ok = b.moveLocked(Open)
	}
	b.mu.Unlock()
	b.notify(t, ok)
}

// Reset closes the breaker and clears its counters, whatever the state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	t, ok := b.moveLocked(Closed)
	b.failures = 0
	b.successes = 0
	b.mu.Unlock()
	b.notify(t, ok)
}

// moveLocked switches to state to. It reports false when already there.
func (b *Breaker) moveLocked(to State) (Transition, bool) {
	if b.state == to {
		return Transition{}, false
	}
	t := Transition{Breaker: b.name, From: b.state, To: to, Failures: b.failures, At: b.now()}
	b.state = to
	b.successes = 0
	switch to {
	case Closed:
		b.failures = 0
	case Open:
		b.openedAt = t.At
	}
	return t, true
}

func (b *Breaker) notify(t Transition, ok bool) {
	if !ok {
		return
	}
	if t.To == Open {
		slog.Warn("circuit breaker opened", "breaker", t.Breaker, "failures", t.Failures, "reset_timeout", b.cfg.ResetTimeout)
	} else {
		slog.Info("circuit breaker "+t.To.String(), "breaker", t.Breaker, "from", t.From.String())
	}

	b.mu.Lock()
	observers := b.observers
	b.mu.Unlock()
	for _, fn := range observers {
		fn(t)
	}
}

// Guard runs fn with circuit breaker protection. Only errors for which
// isFailure reports true count against the breaker; other errors are returned
// and count as a successful call. A nil isFailure counts every error.
func Guard[T any](b *Breaker, isFailure func(error) bool, fn func() (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	result, err := fn()
	if err != nil && (isFailure == nil || isFailure(err)) {
		b.Failure()
		return zero, err
	}
	b.Success()
	return result, err
}
