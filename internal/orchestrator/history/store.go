// Package history keeps recent indicator decisions and fans out change events.
package history

import (
	"image"
	"sync"
	"time"
)

// Reasons attached to history entries.
const (
	ReasonCheck        = "check"
	ReasonNoMask       = "no-mask"
	ReasonCaptureError = "capture-error"
	ReasonBreakerOpen  = "breaker-open"
	ReasonMaskSet      = "mask-set"
	ReasonMaskDeleted  = "mask-deleted"

	// ReasonBreaker marks a capture breaker transition. These entries are
	// stored but not emitted.
	ReasonBreaker = "breaker"
)

// Event is a decision change.
type Event struct {
	Matched     bool
	Value       float64
	Reliability float64
	Region      image.Rectangle
	Reason      string
	Error       string
	Breaker     string // "from->to" on ReasonBreaker entries
	Time        time.Time
}

// Entry is a stored decision change.
type Entry = Event

// Store keeps the last maxSize entries in memory.
type Store struct {
	mu       sync.RWMutex
	entries  []Entry
	maxSize  int
	eventsCh chan Event
}

// NewStore creates a history store.
func NewStore(maxEntries, eventBuffer int) *Store {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Store{
		entries:  make([]Entry, 0, maxEntries),
		maxSize:  maxEntries,
		eventsCh: make(chan Event, eventBuffer),
	}
}

// Add stores e, stamping it with the current time when unset.
func (s *Store) Add(e Entry) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, e)
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
}

// Record stores e and emits it.
func (s *Store) Record(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	s.Add(e)
	s.Emit(e)
}

// Recent returns up to n entries, newest last. n <= 0 returns all.
func (s *Store) Recent(n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if n > 0 && n < len(s.entries) {
		start = len(s.entries) - n
	}
	out := make([]Entry, len(s.entries)-start)
	copy(out, s.entries[start:])
	return out
}

// Since returns the entries recorded within the last d.
func (s *Store) Since(d time.Duration) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-d)
	var out []Entry
	for _, e := range s.entries {
		if !e.Time.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Events returns the channel of decision changes.
func (s *Store) Events() <-chan Event {
	return s.eventsCh
}

// Emit sends an event (non-blocking).
func (s *Store) Emit(event Event) {
	select {
	case s.eventsCh <- event:
	default:
	}
}
