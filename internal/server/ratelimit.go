package server

import (
	"sync"
	"time"
)

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	limit      int
	window     time.Duration
	timestamps []time.Time
	lastSeen   time.Time
	mu         sync.Mutex
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{limit: limit, window: window}
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.lastSeen = now
	cutoff := now.Add(-r.window)

	// Prune old timestamps
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= r.limit {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

func (r *rateLimiter) idleSince(t time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeen.Before(t)
}

// ipLimiter shares one sliding window between all connections of an IP.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rateLimiter
}

func newIPLimiter() *ipLimiter {
	return &ipLimiter{limiters: make(map[string]*rateLimiter)}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	rl, ok := l.limiters[ip]
	if !ok {
		rl = newRateLimiter(IPRateLimitMessages, IPRateLimitWindow)
		l.limiters[ip] = rl
	}
	l.mu.Unlock()
	return rl.allow()
}

// cleanup drops limiters idle for longer than ttl.
func (l *ipLimiter) cleanup(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for ip, rl := range l.limiters {
		if rl.idleSince(cutoff) {
			delete(l.limiters, ip)
			removed++
		}
	}
	return removed
}

func (l *ipLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
