package resilience

import "time"

// Circuit breaker configuration constants
const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 3

	// Screen capture: the indicator is polled about once a second, so a short
	// pause is enough for a locked session or display change to settle.
	CaptureResetTimeout      = 10 * time.Second
	CaptureHalfOpenSuccesses = 1
)

// Config holds circuit breaker settings.
type Config struct {
	Threshold         int           // failures before opening
	ResetTimeout      time.Duration // wait before half-open attempt
	HalfOpenSuccesses int           // successes needed to close
}

// CaptureConfig returns settings for the polling capture loop, opening after
// threshold consecutive capture failures.
func CaptureConfig(threshold int) Config {
	return Config{
		Threshold:         threshold,
		ResetTimeout:      CaptureResetTimeout,
		HalfOpenSuccesses: CaptureHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	return c
}
