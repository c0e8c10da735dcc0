// Package indicator polls the reference mask and tracks the match decision.
package indicator

// Indicator processing constants
const (
	// Poll rate used when the configured rate is not positive
	DefaultCheckRate = 1.0
)
