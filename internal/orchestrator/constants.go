// Package orchestrator coordinates the indicator check loop and the reference mask.
package orchestrator

// Orchestrator configuration constants
const (
	// Buffered decision events awaiting broadcast
	EventBuffer = 100

	// Breaker name used in logs
	CaptureBreakerName = "capture"
)
