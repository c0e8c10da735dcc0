// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection WebSocket rate limiting
	RateLimitMessages = 10          // Max inbound messages per connection per window
	RateLimitWindow   = time.Second // Sliding window duration

	// Global IP-based rate limiting (prevents multi-connection bypass attacks)
	IPRateLimitMessages        = 30               // Max messages per IP per window
	IPRateLimitWindow          = time.Second      // Sliding window duration
	IPRateLimitCleanupInterval = 5 * time.Minute  // How often to purge stale IP entries
	IPRateLimitEntryTTL        = 10 * time.Minute // TTL for inactive IP entries

	// WebSocket write deadline
	WriteTimeout = 5 * time.Second

	// Outbound messages queued per WebSocket connection
	SendBuffer = 64

	// Correlation heatmap scale factors
	HeatmapScale    = 8
	HeatmapMaxScale = 32

	// Upper bound on heatmap pixels; larger requests get a smaller scale
	HeatmapMaxPixels = 1 << 22

	// History entries returned when the request does not ask for a count
	DefaultHistoryLimit = 50

	// Max request body for POST /api/mask and PUT /api/overlay
	MaxBodyBytes = 4 << 10
)
