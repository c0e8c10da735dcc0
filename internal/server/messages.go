package server

import (
	"image"
	"time"

	"github.com/GriffinCanCode/indicator-watch/internal/affinity"
	"github.com/GriffinCanCode/indicator-watch/internal/orchestrator"
)

// Message types.
type Message struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// MatchMessage is pushed on every decision change.
type MatchMessage struct {
	Type        string    `json:"type"`
	Matched     bool      `json:"matched"`
	Reason      string    `json:"reason"`
	Affinity    float64   `json:"affinity"`
	Reliability float64   `json:"reliability"`
	Region      *Region   `json:"region,omitempty"`
	Error       string    `json:"error,omitempty"`
	Time        time.Time `json:"time"`
}

type OverlayMessage struct {
	Type    string  `json:"type"`
	Color   string  `json:"color"`
	Opacity float64 `json:"opacity"`
}

// Region is a screen rectangle in JSON.
type Region struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

func regionOf(r image.Rectangle) *Region {
	if r.Empty() {
		return nil
	}
	return &Region{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

func (r Region) rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Matched      bool                       `json:"matched"`
	Reason       string                     `json:"reason"`
	Affinity     float64                    `json:"affinity"`
	Reliability  float64                    `json:"reliability"`
	Score        float64                    `json:"score"`
	Region       *Region                    `json:"region,omitempty"`
	Rescaled     bool                       `json:"rescaled"`
	HashDistance int                        `json:"hash_distance"`
	Stats        *affinity.CorrelationStats `json:"stats,omitempty"`
	CheckedAt    *time.Time                 `json:"checked_at,omitempty"`
	Error        string                     `json:"error,omitempty"`
	Checks       int                        `json:"checks"`
	Failures     int                        `json:"failures"`
	Breaker      string                     `json:"breaker"`
	Mask         MaskInfo                   `json:"mask"`
	Overlay      OverlayMessage             `json:"overlay"`
}

type MaskInfo struct {
	Exists bool    `json:"exists"`
	Bounds *Region `json:"bounds,omitempty"`
}

// HistoryEntry is one element of GET /api/history.
type HistoryEntry struct {
	Matched     bool      `json:"matched"`
	Reason      string    `json:"reason"`
	Affinity    float64   `json:"affinity"`
	Reliability float64   `json:"reliability"`
	Region      *Region   `json:"region,omitempty"`
	Error       string    `json:"error,omitempty"`
	Breaker     string    `json:"breaker,omitempty"`
	Time        time.Time `json:"time"`
}

type overlayRequest struct {
	Color   string   `json:"color"`
	Opacity *float64 `json:"opacity"`
}

func matchMessage(e orchestrator.DecisionEvent) MatchMessage {
	return MatchMessage{
		Type:        "match",
		Matched:     e.Matched,
		Reason:      e.Reason,
		Affinity:    e.Value,
		Reliability: e.Reliability,
		Region:      regionOf(e.Region),
		Error:       e.Error,
		Time:        e.Time,
	}
}

// statusMessage renders a snapshot as a match message for a single client.
func statusMessage(st orchestrator.Status) MatchMessage {
	m := MatchMessage{
		Type:        "match",
		Matched:     st.Matched,
		Reason:      st.Reason,
		Affinity:    st.Result.Affinity.Value,
		Reliability: st.Result.Affinity.Reliability,
		Region:      regionOf(st.Result.Region),
		Time:        st.Result.CheckedAt,
	}
	if st.Err != nil {
		m.Error = st.Err.Error()
	}
	return m
}

func overlayMessage(o orchestrator.Overlay) OverlayMessage {
	return OverlayMessage{Type: "overlay", Color: o.Hex(), Opacity: o.Opacity}
}

func historyEntry(e orchestrator.DecisionEvent) HistoryEntry {
	return HistoryEntry{
		Matched:     e.Matched,
		Reason:      e.Reason,
		Affinity:    e.Value,
		Reliability: e.Reliability,
		Region:      regionOf(e.Region),
		Error:       e.Error,
		Breaker:     e.Breaker,
		Time:        e.Time,
	}
}
