package server

import (
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/GriffinCanCode/indicator-watch/internal/config"
	apperrors "github.com/GriffinCanCode/indicator-watch/internal/errors"
	"github.com/GriffinCanCode/indicator-watch/internal/orchestrator"
	"github.com/GriffinCanCode/indicator-watch/internal/trace"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.orch.Status()
	if r.URL.Query().Get("refresh") == "1" {
		st = s.orch.CheckNow(r.Context())
	}

	res := st.Result
	resp := StatusResponse{
		Matched:      st.Matched,
		Reason:       st.Reason,
		Affinity:     res.Affinity.Value,
		Reliability:  res.Affinity.Reliability,
		Score:        res.Affinity.Score(),
		Region:       regionOf(res.Region),
		Rescaled:     res.Rescaled,
		HashDistance: res.HashDistance,
		Checks:       st.Checks,
		Failures:     st.Failures,
		Breaker:      st.Breaker,
		Overlay:      overlayMessage(s.orch.Overlay()),
	}
	if !res.CheckedAt.IsZero() {
		resp.CheckedAt = &res.CheckedAt
		resp.Stats = &res.Stats
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	bounds, ok := s.orch.Mask()
	resp.Mask = MaskInfo{Exists: ok, Bounds: regionOf(bounds)}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n := DefaultHistoryLimit
	if v := q.Get("n"); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil || i <= 0 {
			writeError(w, r, apperrors.Newf(apperrors.InvalidArgument, "n must be a positive integer, got %q", v))
			return
		}
		n = i
	}

	var events []orchestrator.DecisionEvent
	if v := q.Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, r, apperrors.Newf(apperrors.InvalidArgument, "since must be a positive duration, got %q", v))
			return
		}
		events = s.orch.HistorySince(d)
		if len(events) > n {
			events = events[len(events)-n:]
		}
	} else {
		events = s.orch.History(n)
	}
	out := make([]HistoryEntry, 0, len(events))
	for _, e := range events {
		out = append(out, historyEntry(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCorrelations(w http.ResponseWriter, r *http.Request) {
	scale := HeatmapScale
	if v := r.URL.Query().Get("scale"); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil || i < 1 || i > HeatmapMaxScale {
			writeError(w, r, apperrors.Newf(apperrors.InvalidArgument, "scale must be within [1,%d], got %q", HeatmapMaxScale, v))
			return
		}
		scale = i
	}

	res := s.orch.Status().Result
	if len(res.Correlations) == 0 || res.Size == (image.Point{}) {
		writeError(w, r, apperrors.New(apperrors.NotFound, "no correlation map yet"))
		return
	}
	scale = heatmapScale(res.Size, scale)
	w.Header().Set("X-Heatmap-Scale", strconv.Itoa(scale))
	writePNG(w, r, renderHeatmap(res.Correlations, res.Size, scale))
}

func (s *Server) handleMaskImage(w http.ResponseWriter, r *http.Request) {
	img := s.orch.Reference()
	if img == nil {
		writeError(w, r, apperrors.New(apperrors.NotFound, "no reference mask"))
		return
	}
	writePNG(w, r, img)
}

func (s *Server) handleMaskRecord(w http.ResponseWriter, r *http.Request) {
	ctx, span := trace.StartSpan(r.Context(), "http_mask_record")
	defer span.End()

	var req Region
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, apperrors.Wrap(err, apperrors.InvalidArgument, "decode region"))
		return
	}

	bounds, err := s.orch.RecordMask(ctx, req.rect())
	if err != nil {
		span.SetError(err)
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, MaskInfo{Exists: true, Bounds: regionOf(bounds)})
}

func (s *Server) handleMaskDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.DeleteMask(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	var req overlayRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes)).Decode(&req); err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.InvalidArgument, "decode overlay"))
		return
	}

	o := s.orch.Overlay()
	if req.Color != "" {
		c, err := config.ParseColor(req.Color)
		if err != nil {
			writeError(w, r, apperrors.Wrap(err, apperrors.InvalidArgument, "overlay color"))
			return
		}
		o.Color = c
	}
	if req.Opacity != nil {
		o.Opacity = *req.Opacity
	}
	if err := s.orch.SetOverlay(o); err != nil {
		writeError(w, r, err)
		return
	}

	msg := overlayMessage(s.orch.Overlay())
	s.broadcast(msg)
	writeJSON(w, http.StatusOK, msg)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writePNG(w http.ResponseWriter, r *http.Request, img image.Image) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, img); err != nil {
		trace.Logger(r.Context()).Error("encode png", "error", err)
	}
}

// writeError maps err to an HTTP status through its error code.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		code = appErr.HTTPStatus()
	}
	if code >= http.StatusInternalServerError {
		trace.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, code, ErrorMessage{Type: "error", Message: err.Error()})
}

var _ Orchestrator = (*orchestrator.Manager)(nil)
