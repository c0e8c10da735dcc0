package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/indicator-watch/internal/affinity"
	"github.com/GriffinCanCode/indicator-watch/internal/config"
	apperrors "github.com/GriffinCanCode/indicator-watch/internal/errors"
	"github.com/GriffinCanCode/indicator-watch/internal/mask"
	"github.com/GriffinCanCode/indicator-watch/internal/orchestrator"
)

// mockOrchestrator for testing.
type mockOrchestrator struct {
	mu        sync.Mutex
	status    orchestrator.Status
	history   []orchestrator.DecisionEvent
	events    chan orchestrator.DecisionEvent
	ref       image.Image
	bounds    image.Rectangle
	overlay   orchestrator.Overlay
	recordErr error
	recorded  []image.Rectangle
	checks    int
}

func newMockOrchestrator() *mockOrchestrator {
	return &mockOrchestrator{
		events:  make(chan orchestrator.DecisionEvent, 10),
		overlay: orchestrator.Overlay{Color: color.RGBA{G: 0x80, A: 0xff}, Opacity: 0.1},
	}
}

func (m *mockOrchestrator) Status() orchestrator.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *mockOrchestrator) CheckNow(context.Context) orchestrator.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
	m.status.Checks++
	return m.status
}

func (m *mockOrchestrator) Events() <-chan orchestrator.DecisionEvent { return m.events }

func (m *mockOrchestrator) History(n int) []orchestrator.DecisionEvent {
	if n < len(m.history) {
		return m.history[len(m.history)-n:]
	}
	return m.history
}

func (m *mockOrchestrator) HistorySince(d time.Duration) []orchestrator.DecisionEvent {
	cutoff := time.Now().Add(-d)
	var out []orchestrator.DecisionEvent
	for _, e := range m.history {
		if !e.Time.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

func (m *mockOrchestrator) Mask() (image.Rectangle, bool) { return m.bounds, m.ref != nil }
func (m *mockOrchestrator) Reference() image.Image        { return m.ref }

func (m *mockOrchestrator) RecordMask(_ context.Context, explicit image.Rectangle) (image.Rectangle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, explicit)
	if m.recordErr != nil {
		return image.Rectangle{}, m.recordErr
	}
	m.bounds = explicit
	m.ref = image.NewRGBA(image.Rectangle{Max: explicit.Size()})
	return explicit, nil
}

func (m *mockOrchestrator) DeleteMask(context.Context) error {
	if m.ref == nil {
		return apperrors.New(apperrors.NotFound, "no reference mask")
	}
	m.ref, m.bounds = nil, image.Rectangle{}
	return nil
}

func (m *mockOrchestrator) Overlay() orchestrator.Overlay {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overlay
}

func (m *mockOrchestrator) SetOverlay(o orchestrator.Overlay) error {
	if o.Opacity < 0 || o.Opacity > 1 {
		return apperrors.New(apperrors.InvalidArgument, "opacity out of range")
	}
	m.mu.Lock()
	m.overlay = o
	m.mu.Unlock()
	return nil
}

func newTestServer(t *testing.T, orch Orchestrator, opts ...Option) *Server {
	t.Helper()
	s := New(orch, &config.Config{AllowedOrigins: []string{"*"}}, opts...)
	t.Cleanup(s.Close)
	return s
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Test OPTIONS request
	req := httptest.NewRequest("OPTIONS", "/api/mask", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin = %q, want %q", v, "*")
	}
	if v := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(v, "DELETE") {
		t.Errorf("CORS methods = %q, should allow DELETE", v)
	}
}

func TestStatusEndpoint(t *testing.T) {
	orch := newMockOrchestrator()
	orch.ref = image.NewRGBA(image.Rect(0, 0, 30, 38))
	orch.bounds = image.Rect(1800, 1042, 1830, 1080)
	orch.status = orchestrator.Status{
		Matched: true,
		Reason:  "check",
		Result: mask.Result{
			Matched:      true,
			Affinity:     affinity.Affinity{Value: 0.98, Reliability: 1},
			Region:       image.Rect(1800, 1042, 1830, 1080),
			HashDistance: 2,
			CheckedAt:    time.Now(),
		},
		Checks:  7,
		Breaker: "closed",
	}
	h := newTestServer(t, orch).Handler()

	rec := do(t, h, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Matched || resp.Affinity != 0.98 || resp.Checks != 7 || resp.HashDistance != 2 {
		t.Errorf("response = %+v", resp)
	}
	if resp.Region == nil || *resp.Region != (Region{X: 1800, Y: 1042, W: 30, H: 38}) {
		t.Errorf("region = %+v", resp.Region)
	}
	if !resp.Mask.Exists || resp.Mask.Bounds == nil {
		t.Errorf("mask = %+v", resp.Mask)
	}
	if resp.Overlay.Color != "#008000" || resp.Overlay.Opacity != 0.1 {
		t.Errorf("overlay = %+v", resp.Overlay)
	}
	if resp.CheckedAt == nil || resp.Stats == nil {
		t.Error("checked status should carry time and stats")
	}

	do(t, h, http.MethodGet, "/api/status?refresh=1", "")
	if orch.checks != 1 {
		t.Errorf("refresh ran %d checks, want 1", orch.checks)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	orch := newMockOrchestrator()
	for i := 0; i < 5; i++ {
		orch.history = append(orch.history, orchestrator.DecisionEvent{Matched: i%2 == 0, Reason: "check", Time: time.Now()})
	}
	h := newTestServer(t, orch).Handler()

	rec := do(t, h, http.MethodGet, "/api/history?n=2", "")
	var out []HistoryEntry
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || !out[1].Matched {
		t.Errorf("history = %+v", out)
	}

	if rec := do(t, h, http.MethodGet, "/api/history?n=zero", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad n status = %d, want 400", rec.Code)
	}
}

func TestHistorySince(t *testing.T) {
	orch := newMockOrchestrator()
	now := time.Now()
	orch.history = []orchestrator.DecisionEvent{
		{Reason: "mask-set", Time: now.Add(-time.Hour)},
		{Reason: "breaker", Breaker: "closed->open", Time: now.Add(-2 * time.Minute)},
		{Matched: true, Reason: "check", Time: now.Add(-time.Minute)},
		{Reason: "check", Time: now},
	}
	h := newTestServer(t, orch).Handler()

	tests := []struct {
		query   string
		code    int
		reasons []string
	}{
		{"since=10m", http.StatusOK, []string{"breaker", "check", "check"}},
		{"since=10m&n=1", http.StatusOK, []string{"check"}},
		{"since=90s", http.StatusOK, []string{"check", "check"}},
		{"since=-1m", http.StatusBadRequest, nil},
		{"since=soon", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		rec := do(t, h, http.MethodGet, "/api/history?"+tt.query, "")
		if rec.Code != tt.code {
			t.Errorf("%s: status = %d, want %d", tt.query, rec.Code, tt.code)
			continue
		}
		if tt.code != http.StatusOK {
			continue
		}
		var out []HistoryEntry
		if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
			t.Fatal(err)
		}
		var reasons []string
		for _, e := range out {
			reasons = append(reasons, e.Reason)
		}
		if strings.Join(reasons, ",") != strings.Join(tt.reasons, ",") {
			t.Errorf("%s: reasons = %v, want %v", tt.query, reasons, tt.reasons)
		}
		if tt.query == "since=10m" && out[0].Breaker != "closed->open" {
			t.Errorf("breaker transition = %q", out[0].Breaker)
		}
	}
}

func TestCorrelationsEndpoint(t *testing.T) {
	orch := newMockOrchestrator()
	h := newTestServer(t, orch).Handler()

	if rec := do(t, h, http.MethodGet, "/api/correlations.png", ""); rec.Code != http.StatusNotFound {
		t.Errorf("empty map status = %d, want 404", rec.Code)
	}

	orch.status.Result = mask.Result{
		Size: image.Pt(3, 2),
		Correlations: map[affinity.Key]affinity.Correlation{
			{X: 0, Y: 0}: {Value: 1, Importance: 0},
			{X: 1, Y: 0}: {Value: 1, Importance: 1},
			{X: 2, Y: 1}: {Value: 0, Importance: 1},
		},
	}

	rec := do(t, h, http.MethodGet, "/api/correlations.png?scale=4", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("status = %d, content type %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.Bounds().Size(); got != image.Pt(12, 8) {
		t.Errorf("heatmap size = %v, want 12x8", got)
	}
	if r, g, _, _ := img.At(5, 1).RGBA(); r != 0 || g>>8 != 0xff {
		t.Errorf("agreeing unit color = %v", img.At(5, 1))
	}
	if r, _, _, _ := img.At(9, 5).RGBA(); r>>8 != 0xff {
		t.Errorf("differing unit color = %v", img.At(9, 5))
	}

	if got := rec.Header().Get("X-Heatmap-Scale"); got != "4" {
		t.Errorf("X-Heatmap-Scale = %q, want 4", got)
	}

	for _, bad := range []string{"0", "33", "x"} {
		if rec := do(t, h, http.MethodGet, "/api/correlations.png?scale="+bad, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("scale=%s status = %d, want 400", bad, rec.Code)
		}
	}
}

func TestMaskEndpoints(t *testing.T) {
	orch := newMockOrchestrator()
	h := newTestServer(t, orch).Handler()

	if rec := do(t, h, http.MethodGet, "/api/mask.png", ""); rec.Code != http.StatusNotFound {
		t.Errorf("mask.png without mask = %d, want 404", rec.Code)
	}

	rec := do(t, h, http.MethodPost, "/api/mask", `{"x":10,"y":20,"w":30,"h":40}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /api/mask = %d: %s", rec.Code, rec.Body)
	}
	var info MaskInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if !info.Exists || *info.Bounds != (Region{X: 10, Y: 20, W: 30, H: 40}) {
		t.Errorf("mask info = %+v", info)
	}

	rec = do(t, h, http.MethodGet, "/api/mask.png", "")
	if img, err := png.Decode(rec.Body); err != nil || img.Bounds().Size() != image.Pt(30, 40) {
		t.Errorf("mask.png = %v, %v", img, err)
	}

	if rec := do(t, h, http.MethodDelete, "/api/mask", ""); rec.Code != http.StatusNoContent {
		t.Errorf("DELETE /api/mask = %d, want 204", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/mask", ""); rec.Code != http.StatusNotFound {
		t.Errorf("second DELETE = %d, want 404", rec.Code)
	}
}

func TestMaskRecordErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"bad json", `{"x":`, nil, http.StatusBadRequest},
		{"empty region", ``, apperrors.New(apperrors.InvalidArgument, "empty capture region"), http.StatusBadRequest},
		{"capture failed", `{"x":0,"y":0,"w":4,"h":4}`, apperrors.New(apperrors.CaptureFailed, "BitBlt failed"), http.StatusServiceUnavailable},
		{"unsupported path", `{"x":0,"y":0,"w":4,"h":4}`, apperrors.New(apperrors.UnsupportedFormat, "want .png"), http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch := newMockOrchestrator()
			orch.recordErr = tt.err
			h := newTestServer(t, orch).Handler()

			rec := do(t, h, http.MethodPost, "/api/mask", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestOverlayEndpoint(t *testing.T) {
	orch := newMockOrchestrator()
	h := newTestServer(t, orch).Handler()

	rec := do(t, h, http.MethodPut, "/api/overlay", `{"color":"#ff0000","opacity":0.5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT /api/overlay = %d: %s", rec.Code, rec.Body)
	}
	if o := orch.Overlay(); o.Hex() != "#ff0000" || o.Opacity != 0.5 {
		t.Errorf("overlay = %+v", o)
	}

	// Opacity alone keeps the color
	do(t, h, http.MethodPut, "/api/overlay", `{"opacity":0.2}`)
	if o := orch.Overlay(); o.Hex() != "#ff0000" || o.Opacity != 0.2 {
		t.Errorf("overlay = %+v", o)
	}

	for _, body := range []string{`{"color":"red"}`, `{"opacity":3}`, `nope`} {
		if rec := do(t, h, http.MethodPut, "/api/overlay", body); rec.Code != http.StatusBadRequest {
			t.Errorf("PUT %s = %d, want 400", body, rec.Code)
		}
	}
}

func TestWriteErrorPlainError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), context.DeadlineExceeded)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func readType(t *testing.T, ctx context.Context, c *websocket.Conn, typ string) json.RawMessage {
	t.Helper()
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, c, &raw); err != nil {
			t.Fatalf("read %s: %v", typ, err)
		}
		var base Message
		_ = json.Unmarshal(raw, &base)
		if base.Type == typ {
			return raw
		}
	}
}

func TestWebSocket(t *testing.T) {
	orch := newMockOrchestrator()
	var (
		observedMu sync.Mutex
		observed   []orchestrator.DecisionEvent
	)
	s := newTestServer(t, orch, WithObserver(func(e orchestrator.DecisionEvent) {
		observedMu.Lock()
		observed = append(observed, e)
		observedMu.Unlock()
	}))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	// Greeting
	var ov OverlayMessage
	_ = json.Unmarshal(readType(t, ctx, c, "overlay"), &ov)
	if ov.Color != "#008000" {
		t.Errorf("greeting overlay = %+v", ov)
	}
	readType(t, ctx, c, "match")

	// Ping
	if err := wsjson.Write(ctx, c, Message{Type: "ping"}); err != nil {
		t.Fatal(err)
	}
	readType(t, ctx, c, "pong")

	// Decision broadcast
	orch.events <- orchestrator.DecisionEvent{Matched: true, Value: 1, Reliability: 1, Reason: "check", Time: time.Now()}
	var mm MatchMessage
	_ = json.Unmarshal(readType(t, ctx, c, "match"), &mm)
	if !mm.Matched || mm.Reason != "check" {
		t.Errorf("broadcast = %+v", mm)
	}
	observedMu.Lock()
	if len(observed) != 1 {
		t.Errorf("observer saw %d events, want 1", len(observed))
	}
	observedMu.Unlock()

	// On-demand check
	if err := wsjson.Write(ctx, c, Message{Type: "check"}); err != nil {
		t.Fatal(err)
	}
	readType(t, ctx, c, "match")
	orch.mu.Lock()
	checks := orch.checks
	orch.mu.Unlock()
	if checks != 1 {
		t.Errorf("checks = %d, want 1", checks)
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	s := newTestServer(t, newMockOrchestrator())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	for i := 0; i <= RateLimitMessages; i++ {
		if err := wsjson.Write(ctx, c, Message{Type: "ping"}); err != nil {
			t.Fatal(err)
		}
	}

	var em ErrorMessage
	_ = json.Unmarshal(readType(t, ctx, c, "error"), &em)
	if em.Message != "rate limit exceeded" {
		t.Errorf("error message = %q", em.Message)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(3, time.Hour)
	for i := 0; i < 3; i++ {
		if !rl.allow() {
			t.Fatalf("message %d should be allowed", i)
		}
	}
	if rl.allow() {
		t.Error("fourth message should be limited")
	}
}

func TestIPLimiterCleanup(t *testing.T) {
	l := newIPLimiter()
	l.allow("10.0.0.1")
	l.allow("10.0.0.2")

	if n := l.cleanup(time.Hour); n != 0 || l.size() != 2 {
		t.Errorf("fresh limiters purged: removed %d, size %d", n, l.size())
	}
	if n := l.cleanup(-time.Second); n != 2 || l.size() != 0 {
		t.Errorf("idle limiters kept: removed %d, size %d", n, l.size())
	}
}

func TestHeatColor(t *testing.T) {
	tests := []struct {
		c    affinity.Correlation
		want color.RGBA
	}{
		{affinity.Correlation{Value: 1, Importance: 0}, heatIgnored},
		{affinity.Correlation{Value: 1, Importance: 1}, color.RGBA{G: 0xff, A: 0xff}},
		{affinity.Correlation{Value: 0, Importance: 1}, color.RGBA{R: 0xff, A: 0xff}},
	}
	for _, tt := range tests {
		if got := heatColor(tt.c); got != tt.want {
			t.Errorf("heatColor(%+v) = %v, want %v", tt.c, got, tt.want)
		}
	}
}

func TestRenderHeatmapUnscaled(t *testing.T) {
	img := renderHeatmap(map[affinity.Key]affinity.Correlation{
		{X: 9, Y: 9}: {Value: 1, Importance: 1},
	}, image.Pt(2, 2), 1)

	if img.Bounds().Size() != image.Pt(2, 2) {
		t.Errorf("size = %v", img.Bounds().Size())
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if img.RGBAAt(0, 0) != heatMissing {
		t.Errorf("uncovered pixel = %v, want %v", img.RGBAAt(0, 0), heatMissing)
	}
}

func TestHeatmapScale(t *testing.T) {
	tests := []struct {
		size      image.Point
		requested int
		want      int
	}{
		{image.Pt(3, 2), 32, 32},
		{image.Pt(200, 100), 32, 14},
		{image.Pt(256, 256), 8, 8},
		{image.Pt(1920, 1080), HeatmapMaxScale, 1},
		{image.Pt(4000, 4000), 2, 1},
		{image.Pt(10, 10), 0, 1},
	}
	for _, tt := range tests {
		got := heatmapScale(tt.size, tt.requested)
		if got != tt.want {
			t.Errorf("heatmapScale(%v, %d) = %d, want %d", tt.size, tt.requested, got, tt.want)
		}
		if tt.size.X*tt.size.Y > HeatmapMaxPixels {
			continue
		}
		if px := tt.size.X * got * tt.size.Y * got; px > HeatmapMaxPixels {
			t.Errorf("heatmapScale(%v, %d) allows %d pixels", tt.size, tt.requested, px)
		}
	}
}

func TestCorrelationsEndpointClampsScale(t *testing.T) {
	orch := newMockOrchestrator()
	orch.status.Result = mask.Result{
		Size:         image.Pt(1920, 1080),
		Correlations: map[affinity.Key]affinity.Correlation{{X: 0, Y: 0}: {Value: 1, Importance: 1}},
	}
	h := newTestServer(t, orch).Handler()

	rec := do(t, h, http.MethodGet, "/api/correlations.png?scale=32", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("X-Heatmap-Scale"); got != "1" {
		t.Errorf("X-Heatmap-Scale = %q, want 1", got)
	}
	cfg, err := png.DecodeConfig(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 1920 || cfg.Height != 1080 {
		t.Errorf("heatmap = %dx%d, want 1920x1080", cfg.Width, cfg.Height)
	}
}

func TestBroadcastKeepsOrder(t *testing.T) {
	orch := newMockOrchestrator()
	s := newTestServer(t, orch)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	readType(t, ctx, c, "overlay")
	readType(t, ctx, c, "match")

	// The greeting is read, so the connection is registered.
	const n = 20
	for i := 0; i < n; i++ {
		orch.events <- orchestrator.DecisionEvent{Matched: i%2 == 1, Value: float64(i), Reason: "check", Time: time.Now()}
	}
	for i := 0; i < n; i++ {
		var mm MatchMessage
		_ = json.Unmarshal(readType(t, ctx, c, "match"), &mm)
		if mm.Affinity != float64(i) {
			t.Fatalf("message %d carries affinity %v: broadcasts out of order", i, mm.Affinity)
		}
	}
}
