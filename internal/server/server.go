// Package server provides HTTP and WebSocket handlers
package server

import (
	"context"
	"encoding/json"
	"image"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/indicator-watch/internal/config"
	"github.com/GriffinCanCode/indicator-watch/internal/orchestrator"
	"github.com/GriffinCanCode/indicator-watch/internal/trace"
)

// Orchestrator is the part of orchestrator.Manager the server uses.
type Orchestrator interface {
	Status() orchestrator.Status
	CheckNow(ctx context.Context) orchestrator.Status
	Events() <-chan orchestrator.DecisionEvent
	History(n int) []orchestrator.DecisionEvent
	HistorySince(d time.Duration) []orchestrator.DecisionEvent
	Mask() (image.Rectangle, bool)
	Reference() image.Image
	RecordMask(ctx context.Context, explicit image.Rectangle) (image.Rectangle, error)
	DeleteMask(ctx context.Context) error
	Overlay() orchestrator.Overlay
	SetOverlay(o orchestrator.Overlay) error
}

// Option configures a Server.
type Option func(*Server)

// WithObserver registers fn to be called with every decision change before it
// is broadcast.
func WithObserver(fn func(orchestrator.DecisionEvent)) Option {
	return func(s *Server) { s.observers = append(s.observers, fn) }
}

// client is one WebSocket connection. Everything sent to it goes through
// send so a single writer keeps messages in order.
type client struct {
	conn *websocket.Conn
	send chan any
	rl   *rateLimiter
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	orch      Orchestrator
	origins   []string
	observers []func(orchestrator.DecisionEvent)

	mu       sync.RWMutex
	clients  map[*websocket.Conn]*client
	ipLimits *ipLimiter

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a new server and starts its broadcasters.
func New(orch Orchestrator, cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		orch:     orch,
		origins:  cfg.AllowedOrigins,
		clients:  make(map[*websocket.Conn]*client),
		ipLimits: newIPLimiter(),
		done:     make(chan struct{}),
	}
	if len(s.origins) == 0 {
		s.origins = []string{"*"}
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.broadcastDecisions()
	go s.cleanupLoop()

	return s
}

// Close stops the broadcasters and closes all WebSocket connections.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		for conn := range s.clients {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		s.mu.Unlock()
	})
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/correlations.png", s.handleCorrelations)
	mux.HandleFunc("GET /api/mask.png", s.handleMaskImage)
	mux.HandleFunc("POST /api/mask", s.handleMaskRecord)
	mux.HandleFunc("DELETE /api/mask", s.handleMaskDelete)
	mux.HandleFunc("PUT /api/overlay", s.handleOverlay)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	// Get trace context from HTTP upgrade request
	baseCtx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	c := &client{
		conn: conn,
		send: make(chan any, SendBuffer),
		rl:   newRateLimiter(RateLimitMessages, RateLimitWindow),
	}
	// Greet with the current settings and decision
	c.send <- overlayMessage(s.orch.Overlay())
	c.send <- statusMessage(s.orch.Status())

	s.mu.Lock()
	s.clients[conn] = c
	s.mu.Unlock()
	go s.writeLoop(baseCtx, c)

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
	}()

	ip := remoteIP(r)
	for {
		var msg json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !c.rl.allow() || !s.ipLimits.allow(ip) {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			c.reply(baseCtx, ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			c.reply(baseCtx, ErrorMessage{Type: "error", Message: "invalid message"})
			continue
		}

		// Continue the client's trace when it sends one
		ctx := baseCtx
		if tc, ok := trace.ExtractFromJSON(msg); ok {
			ctx = trace.WithContext(ctx, tc)
		}

		switch base.Type {
		case "ping":
			c.reply(ctx, Message{Type: "pong"})
		case "check":
			s.handleCheck(ctx, c)
		case "overlay":
			c.reply(ctx, overlayMessage(s.orch.Overlay()))
		default:
			c.reply(ctx, ErrorMessage{Type: "error", Message: "unknown message type " + base.Type})
		}
	}
}

func (s *Server) handleCheck(ctx context.Context, c *client) {
	ctx, span := trace.StartSpan(ctx, "ws_check")
	defer span.End()

	st := s.orch.CheckNow(ctx)
	span.SetAttr("matched", st.Matched)
	c.reply(ctx, statusMessage(st))
}

// reply queues v behind anything already pending for c.
func (c *client) reply(ctx context.Context, v any) {
	select {
	case c.send <- v:
	case <-ctx.Done():
	}
}

// writeLoop is the only writer of c.conn.
func (s *Server) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, WriteTimeout)
			err := wsjson.Write(wctx, c.conn, v)
			cancel()
			if err != nil {
				trace.Logger(ctx).Debug("websocket write error", "error", err)
				_ = c.conn.CloseNow()
				return
			}
		}
	}
}

// broadcast queues v for every connection. A client whose queue is full is
// disconnected; it gets the current state again when it reconnects.
func (s *Server) broadcast(v any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for conn, c := range s.clients {
		select {
		case c.send <- v:
		default:
			slog.Warn("websocket client too slow, disconnecting", "queued", len(c.send))
			go func() { _ = conn.Close(websocket.StatusTryAgainLater, "client too slow") }()
		}
	}
}

func (s *Server) broadcastDecisions() {
	events := s.orch.Events()
	for {
		select {
		case <-s.done:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			for _, fn := range s.observers {
				fn(evt)
			}
			s.broadcast(matchMessage(evt))
		}
	}
}

func (s *Server) cleanupLoop() {
	ticker := time.NewTicker(IPRateLimitCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if n := s.ipLimits.cleanup(IPRateLimitEntryTTL); n > 0 {
				slog.Debug("purged idle rate limiters", "count", n)
			}
		}
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
