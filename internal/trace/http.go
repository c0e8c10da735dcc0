// Package trace - HTTP/WebSocket middleware for trace extraction.
package trace

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"
	"time"
)

// Middleware extracts or creates trace context for HTTP requests, echoes the
// trace ID in the response and logs each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := extractFromHeaders(r)
		ctx := WithContext(r.Context(), tc)
		w.Header().Set(TraceIDKey, tc.TraceID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		Logger(ctx).Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// statusRecorder remembers the response status.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack lets WebSocket upgrades through the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

// extractFromHeaders continues the trace named in the request headers.
func extractFromHeaders(r *http.Request) Context {
	return Continue(r.Header.Get(TraceIDKey), r.Header.Get(SpanIDKey))
}

// ExtractFromJSON continues the trace named by a WebSocket message's
// trace_id field. It reports false, with a fresh trace, when there is none.
func ExtractFromJSON(data []byte) (Context, bool) {
	var msg struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.TraceID == "" {
		return New(), false
	}
	return Continue(msg.TraceID, ""), true
}
