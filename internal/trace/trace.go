// Package trace carries trace and span IDs through contexts, gRPC metadata,
// HTTP headers and WebSocket messages, and stamps them on log records.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"
)

// Header and metadata keys.
const (
	TraceIDKey      = "x-trace-id"
	SpanIDKey       = "x-span-id"
	ParentSpanIDKey = "x-parent-span-id"
)

const (
	traceIDBytes = 16
	spanIDBytes  = 8
)

type ctxKey struct{}

// Context identifies one span of a trace.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
}

// New starts a trace.
func New() Context {
	return Context{TraceID: randomHex(traceIDBytes), SpanID: randomHex(spanIDBytes)}
}

// Child opens a span of the same trace below c.
func (c Context) Child() Context {
	return Context{TraceID: c.TraceID, SpanID: randomHex(spanIDBytes), ParentSpanID: c.SpanID}
}

// Continue resumes a trace started by a caller, whose span becomes the
// parent. An empty traceID starts a new trace.
func Continue(traceID, callerSpanID string) Context {
	if traceID == "" {
		return New()
	}
	return Context{TraceID: traceID, SpanID: randomHex(spanIDBytes), ParentSpanID: callerSpanID}
}

// FromContext returns the trace stored in ctx.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

// WithContext stores tc in ctx.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// pairs lists c as alternating keys and values for headers or metadata.
func (c Context) pairs() []string {
	kv := []string{TraceIDKey, c.TraceID, SpanIDKey, c.SpanID}
	if c.ParentSpanID != "" {
		kv = append(kv, ParentSpanIDKey, c.ParentSpanID)
	}
	return kv
}

func (c Context) logArgs() []any {
	args := []any{"trace_id", c.TraceID, "span_id", c.SpanID}
	if c.ParentSpanID != "" {
		args = append(args, "parent_span_id", c.ParentSpanID)
	}
	return args
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Logger returns the default logger stamped with the trace in ctx.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	return slog.Default().With(tc.logArgs()...)
}

// Span times one operation, such as a mask check or a mask recording, and
// logs it when it ends. A span belongs to the goroutine that started it.
type Span struct {
	name  string
	tc    Context
	start time.Time
	end   time.Time
	attrs []slog.Attr
	err   error
}

// StartSpan opens a span below the trace in ctx, or in a new trace.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	tc, ok := FromContext(ctx)
	if ok {
		tc = tc.Child()
	} else {
		tc = New()
	}
	return WithContext(ctx, tc), &Span{name: name, tc: tc, start: time.Now()}
}

// Context returns the span's IDs.
func (s *Span) Context() Context { return s.tc }

// SetAttr records an attribute. Setting a key again replaces its value.
func (s *Span) SetAttr(key string, val any) {
	for i := range s.attrs {
		if s.attrs[i].Key == key {
			s.attrs[i].Value = slog.AnyValue(val)
			return
		}
	}
	s.attrs = append(s.attrs, slog.Any(key, val))
}

// SetError marks the span failed.
func (s *Span) SetError(err error) { s.err = err }

// End closes the span and logs it: at warn when it failed, else at debug.
// Only the first call counts.
func (s *Span) End() {
	if !s.end.IsZero() {
		return
	}
	s.end = time.Now()
	level := slog.LevelDebug
	if s.err != nil {
		level = slog.LevelWarn
	}
	slog.Default().LogAttrs(context.Background(), level, "span ended", slog.Any("span", s))
}

// Duration is zero until the span ends.
func (s *Span) Duration() time.Duration {
	if s.end.IsZero() {
		return 0
	}
	return s.end.Sub(s.start)
}

// LogValue implements slog.LogValuer.
func (s *Span) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(s.attrs)+6)
	attrs = append(attrs,
		slog.String("name", s.name),
		slog.String("trace_id", s.tc.TraceID),
		slog.String("span_id", s.tc.SpanID),
	)
	if s.tc.ParentSpanID != "" {
		attrs = append(attrs, slog.String("parent_span_id", s.tc.ParentSpanID))
	}
	attrs = append(attrs, slog.Duration("duration", s.Duration()))
	if s.err != nil {
		attrs = append(attrs, slog.String("error", s.err.Error()))
	}
	attrs = append(attrs, s.attrs...)
	return slog.GroupValue(attrs...)
}
