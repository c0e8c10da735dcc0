package trace

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareContinuesTrace(t *testing.T) {
	var got Context
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set(TraceIDKey, "0af7651916cd43dd8448eb211c80319c")
	req.Header.Set(SpanIDKey, "b7ad6b7169203331")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got.TraceID != "0af7651916cd43dd8448eb211c80319c" || got.ParentSpanID != "b7ad6b7169203331" {
		t.Errorf("trace context = %+v", got)
	}
	if rec.Header().Get(TraceIDKey) != got.TraceID {
		t.Errorf("response trace header = %q", rec.Header().Get(TraceIDKey))
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestMiddlewareStartsTrace(t *testing.T) {
	var got Context
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if len(got.TraceID) != 32 || got.ParentSpanID != "" {
		t.Errorf("trace context = %+v", got)
	}
}

func TestStatusRecorderUnwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}
	if sr.Unwrap() != rec {
		t.Error("Unwrap should return the wrapped writer")
	}
}

func TestExtractFromJSON(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		found bool
	}{
		{"with trace", `{"type":"ping","trace_id":"abc"}`, true},
		{"without trace", `{"type":"ping"}`, false},
		{"invalid json", `{`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc, ok := ExtractFromJSON([]byte(tt.data))
			if ok != tt.found {
				t.Errorf("found = %v, want %v", ok, tt.found)
			}
			if tt.found && tc.TraceID != "abc" {
				t.Errorf("TraceID = %q", tc.TraceID)
			}
			if tc.TraceID == "" || tc.SpanID == "" {
				t.Error("context should always carry IDs")
			}
		})
	}
}
