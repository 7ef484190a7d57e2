package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/crozierhq/crozier/pkg/observability"
)

func TestRequestID(t *testing.T) {
	t.Run("generates an ID when the caller sends none", func(t *testing.T) {
		var inContext string
		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			inContext = observability.GetRequestID(r.Context())
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

		echoed := w.Header().Get(RequestIDHeader)
		if echoed == "" {
			t.Fatal("response has no request ID header")
		}
		if _, err := uuid.Parse(echoed); err != nil {
			t.Errorf("request ID %q is not a UUID", echoed)
		}
		if inContext != echoed {
			t.Errorf("context ID %q != header ID %q", inContext, echoed)
		}
	})

	t.Run("honors a caller-supplied ID", func(t *testing.T) {
		var inContext string
		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			inContext = observability.GetRequestID(r.Context())
		}))

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set(RequestIDHeader, "edge-7f3a")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if inContext != "edge-7f3a" {
			t.Errorf("context ID = %q, want edge-7f3a", inContext)
		}
		if w.Header().Get(RequestIDHeader) != "edge-7f3a" {
			t.Errorf("header ID = %q", w.Header().Get(RequestIDHeader))
		}
	})
}

func TestRecovery(t *testing.T) {
	t.Run("converts a panic into a 500", func(t *testing.T) {
		var buf bytes.Buffer
		logger := observability.NewLogger(observability.ErrorLevel, &buf)
		handler := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("nil node in cascade")
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "internal server error") {
			t.Errorf("unexpected body: %s", w.Body.String())
		}
		// The panic value is logged, not leaked to the client
		if !strings.Contains(buf.String(), "nil node in cascade") {
			t.Error("panic value not logged")
		}
		if strings.Contains(w.Body.String(), "nil node in cascade") {
			t.Error("panic value leaked into the response")
		}
	})

	t.Run("passes healthy requests through", func(t *testing.T) {
		handler := Recovery(quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

		if w.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", w.Code)
		}
	})
}

func TestRequestLogger(t *testing.T) {
	t.Run("logs method, path and status", func(t *testing.T) {
		var buf bytes.Buffer
		logger := observability.NewLogger(observability.InfoLevel, &buf)
		handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/orgs", nil))

		line := buf.String()
		for _, want := range []string{`"method":"POST"`, `"path":"/api/v1/orgs"`, `"status":201`, "request served"} {
			if !strings.Contains(line, want) {
				t.Errorf("log line missing %s: %s", want, line)
			}
		}
	})

	t.Run("server errors log at error level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := observability.NewLogger(observability.ErrorLevel, &buf)
		handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/test", nil))

		if !strings.Contains(buf.String(), "request failed") {
			t.Errorf("expected error-level line, got %s", buf.String())
		}
	})

	t.Run("stores the logger in context for handlers", func(t *testing.T) {
		var buf bytes.Buffer
		logger := observability.NewLogger(observability.InfoLevel, &buf)
		handler := RequestID(RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			observability.FromContext(r.Context()).Info("inside handler")
		})))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/test", nil))

		// FromContext picks up both the logger and the request ID
		out := buf.String()
		if !strings.Contains(out, "inside handler") {
			t.Errorf("handler log line missing: %s", out)
		}
		if !strings.Contains(out, "request_id") {
			t.Errorf("handler line carries no request ID: %s", out)
		}
	})
}
