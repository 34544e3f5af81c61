package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoggedHandler(status int) (http.Handler, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
	return NewRequestLoggingMiddleware(logger).Handler(h), &buf
}

// =============================================================================
// Request Logging Middleware Tests
// =============================================================================

func TestRequestLoggingMiddleware_LogsBasicInfo(t *testing.T) {
	wrapped, buf := newLoggedHandler(http.StatusOK)

	req := httptest.NewRequest("GET", "/api/clients", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	req.Header.Set("User-Agent", "wellpass-test/1.0")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	out := buf.String()
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, "method=GET")
	assert.Contains(t, out, "path=/api/clients")
	assert.Contains(t, out, "status=200")
	assert.Contains(t, out, "duration_ms=")
	assert.Contains(t, out, "ip=192.168.1.1")
	assert.Contains(t, out, "wellpass-test/1.0")
}

func TestRequestLoggingMiddleware_ServerErrorsWarn(t *testing.T) {
	wrapped, buf := newLoggedHandler(http.StatusServiceUnavailable)

	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("DELETE", "/api/recycle-bin", nil))

	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "status=503")
}

func TestRequestLoggingMiddleware_RequestID(t *testing.T) {
	wrapped, buf := newLoggedHandler(http.StatusOK)

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/api/status", nil))
	generated := rec.Header().Get(RequestIDHeader)
	_, err := uuid.Parse(generated)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "request_id="+generated)

	incoming := uuid.NewString()
	req := httptest.NewRequest("GET", "/api/status", nil)
	req.Header.Set(RequestIDHeader, incoming)
	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	assert.Equal(t, incoming, rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest("GET", "/api/status", nil)
	req.Header.Set(RequestIDHeader, "not a uuid\nlevel=ERROR")
	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	assert.NotContains(t, rec.Header().Get(RequestIDHeader), "level=ERROR")
}

func TestRequestLoggingMiddleware_RedactsQuery(t *testing.T) {
	tests := []struct {
		name   string
		target string
		hidden string
		kept   string
	}{
		{"token", "/api/clients?token=secrettoken123&view=all", "secrettoken123", "view=all"},
		{"search", "/api/clients?search=555-0100&sort=nameAsc", "555-0100", "sort=nameAsc"},
		{"escaped key", "/api/clients?access%5Ftoken=abc123secret", "abc123secret", "/api/clients"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped, buf := newLoggedHandler(http.StatusOK)
			wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", tt.target, nil))

			assert.NotContains(t, buf.String(), tt.hidden)
			assert.Contains(t, buf.String(), "[REDACTED]")
			assert.Contains(t, buf.String(), tt.kept)
		})
	}
}

func TestRequestLoggingMiddleware_SkipsNoisyPaths(t *testing.T) {
	for _, path := range []string{"/health", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			wrapped, buf := newLoggedHandler(http.StatusOK)
			rec := httptest.NewRecorder()
			wrapped.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))

			assert.Empty(t, buf.String())
			assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
		})
	}
}

func TestSanitizePath(t *testing.T) {
	assert.Equal(t, "/api/clients", sanitizePath("/api/clients", ""))
	assert.Equal(t, "/api/clients", sanitizePath("/api/clients", "flag"))
	assert.Equal(t, "/api/clients?view=today", sanitizePath("/api/clients", "view=today"))
	assert.Equal(t, "/api/clients?Token=[REDACTED]", sanitizePath("/api/clients", "Token=x"))
}
