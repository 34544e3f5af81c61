package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/wellpass/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Status Mapping
// =============================================================================

func TestErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{domain.EINVALID, http.StatusBadRequest},
		{domain.EUNAUTHORIZED, http.StatusUnauthorized},
		{domain.EFORBIDDEN, http.StatusForbidden},
		{domain.ENOTFOUND, http.StatusNotFound},
		{domain.ECONFLICT, http.StatusConflict},
		{domain.EGONE, http.StatusGone},
		{domain.EUNAVAILABLE, http.StatusServiceUnavailable},
		{domain.EINTERNAL, http.StatusInternalServerError},
		{"something-else", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeToHTTPStatus(tt.code))
		})
	}
}

// =============================================================================
// Error Response Tests - Security Focus
// =============================================================================

func TestErrorResponse_InternalErrorHidesDetails(t *testing.T) {
	dbErr := &mockDatabaseError{message: "pq: relation \"documents\" does not exist"}
	internalErr := domain.Internal(dbErr, "docstore.Query", "Database query failed")

	req := httptest.NewRequest("GET", "/clients", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()

	ErrorResponse(rec, req, testLogger(), internalErr)

	body := rec.Body.String()
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, body, "pq:")
	assert.NotContains(t, body, "relation")
	assert.NotContains(t, body, "docstore")
	assert.Contains(t, body, "internal error")
}

func TestErrorResponse_InternalErrorHidesDetails_JSON(t *testing.T) {
	sensitiveErr := &mockDatabaseError{message: "connection to 192.168.1.100:5432 refused"}
	internalErr := domain.Internal(sensitiveErr, "DB.Connect", "Failed to connect")

	req := httptest.NewRequest("GET", "/api/clients", nil)
	rec := httptest.NewRecorder()

	ErrorResponse(rec, req, testLogger(), internalErr)

	var body JSONError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, domain.EINTERNAL, body.Error.Code)
	assert.NotContains(t, body.Error.Message, "192.168")
	assert.NotContains(t, body.Error.Message, "DB.Connect")
	assert.Contains(t, body.Error.Message, "internal error")
}

func TestErrorResponse_DomainMessagePassesThrough(t *testing.T) {
	err := domain.Unavailable("client.emptyRecycleBin", "The recycle bin can only be emptied while online.")

	req := httptest.NewRequest("DELETE", "/api/recycle-bin", nil)
	rec := httptest.NewRecorder()

	ErrorResponse(rec, req, testLogger(), err)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body JSONError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, domain.EUNAVAILABLE, body.Error.Code)
	assert.Equal(t, "The recycle bin can only be emptied while online.", body.Error.Message)
}

func TestErrorResponse_UnwrappedErrorReturnsGeneric(t *testing.T) {
	rawErr := &mockDatabaseError{message: "FATAL: password authentication failed for user \"postgres\""}

	req := httptest.NewRequest("GET", "/data", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()

	ErrorResponse(rec, req, testLogger(), rawErr)

	body := rec.Body.String()
	assert.False(t, strings.Contains(body, "FATAL"), "response exposes raw error: %s", body)
	assert.NotContains(t, body, "postgres")
	assert.Contains(t, body, "internal error")
}

// mockDatabaseError simulates a database error for testing
type mockDatabaseError struct {
	message string
}

func (e *mockDatabaseError) Error() string {
	return e.message
}
