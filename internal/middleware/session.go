// Package middleware provides HTTP middleware for the wellness pass API.
//
// This file implements bearer token sessions. Tokens are issued by the
// identity provider (or wellpassctl token in development) and carry the
// role and coach of the caller.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/wellpass/internal/auth"
	"github.com/DukeRupert/wellpass/internal/handler"
)

// =============================================================================
// Session Middleware
// =============================================================================

// SessionMiddleware authenticates requests from their bearer token.
type SessionMiddleware struct {
	tokens   *auth.Tokens
	failures *RateLimiter // optional, counts bad tokens per client IP
	logger   *slog.Logger
}

// NewSessionMiddleware creates a new SessionMiddleware. When failures is
// set, clients that keep presenting bad tokens are answered with 429 until
// their window ends.
func NewSessionMiddleware(tokens *auth.Tokens, failures *RateLimiter, logger *slog.Logger) *SessionMiddleware {
	return &SessionMiddleware{
		tokens:   tokens,
		failures: failures,
		logger:   logger,
	}
}

// WithSession loads the session from the Authorization header when one is
// present and continues either way.
//
// The session can be retrieved in handlers using:
//
//	sess, ok := auth.GetSessionFromRequest(r)
func (m *SessionMiddleware) WithSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := getClientIP(r)
		if m.failures != nil && m.failures.Blocked(clientIP) {
			m.logger.Warn("too many invalid session tokens", "ip", clientIP)
			tooManyRequests(w, m.failures.TimeUntilReset(clientIP))
			return
		}

		sess, err := m.tokens.Parse(raw)
		if err != nil {
			m.logger.Info("invalid session token",
				"ip", clientIP,
				"path", r.URL.Path,
				"error", err,
			)
			if m.failures != nil {
				m.failures.RecordFailure(clientIP)
			}
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.SetSession(r.Context(), sess)))
	})
}

// RequireSession rejects requests without a session with 401.
// Must run after WithSession.
func (m *SessionMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.GetSessionFromRequest(r); !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="wellpass"`)
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// =============================================================================
// Middleware Stack Helpers
// =============================================================================

// Stack composes multiple middleware functions into a single middleware.
//
// Middleware is applied in the order provided, meaning the first middleware
// in the slice is the outermost (runs first on request, last on response).
//
// Example:
//
//	requireSession := Stack(sessionMw.WithSession, sessionMw.RequireSession)
//	mux.Handle("GET /api/clients", requireSession(listHandler))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// Ensure middleware functions have correct signature
var (
	_ func(http.Handler) http.Handler = (&SessionMiddleware{}).WithSession
	_ func(http.Handler) http.Handler = (&SessionMiddleware{}).RequireSession
)
