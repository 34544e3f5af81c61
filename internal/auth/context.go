// Package auth provides session tokens and session context helpers.
//
// This package is designed to be imported by both middleware and handler
// packages without causing import cycles.
package auth

import (
	"context"
	"net/http"

	"github.com/DukeRupert/wellpass/internal/domain"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// sessionContextKey is the key used to store the session in context.
	sessionContextKey contextKey = "session"
)

// GetSession retrieves the signed-in session from the context.
//
// Returns false if no session is present.
//
// Usage:
//
//	sess, ok := auth.GetSession(r.Context())
//	if !ok {
//	    // Handle unauthenticated request
//	}
func GetSession(ctx context.Context) (domain.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey).(domain.Session)
	return sess, ok
}

// GetSessionFromRequest retrieves the session from the request context.
func GetSessionFromRequest(r *http.Request) (domain.Session, bool) {
	return GetSession(r.Context())
}

// SetSession stores a session in the context.
//
// This is called by the session middleware after validating a bearer token.
func SetSession(ctx context.Context, sess domain.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}
