// Package http provides the key manager HTTP handlers and the middleware that
// authenticates attested sessions, replicas and operators.
package http

import (
	"context"

	"github.com/allisson/keymanager/internal/keymanager/domain"
)

// sessionKey is a context key type for storing attested sessions.
type sessionKey struct{}

// WithSession stores an attested session in the context and makes its
// identity the audit actor of the request.
// This is called by SessionMiddleware after the receipt is verified.
func WithSession(ctx context.Context, session *domain.Session) context.Context {
	if session != nil {
		ctx = domain.WithActor(ctx, session.Identity)
	}
	return context.WithValue(ctx, sessionKey{}, session)
}

// GetSession retrieves the attested session from the context.
// Returns (session, true) if a session is present, or (nil, false) if none was set.
func GetSession(ctx context.Context) (*domain.Session, bool) {
	session, ok := ctx.Value(sessionKey{}).(*domain.Session)
	return session, ok && session != nil
}
