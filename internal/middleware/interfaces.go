package middleware

import "context"

// Principal identifies the authenticated dashboard user attached to a request.
type Principal struct {
	SessionID string
	UserID    string
	Email     string
}

// SessionResolver resolves a session cookie value to the principal it belongs
// to. Implemented by the identity session store; declared here so the guard
// can be tested without one.
type SessionResolver interface {
	Resolve(ctx context.Context, sessionID string) (Principal, error)
}

// principalKey is the context key under which SessionGuard stores the
// resolved principal.
const principalKey contextKey = "principal"

// WithPrincipal returns a context carrying the given principal.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the principal attached by SessionGuard, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
