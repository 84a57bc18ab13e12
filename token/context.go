package token

import "context"

// AuthContext is the verified claim set extracted from a presented
// bridge token, together with the raw token it came from. This is what
// downstream tool handlers receive; it is never persisted beyond the
// auth binding of a protocol session.
type AuthContext struct {
	Claims *Claims
	Raw    string
}

// Subject returns the synthetic user ID, empty if unset.
func (a *AuthContext) Subject() string {
	if a == nil || a.Claims == nil {
		return ""
	}
	sub, _ := a.Claims.GetSubject()
	return sub
}

type authContextKey struct{}

// WithAuthContext returns a context carrying the auth context.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, ac)
}

// AuthContextFrom extracts the auth context set by the middleware.
func AuthContextFrom(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(authContextKey{}).(*AuthContext)
	return ac, ok
}
