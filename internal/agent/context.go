package agent

import "context"

type sessionIDKey struct{}

// WithSessionID tags a context with the session a tool dispatch belongs to.
// The runner sets it before every tool invocation.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// SessionIDFromContext returns the session a tool dispatch belongs to.
// Tools that append events of their own, like the execution pool bridge,
// need it; most tools never look.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey{}).(string)
	return id, ok && id != ""
}
