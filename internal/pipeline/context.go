package pipeline

import "context"

type contextKey string

const (
	sessionKey contextKey = "session_id"
	ownerKey   contextKey = "owner"
)

// WithSessionID tags a run with the session it belongs to, for logs and audit.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey, id)
}

func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey).(string)
	return id
}

// WithOwner tags a run with the authenticated subject that triggered it.
// Run records are only listed back to that subject.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey).(string)
	return owner
}
