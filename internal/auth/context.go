package auth

import (
	"context"

	"github.com/dgellow/auth-front/internal/session"
)

type contextKey string

const recordKey contextKey = "auth.session"

// WithRecord adds a session record to the context
func WithRecord(ctx context.Context, record *session.Record) context.Context {
	return context.WithValue(ctx, recordKey, record)
}

// RecordFromContext retrieves the session record stored by RequireSession
func RecordFromContext(ctx context.Context) (*session.Record, bool) {
	record, ok := ctx.Value(recordKey).(*session.Record)
	return record, ok && record != nil
}
