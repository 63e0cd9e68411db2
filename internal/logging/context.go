package logging

import (
	"context"

	"go.uber.org/zap"
)

type contextKey int

const (
	sessionIDKey contextKey = iota
	turnIndexKey
)

// WithSession returns a context carrying session correlation fields.
func WithSession(ctx context.Context, sessionID string, turnIndex int) context.Context {
	ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	return context.WithValue(ctx, turnIndexKey, turnIndex)
}

// Fields extracts correlation fields from the context for log entries.
// Returns nil when the context carries none.
func Fields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if sid, ok := ctx.Value(sessionIDKey).(string); ok {
		fields = append(fields, zap.String("session_id", sid))
	}
	if turn, ok := ctx.Value(turnIndexKey).(int); ok {
		fields = append(fields, zap.Int("turn", turn))
	}
	return fields
}
