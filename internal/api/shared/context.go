package shared

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"log/slog"
	"time"
)

// ContextKey is the key type for request-scoped context values.
type ContextKey string

// TraceIDKey is the key for the trace ID in the request context.
const TraceIDKey ContextKey = "traceID"

// traceIDLength is the number of random bytes in a trace ID.
const traceIDLength = 16

// SetTraceID adds a fresh trace ID to the context for correlating logs
// and error responses.
func SetTraceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, TraceIDKey, generateTraceID())
}

// GetTraceID retrieves the trace ID from the context, or an empty
// string when none was set.
func GetTraceID(ctx context.Context) string {
	traceID, ok := ctx.Value(TraceIDKey).(string)
	if !ok {
		return ""
	}
	return traceID
}

// generateTraceID creates a random 32-character hex trace ID. If the
// system randomness source fails it falls back to a time-based ID
// rather than a static value.
func generateTraceID() string {
	b := make([]byte, traceIDLength)
	if n, err := rand.Read(b); err != nil || n != traceIDLength {
		slog.Error("failed to generate random trace ID", "error", err)
		binary.BigEndian.PutUint64(b[:8], uint64(time.Now().UnixNano()))
		binary.BigEndian.PutUint64(b[8:], uint64(time.Now().Unix()))
	}
	return hex.EncodeToString(b)
}
