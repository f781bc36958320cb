package telemetry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
)

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// NewLogger builds the hub's JSON logger. A nil writer falls back to stdout
// so call sites never have to guard it.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// ParseLevel maps a config string onto a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithCorrelationID stamps the context with a correlation ID, minting a
// random one when the caller did not supply an X-Correlation-ID header.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = newCorrelationID()
	}
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID reads the correlation ID back out of the context, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// RequestLogger scopes a logger to one request: the matched route plus the
// correlation ID when one is present.
func RequestLogger(logger *slog.Logger, ctx context.Context, route string) *slog.Logger {
	attrs := []any{slog.String("route", route)}
	if id := CorrelationID(ctx); id != "" {
		attrs = append(attrs, slog.String("correlation_id", id))
	}
	return logger.With(attrs...)
}

func newCorrelationID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
