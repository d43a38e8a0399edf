// Package ports defines the storage interfaces shared by the ratelimit services.
package ports

import (
	"context"
	"log/slog"
	"time"

	"glaze/pkg/requestcontext"
)

// Store is a string key-value store with expiry.
type Store interface {
	// Get returns the value at key, or sentinel.ErrNotFound when absent.
	Get(ctx context.Context, key string) (string, error)

	// Set writes value at key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX writes value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Incrementer is implemented by stores offering an atomic add.
type Incrementer interface {
	// IncrBy adds delta to the integer at key and returns the new value.
	// The ttl is applied only when the key was created by this call.
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
}

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LogEvent logs a limiter event with the request correlation ID attached.
func LogEvent(ctx context.Context, logger *slog.Logger, level slog.Level, event string, attrs ...any) {
	if logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	logger.Log(ctx, level, event, append(attrs, "event", event)...)
}
