package utils

import (
	"context"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// GenerateID generates a unique ID for requests
func GenerateID() string {
	return uuid.NewString()
}

// WithRequestID stores id on ctx for downstream handlers and backend calls.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
