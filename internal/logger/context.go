package logger

import "context"

type contextKey struct{}

var requestIDKey = contextKey{}

// WithRequestID stores the request id assigned by the HTTP middleware so
// handlers and services can tag their log records with it.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id from ctx, or "" when none was set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
