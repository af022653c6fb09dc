package logging

import (
	"context"
)

type contextKey string

const (
	TraceIDKey     = "trace_id"
	MessageIDKey   = "message_id"
	DestinationKey = "destination"
	ContainerIDKey = "container_id"
	RequestIDKey   = "request_id"
)

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, contextKey(TraceIDKey), traceID)
}

func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, contextKey(MessageIDKey), messageID)
}

func WithDestination(ctx context.Context, destination string) context.Context {
	return context.WithValue(ctx, contextKey(DestinationKey), destination)
}

func WithContainerID(ctx context.Context, containerID string) context.Context {
	return context.WithValue(ctx, contextKey(ContainerIDKey), containerID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKey(RequestIDKey), requestID)
}

func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

func GetMessageID(ctx context.Context) string {
	return stringValue(ctx, MessageIDKey)
}

func GetDestination(ctx context.Context) string {
	return stringValue(ctx, DestinationKey)
}

func GetContainerID(ctx context.Context) string {
	return stringValue(ctx, ContainerIDKey)
}

func stringValue(ctx context.Context, key string) string {
	if v, ok := ctx.Value(contextKey(key)).(string); ok {
		return v
	}
	return ""
}

// GetLogFields returns the known context values as zap key/value pairs.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 10)
	for _, key := range []string{RequestIDKey, TraceIDKey, MessageIDKey, DestinationKey, ContainerIDKey} {
		if v := stringValue(ctx, key); v != "" {
			fields = append(fields, key, v)
		}
	}
	return fields
}
