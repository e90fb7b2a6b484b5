package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type correlationCtxKey struct{}
type proposalCtxKey struct{}
type canaryCtxKey struct{}
type requestCtxKey struct{}
type actorCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if v := CorrelationIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("correlation_id", v))
	}
	if v := stringValue(ctx, proposalCtxKey{}); v != "" {
		fields = append(fields, zap.String("proposal_id", v))
	}
	if v := stringValue(ctx, canaryCtxKey{}); v != "" {
		fields = append(fields, zap.String("canary_id", v))
	}
	if v := RequestIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("request_id", v))
	}
	if v := stringValue(ctx, actorCtxKey{}); v != "" {
		fields = append(fields, zap.String("actor", v))
	}

	return fields
}

func stringValue(ctx context.Context, key any) string {
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

func withString(ctx context.Context, key any, v string) context.Context {
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, key, v)
}

// WithCorrelationID adds the end-to-end correlation ID to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return withString(ctx, correlationCtxKey{}, id)
}

// CorrelationIDFromContext returns the correlation ID or "".
func CorrelationIDFromContext(ctx context.Context) string {
	return stringValue(ctx, correlationCtxKey{})
}

// WithProposalID adds a proposal ID to ctx.
func WithProposalID(ctx context.Context, id string) context.Context {
	return withString(ctx, proposalCtxKey{}, id)
}

// WithCanaryID adds a canary run ID to ctx.
func WithCanaryID(ctx context.Context, id string) context.Context {
	return withString(ctx, canaryCtxKey{}, id)
}

// WithRequestID adds an HTTP request ID to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request ID or "".
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestCtxKey{})
}

// WithActor records who triggered the current operation.
func WithActor(ctx context.Context, actor string) context.Context {
	return withString(ctx, actorCtxKey{}, actor)
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
