package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the global tracer for personachat
var tracer = otel.Tracer("personachat")

// Span names for personachat operations
const (
	SpanChatExchange   = "personachat.chat.exchange"
	SpanCompletionCall = "personachat.completion.call"
)

// StartExchangeSpan starts a span covering one chat exchange
func StartExchangeSpan(ctx context.Context, conversationID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String(KeyConversationID, conversationID))
	return tracer.Start(ctx, SpanChatExchange, trace.WithAttributes(attrs...))
}

// StartCompletionSpan starts a span for the outbound completion call
func StartCompletionSpan(ctx context.Context, provider, model string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String(KeyProvider, provider),
		attribute.String(KeyModel, model),
	)
	return tracer.Start(ctx, SpanCompletionCall, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

// RecordError records an error on a span with optional error category
func RecordError(span trace.Span, err error, errorCategory string) {
	if err == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(KeyErrorMessage, err.Error()),
		attribute.String(KeyErrorType, ErrorTypeFromError(err)),
	}

	if errorCategory != "" {
		attrs = append(attrs, attribute.String(KeyErrorCategory, errorCategory))
	}

	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}

// GetTraceID returns the trace ID from context if available
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// ErrorTypeFromError extracts a human-readable error type
func ErrorTypeFromError(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%T", err)
}
