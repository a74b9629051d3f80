package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// capturingSpan keeps what RecordError writes
type capturingSpan struct {
	noop.Span
	attrs  []attribute.KeyValue
	status codes.Code
}

func (s *capturingSpan) RecordError(_ error, opts ...trace.EventOption) {
	cfg := trace.NewEventConfig(opts...)
	s.attrs = append(s.attrs, cfg.Attributes()...)
}

func (s *capturingSpan) SetStatus(code codes.Code, _ string) {
	s.status = code
}

func TestGetTraceID(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))

	traceID := trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", GetTraceID(ctx))
}

func TestErrorTypeFromError(t *testing.T) {
	assert.Empty(t, ErrorTypeFromError(nil))
	assert.Equal(t, "*errors.errorString", ErrorTypeFromError(errors.New("boom")))
}

func TestStartSpansWithoutProvider(t *testing.T) {
	// the global no-op provider must still hand back usable spans
	ctx, span := StartExchangeSpan(context.Background(), "default")
	_, child := StartCompletionSpan(ctx, "openai", "gpt-3.5-turbo")

	RecordError(child, errors.New("boom"), "upstream_error")
	RecordError(child, nil, "")
	child.End()
	span.End()
}

func TestConversationAttrs(t *testing.T) {
	attrs := ConversationAttrs("c1", 4)

	assert.Len(t, attrs, 2)
	assert.Equal(t, KeyConversationID, string(attrs[0].Key))
	assert.Equal(t, "c1", attrs[0].Value.AsString())
	assert.EqualValues(t, 4, attrs[1].Value.AsInt64())
}

func TestRecordErrorAttributes(t *testing.T) {
	span := &capturingSpan{}
	RecordError(span, errors.New("boom"), "quota_exceeded")

	got := map[string]string{}
	for _, kv := range span.attrs {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	require.Len(t, got, 3)
	assert.Equal(t, "boom", got[KeyErrorMessage])
	assert.Equal(t, "*errors.errorString", got[KeyErrorType])
	assert.Equal(t, "quota_exceeded", got[KeyErrorCategory])
	assert.Equal(t, codes.Error, span.status)
}
