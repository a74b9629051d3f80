// Package telemetry provides OpenTelemetry observability for personachat
package telemetry

import "go.opentelemetry.io/otel/attribute"

// Semantic convention keys for personachat attributes
const (
	// Conversation attributes
	KeyConversationID = "personachat.conversation.id"
	KeyHistoryTurns   = "personachat.conversation.history_turns"

	// Completion attributes
	KeyProvider         = "personachat.completion.provider"
	KeyModel            = "personachat.completion.model"
	KeyPromptTokens     = "personachat.completion.prompt_tokens"
	KeyCompletionTokens = "personachat.completion.completion_tokens"

	// Error attributes; the exception keys follow OpenTelemetry semantic conventions
	KeyErrorMessage  = "exception.message"
	KeyErrorType     = "exception.type"
	KeyErrorCategory = "personachat.error.category"
)

// ConversationAttrs returns the attributes describing a conversation
func ConversationAttrs(conversationID string, historyTurns int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(KeyConversationID, conversationID),
		attribute.Int(KeyHistoryTurns, historyTurns),
	}
}

// UsageAttrs returns token usage attributes
func UsageAttrs(promptTokens, completionTokens int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(KeyPromptTokens, promptTokens),
		attribute.Int(KeyCompletionTokens, completionTokens),
	}
}
