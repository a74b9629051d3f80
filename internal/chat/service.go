// Package chat runs one user/assistant exchange against the history store
// and the completion provider
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloud-shuttle/personachat/internal/completion"
	"github.com/cloud-shuttle/personachat/internal/history"
	"github.com/cloud-shuttle/personachat/internal/transcript"
	"github.com/cloud-shuttle/personachat/pkg/telemetry"
	"github.com/cloud-shuttle/personachat/pkg/types"
)

var (
	// ErrEmptyMessage is returned for a missing or empty user message
	ErrEmptyMessage = errors.New("message is required")

	// ErrNotConfigured is returned when the provider has no API credential
	ErrNotConfigured = errors.New("completion provider API key not configured")
)

// Recorder persists completed exchanges
type Recorder interface {
	Record(ctx context.Context, ex *transcript.Exchange) error
}

// Config holds the exchange settings
type Config struct {
	SystemPrompt string
	HistoryLimit int
}

// Reply is the result of a successful exchange
type Reply struct {
	Text           string
	ConversationID string
	Model          string
	Usage          completion.Usage
	Duration       time.Duration
}

// Service wires the history store to a completion provider
type Service struct {
	history   *history.Store
	completer completion.Completer
	recorder  Recorder
	config    Config
	logger    *slog.Logger
}

// NewService creates a chat service
func NewService(h *history.Store, c completion.Completer, cfg Config) *Service {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = history.DefaultLimit
	}
	return &Service{
		history:   h,
		completer: c,
		config:    cfg,
		logger:    slog.Default(),
	}
}

// SetRecorder enables transcript recording
func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

// SetLogger sets the logger
func (s *Service) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Provider returns the completion provider type
func (s *Service) Provider() completion.ProviderType {
	return s.completer.Name()
}

// Conversations returns the number of conversations held in memory
func (s *Service) Conversations() int {
	return s.history.Conversations()
}

// History returns the stored turns of a conversation
func (s *Service) History(conversationID string) []types.Turn {
	return s.history.Get(normalizeID(conversationID))
}

// Exchange sends message in the context of the conversation and stores
// both turns when the provider answers. On failure history is unchanged.
func (s *Service) Exchange(ctx context.Context, conversationID, message string) (*Reply, error) {
	if message == "" {
		return nil, ErrEmptyMessage
	}
	if !s.completer.Configured() {
		return nil, ErrNotConfigured
	}
	conversationID = normalizeID(conversationID)

	ctx, span := telemetry.StartExchangeSpan(ctx, conversationID)
	defer span.End()

	unlock, err := s.history.Lock(ctx, conversationID)
	if err != nil {
		telemetry.RecordError(span, err, "canceled")
		s.logger.Debug("gave up waiting for conversation",
			"conversation_id", conversationID,
			"error", err,
			"trace_id", telemetry.GetTraceID(ctx),
		)
		return nil, fmt.Errorf("waiting for conversation %q: %w", conversationID, err)
	}
	defer unlock()

	past := s.history.Get(conversationID)
	userTurn := types.UserTurn(message)
	turns := append(past, userTurn)
	span.SetAttributes(telemetry.ConversationAttrs(conversationID, len(past))...)

	start := time.Now()
	callCtx, callSpan := telemetry.StartCompletionSpan(ctx, s.completer.Name().String(), s.completer.Model())
	result, err := s.completer.Complete(callCtx, &completion.Request{
		SystemPrompt: s.config.SystemPrompt,
		Turns:        turns,
	})
	if err != nil {
		telemetry.RecordError(callSpan, err, completion.KindOf(err).String())
		callSpan.End()
		telemetry.RecordError(span, err, completion.KindOf(err).String())
		s.logger.Debug("completion failed",
			"conversation_id", conversationID,
			"kind", completion.KindOf(err),
			"trace_id", telemetry.GetTraceID(ctx),
		)
		return nil, fmt.Errorf("exchange on %q: %w", conversationID, err)
	}
	callSpan.SetAttributes(telemetry.UsageAttrs(result.Usage.PromptTokens, result.Usage.CompletionTokens)...)
	callSpan.End()

	s.history.Append(conversationID, userTurn, types.AssistantTurn(result.Text))
	if removed := s.history.Trim(conversationID, s.config.HistoryLimit); removed > 0 {
		s.logger.Debug("trimmed conversation history", "conversation_id", conversationID, "removed", removed)
	}

	reply := &Reply{
		Text:           result.Text,
		ConversationID: conversationID,
		Model:          result.Model,
		Usage:          result.Usage,
		Duration:       time.Since(start),
	}
	s.record(ctx, message, result, reply)
	return reply, nil
}

// record writes the exchange to the transcript; failures are only logged
func (s *Service) record(ctx context.Context, message string, result *completion.Completion, reply *Reply) {
	if s.recorder == nil {
		return
	}

	err := s.recorder.Record(ctx, &transcript.Exchange{
		ConversationID:   reply.ConversationID,
		UserMessage:      message,
		AssistantMessage: result.Text,
		Provider:         result.Provider.String(),
		Model:            result.Model,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
	})
	if err != nil {
		s.logger.Warn("failed to record exchange",
			"conversation_id", reply.ConversationID,
			"trace_id", telemetry.GetTraceID(ctx),
			"error", err,
		)
	}
}

func normalizeID(id string) string {
	if id == "" {
		return types.DefaultConversationID
	}
	return id
}
