// Package mocks provides test doubles for personachat interfaces
package mocks

import (
	"context"
	"sync"

	"github.com/cloud-shuttle/personachat/internal/chat"
	"github.com/cloud-shuttle/personachat/internal/completion"
	"github.com/cloud-shuttle/personachat/internal/transcript"
	"github.com/cloud-shuttle/personachat/pkg/types"
)

// Compile-time checks to ensure mocks implement their interfaces.
var (
	_ completion.Completer = (*MockCompleter)(nil)
	_ chat.Recorder        = (*MockRecorder)(nil)
)

// CompleteCall records one call to the completer
type CompleteCall struct {
	SystemPrompt string
	Turns        []types.Turn
}

// MockCompleter is a scripted completion provider
type MockCompleter struct {
	mu    sync.Mutex
	calls []CompleteCall

	Provider completion.ProviderType
	ModelID  string
	APIKey   string

	// Reply is returned when CompleteFunc is nil
	Reply string
	Usage completion.Usage
	Err   error

	// CompleteFunc allows tests to provide custom behavior
	CompleteFunc func(ctx context.Context, req *completion.Request) (*completion.Completion, error)
}

// NewMockCompleter creates a configured OpenAI-flavored mock that answers reply
func NewMockCompleter(reply string) *MockCompleter {
	return &MockCompleter{
		Provider: completion.ProviderOpenAI,
		ModelID:  "gpt-3.5-turbo",
		APIKey:   "test-key",
		Reply:    reply,
	}
}

func (m *MockCompleter) Name() completion.ProviderType { return m.Provider }
func (m *MockCompleter) Model() string                 { return m.ModelID }
func (m *MockCompleter) Configured() bool              { return m.APIKey != "" }

// Complete records the call and returns the scripted result
func (m *MockCompleter) Complete(ctx context.Context, req *completion.Request) (*completion.Completion, error) {
	turns := make([]types.Turn, len(req.Turns))
	copy(turns, req.Turns)

	m.mu.Lock()
	m.calls = append(m.calls, CompleteCall{SystemPrompt: req.SystemPrompt, Turns: turns})
	fn := m.CompleteFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &completion.Completion{
		Text:     m.Reply,
		Model:    m.ModelID,
		Provider: m.Provider,
		Usage:    m.Usage,
	}, nil
}

// Calls returns a copy of the recorded calls
func (m *MockCompleter) Calls() []CompleteCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompleteCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockRecorder collects recorded exchanges in memory
type MockRecorder struct {
	mu        sync.Mutex
	exchanges []transcript.Exchange
	Err       error
}

// Record implements chat.Recorder
func (m *MockRecorder) Record(_ context.Context, ex *transcript.Exchange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.exchanges = append(m.exchanges, *ex)
	return nil
}

// Exchanges returns a copy of the recorded exchanges
func (m *MockRecorder) Exchanges() []transcript.Exchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]transcript.Exchange, len(m.exchanges))
	copy(out, m.exchanges)
	return out
}
