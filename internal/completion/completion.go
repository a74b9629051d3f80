// Package completion wraps external chat-completion APIs behind one interface
package completion

import (
	"context"
	"fmt"
	"time"

	"github.com/cloud-shuttle/personachat/pkg/types"
)

// ProviderType identifies the completion backend
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
)

// String returns the provider identifier
func (p ProviderType) String() string {
	return string(p)
}

// IsValid reports whether p has a registered factory
func (p ProviderType) IsValid() bool {
	_, ok := Registry[p]
	return ok
}

// DisplayName is the vendor name used in user-facing error messages
func (p ProviderType) DisplayName() string {
	switch p {
	case ProviderOpenAI:
		return "OpenAI"
	case ProviderAnthropic:
		return "Anthropic"
	default:
		return string(p)
	}
}

const (
	DefaultMaxTokens   = 500
	DefaultTemperature = 0.7
)

// DefaultModel returns the model used when none is configured
func DefaultModel(p ProviderType) string {
	switch p {
	case ProviderAnthropic:
		return "claude-3-5-haiku-latest"
	default:
		return "gpt-3.5-turbo"
	}
}

// Config holds the settings for one completion provider
type Config struct {
	Provider    ProviderType
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64

	// Timeout bounds a single call; zero leaves it to the caller's context
	Timeout time.Duration
}

// withDefaults fills unset generation parameters
func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel(c.Provider)
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	return c
}

// Request is the input for one completion call
type Request struct {
	SystemPrompt string
	Turns        []types.Turn
}

// Usage reports token consumption for a call
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns prompt plus completion tokens
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Completion is the generated reply of the first candidate
type Completion struct {
	Text     string
	Model    string
	Provider ProviderType
	Usage    Usage
}

// Completer issues a single blocking completion call
type Completer interface {
	// Name returns the provider type
	Name() ProviderType

	// Model returns the model requested on each call
	Model() string

	// Configured reports whether a credential is available
	Configured() bool

	// Complete sends the system prompt and turns and returns the reply
	Complete(ctx context.Context, req *Request) (*Completion, error)
}

// Factory creates a completer from its configuration
type Factory func(cfg Config) (Completer, error)

// Registry holds all registered provider factories
var Registry = map[ProviderType]Factory{
	ProviderOpenAI:    NewOpenAIProvider,
	ProviderAnthropic: NewAnthropicProvider,
}

// New creates the completer named by cfg.Provider.
// A missing API key is not an error; callers check Configured.
func New(cfg Config) (Completer, error) {
	if cfg.Provider == "" {
		cfg.Provider = ProviderOpenAI
	}
	factory, ok := Registry[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Provider)
	}
	return factory(cfg.withDefaults())
}

// base carries the settings every provider shares
type base struct {
	cfg Config
}

func (b *base) Name() ProviderType { return b.cfg.Provider }
func (b *base) Model() string      { return b.cfg.Model }
func (b *base) Configured() bool   { return b.cfg.APIKey != "" }

// callContext applies the configured per-call timeout
func (b *base) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, b.cfg.Timeout)
	}
	return ctx, func() {}
}
