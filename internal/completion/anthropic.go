package completion

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cloud-shuttle/personachat/pkg/types"
)

// AnthropicProvider calls the Anthropic messages API
type AnthropicProvider struct {
	base
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(cfg Config) (Completer, error) {
	cfg = cfg.withDefaults()

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		base:   base{cfg: cfg},
		client: anthropic.NewClient(opts...),
	}, nil
}

// Complete sends one messages request
func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (*Completion, error) {
	ctx, cancel := p.callContext(ctx)
	defer cancel()

	system, messages := p.convertMessages(req)

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.cfg.Model),
		Messages:    messages,
		MaxTokens:   int64(p.cfg.MaxTokens),
		Temperature: anthropic.Float(p.cfg.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	var text strings.Builder
	found := false
	for _, block := range resp.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(b.Text)
			found = true
		}
	}
	if !found {
		return nil, &Error{Kind: KindUpstream, Provider: ProviderAnthropic, Err: ErrNoChoices}
	}

	return &Completion{
		Text:     text.String(),
		Model:    string(resp.Model),
		Provider: ProviderAnthropic,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// convertMessages folds system turns into the system prompt, since the
// messages API only accepts user and assistant roles
func (p *AnthropicProvider) convertMessages(req *Request) (string, []anthropic.MessageParam) {
	system := []string{}
	if req.SystemPrompt != "" {
		system = append(system, req.SystemPrompt)
	}

	msgs := make([]anthropic.MessageParam, 0, len(req.Turns))
	for _, t := range req.Turns {
		switch t.Role {
		case types.RoleSystem:
			system = append(system, t.Content)
		case types.RoleUser:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Content)))
		case types.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Content)))
		}
	}
	return strings.Join(system, "\n\n"), msgs
}

func classifyAnthropicError(err error) *Error {
	cerr := &Error{Kind: KindUpstream, Provider: ProviderAnthropic, Err: err}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		cerr.StatusCode = apiErr.StatusCode
		cerr.Kind = kindFromStatus(apiErr.StatusCode)
	}
	return cerr
}
