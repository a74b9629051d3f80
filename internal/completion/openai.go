package completion

import (
	"context"
	"errors"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/cloud-shuttle/personachat/pkg/types"
)

// OpenAIProvider calls the OpenAI chat completions API.
// Compatible servers work through BaseURL.
type OpenAIProvider struct {
	base
	client openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(cfg Config) (Completer, error) {
	cfg = cfg.withDefaults()

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIProvider{
		base:   base{cfg: cfg},
		client: openai.NewClient(opts...),
	}, nil
}

// Complete sends one chat completion request
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Completion, error) {
	ctx, cancel := p.callContext(ctx)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:       p.cfg.Model,
		Messages:    p.convertMessages(req),
		MaxTokens:   openai.Int(int64(p.cfg.MaxTokens)),
		Temperature: openai.Float(p.cfg.Temperature),
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Kind: KindUpstream, Provider: ProviderOpenAI, Err: ErrNoChoices}
	}

	return &Completion{
		Text:     resp.Choices[0].Message.Content,
		Model:    resp.Model,
		Provider: ProviderOpenAI,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

// convertMessages puts the system prompt first, then the turns in order
func (p *OpenAIProvider) convertMessages(req *Request) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Turns)+1)

	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(req.SystemPrompt))
	}

	for _, t := range req.Turns {
		switch t.Role {
		case types.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(t.Content))
		case types.RoleUser:
			msgs = append(msgs, openai.UserMessage(t.Content))
		case types.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(t.Content))
		}
	}
	return msgs
}

// classifyOpenAIError maps SDK failures onto completion kinds.
// The API error code wins over the HTTP status.
func classifyOpenAIError(err error) *Error {
	cerr := &Error{Kind: KindUpstream, Provider: ProviderOpenAI, Err: err}

	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return cerr
	}

	cerr.StatusCode = apiErr.StatusCode
	cerr.Code = apiErr.Code

	switch {
	case apiErr.Code == "insufficient_quota":
		cerr.Kind = KindQuotaExceeded
	case apiErr.Code == "invalid_api_key":
		cerr.Kind = KindInvalidCredential
	case apiErr.StatusCode == http.StatusTooManyRequests:
		cerr.Kind = KindQuotaExceeded
	case apiErr.StatusCode == http.StatusUnauthorized:
		cerr.Kind = KindInvalidCredential
	}
	return cerr
}
