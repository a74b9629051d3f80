package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloud-shuttle/personachat/pkg/types"
)

// openAIStub serves canned chat completion responses
type openAIStub struct {
	status int
	body   string
	calls  atomic.Int32
	last   map[string]any
	auth   string
}

func (s *openAIStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.calls.Add(1)
	if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		http.NotFound(w, r)
		return
	}
	s.auth = r.Header.Get("Authorization")
	_ = json.NewDecoder(r.Body).Decode(&s.last)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(s.status)
	w.Write([]byte(s.body))
}

const openAISuccessBody = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "gpt-3.5-turbo-0125",
	"choices": [{
		"index": 0,
		"message": {"role": "assistant", "content": "Hello from the model"},
		"finish_reason": "stop"
	}],
	"usage": {"prompt_tokens": 42, "completion_tokens": 7, "total_tokens": 49}
}`

func newOpenAITestProvider(t *testing.T, stub *openAIStub) Completer {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	p, err := New(Config{
		Provider:    ProviderOpenAI,
		APIKey:      "test-key",
		BaseURL:     srv.URL + "/v1/",
		Temperature: DefaultTemperature,
	})
	require.NoError(t, err)
	return p
}

func TestOpenAIComplete(t *testing.T) {
	stub := &openAIStub{status: http.StatusOK, body: openAISuccessBody}
	p := newOpenAITestProvider(t, stub)

	got, err := p.Complete(context.Background(), &Request{
		SystemPrompt: "You are a portfolio assistant.",
		Turns: []types.Turn{
			types.UserTurn("hi"),
			types.AssistantTurn("hello"),
			types.UserTurn("what do you do?"),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello from the model", got.Text)
	assert.Equal(t, ProviderOpenAI, got.Provider)
	assert.Equal(t, Usage{PromptTokens: 42, CompletionTokens: 7}, got.Usage)
	assert.Equal(t, "Bearer test-key", stub.auth)

	assert.Equal(t, "gpt-3.5-turbo", stub.last["model"])
	assert.EqualValues(t, 500, stub.last["max_tokens"])
	assert.InDelta(t, 0.7, stub.last["temperature"], 1e-9)

	msgs, ok := stub.last["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 4)

	roles := make([]string, len(msgs))
	for i, m := range msgs {
		roles[i] = m.(map[string]any)["role"].(string)
	}
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles)
}

func TestOpenAICompleteNoChoices(t *testing.T) {
	stub := &openAIStub{status: http.StatusOK, body: `{"id":"x","object":"chat.completion","model":"gpt-3.5-turbo","choices":[]}`}
	p := newOpenAITestProvider(t, stub)

	_, err := p.Complete(context.Background(), &Request{Turns: []types.Turn{types.UserTurn("hi")}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoChoices)
	assert.Equal(t, KindUpstream, KindOf(err))
}

func TestOpenAICompleteErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{
			name:   "invalid key",
			status: http.StatusUnauthorized,
			body:   `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`,
			want:   KindInvalidCredential,
		},
		{
			name:   "quota",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`,
			want:   KindQuotaExceeded,
		},
		{
			name:   "bad request",
			status: http.StatusBadRequest,
			body:   `{"error":{"message":"bad","type":"invalid_request_error","code":null}}`,
			want:   KindUpstream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &openAIStub{status: tt.status, body: tt.body}
			p := newOpenAITestProvider(t, stub)

			_, err := p.Complete(context.Background(), &Request{Turns: []types.Turn{types.UserTurn("hi")}})
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
			assert.EqualValues(t, 1, stub.calls.Load(), "completion calls must not be retried")

			var cerr *Error
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.status, cerr.StatusCode)
		})
	}
}

func TestClassifyOpenAIError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"quota code", &openai.Error{StatusCode: http.StatusTooManyRequests, Code: "insufficient_quota"}, KindQuotaExceeded},
		{"quota code wins over status", &openai.Error{StatusCode: http.StatusBadRequest, Code: "insufficient_quota"}, KindQuotaExceeded},
		{"invalid key code", &openai.Error{StatusCode: http.StatusUnauthorized, Code: "invalid_api_key"}, KindInvalidCredential},
		{"unauthorized status", &openai.Error{StatusCode: http.StatusUnauthorized}, KindInvalidCredential},
		{"rate limited status", &openai.Error{StatusCode: http.StatusTooManyRequests, Code: "rate_limit_exceeded"}, KindQuotaExceeded},
		{"server error", &openai.Error{StatusCode: http.StatusInternalServerError}, KindUpstream},
		{"transport error", errors.New("connection refused"), KindUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyOpenAIError(tt.err)
			assert.Equal(t, tt.want, got.Kind)
			assert.Equal(t, ProviderOpenAI, got.Provider)
			assert.Same(t, tt.err, got.Unwrap())
		})
	}
}
