package completion

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderTypeIsValid(t *testing.T) {
	tests := []struct {
		provider ProviderType
		expected bool
	}{
		{ProviderOpenAI, true},
		{ProviderAnthropic, true},
		{ProviderType("invalid"), false},
		{ProviderType(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.provider.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.provider.IsValid())
		})
	}
}

func TestProviderTypeDisplayName(t *testing.T) {
	assert.Equal(t, "OpenAI", ProviderOpenAI.DisplayName())
	assert.Equal(t, "Anthropic", ProviderAnthropic.DisplayName())
	assert.Equal(t, "custom", ProviderType("custom").DisplayName())
}

func TestNewAppliesDefaults(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	assert.Equal(t, ProviderOpenAI, c.Name())
	assert.Equal(t, "gpt-3.5-turbo", c.Model())
	assert.False(t, c.Configured())

	c, err = New(Config{Provider: ProviderAnthropic, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-haiku-latest", c.Model())
	assert.True(t, c.Configured())
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider type")
}

func TestCallContextTimeout(t *testing.T) {
	b := &base{cfg: Config{Timeout: time.Minute}}
	ctx, cancel := b.callContext(context.Background())
	defer cancel()

	_, ok := ctx.Deadline()
	assert.True(t, ok)

	b = &base{}
	ctx, cancel = b.callContext(context.Background())
	defer cancel()

	_, ok = ctx.Deadline()
	assert.False(t, ok)
}

func TestKindOf(t *testing.T) {
	quota := &Error{Kind: KindQuotaExceeded, Provider: ProviderOpenAI, Err: errors.New("quota")}

	assert.Equal(t, KindQuotaExceeded, KindOf(quota))
	assert.Equal(t, KindQuotaExceeded, KindOf(fmt.Errorf("wrapped: %w", quota)))
	assert.Equal(t, KindUpstream, KindOf(errors.New("plain")))
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: KindInvalidCredential, Provider: ProviderOpenAI, StatusCode: 401, Err: errors.New("bad key")}
	assert.Equal(t, "openai completion failed (invalid_credential, status 401): bad key", err.Error())

	err = &Error{Kind: KindUpstream, Provider: ProviderAnthropic, Err: errors.New("eof")}
	assert.Equal(t, "anthropic completion failed (upstream_error): eof", err.Error())
}

func TestUsageTotal(t *testing.T) {
	assert.Equal(t, 49, Usage{PromptTokens: 42, CompletionTokens: 7}.Total())
}
