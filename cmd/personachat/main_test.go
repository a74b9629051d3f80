package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloud-shuttle/personachat/internal/chat"
	"github.com/cloud-shuttle/personachat/internal/completion"
	"github.com/cloud-shuttle/personachat/internal/config"
	"github.com/cloud-shuttle/personachat/internal/transcript"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"loud", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.input))
		})
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", "json")

	logger.Debug("hidden")
	logger.Info("shown", "port", 3000)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, float64(3000), entry["port"])
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "warn", "text").Warn("careful")
	assert.Contains(t, buf.String(), "careful")
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "ask", "persona", "transcript"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestNewAppWithoutCredential(t *testing.T) {
	c := config.Default()
	a, err := newApp(c, afero.NewMemMapFs(), quietLogger())
	require.NoError(t, err)
	defer a.Close()

	assert.False(t, a.completer.Configured())
	assert.Equal(t, completion.ProviderOpenAI, a.completer.Name())

	_, err = a.service.Exchange(context.Background(), "", "hi")
	assert.ErrorIs(t, err, chat.ErrNotConfigured)
}

func TestNewAppPersonaFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/persona.txt", []byte(""), 0o644))

	c := config.Default()
	c.PersonaFile = "/etc/persona.txt"
	_, err := newApp(c, fs, quietLogger())
	assert.Error(t, err)

	c.PersonaFile = "/missing.txt"
	_, err = newApp(c, fs, quietLogger())
	assert.Error(t, err)
}

func TestNewAppOpensTranscript(t *testing.T) {
	c := config.Default()
	c.TranscriptDB = filepath.Join(t.TempDir(), "t.db")

	a, err := newApp(c, afero.NewMemMapFs(), quietLogger())
	require.NoError(t, err)
	require.NotNil(t, a.transcript)
	assert.NoError(t, a.Close())
}

func TestAskLocalWithoutCredential(t *testing.T) {
	c := config.Default()
	var out bytes.Buffer

	err := askLocal(context.Background(), &out, c, "", "hello", quietLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, chat.ErrNotConfigured)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
	assert.Empty(t, out.String())
}

func TestRunServerStopsOnCancel(t *testing.T) {
	c := config.Default()
	c.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServer(ctx, c, afero.NewMemMapFs(), quietLogger()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runServer did not stop")
	}
}

func TestPrintTranscript(t *testing.T) {
	ts, err := transcript.Open(filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	defer ts.Close()

	ctx := context.Background()
	require.NoError(t, ts.Record(ctx, &transcript.Exchange{
		ConversationID:   "c1",
		UserMessage:      "what do you build?",
		AssistantMessage: "web apps",
		Provider:         "openai",
		Model:            "gpt-3.5-turbo",
		PromptTokens:     40,
		CompletionTokens: 3,
	}))

	var out bytes.Buffer
	require.NoError(t, printTranscript(ctx, &out, ts, "c1", 10))
	assert.Contains(t, out.String(), "openai/gpt-3.5-turbo (40+3 tokens)")
	assert.Contains(t, out.String(), "user:      what do you build?")
	assert.Contains(t, out.String(), "assistant: web apps")

	out.Reset()
	require.NoError(t, printTranscript(ctx, &out, ts, "other", 10))
	assert.Contains(t, out.String(), `No exchanges recorded for "other"`)
}

func TestAPIKeyEnv(t *testing.T) {
	assert.Equal(t, "OPENAI_API_KEY", apiKeyEnv(completion.ProviderOpenAI))
	assert.Equal(t, "ANTHROPIC_API_KEY", apiKeyEnv(completion.ProviderAnthropic))
}
