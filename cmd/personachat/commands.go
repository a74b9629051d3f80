package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/cloud-shuttle/personachat/internal/chat"
	"github.com/cloud-shuttle/personachat/internal/client"
	"github.com/cloud-shuttle/personachat/internal/completion"
	"github.com/cloud-shuttle/personachat/internal/config"
	"github.com/cloud-shuttle/personachat/internal/history"
	"github.com/cloud-shuttle/personachat/internal/persona"
	"github.com/cloud-shuttle/personachat/internal/server"
	"github.com/cloud-shuttle/personachat/internal/transcript"
	"github.com/cloud-shuttle/personachat/pkg/types"
)

const shutdownTimeout = 10 * time.Second

// app bundles the components shared by serve and ask --local
type app struct {
	service    *chat.Service
	history    *history.Store
	completer  completion.Completer
	transcript *transcript.Store
}

// newApp wires the persona, provider, history store and optional transcript
func newApp(c *config.Config, fs afero.Fs, logger *slog.Logger) (*app, error) {
	prompt, err := persona.Load(fs, c.PersonaFile)
	if err != nil {
		return nil, err
	}

	completer, err := completion.New(c.Completion())
	if err != nil {
		return nil, fmt.Errorf("creating completion provider: %w", err)
	}

	store := history.NewStore(c.History())
	store.SetLogger(logger)

	svc := chat.NewService(store, completer, chat.Config{
		SystemPrompt: prompt,
		HistoryLimit: c.HistoryLimit,
	})
	svc.SetLogger(logger)

	a := &app{service: svc, history: store, completer: completer}

	if c.TranscriptDB != "" {
		ts, err := transcript.Open(c.TranscriptDB)
		if err != nil {
			return nil, fmt.Errorf("opening transcript: %w", err)
		}
		svc.SetRecorder(ts)
		a.transcript = ts
	}

	return a, nil
}

// Close releases the transcript database
func (a *app) Close() error {
	if a.transcript != nil {
		return a.transcript.Close()
	}
	return nil
}

func serveCmd() *cobra.Command {
	var port int
	var staticDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat HTTP server",
		Long: `Run the chat HTTP server.

Endpoints:
  POST /chat     {"message": "...", "conversationId": "..."}
  GET  /health   liveness probe
  GET  /metrics  request and token usage
  GET  /         static chat page

The server starts without an API key; /chat then answers 500 until one is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveCfg := *cfg
			if port > 0 {
				serveCfg.Port = port
			}
			if staticDir != "" {
				serveCfg.StaticDir = staticDir
			}

			logger := newLogger(cmd.ErrOrStderr(), serveCfg.LogLevel, serveCfg.LogFormat)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServer(ctx, &serveCfg, afero.NewOsFs(), logger)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (overrides PORT)")
	cmd.Flags().StringVar(&staticDir, "static-dir", "", "Serve the landing page from this directory")
	return cmd
}

// runServer blocks until ctx is cancelled or the listener fails
func runServer(ctx context.Context, c *config.Config, fs afero.Fs, logger *slog.Logger) error {
	a, err := newApp(c, fs, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := server.New(server.Config{
		ListenAddr: c.ListenAddr(),
		StaticDir:  c.StaticDir,
		Fs:         fs,
		RateLimit:  server.RateLimitConfig{
			RequestsPerMinute: c.RateLimitRPM,
			TrustProxy:        c.TrustProxy,
		},
	}, a.service, logger)
	if err != nil {
		return err
	}

	if !a.completer.Configured() {
		logger.Warn("API key not configured; /chat will fail until it is set",
			"provider", a.completer.Name(),
			"env", apiKeyEnv(a.completer.Name()),
		)
	}
	logger.Info("completion provider", "provider", a.completer.Name(), "model", a.completer.Model())

	go a.history.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func askCmd() *cobra.Command {
	var serverURL string
	var conversationID string
	var local bool

	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Send one message and print the reply",
		Long: `Send one message to a running server and print the reply.

With --local the exchange runs in this process against the configured provider
instead; history then lasts only for this invocation.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")
			if local {
				logger := newLogger(cmd.ErrOrStderr(), "warn", cfg.LogFormat)
				return askLocal(cmd.Context(), cmd.OutOrStdout(), cfg, conversationID, message, logger)
			}

			if serverURL == "" {
				serverURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
			}
			c := client.NewClient(client.Config{BaseURL: serverURL})

			resp, err := c.Chat(cmd.Context(), &types.ChatRequest{
				Message:        message,
				ConversationID: conversationID,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Response)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "url", "", "Server base URL (default http://localhost:$PORT)")
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Conversation id")
	cmd.Flags().BoolVar(&local, "local", false, "Call the provider directly instead of a server")
	return cmd
}

// askLocal runs one exchange in-process
func askLocal(ctx context.Context, out io.Writer, c *config.Config, conversationID, message string, logger *slog.Logger) error {
	a, err := newApp(c, afero.NewOsFs(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	reply, err := a.service.Exchange(ctx, conversationID, message)
	if err != nil {
		if errors.Is(err, chat.ErrNotConfigured) {
			return fmt.Errorf("%w: set %s", err, apiKeyEnv(a.completer.Name()))
		}
		return err
	}
	fmt.Fprintln(out, reply.Text)
	return nil
}

func personaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "persona",
		Short: "Print the persona prompt in effect",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := persona.Load(afero.NewOsFs(), cfg.PersonaFile)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), prompt)
			if !strings.HasSuffix(prompt, "\n") {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
}

func transcriptCmd() *cobra.Command {
	var limit int
	var dbPath string

	cmd := &cobra.Command{
		Use:   "transcript [conversation-id]",
		Short: "Show recorded exchanges of a conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				dbPath = cfg.TranscriptDB
			}
			if dbPath == "" {
				return errors.New("no transcript database: set PERSONACHAT_TRANSCRIPT_DB or --db")
			}
			conversationID := types.DefaultConversationID
			if len(args) == 1 {
				conversationID = args[0]
			}

			ts, err := transcript.Open(dbPath)
			if err != nil {
				return err
			}
			defer ts.Close()

			return printTranscript(cmd.Context(), cmd.OutOrStdout(), ts, conversationID, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of most recent exchanges")
	cmd.Flags().StringVar(&dbPath, "db", "", "Transcript database (default $PERSONACHAT_TRANSCRIPT_DB)")
	return cmd
}

func printTranscript(ctx context.Context, out io.Writer, ts *transcript.Store, conversationID string, limit int) error {
	exchanges, err := ts.Recent(ctx, conversationID, limit)
	if err != nil {
		return err
	}
	if len(exchanges) == 0 {
		fmt.Fprintf(out, "No exchanges recorded for %q\n", conversationID)
		return nil
	}

	for _, ex := range exchanges {
		fmt.Fprintf(out, "[%s] %s/%s (%d+%d tokens)\n",
			ex.CreatedAt.Local().Format(time.DateTime), ex.Provider, ex.Model, ex.PromptTokens, ex.CompletionTokens)
		fmt.Fprintf(out, "  user:      %s\n", ex.UserMessage)
		fmt.Fprintf(out, "  assistant: %s\n", ex.AssistantMessage)
	}
	return nil
}

func apiKeyEnv(p completion.ProviderType) string {
	if p == completion.ProviderAnthropic {
		return "ANTHROPIC_API_KEY"
	}
	return "OPENAI_API_KEY"
}
