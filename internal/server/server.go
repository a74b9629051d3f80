// Package server implements the personachat HTTP server
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/spf13/afero"

	"github.com/cloud-shuttle/personachat/internal/chat"
	"github.com/cloud-shuttle/personachat/internal/completion"
	"github.com/cloud-shuttle/personachat/pkg/types"
)

//go:embed static
var staticFiles embed.FS

// timestampLayout matches JavaScript's Date.toISOString
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Config holds the HTTP settings
type Config struct {
	ListenAddr string

	// StaticDir replaces the embedded landing page when set
	StaticDir string

	// Fs resolves StaticDir; nil means the OS filesystem
	Fs afero.Fs

	RateLimit RateLimitConfig
}

// Server is the personachat HTTP server
type Server struct {
	config       Config
	chat         *chat.Service
	usage        *UsageTracker
	rateLimiter  *RateLimiter
	validate     *validator.Validate
	logger       *slog.Logger
	handler      http.Handler
	server       *http.Server
	started      time.Time
	requestCount atomic.Int64
	now          func() time.Time
}

// New creates a new server around a chat service
func New(cfg Config, svc *chat.Service, logger *slog.Logger) (*Server, error) {
	if svc == nil {
		return nil, errors.New("chat service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	static, err := staticRoot(cfg.Fs, cfg.StaticDir)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:      cfg,
		chat:        svc,
		usage:       NewUsageTracker(),
		rateLimiter: NewRateLimiter(cfg.RateLimit, logger),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger,
		started:     time.Now(),
		now:         time.Now,
	}
	s.handler = s.routes(static)
	s.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       1 * time.Minute,
	}

	return s, nil
}

// Handler returns the full middleware chain and router
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes(static fs.FS) http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	router.PathPrefix("/").Handler(http.FileServer(http.FS(static))).Methods(http.MethodGet, http.MethodHead)

	// Apply middleware, innermost first
	var handler http.Handler = router
	handler = s.rateLimiter.Middleware(handler)
	handler = corsMiddleware(handler)
	handler = loggingMiddleware(s.logger)(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

// Start starts the HTTP server and blocks until it stops.
// It returns nil after Shutdown.
func (s *Server) Start() error {
	s.logger.Info("server starting",
		"addr", s.config.ListenAddr,
		"url", fmt.Sprintf("http://localhost%s", s.config.ListenAddr),
		"provider", s.chat.Provider(),
		"rate_limit_rpm", s.config.RateLimit.RequestsPerMinute,
	)

	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.rateLimiter.Close()
	return s.server.Shutdown(ctx)
}

// handleChat runs one exchange
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	s.requestCount.Add(1)
	requestID := RequestIDFrom(r.Context())

	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.logger.Warn("invalid chat request body", "request_id", requestID, "error", err)
		respondError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	if err := s.validate.Struct(&req); err != nil {
		message := validationMessage(err)
		s.logger.Warn("chat request rejected", "request_id", requestID, "reason", message)
		respondError(w, http.StatusBadRequest, message)
		return
	}

	reply, err := s.chat.Exchange(r.Context(), req.ConversationID, req.Message)
	if err != nil {
		status, message := statusFor(err, s.chat.Provider())
		s.usage.RecordFailure(failureCategory(err))
		s.logger.Error("chat error",
			"request_id", requestID,
			"conversation_id", req.ConversationID,
			"status", status,
			"error", err,
		)
		respondError(w, status, message)
		return
	}

	s.usage.Record(reply.Usage)
	s.logger.Debug("chat exchange completed",
		"request_id", requestID,
		"conversation_id", reply.ConversationID,
		"model", reply.Model,
		"tokens", reply.Usage.Total(),
		"duration", reply.Duration,
	)

	writeJSON(w, http.StatusOK, types.ChatResponse{
		Response:       reply.Text,
		ConversationID: reply.ConversationID,
	})
}

// handleHealth returns the server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:    "OK",
		Timestamp: s.now().UTC().Format(timestampLayout),
	})
}

// metricsResponse is the body of GET /metrics
type metricsResponse struct {
	RequestCount        int64  `json:"request_count"`
	ActiveConversations int    `json:"active_conversations"`
	Provider            string `json:"provider"`
	Uptime              string `json:"uptime"`
	UsageStats
}

// handleMetrics returns usage metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metricsResponse{
		RequestCount:        s.requestCount.Load(),
		ActiveConversations: s.chat.Conversations(),
		Provider:            s.chat.Provider().String(),
		Uptime:              time.Since(s.started).Round(time.Second).String(),
		UsageStats:          s.usage.Stats(),
	})
}

// validationMessage turns validator errors into the client message
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return msgMessageRequired
	}
	for _, fe := range verrs {
		if fe.Field() == "Message" {
			return msgMessageRequired
		}
	}
	return "conversationId is too long"
}

// failureCategory names the failure for usage stats
func failureCategory(err error) string {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return "validation_error"
	case errors.Is(err, chat.ErrNotConfigured):
		return "configuration_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return completion.KindOf(err).String()
	}
}

// staticRoot returns the directory served under /
func staticRoot(fsys afero.Fs, dir string) (fs.FS, error) {
	if dir == "" {
		return fs.Sub(staticFiles, "static")
	}
	ok, err := afero.IsDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("static dir: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("static dir %s is not a directory", dir)
	}
	return afero.NewIOFS(afero.NewReadOnlyFs(afero.NewBasePathFs(fsys, dir))), nil
}
