// Package config handles personachat configuration
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/cloud-shuttle/personachat/internal/completion"
	"github.com/cloud-shuttle/personachat/internal/history"
)

// Config holds personachat configuration
type Config struct {
	// HTTP settings
	Port      int    `validate:"min=1,max=65535"`
	StaticDir string

	// Provider settings
	Provider        completion.ProviderType `validate:"oneof=openai anthropic"`
	OpenAIAPIKey    string
	AnthropicAPIKey string
	Model           string
	BaseURL         string `validate:"omitempty,url"`
	MaxTokens       int     `validate:"min=1"`
	Temperature     float64 `validate:"min=0,max=2"`
	RequestTimeout  time.Duration `validate:"min=0"`

	// History settings
	HistoryLimit     int           `validate:"min=2"`
	HistoryTTL       time.Duration `validate:"min=0"`
	MaxConversations int           `validate:"min=0"`
	SweepInterval    time.Duration `validate:"min=0"`

	// Persona prompt file; empty selects the built-in prompt
	PersonaFile string

	// Transcript database path; empty disables recording
	TranscriptDB string

	// Requests per minute per client; zero disables rate limiting
	RateLimitRPM int `validate:"min=0"`

	// Key rate limiting on X-Forwarded-For; only behind a trusted proxy
	TrustProxy bool

	// Logging
	LogLevel  string `validate:"oneof=debug info warn warning error"`
	LogFormat string `validate:"oneof=text json"`
}

// Default returns the configuration used when no environment is set
func Default() *Config {
	return &Config{
		Port:             3000,
		Provider:         completion.ProviderOpenAI,
		MaxTokens:        completion.DefaultMaxTokens,
		Temperature:      completion.DefaultTemperature,
		HistoryLimit:     history.DefaultLimit,
		HistoryTTL:       history.DefaultTTL,
		MaxConversations: history.DefaultMaxConversations,
		SweepInterval:    history.DefaultSweepInterval,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load loads configuration from a .env file, the environment and defaults
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds configuration from a lookup function over defaults
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := Default()

	// Environment overrides
	if v := getenv("PORT"); v != "" {
		cfg.Port = parseIntOrDefault(v, cfg.Port)
	}
	if v := getenv("PERSONACHAT_STATIC_DIR"); v != "" {
		cfg.StaticDir = v
	}
	if v := getenv("PERSONACHAT_PROVIDER"); v != "" {
		cfg.Provider = completion.ProviderType(v)
	}
	cfg.OpenAIAPIKey = getenv("OPENAI_API_KEY")
	cfg.AnthropicAPIKey = getenv("ANTHROPIC_API_KEY")
	if v := getenv("PERSONACHAT_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := getenv("PERSONACHAT_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := getenv("PERSONACHAT_MAX_TOKENS"); v != "" {
		cfg.MaxTokens = parseIntOrDefault(v, cfg.MaxTokens)
	}
	if v := getenv("PERSONACHAT_TEMPERATURE"); v != "" {
		cfg.Temperature = parseFloatOrDefault(v, cfg.Temperature)
	}
	if v := getenv("PERSONACHAT_REQUEST_TIMEOUT"); v != "" {
		cfg.RequestTimeout = parseDurationOrDefault(v, cfg.RequestTimeout)
	}
	if v := getenv("PERSONACHAT_HISTORY_LIMIT"); v != "" {
		cfg.HistoryLimit = parseIntOrDefault(v, cfg.HistoryLimit)
	}
	if v := getenv("PERSONACHAT_HISTORY_TTL"); v != "" {
		cfg.HistoryTTL = parseDurationOrDefault(v, cfg.HistoryTTL)
	}
	if v := getenv("PERSONACHAT_MAX_CONVERSATIONS"); v != "" {
		cfg.MaxConversations = parseIntOrDefault(v, cfg.MaxConversations)
	}
	if v := getenv("PERSONACHAT_SWEEP_INTERVAL"); v != "" {
		cfg.SweepInterval = parseDurationOrDefault(v, cfg.SweepInterval)
	}
	if v := getenv("PERSONACHAT_PERSONA_FILE"); v != "" {
		cfg.PersonaFile = v
	}
	if v := getenv("PERSONACHAT_TRANSCRIPT_DB"); v != "" {
		cfg.TranscriptDB = v
	}
	if v := getenv("PERSONACHAT_RATE_LIMIT_RPM"); v != "" {
		cfg.RateLimitRPM = parseIntOrDefault(v, cfg.RateLimitRPM)
	}
	if v := getenv("PERSONACHAT_TRUST_PROXY"); v != "" {
		cfg.TrustProxy = parseBoolOrDefault(v, cfg.TrustProxy)
	}
	if v := getenv("PERSONACHAT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("PERSONACHAT_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// maxAnthropicTemperature is the upper bound of the messages API
const maxAnthropicTemperature = 1.0

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateProvider, Config{})
	return v
}

// validateProvider checks settings that depend on each other. The history
// limit must be even so trimming never leaves an assistant turn first.
func validateProvider(sl validator.StructLevel) {
	c := sl.Current().Interface().(Config)

	if c.HistoryLimit%2 != 0 {
		sl.ReportError(c.HistoryLimit, "HistoryLimit", "HistoryLimit", "even", "")
	}
	if c.Provider == completion.ProviderAnthropic && c.Temperature > maxAnthropicTemperature {
		sl.ReportError(c.Temperature, "Temperature", "Temperature", "anthropic_max", "1")
	}
}

// Validate checks field ranges, enumerations and cross-field constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("invalid config: %s failed on '%s' with value '%v'", e.Field(), e.Tag(), e.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ListenAddr returns the address the HTTP server binds to
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// APIKey returns the credential for the selected provider
func (c *Config) APIKey() string {
	if c.Provider == completion.ProviderAnthropic {
		return c.AnthropicAPIKey
	}
	return c.OpenAIAPIKey
}

// Completion returns the provider configuration
func (c *Config) Completion() completion.Config {
	return completion.Config{
		Provider:    c.Provider,
		APIKey:      c.APIKey(),
		BaseURL:     c.BaseURL,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		Timeout:     c.RequestTimeout,
	}
}

// History returns the conversation eviction policy
func (c *Config) History() history.Options {
	return history.Options{
		TTL:              c.HistoryTTL,
		MaxConversations: c.MaxConversations,
		SweepInterval:    c.SweepInterval,
	}
}

func parseIntOrDefault(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseFloatOrDefault(s string, def float64) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

func parseBoolOrDefault(s string, def bool) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

func parseDurationOrDefault(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
