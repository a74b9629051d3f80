package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures per-client request limiting
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained rate per client; zero disables limiting
	RequestsPerMinute int

	// TrustProxy keys clients on the first X-Forwarded-For hop. Only set it
	// when a reverse proxy in front of the server overwrites that header.
	TrustProxy bool
}

// Enabled reports whether limiting is active
func (c RateLimitConfig) Enabled() bool {
	return c.RequestsPerMinute > 0
}

// RateLimiter implements token bucket rate limiting keyed by client address
type RateLimiter struct {
	config          RateLimitConfig
	buckets         map[string]*tokenBucket
	mu              sync.Mutex
	cleanupInterval time.Duration
	logger          *slog.Logger
	stop            chan struct{}
	stopOnce        sync.Once
}

// tokenBucket represents a token bucket for rate limiting
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a new rate limiter. The cleanup goroutine only runs
// when limiting is enabled and stops on Close.
func NewRateLimiter(config RateLimitConfig, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	rl := &RateLimiter{
		config:          config,
		buckets:         make(map[string]*tokenBucket),
		cleanupInterval: 5 * time.Minute,
		logger:          logger,
		stop:            make(chan struct{}),
	}

	if config.Enabled() {
		go rl.cleanup()
	}

	return rl
}

// Middleware returns an HTTP middleware for rate limiting
func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.config.Enabled() {
			next.ServeHTTP(w, req)
			return
		}

		key := clientKey(req, r.config.TrustProxy)
		if !r.allow(key) {
			r.logger.Warn("rate limit exceeded", "client", key, "path", req.URL.Path, "request_id", RequestIDFrom(req.Context()))
			respondError(w, http.StatusTooManyRequests, msgRateLimited)
			return
		}

		next.ServeHTTP(w, req)
	})
}

// allow checks if a request is allowed under the rate limit
func (r *RateLimiter) allow(key string) bool {
	if !r.config.Enabled() {
		return true
	}

	r.mu.Lock()
	bucket, exists := r.buckets[key]
	if !exists {
		rpm := float64(r.config.RequestsPerMinute)
		bucket = &tokenBucket{
			tokens:     rpm,
			maxTokens:  rpm,
			refillRate: rpm / 60.0, // per second
			lastRefill: time.Now(),
		}
		r.buckets[key] = bucket
	}
	r.mu.Unlock()

	return bucket.consume(1)
}

// Close stops the cleanup goroutine
func (r *RateLimiter) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// consume attempts to consume tokens from the bucket
func (b *tokenBucket) consume(count float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Refill tokens based on time elapsed
	now := time.Now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.refillRate
	b.lastRefill = now
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}

	if b.tokens >= count {
		b.tokens -= count
		return true
	}
	return false
}

// cleanup periodically removes idle buckets
func (r *RateLimiter) cleanup() {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.prune(time.Now())
		}
	}
}

// prune drops buckets untouched for a full cleanup interval
func (r *RateLimiter) prune(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, bucket := range r.buckets {
		bucket.mu.Lock()
		if now.Sub(bucket.lastRefill) > r.cleanupInterval {
			delete(r.buckets, key)
			removed++
		}
		bucket.mu.Unlock()
	}
	return removed
}

// clientKey identifies the caller by remote host. X-Forwarded-For is client
// controlled and only consulted when trustProxy is set.
func clientKey(req *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if host := strings.TrimSpace(first); host != "" {
				return "ip:" + host
			}
		}
	}

	if host, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		return "ip:" + host
	}
	if req.RemoteAddr != "" {
		return "ip:" + req.RemoteAddr
	}
	return "unknown"
}
