package server

import (
	"sync"
	"time"

	"github.com/cloud-shuttle/personachat/internal/completion"
)

// UsageTracker keeps running token totals for completed exchanges, overall
// and for the current hour and day
type UsageTracker struct {
	mu sync.Mutex

	exchanges        int64
	failures         map[string]int64
	promptTokens     int64
	completionTokens int64

	hourlyTokens int64
	dailyTokens  int64
	hourlyReset  time.Time
	dailyReset   time.Time

	now func() time.Time
}

// UsageStats is a snapshot served on /metrics
type UsageStats struct {
	Exchanges        int64            `json:"exchanges"`
	Failures         map[string]int64 `json:"failures"`
	PromptTokens     int64            `json:"prompt_tokens"`
	CompletionTokens int64            `json:"completion_tokens"`
	TotalTokens      int64            `json:"total_tokens"`
	HourlyTokens     int64            `json:"tokens_hourly"`
	DailyTokens      int64            `json:"tokens_daily"`
	HourlyResetIn    string           `json:"hourly_reset_in"`
	DailyResetIn     string           `json:"daily_reset_in"`
}

// NewUsageTracker creates a new usage tracker
func NewUsageTracker() *UsageTracker {
	u := &UsageTracker{
		failures: make(map[string]int64),
		now:      time.Now,
	}
	u.resetWindows(u.now())
	return u
}

// Record adds the usage of one successful exchange
func (u *UsageTracker) Record(usage completion.Usage) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.resetIfNeeded()

	total := int64(usage.Total())
	u.exchanges++
	u.promptTokens += int64(usage.PromptTokens)
	u.completionTokens += int64(usage.CompletionTokens)
	u.hourlyTokens += total
	u.dailyTokens += total
}

// RecordFailure counts one failed exchange under its category
func (u *UsageTracker) RecordFailure(category string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failures[category]++
}

// Stats returns current usage statistics
func (u *UsageTracker) Stats() UsageStats {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.resetIfNeeded()

	failures := make(map[string]int64, len(u.failures))
	for k, v := range u.failures {
		failures[k] = v
	}

	now := u.now()
	return UsageStats{
		Exchanges:        u.exchanges,
		Failures:         failures,
		PromptTokens:     u.promptTokens,
		CompletionTokens: u.completionTokens,
		TotalTokens:      u.promptTokens + u.completionTokens,
		HourlyTokens:     u.hourlyTokens,
		DailyTokens:      u.dailyTokens,
		HourlyResetIn:    u.hourlyReset.Sub(now).Round(time.Second).String(),
		DailyResetIn:     u.dailyReset.Sub(now).Round(time.Second).String(),
	}
}

// resetIfNeeded clears the hourly/daily windows once they have passed
func (u *UsageTracker) resetIfNeeded() {
	now := u.now()

	if now.After(u.hourlyReset) {
		u.hourlyTokens = 0
		u.hourlyReset = now.Truncate(time.Hour).Add(time.Hour)
	}

	if now.After(u.dailyReset) {
		u.dailyTokens = 0
		u.dailyReset = now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	}
}

func (u *UsageTracker) resetWindows(now time.Time) {
	u.hourlyReset = now.Truncate(time.Hour).Add(time.Hour)
	u.dailyReset = now.Truncate(24 * time.Hour).Add(24 * time.Hour)
}
