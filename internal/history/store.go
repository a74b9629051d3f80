// Package history keeps short per-conversation message histories in memory
package history

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cloud-shuttle/personachat/pkg/types"
)

const (
	// DefaultLimit is the number of turns kept per conversation
	DefaultLimit = 20

	// DefaultTTL is how long an idle conversation survives
	DefaultTTL = 24 * time.Hour

	// DefaultMaxConversations caps the number of live conversations
	DefaultMaxConversations = 10000

	// DefaultSweepInterval is how often Run evicts idle conversations
	DefaultSweepInterval = 5 * time.Minute
)

// Options controls eviction of whole conversations.
// A zero TTL or MaxConversations disables that policy.
type Options struct {
	TTL              time.Duration
	MaxConversations int
	SweepInterval    time.Duration
}

// DefaultOptions returns the eviction policy used by the server
func DefaultOptions() Options {
	return Options{
		TTL:              DefaultTTL,
		MaxConversations: DefaultMaxConversations,
		SweepInterval:    DefaultSweepInterval,
	}
}

// conversation holds the turns for one key
type conversation struct {
	turns      []types.Turn
	lastAccess time.Time

	// exchange serializes read-call-append cycles on this key; it holds
	// one token while an exchange is in progress
	exchange chan struct{}
	holders  int
}

// Store maps conversation ids to ordered turn sequences.
// It is safe for concurrent use.
type Store struct {
	mu            sync.Mutex
	conversations map[string]*conversation
	opts          Options
	now           func() time.Time
	logger        *slog.Logger
}

// NewStore creates an empty history store
func NewStore(opts Options) *Store {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	return &Store{
		conversations: make(map[string]*conversation),
		opts:          opts,
		now:           time.Now,
		logger:        slog.Default(),
	}
}

// SetLogger sets the logger used for eviction reports
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// Get returns a copy of the turns stored under id.
// An unseen id yields an empty sequence and is created as a side effect.
func (s *Store) Get(id string) []types.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.touchLocked(id)
	out := make([]types.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Append adds turns to the end of the conversation in the given order
func (s *Store) Append(id string, turns ...types.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.touchLocked(id)
	c.turns = append(c.turns, turns...)
}

// Trim discards the oldest turns until at most maxLen remain.
// It returns the number of turns removed.
func (s *Store) Trim(id string, maxLen int) int {
	if maxLen < 0 {
		maxLen = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok || len(c.turns) <= maxLen {
		return 0
	}

	removed := len(c.turns) - maxLen
	kept := make([]types.Turn, maxLen)
	copy(kept, c.turns[removed:])
	c.turns = kept
	return removed
}

// Len returns the number of turns stored under id without creating it
func (s *Store) Len(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.conversations[id]; ok {
		return len(c.turns)
	}
	return 0
}

// Delete drops a conversation. It reports whether the key existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return false
	}
	delete(s.conversations, id)
	return true
}

// Conversations returns the number of live conversation keys
func (s *Store) Conversations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

// Lock serializes exchanges on one conversation key. It gives up with
// ctx.Err() when ctx is done before the key is free.
// The returned func releases the lock; a held or waited-on conversation is
// never evicted.
func (s *Store) Lock(ctx context.Context, id string) (unlock func(), err error) {
	s.mu.Lock()
	c := s.touchLocked(id)
	c.holders++
	s.mu.Unlock()

	select {
	case c.exchange <- struct{}{}:
	case <-ctx.Done():
		s.release(c)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-c.exchange
			s.release(c)
		})
	}, nil
}

func (s *Store) release(c *conversation) {
	s.mu.Lock()
	c.holders--
	s.mu.Unlock()
}

// Sweep evicts conversations idle longer than the TTL, then the least
// recently used ones while the store is over capacity. It returns the
// number of conversations removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	if s.opts.TTL > 0 {
		cutoff := s.now().Add(-s.opts.TTL)
		for id, c := range s.conversations {
			if c.holders == 0 && c.lastAccess.Before(cutoff) {
				delete(s.conversations, id)
				removed++
			}
		}
	}

	if s.opts.MaxConversations > 0 {
		removed += s.evictLocked(len(s.conversations) - s.opts.MaxConversations)
	}

	if removed > 0 {
		s.logger.Debug("evicted conversations", "removed", removed, "remaining", len(s.conversations))
	}
	return removed
}

// Run sweeps the store on a ticker until ctx is cancelled
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// touchLocked returns the conversation for id, creating it when needed,
// and marks it as accessed now. s.mu must be held.
func (s *Store) touchLocked(id string) *conversation {
	now := s.now()
	c, ok := s.conversations[id]
	if !ok {
		if limit := s.opts.MaxConversations; limit > 0 && len(s.conversations) >= limit {
			s.evictLocked(len(s.conversations) - limit + 1)
		}
		c = &conversation{turns: []types.Turn{}, exchange: make(chan struct{}, 1)}
		s.conversations[id] = c
	}
	c.lastAccess = now
	return c
}

// evictLocked removes up to n least recently accessed conversations that
// are not held by an exchange. s.mu must be held.
func (s *Store) evictLocked(n int) int {
	if n <= 0 {
		return 0
	}
	if n == 1 {
		return s.evictOldestLocked()
	}

	type candidate struct {
		id         string
		lastAccess time.Time
	}
	candidates := make([]candidate, 0, len(s.conversations))
	for id, c := range s.conversations {
		if c.holders == 0 {
			candidates = append(candidates, candidate{id: id, lastAccess: c.lastAccess})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastAccess.Before(candidates[j].lastAccess)
	})

	if n > len(candidates) {
		n = len(candidates)
	}
	for _, c := range candidates[:n] {
		delete(s.conversations, c.id)
	}
	return n
}

// evictOldestLocked removes the least recently accessed conversation not held
// by an exchange in a single pass. s.mu must be held.
func (s *Store) evictOldestLocked() int {
	var (
		oldestID string
		oldest   time.Time
		found    bool
	)
	for id, c := range s.conversations {
		if c.holders > 0 {
			continue
		}
		if !found || c.lastAccess.Before(oldest) {
			oldestID, oldest, found = id, c.lastAccess, true
		}
	}
	if !found {
		return 0
	}
	delete(s.conversations, oldestID)
	return 1
}
