package console

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ssoconsole/internal/platform/metrics"
	"ssoconsole/internal/sso"
)

// ErrSessionNotFound is returned when a sid has no live entry, either because
// it never existed or because the sweeper evicted it.
var ErrSessionNotFound = errors.New("console: session not found")

// entry pairs a backend client with the last time its browser was seen.
type entry struct {
	client   *sso.Client
	lastSeen time.Time
}

// Store maps browser session ids to backend clients. Tokens never reach the
// browser; the sid cookie is the only credential it holds, and everything it
// references lives here in memory.
type Store struct {
	ttl     time.Duration
	factory func(userAgent string) *sso.Client
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewStore builds a Store. factory mints one backend client per browser
// session, bound to that browser's User-Agent, so token state is never shared
// across users and the backend's device records see the real browser.
func NewStore(ttl time.Duration, factory func(userAgent string) *sso.Client, logger *slog.Logger, m *metrics.Metrics) *Store {
	return &Store{
		ttl:     ttl,
		factory: factory,
		logger:  logger,
		metrics: m,
		entries: make(map[string]*entry),
	}
}

// Create mints a new session id with a fresh backend client carrying the
// browser's User-Agent.
func (s *Store) Create(userAgent string) (string, *sso.Client) {
	sid := uuid.NewString()
	c := s.factory(userAgent)

	s.mu.Lock()
	s.entries[sid] = &entry{client: c, lastSeen: time.Now()}
	n := len(s.entries)
	s.mu.Unlock()

	s.metrics.SetActiveSessions(n)
	return sid, c
}

// Get returns the client for sid and marks the session as seen.
func (s *Store) Get(sid string) (*sso.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[sid]
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.lastSeen = time.Now()
	return e.client, nil
}

// Delete drops the session. Deleting an unknown sid is a no-op.
func (s *Store) Delete(sid string) {
	s.mu.Lock()
	delete(s.entries, sid)
	n := len(s.entries)
	s.mu.Unlock()

	s.metrics.SetActiveSessions(n)
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Run sweeps idle sessions until ctx is done. Eviction is purely local; the
// backend learns about it the next time the refresh token goes unused long
// enough to expire on its own.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := s.sweep(time.Now()); evicted > 0 {
				s.logger.InfoContext(ctx, "evicted idle sessions", "count", evicted)
			}
		}
	}
}

func (s *Store) sweep(now time.Time) int {
	s.mu.Lock()
	evicted := 0
	for sid, e := range s.entries {
		if now.Sub(e.lastSeen) > s.ttl {
			delete(s.entries, sid)
			evicted++
		}
	}
	n := len(s.entries)
	s.mu.Unlock()

	s.metrics.SetActiveSessions(n)
	return evicted
}
