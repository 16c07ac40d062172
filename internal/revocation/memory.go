package revocation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryStore holds tokens in a map protected by a RWMutex. A janitor goroutine started by
// Start drops expired entries every SweepInterval. Tokens do not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time

	stop chan struct{}
	once sync.Once
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

func (m *MemoryStore) Issue(_ context.Context, e Entry) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	e.ExpiresAt = m.now().Add(TTL)

	m.mu.Lock()
	m.entries[token] = e
	m.mu.Unlock()
	return token, nil
}

func (m *MemoryStore) Validate(_ context.Context, token string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[token]
	if !ok || m.now().After(e.ExpiresAt) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Sweep removes expired entries and returns how many were dropped.
func (m *MemoryStore) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if now.After(e.ExpiresAt) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of tokens currently held, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Start runs the janitor until Close is called.
func (m *MemoryStore) Start() {
	go m.janitor(SweepInterval)
}

func (m *MemoryStore) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				slog.Debug("pruned expired revocation tokens", "count", n)
			}
		case <-m.stop:
			return
		}
	}
}

// Close stops the janitor.
func (m *MemoryStore) Close() {
	m.once.Do(func() { close(m.stop) })
}
