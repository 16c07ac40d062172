// Package mock provides an in-memory credstore.Syncer for tests.
package mock

import (
	"context"
	"sync"
)

// Syncer records the broker accounts it has been asked to write.
type Syncer struct {
	mu        sync.Mutex
	accounts  map[string]string
	SyncErr   error
	RemoveErr error
	Syncs     int
	Removes   int
	Reloads   int
}

func NewSyncer() *Syncer {
	return &Syncer{accounts: make(map[string]string)}
}

func (s *Syncer) SyncDevice(_ context.Context, username, password string, triggerReload bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Syncs++
	if s.SyncErr != nil {
		return s.SyncErr
	}
	s.accounts[username] = password
	if triggerReload {
		s.Reloads++
	}
	return nil
}

func (s *Syncer) RemoveDevice(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Removes++
	if s.RemoveErr != nil {
		return s.RemoveErr
	}
	delete(s.accounts, username)
	return nil
}

// Password returns the synced password for username.
func (s *Syncer) Password(username string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.accounts[username]
	return p, ok
}

// SetSyncErr changes the injected sync error under the lock.
func (s *Syncer) SetSyncErr(err error) {
	s.mu.Lock()
	s.SyncErr = err
	s.mu.Unlock()
}
