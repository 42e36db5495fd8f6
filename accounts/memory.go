package accounts

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process account table for tests and demos.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Account
	byEmail map[string]string
	now     func() time.Time
}

// NewMemoryStore returns a store seeded with accounts.
func NewMemoryStore(accounts ...Account) *MemoryStore {
	s := &MemoryStore{
		byID:    make(map[string]*Account),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
	for _, a := range accounts {
		s.Put(a)
	}
	return s
}

// Put inserts or replaces an account.
func (s *MemoryStore) Put(a Account) {
	a.Email = NormalizeEmail(a.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.byID[a.ID]; ok {
		delete(s.byEmail, prev.Email)
	}
	s.byID[a.ID] = &a
	s.byEmail[a.Email] = a.ID
}

// FindByEmail implements [Store].
func (s *MemoryStore) FindByEmail(_ context.Context, email string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return Account{}, ErrNotFound
	}
	return *s.byID[id], nil
}

// UpdatePasswordHash implements [Store].
func (s *MemoryStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	a.PasswordHash = hash
	a.PasswordChangedAt = s.now()
	return nil
}
