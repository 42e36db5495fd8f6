package pin

import (
	"context"
	"sync"
	"time"
)

type recordKey struct {
	subject string
	purpose string
}

type memoryRecord struct {
	meta   Record
	secret [32]byte
}

// MemoryStore keeps PIN records in process memory. All operations take the same mutex, so
// verification, replacement and sweeping of one key never interleave.
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]*memoryRecord
	opts    options
}

// NewMemoryStore creates an empty in-memory PIN store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		records: make(map[recordKey]*memoryRecord),
		opts:    buildOptions(opts),
	}
}

// Store creates or replaces the record for (subject, purpose).
func (s *MemoryStore) Store(_ context.Context, subject, code, purpose string, ttl time.Duration) (Record, error) {
	if subject == "" || purpose == "" {
		return Record{}, ErrInvalidKey
	}

	now := s.opts.now()
	rec := &memoryRecord{
		meta: Record{
			Subject:     subject,
			Purpose:     purpose,
			CreatedAt:   now,
			ExpiresAt:   now.Add(normalizeTTL(ttl)),
			MaxAttempts: s.opts.maxAttempts,
		},
		secret: hashCode(code),
	}

	s.mu.Lock()
	s.records[recordKey{subject: subject, purpose: purpose}] = rec
	s.mu.Unlock()

	return rec.meta, nil
}

// Verify checks code against the live record for (subject, purpose).
func (s *MemoryStore) Verify(_ context.Context, subject, code, purpose string) (VerifyResult, error) {
	key := recordKey{subject: subject, purpose: purpose}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return VerifyResult{}, ErrNotFound
	}

	if expired(s.opts.now(), rec.meta.ExpiresAt) {
		delete(s.records, key)
		return VerifyResult{}, ErrExpired
	}

	if rec.meta.Attempts >= rec.meta.MaxAttempts {
		delete(s.records, key)
		return VerifyResult{}, ErrAttemptsExceeded
	}

	rec.meta.Attempts++

	if !codesEqual(rec.secret, code) {
		left := rec.meta.AttemptsLeft()
		if left == 0 {
			delete(s.records, key)
		}
		return VerifyResult{}, &InvalidCodeError{AttemptsLeft: left}
	}

	delete(s.records, key)
	return VerifyResult{Record: rec.meta}, nil
}

// Peek returns the record metadata. Expired records are evicted and reported as not found.
func (s *MemoryStore) Peek(_ context.Context, subject, purpose string) (Record, error) {
	key := recordKey{subject: subject, purpose: purpose}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	if expired(s.opts.now(), rec.meta.ExpiresAt) {
		delete(s.records, key)
		return Record{}, ErrNotFound
	}
	return rec.meta, nil
}

// CleanupExpired removes all expired records.
func (s *MemoryStore) CleanupExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.now()
	removed := 0
	for key, rec := range s.records {
		if expired(now, rec.meta.ExpiresAt) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of records currently held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
