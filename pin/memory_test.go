package pin

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

const purposeForgot = "forgot_password"

func TestMemoryStoreScenario(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Store(ctx, "a@x.com", "123456", purposeForgot, 10*time.Minute); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	_, err := s.Verify(ctx, "a@x.com", "000000", purposeForgot)
	if !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if left, ok := AttemptsLeft(err); !ok || left != 4 {
		t.Fatalf("expected 4 attempts left, got %d (ok=%v)", left, ok)
	}

	res, err := s.Verify(ctx, "a@x.com", "123456", purposeForgot)
	if err != nil {
		t.Fatalf("expected correct code to verify, got %v", err)
	}
	if res.Record.Attempts != 2 || res.Record.Subject != "a@x.com" {
		t.Fatalf("unexpected consumed record: %+v", res.Record)
	}

	if _, err := s.Verify(ctx, "a@x.com", "123456", purposeForgot); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on reuse, got %v", err)
	}
}

func TestMemoryStoreWrongGuessesExhaustRecord(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Store(ctx, "b@x.com", "654321", purposeForgot, time.Minute); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	for i := 1; i <= DefaultMaxAttempts; i++ {
		_, err := s.Verify(ctx, "b@x.com", "111111", purposeForgot)
		left, ok := AttemptsLeft(err)
		if !ok {
			t.Fatalf("attempt %d: expected InvalidCodeError, got %v", i, err)
		}
		if left != DefaultMaxAttempts-i {
			t.Fatalf("attempt %d: expected %d left, got %d", i, DefaultMaxAttempts-i, left)
		}
	}

	if s.Len() != 0 {
		t.Fatalf("expected record removed after exhausting attempts, %d left", s.Len())
	}

	_, err := s.Verify(ctx, "b@x.com", "654321", purposeForgot)
	if errors.Is(err, ErrInvalidCode) || err == nil {
		t.Fatalf("expected NotFound/AttemptsExceeded after exhaustion, got %v", err)
	}
}

func TestMemoryStoreAttemptsExceededWithLowerBudget(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now), WithMaxAttempts(2))

	if _, err := s.Store(ctx, "c@x.com", "123456", purposeForgot, time.Minute); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// Simulate a record that already spent its budget.
	s.mu.Lock()
	s.records[recordKey{subject: "c@x.com", purpose: purposeForgot}].meta.Attempts = 2
	s.mu.Unlock()

	if _, err := s.Verify(ctx, "c@x.com", "123456", purposeForgot); !errors.Is(err, ErrAttemptsExceeded) {
		t.Fatalf("expected ErrAttemptsExceeded, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatal("expected exhausted record to be deleted")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))

	if _, err := s.Store(ctx, "d@x.com", "123456", purposeForgot, 0); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, err := s.Verify(ctx, "d@x.com", "123456", purposeForgot); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired for zero ttl, got %v", err)
	}

	if _, err := s.Store(ctx, "d@x.com", "123456", purposeForgot, 10*time.Minute); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	clock.Advance(10*time.Minute + time.Second)
	if _, err := s.Verify(ctx, "d@x.com", "123456", purposeForgot); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired after clock advance, got %v", err)
	}
	if _, err := s.Verify(ctx, "d@x.com", "123456", purposeForgot); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired record to be removed, got %v", err)
	}
}

func TestMemoryStoreOverwriteInvalidatesOldCode(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Store(ctx, "e@x.com", "111111", purposeForgot, time.Minute); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, err := s.Verify(ctx, "e@x.com", "000000", purposeForgot); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	rec, err := s.Store(ctx, "e@x.com", "222222", purposeForgot, time.Minute)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if rec.Attempts != 0 {
		t.Fatalf("expected attempts reset on overwrite, got %d", rec.Attempts)
	}

	if _, err := s.Verify(ctx, "e@x.com", "111111", purposeForgot); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected old code to be rejected, got %v", err)
	}
	if _, err := s.Verify(ctx, "e@x.com", "222222", purposeForgot); err != nil {
		t.Fatalf("expected new code to verify, got %v", err)
	}
}

func TestMemoryStoreKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	mustStore := func(subject, code, purpose string) {
		t.Helper()
		if _, err := s.Store(ctx, subject, code, purpose, time.Minute); err != nil {
			t.Fatalf("Store(%s,%s) failed: %v", subject, purpose, err)
		}
	}
	mustStore("a@x.com", "111111", purposeForgot)
	mustStore("b@x.com", "222222", purposeForgot)
	mustStore("a@x.com", "333333", "email_change")

	if _, err := s.Verify(ctx, "a@x.com", "222222", purposeForgot); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected cross-subject code to fail, got %v", err)
	}
	if _, err := s.Verify(ctx, "b@x.com", "222222", purposeForgot); err != nil {
		t.Fatalf("expected b@x.com to verify, got %v", err)
	}
	if _, err := s.Verify(ctx, "a@x.com", "333333", "email_change"); err != nil {
		t.Fatalf("expected purpose-scoped record to verify, got %v", err)
	}
	rec, err := s.Peek(ctx, "a@x.com", purposeForgot)
	if err != nil {
		t.Fatalf("Peek failed: %v", err)
	}
	if rec.Attempts != 1 {
		t.Fatalf("expected only one attempt recorded on a@x.com, got %d", rec.Attempts)
	}
}

func TestMemoryStoreRejectsEmptyKey(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Store(context.Background(), "", "123456", purposeForgot, time.Minute); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := s.Store(context.Background(), "a@x.com", "123456", "", time.Minute); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))

	for _, subject := range []string{"a", "b", "c"} {
		if _, err := s.Store(ctx, subject, "123456", purposeForgot, time.Minute); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}
	if _, err := s.Store(ctx, "d", "123456", purposeForgot, time.Hour); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	clock.Advance(2 * time.Minute)

	removed, err := s.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 live record, got %d", s.Len())
	}
	if _, err := s.Peek(ctx, "d", purposeForgot); err != nil {
		t.Fatalf("expected d to survive cleanup, got %v", err)
	}
}

func TestMemoryStoreConcurrentVerifyIsSingleUse(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(WithMaxAttempts(1000))

	if _, err := s.Store(ctx, "race@x.com", "424242", purposeForgot, time.Minute); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	var (
		wg      sync.WaitGroup
		success atomic.Int32
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Verify(ctx, "race@x.com", "424242", purposeForgot); err == nil {
				success.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := success.Load(); got != 1 {
		t.Fatalf("expected exactly one successful verify, got %d", got)
	}
}

func TestMemoryStoreConcurrentWrongGuessesRespectBudget(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Store(ctx, "bf@x.com", "424242", purposeForgot, time.Minute); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	var (
		wg      sync.WaitGroup
		invalid atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Verify(ctx, "bf@x.com", "000000", purposeForgot); errors.Is(err, ErrInvalidCode) {
				invalid.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := invalid.Load(); got != DefaultMaxAttempts {
		t.Fatalf("expected exactly %d graded guesses, got %d", DefaultMaxAttempts, got)
	}
}
