package pin

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisRecordVersionV1 = 1
	defaultRedisPrefix   = "pin"
	maxTxRetries         = 4
	scanBatch            = 256

	// Native key TTL outlives the logical expiry so Verify can still report ErrExpired
	// instead of ErrNotFound; the sweep or Redis removes the key afterwards.
	redisExpiryGrace = 30 * time.Second
)

var errCorruptRecord = errors.New("pin: corrupt record")

// RedisStore keeps PIN records in Redis so several processes share one view.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	opts   options
}

// NewRedisStore creates a Redis-backed store. An empty prefix defaults to "pin".
func NewRedisStore(client redis.UniversalClient, prefix string, opts ...Option) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		redis:  client,
		prefix: prefix,
		opts:   buildOptions(opts),
	}
}

// key is prefix:<len(purpose)>:purpose:subject. The length makes the mapping
// injective even when subject or purpose contain ':'.
func (s *RedisStore) key(subject, purpose string) string {
	return s.prefix + ":" + strconv.Itoa(len(purpose)) + ":" + purpose + ":" + subject
}

type redisRecord struct {
	meta   Record
	secret [32]byte
}

func (r *redisRecord) belongsTo(subject, purpose string) bool {
	return r.meta.Subject == subject && r.meta.Purpose == purpose
}

// Store creates or replaces the record for (subject, purpose).
func (s *RedisStore) Store(ctx context.Context, subject, code, purpose string, ttl time.Duration) (Record, error) {
	if subject == "" || purpose == "" {
		return Record{}, ErrInvalidKey
	}

	ttl = normalizeTTL(ttl)
	now := s.opts.now()
	rec := &redisRecord{
		meta: Record{
			Subject:     subject,
			Purpose:     purpose,
			CreatedAt:   now,
			ExpiresAt:   now.Add(ttl),
			MaxAttempts: s.opts.maxAttempts,
		},
		secret: hashCode(code),
	}

	encoded, err := encodeRedisRecord(rec)
	if err != nil {
		return Record{}, err
	}

	if err := s.redis.Set(ctx, s.key(subject, purpose), encoded, ttl+redisExpiryGrace).Err(); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return rec.meta, nil
}

// Verify checks code against the live record inside a WATCH transaction and retries on
// contention, so concurrent callers never both consume the same PIN.
func (s *RedisStore) Verify(ctx context.Context, subject, code, purpose string) (VerifyResult, error) {
	key := s.key(subject, purpose)

	for i := 0; i < maxTxRetries; i++ {
		var matched *redisRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrNotFound
				}
				return err
			}

			rec, err := decodeRedisRecord(data)
			if err != nil {
				return err
			}
			if !rec.belongsTo(subject, purpose) {
				return ErrNotFound
			}

			now := s.opts.now()
			if expired(now, rec.meta.ExpiresAt) {
				if err := deleteInTx(ctx, tx, key); err != nil {
					return err
				}
				return ErrExpired
			}

			if rec.meta.Attempts >= rec.meta.MaxAttempts {
				if err := deleteInTx(ctx, tx, key); err != nil {
					return err
				}
				return ErrAttemptsExceeded
			}

			rec.meta.Attempts++

			if !codesEqual(rec.secret, code) {
				left := rec.meta.AttemptsLeft()
				if left == 0 {
					if err := deleteInTx(ctx, tx, key); err != nil {
						return err
					}
					return &InvalidCodeError{AttemptsLeft: 0}
				}

				updated, err := encodeRedisRecord(rec)
				if err != nil {
					return err
				}
				ttl := rec.meta.ExpiresAt.Sub(now) + redisExpiryGrace
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return &InvalidCodeError{AttemptsLeft: left}
			}

			if err := deleteInTx(ctx, tx, key); err != nil {
				return err
			}
			matched = rec
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return VerifyResult{}, mapRedisError(err)
		}

		return VerifyResult{Record: matched.meta}, nil
	}

	return VerifyResult{}, fmt.Errorf("%w: verify contention", ErrUnavailable)
}

// Peek returns record metadata without consuming an attempt. An expired record is
// deleted and reported as ErrNotFound.
func (s *RedisStore) Peek(ctx context.Context, subject, purpose string) (Record, error) {
	key := s.key(subject, purpose)
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	rec, err := decodeRedisRecord(data)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !rec.belongsTo(subject, purpose) {
		return Record{}, ErrNotFound
	}
	if expired(s.opts.now(), rec.meta.ExpiresAt) {
		if _, err := s.deleteIfExpired(ctx, key); err != nil {
			return Record{}, err
		}
		return Record{}, ErrNotFound
	}
	return rec.meta, nil
}

// CleanupExpired scans the store's keyspace and deletes records whose logical expiry passed.
func (s *RedisStore) CleanupExpired(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	pattern := s.prefix + ":*"

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		for _, key := range keys {
			ok, err := s.deleteIfExpired(ctx, key)
			if err != nil {
				return removed, err
			}
			if ok {
				removed++
			}
		}

		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (s *RedisStore) deleteIfExpired(ctx context.Context, key string) (bool, error) {
	var deleted bool

	err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		rec, err := decodeRedisRecord(data)
		if err != nil {
			// Unreadable records can never verify.
			deleted = true
			return deleteInTx(ctx, tx, key)
		}
		if !expired(s.opts.now(), rec.meta.ExpiresAt) {
			return nil
		}
		deleted = true
		return deleteInTx(ctx, tx, key)
	}, key)

	switch {
	case err == nil:
		return deleted, nil
	case errors.Is(err, redis.Nil), errors.Is(err, redis.TxFailedErr):
		return false, nil
	case isWrongType(err):
		// Some other structure shares the prefix; it is not a PIN record.
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func isWrongType(err error) bool {
	var rerr redis.Error
	return errors.As(err, &rerr) && strings.HasPrefix(rerr.Error(), "WRONGTYPE")
}

func deleteInTx(ctx context.Context, tx *redis.Tx, key string) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

func mapRedisError(err error) error {
	var ice *InvalidCodeError
	switch {
	case errors.As(err, &ice):
		return ice
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrExpired), errors.Is(err, ErrAttemptsExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func encodeRedisRecord(rec *redisRecord) ([]byte, error) {
	if len(rec.meta.Subject) > 65535 || len(rec.meta.Purpose) > 65535 {
		return nil, errors.New("pin: record key too long")
	}
	if rec.meta.Attempts < 0 || rec.meta.Attempts > 65535 || rec.meta.MaxAttempts < 0 || rec.meta.MaxAttempts > 65535 {
		return nil, errors.New("pin: attempt counters out of range")
	}

	var buf bytes.Buffer
	buf.WriteByte(redisRecordVersionV1)

	fields := []any{
		uint16(rec.meta.Attempts),
		uint16(rec.meta.MaxAttempts),
		rec.meta.CreatedAt.UnixNano(),
		rec.meta.ExpiresAt.UnixNano(),
		uint16(len(rec.meta.Subject)),
	}
	for _, f := range fields {
		if err := binary.Write(&buf, binary.BigEndian, f); err != nil {
			return nil, err
		}
	}
	buf.WriteString(rec.meta.Subject)

	if err := binary.Write(&buf, binary.BigEndian, uint16(len(rec.meta.Purpose))); err != nil {
		return nil, err
	}
	buf.WriteString(rec.meta.Purpose)
	buf.Write(rec.secret[:])

	return buf.Bytes(), nil
}

func decodeRedisRecord(data []byte) (*redisRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}
	if version != redisRecordVersionV1 {
		return nil, fmt.Errorf("%w: unknown version %d", errCorruptRecord, version)
	}

	var (
		attempts, maxAttempts uint16
		createdAt, expiresAt  int64
	)
	for _, f := range []any{&attempts, &maxAttempts, &createdAt, &expiresAt} {
		if err := binary.Read(reader, binary.BigEndian, f); err != nil {
			return nil, errCorruptRecord
		}
	}

	subject, err := readString(reader)
	if err != nil {
		return nil, err
	}
	purpose, err := readString(reader)
	if err != nil {
		return nil, err
	}

	rec := &redisRecord{
		meta: Record{
			Subject:     subject,
			Purpose:     purpose,
			CreatedAt:   time.Unix(0, createdAt),
			ExpiresAt:   time.Unix(0, expiresAt),
			Attempts:    int(attempts),
			MaxAttempts: int(maxAttempts),
		},
	}
	if _, err := io.ReadFull(reader, rec.secret[:]); err != nil {
		return nil, errCorruptRecord
	}

	return rec, nil
}

func readString(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", errCorruptRecord
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", errCorruptRecord
	}
	return string(raw), nil
}
