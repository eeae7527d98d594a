package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/costguard/costguard/llm/retry"
)

// wireRecord is the JSON envelope stored under each Redis key. Keeping
// Version alongside Value in the same string lets CompareAndSwap use
// Redis's own WATCH/MULTI/EXEC optimistic-transaction primitive instead of
// a separate version key, grounded on the teacher's
// llm/idempotency/manager.go redisManager (same client, same
// marshal-then-SET-with-TTL shape).
type wireRecord struct {
	Value   []byte `json:"value"`
	Version int64  `json:"version"`
}

// RedisStore is a Store backed by Redis, with bounded-retry optimistic
// concurrency via the retained llm/retry backoff retryer (spec §5: at most
// 3 retries before surfacing ctlerrors.ErrStoreUnavailable to the caller).
type RedisStore struct {
	client  *redis.Client
	retryer retry.Retryer
}

// NewRedisStore returns a RedisStore. If retryer is nil, CompareAndSwap makes
// a single attempt and returns ErrVersionConflict without retrying; pass
// NewDefaultRetryer for retry.DefaultRetryPolicy (3 retries, exponential
// backoff with jitter).
func NewRedisStore(client *redis.Client, retryer retry.Retryer) *RedisStore {
	return &RedisStore{client: client, retryer: retryer}
}

// NewDefaultRetryer returns the retryer CompareAndSwap retries with when
// the caller doesn't supply one of its own: retry.DefaultRetryPolicy (3
// retries, so 4 attempts, exponential backoff with jitter) restricted to
// ErrVersionConflict, since a genuine ErrNotFound or transport error should
// surface immediately rather than being retried blindly.
func NewDefaultRetryer(logger *zap.Logger) retry.Retryer {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := retry.DefaultRetryPolicy()
	policy.RetryableErrors = []error{ErrVersionConflict}
	return retry.NewBackoffRetryer(policy, logger)
}

func decodeWire(raw []byte, expireAt time.Time) *Record {
	var w wireRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil
	}
	return &Record{Value: w.Value, Version: w.Version, ExpireAt: expireAt}
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, key string) (*Record, bool, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return nil, false, err
	}
	expireAt := time.Time{}
	if ttl > 0 {
		expireAt = time.Now().Add(ttl)
	}
	rec := decodeWire(raw, expireAt)
	if rec == nil {
		return nil, false, nil
	}
	return rec, true, nil
}

// CompareAndSwap implements Store using a Redis WATCH/MULTI/EXEC
// transaction so the read-version-check-write sequence is atomic across
// concurrent writers to the same key.
func (r *RedisStore) CompareAndSwap(ctx context.Context, key string, value []byte, expectedVersion int64, expireAt time.Time) (int64, error) {
	var newVersion int64

	attempt := func() error {
		txErr := r.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, getErr := tx.Get(ctx, key).Bytes()
			exists := true
			if errors.Is(getErr, redis.Nil) {
				exists = false
			} else if getErr != nil {
				return getErr
			}

			var currentVersion int64
			if exists {
				var w wireRecord
				if err := json.Unmarshal(raw, &w); err != nil {
					return err
				}
				currentVersion = w.Version
			}

			if expectedVersion == 0 {
				if exists {
					return ErrVersionConflict
				}
			} else {
				if !exists {
					return ErrNotFound
				}
				if currentVersion != expectedVersion {
					return ErrVersionConflict
				}
			}

			newVersion = currentVersion + 1
			encoded, err := json.Marshal(wireRecord{Value: value, Version: newVersion})
			if err != nil {
				return err
			}

			var ttl time.Duration
			if !expireAt.IsZero() {
				ttl = time.Until(expireAt)
				if ttl <= 0 {
					ttl = time.Millisecond
				}
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(txErr, redis.TxFailedErr) {
			return ErrVersionConflict
		}
		return txErr
	}

	if r.retryer == nil {
		if err := attempt(); err != nil {
			return 0, err
		}
		return newVersion, nil
	}

	_, err := r.retryer.DoWithResult(ctx, func() (any, error) {
		return nil, attempt()
	})
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

// Keys implements Store using Redis SCAN so large keyspaces aren't blocked
// by a single KEYS call.
func (r *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
