// Package store is the durable backing for the Budget Tracker (component
// C3): a small key/value abstraction with optimistic concurrency, grounded
// on the teacher's llm/idempotency/manager.go Redis-and-in-memory split.
// Values are opaque JSON blobs; budget.Tracker is responsible for encoding
// and decoding the PeriodUsage documents it stores here (per-run state is
// held in the Tracker's memory, not in the store).
package store

import (
	"context"
	"time"

	"github.com/costguard/costguard/ctlerrors"
)

// Record is one stored value together with the metadata optimistic
// concurrency needs: Version increments on every successful write, and a
// write whose ExpectedVersion doesn't match the stored Version is rejected
// so a concurrent writer's in-flight update is never silently clobbered.
type Record struct {
	Value    []byte
	Version  int64
	ExpireAt time.Time
}

// Store is the interface the Budget Tracker programs against. Every method
// that can race with another writer is a single atomic operation from the
// caller's point of view.
type Store interface {
	// Get returns the current record for key, or ok=false if it does not
	// exist or has expired.
	Get(ctx context.Context, key string) (rec *Record, ok bool, err error)

	// CompareAndSwap stores value at key if the stored record's Version
	// equals expectedVersion (0 meaning "key must not currently exist" or
	// "currently expired"). It returns the new version on success.
	CompareAndSwap(ctx context.Context, key string, value []byte, expectedVersion int64, expireAt time.Time) (newVersion int64, err error)

	// Keys returns every key matching a store-specific glob pattern, for
	// inspection tooling (spec §4.3's list_budgets); nothing in this module
	// calls it outside the store tests.
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// ErrVersionConflict is returned by CompareAndSwap when expectedVersion does
// not match the record currently stored at key.
var ErrVersionConflict = ctlerrors.New(ctlerrors.ErrStoreUnavailable, "store: version conflict").WithRetryable(true)

// ErrNotFound is returned by CompareAndSwap when expectedVersion is nonzero
// but no record (or an expired one) is stored at key.
var ErrNotFound = ctlerrors.New(ctlerrors.ErrStoreUnavailable, "store: key not found")
