package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryLock is a held session-scoped Postgres advisory lock. Unlike every
// other method on Store, this one needs a single connection kept open for
// the lifetime of the lock: pg_advisory_lock/pg_advisory_unlock are
// session-scoped, and pgxpool hands different physical connections to
// different Exec calls, so the lock must be acquired and released on the
// same *pgxpool.Conn rather than through the pool's Exec/Query helpers.
type AdvisoryLock struct {
	conn *pgxpool.Conn
	key  int64
}

// AdvisoryLockKey hashes a lock name (e.g. "case:{case_id}") down to the
// int64 pg_advisory_lock expects, the same FNV-1a-based derivation
// internal/graph uses for thread-seeded randomness, reused here because
// Postgres advisory locks take a single bigint rather than an arbitrary key.
func AdvisoryLockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64() >> 1)
}

// AcquireAdvisoryLock blocks until the named lock is held, checking ctx
// cancellation between attempts. Postgres has no context-aware blocking
// lock call, so this polls pg_try_advisory_lock rather than calling the
// blocking pg_advisory_lock directly, which would ignore ctx entirely.
func (s *Store) AcquireAdvisoryLock(ctx context.Context, name string) (*AdvisoryLock, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: acquire advisory lock %s: get conn: %w", name, err)
	}
	key := AdvisoryLockKey(name)

	for {
		var acquired bool
		if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
			conn.Release()
			return nil, fmt.Errorf("store: acquire advisory lock %s: %w", name, err)
		}
		if acquired {
			return &AdvisoryLock{conn: conn, key: key}, nil
		}
		select {
		case <-ctx.Done():
			conn.Release()
			return nil, fmt.Errorf("store: acquire advisory lock %s: %w", name, ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// TryAcquireAdvisoryLock attempts the lock once and returns ok=false
// immediately if another session holds it. It is the non-blocking
// variant; with_case_lock goes through AcquireAdvisoryLock, bounded by
// the lock manager's LockTimeout.
func (s *Store) TryAcquireAdvisoryLock(ctx context.Context, name string) (*AdvisoryLock, bool, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("store: try advisory lock %s: get conn: %w", name, err)
	}
	key := AdvisoryLockKey(name)

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("store: try advisory lock %s: %w", name, err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}
	return &AdvisoryLock{conn: conn, key: key}, true, nil
}

// Release unlocks and returns the underlying connection to the pool.
func (l *AdvisoryLock) Release(ctx context.Context) error {
	defer l.conn.Release()
	if _, err := l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, l.key); err != nil {
		return fmt.Errorf("store: release advisory lock: %w", err)
	}
	return nil
}
