package store

import (
	"context"
	"fmt"
	"time"
)

// AcquireLock takes the named lock for owner until ttl elapses.
// Returns false if another owner holds an unexpired lock. Re-acquiring a lock
// already held by owner extends it.
//
// The insert and the takeover of an expired lock are one UPSERT statement, so
// two processes racing for the same name cannot both succeed.
func (s *Store) AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	now := s.now()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO locks (name, owner, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			owner = excluded.owner,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE locks.expires_at <= ? OR locks.owner = excluded.owner
	`, name, owner, toNanos(now), toNanos(now.Add(ttl)), toNanos(now))
	if err != nil {
		return false, fmt.Errorf("acquire lock %q: %w", name, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock %q: rows affected: %w", name, err)
	}
	return n > 0, nil
}

// ReleaseLock drops the named lock if owner holds it.
// Returns false if the lock was not held by owner.
func (s *Store) ReleaseLock(ctx context.Context, name, owner string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM locks WHERE name = ? AND owner = ?
	`, name, owner)
	if err != nil {
		return false, fmt.Errorf("release lock %q: %w", name, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release lock %q: rows affected: %w", name, err)
	}
	return n > 0, nil
}

// RefreshLock moves the expiry of a lock owner still holds to now+ttl.
// Returns false if the lock expired and was taken over, or was released.
func (s *Store) RefreshLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	now := s.now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE locks SET expires_at = ?
		WHERE name = ? AND owner = ?
	`, toNanos(now.Add(ttl)), name, owner)
	if err != nil {
		return false, fmt.Errorf("refresh lock %q: %w", name, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("refresh lock %q: rows affected: %w", name, err)
	}
	return n > 0, nil
}
