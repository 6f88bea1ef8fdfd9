package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Entity is the local copy of one remote object, written by the generic
// entity mapper.
type Entity struct {
	ModuleID    int64
	Target      string
	PayloadRef  string
	Payload     string
	PayloadHash string
	UpdatedAt   time.Time
}

// UpsertEntity writes an entity. Returns changed=false when a row with the
// same payload hash already exists, in which case nothing is written.
func (s *Store) UpsertEntity(ctx context.Context, e Entity) (changed bool, err error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (module_id, target, payload_ref, payload, payload_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(module_id, target) DO UPDATE SET
			payload_ref = excluded.payload_ref,
			payload = excluded.payload,
			payload_hash = excluded.payload_hash,
			updated_at = excluded.updated_at
		WHERE entities.payload_hash != excluded.payload_hash
		   OR entities.payload_ref != excluded.payload_ref
	`, e.ModuleID, e.Target, e.PayloadRef, e.Payload, e.PayloadHash, toNanos(s.now()))
	if err != nil {
		return false, fmt.Errorf("upsert entity %q: %w", e.Target, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert entity %q: rows affected: %w", e.Target, err)
	}
	return n > 0, nil
}

// DeleteEntity removes an entity. Returns false if it did not exist.
func (s *Store) DeleteEntity(ctx context.Context, moduleID int64, target string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM entities WHERE module_id = ? AND target = ?
	`, moduleID, target)
	if err != nil {
		return false, fmt.Errorf("delete entity %q: %w", target, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete entity %q: rows affected: %w", target, err)
	}
	return n > 0, nil
}

// GetEntity returns one entity. Returns ErrNotFound if it does not exist.
func (s *Store) GetEntity(ctx context.Context, moduleID int64, target string) (*Entity, error) {
	e := Entity{ModuleID: moduleID, Target: target}
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT payload_ref, payload, payload_hash, updated_at
		FROM entities
		WHERE module_id = ? AND target = ?
	`, moduleID, target).Scan(&e.PayloadRef, &e.Payload, &e.PayloadHash, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %q: %w", target, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get entity %q: %w", target, err)
	}
	e.UpdatedAt = fromNanos(updatedAt)
	return &e, nil
}
