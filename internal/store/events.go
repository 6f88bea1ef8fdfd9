package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/crossmedia/fourallportal/internal/model"
)

// ErrClaimLost is returned when finishing a claim that no longer belongs to
// the caller, typically because stale recovery put the event back in the queue.
var ErrClaimLost = errors.New("event claim lost")

// IngestEvent stores a received remote event as queued and advances the
// module cursor to its remote id, in one transaction.
//
// Uses ON CONFLICT(module_id, remote_id) DO NOTHING for idempotency - an event
// that was already received is not inserted again, but the cursor still moves
// past it. The cursor update uses MAX() so it can never decrease.
func (s *Store) IngestEvent(ctx context.Context, ev model.Event) (inserted bool, err error) {
	now := s.now()
	cursorAt := ev.RemoteAt
	if cursorAt.IsZero() {
		cursorAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("ingest event: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO events
		(module_id, remote_id, action, target, payload_ref, payload, status, received_at, remote_at)
		VALUES (?, ?, ?, ?, ?, ?, 'queued', ?, ?)
		ON CONFLICT(module_id, remote_id) DO NOTHING
	`,
		ev.ModuleID,
		ev.RemoteID,
		string(ev.Action),
		ev.Target,
		ev.PayloadRef,
		string(ev.Payload),
		toNanos(now),
		toNanos(ev.RemoteAt),
	)
	if err != nil {
		return false, fmt.Errorf("ingest event: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ingest event: rows affected: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE modules
		SET last_event_id = MAX(last_event_id, ?),
		    last_received_at = MAX(last_received_at, ?)
		WHERE id = ?
	`, ev.RemoteID, toNanos(cursorAt), ev.ModuleID)
	if err != nil {
		return false, fmt.Errorf("ingest event: advance cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("ingest event: commit: %w", err)
	}

	return rowsAffected > 0, nil
}

// CountProcessing returns the number of events currently claimed by a worker.
// This is the live thread count used for admission control.
func (s *Store) CountProcessing(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE processing = 1`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count processing: %w", err)
	}
	return count, nil
}

// ListQueued returns up to limit queued events, oldest received first.
// A nil moduleIDs selects all modules; an empty non-nil slice selects none.
// A limit <= 0 means no limit.
func (s *Store) ListQueued(ctx context.Context, moduleIDs []int64, limit int) ([]model.Event, error) {
	if moduleIDs != nil && len(moduleIDs) == 0 {
		return []model.Event{}, nil
	}

	query := eventColumns + ` WHERE status = 'queued'`
	args := []any{}
	if moduleIDs != nil {
		query += ` AND module_id IN (` + placeholders(len(moduleIDs)) + `)`
		for _, id := range moduleIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY received_at ASC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query queued events: %w", err)
	}
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queued events: %w", err)
	}
	return events, nil
}

// GetEvent returns one event by id.
func (s *Store) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	ev, err := scanEvent(s.db.QueryRowContext(ctx, eventColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &ev, nil
}

// ClaimEvent moves a queued event to processing under the given token.
// Returns false if the event is no longer queued (another worker won it).
func (s *Store) ClaimEvent(ctx context.Context, id int64, token string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE events
		SET status = 'processing', processing = 1, claim_token = ?, processing_started_at = ?
		WHERE id = ? AND status = 'queued'
	`, token, toNanos(s.now()), id)
	if err != nil {
		return false, fmt.Errorf("claim event %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim event %d: rows affected: %w", id, err)
	}
	return n == 1, nil
}

// CompleteEvent finishes a claim successfully.
// Returns ErrClaimLost if the event is not processing under token.
func (s *Store) CompleteEvent(ctx context.Context, id int64, token string) error {
	return s.finishClaim(ctx, id, token, model.StatusDone, "")
}

// FailEvent finishes a claim with an error message.
// Returns ErrClaimLost if the event is not processing under token.
func (s *Store) FailEvent(ctx context.Context, id int64, token, message string) error {
	return s.finishClaim(ctx, id, token, model.StatusError, message)
}

func (s *Store) finishClaim(ctx context.Context, id int64, token string, status model.EventStatus, message string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE events
		SET status = ?, processing = 0, message = ?, processed_at = ?
		WHERE id = ? AND claim_token = ? AND status = 'processing'
	`, string(status), message, toNanos(s.now()), id, token)
	if err != nil {
		return fmt.Errorf("mark event %d %s: %w", id, status, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark event %d %s: rows affected: %w", id, status, err)
	}
	if n == 0 {
		return fmt.Errorf("mark event %d %s: %w", id, status, ErrClaimLost)
	}
	return nil
}

// ReleaseClaim puts a claimed event back into the queue untouched.
// Used when a run aborts before the event could be applied.
func (s *Store) ReleaseClaim(ctx context.Context, id int64, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE events
		SET status = 'queued', processing = 0, claim_token = '', processing_started_at = 0
		WHERE id = ? AND claim_token = ? AND status = 'processing'
	`, id, token)
	if err != nil {
		return fmt.Errorf("release event %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("release event %d: rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("release event %d: %w", id, ErrClaimLost)
	}
	return nil
}

// RequeueStale returns processing events claimed before cutoff to the queue.
// Their claim tokens are cleared, so a late finish by the original worker
// fails with ErrClaimLost instead of clearing the flag a second time.
func (s *Store) RequeueStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE events
		SET status = 'queued', processing = 0, claim_token = '', processing_started_at = 0
		WHERE status = 'processing' AND processing_started_at < ?
	`, toNanos(cutoff))
	if err != nil {
		return 0, fmt.Errorf("requeue stale events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue stale events: rows affected: %w", err)
	}
	return n, nil
}

// RequeueErrors moves failed events back to the queue for another attempt.
// A nil moduleIDs selects all modules.
func (s *Store) RequeueErrors(ctx context.Context, moduleIDs []int64) (int64, error) {
	if moduleIDs != nil && len(moduleIDs) == 0 {
		return 0, nil
	}

	query := `
		UPDATE events
		SET status = 'queued', processing = 0, claim_token = '', message = '',
		    processing_started_at = 0, processed_at = 0
		WHERE status = 'error'`
	args := []any{}
	if moduleIDs != nil {
		query += ` AND module_id IN (` + placeholders(len(moduleIDs)) + `)`
		for _, id := range moduleIDs {
			args = append(args, id)
		}
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("requeue errors: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue errors: rows affected: %w", err)
	}
	return n, nil
}

// CountByStatus returns the number of events per status.
// Every status is present in the result, zero counts included.
func (s *Store) CountByStatus(ctx context.Context) (map[model.EventStatus]int, error) {
	counts := make(map[model.EventStatus]int, len(model.Statuses))
	for _, st := range model.Statuses {
		counts[st] = 0
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[model.EventStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event counts: %w", err)
	}
	return counts, nil
}

const eventColumns = `
		SELECT id, module_id, remote_id, action, target, payload_ref, payload, status, processing,
		       claim_token, message, received_at, remote_at, processing_started_at, processed_at
		FROM events`

func scanEvent(row rowScanner) (model.Event, error) {
	var ev model.Event
	var action, status, payload string
	var processing int
	var receivedAt, remoteAt, startedAt, processedAt int64
	err := row.Scan(
		&ev.ID,
		&ev.ModuleID,
		&ev.RemoteID,
		&action,
		&ev.Target,
		&ev.PayloadRef,
		&payload,
		&status,
		&processing,
		&ev.ClaimToken,
		&ev.Message,
		&receivedAt,
		&remoteAt,
		&startedAt,
		&processedAt,
	)
	if err != nil {
		return ev, err
	}
	ev.Action = model.Action(action)
	ev.Status = model.EventStatus(status)
	ev.Processing = processing != 0
	if payload != "" {
		ev.Payload = []byte(payload)
	}
	ev.ReceivedAt = fromNanos(receivedAt)
	ev.RemoteAt = fromNanos(remoteAt)
	ev.ProcessingStartedAt = fromNanos(startedAt)
	ev.ProcessedAt = fromNanos(processedAt)
	return ev, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
