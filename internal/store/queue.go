package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rowanhq/backstop/internal/action"
)

// AppendAction durably persists a queued action and returns its assigned ID.
// The INSERT has committed by the time this returns; a process crash
// immediately afterwards does not lose the record.
func (s *Store) AppendAction(ctx context.Context, actionType string, payload json.RawMessage, enqueuedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO actions (type, payload, enqueued_at, attempts)
		VALUES (?, ?, ?, 0)
	`, actionType, string(payload), enqueuedAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("append action: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append action: last insert id: %w", err)
	}
	return id, nil
}

// ListActions returns every pending action in insertion order.
// Returns an empty slice (not nil) when the queue is empty.
func (s *Store) ListActions(ctx context.Context) ([]action.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, payload, enqueued_at, attempts
		FROM actions
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var records []action.Record
	for rows.Next() {
		rec, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}

	if records == nil {
		records = []action.Record{}
	}
	return records, nil
}

// RemoveAction deletes a single action by ID. Idempotent: removing an
// already-removed ID is a no-op, not an error. This is what makes record
// removal safe under concurrent drains.
func (s *Store) RemoveAction(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM actions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove action %d: %w", id, err)
	}
	return nil
}

// IncrementAttempts bumps the failed-delivery counter for an action and
// returns the new count. Returns 0 with no error if the record no longer
// exists (a concurrent drain may have removed it).
func (s *Store) IncrementAttempts(ctx context.Context, id int64) (int, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE actions SET attempts = attempts + 1 WHERE id = ?
	`, id)
	if err != nil {
		return 0, fmt.Errorf("increment attempts for %d: %w", id, err)
	}

	var attempts int
	err = s.db.QueryRowContext(ctx, `
		SELECT attempts FROM actions WHERE id = ?
	`, id).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read attempts for %d: %w", id, err)
	}
	return attempts, nil
}

// BuryAction moves an action to the dead-letter table in a single
// transaction: either the record is fully buried or it stays pending.
// Burying an already-removed action is a no-op.
func (s *Store) BuryAction(ctx context.Context, id int64, failedAt time.Time, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bury action %d: begin: %w", id, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO dead_letters (id, type, payload, enqueued_at, failed_at, reason)
		SELECT id, type, payload, enqueued_at, ?, ?
		FROM actions WHERE id = ?
		ON CONFLICT(id) DO NOTHING
	`, failedAt.UnixMilli(), reason, id)
	if err != nil {
		return fmt.Errorf("bury action %d: insert: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Record already gone (or already buried); nothing to move.
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM actions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("bury action %d: delete: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("bury action %d: commit: %w", id, err)
	}
	return nil
}

// ListDeadLetters returns buried actions in burial order.
func (s *Store) ListDeadLetters(ctx context.Context) ([]action.DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, payload, enqueued_at, failed_at, reason
		FROM dead_letters
		ORDER BY failed_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []action.DeadLetter
	for rows.Next() {
		var (
			dl         action.DeadLetter
			payload    string
			enqueuedAt int64
			failedAt   int64
		)
		if err := rows.Scan(&dl.ID, &dl.Type, &payload, &enqueuedAt, &failedAt, &dl.Reason); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		dl.Payload = json.RawMessage(payload)
		dl.EnqueuedAt = time.UnixMilli(enqueuedAt)
		dl.FailedAt = time.UnixMilli(failedAt)
		letters = append(letters, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}

	if letters == nil {
		letters = []action.DeadLetter{}
	}
	return letters, nil
}

func scanAction(rows *sql.Rows) (action.Record, error) {
	var (
		rec        action.Record
		payload    string
		enqueuedAt int64
	)
	if err := rows.Scan(&rec.ID, &rec.Type, &payload, &enqueuedAt, &rec.Attempts); err != nil {
		return action.Record{}, fmt.Errorf("scan action: %w", err)
	}
	rec.Payload = json.RawMessage(payload)
	rec.EnqueuedAt = time.UnixMilli(enqueuedAt)
	return rec, nil
}
