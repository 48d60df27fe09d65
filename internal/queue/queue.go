// Package queue implements the durable offline-action queue.
//
// The queue holds write actions performed while the network was down. A
// record exists from the moment Append commits until a drain cycle either
// replays it successfully (removed) or exhausts its delivery attempts
// (buried in the dead-letter table). There is no in-memory state: every
// operation goes to the backend, so the queue survives agent restarts by
// construction.
//
// Persistence is best-effort in one narrow sense: if the backend is
// unavailable at Append time, the caller gets an error and the action is
// lost. The application is told, rather than crashed.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rowanhq/backstop/internal/action"
)

// Backend is the storage capability the queue runs on. Implemented by
// *store.Store in production and by in-memory fakes in tests.
type Backend interface {
	AppendAction(ctx context.Context, actionType string, payload json.RawMessage, enqueuedAt time.Time) (int64, error)
	ListActions(ctx context.Context) ([]action.Record, error)
	RemoveAction(ctx context.Context, id int64) error
	IncrementAttempts(ctx context.Context, id int64) (int, error)
	BuryAction(ctx context.Context, id int64, failedAt time.Time, reason string) error
	ListDeadLetters(ctx context.Context) ([]action.DeadLetter, error)
}

// Queue is the durable offline-action queue.
type Queue struct {
	backend Backend
	now     func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the wall clock, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// New creates a queue over the given backend.
func New(backend Backend, opts ...Option) *Queue {
	q := &Queue{
		backend: backend,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Append persists one offline action and returns its assigned ID. The
// record has committed when Append returns; it survives process termination
// immediately afterwards.
//
// The payload must be valid JSON - it is replayed verbatim to the backend
// endpoint for the action type, and a payload that cannot be parsed could
// never produce a stable idempotency key.
func (q *Queue) Append(ctx context.Context, actionType string, payload json.RawMessage) (int64, error) {
	if actionType == "" {
		return 0, fmt.Errorf("append: empty action type")
	}
	if !json.Valid(payload) {
		return 0, fmt.Errorf("append %s: payload is not valid JSON", actionType)
	}

	id, err := q.backend.AppendAction(ctx, actionType, payload, q.now())
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", actionType, err)
	}
	return id, nil
}

// ListAll returns every pending record in insertion order. Order matters
// only for human debugging; the drain loop treats records independently.
func (q *Queue) ListAll(ctx context.Context) ([]action.Record, error) {
	return q.backend.ListActions(ctx)
}

// Remove deletes a record by ID. Idempotent: removing an already-removed
// ID is a no-op.
func (q *Queue) Remove(ctx context.Context, id int64) error {
	return q.backend.RemoveAction(ctx, id)
}

// MarkFailed records one failed delivery attempt and returns the new
// attempt count.
func (q *Queue) MarkFailed(ctx context.Context, id int64) (int, error) {
	return q.backend.IncrementAttempts(ctx, id)
}

// Bury moves a record to the dead-letter table with the failure reason.
func (q *Queue) Bury(ctx context.Context, id int64, reason string) error {
	return q.backend.BuryAction(ctx, id, q.now(), reason)
}

// ListDead returns buried records, oldest first.
func (q *Queue) ListDead(ctx context.Context) ([]action.DeadLetter, error) {
	return q.backend.ListDeadLetters(ctx)
}
