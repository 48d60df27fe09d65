package syncer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rowanhq/backstop/internal/action"
	"github.com/rowanhq/backstop/internal/queue"
	"github.com/rowanhq/backstop/internal/routes"
)

// State is the syncer's drain state.
type State int

const (
	// StateIdle means no drain cycle is running.
	StateIdle State = iota
	// StateDraining means a drain cycle is in progress.
	StateDraining
)

// Doer performs the replay HTTP calls. Satisfied by *http.Client.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Report summarizes one drain cycle.
type Report struct {
	// Cycle is a UUIDv7 token correlating log lines of one cycle.
	Cycle string `json:"cycle"`

	// Pending is how many records the cycle started with.
	Pending int `json:"pending"`

	// Replayed counts records delivered and removed.
	Replayed int `json:"replayed"`

	// Retried counts records left in place for the next cycle.
	Retried int `json:"retried"`

	// Buried counts records moved to the dead-letter table.
	Buried int `json:"buried"`
}

// Syncer replays queued offline actions against the backend.
type Syncer struct {
	queue       *queue.Queue
	table       *routes.Table
	origin      *url.URL
	client      Doer
	maxAttempts int
	logger      *slog.Logger

	mu    sync.Mutex   // serializes drain cycles
	state atomic.Int32 // readable mid-cycle, unlike mu
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) {
		s.logger = l
	}
}

// New creates a Syncer. maxAttempts is the per-record delivery ceiling
// before a record is dead-lettered.
func New(q *queue.Queue, table *routes.Table, origin *url.URL, client Doer, maxAttempts int, opts ...Option) *Syncer {
	s := &Syncer{
		queue:       q,
		table:       table,
		origin:      origin,
		client:      client,
		maxAttempts: maxAttempts,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current drain state. It never blocks on a running
// cycle; callers see StateDraining while one is in progress.
func (s *Syncer) State() State {
	return State(s.state.Load())
}

// Drain runs one cycle: list every pending record and attempt each
// independently. A record's failure is isolated - it is counted, logged,
// and the loop moves on. Drain itself only errors when the queue cannot
// even be listed.
//
// Concurrent Drain calls serialize; removal idempotency makes the
// serialization a convenience, not a correctness requirement.
func (s *Syncer) Drain(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Store(int32(StateDraining))
	defer s.state.Store(int32(StateIdle))

	report := Report{Cycle: uuid.Must(uuid.NewV7()).String()}
	log := s.logger.With("cycle", report.Cycle)

	records, err := s.queue.ListAll(ctx)
	if err != nil {
		return report, fmt.Errorf("drain: list pending: %w", err)
	}
	report.Pending = len(records)
	log.Info("drain started", "pending", len(records))

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			// Interrupted: remaining records stay for the next trigger.
			log.Info("drain interrupted", "replayed", report.Replayed, "retried", report.Retried)
			return report, nil
		}

		if err := s.replay(ctx, rec); err != nil {
			s.recordFailure(ctx, log, rec, err, &report)
			continue
		}

		if err := s.queue.Remove(ctx, rec.ID); err != nil {
			// The POST landed but the record stays; next cycle replays it
			// and the idempotency key lets the backend deduplicate.
			log.Warn("remove after replay failed", "action", rec.ID, "error", err)
			report.Retried++
			continue
		}
		report.Replayed++
	}

	log.Info("drain finished", "replayed", report.Replayed, "retried", report.Retried, "buried", report.Buried)
	return report, nil
}

// replay delivers one record to its route. Success means a 2xx answer.
func (s *Syncer) replay(ctx context.Context, rec action.Record) error {
	route, ok := s.table.Lookup(rec.Type)
	if !ok {
		return &ReplayError{
			Code:       ErrCodeUnknownType,
			Message:    "no route for action type",
			ActionID:   rec.ID,
			ActionType: rec.Type,
		}
	}

	target, err := route.ResolveURL(s.origin)
	if err != nil {
		return &ReplayError{
			Code:       ErrCodeUnknownType,
			Message:    "unresolvable route",
			ActionID:   rec.ID,
			ActionType: rec.Type,
			Err:        err,
		}
	}

	req, err := http.NewRequestWithContext(ctx, route.Method, target, bytes.NewReader(rec.Payload))
	if err != nil {
		return &ReplayError{
			Code:       ErrCodeNetwork,
			Message:    "build request",
			ActionID:   rec.ID,
			ActionType: rec.Type,
			Err:        err,
		}
	}
	req.Header.Set("Content-Type", "application/json")

	if key, err := rec.IdempotencyKey(); err == nil {
		req.Header.Set("Idempotency-Key", key)
	} else {
		// Deliver anyway; the backend just loses its dedup handle.
		s.logger.Warn("idempotency key failed", "action", rec.ID, "error", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &ReplayError{
			Code:       ErrCodeNetwork,
			Message:    "replay request failed",
			ActionID:   rec.ID,
			ActionType: rec.Type,
			Err:        err,
		}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ReplayError{
			Code:       ErrCodeRejected,
			Message:    "endpoint rejected replay",
			ActionID:   rec.ID,
			ActionType: rec.Type,
			Status:     resp.StatusCode,
		}
	}

	return nil
}

// recordFailure bumps the record's attempt counter and buries it once it
// hits the ceiling. Storage trouble here is logged and skipped - the
// record simply gets another chance next cycle.
func (s *Syncer) recordFailure(ctx context.Context, log *slog.Logger, rec action.Record, cause error, report *Report) {
	log.Warn("replay failed", "action", rec.ID, "type", rec.Type, "error", cause)

	attempts, err := s.queue.MarkFailed(ctx, rec.ID)
	if err != nil {
		log.Warn("mark failed errored", "action", rec.ID, "error", err)
		report.Retried++
		return
	}

	if attempts >= s.maxAttempts {
		if err := s.queue.Bury(ctx, rec.ID, cause.Error()); err != nil {
			log.Warn("bury failed", "action", rec.ID, "error", err)
			report.Retried++
			return
		}
		log.Warn("action dead-lettered", "action", rec.ID, "type", rec.Type, "attempts", attempts)
		report.Buried++
		return
	}

	report.Retried++
}
