package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowanhq/backstop/internal/action"
	"github.com/rowanhq/backstop/internal/queue"
	"github.com/rowanhq/backstop/internal/routes"
)

// memBackend is an in-memory queue backend for drain tests.
type memBackend struct {
	mu      sync.Mutex
	nextID  int64
	records []action.Record
	dead    []action.DeadLetter

	removeErr error
}

func (m *memBackend) AppendAction(_ context.Context, actionType string, payload json.RawMessage, enqueuedAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.records = append(m.records, action.Record{
		ID: m.nextID, Type: actionType, Payload: payload, EnqueuedAt: enqueuedAt,
	})
	return m.nextID, nil
}

func (m *memBackend) ListActions(context.Context) ([]action.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]action.Record, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *memBackend) RemoveAction(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removeErr != nil {
		return m.removeErr
	}
	for i, rec := range m.records {
		if rec.ID == id {
			m.records = append(m.records[:i], m.records[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memBackend) IncrementAttempts(_ context.Context, id int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id {
			m.records[i].Attempts++
			return m.records[i].Attempts, nil
		}
	}
	return 0, nil
}

func (m *memBackend) BuryAction(_ context.Context, id int64, failedAt time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, rec := range m.records {
		if rec.ID == id {
			m.dead = append(m.dead, action.DeadLetter{
				ID: rec.ID, Type: rec.Type, Payload: rec.Payload,
				EnqueuedAt: rec.EnqueuedAt, FailedAt: failedAt, Reason: reason,
			})
			m.records = append(m.records[:i], m.records[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memBackend) ListDeadLetters(context.Context) ([]action.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]action.DeadLetter, len(m.dead))
	copy(out, m.dead)
	return out, nil
}

// recordingClient answers every POST with a fixed status, or a transport
// error when failing.
type recordingClient struct {
	mu       sync.Mutex
	status   int
	failing  bool
	requests []*http.Request
	bodies   []string
	keys     []string
}

func (c *recordingClient) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)

	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		req.Body.Close()
		c.bodies = append(c.bodies, string(b))
	} else {
		c.bodies = append(c.bodies, "")
	}
	c.keys = append(c.keys, req.Header.Get("Idempotency-Key"))

	if c.failing {
		return nil, errors.New("connection refused")
	}
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("")),
	}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSyncer(t *testing.T, backend *memBackend, client Doer, maxAttempts int) (*Syncer, *queue.Queue) {
	t.Helper()
	origin, err := url.Parse("https://news.example")
	require.NoError(t, err)
	q := queue.New(backend)
	return New(q, routes.Default(), origin, client, maxAttempts, WithLogger(quietLogger())), q
}

func enqueue(t *testing.T, q *queue.Queue, actionType, payload string) int64 {
	t.Helper()
	id, err := q.Append(context.Background(), actionType, json.RawMessage(payload))
	require.NoError(t, err)
	return id
}

func TestDrain_EmptyQueue(t *testing.T) {
	s, _ := newTestSyncer(t, &memBackend{}, &recordingClient{}, 3)

	report, err := s.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Pending)
	assert.Equal(t, 0, report.Replayed)
	assert.NotEmpty(t, report.Cycle)
}

func TestDrain_ReplaysAndRemoves(t *testing.T) {
	backend := &memBackend{}
	client := &recordingClient{}
	s, q := newTestSyncer(t, backend, client, 3)
	ctx := context.Background()

	enqueue(t, q, action.TypeSaveArticle, `{"articleId":"a1"}`)
	enqueue(t, q, action.TypeBookmark, `{"articleId":"a2"}`)

	report, err := s.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Pending)
	assert.Equal(t, 2, report.Replayed)
	assert.Equal(t, 0, report.Retried)

	pending, err := q.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.Len(t, client.requests, 2)
	assert.Equal(t, "/api/articles/save", client.requests[0].URL.Path)
	assert.Equal(t, "/api/bookmarks", client.requests[1].URL.Path)
	assert.Equal(t, "POST", client.requests[0].Method)
	assert.Equal(t, "application/json", client.requests[0].Header.Get("Content-Type"))
}

func TestDrain_PayloadDeliveredVerbatim(t *testing.T) {
	client := &recordingClient{}
	s, q := newTestSyncer(t, &memBackend{}, client, 3)

	enqueue(t, q, action.TypeBookmark, `{"articleId":"a2","note":"keep"}`)

	_, err := s.Drain(context.Background())
	require.NoError(t, err)

	require.Len(t, client.bodies, 1)
	assert.JSONEq(t, `{"articleId":"a2","note":"keep"}`, client.bodies[0])
}

func TestDrain_IdempotencyKeyStableAcrossCycles(t *testing.T) {
	backend := &memBackend{}
	client := &recordingClient{failing: true}
	s, q := newTestSyncer(t, backend, client, 10)
	ctx := context.Background()

	enqueue(t, q, action.TypeBookmark, `{"articleId":"a2"}`)

	_, err := s.Drain(ctx)
	require.NoError(t, err)

	client.mu.Lock()
	client.failing = false
	client.mu.Unlock()

	_, err = s.Drain(ctx)
	require.NoError(t, err)

	require.Len(t, client.keys, 2)
	assert.Equal(t, client.keys[0], client.keys[1], "same record, same key")
	assert.Len(t, client.keys[0], 64)
}

func TestDrain_NetworkFailureRetries(t *testing.T) {
	backend := &memBackend{}
	client := &recordingClient{failing: true}
	s, q := newTestSyncer(t, backend, client, 3)
	ctx := context.Background()

	enqueue(t, q, action.TypeSaveArticle, `{"articleId":"a1"}`)

	report, err := s.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Replayed)
	assert.Equal(t, 1, report.Retried)
	assert.Equal(t, 0, report.Buried)

	pending, err := q.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
}

func TestDrain_RejectionCountsAsFailure(t *testing.T) {
	client := &recordingClient{status: http.StatusUnprocessableEntity}
	s, q := newTestSyncer(t, &memBackend{}, client, 3)

	enqueue(t, q, action.TypeSaveArticle, `{"articleId":"a1"}`)

	report, err := s.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Replayed)
	assert.Equal(t, 1, report.Retried)
}

func TestDrain_UnknownTypeBuriedAfterMaxAttempts(t *testing.T) {
	backend := &memBackend{}
	s, q := newTestSyncer(t, backend, &recordingClient{}, 3)
	ctx := context.Background()

	enqueue(t, q, "SHARE_STORY", `{"articleId":"a3"}`)

	for i := 0; i < 2; i++ {
		report, err := s.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Retried, "cycle %d", i+1)
		assert.Equal(t, 0, report.Buried, "cycle %d", i+1)
	}

	report, err := s.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Retried)
	assert.Equal(t, 1, report.Buried)

	dead, err := q.ListDead(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "SHARE_STORY", dead[0].Type)
	assert.Contains(t, dead[0].Reason, "no route")

	pending, err := q.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDrain_FailureIsolatedPerRecord(t *testing.T) {
	backend := &memBackend{}
	client := &recordingClient{}
	s, q := newTestSyncer(t, backend, client, 3)
	ctx := context.Background()

	enqueue(t, q, "SHARE_STORY", `{"articleId":"a3"}`) // no route, fails
	enqueue(t, q, action.TypeBookmark, `{"articleId":"a2"}`)

	report, err := s.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Replayed)
	assert.Equal(t, 1, report.Retried)

	pending, err := q.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "SHARE_STORY", pending[0].Type)
}

func TestDrain_RemoveFailureLeavesRecordForDedup(t *testing.T) {
	backend := &memBackend{removeErr: fmt.Errorf("disk full")}
	client := &recordingClient{}
	s, q := newTestSyncer(t, backend, client, 3)
	ctx := context.Background()

	enqueue(t, q, action.TypeBookmark, `{"articleId":"a2"}`)

	report, err := s.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Replayed)
	assert.Equal(t, 1, report.Retried)

	// The POST happened; the record is only still queued because removal
	// failed.
	assert.Len(t, client.requests, 1)
	pending, err := q.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestDrain_ContextCancellationStopsCycle(t *testing.T) {
	backend := &memBackend{}
	client := &recordingClient{}
	s, q := newTestSyncer(t, backend, client, 3)

	enqueue(t, q, action.TypeSaveArticle, `{"articleId":"a1"}`)
	enqueue(t, q, action.TypeBookmark, `{"articleId":"a2"}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := s.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Pending)
	assert.Equal(t, 0, report.Replayed, "cancelled before any replay")
	assert.Empty(t, client.requests)
}

func TestReplayError_Helpers(t *testing.T) {
	unknown := &ReplayError{Code: ErrCodeUnknownType, Message: "no route"}
	rejected := &ReplayError{Code: ErrCodeRejected, Message: "rejected", Status: 422}

	assert.True(t, IsUnknownType(unknown))
	assert.False(t, IsUnknownType(rejected))
	assert.True(t, IsRejected(rejected))
	assert.True(t, IsRejected(fmt.Errorf("wrap: %w", rejected)))
	assert.Contains(t, rejected.Error(), "status=422")
}

func TestState_IdleWhenNotDraining(t *testing.T) {
	s, _ := newTestSyncer(t, &memBackend{}, &recordingClient{}, 3)
	assert.Equal(t, StateIdle, s.State())
}

// blockingClient parks every replay until released, holding a drain cycle
// open so its state is observable.
type blockingClient struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (c *blockingClient) Do(*http.Request) (*http.Response, error) {
	c.once.Do(func() { close(c.entered) })
	<-c.release
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("")),
	}, nil
}

func TestState_ReportsDrainingMidCycle(t *testing.T) {
	client := &blockingClient{entered: make(chan struct{}), release: make(chan struct{})}
	s, q := newTestSyncer(t, &memBackend{}, client, 3)

	enqueue(t, q, action.TypeBookmark, `{"articleId":"a2"}`)

	done := make(chan struct{})
	go func() {
		_, _ = s.Drain(context.Background())
		close(done)
	}()

	<-client.entered
	assert.Equal(t, StateDraining, s.State(), "State must not block on the running cycle")

	close(client.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not finish after release")
	}
	assert.Equal(t, StateIdle, s.State())
}
