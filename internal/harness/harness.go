package harness

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rowanhq/backstop/internal/cache"
	"github.com/rowanhq/backstop/internal/intercept"
	"github.com/rowanhq/backstop/internal/push"
	"github.com/rowanhq/backstop/internal/queue"
	"github.com/rowanhq/backstop/internal/routes"
	"github.com/rowanhq/backstop/internal/store"
	"github.com/rowanhq/backstop/internal/syncer"
)

const (
	// generationName is the fixed cache generation scenarios run against.
	generationName = "backstop-harness-v1"

	// maxAttempts is the delivery ceiling for scenario drains, kept low so a
	// scenario can reach the dead-letter path in a handful of cycles.
	maxAttempts = 3

	// cacheSettle bounds how long a fetch step waits for the background
	// cache write to land before the next step runs.
	cacheSettle = 2 * time.Second
)

// headerCacheStatus mirrors the interceptor's debug header.
const headerCacheStatus = "X-Backstop-Cache"

// Result is the outcome of one scenario run.
type Result struct {
	Trace []TraceEvent
}

// Harness wires a fresh agent stack around a fake origin for one scenario.
type Harness struct {
	t     *testing.T
	clock *TraceClock

	origin      *Origin
	originURL   *url.URL
	st          *store.Store
	gen         *cache.Generation
	interceptor *intercept.Interceptor
	queue       *queue.Queue
	syncer      *syncer.Syncer
	gateway     *push.Gateway

	trace []TraceEvent
}

// New builds a harness for one scenario: a fresh SQLite store under the
// test's temp dir, a fake origin serving the scenario's pages, and the full
// fetch/queue/drain/push stack on top.
func New(t *testing.T, sc *Scenario) *Harness {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "backstop.db"))
	require.NoError(t, err, "open store")
	t.Cleanup(func() { _ = st.Close() })

	origin := NewOrigin(sc.Pages)
	originURL, err := url.Parse(origin.URL())
	require.NoError(t, err)

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &Harness{
		t:         t,
		clock:     NewTraceClock(),
		origin:    origin,
		originURL: originURL,
		st:        st,
		gen:       cache.NewGeneration(st, generationName),
	}

	h.interceptor = intercept.New(origin, originURL, "/api/", intercept.WithLogger(quiet))
	h.interceptor.SetGeneration(h.gen)

	h.queue = queue.New(st)
	h.syncer = syncer.New(h.queue, routes.Default(), originURL,
		&http.Client{Transport: origin}, maxAttempts, syncer.WithLogger(quiet))

	defaults := push.Payload{
		Title: "Rowan News",
		Body:  "You have an update.",
		Tag:   "rowan-news",
	}
	h.gateway = push.NewGateway(defaults, "/", h, h, quiet)

	h.precache(sc.Manifest)
	return h
}

// Origin returns the fake origin, for assertions on what it received.
func (h *Harness) Origin() *Origin {
	return h.origin
}

// Run executes a scenario on a fresh harness and returns its trace.
func Run(t *testing.T, sc *Scenario) *Result {
	t.Helper()
	return New(t, sc).Execute(sc)
}

// Execute runs a scenario's steps on this harness. Step expectations are
// asserted as they execute, so a failing step points at its own line in the
// scenario rather than at a golden diff.
func (h *Harness) Execute(sc *Scenario) *Result {
	h.t.Helper()
	ctx := context.Background()

	for idx, step := range sc.Steps {
		switch {
		case step.Fetch != nil:
			h.runFetch(ctx, idx, step.Fetch)
		case step.Offline != nil:
			h.runOffline(*step.Offline)
		case step.Enqueue != nil:
			h.runEnqueue(ctx, idx, step.Enqueue)
		case step.Drain != nil:
			h.runDrain(ctx, idx, step.Drain)
		case step.Push != nil:
			h.runPush(ctx, idx, step.Push)
		case step.Click != nil:
			h.runClick(ctx, idx, step.Click)
		default:
			h.t.Fatalf("scenario %s: step %d sets no action", sc.Name, idx+1)
		}
	}

	return &Result{Trace: h.trace}
}

// precache loads manifest entries straight into the generation, standing in
// for install-time precache.
func (h *Harness) precache(entries []string) {
	h.t.Helper()
	ctx := context.Background()

	for _, entry := range entries {
		target := h.resolve(entry)
		resp, err := h.origin.RoundTrip(httptest.NewRequest(http.MethodGet, target.String(), nil))
		require.NoError(h.t, err, "precache %s", entry)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(h.t, err)
		require.Equal(h.t, http.StatusOK, resp.StatusCode, "precache %s", entry)

		stored := &cache.Response{
			Status:   resp.StatusCode,
			Header:   resp.Header.Clone(),
			Body:     body,
			StoredAt: time.Unix(0, 0),
		}
		key := cache.KeyFor(http.MethodGet, target)
		require.NoError(h.t, h.gen.Put(ctx, key, target.String(), stored))
	}
}

func (h *Harness) runFetch(ctx context.Context, idx int, step *FetchStep) {
	h.t.Helper()

	req := httptest.NewRequest(http.MethodGet, step.Path, nil)
	if step.Navigate {
		req.Header.Set("Sec-Fetch-Mode", "navigate")
		req.Header.Set("Accept", "text/html")
	}
	rec := httptest.NewRecorder()
	h.interceptor.ServeHTTP(rec, req.WithContext(ctx))

	status := rec.Code
	marker := rec.Header().Get(headerCacheStatus)

	h.append(TraceEvent{
		Kind:   TraceFetch,
		Path:   step.Path,
		Status: status,
		Cache:  marker,
	})

	if step.Expect != nil {
		require.Equal(h.t, step.Expect.Status, status, "step %d: fetch %s status", idx+1, step.Path)
		require.Equal(h.t, step.Expect.Cache, marker, "step %d: fetch %s cache marker", idx+1, step.Path)
	}

	// A live same-origin success caches in the background; wait for the
	// write so the next step observes it.
	if marker == "" && status >= 200 && status < 300 && !strings.HasPrefix(step.Path, "/api/") {
		h.waitForEntry(ctx, step.Path)
	}
}

// waitForEntry polls until the cache entry for path exists. The interceptor
// writes asynchronously; scenarios need the write to have landed before the
// next step goes offline.
func (h *Harness) waitForEntry(ctx context.Context, path string) {
	h.t.Helper()

	key := cache.KeyFor(http.MethodGet, h.resolve(path))
	deadline := time.Now().Add(cacheSettle)
	for {
		_, ok, err := h.gen.Get(ctx, key)
		require.NoError(h.t, err)
		if ok {
			return
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("cache entry for %s never appeared", path)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *Harness) runOffline(offline bool) {
	h.origin.SetOffline(offline)
	v := offline
	h.append(TraceEvent{Kind: TraceOffline, Offline: &v})
}

func (h *Harness) runEnqueue(ctx context.Context, idx int, step *EnqueueStep) {
	h.t.Helper()

	_, err := h.queue.Append(ctx, step.Type, []byte(step.Payload))
	require.NoError(h.t, err, "step %d: enqueue %s", idx+1, step.Type)
	h.append(TraceEvent{Kind: TraceEnqueue, Action: step.Type})
}

func (h *Harness) runDrain(ctx context.Context, idx int, step *DrainStep) {
	h.t.Helper()

	report, err := h.syncer.Drain(ctx)
	require.NoError(h.t, err, "step %d: drain", idx+1)

	h.append(TraceEvent{Kind: TraceDrain, Drain: &DrainTrace{
		Pending:  report.Pending,
		Replayed: report.Replayed,
		Retried:  report.Retried,
		Buried:   report.Buried,
	}})

	if step.Expect != nil {
		require.Equal(h.t, step.Expect.Replayed, report.Replayed, "step %d: drain replayed", idx+1)
		require.Equal(h.t, step.Expect.Retried, report.Retried, "step %d: drain retried", idx+1)
		require.Equal(h.t, step.Expect.Buried, report.Buried, "step %d: drain buried", idx+1)
	}
}

func (h *Harness) runPush(ctx context.Context, idx int, step *PushStep) {
	h.t.Helper()
	err := h.gateway.HandlePush(ctx, []byte(step.Payload))
	require.NoError(h.t, err, "step %d: push", idx+1)
}

func (h *Harness) runClick(ctx context.Context, idx int, step *ClickStep) {
	h.t.Helper()
	err := h.gateway.HandleClick(ctx, push.Click{
		Action: step.Action,
		Tag:    step.Tag,
		Data:   push.PayloadData{URL: step.URL},
	})
	require.NoError(h.t, err, "step %d: click", idx+1)
}

// Show records displayed notifications into the trace; the harness is the
// gateway's sink.
func (h *Harness) Show(_ context.Context, n push.Notification) error {
	h.append(TraceEvent{Kind: TraceNotify, Tag: n.Tag, Title: n.Title})
	return nil
}

// Close records notification closes into the trace.
func (h *Harness) Close(_ context.Context, tag string) error {
	h.append(TraceEvent{Kind: TraceClose, Tag: tag})
	return nil
}

// Focus reports no open windows, so every read click takes the Open path.
func (h *Harness) Focus(context.Context, string) (bool, error) {
	return false, nil
}

// Open records click navigations into the trace.
func (h *Harness) Open(_ context.Context, target string) error {
	h.append(TraceEvent{Kind: TraceOpen, URL: target})
	return nil
}

func (h *Harness) append(ev TraceEvent) {
	ev.Seq = h.clock.Next()
	h.trace = append(h.trace, ev)
}

func (h *Harness) resolve(path string) *url.URL {
	ref, err := url.Parse(path)
	if err != nil {
		h.t.Fatalf("bad path %q: %v", path, err)
	}
	return h.originURL.ResolveReference(ref)
}

var _ push.Sink = (*Harness)(nil)
var _ push.WindowRegistry = (*Harness)(nil)
