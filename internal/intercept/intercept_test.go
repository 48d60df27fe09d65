package intercept

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowanhq/backstop/internal/cache"
)

// memStore is an in-memory cache.Store for interceptor tests.
type memStore struct {
	mu      sync.Mutex
	entries map[string]*cache.Response
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]*cache.Response)}
}

func (m *memStore) GetEntry(_ context.Context, generation, key string) (*cache.Response, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp, ok := m.entries[generation+"\x00"+key]
	if !ok {
		return nil, false, nil
	}
	return resp.Clone(), true, nil
}

func (m *memStore) PutEntry(_ context.Context, generation, key, _ string, resp *cache.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[generation+"\x00"+key] = resp.Clone()
	return nil
}

func (m *memStore) Generations(context.Context, string) ([]string, error) {
	return []string{}, nil
}

func (m *memStore) DeleteGeneration(context.Context, string) error {
	return nil
}

func (m *memStore) has(generation, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[generation+"\x00"+key]
	return ok
}

// scriptedTransport answers from a table of path -> response, or fails
// every request when down.
type scriptedTransport struct {
	mu    sync.Mutex
	down  bool
	pages map[string]string
	seen  []*http.Request
}

func (s *scriptedTransport) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, req)

	if s.down {
		return nil, errors.New("connection refused")
	}

	body, ok := s.pages[req.URL.Path]
	status := http.StatusOK
	if !ok {
		status = http.StatusNotFound
		body = "not found"
	}
	header := make(http.Header)
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set("Keep-Alive", "timeout=5")
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestInterceptor(t *testing.T, transport *scriptedTransport, opts ...Option) (*Interceptor, *memStore, *cache.Generation) {
	t.Helper()

	origin, err := url.Parse("https://news.example")
	require.NoError(t, err)

	store := newMemStore()
	gen := cache.NewGeneration(store, "test-v1")

	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	i := New(transport, origin, "/api/", opts...)
	i.SetGeneration(gen)
	return i, store, gen
}

func doGet(i *Interceptor, path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	i.ServeHTTP(rec, req)
	return rec
}

func waitForEntry(t *testing.T, store *memStore, key string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !store.has("test-v1", key) {
		if time.Now().After(deadline) {
			t.Fatalf("entry %q never cached", key)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServeHTTP_LiveResponseCached(t *testing.T) {
	transport := &scriptedTransport{pages: map[string]string{"/story/1": "story one"}}
	i, store, _ := newTestInterceptor(t, transport)

	rec := doGet(i, "/story/1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "story one", rec.Body.String())
	assert.Empty(t, rec.Header().Get("X-Backstop-Cache"), "live responses carry no cache marker")

	waitForEntry(t, store, "GET https://news.example/story/1")
}

func TestServeHTTP_ErrorStatusNotCached(t *testing.T) {
	transport := &scriptedTransport{pages: map[string]string{}}
	i, store, _ := newTestInterceptor(t, transport)

	rec := doGet(i, "/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Nothing qualifies for caching; give a background write a moment to
	// prove it never happens.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, store.has("test-v1", "GET https://news.example/missing"))
}

func TestServeHTTP_FallbackHit(t *testing.T) {
	transport := &scriptedTransport{pages: map[string]string{"/story/1": "story one"}}
	i, store, _ := newTestInterceptor(t, transport)

	doGet(i, "/story/1", nil)
	waitForEntry(t, store, "GET https://news.example/story/1")

	transport.setDown(true)

	rec := doGet(i, "/story/1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "story one", rec.Body.String())
	assert.Equal(t, "HIT", rec.Header().Get("X-Backstop-Cache"))
}

func TestServeHTTP_NavigationShellFallback(t *testing.T) {
	transport := &scriptedTransport{pages: map[string]string{"/": "front page"}}
	i, store, _ := newTestInterceptor(t, transport)

	doGet(i, "/", nil)
	waitForEntry(t, store, "GET https://news.example/")

	transport.setDown(true)

	rec := doGet(i, "/story/99", map[string]string{"Sec-Fetch-Mode": "navigate"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "front page", rec.Body.String())
	assert.Equal(t, "SHELL", rec.Header().Get("X-Backstop-Cache"))
}

func TestServeHTTP_NonNavigationGetsNoShell(t *testing.T) {
	transport := &scriptedTransport{pages: map[string]string{"/": "front page"}}
	i, store, _ := newTestInterceptor(t, transport)

	doGet(i, "/", nil)
	waitForEntry(t, store, "GET https://news.example/")

	transport.setDown(true)

	rec := doGet(i, "/assets/app.css", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "OFFLINE", rec.Header().Get("X-Backstop-Cache"))
	assert.Equal(t, "Offline\n", rec.Body.String())
}

func TestServeHTTP_OfflineWithEmptyCache(t *testing.T) {
	transport := &scriptedTransport{down: true}
	i, _, _ := newTestInterceptor(t, transport)

	rec := doGet(i, "/story/1", map[string]string{"Accept": "text/html"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "OFFLINE", rec.Header().Get("X-Backstop-Cache"))
}

func TestServeHTTP_PostPassesThrough(t *testing.T) {
	transport := &scriptedTransport{pages: map[string]string{"/api/bookmarks": "ok"}}
	i, store, _ := newTestInterceptor(t, transport)

	req := httptest.NewRequest(http.MethodPost, "/api/bookmarks", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	i.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	time.Sleep(50 * time.Millisecond)
	assert.False(t, store.has("test-v1", "POST https://news.example/api/bookmarks"))
}

func TestServeHTTP_APIPathNeverCached(t *testing.T) {
	transport := &scriptedTransport{pages: map[string]string{"/api/feed": `{"items":[]}`}}
	i, store, _ := newTestInterceptor(t, transport)

	rec := doGet(i, "/api/feed", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, store.has("test-v1", "GET https://news.example/api/feed"))

	// And the API path has no fallback: an outage is a 502, never a cached
	// response.
	transport.setDown(true)
	rec = doGet(i, "/api/feed", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestServeHTTP_OversizedBodyServedUncached(t *testing.T) {
	big := strings.Repeat("x", 256)
	transport := &scriptedTransport{pages: map[string]string{"/big": big}}
	i, store, _ := newTestInterceptor(t, transport, WithMaxCacheBody(64))

	rec := doGet(i, "/big", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, big, rec.Body.String(), "client gets the full body")

	time.Sleep(50 * time.Millisecond)
	assert.False(t, store.has("test-v1", "GET https://news.example/big"))
}

func TestServeHTTP_CachedCopyStripsHopByHop(t *testing.T) {
	transport := &scriptedTransport{pages: map[string]string{"/story/1": "story one"}}
	i, store, gen := newTestInterceptor(t, transport)

	doGet(i, "/story/1", nil)
	waitForEntry(t, store, "GET https://news.example/story/1")

	stored, ok, err := gen.Get(context.Background(), "GET https://news.example/story/1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, stored.Header.Get("Keep-Alive"))
	assert.Equal(t, "text/html; charset=utf-8", stored.Header.Get("Content-Type"))
}

func TestServeHTTP_NoGenerationFallsBackToOffline(t *testing.T) {
	transport := &scriptedTransport{down: true}
	origin, err := url.Parse("https://news.example")
	require.NoError(t, err)
	i := New(transport, origin, "/api/", WithLogger(quietLogger()))

	rec := doGet(i, "/story/1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "OFFLINE", rec.Header().Get("X-Backstop-Cache"))
}

func TestOutboundRequest_RewritesOntoOrigin(t *testing.T) {
	transport := &scriptedTransport{pages: map[string]string{"/story/1": "x"}}
	i, _, _ := newTestInterceptor(t, transport)

	doGet(i, "/story/1", nil)

	require.Len(t, transport.seen, 1)
	sent := transport.seen[0]
	assert.Equal(t, "https", sent.URL.Scheme)
	assert.Equal(t, "news.example", sent.URL.Host)
	assert.Equal(t, "news.example", sent.Host)
}

func TestStripHopByHop(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "close, X-Custom-Hop")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("X-Custom-Hop", "1")
	h.Set("Content-Type", "text/html")

	stripHopByHop(h)

	for _, gone := range []string{"Connection", "Keep-Alive", "Transfer-Encoding", "X-Custom-Hop"} {
		assert.Empty(t, h.Get(gone), gone)
	}
	assert.Equal(t, "text/html", h.Get("Content-Type"))
}

func TestStripHopByHopClone_LeavesOriginal(t *testing.T) {
	h := http.Header{}
	h.Set("Keep-Alive", "timeout=5")
	h.Set("Content-Type", "text/html")

	clone := stripHopByHopClone(h)

	assert.Empty(t, clone.Get("Keep-Alive"))
	assert.Equal(t, "timeout=5", h.Get("Keep-Alive"))
}
