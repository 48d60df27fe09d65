// Package intercept implements the agent's fetch interception policy.
//
// Every request the application makes flows through the Interceptor, which
// decides its disposition before touching the network:
//
//   - non-GET requests pass through untouched (writes use the offline
//     queue, never this path)
//   - backend API paths pass through untouched - live data is never served
//     from cache
//   - non-web URL schemes pass through untouched
//   - everything else is network-first: serve the live response, capture a
//     copy of successful same-origin responses into the current cache
//     generation, and fall back to the cache only when the network fails
//
// Network-first is deliberate: the product is a live news feed, staleness
// is actively undesirable, and the cache exists purely as a degradation
// path. A request never fails outright - the worst outcome is a
// synthesized 503 offline response.
package intercept

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rowanhq/backstop/internal/cache"
)

// DefaultMaxCacheBody caps how large a response body the interceptor will
// buffer for caching. Larger bodies are streamed to the client uncached.
const DefaultMaxCacheBody int64 = 8 << 20 // 8 MiB

// Cache markers reported to the client for debugging.
const (
	headerCacheStatus = "X-Backstop-Cache"
	cacheHit          = "HIT"
	cacheShell        = "SHELL"
	cacheOffline      = "OFFLINE"
)

// Interceptor is the fetch-intercepting proxy handler.
type Interceptor struct {
	upstream  http.RoundTripper
	origin    *url.URL
	apiPrefix string
	maxBody   int64
	logger    *slog.Logger

	// generation is the current cache generation. The lifecycle controller
	// swaps it at activation; in-flight requests keep the handle they
	// loaded, which is exactly the cutover semantics we want.
	generation atomic.Pointer[cache.Generation]

	// group collapses concurrent cache-fallback lookups for the same key
	// so a burst of requests during an outage does one store read.
	group singleflight.Group
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithMaxCacheBody overrides the cacheable body size cap.
func WithMaxCacheBody(n int64) Option {
	return func(i *Interceptor) {
		i.maxBody = n
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(i *Interceptor) {
		i.logger = l
	}
}

// New creates an Interceptor fronting the given origin. upstream performs
// the real network fetches; pass http.DefaultTransport in production.
func New(upstream http.RoundTripper, origin *url.URL, apiPrefix string, opts ...Option) *Interceptor {
	i := &Interceptor{
		upstream:  upstream,
		origin:    origin,
		apiPrefix: apiPrefix,
		maxBody:   DefaultMaxCacheBody,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// SetGeneration swaps the live cache generation. Called by the lifecycle
// controller on activation; takes effect for all subsequent requests
// without a restart.
func (i *Interceptor) SetGeneration(g *cache.Generation) {
	i.generation.Store(g)
}

// Generation returns the current cache generation, or nil before install.
func (i *Interceptor) Generation() *cache.Generation {
	return i.generation.Load()
}

// ServeHTTP applies the interception policy to one request.
func (i *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	out := i.outboundRequest(r)

	// Pass-through dispositions: no caching, no fallback.
	if r.Method != http.MethodGet {
		i.passThrough(w, out)
		return
	}
	if out.URL.Scheme != "http" && out.URL.Scheme != "https" {
		i.passThrough(w, out)
		return
	}
	if strings.HasPrefix(out.URL.Path, i.apiPrefix) {
		i.passThrough(w, out)
		return
	}

	key := cache.Key(out)

	resp, err := i.upstream.RoundTrip(out)
	if err != nil {
		// Network failed: strictly after the attempt, fall back to cache.
		i.serveFallback(w, out, key)
		return
	}
	defer resp.Body.Close()

	i.serveLive(w, out, key, resp)
}

// outboundRequest builds the upstream request from the incoming one.
// Origin-relative requests are rewritten onto the configured origin;
// absolute-form (proxy-style) requests keep their target, which is how
// cross-origin traffic reaches us.
func (i *Interceptor) outboundRequest(r *http.Request) *http.Request {
	out := r.Clone(r.Context())
	out.RequestURI = ""
	if !out.URL.IsAbs() {
		out.URL.Scheme = i.origin.Scheme
		out.URL.Host = i.origin.Host
	}
	out.Host = out.URL.Host
	stripHopByHop(out.Header)
	return out
}

// passThrough forwards the request and relays whatever comes back. A
// network error here surfaces as 502: this path has no cache to degrade to.
func (i *Interceptor) passThrough(w http.ResponseWriter, out *http.Request) {
	resp, err := i.upstream.RoundTrip(out)
	if err != nil {
		i.logger.Debug("pass-through failed", "url", out.URL.String(), "error", err)
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// serveLive relays a live response and, when it qualifies, captures a copy
// into the current generation as a background side effect. The client gets
// the live bytes immediately; the cache write never delays the response.
func (i *Interceptor) serveLive(w http.ResponseWriter, out *http.Request, key string, resp *http.Response) {
	gen := i.generation.Load()
	cacheable := gen != nil && i.sameOrigin(out.URL) && resp.StatusCode >= 200 && resp.StatusCode < 300

	if !cacheable {
		copyHeader(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
		return
	}

	// Buffer up to the cap. The buffer is the single read of the upstream
	// stream; both the client and the cache are served from it.
	var buf bytes.Buffer
	n, readErr := io.CopyN(&buf, resp.Body, i.maxBody+1)
	tooLarge := n > i.maxBody

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(buf.Bytes())
	if tooLarge {
		// Stream the remainder uncached.
		_, _ = io.Copy(w, resp.Body)
		return
	}
	if readErr != nil && readErr != io.EOF {
		// Truncated upstream body: served what we had, don't cache it.
		i.logger.Debug("upstream body read failed", "url", out.URL.String(), "error", readErr)
		return
	}

	stored := &cache.Response{
		Status:   resp.StatusCode,
		Header:   stripHopByHopClone(resp.Header),
		Body:     append([]byte(nil), buf.Bytes()...),
		StoredAt: time.Now(),
	}
	urlStr := out.URL.String()

	// Fire-and-forget: a failed write degrades a future fallback, nothing
	// more. Detached context - the write should outlive the request.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := gen.Put(ctx, key, urlStr, stored); err != nil {
			i.logger.Warn("cache write failed", "key", key, "error", err)
		}
	}()
}

// serveFallback handles a failed network fetch: cached entry, then the
// cached shell for navigations, then a synthesized offline response.
func (i *Interceptor) serveFallback(w http.ResponseWriter, out *http.Request, key string) {
	gen := i.generation.Load()
	if gen != nil {
		if stored := i.lookup(out.Context(), gen, key); stored != nil {
			i.serveStored(w, stored, cacheHit)
			return
		}
		if isNavigation(out) {
			shellKey := cache.KeyFor(http.MethodGet, i.origin.JoinPath("/"))
			if stored := i.lookup(out.Context(), gen, shellKey); stored != nil {
				i.serveStored(w, stored, cacheShell)
				return
			}
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set(headerCacheStatus, cacheOffline)
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = io.WriteString(w, "Offline\n")
}

// lookup reads a cache entry through singleflight. Errors are logged and
// reported as misses; storage trouble must not fail the fallback path.
func (i *Interceptor) lookup(ctx context.Context, gen *cache.Generation, key string) *cache.Response {
	v, err, _ := i.group.Do(gen.Name()+"\x00"+key, func() (any, error) {
		stored, ok, err := gen.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return (*cache.Response)(nil), nil
		}
		return stored, nil
	})
	if err != nil {
		i.logger.Warn("cache read failed", "key", key, "error", err)
		return nil
	}
	return v.(*cache.Response)
}

func (i *Interceptor) serveStored(w http.ResponseWriter, stored *cache.Response, marker string) {
	copyHeader(w.Header(), stored.Header)
	w.Header().Set(headerCacheStatus, marker)
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

func (i *Interceptor) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, i.origin.Scheme) && strings.EqualFold(u.Host, i.origin.Host)
}

// isNavigation reports whether a request is a page navigation, which is
// what qualifies it for the cached-shell fallback. Browsers mark
// navigations with Sec-Fetch-Mode; the Accept check covers older clients.
func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
