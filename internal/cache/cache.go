package cache

import (
	"context"
	"net/http"
	"time"
)

// Response is a captured HTTP response: everything needed to replay it to a
// client later. Body is fully buffered; the interceptor only stores bounded,
// already-read copies.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Clone returns a deep copy safe to mutate independently of the original.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := &Response{
		Status:   r.Status,
		Header:   r.Header.Clone(),
		Body:     append([]byte(nil), r.Body...),
		StoredAt: r.StoredAt,
	}
	return out
}

// Store is the persistence capability the cache is built on.
//
// Implementations must make Put last-write-wins per (generation, key) and
// make DeleteGeneration idempotent. All methods must be safe for concurrent
// use; the interceptor writes from background goroutines while serving
// reads.
type Store interface {
	// GetEntry returns the stored response for a key within a generation.
	// The boolean reports whether an entry exists.
	GetEntry(ctx context.Context, generation, key string) (*Response, bool, error)

	// PutEntry stores a response under (generation, key), replacing any
	// prior entry for the same key.
	PutEntry(ctx context.Context, generation, key, url string, resp *Response) error

	// Generations lists all generation names with the given prefix.
	Generations(ctx context.Context, prefix string) ([]string, error)

	// DeleteGeneration removes a generation and all its entries.
	DeleteGeneration(ctx context.Context, generation string) error
}

// Generation is a handle bound to a single cache generation. It is the only
// way the fetch path touches the cache, which keeps the "one current
// generation" invariant local to the lifecycle controller: the controller
// hands out a new handle on activation and old handles are discarded.
type Generation struct {
	store Store
	name  string
}

// NewGeneration binds a handle to the named generation.
func NewGeneration(store Store, name string) *Generation {
	return &Generation{store: store, name: name}
}

// Name returns the generation name.
func (g *Generation) Name() string {
	return g.name
}

// Get looks up the stored response for a request key.
func (g *Generation) Get(ctx context.Context, key string) (*Response, bool, error) {
	return g.store.GetEntry(ctx, g.name, key)
}

// Put stores a response under the request key, overwriting any prior entry.
// Last write wins; there is no merge.
func (g *Generation) Put(ctx context.Context, key, url string, resp *Response) error {
	return g.store.PutEntry(ctx, g.name, key, url, resp)
}
