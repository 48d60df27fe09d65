package harness

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
)

// ErrOffline is the transport error the fake origin returns while offline,
// standing in for the connection failures a real outage produces.
var ErrOffline = errors.New("origin unreachable")

// ReplayedAction is one action POST the fake origin accepted.
type ReplayedAction struct {
	Path           string
	IdempotencyKey string
	Body           string
}

// Origin is an in-process fake backend. It implements http.RoundTripper so
// the interceptor and the drain loop hit it without any real network, and
// it can be toggled offline to simulate an outage.
type Origin struct {
	url string

	mu       sync.Mutex
	offline  bool
	pages    map[string]string
	replayed []ReplayedAction
}

// NewOrigin creates a fake origin serving the given pages.
func NewOrigin(pages map[string]string) *Origin {
	copied := make(map[string]string, len(pages))
	for path, body := range pages {
		copied[path] = body
	}
	return &Origin{
		url:   "https://news.example",
		pages: copied,
	}
}

// URL returns the origin's base URL.
func (o *Origin) URL() string {
	return o.url
}

// SetOffline toggles reachability. While offline every round trip fails
// with a transport error, exactly like a dead link.
func (o *Origin) SetOffline(offline bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.offline = offline
}

// Replayed returns the action POSTs accepted so far, in arrival order.
func (o *Origin) Replayed() []ReplayedAction {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ReplayedAction, len(o.replayed))
	copy(out, o.replayed)
	return out
}

// RoundTrip serves pages for GETs and accepts action replays for POSTs.
func (o *Origin) RoundTrip(req *http.Request) (*http.Response, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.offline {
		return nil, ErrOffline
	}

	switch req.Method {
	case http.MethodGet, http.MethodHead:
		body, ok := o.pages[req.URL.Path]
		if !ok {
			return o.respond(req, http.StatusNotFound, "not found\n"), nil
		}
		return o.respond(req, http.StatusOK, body), nil

	case http.MethodPost:
		var body string
		if req.Body != nil {
			data, err := io.ReadAll(req.Body)
			req.Body.Close()
			if err != nil {
				return nil, err
			}
			body = string(data)
		}
		o.replayed = append(o.replayed, ReplayedAction{
			Path:           req.URL.Path,
			IdempotencyKey: req.Header.Get("Idempotency-Key"),
			Body:           body,
		})
		return o.respond(req, http.StatusOK, `{"ok":true}`), nil

	default:
		return o.respond(req, http.StatusMethodNotAllowed, "method not allowed\n"), nil
	}
}

func (o *Origin) respond(req *http.Request, status int, body string) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", contentTypeFor(req.URL.Path))
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

func contentTypeFor(path string) string {
	switch {
	case strings.HasSuffix(path, ".css"):
		return "text/css; charset=utf-8"
	case strings.HasSuffix(path, ".js"):
		return "text/javascript; charset=utf-8"
	case strings.HasSuffix(path, ".json"):
		return "application/json"
	default:
		return "text/html; charset=utf-8"
	}
}
