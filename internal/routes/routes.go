// Package routes maps action type tags to backend replay endpoints.
//
// The mapping is declared in CUE and validated against an embedded schema
// before the agent starts, so a malformed table is a startup error rather
// than a drain-time surprise. Each tag maps to exactly one fixed endpoint
// and method; tags absent from the table are unknown and handled by the
// drain loop's dead-letter policy.
package routes

import (
	"fmt"
	"net/url"

	"github.com/rowanhq/backstop/internal/action"
)

// Route is one replay target: where a queued action's payload is POSTed.
type Route struct {
	Endpoint string `json:"endpoint"`
	Method   string `json:"method"`
}

// Table maps action type tags to routes.
type Table struct {
	routes map[string]Route
}

// NewTable builds a table from an explicit mapping. Used by tests and by
// the CUE loader.
func NewTable(m map[string]Route) *Table {
	routes := make(map[string]Route, len(m))
	for tag, r := range m {
		routes[tag] = r
	}
	return &Table{routes: routes}
}

// Default returns the route table shipped with the agent.
func Default() *Table {
	return NewTable(map[string]Route{
		action.TypeSaveArticle: {Endpoint: "/api/articles/save", Method: "POST"},
		action.TypeBookmark:    {Endpoint: "/api/bookmarks", Method: "POST"},
	})
}

// Lookup resolves a tag to its route. The boolean reports whether the tag
// is known.
func (t *Table) Lookup(tag string) (Route, bool) {
	r, ok := t.routes[tag]
	return r, ok
}

// Tags returns all known tags, for diagnostics.
func (t *Table) Tags() []string {
	tags := make([]string, 0, len(t.routes))
	for tag := range t.routes {
		tags = append(tags, tag)
	}
	return tags
}

// ResolveURL joins a route's endpoint onto the backend origin.
func (r Route) ResolveURL(origin *url.URL) (string, error) {
	ref, err := url.Parse(r.Endpoint)
	if err != nil {
		return "", fmt.Errorf("route endpoint %q: %w", r.Endpoint, err)
	}
	return origin.ResolveReference(ref).String(), nil
}
