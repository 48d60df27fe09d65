package cache

import (
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Key computes the cache key for a request: "METHOD URL" with the URL
// normalized by NormalizeURL. Callers are expected to only key GET requests;
// the method is still part of the key so a future HEAD entry could never
// collide with a GET entry.
func Key(r *http.Request) string {
	return KeyFor(r.Method, r.URL)
}

// KeyFor computes the cache key for a method and URL.
func KeyFor(method string, u *url.URL) string {
	return strings.ToUpper(method) + " " + NormalizeURL(u)
}

// NormalizeURL produces the canonical form of a URL for cache identity:
//
//   - scheme and host lowercased
//   - default ports (:80 for http, :443 for https) dropped
//   - fragment dropped (never sent on the wire)
//   - NFC normalization applied, so equivalent Unicode path spellings
//     collapse to one cache entry
//
// Query strings are preserved verbatim: reordering parameters changes the
// response for enough endpoints that collapsing them is not safe.
func NormalizeURL(u *url.URL) string {
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	c.Host = strings.ToLower(c.Host)
	c.Fragment = ""

	if host, port, ok := strings.Cut(c.Host, ":"); ok {
		if (c.Scheme == "http" && port == "80") || (c.Scheme == "https" && port == "443") {
			c.Host = host
		}
	}
	if c.Path == "" {
		c.Path = "/"
	}

	// NFC applies to the decoded path; clearing RawPath makes String()
	// re-encode from the normalized form.
	c.Path = norm.NFC.String(c.Path)
	c.RawPath = ""

	return c.String()
}
