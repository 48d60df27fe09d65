package cache

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "lowercases scheme and host",
			in:   "HTTPS://News.Example/Story/1",
			want: "https://news.example/Story/1",
		},
		{
			name: "drops default https port",
			in:   "https://news.example:443/",
			want: "https://news.example/",
		},
		{
			name: "drops default http port",
			in:   "http://news.example:80/",
			want: "http://news.example/",
		},
		{
			name: "keeps non-default port",
			in:   "https://news.example:8443/",
			want: "https://news.example:8443/",
		},
		{
			name: "drops fragment",
			in:   "https://news.example/story/1#comments",
			want: "https://news.example/story/1",
		},
		{
			name: "empty path becomes root",
			in:   "https://news.example",
			want: "https://news.example/",
		},
		{
			name: "preserves query verbatim",
			in:   "https://news.example/search?q=go&page=2",
			want: "https://news.example/search?q=go&page=2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeURL(mustParse(t, tt.in))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeURL_UnicodeNFC(t *testing.T) {
	// "é" composed vs decomposed must collapse to one identity.
	composed := mustParse(t, "https://news.example/caf\u00e9")
	decomposed := mustParse(t, "https://news.example/cafe\u0301")

	assert.Equal(t, NormalizeURL(composed), NormalizeURL(decomposed))
}

func TestNormalizeURL_QueryOrderMatters(t *testing.T) {
	a := NormalizeURL(mustParse(t, "https://news.example/search?a=1&b=2"))
	b := NormalizeURL(mustParse(t, "https://news.example/search?b=2&a=1"))

	assert.NotEqual(t, a, b)
}

func TestKeyFor(t *testing.T) {
	u := mustParse(t, "https://News.Example:443/story/1#top")
	assert.Equal(t, "GET https://news.example/story/1", KeyFor("get", u))
}

func TestKey_FromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "https://news.example/story/1", nil)
	assert.Equal(t, "GET https://news.example/story/1", Key(r))
}

func TestKey_MethodDistinguishes(t *testing.T) {
	u := mustParse(t, "https://news.example/story/1")
	assert.NotEqual(t, KeyFor(http.MethodGet, u), KeyFor(http.MethodHead, u))
}

func TestResponseClone(t *testing.T) {
	orig := &Response{
		Status: 200,
		Header: http.Header{"Content-Type": {"text/html"}},
		Body:   []byte("hello"),
	}

	clone := orig.Clone()
	clone.Header.Set("Content-Type", "text/plain")
	clone.Body[0] = 'H'

	assert.Equal(t, "text/html", orig.Header.Get("Content-Type"))
	assert.Equal(t, "hello", string(orig.Body))
}

func TestResponseClone_Nil(t *testing.T) {
	var r *Response
	assert.Nil(t, r.Clone())
}
