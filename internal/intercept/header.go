package intercept

import (
	"net/http"
	"strings"
)

// hopByHopHeaders are connection-scoped and must not be relayed or stored.
var hopByHopHeaders = []string{
	"Connection", "Proxy-Connection", "Keep-Alive",
	"Proxy-Authenticate", "Proxy-Authorization", "TE",
	"Trailer", "Transfer-Encoding", "Upgrade",
}

// stripHopByHop deletes hop-by-hop headers in place, including any named
// by the Connection header.
func stripHopByHop(h http.Header) {
	conn := h.Get("Connection")
	for _, k := range hopByHopHeaders {
		h.Del(k)
	}
	if conn != "" {
		for _, token := range strings.Split(conn, ",") {
			token = strings.TrimSpace(token)
			if token != "" {
				h.Del(token)
			}
		}
	}
}

// stripHopByHopClone clones the header and strips hop-by-hop entries from
// the clone, leaving the original untouched.
func stripHopByHopClone(h http.Header) http.Header {
	clone := h.Clone()
	stripHopByHop(clone)
	return clone
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
