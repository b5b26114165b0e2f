// Package origin decides which declared origins may read bridge responses
// and decorates responses with the matching CORS headers.
package origin

import (
	"net/http"
	"path"
	"strings"
)

// CORS header values attached to every HTTP response.
const (
	AllowHeaders = "*"
	AllowMethods = "POST, OPTIONS"
)

// Allowlist is an immutable set of acceptable origins. Entries containing
// '*' are glob patterns (e.g. "http://localhost:*"); a bare "*" allows every
// non-empty origin.
type Allowlist struct {
	exact    map[string]struct{}
	patterns []string
	any      bool
}

// New builds an allowlist from origins. Blank entries are ignored.
func New(origins []string) *Allowlist {
	a := &Allowlist{exact: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		switch {
		case o == "":
		case o == "*":
			a.any = true
		case strings.Contains(o, "*"):
			a.patterns = append(a.patterns, o)
		default:
			a.exact[o] = struct{}{}
		}
	}
	return a
}

// Allowed reports whether origin may receive a response. An empty origin is
// never allowed.
func (a *Allowlist) Allowed(origin string) bool {
	if a == nil || origin == "" {
		return false
	}
	if a.any {
		return true
	}
	if _, ok := a.exact[origin]; ok {
		return true
	}
	for _, p := range a.patterns {
		if ok, _ := path.Match(p, origin); ok {
			return true
		}
	}
	return false
}

// Apply writes the CORS headers for a request that declared origin. The
// allow-origin header is only emitted when origin is allowed.
func (a *Allowlist) Apply(h http.Header, origin string) {
	if a.Allowed(origin) {
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
	}
	h.Set("Access-Control-Allow-Headers", AllowHeaders)
	h.Set("Access-Control-Allow-Methods", AllowMethods)
}

// CheckRequest reports whether r's Origin header is allowed. Used as the
// socket upgrade check.
func (a *Allowlist) CheckRequest(r *http.Request) bool {
	return a.Allowed(r.Header.Get("Origin"))
}
