package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// Origin builds a websocket.Upgrader CheckOrigin func. An empty list or "*"
// allows any origin; otherwise the Origin header's host (or full
// scheme://host) must match an entry. Requests without Origin are not from
// browsers and are allowed.
func Origin(allowed []string) func(r *http.Request) bool {
	allowAll := len(allowed) == 0
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "*" {
			allowAll = true
		}
		set[a] = struct{}{}
	}
	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(u.Host)
		if _, ok := set[host]; ok {
			return true
		}
		_, ok := set[strings.ToLower(u.Scheme)+"://"+host]
		return ok
	}
}
