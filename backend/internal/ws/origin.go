package ws

import (
	"net/url"
	"strings"
)

// OriginAllowed reports whether origin matches one of the allowed origins.
// Scheme and host must match exactly; an allowed entry without a port
// accepts any port. "*" accepts every origin.
func OriginAllowed(origin string, allowed []string) bool {
	o, ok := parseOrigin(origin)
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == "*" {
			return true
		}
		want, ok := parseOrigin(a)
		if !ok {
			continue
		}
		if !strings.EqualFold(o.Scheme, want.Scheme) || !strings.EqualFold(o.Hostname(), want.Hostname()) {
			continue
		}
		if want.Port() == "" || want.Port() == o.Port() {
			return true
		}
	}
	return false
}

func parseOrigin(s string) (*url.URL, bool) {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Hostname() == "" || u.User != nil {
		return nil, false
	}
	if u.Path != "" && u.Path != "/" {
		return nil, false
	}
	return u, true
}
