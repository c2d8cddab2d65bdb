package nostrcache

import (
	"net/url"
	"strings"
)

// NormalizeURL normalizes a relay address so different spellings of the same
// endpoint ("wss://relay.io/", "relay.io") map to one pool entry.
func NormalizeURL(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return ""
	}

	lower := strings.ToLower(u)
	if strings.HasPrefix(lower, "http://") {
		u = "ws://" + u[len("http://"):]
	} else if strings.HasPrefix(lower, "https://") {
		u = "wss://" + u[len("https://"):]
	} else if !strings.HasPrefix(lower, "ws://") && !strings.HasPrefix(lower, "wss://") {
		if strings.HasPrefix(u, "localhost:") || strings.HasPrefix(u, "localhost/") || u == "localhost" ||
			strings.HasPrefix(u, "127.0.0.1:") || strings.HasPrefix(u, "127.0.0.1/") || u == "127.0.0.1" {
			u = "ws://" + u
		} else {
			u = "wss://" + u
		}
	}

	p, err := url.Parse(u)
	if err != nil {
		return u
	}

	p.Host = strings.ToLower(p.Host)
	p.Path = strings.TrimRight(p.Path, "/")

	return p.String()
}
