package cache

import "strings"

// Directives are the request Cache-Control directives the proxy honors.
type Directives struct {
	// NoCache asks for a refetch even when a fresh entry exists. The result still
	// replaces the cached entry.
	NoCache bool
	// NoStore keeps the fetched payload out of the cache.
	NoStore bool
}

// ParseDirectives reads a Cache-Control header. Unknown directives are ignored.
func ParseDirectives(header string) Directives {
	var d Directives
	for _, part := range strings.Split(header, ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(part), "=")
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "no-cache":
			d.NoCache = true
		case "no-store":
			d.NoStore = true
		case "max-age":
			// max-age=0 is how browsers spell a forced reload.
			if _, v, ok := strings.Cut(part, "="); ok && strings.TrimSpace(v) == "0" {
				d.NoCache = true
			}
		}
	}
	return d
}
