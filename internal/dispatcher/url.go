package dispatcher

import (
	"strings"
)

// normalizeBaseURL trims the input, upgrades bare hosts and protocol-relative
// URLs to https and strips trailing slashes. It returns "" for empty input.
func normalizeBaseURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "//") {
		s = "https:" + s
	}
	if !hasHTTPScheme(s) {
		s = "https://" + s
	}
	s = strings.TrimRight(s, "/")
	if s == "https:" || s == "http:" {
		return ""
	}
	return s
}

func hasHTTPScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// joinURL concatenates base and path with exactly one separator between them.
func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	switch {
	case strings.HasSuffix(base, "/") && strings.HasPrefix(path, "/"):
		return base + path[1:]
	case !strings.HasSuffix(base, "/") && !strings.HasPrefix(path, "/"):
		return base + "/" + path
	default:
		return base + path
	}
}

// resolveURL uses path as-is when it is already an absolute http(s) URL.
func resolveURL(base, path string) string {
	if hasHTTPScheme(path) {
		return path
	}
	return joinURL(base, path)
}
