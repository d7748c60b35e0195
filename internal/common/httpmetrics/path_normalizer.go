package httpmetrics

import "strings"

const unmatchedPath = "/other"

var staticRoutes = map[string]struct{}{
	"/":               {},
	"/health":         {},
	"/metrics":        {},
	"/oauth/token":    {},
	"/oauth/revoke":   {},
	"/oauth/sessions": {},
}

// NormalizePath maps a request path onto the route template used as a metric
// label. Paths outside the served routes collapse into a single label.
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}

	if _, ok := staticRoutes[path]; ok {
		return path
	}

	if id, ok := strings.CutPrefix(path, "/oauth/sessions/"); ok && id != "" && !strings.Contains(id, "/") {
		return "/oauth/sessions/{id}"
	}

	return unmatchedPath
}
