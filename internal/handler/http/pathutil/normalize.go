// Package pathutil maps request paths to route templates for metric labels.
package pathutil

import (
	"regexp"
	"strings"
)

// PathPattern maps a dynamic route to its template.
type PathPattern struct {
	Pattern  *regexp.Regexp
	Template string
}

var pathPatterns = []*PathPattern{
	{Pattern: regexp.MustCompile(`^/integrations/[^/]+/test$`), Template: "/integrations/:id/test"},
	{Pattern: regexp.MustCompile(`^/integrations/[^/]+/logs$`), Template: "/integrations/:id/logs"},
	{Pattern: regexp.MustCompile(`^/integrations/[^/]+/stats$`), Template: "/integrations/:id/stats"},
}

var knownStatic = map[string]bool{
	"/":        true,
	"/events":  true,
	"/health":  true,
	"/metrics": true,
}

// NormalizePath returns the route template for path, ignoring the query
// string and a trailing slash. Unknown paths collapse to "other" so
// scanners cannot inflate label cardinality.
//
//	NormalizePath("/integrations/int-1/logs?limit=5") // "/integrations/:id/logs"
//	NormalizePath("/events")                          // "/events"
//	NormalizePath("/wp-admin")                        // "other"
func NormalizePath(path string) string {
	if idx := strings.IndexByte(path, '?'); idx != -1 {
		path = path[:idx]
	}
	if len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}

	if knownStatic[path] {
		return path
	}
	for _, p := range pathPatterns {
		if p.Pattern.MatchString(path) {
			return p.Template
		}
	}
	return "other"
}
