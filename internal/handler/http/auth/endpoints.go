package auth

// PublicEndpoints are served without a service token: the orchestrator's
// health checks and the Prometheus scrape.
var PublicEndpoints = []string{
	"/health",
	"/health/live",
	"/metrics",
}

// IsPublicEndpoint reports whether path is one of PublicEndpoints. Matching
// is exact apart from a trailing slash, so /health does not open
// /health/detail or /healthcheck.
func IsPublicEndpoint(path string) bool {
	for _, endpoint := range PublicEndpoints {
		if path == endpoint || path == endpoint+"/" {
			return true
		}
	}
	return false
}
