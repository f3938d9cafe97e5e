package respond

import (
	"regexp"
)

var (
	// Webhook URLs embed their secret in the path.
	webhookURLPattern = regexp.MustCompile(`https://(hooks\.slack\.com|discord(?:app)?\.com/api/webhooks|[a-z0-9-]+\.webhook\.office\.com)/\S+`)

	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`)

	// "access_token":"..." in JSON bodies and access_token=... in query strings.
	tokenFieldPattern = regexp.MustCompile(`(?i)((?:access|refresh)_?token|client_secret|api_?key|key|token)("?\s*[:=]\s*"?)[^"&\s,}]+`)

	dbPasswordPattern = regexp.MustCompile(`://([^:/@]+):([^@]+)@`)
)

// SanitizeError returns the error message with credentials masked.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

// SanitizeString masks webhook URLs, bearer tokens, token fields and DSN passwords.
func SanitizeString(msg string) string {
	msg = webhookURLPattern.ReplaceAllString(msg, "https://$1/****")
	msg = bearerPattern.ReplaceAllString(msg, "Bearer ****")
	msg = tokenFieldPattern.ReplaceAllString(msg, "$1$2****")
	msg = dbPasswordPattern.ReplaceAllString(msg, "://$1:****@")
	return msg
}
