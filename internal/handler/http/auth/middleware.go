// Package auth guards the integration API with service tokens: HS256 JWTs
// issued to the backend services that manage integrations.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"integration-hub/internal/handler/http/requestid"
	"integration-hub/internal/handler/http/respond"
)

type ctxKey string

const ctxService ctxKey = "service"

var errUnauthorized = errors.New("unauthorized")

// Authz requires a valid service token on every method of every endpoint
// except PublicEndpoints. The token's subject is stored in the request
// context.
func Authz(secret []byte, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsPublicEndpoint(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			service, err := validateBearer(r.Header.Get("Authorization"), secret)
			if err != nil {
				logger.Warn("service token rejected",
					slog.String("request_id", requestid.FromContext(r.Context())),
					slog.String("path", r.URL.Path),
					slog.String("reason", err.Error()))
				RecordAuthRequest("failure")
				w.Header().Set("WWW-Authenticate", `Bearer realm="integration-hub"`)
				respond.Error(w, http.StatusUnauthorized, errUnauthorized)
				return
			}

			RecordAuthRequest("success")
			ctx := context.WithValue(r.Context(), ctxService, service)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ServiceFromContext returns the authenticated caller, or "" outside Authz.
func ServiceFromContext(ctx context.Context) string {
	service, _ := ctx.Value(ctxService).(string)
	return service
}

func validateBearer(header string, secret []byte) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("missing bearer token")
	}
	return parseServiceToken(strings.TrimPrefix(header, prefix), secret)
}
