// Package integration exposes the dispatcher over HTTP: event intake,
// connection tests and the per-integration audit log and statistics.
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"integration-hub/internal/domain/entity"
	"integration-hub/internal/handler/http/requestid"
	"integration-hub/internal/handler/http/respond"
	"integration-hub/internal/usecase/notify"
)

// Log listing bounds.
const (
	DefaultLogLimit = notify.DefaultLogLimit
	MaxLogLimit     = 500
)

// Service is the part of the dispatcher the handlers call.
type Service interface {
	NotifyEventAsync(ctx context.Context, event entity.IntegrationEvent) error
	TestConnection(ctx context.Context, integrationID string) (entity.TestResult, error)
	GetIntegrationLogs(ctx context.Context, integrationID string, limit int) ([]*entity.IntegrationLog, error)
	GetIntegrationStats(ctx context.Context, integrationID string) (entity.IntegrationStats, error)
}

// Register mounts the integration routes on mux.
func Register(mux *http.ServeMux, svc Service) {
	mux.Handle("POST /events", EventsHandler{svc})
	mux.Handle("POST /integrations/{id}/test", TestHandler{svc})
	mux.Handle("GET /integrations/{id}/logs", LogsHandler{svc})
	mux.Handle("GET /integrations/{id}/stats", StatsHandler{svc})
}

// EventsHandler accepts an event and dispatches it in the background.
type EventsHandler struct{ Svc Service }

func (h EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var event entity.IntegrationEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Error(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
			return
		}
		respond.Error(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}
	if err := event.Validate(); err != nil {
		respond.Error(w, http.StatusBadRequest, err)
		return
	}

	if err := h.Svc.NotifyEventAsync(r.Context(), event); err != nil {
		if errors.Is(err, notify.ErrShuttingDown) {
			respond.Error(w, http.StatusServiceUnavailable, err)
			return
		}
		respond.SafeError(w, http.StatusInternalServerError, err)
		return
	}

	respond.JSON(w, http.StatusAccepted, AcceptedDTO{
		Status:    "accepted",
		RequestID: requestid.FromContext(r.Context()),
	})
}

// TestHandler runs a connection test. Unknown ids answer 404 with the
// same result body the UI renders.
type TestHandler struct{ Svc Service }

func (h TestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	result, err := h.Svc.TestConnection(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, notify.ErrIntegrationNotFound) {
			respond.JSON(w, http.StatusNotFound, result)
			return
		}
		respond.SafeError(w, http.StatusInternalServerError, err)
		return
	}
	respond.JSON(w, http.StatusOK, result)
}

// LogsHandler lists the newest audit rows. ?limit defaults to 50 and is capped at 500.
type LogsHandler struct{ Svc Service }

func (h LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, err)
		return
	}

	entries, err := h.Svc.GetIntegrationLogs(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeLookupError(w, err)
		return
	}

	out := make([]LogDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toLogDTO(e))
	}
	respond.JSON(w, http.StatusOK, out)
}

// StatsHandler returns aggregate call statistics.
type StatsHandler struct{ Svc Service }

func (h StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.GetIntegrationStats(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, stats)
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return DefaultLogLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > MaxLogLimit {
		limit = MaxLogLimit
	}
	return limit, nil
}

func writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, notify.ErrIntegrationNotFound) {
		respond.Error(w, http.StatusNotFound, notify.ErrIntegrationNotFound)
		return
	}
	respond.SafeError(w, http.StatusInternalServerError, err)
}
