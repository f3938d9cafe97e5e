package integration

import (
	"time"

	"integration-hub/internal/domain/entity"
)

// LogDTO is one audit row as returned by GET /integrations/{id}/logs.
type LogDTO struct {
	ID            string    `json:"id"`
	IntegrationID string    `json:"integrationId"`
	EventType     string    `json:"eventType"`
	Success       bool      `json:"success"`
	DurationMS    *int64    `json:"durationMs"`
	StatusCode    *int      `json:"statusCode"`
	ErrorMessage  *string   `json:"errorMessage"`
	CreatedAt     time.Time `json:"createdAt"`
}

func toLogDTO(e *entity.IntegrationLog) LogDTO {
	return LogDTO{
		ID:            e.ID,
		IntegrationID: e.IntegrationID,
		EventType:     string(e.EventType),
		Success:       e.Success,
		DurationMS:    e.DurationMS,
		StatusCode:    e.StatusCode,
		ErrorMessage:  e.ErrorMessage,
		CreatedAt:     e.CreatedAt,
	}
}

// AcceptedDTO is the body of a 202 from POST /events.
type AcceptedDTO struct {
	Status    string `json:"status"`
	RequestID string `json:"requestId"`
}
