package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"integration-hub/internal/domain/entity"
	"integration-hub/internal/repository"
)

type IntegrationLogRepo struct{ db *sql.DB }

func NewIntegrationLogRepo(db *sql.DB) repository.IntegrationLogRepository {
	return &IntegrationLogRepo{db: db}
}

func (repo *IntegrationLogRepo) Insert(ctx context.Context, entry *entity.IntegrationLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	const query = `
INSERT INTO integration_logs
       (id, integration_id, event_type, success, duration_ms, status_code, error_message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := repo.db.ExecContext(ctx, query,
		entry.ID, entry.IntegrationID, string(entry.EventType), entry.Success,
		entry.DurationMS, entry.StatusCode, entry.ErrorMessage, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	return nil
}

func (repo *IntegrationLogRepo) ListByIntegration(ctx context.Context, integrationID string, limit int) ([]*entity.IntegrationLog, error) {
	query := `
SELECT id, integration_id, event_type, success, duration_ms, status_code, error_message, created_at
FROM integration_logs
WHERE integration_id = $1
ORDER BY created_at DESC`
	args := []any{integrationID}
	if limit > 0 {
		query += `
LIMIT $2`
		args = append(args, limit)
	}

	rows, err := repo.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListByIntegration: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]*entity.IntegrationLog, 0, 50)
	for rows.Next() {
		var (
			e            entity.IntegrationLog
			eventType    string
			durationMS   sql.NullInt64
			statusCode   sql.NullInt32
			errorMessage sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.IntegrationID, &eventType, &e.Success,
			&durationMS, &statusCode, &errorMessage, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListByIntegration: %w", err)
		}
		e.EventType = entity.EventType(eventType)
		if durationMS.Valid {
			d := durationMS.Int64
			e.DurationMS = &d
		}
		if statusCode.Valid {
			c := int(statusCode.Int32)
			e.StatusCode = &c
		}
		e.ErrorMessage = nullString(errorMessage)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByIntegration: %w", err)
	}
	return entries, nil
}
