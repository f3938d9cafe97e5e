package repository

import (
	"context"

	"integration-hub/internal/domain/entity"
)

// IntegrationRepository is the registry of configured integrations.
// Every write goes through the primary key.
type IntegrationRepository interface {
	// Get returns nil, nil when id does not resolve.
	Get(ctx context.Context, id string) (*entity.Integration, error)
	ListByScope(ctx context.Context, scope entity.Scope, status entity.IntegrationStatus) ([]*entity.Integration, error)
	ListByStatus(ctx context.Context, status entity.IntegrationStatus) ([]*entity.Integration, error)
	Update(ctx context.Context, id string, update entity.IntegrationUpdate) error
}

// IntegrationLogRepository is the append-only audit log.
type IntegrationLogRepository interface {
	Insert(ctx context.Context, entry *entity.IntegrationLog) error
	// ListByIntegration returns the newest entries first. limit <= 0 returns all.
	ListByIntegration(ctx context.Context, integrationID string, limit int) ([]*entity.IntegrationLog, error)
}
