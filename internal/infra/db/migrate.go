package db

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS integrations (
    id               TEXT PRIMARY KEY,
    integration_type TEXT NOT NULL,
    credentials      TEXT NOT NULL,
    settings         JSONB NOT NULL DEFAULT '{}'::jsonb,
    status           TEXT NOT NULL DEFAULT 'disconnected',
    error_message    TEXT,
    last_used_at     TIMESTAMPTZ,
    connected_at     TIMESTAMPTZ,
    user_id          TEXT,
    organisation_id  TEXT,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT chk_integration_type CHECK (integration_type IN
        ('slack', 'discord', 'teams', 'google_calendar', 'trello', 'google_drive', 'gmail')),
    CONSTRAINT chk_integration_status CHECK (status IN ('connected', 'error', 'disconnected'))
)`,
	`CREATE TABLE IF NOT EXISTS integration_logs (
    id             TEXT PRIMARY KEY,
    integration_id TEXT NOT NULL REFERENCES integrations(id) ON DELETE CASCADE,
    event_type     TEXT NOT NULL,
    success        BOOLEAN NOT NULL,
    duration_ms    BIGINT,
    status_code    INTEGER,
    error_message  TEXT,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	// dispatch lookup: WHERE user_id|organisation_id = $1 AND status = 'connected'
	`CREATE INDEX IF NOT EXISTS idx_integrations_user_status ON integrations(user_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_integrations_org_status ON integrations(organisation_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_integration_logs_integration_created
        ON integration_logs(integration_id, created_at DESC)`,
}

// MigrateUp creates the integration registry and audit log tables.
func MigrateUp(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
