package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"integration-hub/internal/domain/entity"
	"integration-hub/internal/repository"
)

type IntegrationRepo struct{ db *sql.DB }

func NewIntegrationRepo(db *sql.DB) repository.IntegrationRepository {
	return &IntegrationRepo{db: db}
}

const integrationColumns = `id, integration_type, credentials, settings, status, error_message,
       last_used_at, connected_at, user_id, organisation_id`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanIntegration scans one row selected with integrationColumns.
func scanIntegration(row rowScanner) (*entity.Integration, error) {
	var (
		it             entity.Integration
		integrationTyp string
		status         string
		settingsJSON   []byte
		errorMessage   sql.NullString
		lastUsedAt     sql.NullTime
		connectedAt    sql.NullTime
		userID         sql.NullString
		organisationID sql.NullString
	)
	if err := row.Scan(
		&it.ID, &integrationTyp, &it.Credentials, &settingsJSON, &status, &errorMessage,
		&lastUsedAt, &connectedAt, &userID, &organisationID,
	); err != nil {
		return nil, err
	}

	it.Type = entity.IntegrationType(integrationTyp)
	it.Status = entity.IntegrationStatus(status)
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &it.Settings); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	}
	it.ErrorMessage = nullString(errorMessage)
	it.LastUsedAt = nullTime(lastUsedAt)
	it.ConnectedAt = nullTime(connectedAt)
	it.UserID = nullString(userID)
	it.OrganisationID = nullString(organisationID)
	return &it, nil
}

func (repo *IntegrationRepo) Get(ctx context.Context, id string) (*entity.Integration, error) {
	query := `
SELECT ` + integrationColumns + `
FROM integrations
WHERE id = $1
LIMIT 1`
	it, err := scanIntegration(repo.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return it, nil
}

func (repo *IntegrationRepo) ListByScope(ctx context.Context, scope entity.Scope, status entity.IntegrationStatus) ([]*entity.Integration, error) {
	column, value := "user_id", scope.UserID
	if scope.OrganisationID != "" {
		column, value = "organisation_id", scope.OrganisationID
	}
	if value == "" {
		return []*entity.Integration{}, nil
	}

	query := `
SELECT ` + integrationColumns + `
FROM integrations
WHERE ` + column + ` = $1 AND status = $2
ORDER BY id ASC`
	return repo.list(ctx, "ListByScope", query, value, string(status))
}

func (repo *IntegrationRepo) ListByStatus(ctx context.Context, status entity.IntegrationStatus) ([]*entity.Integration, error) {
	query := `
SELECT ` + integrationColumns + `
FROM integrations
WHERE status = $1
ORDER BY id ASC`
	return repo.list(ctx, "ListByStatus", query, string(status))
}

func (repo *IntegrationRepo) list(ctx context.Context, op, query string, args ...any) ([]*entity.Integration, error) {
	rows, err := repo.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	integrations := make([]*entity.Integration, 0, 8)
	for rows.Next() {
		it, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		integrations = append(integrations, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return integrations, nil
}

// Update applies the non-nil fields of update. Concurrent writers to the same
// row are last-write-wins.
func (repo *IntegrationRepo) Update(ctx context.Context, id string, update entity.IntegrationUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	sets := make([]string, 0, 7)
	args := make([]any, 0, 7)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Status != nil {
		add("status", string(*update.Status))
	}
	if update.ClearError {
		sets = append(sets, "error_message = NULL")
	} else if update.ErrorMessage != nil {
		add("error_message", *update.ErrorMessage)
	}
	if update.LastUsedAt != nil {
		add("last_used_at", *update.LastUsedAt)
	}
	if update.ConnectedAt != nil {
		add("connected_at", *update.ConnectedAt)
	}
	if update.Credentials != nil {
		add("credentials", *update.Credentials)
	}
	sets = append(sets, "updated_at = now()")

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE integrations SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))

	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("Update: %w", entity.ErrNotFound)
	}
	return nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
