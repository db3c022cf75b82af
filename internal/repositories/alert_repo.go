package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mdrennan/bulwark/internal/database"
	"github.com/mdrennan/bulwark/internal/models"
)

const alertColumns = `id, alert_type, severity, title, description, metadata,
	       ip_address, email, created_at, resolved, resolved_by, resolved_at, notes`

// rowScanner abstracts pgx.Row and pgx.Rows for shared scanning
type rowScanner interface {
	Scan(dest ...any) error
}

// AlertRepository handles security alert data access
type AlertRepository struct {
	pool *pgxpool.Pool
}

// NewAlertRepository creates a new AlertRepository
func NewAlertRepository(db *database.DB) *AlertRepository {
	return &AlertRepository{pool: db.Pool}
}

func scanAlertRow(row rowScanner) (*models.SecurityAlert, error) {
	var alert models.SecurityAlert

	err := row.Scan(
		&alert.ID, &alert.Type, &alert.Severity, &alert.Title, &alert.Description,
		&alert.Metadata, &alert.IPAddress, &alert.Email, &alert.CreatedAt,
		&alert.Resolved, &alert.ResolvedBy, &alert.ResolvedAt, &alert.Notes,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &alert, nil
}

func scanAlertRows(rows pgx.Rows) ([]*models.SecurityAlert, error) {
	defer rows.Close()

	alerts := make([]*models.SecurityAlert, 0)

	for rows.Next() {
		alert, err := scanAlertRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert rows: %w", err)
	}

	return alerts, nil
}

// Create persists a new alert
func (r *AlertRepository) Create(ctx context.Context, alert *models.SecurityAlert) (*models.SecurityAlert, error) {
	query := `
		INSERT INTO security_alerts (alert_type, severity, title, description, metadata, ip_address, email)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + alertColumns

	result, err := scanAlertRow(r.pool.QueryRow(
		ctx, query,
		alert.Type, alert.Severity, alert.Title, alert.Description,
		alert.Metadata, alert.IPAddress, alert.Email,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	return result, nil
}

// GetByID retrieves a single alert
func (r *AlertRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SecurityAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM security_alerts WHERE id = $1`
	return scanAlertRow(r.pool.QueryRow(ctx, query, id))
}

// List retrieves alerts matching the filter, newest first
func (r *AlertRepository) List(ctx context.Context, filter models.AlertFilter) ([]*models.SecurityAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM security_alerts WHERE 1=1`
	args := make([]any, 0, 6)

	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND alert_type = $%d", len(args))
	}
	if filter.Severity != "" {
		args = append(args, filter.Severity)
		query += fmt.Sprintf(" AND severity = $%d", len(args))
	}
	if filter.Resolved != nil {
		args = append(args, *filter.Resolved)
		query += fmt.Sprintf(" AND resolved = $%d", len(args))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filter.Until != nil {
		args = append(args, *filter.Until)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}

	return scanAlertRows(rows)
}

// Resolve marks an alert resolved. Resolving an already-resolved alert is a
// no-op success: the first resolver and timestamp are preserved.
func (r *AlertRepository) Resolve(ctx context.Context, id uuid.UUID, resolvedBy string, notes *string) (*models.SecurityAlert, error) {
	query := `
		UPDATE security_alerts
		SET resolved = true, resolved_by = $2, resolved_at = CURRENT_TIMESTAMP, notes = $3
		WHERE id = $1 AND resolved = false
		RETURNING ` + alertColumns

	result, err := scanAlertRow(r.pool.QueryRow(ctx, query, id, resolvedBy, notes))
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to resolve alert: %w", err)
	}

	// No unresolved row matched: either already resolved (idempotent success)
	// or the alert does not exist
	return r.GetByID(ctx, id)
}

// CountByIPSince returns total and critical alert counts for an IP. This is
// the internal signal the reputation cache recomputes from.
func (r *AlertRepository) CountByIPSince(ctx context.Context, ip string, since time.Time) (total int, critical int, err error) {
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE severity = $3)
		FROM security_alerts
		WHERE ip_address = $1 AND created_at >= $2
	`

	err = r.pool.QueryRow(ctx, query, ip, since, models.SeverityCritical).Scan(&total, &critical)
	if err != nil {
		return 0, 0, database.MapPostgresError(err)
	}
	return total, critical, nil
}

// DeleteExpired removes alerts older than the cutoff, returning rows deleted
func (r *AlertRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM security_alerts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
