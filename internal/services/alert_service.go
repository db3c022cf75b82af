package services

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mdrennan/bulwark/internal/models"
)

// AlertRepository defines the persistence surface the alert manager needs
type AlertRepository interface {
	Create(ctx context.Context, alert *models.SecurityAlert) (*models.SecurityAlert, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.SecurityAlert, error)
	List(ctx context.Context, filter models.AlertFilter) ([]*models.SecurityAlert, error)
	Resolve(ctx context.Context, id uuid.UUID, resolvedBy string, notes *string) (*models.SecurityAlert, error)
}

// AlertService handles security alerts with dual-write (slog + database).
// Persistence failures are logged and swallowed: alerting must never block
// or fail the protected request path.
type AlertService struct {
	repo   AlertRepository
	logger *slog.Logger
}

// NewAlertService creates a new AlertService
func NewAlertService(repo AlertRepository, logger *slog.Logger) *AlertService {
	return &AlertService{repo: repo, logger: logger}
}

// CreateAlert persists a new alert and returns its id, or uuid.Nil when
// persistence failed. The slog write always happens.
func (s *AlertService) CreateAlert(ctx context.Context, alertType, severity, title, description string, metadata models.AlertMetadata, ipAddress, email *string) uuid.UUID {
	s.logger.WarnContext(ctx, "security alert",
		slog.String("alert_type", alertType),
		slog.String("severity", severity),
		slog.String("title", title),
		slog.Any("metadata", metadata),
	)

	alert := &models.SecurityAlert{
		Type:        alertType,
		Severity:    severity,
		Title:       title,
		Description: description,
		Metadata:    metadata,
		IPAddress:   ipAddress,
		Email:       email,
	}

	created, err := s.repo.Create(ctx, alert)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to persist security alert",
			slog.String("alert_type", alertType),
			slog.Any("error", err),
		)
		return uuid.Nil
	}

	return created.ID
}

// ListAlerts returns alerts matching the filter, newest first
func (s *AlertService) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]*models.SecurityAlert, error) {
	return s.repo.List(ctx, filter)
}

// GetAlert returns a single alert by id
func (s *AlertService) GetAlert(ctx context.Context, id uuid.UUID) (*models.SecurityAlert, error) {
	return s.repo.GetByID(ctx, id)
}

// ResolveAlert marks an alert resolved. Resolving an already-resolved alert
// is a no-op success so administrative tooling stays race-free.
func (s *AlertService) ResolveAlert(ctx context.Context, id uuid.UUID, resolvedBy string, notes *string) (*models.SecurityAlert, error) {
	alert, err := s.repo.Resolve(ctx, id, resolvedBy, notes)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "alert resolved",
		slog.String("alert_id", id.String()),
		slog.String("resolved_by", resolvedBy),
	)

	return alert, nil
}
