package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/techmajster/time8-product-sub008/internal/model"
	"github.com/techmajster/time8-product-sub008/internal/repository"
)

type alertRepository struct {
	BaseRepository
}

func NewAlertRepository(base BaseRepository) repository.AlertRepository {
	return &alertRepository{base}
}

func (r *alertRepository) Create(ctx context.Context, alert *model.Alert) error {
	query := `
		INSERT INTO seat_alerts (
			id, severity, type, title, message, job_name,
			subscription_id, organization_id, correlation_id, context, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}

	_, err := r.GetDB().ExecContext(ctx, query,
		alert.ID,
		alert.Severity,
		alert.Type,
		alert.Title,
		alert.Message,
		alert.JobName,
		alert.SubscriptionID,
		alert.OrganizationID,
		alert.CorrelationID,
		alert.Context,
		alert.CreatedAt,
	)
	r.observe("alert_create", err)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

func (r *alertRepository) ListByCorrelationID(ctx context.Context, correlationID string) ([]*model.Alert, error) {
	query := `
		SELECT id, severity, type, title, message, job_name,
			subscription_id, organization_id, correlation_id, context, created_at
		FROM seat_alerts
		WHERE correlation_id = $1
		ORDER BY created_at ASC
	`
	var alerts []*model.Alert
	err := r.GetDB().SelectContext(ctx, &alerts, query, correlationID)
	r.observe("alert_list", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}
