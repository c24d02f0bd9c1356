// Package alert persists seat engine alerts and escalates them to external
// channels by severity.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/techmajster/time8-product-sub008/internal/model"
	"github.com/techmajster/time8-product-sub008/internal/repository"
	"github.com/techmajster/time8-product-sub008/pkg/correlation"
	"github.com/techmajster/time8-product-sub008/pkg/logger"
	"github.com/techmajster/time8-product-sub008/pkg/metrics"
)

// Emitter is what the seat manager and the batch jobs depend on.
type Emitter interface {
	Emit(ctx context.Context, alert *model.Alert) error
}

// Channel delivers an already persisted alert somewhere a human will see it.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, alert *model.Alert) error
}

type Service struct {
	repo     repository.AlertRepository
	log      *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	mu       sync.RWMutex
	channels map[model.AlertSeverity][]Channel
}

func NewService(repo repository.AlertRepository, log *logger.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Service{
		repo:     repo,
		log:      log,
		metrics:  m,
		now:      time.Now,
		channels: make(map[model.AlertSeverity][]Channel),
	}
}

// Register routes alerts of the given severity to channels. Info alerts are
// normally persisted only and get no channels.
func (s *Service) Register(severity model.AlertSeverity, channels ...Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[severity] = append(s.channels[severity], channels...)
}

// Emit persists the alert and then fans it out. A channel failure is logged
// and does not fail the call; a persistence failure is returned after the
// channels have still been tried.
func (s *Service) Emit(ctx context.Context, alert *model.Alert) error {
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = s.now()
	}
	if alert.CorrelationID == "" {
		alert.CorrelationID = correlation.FromContext(ctx)
	}
	if alert.Context == nil {
		alert.Context = model.JSONMap{}
	}
	alert.Context["timestamp"] = alert.CreatedAt.UTC().Format(time.RFC3339)
	if alert.JobName != "" {
		alert.Context["job_name"] = alert.JobName
	}

	s.metrics.AlertsEmitted.WithLabelValues(string(alert.Severity)).Inc()

	fields := []interface{}{
		"alert_id", alert.ID.String(),
		"severity", string(alert.Severity),
		"type", alert.Type,
		"correlation_id", alert.CorrelationID,
	}
	if alert.SubscriptionID != nil {
		fields = append(fields, "subscription_id", alert.SubscriptionID.String())
	}
	if alert.OrganizationID != nil {
		fields = append(fields, "organization_id", alert.OrganizationID.String())
	}

	persistErr := s.repo.Create(ctx, alert)
	if persistErr != nil {
		s.log.Error(persistErr, "failed to persist alert", fields...)
	}

	switch alert.Severity {
	case model.AlertSeverityCritical:
		s.log.Error(nil, alert.Title, append(fields, "message", alert.Message)...)
	case model.AlertSeverityWarning:
		s.log.Warn(alert.Title, append(fields, "message", alert.Message)...)
	default:
		s.log.Info(alert.Title, append(fields, "message", alert.Message)...)
	}

	s.mu.RLock()
	channels := s.channels[alert.Severity]
	s.mu.RUnlock()

	for _, ch := range channels {
		if err := ch.Deliver(ctx, alert); err != nil {
			s.log.Error(err, "failed to deliver alert", append(fields, "channel", ch.Name())...)
		}
	}

	if persistErr != nil {
		return fmt.Errorf("failed to persist alert: %w", persistErr)
	}
	return nil
}
