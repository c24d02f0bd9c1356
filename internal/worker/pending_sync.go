package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/techmajster/time8-product-sub008/internal/model"
	"github.com/techmajster/time8-product-sub008/internal/provider"
	"github.com/techmajster/time8-product-sub008/internal/repository"
	"github.com/techmajster/time8-product-sub008/internal/service/alert"
	"github.com/techmajster/time8-product-sub008/pkg/correlation"
	"github.com/techmajster/time8-product-sub008/pkg/logger"
	"github.com/techmajster/time8-product-sub008/pkg/metrics"
)

const JobPendingSync = "sync-pending-seats"

var errPendingChanged = errors.New("pending seats changed while syncing")

type PendingSyncConfig struct {
	// Subscriptions renewing strictly between now+WindowMin and
	// now+WindowMax are pushed.
	WindowMin     time.Duration
	WindowMax     time.Duration
	ProviderDelay time.Duration
}

type PendingSyncResult struct {
	SubscriptionID uuid.UUID  `json:"subscription_id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	PreviousSeats  int        `json:"previous_seats"`
	PendingSeats   int        `json:"pending_seats"`
	RenewsAt       *time.Time `json:"renews_at,omitempty"`
}

type JobError struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Error          string    `json:"error"`
}

type PendingSyncSummary struct {
	Job           string              `json:"job"`
	CorrelationID string              `json:"correlation_id"`
	Processed     int                 `json:"processed"`
	Failed        int                 `json:"failed"`
	Results       []PendingSyncResult `json:"results"`
	Errors        []JobError          `json:"errors"`
}

// PendingSync pushes scheduled seat changes to the provider shortly
// before renewal, without proration, so they take effect on the renewal
// invoice.
type PendingSync struct {
	subs    repository.SubscriptionRepository
	api     provider.API
	alerts  alert.Emitter
	log     *logger.Logger
	metrics *metrics.Metrics
	cfg     PendingSyncConfig
	now     func() time.Time
}

func NewPendingSync(
	subs repository.SubscriptionRepository,
	api provider.API,
	alerts alert.Emitter,
	log *logger.Logger,
	m *metrics.Metrics,
	cfg PendingSyncConfig,
) *PendingSync {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if cfg.WindowMin <= 0 {
		cfg.WindowMin = 24 * time.Hour
	}
	if cfg.WindowMax <= cfg.WindowMin {
		cfg.WindowMax = cfg.WindowMin + 24*time.Hour
	}
	return &PendingSync{
		subs:    subs,
		api:     api,
		alerts:  alerts,
		log:     log,
		metrics: m,
		cfg:     cfg,
		now:     time.Now,
	}
}

func (j *PendingSync) Name() string { return JobPendingSync }

// Run processes every due subscription. One failure never stops the rest;
// only a failure to list candidates fails the run.
func (j *PendingSync) Run(ctx context.Context) (*PendingSyncSummary, error) {
	ctx, corrID := correlation.Ensure(ctx)
	timer := prometheus.NewTimer(j.metrics.JobDuration.WithLabelValues(JobPendingSync))
	defer timer.ObserveDuration()
	j.metrics.JobRuns.WithLabelValues(JobPendingSync).Inc()

	log := j.log.WithFields(map[string]interface{}{
		"job":            JobPendingSync,
		"correlation_id": corrID,
	})

	now := j.now()
	from, to := now.Add(j.cfg.WindowMin), now.Add(j.cfg.WindowMax)
	due, err := j.subs.ListPendingSync(ctx, from, to)
	if err != nil {
		j.metrics.DatabaseOperations.WithLabelValues("list_pending_sync", "error").Inc()
		return nil, fmt.Errorf("failed to list pending subscriptions: %w", err)
	}
	log.Info("pending seat sync started", "due", len(due), "window_from", from, "window_to", to)

	summary := &PendingSyncSummary{
		Job:           JobPendingSync,
		CorrelationID: corrID,
		Results:       []PendingSyncResult{},
		Errors:        []JobError{},
	}
	limiter := newLimiter(j.cfg.ProviderDelay)

	for _, sub := range due {
		res, err := j.syncOne(ctx, limiter, sub)
		if err != nil {
			if errors.Is(err, errStopped) {
				return summary, err
			}
			summary.Failed++
			summary.Errors = append(summary.Errors, JobError{SubscriptionID: sub.ID, Error: err.Error()})
			j.metrics.JobItems.WithLabelValues(JobPendingSync, "failed").Inc()
			log.Error(err, "failed to sync pending seats", "subscription_id", sub.ID.String())
			j.emit(ctx, (&model.Alert{
				Severity: model.AlertSeverityCritical,
				Type:     model.AlertTypePendingSyncFailed,
				Title:    "Pending seat change could not be synced",
				Message: fmt.Sprintf("Subscription %s renews soon but its pending change to %d seats was not pushed: %v",
					sub.ID, pendingOf(sub), err),
				JobName: JobPendingSync,
				Context: model.JSONMap{
					"current_seats": sub.CurrentSeats,
					"pending_seats": pendingOf(sub),
					"error":         err.Error(),
				},
			}).ForSubscription(sub))
			continue
		}

		summary.Processed++
		summary.Results = append(summary.Results, *res)
		j.metrics.JobItems.WithLabelValues(JobPendingSync, "synced").Inc()
		j.emit(ctx, (&model.Alert{
			Severity: model.AlertSeverityInfo,
			Type:     model.AlertTypePendingSynced,
			Title:    "Pending seat change synced",
			Message: fmt.Sprintf("Subscription %s will renew with %d seats (currently %d)",
				sub.ID, res.PendingSeats, res.PreviousSeats),
			JobName: JobPendingSync,
			Context: model.JSONMap{
				"current_seats": res.PreviousSeats,
				"pending_seats": res.PendingSeats,
			},
		}).ForSubscription(sub))
	}

	log.Info("pending seat sync finished", "processed", summary.Processed, "failed", summary.Failed)
	return summary, nil
}

// syncOne spaces every provider call it makes through limiter.
func (j *PendingSync) syncOne(ctx context.Context, limiter *rate.Limiter, sub *model.Subscription) (*PendingSyncResult, error) {
	if sub.PendingSeats == nil {
		return nil, errPendingChanged
	}
	qty := *sub.PendingSeats

	itemID, err := j.resolveItem(ctx, limiter, sub)
	if err != nil {
		return nil, err
	}
	if err := waitTurn(ctx, limiter); err != nil {
		return nil, err
	}
	if _, err := j.api.UpdateSubscriptionItem(ctx, itemID, provider.ItemUpdate{
		Quantity:          qty,
		DisableProrations: true,
	}); err != nil {
		return nil, err
	}

	saved, err := repository.UpdateSubscription(ctx, j.subs, sub.ID, repository.DefaultCASAttempts, func(s *model.Subscription) error {
		if s.PendingSeats == nil || *s.PendingSeats != qty {
			return errPendingChanged
		}
		s.QuantitySynced = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("provider updated to %d seats but sync flag not saved: %w", qty, err)
	}

	return &PendingSyncResult{
		SubscriptionID: saved.ID,
		OrganizationID: saved.OrganizationID,
		PreviousSeats:  saved.CurrentSeats,
		PendingSeats:   qty,
		RenewsAt:       saved.RenewsAt,
	}, nil
}

func (j *PendingSync) resolveItem(ctx context.Context, limiter *rate.Limiter, sub *model.Subscription) (string, error) {
	if id := sub.ItemID(); id != "" {
		return id, nil
	}
	if err := waitTurn(ctx, limiter); err != nil {
		return "", err
	}
	remote, err := j.api.GetSubscription(ctx, sub.ProviderSubscriptionID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve subscription item: %w", err)
	}
	if remote.ItemID == "" {
		return "", fmt.Errorf("provider subscription %s has no item", sub.ProviderSubscriptionID)
	}
	if _, err := j.subs.SetProviderItemID(ctx, sub.ID, remote.ItemID); err != nil {
		j.log.Error(err, "failed to store subscription item id", "subscription_id", sub.ID.String())
	}
	return remote.ItemID, nil
}

func (j *PendingSync) emit(ctx context.Context, a *model.Alert) {
	if j.alerts == nil {
		return
	}
	if err := j.alerts.Emit(ctx, a); err != nil {
		j.log.Error(err, "failed to emit alert", "type", a.Type)
	}
}

func pendingOf(sub *model.Subscription) int {
	if sub.PendingSeats == nil {
		return sub.CurrentSeats
	}
	return *sub.PendingSeats
}
