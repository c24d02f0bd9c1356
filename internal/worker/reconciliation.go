package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/techmajster/time8-product-sub008/internal/model"
	"github.com/techmajster/time8-product-sub008/internal/provider"
	"github.com/techmajster/time8-product-sub008/internal/repository"
	"github.com/techmajster/time8-product-sub008/internal/service/alert"
	"github.com/techmajster/time8-product-sub008/pkg/correlation"
	"github.com/techmajster/time8-product-sub008/pkg/logger"
	"github.com/techmajster/time8-product-sub008/pkg/metrics"
)

const JobReconcile = "reconcile-seats"

const (
	ReconcileMatch    = "match"
	ReconcileMismatch = "mismatch"
	ReconcileError    = "error"
)

// Drift directions name the side holding more seats.
const (
	DriftLocalHigher    = "local_higher"
	DriftProviderHigher = "provider_higher"
)

type ReconcileResult struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Outcome        string    `json:"outcome"`
	LocalSeats     int       `json:"local_seats"`
	ProviderSeats  *int      `json:"provider_seats,omitempty"`
	// Difference is the absolute gap; Direction says which side is higher.
	Difference int    `json:"difference"`
	Direction  string `json:"direction,omitempty"`
}

type ReconcileSummary struct {
	Job           string            `json:"job"`
	CorrelationID string            `json:"correlation_id"`
	Checked       int               `json:"checked"`
	Matches       int               `json:"matches"`
	Mismatches    int               `json:"mismatches"`
	Errors        int               `json:"errors"`
	Results       []ReconcileResult `json:"results"`
}

type ReconcileConfig struct {
	ProviderDelay time.Duration
}

// Reconciliation compares local seat counts with the provider and alerts
// on drift. It never writes subscription rows.
type Reconciliation struct {
	subs    repository.SubscriptionRepository
	api     provider.API
	alerts  alert.Emitter
	log     *logger.Logger
	metrics *metrics.Metrics
	cfg     ReconcileConfig
}

func NewReconciliation(
	subs repository.SubscriptionRepository,
	api provider.API,
	alerts alert.Emitter,
	log *logger.Logger,
	m *metrics.Metrics,
	cfg ReconcileConfig,
) *Reconciliation {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Reconciliation{subs: subs, api: api, alerts: alerts, log: log, metrics: m, cfg: cfg}
}

func (j *Reconciliation) Name() string { return JobReconcile }

func (j *Reconciliation) Run(ctx context.Context) (*ReconcileSummary, error) {
	ctx, corrID := correlation.Ensure(ctx)
	timer := prometheus.NewTimer(j.metrics.JobDuration.WithLabelValues(JobReconcile))
	defer timer.ObserveDuration()
	j.metrics.JobRuns.WithLabelValues(JobReconcile).Inc()

	log := j.log.WithFields(map[string]interface{}{
		"job":            JobReconcile,
		"correlation_id": corrID,
	})

	subs, err := j.subs.ListReconcilable(ctx)
	if err != nil {
		j.metrics.DatabaseOperations.WithLabelValues("list_reconcilable", "error").Inc()
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	log.Info("seat reconciliation started", "subscriptions", len(subs))

	summary := &ReconcileSummary{
		Job:           JobReconcile,
		CorrelationID: corrID,
		Results:       []ReconcileResult{},
	}
	limiter := newLimiter(j.cfg.ProviderDelay)

	for _, sub := range subs {
		if err := waitTurn(ctx, limiter); err != nil {
			return summary, err
		}
		summary.Checked++
		res := j.checkOne(ctx, log, sub)
		switch res.Outcome {
		case ReconcileMatch:
			summary.Matches++
		case ReconcileMismatch:
			summary.Mismatches++
		default:
			summary.Errors++
		}
		j.metrics.JobItems.WithLabelValues(JobReconcile, res.Outcome).Inc()
		summary.Results = append(summary.Results, res)
	}

	if summary.Mismatches == 0 && summary.Errors == 0 {
		j.emit(ctx, &model.Alert{
			Severity: model.AlertSeverityInfo,
			Type:     model.AlertTypeReconcileClean,
			Title:    "Seat reconciliation found no drift",
			Message:  fmt.Sprintf("All %d subscriptions match the provider", summary.Checked),
			JobName:  JobReconcile,
			Context:  model.JSONMap{"checked": summary.Checked},
		})
	}

	log.Info("seat reconciliation finished",
		"checked", summary.Checked,
		"matches", summary.Matches,
		"mismatches", summary.Mismatches,
		"errors", summary.Errors,
	)
	return summary, nil
}

func (j *Reconciliation) checkOne(ctx context.Context, log *logger.Logger, sub *model.Subscription) ReconcileResult {
	expected := sub.ExpectedProviderSeats()
	res := ReconcileResult{
		SubscriptionID: sub.ID,
		OrganizationID: sub.OrganizationID,
		LocalSeats:     expected,
	}

	remote, err := j.api.GetSubscription(ctx, sub.ProviderSubscriptionID)
	if err != nil {
		res.Outcome = ReconcileError
		log.Error(err, "failed to fetch subscription from provider", "subscription_id", sub.ID.String())
		j.emit(ctx, (&model.Alert{
			Severity: model.AlertSeverityWarning,
			Type:     model.AlertTypeReconcileFetch,
			Title:    "Could not fetch subscription for reconciliation",
			Message:  fmt.Sprintf("Subscription %s was skipped: %v", sub.ID, err),
			JobName:  JobReconcile,
			Context: model.JSONMap{
				"provider_subscription_id": sub.ProviderSubscriptionID,
				"error":                    err.Error(),
			},
		}).ForSubscription(sub))
		return res
	}

	res.ProviderSeats = model.IntPtr(remote.Quantity)
	gap := expected - remote.Quantity
	if gap == 0 {
		res.Outcome = ReconcileMatch
		return res
	}
	res.Difference = abs(gap)
	res.Direction = DriftLocalHigher
	if gap < 0 {
		res.Direction = DriftProviderHigher
	}

	res.Outcome = ReconcileMismatch
	j.metrics.DriftDetected.Inc()
	j.metrics.LastDriftAmount.Set(float64(res.Difference))

	ctxFields := model.JSONMap{
		"local_seats":              expected,
		"provider_seats":           remote.Quantity,
		"difference":               res.Difference,
		"direction":                res.Direction,
		"current_seats":            sub.CurrentSeats,
		"provider_subscription_id": sub.ProviderSubscriptionID,
		"billing_type":             string(sub.BillingType),
	}
	if sub.PendingSeats != nil {
		ctxFields["pending_seats"] = *sub.PendingSeats
	}
	j.emit(ctx, (&model.Alert{
		Severity: model.AlertSeverityCritical,
		Type:     model.AlertTypeSeatDrift,
		Title:    "Seat count drift detected",
		Message: fmt.Sprintf("Subscription %s has %d seats locally but %d at the provider (difference %d, %s)",
			sub.ID, expected, remote.Quantity, res.Difference, res.Direction),
		JobName: JobReconcile,
		Context: ctxFields,
	}).ForSubscription(sub))
	return res
}

func (j *Reconciliation) emit(ctx context.Context, a *model.Alert) {
	if j.alerts == nil {
		return
	}
	if err := j.alerts.Emit(ctx, a); err != nil {
		j.log.Error(err, "failed to emit alert", "type", a.Type)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
