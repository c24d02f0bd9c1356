// Package seatmanager applies seat count changes through the billing model
// of each subscription and keeps the local record in step with the provider.
package seatmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/techmajster/time8-product-sub008/internal/model"
	"github.com/techmajster/time8-product-sub008/internal/provider"
	"github.com/techmajster/time8-product-sub008/internal/repository"
	"github.com/techmajster/time8-product-sub008/internal/seats"
	"github.com/techmajster/time8-product-sub008/internal/service/alert"
	"github.com/techmajster/time8-product-sub008/pkg/correlation"
	"github.com/techmajster/time8-product-sub008/pkg/lock"
	"github.com/techmajster/time8-product-sub008/pkg/logger"
	"github.com/techmajster/time8-product-sub008/pkg/metrics"
)

type Config struct {
	LockTTL         time.Duration
	InvitationTTL   time.Duration
	PersistAttempts int
}

// Options tune a single seat change.
type Options struct {
	InvoiceImmediately bool
	QueuedInvitations  []model.QueuedInvitation
}

// Result describes a seat change in billing terms.
type Result struct {
	SubscriptionID    uuid.UUID                `json:"subscription_id"`
	BillingType       model.BillingType        `json:"billing_type"`
	Charge            ChargeTiming             `json:"charge"`
	ChargedAt         *time.Time               `json:"charged_at,omitempty"`
	PreviousSeats     int                      `json:"previous_seats"`
	CurrentSeats      int                      `json:"current_seats"`
	PendingSeats      *int                     `json:"pending_seats,omitempty"`
	NoChange          bool                     `json:"no_change"`
	Scheduled         bool                     `json:"scheduled"`
	Message           string                   `json:"message"`
	CorrelationID     string                   `json:"correlation_id"`
	QueuedInvitations []model.QueuedInvitation `json:"queued_invitations,omitempty"`
}

type Service struct {
	subs       repository.SubscriptionRepository
	orgs       repository.OrganizationRepository
	api        provider.API
	locker     lock.Locker
	alerts     alert.Emitter
	log        *logger.Logger
	metrics    *metrics.Metrics
	strategies map[model.BillingType]strategy
	queue      *invitationQueue
	cfg        Config
	now        func() time.Time
}

func NewService(
	subs repository.SubscriptionRepository,
	orgs repository.OrganizationRepository,
	api provider.API,
	locker lock.Locker,
	alerts alert.Emitter,
	log *logger.Logger,
	m *metrics.Metrics,
	cfg Config,
) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.PersistAttempts <= 0 {
		cfg.PersistAttempts = repository.DefaultCASAttempts
	}

	s := &Service{
		subs:    subs,
		orgs:    orgs,
		api:     api,
		locker:  locker,
		alerts:  alerts,
		log:     log,
		metrics: m,
		queue:   newInvitationQueue(cfg.InvitationTTL),
		cfg:     cfg,
		now:     time.Now,
	}
	s.strategies = registry(api, func() time.Time { return s.now() })
	return s
}

// AddSeats raises the seat count of a subscription to qty.
func (s *Service) AddSeats(ctx context.Context, subscriptionID uuid.UUID, qty int, opts Options) (*Result, error) {
	return s.changeSeats(ctx, subscriptionID, qty, opts, func(current int) bool { return qty >= current })
}

// RemoveSeats lowers the seat count of a subscription to qty.
func (s *Service) RemoveSeats(ctx context.Context, subscriptionID uuid.UUID, qty int, opts Options) (*Result, error) {
	return s.changeSeats(ctx, subscriptionID, qty, opts, func(current int) bool { return qty <= current })
}

func (s *Service) changeSeats(ctx context.Context, subscriptionID uuid.UUID, qty int, opts Options, direction func(int) bool) (*Result, error) {
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}
	ctx, corrID := correlation.Ensure(ctx)

	sub, err := s.subs.GetByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoActiveSubscription
		}
		return nil, err
	}

	log := s.log.WithFields(map[string]interface{}{
		"correlation_id":  corrID,
		"subscription_id": sub.ID.String(),
		"organization_id": sub.OrganizationID.String(),
		"billing_type":    string(sub.BillingType),
	})

	strat, err := s.strategyFor(sub)
	if err != nil {
		return nil, err
	}
	if sub.BillingType == model.BillingTypeLegacyVolume {
		s.metrics.SeatChanges.WithLabelValues(string(sub.BillingType), "rejected").Inc()
		log.Warn("seat change rejected for legacy subscription", "requested_seats", qty)
		return nil, ErrLegacySubscription
	}
	if qty == sub.CurrentSeats {
		s.metrics.SeatChanges.WithLabelValues(string(sub.BillingType), "no_change").Inc()
		return s.noChange(sub, corrID), nil
	}
	if !direction(sub.CurrentSeats) {
		return nil, fmt.Errorf("%w: current %d, requested %d", ErrWrongDirection, sub.CurrentSeats, qty)
	}

	held, err := s.locker.Acquire(ctx, "subscription:"+sub.ID.String(), s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, ErrChangeInProgress
		}
		return nil, fmt.Errorf("failed to lock subscription: %w", err)
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			log.Error(err, "failed to release subscription lock")
		}
	}()

	// Re-read under the lock; another writer may have finished meanwhile.
	sub, err = s.subs.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if qty == sub.CurrentSeats {
		s.metrics.SeatChanges.WithLabelValues(string(sub.BillingType), "no_change").Inc()
		return s.noChange(sub, corrID), nil
	}
	if !direction(sub.CurrentSeats) {
		return nil, fmt.Errorf("%w: current %d, requested %d", ErrWrongDirection, sub.CurrentSeats, qty)
	}
	previous := sub.CurrentSeats

	ch, err := strat.apply(ctx, sub, qty, opts, s.itemResolver(sub))
	if err != nil {
		return nil, s.providerFailure(ctx, log, sub, qty, err)
	}

	saved, err := s.persistSeats(ctx, sub.ID, qty)
	if err != nil {
		s.metrics.SeatChanges.WithLabelValues(string(sub.BillingType), "persist_failed").Inc()
		log.Error(err, "provider accepted seat change but local persist failed",
			"previous_seats", previous, "requested_seats", qty)
		s.emit(ctx, (&model.Alert{
			Severity: model.AlertSeverityCritical,
			Type:     model.AlertTypeSeatPersistFailed,
			Title:    "Seat change applied at provider but not saved locally",
			Message: fmt.Sprintf("Subscription %s was changed from %d to %d seats at the provider, but the local record could not be updated: %v",
				sub.ID, previous, qty, err),
			Context: model.JSONMap{
				"before":       previous,
				"after":        qty,
				"billing_type": string(sub.BillingType),
			},
		}).ForSubscription(sub))
		return nil, &PersistError{Err: err}
	}

	s.queue.put(corrID, opts.QueuedInvitations)
	s.metrics.SeatChanges.WithLabelValues(string(sub.BillingType), "success").Inc()
	log.Info("seat change applied",
		"previous_seats", previous,
		"current_seats", saved.CurrentSeats,
		"charge", string(ch.charge),
	)

	return &Result{
		SubscriptionID:    saved.ID,
		BillingType:       saved.BillingType,
		Charge:            ch.charge,
		ChargedAt:         ch.chargedAt,
		PreviousSeats:     previous,
		CurrentSeats:      saved.CurrentSeats,
		PendingSeats:      saved.PendingSeats,
		Message:           ch.message,
		CorrelationID:     corrID,
		QueuedInvitations: opts.QueuedInvitations,
	}, nil
}

func (s *Service) strategyFor(sub *model.Subscription) (strategy, error) {
	strat, ok := s.strategies[sub.BillingType]
	if !ok {
		return nil, fmt.Errorf("unsupported billing type %q", sub.BillingType)
	}
	return strat, nil
}

func (s *Service) noChange(sub *model.Subscription, corrID string) *Result {
	return &Result{
		SubscriptionID: sub.ID,
		BillingType:    sub.BillingType,
		Charge:         ChargeNone,
		PreviousSeats:  sub.CurrentSeats,
		CurrentSeats:   sub.CurrentSeats,
		PendingSeats:   sub.PendingSeats,
		NoChange:       true,
		Message:        "Seat count unchanged.",
		CorrelationID:  corrID,
	}
}

// itemResolver fetches and stores the provider item id the first time a
// subscription needs it.
func (s *Service) itemResolver(sub *model.Subscription) itemResolver {
	return func(ctx context.Context) (string, error) {
		if id := sub.ItemID(); id != "" {
			return id, nil
		}
		remote, err := s.api.GetSubscription(ctx, sub.ProviderSubscriptionID)
		if err != nil {
			return "", err
		}
		if remote.ItemID == "" {
			return "", fmt.Errorf("%w: subscription %s has no items", ErrItemUnresolved, sub.ProviderSubscriptionID)
		}

		wrote, err := s.subs.SetProviderItemID(ctx, sub.ID, remote.ItemID)
		if err != nil {
			return "", err
		}
		itemID := remote.ItemID
		if !wrote {
			stored, err := s.subs.GetByID(ctx, sub.ID)
			if err != nil {
				return "", err
			}
			if id := stored.ItemID(); id != "" {
				itemID = id
			}
		}
		sub.ProviderSubscriptionItemID = &itemID
		return itemID, nil
	}
}

// persistSeats writes the confirmed seat count with compare-and-swap,
// re-reading on conflict.
func (s *Service) persistSeats(ctx context.Context, id uuid.UUID, qty int) (*model.Subscription, error) {
	return s.updateWithRetry(ctx, id, func(sub *model.Subscription) error {
		sub.ApplyConfirmedSeats(qty)
		return nil
	})
}

func (s *Service) updateWithRetry(ctx context.Context, id uuid.UUID, mutate func(*model.Subscription) error) (*model.Subscription, error) {
	return repository.UpdateSubscription(ctx, s.subs, id, s.cfg.PersistAttempts, mutate)
}

func (s *Service) providerFailure(ctx context.Context, log *logger.Logger, sub *model.Subscription, qty int, err error) error {
	if errors.Is(err, provider.ErrUnknownOutcome) {
		s.metrics.SeatChanges.WithLabelValues(string(sub.BillingType), "unknown").Inc()
		log.Warn("seat change outcome unknown", "requested_seats", qty, "error", err.Error())
		s.emit(ctx, (&model.Alert{
			Severity: model.AlertSeverityWarning,
			Type:     model.AlertTypeSeatUnknownOutcome,
			Title:    "Seat change outcome unknown",
			Message: fmt.Sprintf("Provider call for subscription %s timed out while changing %d to %d seats; local state was left unchanged.",
				sub.ID, sub.CurrentSeats, qty),
			Context: model.JSONMap{
				"before":       sub.CurrentSeats,
				"after":        qty,
				"billing_type": string(sub.BillingType),
			},
		}).ForSubscription(sub))
		return err
	}

	s.metrics.SeatChanges.WithLabelValues(string(sub.BillingType), "provider_error").Inc()
	log.Error(err, "provider rejected seat change", "requested_seats", qty)
	return err
}

func (s *Service) emit(ctx context.Context, a *model.Alert) {
	if s.alerts == nil {
		return
	}
	if err := s.alerts.Emit(ctx, a); err != nil {
		s.log.Error(err, "failed to emit alert", "type", a.Type)
	}
}

// ScheduleSeats defers a seat change to the next renewal. The pending
// scheduler pushes it to the provider shortly before.
func (s *Service) ScheduleSeats(ctx context.Context, subscriptionID uuid.UUID, qty int) (*Result, error) {
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}
	ctx, corrID := correlation.Ensure(ctx)

	var before int
	saved, err := s.updateWithRetry(ctx, subscriptionID, func(sub *model.Subscription) error {
		if sub.BillingType == model.BillingTypeLegacyVolume {
			return ErrLegacySubscription
		}
		if _, err := s.strategyFor(sub); err != nil {
			return err
		}
		before = sub.CurrentSeats
		sub.SetPending(qty)
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoActiveSubscription
		}
		return nil, err
	}

	s.log.Info("seat change scheduled for renewal",
		"correlation_id", corrID,
		"subscription_id", saved.ID.String(),
		"current_seats", before,
		"pending_seats", qty,
	)

	msg := fmt.Sprintf("%d seats will apply at the next renewal.", qty)
	if saved.PendingSeats == nil {
		msg = "Pending seat change cleared."
	}
	return &Result{
		SubscriptionID: saved.ID,
		BillingType:    saved.BillingType,
		Charge:         ChargeNone,
		ChargedAt:      saved.RenewsAt,
		PreviousSeats:  before,
		CurrentSeats:   saved.CurrentSeats,
		PendingSeats:   saved.PendingSeats,
		Scheduled:      true,
		Message:        msg,
		CorrelationID:  corrID,
	}, nil
}

// UpdateRequest is a seat change coming from the API.
type UpdateRequest struct {
	NewQuantity        int                      `json:"new_quantity" binding:"required,min=1"`
	InvoiceImmediately bool                     `json:"invoice_immediately"`
	ApplyAtRenewal     bool                     `json:"apply_at_renewal"`
	QueuedInvitations  []model.QueuedInvitation `json:"queued_invitations" binding:"omitempty,dive"`
}

// UpdateSeats resolves the organization's active subscription and routes
// the request.
func (s *Service) UpdateSeats(ctx context.Context, orgID uuid.UUID, req UpdateRequest) (*Result, error) {
	if req.NewQuantity < 1 {
		return nil, ErrInvalidQuantity
	}

	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, err
	}
	sub, err := s.subs.GetActiveByOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoActiveSubscription
		}
		return nil, err
	}
	if sub.BillingType == model.BillingTypeLegacyVolume {
		return nil, ErrLegacySubscription
	}

	usage, err := s.orgs.GetSeatUsage(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if err := s.checkCoverage(org, usage, req.NewQuantity); err != nil {
		return nil, err
	}

	opts := Options{InvoiceImmediately: req.InvoiceImmediately, QueuedInvitations: req.QueuedInvitations}
	switch {
	case req.ApplyAtRenewal:
		return s.ScheduleSeats(ctx, sub.ID, req.NewQuantity)
	case req.NewQuantity >= sub.CurrentSeats:
		return s.AddSeats(ctx, sub.ID, req.NewQuantity, opts)
	default:
		return s.RemoveSeats(ctx, sub.ID, req.NewQuantity, opts)
	}
}

// checkCoverage rejects quantities that leave occupied seats unpaid, unless
// an active override already covers them.
func (s *Service) checkCoverage(org *model.Organization, usage *model.SeatUsage, qty int) error {
	occupied := usage.Occupied()
	override := seats.CheckOverride(org.BillingOverrideSeats, org.BillingOverrideExpiresAt, s.now())
	if override.EffectiveSeats != nil && occupied <= *override.EffectiveSeats {
		return nil
	}
	required := seats.RequiredPaidSeats(occupied)
	if qty < required {
		return &BelowUsageError{Requested: qty, Required: required, Occupied: occupied}
	}
	return nil
}

// TakeQueuedInvitations hands the invitations attached to a confirmed seat
// change to the caller once.
func (s *Service) TakeQueuedInvitations(correlationID string) ([]model.QueuedInvitation, bool) {
	return s.queue.take(correlationID)
}

// Snapshot returns the current seat picture of an organization.
func (s *Service) Snapshot(ctx context.Context, orgID uuid.UUID) (*seats.Snapshot, error) {
	org, usage, err := s.orgUsage(ctx, orgID)
	if err != nil {
		return nil, err
	}
	snap := seats.BuildSnapshot(seats.SnapshotInput{
		PaidSeats:          org.PaidSeats,
		ActiveMembers:      usage.ActiveMembers,
		PendingInvitations: usage.PendingInvitations,
		OverrideSeats:      org.BillingOverrideSeats,
		OverrideExpiresAt:  org.BillingOverrideExpiresAt,
	}, s.now())
	return &snap, nil
}

// ValidateInvitations checks whether count more people can be invited.
func (s *Service) ValidateInvitations(ctx context.Context, orgID uuid.UUID, count int) (*seats.InvitationCheck, error) {
	org, usage, err := s.orgUsage(ctx, orgID)
	if err != nil {
		return nil, err
	}
	override := seats.CheckOverride(org.BillingOverrideSeats, org.BillingOverrideExpiresAt, s.now())
	check := seats.ValidateInvitation(usage.Occupied(), org.PaidSeats, count, override)
	return &check, nil
}

func (s *Service) orgUsage(ctx context.Context, orgID uuid.UUID) (*model.Organization, *model.SeatUsage, error) {
	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrOrganizationNotFound
		}
		return nil, nil, err
	}
	usage, err := s.orgs.GetSeatUsage(ctx, orgID)
	if err != nil {
		return nil, nil, err
	}
	return org, usage, nil
}
