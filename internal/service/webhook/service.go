// Package webhook applies provider subscription events to local records.
package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/techmajster/time8-product-sub008/internal/model"
	"github.com/techmajster/time8-product-sub008/internal/provider"
	"github.com/techmajster/time8-product-sub008/internal/repository"
	"github.com/techmajster/time8-product-sub008/pkg/correlation"
	"github.com/techmajster/time8-product-sub008/pkg/logger"
)

const (
	EventSubscriptionCreated   = "subscription_created"
	EventSubscriptionUpdated   = "subscription_updated"
	EventSubscriptionResumed   = "subscription_resumed"
	EventSubscriptionPaused    = "subscription_paused"
	EventSubscriptionCancelled = "subscription_cancelled"
	EventSubscriptionExpired   = "subscription_expired"
)

var (
	ErrMissingOrganization = errors.New("subscription_created event has no organization_id")
	ErrInvalidBillingType  = errors.New("invalid billing type")
)

type Event struct {
	Meta struct {
		EventName  string `json:"event_name" binding:"required"`
		CustomData struct {
			OrganizationID string `json:"organization_id"`
			BillingType    string `json:"billing_type"`
		} `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		ID         provider.ID                     `json:"id"`
		Type       string                          `json:"type"`
		Attributes provider.SubscriptionAttributes `json:"attributes"`
	} `json:"data"`
}

type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionIgnored Action = "ignored"
)

type Outcome struct {
	Event          string     `json:"event"`
	Action         Action     `json:"action"`
	SubscriptionID *uuid.UUID `json:"subscription_id,omitempty"`
	CurrentSeats   int        `json:"current_seats,omitempty"`
	Renewed        bool       `json:"renewed"`
}

type Service struct {
	subs repository.SubscriptionRepository
	log  *logger.Logger
}

func NewService(subs repository.SubscriptionRepository, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{subs: subs, log: log}
}

// Handle applies ev. Other event types and events for subscriptions that are
// not known locally are acknowledged and ignored, so the provider stops
// retrying them.
func (s *Service) Handle(ctx context.Context, ev *Event) (*Outcome, error) {
	ctx, corrID := correlation.Ensure(ctx)
	providerID := ev.Data.ID.String()
	log := s.log.WithFields(map[string]interface{}{
		"correlation_id":           corrID,
		"event":                    ev.Meta.EventName,
		"provider_subscription_id": providerID,
	})
	if providerID == "" {
		return nil, fmt.Errorf("%s event has no subscription id", ev.Meta.EventName)
	}

	switch ev.Meta.EventName {
	case EventSubscriptionCreated:
		return s.created(ctx, log, ev)
	case EventSubscriptionUpdated, EventSubscriptionResumed, EventSubscriptionPaused,
		EventSubscriptionCancelled, EventSubscriptionExpired:
	default:
		log.Debug("webhook event not handled")
		return &Outcome{Event: ev.Meta.EventName, Action: ActionIgnored}, nil
	}

	existing, err := s.subs.GetByProviderID(ctx, providerID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn("webhook for unknown subscription ignored")
		return &Outcome{Event: ev.Meta.EventName, Action: ActionIgnored}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, log, ev, existing.ID)
}

func (s *Service) created(ctx context.Context, log *logger.Logger, ev *Event) (*Outcome, error) {
	existing, err := s.subs.GetByProviderID(ctx, ev.Data.ID.String())
	if err == nil {
		// Redelivery; fold it in like an update.
		return s.apply(ctx, log, ev, existing.ID)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	custom := ev.Meta.CustomData
	if custom.OrganizationID == "" {
		return nil, ErrMissingOrganization
	}
	orgID, err := uuid.Parse(custom.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("invalid organization_id %q: %w", custom.OrganizationID, err)
	}
	billing := model.BillingTypeQuantityBased
	if custom.BillingType != "" {
		billing = model.BillingType(custom.BillingType)
		if !billing.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidBillingType, custom.BillingType)
		}
	}

	attrs := ev.Data.Attributes
	sub := &model.Subscription{
		ID:                     uuid.New(),
		OrganizationID:         orgID,
		BillingType:            billing,
		ProviderSubscriptionID: ev.Data.ID.String(),
		Status:                 statusFor(ev.Meta.EventName, attrs.Status, model.SubscriptionStatusActive),
		RenewsAt:               attrs.RenewsAt,
		CurrentSeats:           1,
	}
	if item := attrs.FirstSubscriptionItem; item != nil {
		if item.ID != "" {
			id := item.ID.String()
			sub.ProviderSubscriptionItemID = &id
		}
		if item.Quantity > 0 {
			sub.CurrentSeats = item.Quantity
		}
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	log.Info("subscription created from webhook",
		"subscription_id", sub.ID.String(),
		"organization_id", orgID.String(),
		"billing_type", string(billing),
		"current_seats", sub.CurrentSeats,
	)
	return &Outcome{
		Event:          ev.Meta.EventName,
		Action:         ActionCreated,
		SubscriptionID: &sub.ID,
		CurrentSeats:   sub.CurrentSeats,
	}, nil
}

func (s *Service) apply(ctx context.Context, log *logger.Logger, ev *Event, id uuid.UUID) (*Outcome, error) {
	attrs := ev.Data.Attributes
	var renewed bool
	saved, err := repository.UpdateSubscription(ctx, s.subs, id, repository.DefaultCASAttempts, func(sub *model.Subscription) error {
		sub.Status = statusFor(ev.Meta.EventName, attrs.Status, sub.Status)
		var qty *int
		if item := attrs.FirstSubscriptionItem; item != nil {
			if item.ID != "" {
				itemID := item.ID.String()
				sub.ProviderSubscriptionItemID = &itemID
			}
			if item.Quantity > 0 {
				qty = model.IntPtr(item.Quantity)
			}
		}
		renewed = sub.ApplyProviderState(qty, attrs.RenewsAt)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply %s: %w", ev.Meta.EventName, err)
	}

	log.Info("subscription updated from webhook",
		"subscription_id", saved.ID.String(),
		"status", string(saved.Status),
		"current_seats", saved.CurrentSeats,
		"renewed", renewed,
	)
	return &Outcome{
		Event:          ev.Meta.EventName,
		Action:         ActionUpdated,
		SubscriptionID: &saved.ID,
		CurrentSeats:   saved.CurrentSeats,
		Renewed:        renewed,
	}, nil
}

// statusFor maps the provider status onto the local set. Lifecycle events
// win when the payload status is missing or unknown.
func statusFor(event, status string, fallback model.SubscriptionStatus) model.SubscriptionStatus {
	switch status {
	case "unpaid":
		return model.SubscriptionStatusPastDue
	default:
		if st := model.SubscriptionStatus(status); st.Valid() {
			return st
		}
	}
	switch event {
	case EventSubscriptionPaused:
		return model.SubscriptionStatusPaused
	case EventSubscriptionCancelled:
		return model.SubscriptionStatusCancelled
	case EventSubscriptionExpired:
		return model.SubscriptionStatusExpired
	case EventSubscriptionResumed:
		return model.SubscriptionStatusActive
	}
	return fallback
}

