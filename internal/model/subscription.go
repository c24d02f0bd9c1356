package model

import (
	"time"

	"github.com/google/uuid"
)

// BillingType selects how seat changes reach the provider. Immutable once
// a subscription row is created.
type BillingType string

const (
	BillingTypeUsageBased    BillingType = "usage_based"
	BillingTypeQuantityBased BillingType = "quantity_based"
	BillingTypeLegacyVolume  BillingType = "legacy_volume"
)

func (b BillingType) Valid() bool {
	switch b {
	case BillingTypeUsageBased, BillingTypeQuantityBased, BillingTypeLegacyVolume:
		return true
	}
	return false
}

type SubscriptionStatus string

const (
	SubscriptionStatusOnTrial   SubscriptionStatus = "on_trial"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusPaused    SubscriptionStatus = "paused"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

// Live reports whether the subscription is one the batch jobs look at.
func (s SubscriptionStatus) Live() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusOnTrial
}

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusOnTrial, SubscriptionStatusActive, SubscriptionStatusPastDue,
		SubscriptionStatusPaused, SubscriptionStatusCancelled, SubscriptionStatusExpired:
		return true
	}
	return false
}

// LiveStatuses lists the statuses the scheduler and reconciliation select.
var LiveStatuses = []SubscriptionStatus{SubscriptionStatusActive, SubscriptionStatusOnTrial}

// Subscription is the local record of an organization's provider subscription.
type Subscription struct {
	ID                         uuid.UUID          `json:"id" db:"id"`
	OrganizationID             uuid.UUID          `json:"organization_id" db:"organization_id"`
	BillingType                BillingType        `json:"billing_type" db:"billing_type"`
	CurrentSeats               int                `json:"current_seats" db:"current_seats"`
	PendingSeats               *int               `json:"pending_seats,omitempty" db:"pending_seats"`
	ProviderSubscriptionID     string             `json:"provider_subscription_id" db:"provider_subscription_id"`
	ProviderSubscriptionItemID *string            `json:"provider_subscription_item_id,omitempty" db:"provider_subscription_item_id"`
	Status                     SubscriptionStatus `json:"status" db:"status"`
	RenewsAt                   *time.Time         `json:"renews_at,omitempty" db:"renews_at"`
	QuantitySynced             bool               `json:"quantity_synced" db:"quantity_synced"`
	Version                    int64              `json:"version" db:"version"`
	CreatedAt                  time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt                  time.Time          `json:"updated_at" db:"updated_at"`
}

// ItemID returns the provider subscription item id or "".
func (s *Subscription) ItemID() string {
	if s.ProviderSubscriptionItemID == nil {
		return ""
	}
	return *s.ProviderSubscriptionItemID
}

// SetPending schedules qty for the next renewal. Scheduling the current
// count clears any pending change so pending never equals current.
func (s *Subscription) SetPending(qty int) {
	s.QuantitySynced = false
	if qty == s.CurrentSeats {
		s.PendingSeats = nil
		return
	}
	s.PendingSeats = IntPtr(qty)
}

// ApplyConfirmedSeats records a provider-confirmed quantity. A pending change
// equal to it is fulfilled and cleared. A different pending change is no
// longer what the provider holds, so it must be pushed again before renewal.
func (s *Subscription) ApplyConfirmedSeats(qty int) {
	s.CurrentSeats = qty
	s.QuantitySynced = false
	if s.PendingSeats != nil && *s.PendingSeats == qty {
		s.PendingSeats = nil
	}
}

// ApplyProviderState folds a provider snapshot of the item quantity and
// renewal date into the record. While a synced pending change waits for
// renewal the provider already reports the pending quantity, so current
// seats only move once renews_at advances. It reports whether a renewal
// transition completed.
func (s *Subscription) ApplyProviderState(qty *int, renewsAt *time.Time) bool {
	renewed := renewsAt != nil && s.RenewsAt != nil && renewsAt.After(*s.RenewsAt)
	if renewsAt != nil {
		t := *renewsAt
		s.RenewsAt = &t
	}
	if s.PendingSeats != nil && s.QuantitySynced {
		if !renewed {
			return false
		}
		s.CurrentSeats = *s.PendingSeats
		s.PendingSeats = nil
		s.QuantitySynced = false
		return true
	}
	if qty != nil {
		s.ApplyConfirmedSeats(*qty)
	}
	return false
}

// ExpectedProviderSeats is the quantity the provider should report: the
// pending count once it has been pushed, otherwise the current count.
func (s *Subscription) ExpectedProviderSeats() int {
	if s.PendingSeats != nil && s.QuantitySynced {
		return *s.PendingSeats
	}
	return s.CurrentSeats
}

// Clone returns a deep copy.
func (s *Subscription) Clone() *Subscription {
	c := *s
	if s.PendingSeats != nil {
		c.PendingSeats = IntPtr(*s.PendingSeats)
	}
	if s.ProviderSubscriptionItemID != nil {
		id := *s.ProviderSubscriptionItemID
		c.ProviderSubscriptionItemID = &id
	}
	if s.RenewsAt != nil {
		t := *s.RenewsAt
		c.RenewsAt = &t
	}
	return &c
}
