package model

import (
	"time"

	"github.com/google/uuid"
)

type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// Alert types emitted by the seat engine.
const (
	AlertTypePendingSynced      = "pending_seats_synced"
	AlertTypePendingSyncFailed  = "pending_seats_sync_failed"
	AlertTypeSeatDrift          = "seat_drift"
	AlertTypeReconcileFetch     = "reconciliation_fetch_failed"
	AlertTypeReconcileClean     = "reconciliation_clean"
	AlertTypeSeatPersistFailed  = "seat_persist_failed"
	AlertTypeSeatUnknownOutcome = "seat_change_unknown_outcome"
)

// Alert carries enough context to reconstruct the decision that raised it
// without re-querying the provider.
type Alert struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	Severity       AlertSeverity `json:"severity" db:"severity"`
	Type           string        `json:"type" db:"type"`
	Title          string        `json:"title" db:"title"`
	Message        string        `json:"message" db:"message"`
	JobName        string        `json:"job_name,omitempty" db:"job_name"`
	SubscriptionID *uuid.UUID    `json:"subscription_id,omitempty" db:"subscription_id"`
	OrganizationID *uuid.UUID    `json:"organization_id,omitempty" db:"organization_id"`
	CorrelationID  string        `json:"correlation_id,omitempty" db:"correlation_id"`
	Context        JSONMap       `json:"context,omitempty" db:"context"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
}

// ForSubscription fills the subscription and organization references.
func (a *Alert) ForSubscription(sub *Subscription) *Alert {
	subID := sub.ID
	orgID := sub.OrganizationID
	a.SubscriptionID = &subID
	a.OrganizationID = &orgID
	return a
}
