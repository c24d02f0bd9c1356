package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/techmajster/time8-product-sub008/internal/model"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when a compare-and-swap write finds the
	// row at a different version than the one that was read.
	ErrVersionConflict = errors.New("version conflict")
)

// All repository interfaces in one file
type (
	SubscriptionRepository interface {
		GetByID(ctx context.Context, id uuid.UUID) (*model.Subscription, error)
		// GetActiveByOrganization returns the newest subscription that is not
		// cancelled or expired.
		GetActiveByOrganization(ctx context.Context, orgID uuid.UUID) (*model.Subscription, error)
		GetByProviderID(ctx context.Context, providerSubscriptionID string) (*model.Subscription, error)
		Create(ctx context.Context, sub *model.Subscription) error
		// Update writes the mutable fields when the stored version equals
		// sub.Version, then bumps sub.Version. A nil item id never clears a
		// stored one. The organization's paid seats follow current_seats in
		// the same transaction.
		Update(ctx context.Context, sub *model.Subscription) error
		// SetProviderItemID stores the item id only if none is stored yet and
		// reports whether it wrote.
		SetProviderItemID(ctx context.Context, id uuid.UUID, itemID string) (bool, error)
		// ListPendingSync returns live, unsynced subscriptions with pending
		// seats renewing strictly inside (from, to).
		ListPendingSync(ctx context.Context, from, to time.Time) ([]*model.Subscription, error)
		ListReconcilable(ctx context.Context) ([]*model.Subscription, error)
	}

	OrganizationRepository interface {
		GetByID(ctx context.Context, id uuid.UUID) (*model.Organization, error)
		GetSeatUsage(ctx context.Context, id uuid.UUID) (*model.SeatUsage, error)
	}

	AlertRepository interface {
		Create(ctx context.Context, alert *model.Alert) error
		ListByCorrelationID(ctx context.Context, correlationID string) ([]*model.Alert, error)
	}
)
