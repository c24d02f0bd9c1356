package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/techmajster/time8-product-sub008/internal/model"
	"github.com/techmajster/time8-product-sub008/internal/repository"
)

const subscriptionColumns = `id, organization_id, billing_type, current_seats, pending_seats,
	provider_subscription_id, provider_subscription_item_id, status, renews_at,
	quantity_synced, version, created_at, updated_at`

type subscriptionRepository struct {
	BaseRepository
}

func NewSubscriptionRepository(base BaseRepository) repository.SubscriptionRepository {
	return &subscriptionRepository{base}
}

func liveStatuses() pq.StringArray {
	out := make(pq.StringArray, 0, len(model.LiveStatuses))
	for _, s := range model.LiveStatuses {
		out = append(out, string(s))
	}
	return out
}

func (r *subscriptionRepository) get(ctx context.Context, op, where string, args ...interface{}) (*model.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE ` + where
	var sub model.Subscription
	err := notFound(r.GetDB().GetContext(ctx, &sub, query, args...))
	r.observe(op, err)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Subscription, error) {
	sub, err := r.get(ctx, "subscription_get", `id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

func (r *subscriptionRepository) GetActiveByOrganization(ctx context.Context, orgID uuid.UUID) (*model.Subscription, error) {
	sub, err := r.get(ctx, "subscription_get_active",
		`organization_id = $1 AND status <> ALL($2) ORDER BY created_at DESC LIMIT 1`,
		orgID, pq.StringArray{string(model.SubscriptionStatusCancelled), string(model.SubscriptionStatusExpired)})
	if err != nil {
		return nil, fmt.Errorf("failed to get active subscription: %w", err)
	}
	return sub, nil
}

func (r *subscriptionRepository) GetByProviderID(ctx context.Context, providerSubscriptionID string) (*model.Subscription, error) {
	sub, err := r.get(ctx, "subscription_get_by_provider", `provider_subscription_id = $1`, providerSubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription by provider id: %w", err)
	}
	return sub, nil
}

func (r *subscriptionRepository) Create(ctx context.Context, sub *model.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			id, organization_id, billing_type, current_seats, pending_seats,
			provider_subscription_id, provider_subscription_item_id, status, renews_at,
			quantity_synced, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.Version == 0 {
		sub.Version = 1
	}
	now := time.Now()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, query,
			sub.ID,
			sub.OrganizationID,
			sub.BillingType,
			sub.CurrentSeats,
			sub.PendingSeats,
			sub.ProviderSubscriptionID,
			sub.ProviderSubscriptionItemID,
			sub.Status,
			sub.RenewsAt,
			sub.QuantitySynced,
			sub.Version,
			sub.CreatedAt,
			sub.UpdatedAt,
		); err != nil {
			return err
		}
		return syncPaidSeats(ctx, tx, sub)
	})
	r.observe("subscription_create", err)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (r *subscriptionRepository) Update(ctx context.Context, sub *model.Subscription) error {
	query := `
		UPDATE subscriptions
		SET current_seats = $1, pending_seats = $2,
			provider_subscription_item_id = COALESCE($3, provider_subscription_item_id),
			status = $4, renews_at = $5, quantity_synced = $6,
			version = version + 1, updated_at = $7
		WHERE id = $8 AND version = $9
	`
	updatedAt := time.Now()

	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			sub.CurrentSeats,
			sub.PendingSeats,
			sub.ProviderSubscriptionItemID,
			sub.Status,
			sub.RenewsAt,
			sub.QuantitySynced,
			updatedAt,
			sub.ID,
			sub.Version,
		)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return repository.ErrVersionConflict
		}
		return syncPaidSeats(ctx, tx, sub)
	})
	r.observe("subscription_update", err)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	sub.Version++
	sub.UpdatedAt = updatedAt
	return nil
}

// syncPaidSeats keeps organizations.paid_seats equal to the live billed quantity.
func syncPaidSeats(ctx context.Context, tx *sqlx.Tx, sub *model.Subscription) error {
	if !sub.Status.Live() && sub.Status != model.SubscriptionStatusPastDue {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE organizations SET paid_seats = $1, updated_at = $2 WHERE id = $3`,
		sub.CurrentSeats, time.Now(), sub.OrganizationID)
	return err
}

func (r *subscriptionRepository) SetProviderItemID(ctx context.Context, id uuid.UUID, itemID string) (bool, error) {
	query := `
		UPDATE subscriptions
		SET provider_subscription_item_id = $1, updated_at = $2
		WHERE id = $3 AND provider_subscription_item_id IS NULL
	`
	result, err := r.GetDB().ExecContext(ctx, query, itemID, time.Now(), id)
	r.observe("subscription_set_item", err)
	if err != nil {
		return false, fmt.Errorf("failed to store subscription item id: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to store subscription item id: %w", err)
	}
	return rows > 0, nil
}

func (r *subscriptionRepository) ListPendingSync(ctx context.Context, from, to time.Time) ([]*model.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE pending_seats IS NOT NULL
			AND quantity_synced = false
			AND status = ANY($1)
			AND renews_at > $2
			AND renews_at < $3
		ORDER BY renews_at ASC`

	var subs []*model.Subscription
	err := r.GetDB().SelectContext(ctx, &subs, query, liveStatuses(), from, to)
	r.observe("subscription_list_pending", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending subscriptions: %w", err)
	}
	return subs, nil
}

func (r *subscriptionRepository) ListReconcilable(ctx context.Context) ([]*model.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE status = ANY($1)
			AND provider_subscription_id IS NOT NULL
			AND provider_subscription_id <> ''
		ORDER BY created_at ASC`

	var subs []*model.Subscription
	err := r.GetDB().SelectContext(ctx, &subs, query, liveStatuses())
	r.observe("subscription_list_reconcilable", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconcilable subscriptions: %w", err)
	}
	return subs, nil
}
