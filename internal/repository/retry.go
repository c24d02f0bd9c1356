package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/techmajster/time8-product-sub008/internal/model"
)

// DefaultCASAttempts bounds how often a writer re-reads after losing a race.
const DefaultCASAttempts = 3

// UpdateSubscription re-reads the subscription, applies mutate and writes it
// with compare-and-swap, retrying on version conflicts. mutate may run more
// than once and must derive its change from the row it is given.
func UpdateSubscription(ctx context.Context, repo SubscriptionRepository, id uuid.UUID, attempts int, mutate func(*model.Subscription) error) (*model.Subscription, error) {
	if attempts <= 0 {
		attempts = DefaultCASAttempts
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sub, err := repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := mutate(sub); err != nil {
			return nil, err
		}
		err = repo.Update(ctx, sub)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
