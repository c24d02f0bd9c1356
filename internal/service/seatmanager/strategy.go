package seatmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/techmajster/time8-product-sub008/internal/model"
	"github.com/techmajster/time8-product-sub008/internal/provider"
)

type ChargeTiming string

const (
	ChargeImmediate   ChargeTiming = "immediate"
	ChargeEndOfPeriod ChargeTiming = "end_of_period"
	ChargeNone        ChargeTiming = "none"
)

// itemResolver returns the provider item id, fetching it on first use.
type itemResolver func(ctx context.Context) (string, error)

type change struct {
	charge    ChargeTiming
	chargedAt *time.Time
	message   string
}

// strategy pushes a seat change through one billing model.
type strategy interface {
	apply(ctx context.Context, sub *model.Subscription, qty int, opts Options, item itemResolver) (*change, error)
}

func registry(api provider.API, now func() time.Time) map[model.BillingType]strategy {
	return map[model.BillingType]strategy{
		model.BillingTypeUsageBased:    &usageStrategy{api: api},
		model.BillingTypeQuantityBased: &quantityStrategy{api: api, now: now},
		model.BillingTypeLegacyVolume:  legacyStrategy{},
	}
}

// usageStrategy records seat growth as usage billed at period end. Shrinking
// only lowers the local entitlement; recorded usage is never reversed.
type usageStrategy struct {
	api provider.API
}

func (s *usageStrategy) apply(ctx context.Context, sub *model.Subscription, qty int, _ Options, item itemResolver) (*change, error) {
	delta := qty - sub.CurrentSeats
	if delta < 0 {
		return &change{
			charge: ChargeNone,
			message: fmt.Sprintf("Seats reduced from %d to %d. Usage already recorded this period is still billed; "+
				"the lower count applies from the next period.", sub.CurrentSeats, qty),
		}, nil
	}

	itemID, err := item(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.api.CreateUsageRecord(ctx, itemID, delta, provider.UsageIncrement); err != nil {
		return nil, err
	}
	return &change{
		charge:    ChargeEndOfPeriod,
		chargedAt: sub.RenewsAt,
		message: fmt.Sprintf("Added %d seats. They are available now and will be billed at the end of the current period.",
			delta),
	}, nil
}

// quantityStrategy patches the item quantity with proration, so the
// provider charges or credits the difference right away.
type quantityStrategy struct {
	api provider.API
	now func() time.Time
}

func (s *quantityStrategy) apply(ctx context.Context, sub *model.Subscription, qty int, opts Options, item itemResolver) (*change, error) {
	itemID, err := item(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.api.UpdateSubscriptionItem(ctx, itemID, provider.ItemUpdate{
		Quantity:           qty,
		DisableProrations:  false,
		InvoiceImmediately: opts.InvoiceImmediately,
	}); err != nil {
		return nil, err
	}

	now := s.now()
	msg := fmt.Sprintf("Seats changed from %d to %d. The prorated difference is applied to the next invoice.", sub.CurrentSeats, qty)
	if opts.InvoiceImmediately {
		msg = fmt.Sprintf("Seats changed from %d to %d. The prorated difference has been invoiced.", sub.CurrentSeats, qty)
	}
	return &change{charge: ChargeImmediate, chargedAt: &now, message: msg}, nil
}

type legacyStrategy struct{}

func (legacyStrategy) apply(context.Context, *model.Subscription, int, Options, itemResolver) (*change, error) {
	return nil, ErrLegacySubscription
}
