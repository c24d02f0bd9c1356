package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyConfirmedSeats_ClearsMatchingPending(t *testing.T) {
	sub := &Subscription{CurrentSeats: 5, PendingSeats: IntPtr(8), QuantitySynced: true}
	sub.ApplyConfirmedSeats(8)

	assert.Equal(t, 8, sub.CurrentSeats)
	assert.Nil(t, sub.PendingSeats)
	assert.False(t, sub.QuantitySynced)
}

func TestApplyConfirmedSeats_ImmediateChangeThenRenewal(t *testing.T) {
	renews := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	sub := &Subscription{
		CurrentSeats:   5,
		PendingSeats:   IntPtr(10),
		QuantitySynced: true,
		RenewsAt:       &renews,
	}

	// Immediate change overwrites the quantity the provider holds.
	sub.ApplyConfirmedSeats(7)
	assert.Equal(t, 7, sub.CurrentSeats)
	assert.Equal(t, 10, *sub.PendingSeats)
	assert.False(t, sub.QuantitySynced)
	assert.Equal(t, 7, sub.ExpectedProviderSeats())

	// The provider renews and bills 7; local seats must agree.
	next := renews.AddDate(0, 1, 0)
	renewed := sub.ApplyProviderState(IntPtr(7), &next)
	assert.False(t, renewed)
	assert.Equal(t, 7, sub.CurrentSeats)
	assert.Equal(t, next, *sub.RenewsAt)
}

func TestApplyProviderState_SyncedPendingRenews(t *testing.T) {
	renews := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	sub := &Subscription{CurrentSeats: 5, PendingSeats: IntPtr(3), QuantitySynced: true, RenewsAt: &renews}

	assert.False(t, sub.ApplyProviderState(IntPtr(3), &renews))
	assert.Equal(t, 5, sub.CurrentSeats)

	next := renews.AddDate(0, 1, 0)
	assert.True(t, sub.ApplyProviderState(IntPtr(3), &next))
	assert.Equal(t, 3, sub.CurrentSeats)
	assert.Nil(t, sub.PendingSeats)
	assert.False(t, sub.QuantitySynced)
}
