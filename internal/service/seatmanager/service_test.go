package seatmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techmajster/time8-product-sub008/internal/model"
	"github.com/techmajster/time8-product-sub008/internal/provider"
	"github.com/techmajster/time8-product-sub008/internal/repository/memory"
	"github.com/techmajster/time8-product-sub008/internal/service/alert"
	"github.com/techmajster/time8-product-sub008/pkg/correlation"
	"github.com/techmajster/time8-product-sub008/pkg/lock"
)

type usageCall struct {
	itemID   string
	quantity int
	action   provider.UsageAction
}

type itemCall struct {
	itemID string
	update provider.ItemUpdate
}

type fakeProvider struct {
	mu       sync.Mutex
	gets     []string
	updates  []itemCall
	usage    []usageCall
	itemID   string
	quantity int
	err      error
	getErr   error
}

func (f *fakeProvider) GetSubscription(ctx context.Context, id string) (*provider.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, id)
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &provider.Subscription{ID: id, Status: "active", ItemID: f.itemID, Quantity: f.quantity}, nil
}

func (f *fakeProvider) UpdateSubscriptionItem(ctx context.Context, itemID string, update provider.ItemUpdate) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, itemCall{itemID: itemID, update: update})
	if f.err != nil {
		return 0, f.err
	}
	return update.Quantity, nil
}

func (f *fakeProvider) CreateUsageRecord(ctx context.Context, itemID string, quantity int, action provider.UsageAction) (*provider.UsageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage = append(f.usage, usageCall{itemID: itemID, quantity: quantity, action: action})
	if f.err != nil {
		return nil, f.err
	}
	return &provider.UsageRecord{ID: "rec_1", Quantity: quantity, Action: action}, nil
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.gets) + len(f.updates) + len(f.usage)
}

type fixture struct {
	store *memory.Store
	api   *fakeProvider
	svc   *Service
	org   *model.Organization
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	org := &model.Organization{Name: "Acme", PaidSeats: 5}
	store.PutOrganization(org)
	api := &fakeProvider{itemID: "item_9"}
	alerts := alert.NewService(store.Alerts(), nil, nil)
	svc := NewService(store.Subscriptions(), store.Organizations(), api, lock.NewLocalLocker(), alerts, nil, nil, Config{})
	return &fixture{store: store, api: api, svc: svc, org: org}
}

func (f *fixture) subscription(t *testing.T, billing model.BillingType, seats int, itemID *string) *model.Subscription {
	t.Helper()
	renews := time.Now().Add(20 * 24 * time.Hour)
	sub := &model.Subscription{
		OrganizationID:             f.org.ID,
		BillingType:                billing,
		CurrentSeats:               seats,
		ProviderSubscriptionID:     "sub_" + uuid.NewString()[:8],
		ProviderSubscriptionItemID: itemID,
		Status:                     model.SubscriptionStatusActive,
		RenewsAt:                   &renews,
	}
	require.NoError(t, f.store.Subscriptions().Create(context.Background(), sub))
	return sub
}

func strPtr(s string) *string { return &s }

func TestAddSeats_NoChangeSkipsProvider(t *testing.T) {
	f := newFixture(t)
	for _, billing := range []model.BillingType{model.BillingTypeQuantityBased, model.BillingTypeUsageBased} {
		sub := f.subscription(t, billing, 5, nil)

		res, err := f.svc.AddSeats(context.Background(), sub.ID, 5, Options{})
		require.NoError(t, err)
		assert.True(t, res.NoChange)
		assert.Equal(t, 5, res.CurrentSeats)
	}
	assert.Zero(t, f.api.calls())
}

func TestAddSeats_QuantityBased(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t, model.BillingTypeQuantityBased, 5, strPtr("item_1"))

	ctx := correlation.WithID(context.Background(), "req-1")
	res, err := f.svc.AddSeats(ctx, sub.ID, 8, Options{InvoiceImmediately: true})
	require.NoError(t, err)

	require.Len(t, f.api.updates, 1)
	assert.Equal(t, "item_1", f.api.updates[0].itemID)
	assert.Equal(t, provider.ItemUpdate{Quantity: 8, DisableProrations: false, InvoiceImmediately: true}, f.api.updates[0].update)

	assert.Equal(t, model.BillingTypeQuantityBased, res.BillingType)
	assert.Equal(t, ChargeImmediate, res.Charge)
	assert.NotNil(t, res.ChargedAt)
	assert.Equal(t, 5, res.PreviousSeats)
	assert.Equal(t, 8, res.CurrentSeats)
	assert.Equal(t, "req-1", res.CorrelationID)

	stored := f.store.Subscription(sub.ID)
	assert.Equal(t, 8, stored.CurrentSeats)
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, 8, f.store.Organization(f.org.ID).PaidSeats)
}

func TestAddSeats_UsageBasedRecordsDelta(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t, model.BillingTypeUsageBased, 5, strPtr("item_1"))

	res, err := f.svc.AddSeats(context.Background(), sub.ID, 7, Options{})
	require.NoError(t, err)

	require.Len(t, f.api.usage, 1)
	assert.Equal(t, usageCall{itemID: "item_1", quantity: 2, action: provider.UsageIncrement}, f.api.usage[0])
	assert.Empty(t, f.api.updates)
	assert.Equal(t, ChargeEndOfPeriod, res.Charge)
	require.NotNil(t, res.ChargedAt)
	assert.True(t, sub.RenewsAt.Equal(*res.ChargedAt))
	assert.Equal(t, 7, f.store.Subscription(sub.ID).CurrentSeats)
}

func TestRemoveSeats_UsageBasedIsLocalOnly(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t, model.BillingTypeUsageBased, 7, nil)

	res, err := f.svc.RemoveSeats(context.Background(), sub.ID, 4, Options{})
	require.NoError(t, err)

	assert.Zero(t, f.api.calls())
	assert.Equal(t, ChargeNone, res.Charge)
	assert.Equal(t, 4, f.store.Subscription(sub.ID).CurrentSeats)
}

func TestRemoveSeats_QuantityBased(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t, model.BillingTypeQuantityBased, 9, strPtr("item_1"))

	res, err := f.svc.RemoveSeats(context.Background(), sub.ID, 6, Options{})
	require.NoError(t, err)
	require.Len(t, f.api.updates, 1)
	assert.Equal(t, 6, f.api.updates[0].update.Quantity)
	assert.Equal(t, 6, res.CurrentSeats)
}

func TestChangeSeats_WrongDirection(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t, model.BillingTypeQuantityBased, 6, strPtr("item_1"))

	_, err := f.svc.AddSeats(context.Background(), sub.ID, 4, Options{})
	assert.True(t, errors.Is(err, ErrWrongDirection))
	_, err = f.svc.RemoveSeats(context.Background(), sub.ID, 8, Options{})
	assert.True(t, errors.Is(err, ErrWrongDirection))
	assert.Zero(t, f.api.calls())
}

func TestAddSeats_InvalidQuantity(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t, model.BillingTypeQuantityBased, 1, nil)

	_, err := f.svc.RemoveSeats(context.Background(), sub.ID, 0, Options{})
	assert.True(t, errors.Is(err, ErrInvalidQuantity))
}

func TestAddSeats_ProviderFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	f.api.err = &provider.APIError{Operation: "update_subscription_item", StatusCode: 500}
	sub := f.subscription(t, model.BillingTypeQuantityBased, 5, strPtr("item_1"))

	_, err := f.svc.AddSeats(context.Background(), sub.ID, 8, Options{
		QueuedInvitations: []model.QueuedInvitation{{Email: "a@acme.io"}},
	})
	var apiErr *provider.APIError
	require.True(t, errors.As(err, &apiErr))

	stored := f.store.Subscription(sub.ID)
	assert.Equal(t, 5, stored.CurrentSeats)
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, 5, f.store.Organization(f.org.ID).PaidSeats)
}

func TestAddSeats_UnknownOutcomeRaisesWarning(t *testing.T) {
	f := newFixture(t)
	f.api.err = fmt.Errorf("%w: update_subscription_item: deadline", provider.ErrUnknownOutcome)
	sub := f.subscription(t, model.BillingTypeQuantityBased, 5, strPtr("item_1"))

	_, err := f.svc.AddSeats(context.Background(), sub.ID, 8, Options{})
	assert.True(t, errors.Is(err, provider.ErrUnknownOutcome))
	assert.Equal(t, 5, f.store.Subscription(sub.ID).CurrentSeats)

	alerts := f.store.AlertLog()
	require.Len(t, alerts, 1)
	assert.Equal(t, model.AlertSeverityWarning, alerts[0].Severity)
	assert.Equal(t, model.AlertTypeSeatUnknownOutcome, alerts[0].Type)
	assert.Equal(t, 5, alerts[0].Context["before"])
	assert.Equal(t, 8, alerts[0].Context["after"])
}

func TestAddSeats_PersistFailureRaisesCritical(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t, model.BillingTypeQuantityBased, 5, strPtr("item_1"))
	f.store.FailUpdates = errors.New("connection reset")

	_, err := f.svc.AddSeats(context.Background(), sub.ID, 8, Options{})
	var persistErr *PersistError
	require.True(t, errors.As(err, &persistErr))
	require.Len(t, f.api.updates, 1)

	alerts := f.store.AlertLog()
	require.Len(t, alerts, 1)
	assert.Equal(t, model.AlertSeverityCritical, alerts[0].Severity)
	assert.Equal(t, model.AlertTypeSeatPersistFailed, alerts[0].Type)
}

func TestAddSeats_LazyItemResolution(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t, model.BillingTypeQuantityBased, 5, nil)

	_, err := f.svc.AddSeats(context.Background(), sub.ID, 6, Options{})
	require.NoError(t, err)
	_, err = f.svc.AddSeats(context.Background(), sub.ID, 7, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{sub.ProviderSubscriptionID}, f.api.gets)
	require.Len(t, f.api.updates, 2)
	assert.Equal(t, "item_9", f.api.updates[1].itemID)
	assert.Equal(t, "item_9", f.store.Subscription(sub.ID).ItemID())
}

func TestAddSeats_ItemLookupFailure(t *testing.T) {
	f := newFixture(t)
	f.api.getErr = errors.New("network down")
	sub := f.subscription(t, model.BillingTypeQuantityBased, 5, nil)

	_, err := f.svc.AddSeats(context.Background(), sub.ID, 6, Options{})
	require.Error(t, err)
	assert.Empty(t, f.api.updates)
	assert.Equal(t, 5, f.store.Subscription(sub.ID).CurrentSeats)
}

func TestAddSeats_LegacyFailsFast(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t, model.BillingTypeLegacyVolume, 5, strPtr("item_1"))

	_, err := f.svc.AddSeats(context.Background(), sub.ID, 8, Options{})
	assert.True(t, errors.Is(err, ErrLegacySubscription))

	_, err = f.svc.ScheduleSeats(context.Background(), sub.ID, 8)
	assert.True(t, errors.Is(err, ErrLegacySubscription))

	assert.Zero(t, f.api.calls())
	assert.Equal(t, 5, f.store.Subscription(sub.ID).CurrentSeats)
}

func TestAddSeats_ConcurrentChangeRejected(t *testing.T) {
	f := newFixture(t)
	locker := lock.NewLocalLocker()
	f.svc.locker = locker
	sub := f.subscription(t, model.BillingTypeQuantityBased, 5, strPtr("item_1"))

	held, err := locker.Acquire(context.Background(), "subscription:"+sub.ID.String(), time.Minute)
	require.NoError(t, err)
	defer held.Release(context.Background())

	_, err = f.svc.AddSeats(context.Background(), sub.ID, 8, Options{})
	assert.True(t, errors.Is(err, ErrChangeInProgress))
	assert.Zero(t, f.api.calls())
}

func TestAddSeats_ClearsMatchingPending(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t, model.BillingTypeQuantityBased, 5, strPtr("item_1"))
	_, err := f.svc.ScheduleSeats(context.Background(), sub.ID, 8)
	require.NoError(t, err)

	_, err = f.svc.AddSeats(context.Background(), sub.ID, 8, Options{})
	require.NoError(t, err)

	stored := f.store.Subscription(sub.ID)
	assert.Equal(t, 8, stored.CurrentSeats)
	assert.Nil(t, stored.PendingSeats)
}

func TestAddSeats_SupersedesSyncedPending(t *testing.T) {
	f := newFixture(t)
	renews := time.Now().Add(36 * time.Hour)
	sub := &model.Subscription{
		OrganizationID:             f.org.ID,
		BillingType:                model.BillingTypeQuantityBased,
		CurrentSeats:               5,
		PendingSeats:               model.IntPtr(10),
		QuantitySynced:             true,
		ProviderSubscriptionID:     "sub_synced",
		ProviderSubscriptionItemID: strPtr("item_1"),
		Status:                     model.SubscriptionStatusActive,
		RenewsAt:                   &renews,
	}
	require.NoError(t, f.store.Subscriptions().Create(context.Background(), sub))

	_, err := f.svc.AddSeats(context.Background(), sub.ID, 7, Options{})
	require.NoError(t, err)
	require.Len(t, f.api.updates, 1)
	assert.Equal(t, 7, f.api.updates[0].update.Quantity)

	stored := f.store.Subscription(sub.ID)
	assert.Equal(t, 7, stored.CurrentSeats)
	require.NotNil(t, stored.PendingSeats)
	assert.Equal(t, 10, *stored.PendingSeats)
	assert.False(t, stored.QuantitySynced, "provider now holds 7, so the pending 10 must be pushed again")
	assert.Equal(t, 7, stored.ExpectedProviderSeats())
}

// lockedWriter raises the seat count while the change waits for its lock.
type lockedWriter struct {
	inner  lock.Locker
	before func()
}

func (l *lockedWriter) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Lock, error) {
	l.before()
	return l.inner.Acquire(ctx, key, ttl)
}

func TestAddSeats_DirectionRecheckedUnderLock(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t, model.BillingTypeQuantityBased, 5, strPtr("item_1"))
	f.svc.locker = &lockedWriter{inner: lock.NewLocalLocker(), before: func() {
		stored := f.store.Subscription(sub.ID)
		stored.CurrentSeats = 9
		require.NoError(t, f.store.Subscriptions().Update(context.Background(), stored))
	}}

	_, err := f.svc.AddSeats(context.Background(), sub.ID, 7, Options{})
	assert.ErrorIs(t, err, ErrWrongDirection)
	assert.Zero(t, f.api.calls())
	assert.Equal(t, 9, f.store.Subscription(sub.ID).CurrentSeats)
}

func TestScheduleSeats(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t, model.BillingTypeQuantityBased, 5, strPtr("item_1"))

	res, err := f.svc.ScheduleSeats(context.Background(), sub.ID, 10)
	require.NoError(t, err)
	assert.True(t, res.Scheduled)
	require.NotNil(t, res.PendingSeats)
	assert.Equal(t, 10, *res.PendingSeats)
	assert.Zero(t, f.api.calls())

	stored := f.store.Subscription(sub.ID)
	assert.Equal(t, 5, stored.CurrentSeats)
	assert.Equal(t, 10, *stored.PendingSeats)
	assert.False(t, stored.QuantitySynced)

	res, err = f.svc.ScheduleSeats(context.Background(), sub.ID, 5)
	require.NoError(t, err)
	assert.Nil(t, res.PendingSeats)
	assert.Nil(t, f.store.Subscription(sub.ID).PendingSeats)
}

func TestUpdateSeats_Routing(t *testing.T) {
	f := newFixture(t)
	f.store.SetSeatUsage(f.org.ID, model.SeatUsage{ActiveMembers: 6, PendingInvitations: 1})
	sub := f.subscription(t, model.BillingTypeQuantityBased, 5, strPtr("item_1"))

	res, err := f.svc.UpdateSeats(context.Background(), f.org.ID, UpdateRequest{NewQuantity: 5})
	require.NoError(t, err)
	assert.True(t, res.NoChange)

	res, err = f.svc.UpdateSeats(context.Background(), f.org.ID, UpdateRequest{
		NewQuantity:       7,
		QueuedInvitations: []model.QueuedInvitation{{Email: "new@acme.io"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, res.CurrentSeats)
	assert.Len(t, res.QueuedInvitations, 1)

	invites, ok := f.svc.TakeQueuedInvitations(res.CorrelationID)
	require.True(t, ok)
	assert.Equal(t, "new@acme.io", invites[0].Email)
	_, ok = f.svc.TakeQueuedInvitations(res.CorrelationID)
	assert.False(t, ok)

	res, err = f.svc.UpdateSeats(context.Background(), f.org.ID, UpdateRequest{NewQuantity: 12, ApplyAtRenewal: true})
	require.NoError(t, err)
	assert.True(t, res.Scheduled)
	assert.Equal(t, 7, f.store.Subscription(sub.ID).CurrentSeats)
}

func TestUpdateSeats_BelowUsage(t *testing.T) {
	f := newFixture(t)
	f.store.SetSeatUsage(f.org.ID, model.SeatUsage{ActiveMembers: 8, PendingInvitations: 1})
	f.subscription(t, model.BillingTypeQuantityBased, 6, strPtr("item_1"))

	_, err := f.svc.UpdateSeats(context.Background(), f.org.ID, UpdateRequest{NewQuantity: 5})
	var below *BelowUsageError
	require.True(t, errors.As(err, &below))
	assert.Equal(t, 6, below.Required)
	assert.Zero(t, f.api.calls())
}

func TestUpdateSeats_OverrideCoversUsage(t *testing.T) {
	f := newFixture(t)
	override := 15
	expires := time.Now().Add(time.Hour)
	f.org.BillingOverrideSeats = &override
	f.org.BillingOverrideExpiresAt = &expires
	f.store.PutOrganization(f.org)
	f.store.SetSeatUsage(f.org.ID, model.SeatUsage{ActiveMembers: 10})
	f.subscription(t, model.BillingTypeQuantityBased, 6, strPtr("item_1"))

	res, err := f.svc.UpdateSeats(context.Background(), f.org.ID, UpdateRequest{NewQuantity: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, res.CurrentSeats)
}

func TestUpdateSeats_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.UpdateSeats(context.Background(), uuid.New(), UpdateRequest{NewQuantity: 3})
	assert.True(t, errors.Is(err, ErrOrganizationNotFound))

	_, err = f.svc.UpdateSeats(context.Background(), f.org.ID, UpdateRequest{NewQuantity: 3})
	assert.True(t, errors.Is(err, ErrNoActiveSubscription))
}

func TestUpdateSeats_Legacy(t *testing.T) {
	f := newFixture(t)
	f.subscription(t, model.BillingTypeLegacyVolume, 6, strPtr("item_1"))

	_, err := f.svc.UpdateSeats(context.Background(), f.org.ID, UpdateRequest{NewQuantity: 8})
	assert.True(t, errors.Is(err, ErrLegacySubscription))
}

func TestSnapshotAndValidate(t *testing.T) {
	f := newFixture(t)
	free := &model.Organization{Name: "Free"}
	f.store.PutOrganization(free)
	f.store.SetSeatUsage(free.ID, model.SeatUsage{ActiveMembers: 3})

	check, err := f.svc.ValidateInvitations(context.Background(), free.ID, 1)
	require.NoError(t, err)
	assert.False(t, check.CanInvite)
	assert.Equal(t, 0, check.AvailableSeats)

	f.store.SetSeatUsage(f.org.ID, model.SeatUsage{ActiveMembers: 3})
	check, err = f.svc.ValidateInvitations(context.Background(), f.org.ID, 4)
	require.NoError(t, err)
	assert.True(t, check.CanInvite)
	assert.Equal(t, 5, check.AvailableSeats)

	snap, err := f.svc.Snapshot(context.Background(), f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, snap.TotalSeats)
	assert.Equal(t, 5, snap.AvailableSeats)

	_, err = f.svc.Snapshot(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, ErrOrganizationNotFound))
}
