// Package memory implements the repositories in process. It backs the
// "memory" database driver and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/techmajster/time8-product-sub008/internal/model"
	"github.com/techmajster/time8-product-sub008/internal/repository"
)

// Store holds every table behind one mutex so that a subscription update and
// the paid seat sync on its organization are atomic.
type Store struct {
	mu            sync.RWMutex
	subscriptions map[uuid.UUID]*model.Subscription
	organizations map[uuid.UUID]*model.Organization
	usage         map[uuid.UUID]model.SeatUsage
	alerts        []*model.Alert

	// FailUpdates makes every subscription Update fail with the given error.
	FailUpdates error
}

func NewStore() *Store {
	return &Store{
		subscriptions: make(map[uuid.UUID]*model.Subscription),
		organizations: make(map[uuid.UUID]*model.Organization),
		usage:         make(map[uuid.UUID]model.SeatUsage),
	}
}

func (s *Store) Subscriptions() repository.SubscriptionRepository { return &subscriptionRepo{s} }
func (s *Store) Organizations() repository.OrganizationRepository { return &organizationRepo{s} }
func (s *Store) Alerts() repository.AlertRepository               { return &alertRepo{s} }

// PutOrganization inserts or replaces an organization.
func (s *Store) PutOrganization(org *model.Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	c := *org
	s.organizations[org.ID] = &c
}

func (s *Store) SetSeatUsage(orgID uuid.UUID, usage model.SeatUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[orgID] = usage
}

// Subscription returns a copy of the stored row, or nil.
func (s *Store) Subscription(id uuid.UUID) *model.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sub, ok := s.subscriptions[id]; ok {
		return sub.Clone()
	}
	return nil
}

func (s *Store) Organization(id uuid.UUID) *model.Organization {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if org, ok := s.organizations[id]; ok {
		c := *org
		return &c
	}
	return nil
}

// AlertLog returns every persisted alert in insertion order.
func (s *Store) AlertLog() []*model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

type subscriptionRepo struct{ s *Store }

func (r *subscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Subscription, error) {
	if sub := r.s.Subscription(id); sub != nil {
		return sub, nil
	}
	return nil, repository.ErrNotFound
}

func (r *subscriptionRepo) find(match func(*model.Subscription) bool) []*model.Subscription {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*model.Subscription
	for _, sub := range r.s.subscriptions {
		if match(sub) {
			out = append(out, sub.Clone())
		}
	}
	return out
}

func (r *subscriptionRepo) GetActiveByOrganization(ctx context.Context, orgID uuid.UUID) (*model.Subscription, error) {
	subs := r.find(func(sub *model.Subscription) bool {
		return sub.OrganizationID == orgID &&
			sub.Status != model.SubscriptionStatusCancelled &&
			sub.Status != model.SubscriptionStatusExpired
	})
	if len(subs) == 0 {
		return nil, repository.ErrNotFound
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.After(subs[j].CreatedAt) })
	return subs[0], nil
}

func (r *subscriptionRepo) GetByProviderID(ctx context.Context, providerSubscriptionID string) (*model.Subscription, error) {
	subs := r.find(func(sub *model.Subscription) bool {
		return sub.ProviderSubscriptionID == providerSubscriptionID
	})
	if len(subs) == 0 {
		return nil, repository.ErrNotFound
	}
	return subs[0], nil
}

func (r *subscriptionRepo) Create(ctx context.Context, sub *model.Subscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.Version == 0 {
		sub.Version = 1
	}
	now := time.Now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	r.s.subscriptions[sub.ID] = sub.Clone()
	r.s.syncPaidSeats(sub)
	return nil
}

func (r *subscriptionRepo) Update(ctx context.Context, sub *model.Subscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailUpdates != nil {
		return r.s.FailUpdates
	}
	stored, ok := r.s.subscriptions[sub.ID]
	if !ok || stored.Version != sub.Version {
		return repository.ErrVersionConflict
	}

	next := stored.Clone()
	next.CurrentSeats = sub.CurrentSeats
	next.PendingSeats = sub.PendingSeats
	if sub.ProviderSubscriptionItemID != nil {
		next.ProviderSubscriptionItemID = sub.ProviderSubscriptionItemID
	}
	next.Status = sub.Status
	next.RenewsAt = sub.RenewsAt
	next.QuantitySynced = sub.QuantitySynced
	next.Version++
	next.UpdatedAt = time.Now()
	next = next.Clone()

	r.s.subscriptions[sub.ID] = next
	r.s.syncPaidSeats(next)

	sub.Version = next.Version
	sub.UpdatedAt = next.UpdatedAt
	return nil
}

// syncPaidSeats must be called with mu held.
func (s *Store) syncPaidSeats(sub *model.Subscription) {
	if !sub.Status.Live() && sub.Status != model.SubscriptionStatusPastDue {
		return
	}
	if org, ok := s.organizations[sub.OrganizationID]; ok {
		org.PaidSeats = sub.CurrentSeats
		org.UpdatedAt = time.Now()
	}
}

func (r *subscriptionRepo) SetProviderItemID(ctx context.Context, id uuid.UUID, itemID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.subscriptions[id]
	if !ok || stored.ProviderSubscriptionItemID != nil {
		return false, nil
	}
	stored.ProviderSubscriptionItemID = &itemID
	stored.UpdatedAt = time.Now()
	return true, nil
}

func (r *subscriptionRepo) ListPendingSync(ctx context.Context, from, to time.Time) ([]*model.Subscription, error) {
	subs := r.find(func(sub *model.Subscription) bool {
		return sub.PendingSeats != nil &&
			!sub.QuantitySynced &&
			sub.Status.Live() &&
			sub.RenewsAt != nil &&
			sub.RenewsAt.After(from) &&
			sub.RenewsAt.Before(to)
	})
	sort.Slice(subs, func(i, j int) bool { return subs[i].RenewsAt.Before(*subs[j].RenewsAt) })
	return subs, nil
}

func (r *subscriptionRepo) ListReconcilable(ctx context.Context) ([]*model.Subscription, error) {
	subs := r.find(func(sub *model.Subscription) bool {
		return sub.Status.Live() && sub.ProviderSubscriptionID != ""
	})
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.Before(subs[j].CreatedAt) })
	return subs, nil
}

type organizationRepo struct{ s *Store }

func (r *organizationRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Organization, error) {
	if org := r.s.Organization(id); org != nil {
		return org, nil
	}
	return nil, repository.ErrNotFound
}

func (r *organizationRepo) GetSeatUsage(ctx context.Context, id uuid.UUID) (*model.SeatUsage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if _, ok := r.s.organizations[id]; !ok {
		return nil, repository.ErrNotFound
	}
	usage := r.s.usage[id]
	return &usage, nil
}

type alertRepo struct{ s *Store }

func (r *alertRepo) Create(ctx context.Context, alert *model.Alert) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}
	c := *alert
	r.s.alerts = append(r.s.alerts, &c)
	return nil
}

func (r *alertRepo) ListByCorrelationID(ctx context.Context, correlationID string) ([]*model.Alert, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*model.Alert
	for _, a := range r.s.alerts {
		if a.CorrelationID == correlationID {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}
