package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/techmajster/time8-product-sub008/internal/repository"
	"github.com/techmajster/time8-product-sub008/pkg/metrics"
)

// Repositories bundles every postgres-backed repository.
type Repositories struct {
	Subscriptions repository.SubscriptionRepository
	Organizations repository.OrganizationRepository
	Alerts        repository.AlertRepository
}

func NewRepositories(db *sqlx.DB, m *metrics.Metrics) *Repositories {
	base := NewBaseRepository(db, m)
	return &Repositories{
		Subscriptions: NewSubscriptionRepository(base),
		Organizations: NewOrganizationRepository(base),
		Alerts:        NewAlertRepository(base),
	}
}
