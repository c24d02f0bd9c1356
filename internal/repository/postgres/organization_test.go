package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techmajster/time8-product-sub008/internal/model"
	"github.com/techmajster/time8-product-sub008/internal/repository"
)

func TestOrganizationRepository_GetByID(t *testing.T) {
	base, mock := newMockBase(t)
	repo := NewOrganizationRepository(base)

	id := uuid.New()
	expires := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Second)
	now := time.Now().UTC().Truncate(time.Second)

	mock.ExpectQuery(regexp.QuoteMeta("FROM organizations")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "paid_seats", "billing_override_seats", "billing_override_expires_at", "created_at", "updated_at",
		}).AddRow(id.String(), "Acme", 5, 20, expires, now, now))

	org, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Acme", org.Name)
	assert.Equal(t, 5, org.PaidSeats)
	require.NotNil(t, org.BillingOverrideSeats)
	assert.Equal(t, 20, *org.BillingOverrideSeats)
	require.NotNil(t, org.BillingOverrideExpiresAt)
	assert.True(t, expires.Equal(*org.BillingOverrideExpiresAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrganizationRepository_GetByID_NotFound(t *testing.T) {
	base, mock := newMockBase(t)
	repo := NewOrganizationRepository(base)

	mock.ExpectQuery(regexp.QuoteMeta("FROM organizations")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestOrganizationRepository_GetSeatUsage(t *testing.T) {
	base, mock := newMockBase(t)
	repo := NewOrganizationRepository(base)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM organization_members")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"active_members", "pending_invitations"}).AddRow(4, 2))

	usage, err := repo.GetSeatUsage(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.SeatUsage{ActiveMembers: 4, PendingInvitations: 2}, *usage)
	assert.Equal(t, 6, usage.Occupied())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertRepository_Create(t *testing.T) {
	base, mock := newMockBase(t)
	repo := NewAlertRepository(base)

	subID := uuid.New()
	alert := &model.Alert{
		Severity:       model.AlertSeverityCritical,
		Type:           model.AlertTypeSeatDrift,
		Title:          "Seat drift",
		Message:        "local 8 provider 6",
		JobName:        "reconcile-seats",
		SubscriptionID: &subID,
		CorrelationID:  "run-1",
		Context:        model.JSONMap{"difference": 2},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO seat_alerts")).
		WithArgs(sqlmock.AnyArg(), "critical", "seat_drift", "Seat drift", "local 8 provider 6", "reconcile-seats",
			sqlmock.AnyArg(), sqlmock.AnyArg(), "run-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), alert))
	assert.NotEqual(t, uuid.Nil, alert.ID)
	assert.False(t, alert.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}
