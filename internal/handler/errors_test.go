package handler

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/techmajster/time8-product-sub008/internal/provider"
	"github.com/techmajster/time8-product-sub008/internal/repository"
	"github.com/techmajster/time8-product-sub008/internal/service/seatmanager"
)

func TestAppError_Statuses(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"organization", seatmanager.ErrOrganizationNotFound, http.StatusNotFound},
		{"no subscription", fmt.Errorf("wrap: %w", seatmanager.ErrNoActiveSubscription), http.StatusNotFound},
		{"legacy", seatmanager.ErrLegacySubscription, http.StatusBadRequest},
		{"below usage", &seatmanager.BelowUsageError{Requested: 2, Required: 4, Occupied: 7}, http.StatusBadRequest},
		{"lock", seatmanager.ErrChangeInProgress, http.StatusConflict},
		{"unknown outcome", fmt.Errorf("patch: %w", provider.ErrUnknownOutcome), http.StatusGatewayTimeout},
		{"provider", &provider.APIError{Operation: "update", StatusCode: 422, Detail: "bad"}, http.StatusBadGateway},
		{"persist", &seatmanager.PersistError{Err: fmt.Errorf("db down")}, http.StatusInternalServerError},
		{"not configured", provider.ErrNotConfigured, http.StatusInternalServerError},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AppError(tc.err).StatusCode())
		})
	}
}

func TestAppError_LegacyCarriesAction(t *testing.T) {
	appErr := AppError(seatmanager.ErrLegacySubscription)
	assert.Equal(t, seatmanager.ActionCreateNewSubscription, appErr.Details["action_required"])
}

func TestAppError_PersistFailureIsNotRetryable(t *testing.T) {
	err := &seatmanager.PersistError{Err: fmt.Errorf("persist seats: %w", repository.ErrVersionConflict)}

	appErr := AppError(err)
	assert.Equal(t, http.StatusInternalServerError, appErr.StatusCode())
	assert.Equal(t, true, appErr.Details["applied_at_provider"])
	assert.Contains(t, appErr.Message, "do not retry")
}

func TestAppError_VersionConflictIsConflict(t *testing.T) {
	assert.Equal(t, http.StatusConflict, AppError(repository.ErrVersionConflict).StatusCode())
}
