// Package handler holds what the HTTP handlers share: turning service
// errors into API errors.
package handler

import (
	"context"
	stderrors "errors"

	"github.com/gin-gonic/gin"

	"github.com/techmajster/time8-product-sub008/internal/provider"
	"github.com/techmajster/time8-product-sub008/internal/repository"
	"github.com/techmajster/time8-product-sub008/internal/service/seatmanager"
	"github.com/techmajster/time8-product-sub008/internal/service/webhook"
	"github.com/techmajster/time8-product-sub008/pkg/errors"
	"github.com/techmajster/time8-product-sub008/pkg/httputil"
	"github.com/techmajster/time8-product-sub008/pkg/validator"
)

// AppError maps err onto the API error taxonomy.
func AppError(err error) *errors.AppError {
	if appErr, ok := errors.As(err); ok {
		return appErr
	}

	var (
		below   *seatmanager.BelowUsageError
		persist *seatmanager.PersistError
		apiErr  *provider.APIError
	)
	switch {
	// The provider already applied the change; a client retry would charge twice.
	case stderrors.As(err, &persist):
		return (&errors.AppError{
			Code:    errors.ErrInternal,
			Message: "seat change was applied at the billing provider but could not be saved; do not retry",
			Err:     err,
		}).WithDetail("applied_at_provider", true)
	case stderrors.Is(err, seatmanager.ErrOrganizationNotFound):
		return errors.NotFound("organization", err)
	case stderrors.Is(err, seatmanager.ErrNoActiveSubscription):
		return errors.NotFound("active subscription", err)
	case stderrors.Is(err, seatmanager.ErrLegacySubscription):
		return errors.LegacyBilling("legacy volume subscriptions cannot change seats; create a new subscription", err).
			WithDetail("action_required", seatmanager.ActionCreateNewSubscription)
	case stderrors.As(err, &below):
		return errors.BadRequest(below.Error(), err).
			WithDetail("requested_seats", below.Requested).
			WithDetail("required_seats", below.Required).
			WithDetail("occupied_seats", below.Occupied)
	case stderrors.Is(err, seatmanager.ErrInvalidQuantity),
		stderrors.Is(err, seatmanager.ErrWrongDirection),
		stderrors.Is(err, webhook.ErrMissingOrganization),
		stderrors.Is(err, webhook.ErrInvalidBillingType):
		return errors.BadRequest(err.Error(), err)
	case stderrors.Is(err, seatmanager.ErrChangeInProgress),
		stderrors.Is(err, repository.ErrVersionConflict):
		return errors.Conflict("another seat change is in progress; retry shortly", err)
	case stderrors.Is(err, provider.ErrNotConfigured):
		return errors.Configuration("billing provider is not configured", err)
	case stderrors.Is(err, provider.ErrUnknownOutcome),
		stderrors.Is(err, context.DeadlineExceeded):
		return errors.UnknownOutcome("billing provider did not answer in time; the change may have been applied", err)
	case stderrors.As(err, &apiErr):
		return errors.Provider("billing provider rejected the request", err).
			WithDetail("provider_status", apiErr.StatusCode)
	case stderrors.Is(err, seatmanager.ErrItemUnresolved):
		return errors.Provider("billing provider subscription has no item", err)
	case stderrors.Is(err, repository.ErrNotFound):
		return errors.NotFound("resource", err)
	default:
		return errors.Internal(err)
	}
}

// Fail records err on the gin context for logging and writes the mapped
// error response.
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
	httputil.RespondWithError(c, AppError(err))
}

// BindFailed writes a 400 for a body that failed to bind, listing the
// offending fields when validation caused it.
func BindFailed(c *gin.Context, err error) {
	appErr := errors.BadRequest("invalid request body", err)
	if fields := validator.FieldErrors(err); fields != nil {
		appErr.WithDetail("fields", fields)
	}
	Fail(c, appErr)
}
