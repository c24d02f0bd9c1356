package seatmanager

import (
	"errors"
	"fmt"
)

// ActionCreateNewSubscription is the remedy reported for legacy subscriptions.
const ActionCreateNewSubscription = "create_new_subscription"

var (
	ErrLegacySubscription   = errors.New("legacy volume subscriptions cannot change seats")
	ErrNoActiveSubscription = errors.New("organization has no active subscription")
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrInvalidQuantity      = errors.New("seat quantity must be at least 1")
	ErrWrongDirection       = errors.New("seat change goes the wrong way")
	ErrChangeInProgress     = errors.New("another seat change is in progress")
	ErrItemUnresolved       = errors.New("provider subscription item could not be resolved")
)

// BelowUsageError is returned when a requested quantity would leave
// occupied seats unpaid.
type BelowUsageError struct {
	Requested int
	Required  int
	Occupied  int
}

func (e *BelowUsageError) Error() string {
	return fmt.Sprintf("requested %d paid seats but %d are required for %d occupied seats",
		e.Requested, e.Required, e.Occupied)
}

// PersistError means the provider accepted the change but the local record
// could not be written. Reconciliation will surface the drift.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("provider updated but local seat count was not saved: %v", e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
