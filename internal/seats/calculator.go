// Package seats holds the pure seat arithmetic shared by the API, the seat
// manager and the batch jobs. Nothing in here performs I/O.
package seats

import "fmt"

// FreeSeats is the number of seats every organization gets without paying.
const FreeSeats = 3

// WarningThreshold is the utilization ratio at which an organization is
// reported as close to its limit.
const WarningThreshold = 0.8

type Status string

const (
	StatusSafe    Status = "safe"
	StatusWarning Status = "warning"
	StatusFull    Status = "full"
	StatusOver    Status = "over"
)

// RequiredPaidSeats is the number of paid seats needed to cover employeeCount.
func RequiredPaidSeats(employeeCount int) int {
	return max(0, employeeCount-FreeSeats)
}

// TotalSeats is the seat ceiling derived from paid seats.
func TotalSeats(paidSeats int) int {
	return paidSeats + FreeSeats
}

func RemainingSeats(paidSeats, employeeCount int) int {
	return max(0, TotalSeats(paidSeats)-employeeCount)
}

// SeatStatus classifies utilization against the paid-seat ceiling.
func SeatStatus(employeeCount, paidSeats int) Status {
	return statusFor(employeeCount, TotalSeats(paidSeats))
}

func statusFor(used, total int) Status {
	switch {
	case used > total:
		return StatusOver
	case used == total:
		return StatusFull
	case total > 0 && float64(used)/float64(total) >= WarningThreshold:
		return StatusWarning
	default:
		return StatusSafe
	}
}

// InvitationCheck is the outcome of ValidateInvitation.
type InvitationCheck struct {
	CanInvite      bool   `json:"can_invite"`
	Reason         string `json:"reason,omitempty"`
	AvailableSeats int    `json:"available_seats"`
	SeatLimit      int    `json:"seat_limit"`
}

// SeatLimit returns the effective ceiling: an active override wins over the
// paid-seat total.
func SeatLimit(paidSeats int, override OverrideResult) int {
	if override.EffectiveSeats != nil {
		return *override.EffectiveSeats
	}
	return TotalSeats(paidSeats)
}

// ValidateInvitation decides whether newInvitations more people fit under
// the effective ceiling. AvailableSeats is reported before the batch.
func ValidateInvitation(currentEmployees, paidSeats, newInvitations int, override OverrideResult) InvitationCheck {
	limit := SeatLimit(paidSeats, override)
	available := max(0, limit-currentEmployees)

	check := InvitationCheck{
		CanInvite:      true,
		AvailableSeats: available,
		SeatLimit:      limit,
	}
	if currentEmployees+newInvitations <= limit {
		return check
	}

	check.CanInvite = false
	if available == 0 {
		check.Reason = fmt.Sprintf("no seats available: all %d seats are in use, upgrade to invite more members", limit)
	} else {
		check.Reason = fmt.Sprintf("not enough seats: %d available but %d invitations requested", available, newInvitations)
	}
	return check
}
