package model

import (
	"time"

	"github.com/google/uuid"
)

type Organization struct {
	ID                       uuid.UUID  `db:"id" json:"id"`
	Name                     string     `db:"name" json:"name"`
	PaidSeats                int        `db:"paid_seats" json:"paid_seats"`
	BillingOverrideSeats     *int       `db:"billing_override_seats" json:"billing_override_seats,omitempty"`
	BillingOverrideExpiresAt *time.Time `db:"billing_override_expires_at" json:"billing_override_expires_at,omitempty"`
	CreatedAt                time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time  `db:"updated_at" json:"updated_at"`
}

// SeatUsage is the raw occupancy of an organization.
type SeatUsage struct {
	ActiveMembers      int `db:"active_members" json:"active_members"`
	PendingInvitations int `db:"pending_invitations" json:"pending_invitations"`
}

// Occupied is every member or outstanding invitation holding a seat.
func (u SeatUsage) Occupied() int {
	return u.ActiveMembers + u.PendingInvitations
}

// QueuedInvitation is an invite the caller wants sent once a seat change is
// confirmed.
type QueuedInvitation struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role,omitempty"`
	Name  string `json:"name,omitempty"`
}
