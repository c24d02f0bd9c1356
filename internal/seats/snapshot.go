package seats

import "time"

// Snapshot is the derived seat state of an organization. It is rebuilt for
// every read.
type Snapshot struct {
	PaidSeats      int            `json:"paid_seats"`
	FreeSeats      int            `json:"free_seats"`
	TotalSeats     int            `json:"total_seats"`
	ActiveMembers  int            `json:"active_members"`
	PendingInvites int            `json:"pending_invitations"`
	UsedSeats      int            `json:"used_seats"`
	AvailableSeats int            `json:"available_seats"`
	Status         Status         `json:"status"`
	Override       OverrideResult `json:"override"`
}

// SnapshotInput carries the raw counts a snapshot is computed from.
type SnapshotInput struct {
	PaidSeats          int
	ActiveMembers      int
	PendingInvitations int
	OverrideSeats      *int
	OverrideExpiresAt  *time.Time
}

func BuildSnapshot(in SnapshotInput, now time.Time) Snapshot {
	override := CheckOverride(in.OverrideSeats, in.OverrideExpiresAt, now)
	total := SeatLimit(in.PaidSeats, override)
	used := in.ActiveMembers + in.PendingInvitations

	return Snapshot{
		PaidSeats:      in.PaidSeats,
		FreeSeats:      FreeSeats,
		TotalSeats:     total,
		ActiveMembers:  in.ActiveMembers,
		PendingInvites: in.PendingInvitations,
		UsedSeats:      used,
		AvailableSeats: max(0, total-used),
		Status:         statusFor(used, total),
		Override:       override,
	}
}
