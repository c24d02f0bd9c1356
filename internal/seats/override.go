package seats

import "time"

// OverrideResult describes a manual seat ceiling at a given instant.
type OverrideResult struct {
	IsActive       bool       `json:"is_active"`
	IsExpired      bool       `json:"is_expired"`
	EffectiveSeats *int       `json:"effective_seats"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// CheckOverride evaluates a billing override against now. Overrides lapse
// silently, so callers must evaluate on every request and never keep the
// result. A nil expiry never lapses.
func CheckOverride(seats *int, expiresAt *time.Time, now time.Time) OverrideResult {
	res := OverrideResult{ExpiresAt: expiresAt}
	if seats == nil || *seats <= 0 {
		return res
	}
	if expiresAt != nil && expiresAt.Before(now) {
		res.IsExpired = true
		return res
	}
	v := *seats
	res.IsActive = true
	res.EffectiveSeats = &v
	return res
}
