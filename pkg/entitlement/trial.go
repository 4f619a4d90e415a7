package entitlement

import "time"

// DefaultTrialDays is the welcome trial length for new users.
const DefaultTrialDays = 9

const day = 24 * time.Hour

// TrialStatus is the authoritative trial state derived from stored dates and
// the current time.
type TrialStatus struct {
	IsOnTrial     bool       `json:"isOnTrial"`
	IsExpired     bool       `json:"isExpired"`
	DaysRemaining int        `json:"daysRemaining"`
	EndsAt        *time.Time `json:"endsAt,omitempty"`
}

// InitializeTrial returns metadata for a welcome trial of durationDays
// starting at now. Non-positive durations fall back to DefaultTrialDays.
func InitializeTrial(durationDays int, now time.Time) *Metadata {
	if durationDays <= 0 {
		durationDays = DefaultTrialDays
	}
	start := now
	end := now.Add(time.Duration(durationDays) * day)
	return &Metadata{
		IsWelcomeTrial:            true,
		TrialStartDate:            &start,
		TrialEndDate:              &end,
		RequiresPaymentAfterTrial: true,
		Source:                    SourceTrial,
	}
}

// TrialStatusAt computes trial status at now. Days remaining is the ceiling
// of the whole days left, clamped at zero; a trial with zero days left is
// expired, so the end instant itself is already past the trial.
//
// A welcome trial without an end date is treated as expired.
func TrialStatusAt(md *Metadata, now time.Time) TrialStatus {
	if md == nil || !md.IsWelcomeTrial {
		return TrialStatus{}
	}

	status := TrialStatus{IsOnTrial: true}
	if md.TrialEndDate == nil {
		status.IsExpired = true
		return status
	}
	status.EndsAt = cloneTime(md.TrialEndDate)
	status.DaysRemaining = daysUntil(*md.TrialEndDate, now)
	status.IsExpired = status.DaysRemaining <= 0
	return status
}

// daysUntil returns ceil((end-now)/24h), clamped to >= 0.
func daysUntil(end, now time.Time) int {
	remaining := end.Sub(now)
	if remaining <= 0 {
		return 0
	}
	days := int(remaining / day)
	if remaining%day != 0 {
		days++
	}
	return days
}
