// Package credits computes application quotas: a daily allowance derived from
// the applications made in the user's local day, plus persisted banked credits.
package credits

import (
	"time"

	"pipeline/internal/errcode"
)

// Source identifies which balance paid for an application.
type Source string

const (
	SourceDaily  Source = "daily"
	SourceBanked Source = "banked"
)

// DayWindow returns [start, end) of the local day containing now in loc.
// Both bounds are local midnights, so DST days are 23 or 25 hours long.
func DayWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	y, m, d := local.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	end := time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	return start, end
}

// ResolveLocation picks the user's timezone, then the requester's, then fallback.
// Unknown or empty names fall through to the next source.
func ResolveLocation(userTZ, requesterTZ string, fallback *time.Location) *time.Location {
	for _, name := range []string{userTZ, requesterTZ} {
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	if fallback == nil {
		return time.UTC
	}
	return fallback
}

// DailyRemaining is max(0, limit - usedToday).
func DailyRemaining(limit, usedToday int) int {
	if remaining := limit - usedToday; remaining > 0 {
		return remaining
	}
	return 0
}

// Balance is a user's credit position for one local day.
type Balance struct {
	DailyLimit     int       `json:"dailyLimit"`
	DailyUsed      int       `json:"dailyUsed"`
	DailyRemaining int       `json:"dailyRemaining"`
	Banked         int       `json:"banked"`
	Total          int       `json:"total"`
	ResetsAt       time.Time `json:"resetsAt"`
	Timezone       string    `json:"timezone"`
}

// NewBalance assembles a Balance from the counted usage.
func NewBalance(limit, usedToday, banked int, resetsAt time.Time, loc *time.Location) Balance {
	if banked < 0 {
		banked = 0
	}
	remaining := DailyRemaining(limit, usedToday)
	return Balance{
		DailyLimit:     limit,
		DailyUsed:      usedToday,
		DailyRemaining: remaining,
		Banked:         banked,
		Total:          remaining + banked,
		ResetsAt:       resetsAt,
		Timezone:       loc.String(),
	}
}

// Plan picks the source for the next application: daily first, then banked.
func Plan(b Balance) (Source, error) {
	switch {
	case b.DailyRemaining > 0:
		return SourceDaily, nil
	case b.Banked > 0:
		return SourceBanked, nil
	default:
		return "", errcode.NoCredits("credits.Plan")
	}
}
