package subscriptions

import (
	"time"

	"github.com/settla/settla-backend/pkg/enums"
)

// AddPeriod advances t by one billing period. When the target month is
// shorter than t's day, the result lands on that month's last day.
func AddPeriod(t time.Time, duration enums.BillingDuration) time.Time {
	months := 1
	if duration == enums.BillingDurationYearly {
		months = 12
	}
	return addMonthsClamped(t, months)
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	firstOfTarget := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	if d > lastDay {
		d = lastDay
	}
	hh, mm, ss := t.Clock()
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), d, hh, mm, ss, t.Nanosecond(), t.Location())
}

// RenewalEnd extends from the later of the current end and now.
func RenewalEnd(currentEnd *time.Time, now time.Time, duration enums.BillingDuration) time.Time {
	base := now
	if currentEnd != nil && currentEnd.After(now) {
		base = *currentEnd
	}
	return AddPeriod(base, duration)
}

// GrantEnd is the end of a manual grant: 30 days monthly, 365 days yearly.
func GrantEnd(start time.Time, duration enums.BillingDuration) time.Time {
	if duration == enums.BillingDurationYearly {
		return start.AddDate(0, 0, 365)
	}
	return start.AddDate(0, 0, 30)
}
