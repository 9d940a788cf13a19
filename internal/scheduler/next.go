package scheduler

import (
	"time"

	"github.com/maes-platform/compliance-core/internal/model"
)

// fireHour is the UTC hour of day at which scheduled assessments run.
const fireHour = 2

// NextAfter returns the next fire time strictly after now for the given
// cadence. All cadences fire at 02:00 UTC: daily on the next day, weekly on
// the upcoming Sunday, monthly on the 1st of the next month, quarterly on
// the 1st three months out.
func NextAfter(freq model.Frequency, now time.Time) time.Time {
	now = now.UTC()
	switch freq {
	case model.FrequencyDaily:
		next := time.Date(now.Year(), now.Month(), now.Day(), fireHour, 0, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	case model.FrequencyWeekly:
		days := (7 - int(now.Weekday())) % 7
		next := time.Date(now.Year(), now.Month(), now.Day(), fireHour, 0, 0, 0, time.UTC).AddDate(0, 0, days)
		if !next.After(now) {
			next = next.AddDate(0, 0, 7)
		}
		return next
	case model.FrequencyMonthly:
		next := time.Date(now.Year(), now.Month(), 1, fireHour, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
		return next
	case model.FrequencyQuarterly:
		return time.Date(now.Year(), now.Month(), 1, fireHour, 0, 0, 0, time.UTC).AddDate(0, 3, 0)
	}
	// Unknown cadences fall back to daily so a bad row cannot wedge the
	// scheduler.
	return NextAfter(model.FrequencyDaily, now)
}
