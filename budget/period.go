package budget

import (
	"time"

	"github.com/costguard/costguard/policy"
)

// Bounds returns the half-open [start, end) UTC window that ref falls into
// for the given period (spec §4.3). Monthly bounds are computed with
// time.Time.AddDate, which normalizes month overflow on its own -- a
// December period's end lands on January 1 of the following year with no
// special-cased rollover logic required.
func Bounds(period policy.Period, ref time.Time) (start, end time.Time) {
	ref = ref.UTC()
	switch period {
	case policy.PeriodHourly:
		start = time.Date(ref.Year(), ref.Month(), ref.Day(), ref.Hour(), 0, 0, 0, time.UTC)
		end = start.Add(time.Hour)
	case policy.PeriodDaily:
		start = time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 0, 1)
	case policy.PeriodWeekly:
		day := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
		// ISO week: Monday is the first day. time.Weekday numbers Sunday=0,
		// so (weekday+6)%7 gives days elapsed since the most recent Monday.
		sinceMonday := (int(day.Weekday()) + 6) % 7
		start = day.AddDate(0, 0, -sinceMonday)
		end = start.AddDate(0, 0, 7)
	case policy.PeriodMonthly:
		start = time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, 0)
	default:
		start = ref
		end = ref
	}
	return start, end
}
