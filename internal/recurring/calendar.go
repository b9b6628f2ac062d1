package recurring

import (
	"time"

	"github.com/hray3182/ledgerline/internal/errs"
	"github.com/hray3182/ledgerline/internal/models"
)

// Advance returns the due date that follows from for the given cadence.
// Months are added calendar-wise with the day capped at the target month's
// last day, so Jan 31 + 1 month is Feb 28 (29 in leap years). Time of day
// and location are kept.
func Advance(freq models.Frequency, interval int, from time.Time) (time.Time, error) {
	const op = "recurring.Advance"
	if interval < 1 {
		return time.Time{}, errs.Validation(op, "interval must be at least 1, got %d", interval)
	}

	switch freq {
	case models.FrequencyDaily:
		return from.AddDate(0, 0, interval), nil
	case models.FrequencyWeekly:
		return from.AddDate(0, 0, 7*interval), nil
	case models.FrequencyMonthly:
		return addMonths(from, interval), nil
	case models.FrequencyYearly:
		return addMonths(from, 12*interval), nil
	default:
		return time.Time{}, errs.Validation(op, "invalid frequency: %q", freq)
	}
}

func addMonths(t time.Time, months int) time.Time {
	total := int(t.Month()) - 1 + months
	year := t.Year() + total/12
	month := time.Month(total%12 + 1)

	day := t.Day()
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// daysIn returns the number of days in month of year.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
