package report

import (
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Afrawles/activityreport/internal/apperr"
)

const dateLayout = "2006-01-02"

// Periods lists the names accepted by PeriodRange.
var Periods = []string{"today", "yesterday", "this-week", "last-week", "this-month", "last-month"}

// ParseDateRange parses YYYY-MM-DD dates in loc. The end date covers its
// whole day.
func ParseDateRange(startDate, endDate string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	start, err := time.ParseInLocation(dateLayout, strings.TrimSpace(startDate), loc)
	if err != nil {
		return time.Time{}, time.Time{}, goerr.Wrap(err, "invalid start date", goerr.V("start", startDate), goerr.T(apperr.TagValidation))
	}
	end, err := time.ParseInLocation(dateLayout, strings.TrimSpace(endDate), loc)
	if err != nil {
		return time.Time{}, time.Time{}, goerr.Wrap(err, "invalid end date", goerr.V("end", endDate), goerr.T(apperr.TagValidation))
	}
	end = EndOfDay(end)
	if err := ValidateRange(start, end); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// ValidateRange rejects windows whose start is after their end.
func ValidateRange(start, end time.Time) error {
	if start.After(end) {
		return goerr.New("start date is after end date",
			goerr.V("start", start.Format(dateLayout)),
			goerr.V("end", end.Format(dateLayout)),
			goerr.T(apperr.TagValidation))
	}
	return nil
}

// EndOfDay returns the last instant of t's calendar day.
func EndOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// PeriodRange returns the inclusive window of a named period relative to now.
// Weeks start on Monday.
func PeriodRange(period string, now time.Time) (time.Time, time.Time, error) {
	var start, next time.Time
	today := startOfDay(now)

	switch strings.ToLower(strings.TrimSpace(period)) {
	case "today":
		start = today
		next = start.AddDate(0, 0, 1)
	case "yesterday":
		start = today.AddDate(0, 0, -1)
		next = today
	case "this-week", "thisweek":
		start = today.AddDate(0, 0, -daysSinceMonday(now))
		next = start.AddDate(0, 0, 7)
	case "last-week", "lastweek":
		next = today.AddDate(0, 0, -daysSinceMonday(now))
		start = next.AddDate(0, 0, -7)
	case "this-month", "thismonth":
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		next = start.AddDate(0, 1, 0)
	case "last-month", "lastmonth":
		next = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		start = next.AddDate(0, -1, 0)
	default:
		return time.Time{}, time.Time{}, goerr.New("unknown period",
			goerr.V("period", period),
			goerr.V("valid", strings.Join(Periods, ", ")),
			goerr.T(apperr.TagValidation))
	}
	return start, next.Add(-time.Nanosecond), nil
}

func daysSinceMonday(t time.Time) int {
	d := int(t.Weekday() - time.Monday)
	if d < 0 {
		d += 7
	}
	return d
}

// FormatDateRange renders a window as "YYYY-MM-DD to YYYY-MM-DD".
func FormatDateRange(start, end time.Time) string {
	return start.Format(dateLayout) + " to " + end.Format(dateLayout)
}
