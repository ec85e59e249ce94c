package report_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Afrawles/activityreport/internal/apperr"
	"github.com/Afrawles/activityreport/internal/report"
)

func TestParseDateRange(t *testing.T) {
	start, end, err := report.ParseDateRange("2024-01-01", "2024-01-31", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 1, 31, 23, 59, 59, 999999999, time.UTC), end)

	start, end, err = report.ParseDateRange("2024-03-05", "2024-03-05", time.UTC)
	require.NoError(t, err)
	assert.True(t, report.InWindow(start, start, end))
	assert.Equal(t, 24*time.Hour-time.Nanosecond, end.Sub(start))

	for _, tc := range [][2]string{
		{"2024-02-01", "2024-01-01"},
		{"01/02/2024", "2024-01-31"},
		{"2024-01-01", ""},
	} {
		_, _, err := report.ParseDateRange(tc[0], tc[1], time.UTC)
		require.Error(t, err, "%v", tc)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	}
}

func TestPeriodRange(t *testing.T) {
	// a Wednesday
	now := time.Date(2024, 1, 17, 15, 30, 0, 0, time.UTC)
	last := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 23, 59, 59, 999999999, time.UTC)
	}

	tests := []struct {
		period string
		start  time.Time
		end    time.Time
	}{
		{"today", time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC), last(2024, 1, 17)},
		{"yesterday", time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC), last(2024, 1, 16)},
		{"this-week", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), last(2024, 1, 21)},
		{"last-week", time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), last(2024, 1, 14)},
		{"this-month", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), last(2024, 1, 31)},
		{"last-month", time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC), last(2023, 12, 31)},
	}
	for _, tc := range tests {
		t.Run(tc.period, func(t *testing.T) {
			start, end, err := report.PeriodRange(tc.period, now)
			require.NoError(t, err)
			assert.Equal(t, tc.start, start)
			assert.Equal(t, tc.end, end)
		})
	}

	// Sunday belongs to the week that started on Monday
	start, _, err := report.PeriodRange("this-week", time.Date(2024, 1, 21, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), start)

	_, _, err = report.PeriodRange("fortnight", now)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
