package main

import (
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Afrawles/activityreport/internal/apperr"
	"github.com/Afrawles/activityreport/internal/report"
)

func TestParseCommaList(t *testing.T) {
	assert.Equal(t, []string{"alice", "bob"}, parseCommaList(" alice, ,bob "))
	assert.Empty(t, parseCommaList(""))
}

func TestReportWindow(t *testing.T) {
	now := time.Date(2024, 1, 17, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		start     string
		end       string
		period    string
		wantStart string
		wantEnd   string
	}{
		{"default last seven days", "", "", "", "2024-01-11", "2024-01-17"},
		{"explicit range", "2024-01-01", "2024-01-05", "", "2024-01-01", "2024-01-05"},
		{"start only", "2024-01-10", "", "", "2024-01-10", "2024-01-17"},
		{"period", "", "", "last-week", "2024-01-08", "2024-01-14"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			startDate, endDate, period = tc.start, tc.end, tc.period
			t.Cleanup(func() { startDate, endDate, period = "", "", "" })

			start, end, err := reportWindow(now, time.UTC)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStart, start.Format("2006-01-02"))
			assert.Equal(t, tc.wantEnd, end.Format("2006-01-02"))
			assert.Equal(t, 23, end.Hour())
		})
	}

	startDate, endDate = "2024-02-01", "2024-01-01"
	t.Cleanup(func() { startDate, endDate = "", "" })
	_, _, err := reportWindow(now, time.UTC)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestMissingDataFollowsSourceOrder(t *testing.T) {
	r := &report.Report{Users: []report.UserReport{
		{User: report.User{Name: "Alice"}},
		{
			User: report.User{Name: "Bob"},
			Errors: map[report.Source]error{
				report.SourceJira:     goerr.New("jira down", goerr.T(apperr.TagNetwork)),
				report.SourceTestRail: goerr.New("bad key", goerr.T(apperr.TagAuthentication)),
			},
		},
	}}

	// map iteration order is random, repeat to catch unordered output
	for range 20 {
		lines := missingData(r)
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], "TestRail data for Bob is missing")
		assert.Contains(t, lines[0], apperr.UserMessage(r.Users[1].Errors[report.SourceTestRail]))
		assert.Contains(t, lines[1], "Jira data for Bob is missing")
	}
	assert.Empty(t, missingData(&report.Report{}))
}
