package report_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Afrawles/activityreport/internal/apperr"
	"github.com/Afrawles/activityreport/internal/report"
)

type fakeSource struct {
	name       report.Source
	activities map[string][]report.Activity
	failures   map[string]error

	mu    sync.Mutex
	calls []string
}

func (f *fakeSource) Name() report.Source { return f.name }
func (f *fakeSource) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeSource) ActivityReport(ctx context.Context, ids []string, start, end time.Time) (*report.SourceReport, error) {
	f.mu.Lock()
	f.calls = append(f.calls, ids...)
	f.mu.Unlock()

	var out []report.Activity
	for _, id := range ids {
		if err := f.failures[id]; err != nil {
			return nil, err
		}
		out = append(out, f.activities[id]...)
	}
	return report.NewSourceReport(f.name, out), nil
}

var (
	windowStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = report.EndOfDay(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
)

func day(d, hour int) time.Time {
	return time.Date(2024, 1, d, hour, 0, 0, 0, time.UTC)
}

func execution(id, user string, ts time.Time) report.Activity {
	return report.TestRailActivity{
		ActivityBase: report.ActivityBase{
			ID: id, UserID: user, UserName: "TR " + user,
			Kind: report.KindExecution, Timestamp: ts,
		},
		ProjectName:   "Web",
		TestCaseTitle: "Case " + id,
		TestRunName:   "Smoke",
		Status:        "Passed",
	}
}

func comment(id, user string, ts time.Time) report.Activity {
	return report.JiraActivity{
		ActivityBase: report.ActivityBase{
			ID: id, UserID: user, UserName: "Jira " + user,
			Kind: report.KindCommentAdded, Timestamp: ts, Comment: "done",
		},
		IssueKey:   "QA-1",
		IssueTitle: "Login broken",
	}
}

func newGenerator(sources ...report.ActivitySource) *report.Generator {
	g := report.NewGenerator(sources...)
	g.Location = time.UTC
	return g
}

func TestGenerateScenario(t *testing.T) {
	alice := report.User{ID: "alice", Name: "Alice", Email: "alice@example.com", TestRailID: "7"}
	bob := report.User{ID: "bob", Name: "Bob", Email: "bob@example.com", JiraID: "acc-2"}

	tr := &fakeSource{name: report.SourceTestRail, activities: map[string][]report.Activity{
		"7": {
			execution("r1", "7", day(3, 9)),
			execution("r2", "7", day(10, 9)),
			execution("r3", "7", day(20, 9)),
			execution("r4", "7", time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)),
		},
	}}
	jr := &fakeSource{name: report.SourceJira, activities: map[string][]report.Activity{
		"acc-2": {
			comment("c1", "acc-2", day(5, 12)),
			comment("c2", "acc-2", day(15, 12)),
		},
	}}

	rep, err := newGenerator(tr, jr).Generate(context.Background(), []report.User{alice, bob}, windowStart, windowEnd)
	require.NoError(t, err)

	assert.Len(t, rep.Consolidated, 5)
	assert.Equal(t, 5, rep.Summary.TotalActivities)
	assert.Equal(t, 3, rep.Summary.TestRailActivities())
	assert.Equal(t, 2, rep.Summary.JiraActivities())
	assert.Equal(t, 2, rep.Summary.TotalUsers)
	assert.Equal(t, "2024-01-01 to 2024-01-31", rep.Summary.DateRange)

	require.Len(t, rep.Summary.PerUser, 2)
	assert.Equal(t, report.UserSummary{User: alice, TestRail: 3, Total: 3}, rep.Summary.PerUser[0])
	assert.Equal(t, report.UserSummary{User: bob, Jira: 2, Total: 2}, rep.Summary.PerUser[1])
	assert.Equal(t, 2.5, rep.Summary.MeanPerUser)
	assert.Equal(t, 2.5, rep.Summary.MedianPerUser)

	// users without an id for a source are never queried there
	assert.Equal(t, []string{"7"}, tr.calls)
	assert.Equal(t, []string{"acc-2"}, jr.calls)

	first := rep.Consolidated[0]
	assert.Equal(t, alice, first.User)
	assert.Equal(t, "2024-01-03", first.Date)
	assert.Equal(t, report.SourceTestRail, first.Source)
	assert.Equal(t, "Test Execution", first.ActivityType)
	assert.Equal(t, "Case r1", first.Description)
	assert.Equal(t, "Run: Smoke | Status: Passed | Project: Web", first.Details)

	second := rep.Consolidated[1]
	assert.Equal(t, bob, second.User)
	assert.Equal(t, "Comment Added", second.ActivityType)
	assert.Equal(t, "QA-1: Login broken", second.Description)
	assert.Equal(t, "done", second.Details)
}

func TestGenerateIsolatesSourceFailures(t *testing.T) {
	alice := report.User{ID: "alice", Name: "Alice", Email: "alice@example.com", TestRailID: "7", JiraID: "acc-1"}
	bob := report.User{ID: "bob", Name: "Bob", Email: "bob@example.com", TestRailID: "8", JiraID: "acc-2"}

	tr := &fakeSource{
		name: report.SourceTestRail,
		activities: map[string][]report.Activity{
			"7": {execution("r1", "7", day(2, 9))},
			"8": {execution("r2", "8", day(3, 9))},
		},
		failures: map[string]error{
			"7": goerr.New("connection reset", goerr.T(apperr.TagNetwork)),
		},
	}
	jr := &fakeSource{name: report.SourceJira, activities: map[string][]report.Activity{
		"acc-1": {comment("c1", "acc-1", day(4, 9))},
		"acc-2": {comment("c2", "acc-2", day(5, 9))},
	}}

	rep, err := newGenerator(tr, jr).Generate(context.Background(), []report.User{alice, bob}, windowStart, windowEnd)
	require.NoError(t, err)

	require.Len(t, rep.Users, 2)
	assert.NotContains(t, rep.Users[0].Sources, report.SourceTestRail)
	assert.Equal(t, apperr.KindNetwork, apperr.KindOf(rep.Users[0].Errors[report.SourceTestRail]))
	assert.Contains(t, rep.Users[0].Sources, report.SourceJira)
	assert.Empty(t, rep.Users[1].Errors)

	assert.Len(t, rep.Consolidated, 3)
	assert.Equal(t, report.UserSummary{User: alice, Jira: 1, Total: 1}, rep.Summary.PerUser[0])
	assert.Equal(t, report.UserSummary{User: bob, TestRail: 1, Jira: 1, Total: 2}, rep.Summary.PerUser[1])
}

func TestGenerateIsIdempotent(t *testing.T) {
	users := []report.User{
		{ID: "alice", Name: "Alice", Email: "alice@example.com", TestRailID: "7", JiraID: "acc-1"},
		{ID: "bob", Name: "Bob", Email: "bob@example.com", TestRailID: "8"},
	}
	tr := &fakeSource{name: report.SourceTestRail, activities: map[string][]report.Activity{
		"7": {execution("r1", "7", day(2, 9)), execution("r2", "7", day(2, 9))},
		"8": {execution("r3", "8", day(2, 9))},
	}}
	jr := &fakeSource{name: report.SourceJira, activities: map[string][]report.Activity{
		"acc-1": {comment("c1", "acc-1", day(2, 9))},
	}}

	render := func() []byte {
		g := newGenerator(tr, jr)
		g.Concurrency = 2
		rep, err := g.Generate(context.Background(), users, windowStart, windowEnd)
		require.NoError(t, err)
		data, err := json.Marshal(struct {
			Consolidated []report.ConsolidatedActivity
			Summary      report.Summary
		}{rep.Consolidated, rep.Summary})
		require.NoError(t, err)
		return data
	}

	first := render()
	for range 5 {
		assert.Equal(t, string(first), string(render()))
	}
}

func TestGenerateInvariantsWithRandomFixtures(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))

	var users []report.User
	tr := &fakeSource{name: report.SourceTestRail, activities: map[string][]report.Activity{}}
	jr := &fakeSource{name: report.SourceJira, activities: map[string][]report.Activity{}}

	span := windowEnd.Sub(windowStart) + 20*24*time.Hour
	randomTime := func() time.Time {
		return windowStart.Add(-10 * 24 * time.Hour).Add(time.Duration(rng.Int64N(int64(span))))
	}

	for u := range 6 {
		trID := fmt.Sprintf("%d", 100+u)
		jiraID := fmt.Sprintf("acc-%d", u)
		users = append(users, report.User{
			ID: fmt.Sprintf("u%d", u), Name: fmt.Sprintf("User %d", u),
			Email: fmt.Sprintf("u%d@example.com", u), TestRailID: trID, JiraID: jiraID,
		})
		for i := range rng.IntN(40) {
			tr.activities[trID] = append(tr.activities[trID], execution(fmt.Sprintf("r%d-%d", u, i), trID, randomTime()))
		}
		for i := range rng.IntN(40) {
			jr.activities[jiraID] = append(jr.activities[jiraID], comment(fmt.Sprintf("c%d-%d", u, i), jiraID, randomTime()))
		}
	}
	// exact window bounds are inclusive
	tr.activities["100"] = append(tr.activities["100"],
		execution("start", "100", windowStart),
		execution("end", "100", windowEnd),
		execution("after", "100", windowEnd.Add(time.Nanosecond)),
	)

	g := newGenerator(tr, jr)
	g.Concurrency = 3
	rep, err := g.Generate(context.Background(), users, windowStart, windowEnd)
	require.NoError(t, err)

	ids := make(map[string]bool)
	for i, c := range rep.Consolidated {
		assert.True(t, report.InWindow(c.Timestamp, windowStart, windowEnd), "activity %d leaked: %s", i, c.Timestamp)
		if i > 0 {
			assert.False(t, c.Timestamp.Before(rep.Consolidated[i-1].Timestamp), "not sorted at %d", i)
		}
		ids[c.Description] = true
	}
	assert.True(t, ids["Case start"])
	assert.True(t, ids["Case end"])
	assert.False(t, ids["Case after"])

	assert.Equal(t, len(rep.Consolidated), rep.Summary.TotalActivities)
	sum := 0
	for _, n := range rep.Summary.PerSource {
		sum += n
	}
	assert.Equal(t, len(rep.Consolidated), sum)

	perUser := 0
	for _, u := range rep.Summary.PerUser {
		assert.Equal(t, u.TestRail+u.Jira, u.Total)
		perUser += u.Total
	}
	assert.Equal(t, len(rep.Consolidated), perUser)
}

func TestGenerateRejectsInvertedWindow(t *testing.T) {
	_, err := newGenerator().Generate(context.Background(), nil, windowEnd, windowStart)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestGenerateWithoutUsers(t *testing.T) {
	rep, err := newGenerator().Generate(context.Background(), nil, windowStart, windowEnd)
	require.NoError(t, err)
	assert.Empty(t, rep.Consolidated)
	assert.Equal(t, 0, rep.Summary.TotalActivities)
	assert.Equal(t, 0.0, rep.Summary.MeanPerUser)
}
