package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/ctxlog"
	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"

	"github.com/Afrawles/activityreport/internal/apperr"
)

// ConsolidatedActivity is a normalized activity attributed to its user.
type ConsolidatedActivity struct {
	User         User      `json:"user"`
	Date         string    `json:"date"`
	Source       Source    `json:"source"`
	Kind         Kind      `json:"kind"`
	ActivityType string    `json:"activity_type"`
	Description  string    `json:"description"`
	Details      string    `json:"details"`
	Timestamp    time.Time `json:"timestamp"`
}

// UserReport holds what each source returned for one user. A source that
// failed has an entry in Errors and none in Sources.
type UserReport struct {
	User    User                     `json:"user"`
	Sources map[Source]*SourceReport `json:"sources"`
	Errors  map[Source]error         `json:"-"`
}

type UserSummary struct {
	User     User `json:"user"`
	TestRail int  `json:"testrail"`
	Jira     int  `json:"jira"`
	Total    int  `json:"total"`
}

type Summary struct {
	DateRange       string         `json:"date_range"`
	TotalUsers      int            `json:"total_users"`
	TotalActivities int            `json:"total_activities"`
	PerSource       map[Source]int `json:"per_source"`
	PerUser         []UserSummary  `json:"per_user"`
	MeanPerUser     float64        `json:"mean_per_user"`
	MedianPerUser   float64        `json:"median_per_user"`
}

func (s Summary) TestRailActivities() int { return s.PerSource[SourceTestRail] }
func (s Summary) JiraActivities() int     { return s.PerSource[SourceJira] }

type Report struct {
	Start        time.Time              `json:"start"`
	End          time.Time              `json:"end"`
	Users        []UserReport           `json:"users"`
	Consolidated []ConsolidatedActivity `json:"consolidated"`
	Summary      Summary                `json:"summary"`
}

// Generator merges the activity of every configured source.
type Generator struct {
	sources map[Source]ActivitySource
	// Concurrency bounds how many users are processed at once.
	Concurrency int
	// Location is used for calendar dates; nil means time.Local.
	Location *time.Location
}

func NewGenerator(sources ...ActivitySource) *Generator {
	g := &Generator{sources: make(map[Source]ActivitySource), Concurrency: 1}
	for _, src := range sources {
		if src != nil {
			g.sources[src.Name()] = src
		}
	}
	return g
}

// Sources returns the configured sources in report order.
func (g *Generator) Sources() []ActivitySource {
	var out []ActivitySource
	for _, name := range Sources {
		if src, ok := g.sources[name]; ok {
			out = append(out, src)
		}
	}
	return out
}

// Generate builds the report of users over [start, end].
//
// A source failing for one user is logged and recorded on that user's
// UserReport; it never aborts the report. Only an invalid window or a
// cancelled context returns an error.
func (g *Generator) Generate(ctx context.Context, users []User, start, end time.Time) (*Report, error) {
	if err := ValidateRange(start, end); err != nil {
		return nil, err
	}

	logger := ctxlog.From(ctx).With("run_id", uuid.NewString())
	ctx = ctxlog.With(ctx, logger)
	logger.Info("generating report",
		"users", len(users),
		"start", start.Format(time.RFC3339),
		"end", end.Format(time.RFC3339),
	)

	perUser := make([]UserReport, len(users))
	var eg errgroup.Group
	eg.SetLimit(max(1, g.Concurrency))

	for i, user := range users {
		eg.Go(func() error {
			perUser[i] = g.userReport(ctx, user, start, end)
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	consolidated := []ConsolidatedActivity{}
	for _, ur := range perUser {
		for _, src := range Sources {
			sr, ok := ur.Sources[src]
			if !ok {
				continue
			}
			for _, a := range sr.Activities {
				if !InWindow(a.Base().Timestamp, start, end) {
					continue
				}
				consolidated = append(consolidated, g.consolidate(ur.User, a))
			}
		}
	}
	sort.SliceStable(consolidated, func(i, j int) bool {
		return consolidated[i].Timestamp.Before(consolidated[j].Timestamp)
	})

	summary := Summarize(users, consolidated, start, end)
	logger.Info("report generated",
		"activities", summary.TotalActivities,
		"testrail", summary.TestRailActivities(),
		"jira", summary.JiraActivities(),
	)

	return &Report{
		Start:        start,
		End:          end,
		Users:        perUser,
		Consolidated: consolidated,
		Summary:      summary,
	}, nil
}

func (g *Generator) userReport(ctx context.Context, user User, start, end time.Time) UserReport {
	ur := UserReport{
		User:    user,
		Sources: make(map[Source]*SourceReport),
		Errors:  make(map[Source]error),
	}

	for _, src := range g.Sources() {
		ext := user.ExternalID(src.Name())
		if ext == "" {
			continue
		}
		sr, err := src.ActivityReport(ctx, []string{ext}, start, end)
		if err != nil {
			ctxlog.From(ctx).Warn("source failed for user",
				"source", src.Name(),
				"user", user.ID,
				"kind", apperr.KindOf(err),
				"error", err,
			)
			ur.Errors[src.Name()] = err
			continue
		}
		ur.Sources[src.Name()] = sr
	}
	return ur
}

func (g *Generator) consolidate(user User, a Activity) ConsolidatedActivity {
	loc := g.Location
	if loc == nil {
		loc = time.Local
	}
	base := a.Base()
	c := ConsolidatedActivity{
		User:         user,
		Date:         base.Timestamp.In(loc).Format(dateLayout),
		Source:       a.Source(),
		Kind:         base.Kind,
		ActivityType: base.Kind.Label(),
		Timestamp:    base.Timestamp,
	}

	switch v := a.(type) {
	case TestRailActivity:
		var details []string
		switch v.Kind {
		case KindRunCreation:
			c.Description = v.TestRunName
		default:
			c.Description = v.TestCaseTitle
			if v.TestRunName != "" {
				details = append(details, "Run: "+v.TestRunName)
			}
		}
		if v.Status != "" {
			details = append(details, "Status: "+v.Status)
		}
		if v.ProjectName != "" {
			details = append(details, "Project: "+v.ProjectName)
		}
		if v.Comment != "" {
			details = append(details, "Comment: "+v.Comment)
		}
		c.Details = strings.Join(details, " | ")
	case JiraActivity:
		c.Description = fmt.Sprintf("%s: %s", v.IssueKey, v.IssueTitle)
		c.Details = v.Comment
	}
	return c
}

// Summarize aggregates consolidated in a single pass. Every user in users
// gets an entry, in order, even without activity.
func Summarize(users []User, consolidated []ConsolidatedActivity, start, end time.Time) Summary {
	s := Summary{
		DateRange:       FormatDateRange(start, end),
		TotalUsers:      len(users),
		TotalActivities: len(consolidated),
		PerSource:       make(map[Source]int, len(Sources)),
		PerUser:         make([]UserSummary, len(users)),
	}
	for _, src := range Sources {
		s.PerSource[src] = 0
	}

	index := make(map[string]int, len(users))
	for i, u := range users {
		s.PerUser[i] = UserSummary{User: u}
		index[u.ID] = i
	}

	for _, c := range consolidated {
		s.PerSource[c.Source]++
		i, ok := index[c.User.ID]
		if !ok {
			i = len(s.PerUser)
			index[c.User.ID] = i
			s.PerUser = append(s.PerUser, UserSummary{User: c.User})
		}
		switch c.Source {
		case SourceTestRail:
			s.PerUser[i].TestRail++
		case SourceJira:
			s.PerUser[i].Jira++
		}
		s.PerUser[i].Total++
	}

	if len(s.PerUser) > 0 {
		totals := make(stats.Float64Data, len(s.PerUser))
		for i, u := range s.PerUser {
			totals[i] = float64(u.Total)
		}
		s.MeanPerUser, _ = stats.Round(orZero(totals.Mean()), 2)
		s.MedianPerUser, _ = stats.Round(orZero(totals.Median()), 2)
	}
	return s
}

func orZero(v float64, err error) float64 {
	if err != nil {
		return 0
	}
	return v
}
