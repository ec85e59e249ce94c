package testrail

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/ctxlog"

	"github.com/Afrawles/activityreport/internal/apperr"
	"github.com/Afrawles/activityreport/internal/report"
)

// excludedStatuses are matched case-insensitively against a status name or label.
var excludedStatuses = []string{"skip", "not applicable", "blocked"}

type Options struct {
	// ProjectID restricts scans to one project; 0 scans every project.
	ProjectID          int
	IncludeRunCreation bool
	IncludeCaseUpdates bool
}

type TestRailSource struct {
	Client *Client
	opts   Options
}

func NewTestRailSource(client *Client, opts Options) *TestRailSource {
	return &TestRailSource{Client: client, opts: opts}
}

var _ report.ActivitySource = (*TestRailSource)(nil)

func (s *TestRailSource) Name() report.Source {
	return report.SourceTestRail
}

func (s *TestRailSource) HealthCheck(ctx context.Context) error {
	_, err := s.Client.GetStatuses(ctx)
	return err
}

func (s *TestRailSource) ActivityReport(ctx context.Context, externalIDs []string, start, end time.Time) (*report.SourceReport, error) {
	activities, err := s.GetUserActivities(ctx, externalIDs, start, end, s.opts.ProjectID)
	if err != nil {
		return nil, err
	}
	return report.NewSourceReport(report.SourceTestRail, activities), nil
}

// catalog holds the lookups fetched once per invocation.
type catalog struct {
	users    map[int]User
	statuses map[int]Status
	// tracked maps a TestRail user id to the external id it was requested as.
	tracked map[int]string
	// cases per project suite, filled lazily
	cases map[suiteKey]map[int]Case
}

// suiteKey scopes a suite to its project: runs without a suite all share
// suite id 0.
type suiteKey struct {
	project int
	suite   int
}

// GetUserActivities returns the test executions recorded by externalIDs
// within [start, end]. External ids are TestRail user ids or account emails.
//
// Results whose test, case, user or status cannot be resolved are dropped.
// A run or project that fails to load is logged and skipped, except for
// authentication failures which abort the scan.
func (s *TestRailSource) GetUserActivities(ctx context.Context, externalIDs []string, start, end time.Time, projectID int) ([]report.Activity, error) {
	logger := ctxlog.From(ctx)

	cat, err := s.loadCatalog(ctx, externalIDs)
	if err != nil {
		return nil, err
	}
	if len(cat.tracked) == 0 {
		logger.Warn("no TestRail user matches the requested ids", "ids", externalIDs)
		return []report.Activity{}, nil
	}

	var projects []Project
	if projectID > 0 {
		p, err := s.Client.GetProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		projects = []Project{p}
	} else {
		projects, err = s.Client.GetProjects(ctx)
		if err != nil {
			return nil, err
		}
	}

	activities := []report.Activity{}
	for _, project := range projects {
		found, err := s.scanProject(ctx, cat, project, start, end)
		if err != nil {
			if fatal(ctx, err) {
				return nil, err
			}
			logger.Warn("skipping TestRail project", "project", project.Name, "error", err)
			continue
		}
		activities = append(activities, found...)
	}

	sort.SliceStable(activities, func(i, j int) bool {
		return activities[i].Base().Timestamp.Before(activities[j].Base().Timestamp)
	})

	logger.Info("TestRail activities collected", "projects", len(projects), "count", len(activities))
	return activities, nil
}

func (s *TestRailSource) loadCatalog(ctx context.Context, externalIDs []string) (*catalog, error) {
	users, err := s.Client.GetUsers(ctx)
	if err != nil {
		return nil, err
	}
	statuses, err := s.Client.GetStatuses(ctx)
	if err != nil {
		return nil, err
	}

	cat := &catalog{
		users:    make(map[int]User, len(users)),
		statuses: make(map[int]Status, len(statuses)),
		tracked:  make(map[int]string, len(externalIDs)),
		cases:    make(map[suiteKey]map[int]Case),
	}
	byEmail := make(map[string]int, len(users))
	for _, u := range users {
		cat.users[u.ID] = u
		byEmail[strings.ToLower(u.Email)] = u.ID
	}
	for _, st := range statuses {
		cat.statuses[st.ID] = st
	}

	for _, ext := range externalIDs {
		ext = strings.TrimSpace(ext)
		if id, err := strconv.Atoi(ext); err == nil {
			cat.tracked[id] = ext
			continue
		}
		if id, ok := byEmail[strings.ToLower(ext)]; ok {
			cat.tracked[id] = ext
		}
	}
	return cat, nil
}

func (s *TestRailSource) scanProject(ctx context.Context, cat *catalog, project Project, start, end time.Time) ([]report.Activity, error) {
	logger := ctxlog.From(ctx)

	suites, err := s.Client.GetSuites(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	runs, err := s.Client.GetRuns(ctx, project.ID, 0)
	if err != nil {
		return nil, err
	}

	var activities []report.Activity
	scannedSuites := make(map[int]bool)

	for _, run := range runs {
		suiteID := run.SuiteID
		if suiteID == 0 && len(suites) == 1 {
			suiteID = suites[0].ID
		}

		if s.opts.IncludeRunCreation {
			ext, tracked := cat.tracked[run.CreatedBy]
			user, known := cat.users[run.CreatedBy]
			if tracked && known {
				ts := time.Unix(run.CreatedOn, 0)
				if report.InWindow(ts, start, end) {
					activities = append(activities, report.TestRailActivity{
						ActivityBase: report.ActivityBase{
							ID:        fmt.Sprintf("testrail-run-%d", run.ID),
							UserID:    ext,
							UserName:  user.Name,
							Kind:      report.KindRunCreation,
							Timestamp: ts,
						},
						ProjectName: project.Name,
						TestRunName: run.Name,
					})
				}
			}
		}

		found, err := s.scanRun(ctx, cat, project, run, suiteID, start, end)
		if err != nil {
			if fatal(ctx, err) {
				return nil, err
			}
			logger.Warn("skipping TestRail run", "project", project.Name, "run_id", run.ID, "error", err)
			continue
		}
		activities = append(activities, found...)

		if s.opts.IncludeCaseUpdates && !scannedSuites[suiteID] {
			scannedSuites[suiteID] = true
			cases, err := s.suiteCases(ctx, cat, project.ID, suiteID)
			if err != nil {
				if fatal(ctx, err) {
					return nil, err
				}
				logger.Warn("skipping TestRail case updates", "project", project.Name, "suite_id", suiteID, "error", err)
				continue
			}
			activities = append(activities, caseUpdates(cat, project, cases, start, end)...)
		}
	}
	return activities, nil
}

func (s *TestRailSource) scanRun(ctx context.Context, cat *catalog, project Project, run Run, suiteID int, start, end time.Time) ([]report.Activity, error) {
	results, err := s.Client.GetResultsForRun(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	var candidates []Result
	for _, r := range results {
		if _, ok := cat.tracked[r.CreatedBy]; !ok {
			continue
		}
		if !report.InWindow(time.Unix(r.CreatedOn, 0), start, end) {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	tests, err := s.Client.GetTests(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	testsByID := make(map[int]Test, len(tests))
	for _, t := range tests {
		testsByID[t.ID] = t
	}
	cases, err := s.suiteCases(ctx, cat, project.ID, suiteID)
	if err != nil {
		return nil, err
	}

	var activities []report.Activity
	dropped := 0
	for _, r := range candidates {
		test, ok := testsByID[r.TestID]
		if !ok {
			dropped++
			continue
		}
		tc, ok := cases[test.CaseID]
		if !ok {
			dropped++
			continue
		}
		user, ok := cat.users[r.CreatedBy]
		if !ok {
			dropped++
			continue
		}
		status, ok := cat.statuses[r.StatusID]
		if !ok {
			dropped++
			continue
		}
		if isExcluded(status) {
			continue
		}

		activities = append(activities, report.TestRailActivity{
			ActivityBase: report.ActivityBase{
				ID:        fmt.Sprintf("testrail-result-%d", r.ID),
				UserID:    cat.tracked[r.CreatedBy],
				UserName:  user.Name,
				Kind:      report.KindExecution,
				Timestamp: time.Unix(r.CreatedOn, 0),
				Comment:   strings.TrimSpace(r.Comment),
			},
			ProjectName:   project.Name,
			TestCaseTitle: tc.Title,
			TestRunName:   run.Name,
			Status:        statusLabel(status),
		})
	}

	if dropped > 0 {
		ctxlog.From(ctx).Debug("dropped unresolvable TestRail results", "run_id", run.ID, "count", dropped)
	}
	return activities, nil
}

func (s *TestRailSource) suiteCases(ctx context.Context, cat *catalog, projectID, suiteID int) (map[int]Case, error) {
	key := suiteKey{project: projectID, suite: suiteID}
	if cases, ok := cat.cases[key]; ok {
		return cases, nil
	}
	list, err := s.Client.GetCases(ctx, projectID, suiteID)
	if err != nil {
		return nil, err
	}
	cases := make(map[int]Case, len(list))
	for _, c := range list {
		cases[c.ID] = c
	}
	cat.cases[key] = cases
	return cases, nil
}

func caseUpdates(cat *catalog, project Project, cases map[int]Case, start, end time.Time) []report.Activity {
	ids := make([]int, 0, len(cases))
	for id := range cases {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var activities []report.Activity
	for _, id := range ids {
		c := cases[id]
		ext, ok := cat.tracked[c.UpdatedBy]
		if !ok {
			continue
		}
		ts := time.Unix(c.UpdatedOn, 0)
		if !report.InWindow(ts, start, end) {
			continue
		}
		user, ok := cat.users[c.UpdatedBy]
		if !ok {
			continue
		}
		activities = append(activities, report.TestRailActivity{
			ActivityBase: report.ActivityBase{
				ID:        fmt.Sprintf("testrail-case-%d-%d", c.ID, c.UpdatedOn),
				UserID:    ext,
				UserName:  user.Name,
				Kind:      report.KindCaseUpdate,
				Timestamp: ts,
			},
			ProjectName:   project.Name,
			TestCaseTitle: c.Title,
		})
	}
	return activities
}

func isExcluded(st Status) bool {
	name := strings.ToLower(st.Name + " " + st.Label)
	for _, ex := range excludedStatuses {
		if strings.Contains(name, ex) {
			return true
		}
	}
	return false
}

func statusLabel(st Status) string {
	if st.Label != "" {
		return st.Label
	}
	return st.Name
}

// fatal reports errors that must abort a scan instead of skipping one item.
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		apperr.Is(err, apperr.TagAuthentication) ||
		apperr.Is(err, apperr.TagValidation)
}
