package jira

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/ctxlog"
	"golang.org/x/sync/errgroup"

	"github.com/Afrawles/activityreport/internal/report"
)

const (
	DefaultCommentWorkers = 4

	jqlTimeLayout = "2006-01-02 15:04"
	// jqlSlack widens JQL date bounds so the query is a superset regardless
	// of the Jira profile timezone; results are filtered exactly afterwards.
	jqlSlack = 24 * time.Hour
)

type Options struct {
	// ProjectKey scopes both queries to one project; empty means all.
	ProjectKey     string
	CommentWorkers int
}

type JiraSource struct {
	Client *Client
	opts   Options
}

func NewJiraSource(client *Client, opts Options) *JiraSource {
	if opts.CommentWorkers < 1 {
		opts.CommentWorkers = DefaultCommentWorkers
	}
	return &JiraSource{Client: client, opts: opts}
}

var _ report.ActivitySource = (*JiraSource)(nil)

func (s *JiraSource) Name() report.Source {
	return report.SourceJira
}

func (s *JiraSource) HealthCheck(ctx context.Context) error {
	_, err := s.Client.Myself(ctx)
	return err
}

func (s *JiraSource) ActivityReport(ctx context.Context, externalIDs []string, start, end time.Time) (*report.SourceReport, error) {
	activities, err := s.GetUserActivities(ctx, externalIDs, start, end, s.opts.ProjectKey)
	if err != nil {
		return nil, err
	}
	return report.NewSourceReport(report.SourceJira, activities), nil
}

// GetUserActivities returns the issues created and the comments written by
// externalIDs within [start, end], sorted by timestamp.
//
// Comments are collected from every issue updated in the window. A failure
// fetching one issue's comments is logged and that issue is skipped.
func (s *JiraSource) GetUserActivities(ctx context.Context, externalIDs []string, start, end time.Time, projectKey string) ([]report.Activity, error) {
	ids := make(map[string]bool, len(externalIDs))
	for _, id := range externalIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids[id] = true
		}
	}
	if len(ids) == 0 {
		return []report.Activity{}, nil
	}

	created, err := s.createdIssues(ctx, ids, start, end, projectKey)
	if err != nil {
		return nil, err
	}
	comments, err := s.comments(ctx, ids, start, end, projectKey)
	if err != nil {
		return nil, err
	}

	activities := append(created, comments...)
	sort.SliceStable(activities, func(i, j int) bool {
		return activities[i].Base().Timestamp.Before(activities[j].Base().Timestamp)
	})

	ctxlog.From(ctx).Info("Jira activities collected",
		"created", len(created),
		"comments", len(comments),
	)
	return activities, nil
}

func (s *JiraSource) createdIssues(ctx context.Context, ids map[string]bool, start, end time.Time, projectKey string) ([]report.Activity, error) {
	jql := CreatedJQL(sortedKeys(ids), start, end, projectKey)
	issues, err := s.Client.Search(ctx, jql)
	if err != nil {
		return nil, err
	}

	activities := []report.Activity{}
	for _, issue := range issues {
		if issue.Fields.Creator == nil {
			continue
		}
		userID, ok := issue.Fields.Creator.Match(ids)
		if !ok {
			continue
		}
		ts := issue.Fields.Created.Time
		if !report.InWindow(ts, start, end) {
			continue
		}
		activities = append(activities, report.JiraActivity{
			ActivityBase: report.ActivityBase{
				ID:        "jira-issue-" + issue.Key,
				UserID:    userID,
				UserName:  issue.Fields.Creator.DisplayName,
				Kind:      report.KindIssueCreated,
				Timestamp: ts,
			},
			IssueKey:   issue.Key,
			IssueTitle: issue.Fields.Summary,
		})
	}
	return activities, nil
}

func (s *JiraSource) comments(ctx context.Context, ids map[string]bool, start, end time.Time, projectKey string) ([]report.Activity, error) {
	logger := ctxlog.From(ctx)

	issues, err := s.Client.Search(ctx, UpdatedJQL(start, end, projectKey))
	if err != nil {
		return nil, err
	}
	logger.Debug("scanning issue comments", "issues", len(issues))

	perIssue := make([][]report.Activity, len(issues))
	var eg errgroup.Group
	eg.SetLimit(s.opts.CommentWorkers)

	for i, issue := range issues {
		eg.Go(func() error {
			comments, err := s.Client.Comments(ctx, issue.Key)
			if err != nil {
				logger.Warn("skipping comments of issue", "issue", issue.Key, "error", err)
				return nil
			}
			perIssue[i] = commentActivities(issue, comments, ids, start, end)
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	activities := []report.Activity{}
	for _, acts := range perIssue {
		activities = append(activities, acts...)
	}
	return activities, nil
}

func commentActivities(issue Issue, comments []Comment, ids map[string]bool, start, end time.Time) []report.Activity {
	var activities []report.Activity
	for _, c := range comments {
		userID, ok := c.Author.Match(ids)
		if !ok {
			continue
		}
		if !report.InWindow(c.Created.Time, start, end) {
			continue
		}
		activities = append(activities, report.JiraActivity{
			ActivityBase: report.ActivityBase{
				ID:        fmt.Sprintf("jira-comment-%s-%s", issue.Key, c.ID),
				UserID:    userID,
				UserName:  c.Author.DisplayName,
				Kind:      report.KindCommentAdded,
				Timestamp: c.Created.Time,
				Comment:   PlainText(c.Body),
			},
			IssueKey:   issue.Key,
			IssueTitle: issue.Fields.Summary,
		})
	}
	return activities
}

// CreatedJQL selects issues created by ids around [start, end].
func CreatedJQL(ids []string, start, end time.Time, projectKey string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = quote(id)
	}
	clauses := []string{
		fmt.Sprintf("creator in (%s)", strings.Join(quoted, ", ")),
		fmt.Sprintf("created >= %s", quote(start.Add(-jqlSlack).Format(jqlTimeLayout))),
		fmt.Sprintf("created < %s", quote(end.Add(jqlSlack+time.Minute).Format(jqlTimeLayout))),
	}
	if projectKey != "" {
		clauses = append(clauses, "project = "+quote(projectKey))
	}
	return strings.Join(clauses, " AND ") + " ORDER BY created ASC"
}

// UpdatedJQL selects every issue updated around [start, end].
func UpdatedJQL(start, end time.Time, projectKey string) string {
	clauses := []string{
		fmt.Sprintf("updated >= %s", quote(start.Add(-jqlSlack).Format(jqlTimeLayout))),
		fmt.Sprintf("updated < %s", quote(end.Add(jqlSlack+time.Minute).Format(jqlTimeLayout))),
	}
	if projectKey != "" {
		clauses = append(clauses, "project = "+quote(projectKey))
	}
	return strings.Join(clauses, " AND ") + " ORDER BY updated ASC"
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
