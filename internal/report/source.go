package report

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Afrawles/activityreport/internal/apperr"
)

// Source tags the system an activity was collected from.
type Source string

const (
	SourceTestRail Source = "TestRail"
	SourceJira     Source = "Jira"
)

// Sources lists every known source in report order.
var Sources = []Source{SourceTestRail, SourceJira}

type Kind string

const (
	KindExecution    Kind = "execution"
	KindCaseUpdate   Kind = "case-update"
	KindRunCreation  Kind = "run-creation"
	KindIssueCreated Kind = "issue-created"
	KindCommentAdded Kind = "comment-added"
)

// Label is the human readable activity type.
func (k Kind) Label() string {
	switch k {
	case KindExecution:
		return "Test Execution"
	case KindCaseUpdate:
		return "Test Case Updated"
	case KindRunCreation:
		return "Test Run Created"
	case KindIssueCreated:
		return "Issue Created"
	case KindCommentAdded:
		return "Comment Added"
	}
	return string(k)
}

// User is an application user with its identifiers in each source system.
type User struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Email      string `json:"email" yaml:"email"`
	TestRailID string `json:"testrail_id,omitempty" yaml:"testrail_id,omitempty"`
	JiraID     string `json:"jira_id,omitempty" yaml:"jira_id,omitempty"`
}

// ExternalID returns the user's identifier in src, or "" when unmapped.
func (u User) ExternalID(src Source) string {
	switch src {
	case SourceTestRail:
		return u.TestRailID
	case SourceJira:
		return u.JiraID
	}
	return ""
}

func (u User) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return goerr.New("user id is required", goerr.T(apperr.TagValidation))
	}
	if strings.TrimSpace(u.Name) == "" {
		return goerr.New("user name is required", goerr.V("id", u.ID), goerr.T(apperr.TagValidation))
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return goerr.New("invalid email address", goerr.V("id", u.ID), goerr.V("email", u.Email), goerr.T(apperr.TagValidation))
	}
	if u.TestRailID == "" && u.JiraID == "" {
		return goerr.New("user has no TestRail or Jira identifier", goerr.V("id", u.ID), goerr.T(apperr.TagValidation))
	}
	return nil
}

// ActivityBase holds the fields shared by every normalized activity.
type ActivityBase struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Comment   string    `json:"comment,omitempty"`
}

func (b ActivityBase) Base() ActivityBase { return b }

// Activity is a normalized source activity. The concrete types are
// TestRailActivity and JiraActivity.
type Activity interface {
	Base() ActivityBase
	Source() Source
	sealed()
}

type TestRailActivity struct {
	ActivityBase
	ProjectName   string `json:"project_name"`
	TestCaseTitle string `json:"test_case_title"`
	TestRunName   string `json:"test_run_name"`
	Status        string `json:"status"`
}

func (TestRailActivity) Source() Source { return SourceTestRail }
func (TestRailActivity) sealed()        {}

type JiraActivity struct {
	ActivityBase
	IssueKey   string `json:"issue_key"`
	IssueTitle string `json:"issue_title"`
}

func (JiraActivity) Source() Source { return SourceJira }
func (JiraActivity) sealed()        {}

// SourceReport is the activity-report variant returned by an adapter.
type SourceReport struct {
	Source     Source         `json:"source"`
	Activities []Activity     `json:"activities"`
	Total      int            `json:"total"`
	ByUser     map[string]int `json:"by_user"`
	ByKind     map[Kind]int   `json:"by_kind"`
	ByStatus   map[string]int `json:"by_status,omitempty"`
	ByProject  map[string]int `json:"by_project,omitempty"`
	Created    int            `json:"created,omitempty"`
	Commented  int            `json:"commented,omitempty"`
}

// NewSourceReport aggregates activities into a SourceReport.
func NewSourceReport(src Source, activities []Activity) *SourceReport {
	r := &SourceReport{
		Source:     src,
		Activities: activities,
		Total:      len(activities),
		ByUser:     make(map[string]int),
		ByKind:     make(map[Kind]int),
	}
	if src == SourceTestRail {
		r.ByStatus = make(map[string]int)
		r.ByProject = make(map[string]int)
	}

	for _, a := range activities {
		base := a.Base()
		r.ByUser[base.UserName]++
		r.ByKind[base.Kind]++

		switch v := a.(type) {
		case TestRailActivity:
			if v.Status != "" {
				r.ByStatus[v.Status]++
			}
			r.ByProject[v.ProjectName]++
		case JiraActivity:
			switch v.Kind {
			case KindIssueCreated:
				r.Created++
			case KindCommentAdded:
				r.Commented++
			}
		}
	}
	return r
}

// ActivitySource is implemented by each source adapter.
type ActivitySource interface {
	Name() Source
	HealthCheck(ctx context.Context) error
	// ActivityReport returns the activities of the given external ids
	// within [start, end] plus their aggregation.
	ActivityReport(ctx context.Context, externalIDs []string, start, end time.Time) (*SourceReport, error)
}

// InWindow reports whether t lies within [start, end], both inclusive.
func InWindow(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}
