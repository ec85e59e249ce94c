package testrail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Afrawles/activityreport/internal/apperr"
	"github.com/Afrawles/activityreport/internal/restclient"
)

const apiPrefix = "/index.php?/api/v2/"

type Project struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	IsCompleted bool   `json:"is_completed"`
	SuiteMode   int    `json:"suite_mode"`
}

type Suite struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	ProjectID int    `json:"project_id"`
}

type Run struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	SuiteID   int    `json:"suite_id"`
	ProjectID int    `json:"project_id"`
	CreatedBy int    `json:"created_by"`
	CreatedOn int64  `json:"created_on"`
}

type Test struct {
	ID     int    `json:"id"`
	CaseID int    `json:"case_id"`
	RunID  int    `json:"run_id"`
	Title  string `json:"title"`
}

type Case struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	SuiteID   int    `json:"suite_id"`
	UpdatedBy int    `json:"updated_by"`
	UpdatedOn int64  `json:"updated_on"`
}

type Result struct {
	ID        int    `json:"id"`
	TestID    int    `json:"test_id"`
	StatusID  int    `json:"status_id"`
	CreatedBy int    `json:"created_by"`
	CreatedOn int64  `json:"created_on"`
	Comment   string `json:"comment"`
}

type User struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	IsActive bool   `json:"is_active"`
}

type Status struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Label string `json:"label"`
}

// Client talks to the TestRail API v2. Credentials are the account email
// and an API key used as the basic-auth password.
type Client struct {
	rest *restclient.Client
}

func NewClient(baseURL, username, apiKey string, opts ...restclient.Option) *Client {
	return &Client{rest: restclient.New(baseURL, username, apiKey, opts...)}
}

func (c *Client) GetProjects(ctx context.Context) ([]Project, error) {
	var out []Project
	if err := c.list(ctx, "get_projects", nil, "projects", &out); err != nil {
		return nil, goerr.Wrap(err, "failed to list projects")
	}
	return out, nil
}

func (c *Client) GetProject(ctx context.Context, projectID int) (Project, error) {
	var p Project
	if err := c.rest.Get(ctx, apiPrefix+fmt.Sprintf("get_project/%d", projectID), nil, &p); err != nil {
		return Project{}, goerr.Wrap(err, "failed to get project", goerr.V("project_id", projectID))
	}
	return p, nil
}

func (c *Client) GetSuites(ctx context.Context, projectID int) ([]Suite, error) {
	var out []Suite
	if err := c.list(ctx, fmt.Sprintf("get_suites/%d", projectID), nil, "suites", &out); err != nil {
		return nil, goerr.Wrap(err, "failed to list suites", goerr.V("project_id", projectID))
	}
	return out, nil
}

// GetRuns lists the runs of a project, optionally restricted to one suite
// (suiteID 0 means all suites).
func (c *Client) GetRuns(ctx context.Context, projectID, suiteID int) ([]Run, error) {
	q := url.Values{}
	if suiteID > 0 {
		q.Set("suite_id", strconv.Itoa(suiteID))
	}
	var out []Run
	if err := c.list(ctx, fmt.Sprintf("get_runs/%d", projectID), q, "runs", &out); err != nil {
		return nil, goerr.Wrap(err, "failed to list runs", goerr.V("project_id", projectID))
	}
	return out, nil
}

func (c *Client) GetResultsForRun(ctx context.Context, runID int) ([]Result, error) {
	var out []Result
	if err := c.list(ctx, fmt.Sprintf("get_results_for_run/%d", runID), nil, "results", &out); err != nil {
		return nil, goerr.Wrap(err, "failed to list results", goerr.V("run_id", runID))
	}
	return out, nil
}

func (c *Client) GetTests(ctx context.Context, runID int) ([]Test, error) {
	var out []Test
	if err := c.list(ctx, fmt.Sprintf("get_tests/%d", runID), nil, "tests", &out); err != nil {
		return nil, goerr.Wrap(err, "failed to list tests", goerr.V("run_id", runID))
	}
	return out, nil
}

func (c *Client) GetCases(ctx context.Context, projectID, suiteID int) ([]Case, error) {
	q := url.Values{}
	if suiteID > 0 {
		q.Set("suite_id", strconv.Itoa(suiteID))
	}
	var out []Case
	if err := c.list(ctx, fmt.Sprintf("get_cases/%d", projectID), q, "cases", &out); err != nil {
		return nil, goerr.Wrap(err, "failed to list cases", goerr.V("project_id", projectID), goerr.V("suite_id", suiteID))
	}
	return out, nil
}

func (c *Client) GetUsers(ctx context.Context) ([]User, error) {
	var out []User
	if err := c.list(ctx, "get_users", nil, "users", &out); err != nil {
		return nil, goerr.Wrap(err, "failed to list users")
	}
	return out, nil
}

func (c *Client) GetStatuses(ctx context.Context) ([]Status, error) {
	var out []Status
	if err := c.rest.Get(ctx, apiPrefix+"get_statuses", nil, &out); err != nil {
		return nil, goerr.Wrap(err, "failed to list statuses")
	}
	return out, nil
}

type page struct {
	Links struct {
		Next *string `json:"next"`
	} `json:"_links"`
}

// list follows TestRail pagination. Newer instances wrap lists in an
// envelope keyed by field with a _links.next URL; older ones return a bare
// array. Both are accepted.
func (c *Client) list(ctx context.Context, endpoint string, q url.Values, field string, out any) error {
	var all []json.RawMessage
	next := c.rest.URL(apiPrefix+endpoint, q)

	for next != "" {
		var raw json.RawMessage
		if err := c.rest.GetURL(ctx, next, &raw); err != nil {
			return err
		}
		next = ""

		if len(raw) > 0 && raw[0] == '[' {
			var items []json.RawMessage
			if err := json.Unmarshal(raw, &items); err != nil {
				return goerr.Wrap(err, "failed to decode list", goerr.V("endpoint", endpoint), goerr.T(apperr.TagRemote))
			}
			all = append(all, items...)
			break
		}

		var env map[string]json.RawMessage
		if err := json.Unmarshal(raw, &env); err != nil {
			return goerr.Wrap(err, "failed to decode page", goerr.V("endpoint", endpoint), goerr.T(apperr.TagRemote))
		}
		var items []json.RawMessage
		if body, ok := env[field]; ok {
			if err := json.Unmarshal(body, &items); err != nil {
				return goerr.Wrap(err, "failed to decode page items", goerr.V("endpoint", endpoint), goerr.T(apperr.TagRemote))
			}
		}
		all = append(all, items...)

		var p page
		if err := json.Unmarshal(raw, &p); err == nil && p.Links.Next != nil && *p.Links.Next != "" && len(items) > 0 {
			// next links are relative to the API root, e.g. /api/v2/get_runs/1&offset=250
			next = c.rest.URL("/index.php?"+*p.Links.Next, nil)
		}
	}

	joined, err := json.Marshal(all)
	if err != nil {
		return goerr.Wrap(err, "failed to join pages")
	}
	if err := json.Unmarshal(joined, out); err != nil {
		return goerr.Wrap(err, "failed to decode items", goerr.V("endpoint", endpoint), goerr.T(apperr.TagRemote))
	}
	return nil
}
