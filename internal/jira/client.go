package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Afrawles/activityreport/internal/apperr"
	"github.com/Afrawles/activityreport/internal/restclient"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000

	// timeLayout is how Jira renders timestamps, e.g. 2024-01-09T12:00:00.000+0000.
	timeLayout = "2006-01-02T15:04:05.000-0700"
)

// searchFields limits search responses to what activity normalization reads.
var searchFields = []string{"summary", "created", "updated", "creator", "project"}

// Time decodes Jira timestamps.
type Time struct {
	time.Time
}

func (t *Time) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.Parse(timeLayout, s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return goerr.Wrap(err, "invalid Jira timestamp", goerr.V("value", s))
		}
	}
	t.Time = parsed
	return nil
}

type User struct {
	AccountID    string `json:"accountId"`
	Name         string `json:"name"`
	Key          string `json:"key"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
	Active       bool   `json:"active"`
}

// Match returns the identifier of u found in ids. Cloud instances identify
// users by accountId, server instances by name or key.
func (u User) Match(ids map[string]bool) (string, bool) {
	for _, id := range []string{u.AccountID, u.Name, u.Key} {
		if id != "" && ids[id] {
			return id, true
		}
	}
	return "", false
}

// ID returns the identifier that should be stored in the user registry.
func (u User) ID() string {
	if u.AccountID != "" {
		return u.AccountID
	}
	return u.Name
}

type Project struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

type IssueFields struct {
	Summary string   `json:"summary"`
	Created Time     `json:"created"`
	Updated Time     `json:"updated"`
	Creator *User    `json:"creator"`
	Project *Project `json:"project"`
}

type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Fields IssueFields `json:"fields"`
}

type Comment struct {
	ID      string          `json:"id"`
	Author  User            `json:"author"`
	Body    json.RawMessage `json:"body"`
	Created Time            `json:"created"`
	Updated Time            `json:"updated"`
}

type ClientConfig struct {
	BaseURL  string
	Username string
	APIToken string
	// APIVersion is 3 for Jira Cloud and 2 for Jira Server/Data Center.
	APIVersion int
	PageSize   int
}

// Client talks to the Jira REST API with basic auth (email or username plus API token).
type Client struct {
	rest     *restclient.Client
	version  int
	pageSize int
}

func NewClient(cfg ClientConfig, opts ...restclient.Option) *Client {
	version := cfg.APIVersion
	if version != 2 {
		version = 3
	}
	return &Client{
		rest:     restclient.New(cfg.BaseURL, cfg.Username, cfg.APIToken, opts...),
		version:  version,
		pageSize: ClampPageSize(cfg.PageSize),
	}
}

// ClampPageSize bounds n to [1, MaxPageSize]; 0 selects DefaultPageSize.
func ClampPageSize(n int) int {
	switch {
	case n == 0:
		return DefaultPageSize
	case n < 1:
		return 1
	case n > MaxPageSize:
		return MaxPageSize
	}
	return n
}

func (c *Client) path(format string, args ...any) string {
	return fmt.Sprintf("/rest/api/%d/", c.version) + fmt.Sprintf(format, args...)
}

// Search returns every issue matching jql.
func (c *Client) Search(ctx context.Context, jql string) ([]Issue, error) {
	var (
		issues []Issue
		err    error
	)
	if c.version == 2 {
		issues, err = c.searchOffset(ctx, jql)
	} else {
		issues, err = c.searchToken(ctx, jql)
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search issues", goerr.V("jql", jql))
	}
	return issues, nil
}

// searchToken pages /search/jql, which is cursor based.
func (c *Client) searchToken(ctx context.Context, jql string) ([]Issue, error) {
	type request struct {
		JQL           string   `json:"jql"`
		Fields        []string `json:"fields"`
		MaxResults    int      `json:"maxResults"`
		NextPageToken string   `json:"nextPageToken,omitempty"`
	}
	type response struct {
		Issues        []Issue `json:"issues"`
		NextPageToken string  `json:"nextPageToken"`
		IsLast        bool    `json:"isLast"`
	}

	var all []Issue
	token := ""
	for {
		var resp response
		req := request{JQL: jql, Fields: searchFields, MaxResults: c.pageSize, NextPageToken: token}
		if err := c.rest.Post(ctx, c.path("search/jql"), req, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Issues...)
		if resp.IsLast || resp.NextPageToken == "" || len(resp.Issues) == 0 {
			return all, nil
		}
		token = resp.NextPageToken
	}
}

func (c *Client) searchOffset(ctx context.Context, jql string) ([]Issue, error) {
	type response struct {
		StartAt    int     `json:"startAt"`
		MaxResults int     `json:"maxResults"`
		Total      int     `json:"total"`
		Issues     []Issue `json:"issues"`
	}

	var all []Issue
	for startAt := 0; ; {
		q := url.Values{}
		q.Set("jql", jql)
		q.Set("fields", strings.Join(searchFields, ","))
		q.Set("startAt", strconv.Itoa(startAt))
		q.Set("maxResults", strconv.Itoa(c.pageSize))

		var resp response
		if err := c.rest.Get(ctx, c.path("search"), q, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Issues...)
		startAt += len(resp.Issues)
		if len(resp.Issues) == 0 || startAt >= resp.Total {
			return all, nil
		}
	}
}

// Comments returns every comment on an issue.
func (c *Client) Comments(ctx context.Context, issueKey string) ([]Comment, error) {
	type response struct {
		StartAt  int       `json:"startAt"`
		Total    int       `json:"total"`
		Comments []Comment `json:"comments"`
	}

	var all []Comment
	for startAt := 0; ; {
		q := url.Values{}
		q.Set("startAt", strconv.Itoa(startAt))
		q.Set("maxResults", strconv.Itoa(c.pageSize))

		var resp response
		if err := c.rest.Get(ctx, c.path("issue/%s/comment", url.PathEscape(issueKey)), q, &resp); err != nil {
			return nil, goerr.Wrap(err, "failed to list comments", goerr.V("issue", issueKey))
		}
		all = append(all, resp.Comments...)
		startAt += len(resp.Comments)
		if len(resp.Comments) == 0 || startAt >= resp.Total {
			return all, nil
		}
	}
}

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	if c.version == 2 {
		var out []Project
		if err := c.rest.Get(ctx, c.path("project"), nil, &out); err != nil {
			return nil, goerr.Wrap(err, "failed to list projects")
		}
		return out, nil
	}

	type response struct {
		Values []Project `json:"values"`
		Total  int       `json:"total"`
		IsLast bool      `json:"isLast"`
	}
	var all []Project
	for startAt := 0; ; {
		q := url.Values{}
		q.Set("startAt", strconv.Itoa(startAt))
		q.Set("maxResults", strconv.Itoa(c.pageSize))

		var resp response
		if err := c.rest.Get(ctx, c.path("project/search"), q, &resp); err != nil {
			return nil, goerr.Wrap(err, "failed to list projects")
		}
		all = append(all, resp.Values...)
		startAt += len(resp.Values)
		if resp.IsLast || len(resp.Values) == 0 {
			return all, nil
		}
	}
}

// SearchUsers looks up users by display name, email or username.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]User, error) {
	q := url.Values{}
	if c.version == 2 {
		q.Set("username", query)
	} else {
		q.Set("query", query)
	}
	var out []User
	if err := c.rest.Get(ctx, c.path("user/search"), q, &out); err != nil {
		return nil, goerr.Wrap(err, "failed to search users", goerr.V("query", query))
	}
	return out, nil
}

// Myself returns the authenticated user.
func (c *Client) Myself(ctx context.Context) (User, error) {
	var u User
	if err := c.rest.Get(ctx, c.path("myself"), nil, &u); err != nil {
		return User{}, goerr.Wrap(err, "failed to get current user")
	}
	if u.ID() == "" {
		return User{}, goerr.New("current user response has no identifier", goerr.T(apperr.TagRemote))
	}
	return u, nil
}
