// Package restclient is the JSON-over-HTTP plumbing shared by the TestRail
// and Jira clients.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/time/rate"

	"github.com/Afrawles/activityreport/internal/apperr"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5.0
	userAgent        = "activityreport/1.0"
	maxErrorBody     = 512
)

type Client struct {
	baseURL    string
	username   string
	secret     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero or negative disables the limit.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New returns a client authenticating every request with HTTP basic auth.
func New(baseURL, username, secret string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		secret:     secret,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL joins path and query onto the base URL. path may already contain a
// query string (TestRail routes do).
func (c *Client) URL(path string, q url.Values) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := c.baseURL + path
	if len(q) > 0 {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		u += sep + q.Encode()
	}
	return u
}

// Get issues a GET to path and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, q url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, c.URL(path, q), nil, out)
}

// GetURL is Get for an absolute or base-relative URL returned by a paginated API.
func (c *Client) GetURL(ctx context.Context, rawURL string, out any) error {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = c.URL(rawURL, nil)
	}
	return c.Do(ctx, http.MethodGet, rawURL, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, c.URL(path, nil), body, out)
}

// Do performs one request. It does not retry: errors are classified and
// returned to the caller.
func (c *Client) Do(ctx context.Context, method, rawURL string, body, out any) error {
	if c.baseURL == "" {
		return goerr.New("base URL is not configured", goerr.T(apperr.TagValidation))
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return goerr.Wrap(err, "rate limiter wait aborted", goerr.V("url", rawURL), goerr.T(apperr.TagNetwork))
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return goerr.Wrap(err, "failed to encode request body", goerr.V("url", rawURL))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return goerr.Wrap(err, "failed to create request", goerr.V("url", rawURL), goerr.T(apperr.TagValidation))
	}
	req.SetBasicAuth(c.username, c.secret)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return goerr.Wrap(err, "request failed", goerr.V("method", method), goerr.V("url", rawURL), goerr.T(apperr.TagNetwork))
	}
	defer resp.Body.Close()

	ctxlog.From(ctx).Debug("http request",
		"method", method,
		"url", rawURL,
		"status", resp.StatusCode,
		"elapsed", time.Since(started).String(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp, method, rawURL)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goerr.Wrap(err, "failed to decode response", goerr.V("url", rawURL), goerr.T(apperr.TagRemote))
	}
	return nil
}

// StatusCode extracts the HTTP status recorded on an error returned by Do, or 0.
func StatusCode(err error) int {
	if code, ok := goerr.Values(err)["status"].(int); ok {
		return code
	}
	return 0
}

func statusError(resp *http.Response, method, rawURL string) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := fmt.Sprintf("API error (status %d)", resp.StatusCode)

	tag := apperr.TagRemote
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		tag = apperr.TagAuthentication
	}
	return goerr.New(msg,
		goerr.V("status", resp.StatusCode),
		goerr.V("method", method),
		goerr.V("url", rawURL),
		goerr.V("body", strings.TrimSpace(string(data))),
		goerr.T(tag),
	)
}
