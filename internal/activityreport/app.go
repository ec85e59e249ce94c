// Package activityreport wires configuration, sources, the report
// generator, exporters and delivery into one application.
package activityreport

import (
	"context"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"github.com/Afrawles/activityreport/internal/apperr"
	"github.com/Afrawles/activityreport/internal/config"
	"github.com/Afrawles/activityreport/internal/jira"
	"github.com/Afrawles/activityreport/internal/mailer"
	"github.com/Afrawles/activityreport/internal/registry"
	"github.com/Afrawles/activityreport/internal/report"
	"github.com/Afrawles/activityreport/internal/restclient"
	"github.com/Afrawles/activityreport/internal/settings"
	"github.com/Afrawles/activityreport/internal/testrail"
)

type Application struct {
	Config    *config.Config
	Registry  *registry.Registry
	Generator *report.Generator
	Exporter  *report.Exporter
	CSV       *report.CSVExporter
	Excel     *report.ExcelExporter
	Deliverer *report.Deliverer
	TestRail  *testrail.TestRailSource
	Jira      *jira.JiraSource
	Location  *time.Location
	// Now is the clock used to resolve named periods.
	Now func() time.Time
}

// New builds the application from a validated config. opts are applied to
// both REST clients after the configured timeout and rate limit.
func New(cfg *config.Config, store settings.Store, opts ...restclient.Option) (*Application, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	restOpts := append([]restclient.Option{
		restclient.WithTimeout(cfg.HTTP.Timeout),
		restclient.WithRateLimit(cfg.HTTP.RateLimit),
	}, opts...)

	app := &Application{
		Config:   cfg,
		Registry: registry.New(store),
		Location: loc,
		Now:      time.Now,
	}

	var sources []report.ActivitySource
	if cfg.TestRail.Enabled() {
		client := testrail.NewClient(cfg.TestRail.URL, cfg.TestRail.Username, cfg.TestRail.APIKey, restOpts...)
		app.TestRail = testrail.NewTestRailSource(client, testrail.Options{
			ProjectID:          cfg.TestRail.ProjectID,
			IncludeRunCreation: cfg.TestRail.IncludeRunCreation,
			IncludeCaseUpdates: cfg.TestRail.IncludeCaseUpdates,
		})
		sources = append(sources, app.TestRail)
	}
	if cfg.Jira.Enabled() {
		client := jira.NewClient(jira.ClientConfig{
			BaseURL:    cfg.Jira.URL,
			Username:   cfg.Jira.Username,
			APIToken:   cfg.Jira.APIToken,
			APIVersion: cfg.Jira.APIVersion,
			PageSize:   cfg.Jira.PageSize,
		}, restOpts...)
		app.Jira = jira.NewJiraSource(client, jira.Options{
			ProjectKey:     cfg.Jira.ProjectKey,
			CommentWorkers: cfg.Jira.CommentWorkers,
		})
		sources = append(sources, app.Jira)
	}

	app.Generator = report.NewGenerator(sources...)
	app.Generator.Concurrency = cfg.Report.Concurrency
	app.Generator.Location = loc

	app.Exporter = report.NewExporter(cfg.Output.Directory)
	app.CSV = report.NewCSVExporter(cfg.Output.Directory)
	app.Excel = report.NewExcelExporter(cfg.Output.Directory)
	app.Deliverer = report.NewDeliverer(mailer.New(cfg.Email.SMTP))
	return app, nil
}

type Request struct {
	// UserIDs selects registered users; empty means all of them.
	UserIDs []string
	Start   time.Time
	End     time.Time
	// Formats overrides the configured output formats when set.
	Formats []string
	Email   bool
}

type Result struct {
	Report *report.Report
	Files  []string
}

// GenerateReport generates, exports and optionally mails one report.
func (app *Application) GenerateReport(ctx context.Context, req Request) (*Result, error) {
	users, err := app.Registry.Select(ctx, req.UserIDs)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, goerr.New("no users registered; add one with `activityreport users add`", goerr.T(apperr.TagValidation))
	}

	rep, err := app.Generator.Generate(ctx, users, req.Start, req.End)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate report")
	}

	formats := req.Formats
	if len(formats) == 0 {
		formats = app.Config.Output.Formats
	}
	files, err := app.Export(ctx, rep, formats)
	if err != nil {
		return nil, err
	}

	if req.Email {
		if err := app.Deliver(ctx, rep, files); err != nil {
			return &Result{Report: rep, Files: files}, err
		}
	}
	return &Result{Report: rep, Files: files}, nil
}

// Export writes rep in every format and returns the written paths.
func (app *Application) Export(ctx context.Context, rep *report.Report, formats []string) ([]string, error) {
	logger := ctxlog.From(ctx)

	var files []string
	for _, format := range formats {
		var (
			written []string
			err     error
		)
		switch strings.ToLower(format) {
		case "csv":
			written, err = app.CSV.Export(rep)
		case "xlsx":
			written, err = single(app.Excel.Export(rep))
		case "json":
			written, err = single(app.Exporter.ExportJSON(rep))
		case "html":
			written, err = single(app.Exporter.ExportHTML(rep))
		default:
			return files, goerr.New("unsupported output format", goerr.V("format", format), goerr.T(apperr.TagValidation))
		}
		if err != nil {
			return files, goerr.Wrap(err, "failed to export report", goerr.V("format", format))
		}
		for _, f := range written {
			logger.Info("report exported", "format", format, "file", f)
		}
		files = append(files, written...)
	}
	return files, nil
}

func single(path string, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	return []string{path}, nil
}

// attachmentRank orders exported files by how useful they are as mail
// attachments; lower is better.
func attachmentRank(path string) int {
	base := filepath.Base(path)
	switch {
	case strings.HasSuffix(base, ".xlsx"):
		return 0
	case strings.HasPrefix(base, "activity_summary_"):
		return 1
	case strings.HasPrefix(base, "activity_details_"):
		return 2
	case strings.HasSuffix(base, ".html"):
		return 3
	}
	return 4
}

// Attachments picks at most report.MaxAttachments files from files.
func Attachments(files []string) []string {
	sorted := slices.Clone(files)
	sort.SliceStable(sorted, func(i, j int) bool { return attachmentRank(sorted[i]) < attachmentRank(sorted[j]) })
	if len(sorted) > report.MaxAttachments {
		sorted = sorted[:report.MaxAttachments]
	}
	return sorted
}

// Deliver mails rep's files to the configured recipients.
func (app *Application) Deliver(ctx context.Context, rep *report.Report, files []string) error {
	if err := app.Config.ValidateEmail(); err != nil {
		return err
	}
	return app.Deliverer.Deliver(ctx, app.Config.Email.Envelope, rep.Start, rep.End, Attachments(files))
}

// RunScheduled generates the report of a named period for every registered
// user, mailing it when email is enabled.
func (app *Application) RunScheduled(ctx context.Context, period string) error {
	start, end, err := report.PeriodRange(period, app.Now().In(app.Location))
	if err != nil {
		return err
	}
	res, err := app.GenerateReport(ctx, Request{
		Start: start,
		End:   end,
		Email: app.Config.Email.Enabled,
	})
	if err != nil {
		return err
	}
	ctxlog.From(ctx).Info("scheduled report written",
		"period", period,
		"activities", res.Report.Summary.TotalActivities,
		"files", len(res.Files),
	)
	return nil
}

// Sources returns the configured sources in report order.
func (app *Application) Sources() []report.ActivitySource {
	return app.Generator.Sources()
}

// HealthCheck checks the credentials of every configured source. The map has an entry per
// source; nil means healthy.
func (app *Application) HealthCheck(ctx context.Context) map[report.Source]error {
	out := make(map[report.Source]error)
	for _, src := range app.Sources() {
		out[src.Name()] = src.HealthCheck(ctx)
	}
	return out
}

type Project struct {
	Source report.Source `json:"source"`
	ID     string        `json:"id"`
	Key    string        `json:"key,omitempty"`
	Name   string        `json:"name"`
}

// Projects lists the projects visible to the configured credentials.
func (app *Application) Projects(ctx context.Context) ([]Project, error) {
	var out []Project
	if app.TestRail != nil {
		projects, err := app.TestRail.Client.GetProjects(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range projects {
			out = append(out, Project{Source: report.SourceTestRail, ID: strconv.Itoa(p.ID), Name: p.Name})
		}
	}
	if app.Jira != nil {
		projects, err := app.Jira.Client.ListProjects(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range projects {
			out = append(out, Project{Source: report.SourceJira, ID: p.ID, Key: p.Key, Name: p.Name})
		}
	}
	return out, nil
}

// Candidate is a source account that may be mapped to a registered user.
type Candidate struct {
	Source report.Source `json:"source"`
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Email  string        `json:"email,omitempty"`
}

// LookupUsers searches each source's accounts for query.
func (app *Application) LookupUsers(ctx context.Context, query string) ([]Candidate, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, goerr.New("search query is empty", goerr.T(apperr.TagValidation))
	}

	var out []Candidate
	if app.TestRail != nil {
		users, err := app.TestRail.Client.GetUsers(ctx)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			if strings.Contains(strings.ToLower(u.Name), q) || strings.Contains(strings.ToLower(u.Email), q) {
				out = append(out, Candidate{Source: report.SourceTestRail, ID: strconv.Itoa(u.ID), Name: u.Name, Email: u.Email})
			}
		}
	}
	if app.Jira != nil {
		users, err := app.Jira.Client.SearchUsers(ctx, query)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			out = append(out, Candidate{Source: report.SourceJira, ID: u.ID(), Name: u.DisplayName, Email: u.EmailAddress})
		}
	}
	return out, nil
}
