package activityreport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Afrawles/activityreport/internal/activityreport"
	"github.com/Afrawles/activityreport/internal/apperr"
	"github.com/Afrawles/activityreport/internal/config"
	"github.com/Afrawles/activityreport/internal/mailer"
	"github.com/Afrawles/activityreport/internal/report"
	"github.com/Afrawles/activityreport/internal/restclient"
	"github.com/Afrawles/activityreport/internal/settings"
)

const jdoe = `{"name":"jdoe","key":"jdoe","displayName":"John Doe","emailAddress":"jdoe@example.com"}`

func jiraServer(t *testing.T) *httptest.Server {
	t.Helper()
	issue := `{"id":"1","key":"QA-1","fields":{"summary":"Checkout fails","created":"2024-01-10T09:00:00.000+0000",` +
		`"updated":"2024-01-11T09:00:00.000+0000","creator":` + jdoe + `,"project":{"key":"QA"}}}`

	mux := http.NewServeMux()
	mux.HandleFunc("GET /rest/api/2/search", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"startAt":0,"maxResults":50,"total":1,"issues":[` + issue + `]}`))
	})
	mux.HandleFunc("GET /rest/api/2/issue/QA-1/comment", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"startAt":0,"total":1,"comments":[{"id":"7","author":` + jdoe +
			`,"body":"Verified on staging","created":"2024-01-11T09:00:00.000+0000"}]}`))
	})
	mux.HandleFunc("GET /rest/api/2/myself", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(jdoe))
	})
	mux.HandleFunc("GET /rest/api/2/project", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"100","key":"QA","name":"Quality"}]`))
	})
	mux.HandleFunc("GET /rest/api/2/user/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "john", r.URL.Query().Get("username"))
		w.Write([]byte(`[` + jdoe + `]`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []report.Message
}

func (f *fakeTransport) Send(ctx context.Context, msg report.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func newApp(t *testing.T) (*activityreport.Application, *fakeTransport) {
	t.Helper()
	srv := jiraServer(t)

	cfg := &config.Config{
		Jira: config.JiraConfig{
			URL: srv.URL, Username: "jdoe", APIToken: "tok",
			APIVersion: 2, PageSize: 50, CommentWorkers: 2,
		},
		Output: config.OutputConfig{Directory: t.TempDir(), Formats: []string{"csv", "xlsx", "json"}},
		Report: config.ReportConfig{Concurrency: 2, Timezone: "UTC"},
		HTTP:   config.HTTPConfig{Timeout: 5 * time.Second},
		Email: config.EmailConfig{
			Enabled: true,
			SMTP:    mailer.Config{Host: "smtp.example.com", Port: 587, From: "reports@example.com", TLS: mailer.TLSMandatory},
			Envelope: report.Envelope{
				To:      []string{"lead@example.com"},
				Subject: "Activity {{dateRange}}",
				Body:    "Report for {{dateRange}}",
			},
		},
	}
	require.NoError(t, cfg.Validate())

	store := settings.NewMemoryStore()
	app, err := activityreport.New(cfg, store, restclient.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	require.NoError(t, app.Registry.Upsert(context.Background(), report.User{
		ID: "jdoe", Name: "John Doe", Email: "jdoe@example.com", JiraID: "jdoe",
	}))

	transport := &fakeTransport{}
	app.Deliverer = report.NewDeliverer(transport)
	return app, transport
}

func TestGenerateReport(t *testing.T) {
	app, transport := newApp(t)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := report.EndOfDay(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
	res, err := app.GenerateReport(context.Background(), activityreport.Request{Start: start, End: end, Email: true})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Report.Summary.TotalActivities)
	assert.Equal(t, 2, res.Report.Summary.JiraActivities())
	require.Len(t, res.Files, 4)
	for _, f := range res.Files {
		_, err := os.Stat(f)
		assert.NoError(t, err, f)
	}

	require.Len(t, transport.sent, 1)
	msg := transport.sent[0]
	assert.Equal(t, "Activity 2024-01-01 to 2024-01-31", msg.Subject)
	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, "activity_report_2024-01-01_2024-01-31.xlsx", msg.Attachments[0].Name)
	assert.Equal(t, "activity_summary_2024-01-01_2024-01-31.csv", msg.Attachments[1].Name)
}

func TestGenerateReportUnknownUser(t *testing.T) {
	app, _ := newApp(t)

	_, err := app.GenerateReport(context.Background(), activityreport.Request{
		UserIDs: []string{"ghost"},
		Start:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRunScheduled(t *testing.T) {
	app, transport := newApp(t)
	app.Now = func() time.Time { return time.Date(2024, 2, 5, 8, 0, 0, 0, time.UTC) }

	require.NoError(t, app.RunScheduled(context.Background(), "last-month"))

	require.Len(t, transport.sent, 1)
	assert.Equal(t, "Activity 2024-01-01 to 2024-01-31", transport.sent[0].Subject)

	entries, err := os.ReadDir(app.Config.Output.Directory)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "activity_details_2024-01-01_2024-01-31.csv")
}

func TestExportUnknownFormat(t *testing.T) {
	app, _ := newApp(t)
	_, err := app.Export(context.Background(), &report.Report{}, []string{"pdf"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestAttachments(t *testing.T) {
	dir := "reports"
	files := []string{
		filepath.Join(dir, "activity_details_a_b.csv"),
		filepath.Join(dir, "activity_summary_a_b.csv"),
		filepath.Join(dir, "activity_report_a_b.json"),
		filepath.Join(dir, "activity_report_a_b.html"),
	}
	assert.Equal(t, []string{files[1], files[0]}, activityreport.Attachments(files))

	files = append(files, filepath.Join(dir, "activity_report_a_b.xlsx"))
	assert.Equal(t, []string{files[4], files[1]}, activityreport.Attachments(files))

	assert.Equal(t, []string{files[2]}, activityreport.Attachments(files[2:3]))
}

func TestHealthCheckProjectsAndLookup(t *testing.T) {
	app, _ := newApp(t)
	ctx := context.Background()

	health := app.HealthCheck(ctx)
	require.Contains(t, health, report.SourceJira)
	assert.NoError(t, health[report.SourceJira])
	assert.NotContains(t, health, report.SourceTestRail)

	projects, err := app.Projects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []activityreport.Project{{Source: report.SourceJira, ID: "100", Key: "QA", Name: "Quality"}}, projects)

	candidates, err := app.LookupUsers(ctx, "john")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "jdoe", candidates[0].ID)
	assert.True(t, strings.HasSuffix(candidates[0].Email, "@example.com"))

	_, err = app.LookupUsers(ctx, "  ")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
