// Package config assembles the runtime configuration from the settings
// store, an optional YAML file and ACTIVITYREPORT_* environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/viper"

	"github.com/Afrawles/activityreport/internal/apperr"
	"github.com/Afrawles/activityreport/internal/mailer"
	"github.com/Afrawles/activityreport/internal/report"
	"github.com/Afrawles/activityreport/internal/settings"
)

const EnvPrefix = "ACTIVITYREPORT"

// Formats lists the supported output formats.
var Formats = []string{"csv", "xlsx", "json", "html"}

type Config struct {
	TestRail TestRailConfig `mapstructure:"testrail" json:"testrail" yaml:"testrail"`
	Jira     JiraConfig     `mapstructure:"jira" json:"jira" yaml:"jira"`
	Email    EmailConfig    `mapstructure:"email" json:"email" yaml:"email"`
	Output   OutputConfig   `mapstructure:"output" json:"output" yaml:"output"`
	Report   ReportConfig   `mapstructure:"report" json:"report" yaml:"report"`
	HTTP     HTTPConfig     `mapstructure:"http" json:"http" yaml:"http"`
	Schedule ScheduleConfig `mapstructure:"schedule" json:"schedule" yaml:"schedule"`
	Log      LogConfig      `mapstructure:"log" json:"log" yaml:"log"`
}

type TestRailConfig struct {
	URL                string `mapstructure:"url" json:"url" yaml:"url"`
	Username           string `mapstructure:"username" json:"username" yaml:"username"`
	APIKey             string `mapstructure:"api_key" json:"api_key" yaml:"api_key"`
	ProjectID          int    `mapstructure:"project_id" json:"project_id" yaml:"project_id"`
	IncludeRunCreation bool   `mapstructure:"include_run_creation" json:"include_run_creation" yaml:"include_run_creation"`
	IncludeCaseUpdates bool   `mapstructure:"include_case_updates" json:"include_case_updates" yaml:"include_case_updates"`
}

func (c TestRailConfig) Enabled() bool { return c.URL != "" }

type JiraConfig struct {
	URL            string `mapstructure:"url" json:"url" yaml:"url"`
	Username       string `mapstructure:"username" json:"username" yaml:"username"`
	APIToken       string `mapstructure:"api_token" json:"api_token" yaml:"api_token"`
	APIVersion     int    `mapstructure:"api_version" json:"api_version" yaml:"api_version"`
	ProjectKey     string `mapstructure:"project_key" json:"project_key" yaml:"project_key"`
	PageSize       int    `mapstructure:"page_size" json:"page_size" yaml:"page_size"`
	CommentWorkers int    `mapstructure:"comment_workers" json:"comment_workers" yaml:"comment_workers"`
}

func (c JiraConfig) Enabled() bool { return c.URL != "" }

type EmailConfig struct {
	Enabled         bool          `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	SMTP            mailer.Config `mapstructure:"smtp" json:"smtp" yaml:"smtp"`
	report.Envelope `mapstructure:",squash" yaml:",inline"`
}

type OutputConfig struct {
	Directory string   `mapstructure:"directory" json:"directory" yaml:"directory"`
	Formats   []string `mapstructure:"formats" json:"formats" yaml:"formats"`
}

type ReportConfig struct {
	// Concurrency bounds how many users are processed at once.
	Concurrency int `mapstructure:"concurrency" json:"concurrency" yaml:"concurrency"`
	// Timezone is an IANA name used for calendar dates; empty means local.
	Timezone string `mapstructure:"timezone" json:"timezone" yaml:"timezone"`
}

type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit" json:"rate_limit" yaml:"rate_limit"`
}

type ScheduleConfig struct {
	Cron    string        `mapstructure:"cron" json:"cron" yaml:"cron"`
	Period  string        `mapstructure:"period" json:"period" yaml:"period"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" json:"level" yaml:"level"`
	Format string `mapstructure:"format" json:"format" yaml:"format"`
}

var defaults = map[string]any{
	"testrail.url":                  "",
	"testrail.username":             "",
	"testrail.api_key":              "",
	"testrail.project_id":           0,
	"testrail.include_run_creation": false,
	"testrail.include_case_updates": false,

	"jira.url":             "",
	"jira.username":        "",
	"jira.api_token":       "",
	"jira.api_version":     3,
	"jira.project_key":     "",
	"jira.page_size":       100,
	"jira.comment_workers": 4,

	"email.enabled":       false,
	"email.smtp.host":     "",
	"email.smtp.port":     587,
	"email.smtp.username": "",
	"email.smtp.password": "",
	"email.smtp.from":     "",
	"email.smtp.tls":      mailer.TLSMandatory,
	"email.smtp.ssl":      false,
	"email.smtp.timeout":  "30s",
	"email.to":            []string{},
	"email.cc":            []string{},
	"email.subject":       "Team activity report {{dateRange}}",
	"email.body":          "Hello,\n\nAttached is the team activity report for {{dateRange}}.",

	"output.directory": "reports",
	"output.formats":   []string{"csv"},

	"report.concurrency": 1,
	"report.timezone":    "",

	"http.timeout":    "30s",
	"http.rate_limit": 5.0,

	"schedule.cron":    "",
	"schedule.period":  "last-week",
	"schedule.timeout": "30m",

	"log.level":  "info",
	"log.format": "auto",
}

// storedSections are the settings-store keys that hold config blobs.
var storedSections = []string{settings.KeyTestRail, settings.KeyJira, settings.KeyEmail}

// Load resolves the configuration. Precedence, lowest first: built-in
// defaults, settings store blobs, config file, environment.
// configFile may be empty, in which case activityreport.yaml is looked up
// in the working directory and ~/.config/activityreport.
func Load(ctx context.Context, v *viper.Viper, store settings.Store, configFile string) (*Config, error) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if store != nil {
		for _, section := range storedSections {
			var blob map[string]any
			found, err := store.Get(ctx, section, &blob)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to read stored settings", goerr.V("key", section))
			}
			if !found {
				continue
			}
			for k, val := range flatten(section, blob) {
				v.SetDefault(k, val)
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("activityreport")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/activityreport")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, goerr.Wrap(err, "failed to read config file", goerr.V("file", configFile), goerr.T(apperr.TagValidation))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to decode configuration", goerr.T(apperr.TagValidation))
	}
	cfg.Output.Formats = splitList(cfg.Output.Formats)
	cfg.Email.To = splitList(cfg.Email.To)
	cfg.Email.Cc = splitList(cfg.Email.Cc)
	return &cfg, nil
}

// Save persists the source and email sections into the settings store.
func Save(ctx context.Context, store settings.Store, cfg *Config) error {
	values := map[string]any{
		settings.KeyTestRail: cfg.TestRail,
		settings.KeyJira:     cfg.Jira,
		settings.KeyEmail:    cfg.Email,
	}
	for _, section := range storedSections {
		if err := store.Set(ctx, section, values[section]); err != nil {
			return goerr.Wrap(err, "failed to store settings", goerr.V("key", section))
		}
	}
	return nil
}

// flatten turns a nested blob into dotted viper keys under prefix.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := prefix + "." + strings.ToLower(k)
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Location returns the configured report timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Report.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Report.Timezone)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid timezone", goerr.V("timezone", c.Report.Timezone), goerr.T(apperr.TagValidation))
	}
	return loc, nil
}

// Validate checks everything needed to generate a report. Errors carry the
// validation tag.
func (c *Config) Validate() error {
	if !c.TestRail.Enabled() && !c.Jira.Enabled() {
		return invalid("no data sources configured (set testrail.url or jira.url)")
	}

	if c.TestRail.Enabled() {
		if err := validateURL("testrail.url", c.TestRail.URL); err != nil {
			return err
		}
		if c.TestRail.Username == "" || c.TestRail.APIKey == "" {
			return invalid("testrail.username and testrail.api_key are required")
		}
		if c.TestRail.ProjectID < 0 {
			return invalid("testrail.project_id must not be negative")
		}
	}

	if c.Jira.Enabled() {
		if err := validateURL("jira.url", c.Jira.URL); err != nil {
			return err
		}
		if c.Jira.Username == "" || c.Jira.APIToken == "" {
			return invalid("jira.username and jira.api_token are required")
		}
		if c.Jira.APIVersion != 2 && c.Jira.APIVersion != 3 {
			return invalid(fmt.Sprintf("jira.api_version must be 2 or 3, got %d", c.Jira.APIVersion))
		}
	}

	if len(c.Output.Formats) == 0 {
		return invalid("output.formats must name at least one format")
	}
	for _, f := range c.Output.Formats {
		if !slices.Contains(Formats, strings.ToLower(f)) {
			return invalid(fmt.Sprintf("unsupported output format %q (valid: %s)", f, strings.Join(Formats, ", ")))
		}
	}
	if c.Output.Directory == "" {
		return invalid("output.directory is required")
	}

	if c.Report.Concurrency < 1 {
		return invalid("report.concurrency must be at least 1")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.HTTP.Timeout <= 0 {
		return invalid("http.timeout must be positive")
	}

	if c.Email.Enabled {
		if err := c.ValidateEmail(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateEmail checks the SMTP and recipient settings.
func (c *Config) ValidateEmail() error {
	if c.Email.SMTP.Host == "" {
		return invalid("email.smtp.host is required")
	}
	if _, err := mail.ParseAddress(c.Email.SMTP.From); err != nil {
		return invalid(fmt.Sprintf("email.smtp.from is not a valid address: %q", c.Email.SMTP.From))
	}
	if len(c.Email.To) == 0 {
		return invalid("email.to needs at least one recipient")
	}
	for _, addr := range append(append([]string{}, c.Email.To...), c.Email.Cc...) {
		if _, err := mail.ParseAddress(addr); err != nil {
			return invalid(fmt.Sprintf("invalid email address: %q", addr))
		}
	}
	switch c.Email.SMTP.TLS {
	case mailer.TLSMandatory, mailer.TLSOpportunistic, mailer.TLSNone:
	default:
		return invalid(fmt.Sprintf("email.smtp.tls must be one of mandatory, opportunistic, none; got %q", c.Email.SMTP.TLS))
	}
	return nil
}

// ValidateSchedule checks the cron section.
func (c *Config) ValidateSchedule() error {
	if c.Schedule.Cron == "" {
		return invalid("schedule.cron is required")
	}
	if !slices.Contains(report.Periods, c.Schedule.Period) {
		return invalid(fmt.Sprintf("schedule.period %q is not one of %s", c.Schedule.Period, strings.Join(report.Periods, ", ")))
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.TestRail.APIKey = mask(c.TestRail.APIKey)
	c.Jira.APIToken = mask(c.Jira.APIToken)
	c.Email.SMTP.Password = mask(c.Email.SMTP.Password)
	return c
}

func validateURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid(fmt.Sprintf("%s must be an http(s) URL, got %q", key, raw))
	}
	return nil
}

func invalid(msg string) error {
	return goerr.New(msg, goerr.T(apperr.TagValidation))
}
