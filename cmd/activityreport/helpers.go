package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Afrawles/activityreport/internal/activityreport"
	"github.com/Afrawles/activityreport/internal/config"
	"github.com/Afrawles/activityreport/internal/logging"
	"github.com/Afrawles/activityreport/internal/settings"
)

// parseCommaList splits a comma-separated string and trims whitespace
func parseCommaList(input string) []string {
	var result []string
	for _, part := range strings.Split(input, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func defaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "activityreport-settings.yaml"
	}
	return filepath.Join(dir, "activityreport", "settings.yaml")
}

// env is what every command needs: a logging context, the settings store
// and the resolved configuration.
type env struct {
	ctx   context.Context
	store *settings.FileStore
	cfg   *config.Config
}

func setup(cmd *cobra.Command, v *viper.Viper) (*env, error) {
	logger := logging.New(logLevel, logFormat, os.Stderr)
	ctx := ctxlog.With(cmd.Context(), logger)

	store := settings.NewFileStore(settingsPath)
	if v == nil {
		v = viper.New()
	}
	cfg, err := config.Load(ctx, v, store, configFile)
	if err != nil {
		return nil, err
	}
	logger = logging.New(firstNonEmpty(logLevel, cfg.Log.Level), firstNonEmpty(logFormat, cfg.Log.Format), os.Stderr)
	ctx = ctxlog.With(ctx, logger)
	return &env{ctx: ctx, store: store, cfg: cfg}, nil
}

// application validates the configuration and builds the application.
func (e *env) application() (*activityreport.Application, error) {
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	return activityreport.New(e.cfg, e.store)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func newSpinner(description string) *progressbar.ProgressBar {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(15),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)
	_ = bar.RenderBlank()
	return bar
}

func finishBar(bar *progressbar.ProgressBar) {
	if bar != nil {
		_ = bar.Finish()
	}
}
