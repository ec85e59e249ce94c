package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Afrawles/activityreport/internal/activityreport"
	"github.com/Afrawles/activityreport/internal/apperr"
	"github.com/Afrawles/activityreport/internal/logging"
	"github.com/Afrawles/activityreport/internal/report"
)

var (
	configFile   string
	settingsPath string
	logLevel     string
	logFormat    string

	startDate string
	endDate   string
	period    string
	userIDs   string
	output    string
	formats   []string
	sendEmail bool
)

var rootCmd = &cobra.Command{
	Use:   "activityreport",
	Short: "Generate team activity reports from TestRail and Jira",
	Long: `activityreport collects test executions from TestRail and created issues and
comments from Jira for the registered users, merges them into one timeline and
exports it as CSV, XLSX, JSON or HTML, optionally mailing the result.`,
	Example: `  activityreport --period last-week --format csv,xlsx
  activityreport --start 2024-01-01 --end 2024-01-31 --users alice,bob --email`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          generateReport,
}

func execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// raw error details stay in the log
		apperr.Handle(ctxlog.With(ctx, logging.New(firstNonEmpty(logLevel, "info"), logFormat, os.Stderr)), err)
		if apperr.KindOf(err) == apperr.KindUnknown {
			// flag and argument errors from cobra
			fmt.Fprintln(os.Stderr, "Error:", err)
		} else {
			fmt.Fprintln(os.Stderr, apperr.UserMessage(err))
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ./activityreport.yaml or ~/.config/activityreport/activityreport.yaml)")
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", defaultSettingsPath(), "Settings store holding users and saved credentials")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console, json, auto")

	rootCmd.Flags().StringVarP(&startDate, "start", "s", "", "Start date (YYYY-MM-DD)")
	rootCmd.Flags().StringVarP(&endDate, "end", "e", "", "End date (YYYY-MM-DD), inclusive")
	rootCmd.Flags().StringVarP(&period, "period", "p", "", "Period: "+strings.Join(report.Periods, ", "))
	rootCmd.Flags().StringVarP(&userIDs, "users", "u", "", "Comma-separated user ids (default all registered users)")
	rootCmd.Flags().StringVarP(&output, "output", "o", "", "Output directory")
	rootCmd.Flags().StringSliceVarP(&formats, "format", "f", nil, "Output formats: csv, xlsx, json, html")
	rootCmd.Flags().BoolVar(&sendEmail, "email", false, "Mail the report to the configured recipients")
	rootCmd.MarkFlagsMutuallyExclusive("period", "start")
	rootCmd.MarkFlagsMutuallyExclusive("period", "end")
}

// reportWindow resolves the flags into an inclusive window in loc. Without
// flags the window is the last seven days including today.
func reportWindow(now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	now = now.In(loc)
	if period != "" {
		return report.PeriodRange(period, now)
	}

	start, end := startDate, endDate
	if end == "" {
		end = now.Format("2006-01-02")
	}
	if start == "" {
		start = now.AddDate(0, 0, -6).Format("2006-01-02")
	}
	return report.ParseDateRange(start, end, loc)
}

func generateReport(cmd *cobra.Command, args []string) error {
	v := viper.New()
	if output != "" {
		v.Set("output.directory", output)
	}
	if len(formats) > 0 {
		v.Set("output.formats", formats)
	}

	e, err := setup(cmd, v)
	if err != nil {
		return err
	}
	app, err := e.application()
	if err != nil {
		return err
	}

	start, end, err := reportWindow(time.Now(), app.Location)
	if err != nil {
		return err
	}

	fmt.Printf("Generating report for %s\n", report.FormatDateRange(start, end))
	ctxlog.From(e.ctx).Debug("report window", "start", start, "end", end)

	bar := newSpinner("Fetching activities")
	res, err := app.GenerateReport(e.ctx, activityreport.Request{
		UserIDs: parseCommaList(userIDs),
		Start:   start,
		End:     end,
		Email:   sendEmail,
	})
	finishBar(bar)
	if res != nil {
		printResult(res)
	}
	if err != nil {
		return err
	}
	if sendEmail {
		fmt.Printf("\nReport mailed to %s\n", strings.Join(e.cfg.Email.To, ", "))
	}
	return nil
}

func printResult(res *activityreport.Result) {
	s := res.Report.Summary

	if len(res.Files) > 0 {
		fmt.Println("\nReports saved:")
		for _, f := range res.Files {
			fmt.Printf("  -> %s\n", f)
		}
	}

	fmt.Printf("\nSummary (%s):\n", s.DateRange)
	fmt.Printf("  Users:               %d\n", s.TotalUsers)
	fmt.Printf("  Total activities:    %d\n", s.TotalActivities)
	fmt.Printf("  TestRail activities: %d\n", s.TestRailActivities())
	fmt.Printf("  Jira activities:     %d\n", s.JiraActivities())
	fmt.Printf("  Mean per user:       %.2f\n", s.MeanPerUser)
	fmt.Printf("  Median per user:     %.2f\n", s.MedianPerUser)

	for _, line := range missingData(res.Report) {
		fmt.Println(line)
	}
}

// missingData lists failed sources per user in report order.
func missingData(r *report.Report) []string {
	var lines []string
	for _, ur := range r.Users {
		for _, src := range report.Sources {
			if err, ok := ur.Errors[src]; ok {
				lines = append(lines, fmt.Sprintf("  ! %s data for %s is missing: %s", src, ur.User.Name, apperr.UserMessage(err)))
			}
		}
	}
	return lines
}
