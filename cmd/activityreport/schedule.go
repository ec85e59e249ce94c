package main

import (
	"fmt"
	"os"

	"github.com/m-mizutani/ctxlog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Afrawles/activityreport/internal/config"
	"github.com/Afrawles/activityreport/internal/jobs"
)

var (
	scheduleCmd = &cobra.Command{
		Use:   "schedule",
		Short: "Generate and mail reports on the configured cron schedule until interrupted",
		Example: `  ACTIVITYREPORT_SCHEDULE_CRON="0 8 * * MON" ACTIVITYREPORT_SCHEDULE_PERIOD=last-week \
    activityreport schedule`,
		Args: cobra.NoArgs,
		RunE: runSchedule,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect or persist the resolved configuration",
	}

	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE:  showConfig,
	}

	configSaveCmd = &cobra.Command{
		Use:   "save",
		Short: "Store the TestRail, Jira and email sections in the settings store",
		Args:  cobra.NoArgs,
		RunE:  saveConfig,
	}

	scheduleCron   string
	schedulePeriod string
)

func init() {
	rootCmd.AddCommand(scheduleCmd, configCmd)
	configCmd.AddCommand(configShowCmd, configSaveCmd)

	scheduleCmd.Flags().StringVar(&scheduleCron, "cron", "", "Cron expression (overrides schedule.cron)")
	scheduleCmd.Flags().StringVar(&schedulePeriod, "period", "", "Report period (overrides schedule.period)")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	v := viper.New()
	if scheduleCron != "" {
		v.Set("schedule.cron", scheduleCron)
	}
	if schedulePeriod != "" {
		v.Set("schedule.period", schedulePeriod)
	}

	e, err := setup(cmd, v)
	if err != nil {
		return err
	}
	if err := e.cfg.ValidateSchedule(); err != nil {
		return err
	}
	app, err := e.application()
	if err != nil {
		return err
	}

	s := e.cfg.Schedule
	cr, err := jobs.NewCron(e.ctx, s.Cron, s.Period, s.Timeout, app.Location, app)
	if err != nil {
		return err
	}
	cr.Start()
	fmt.Printf("Scheduler running (%q, period %s), next run at %s. Press Ctrl+C to stop.\n",
		s.Cron, s.Period, cr.Next().Format("2006-01-02 15:04 MST"))

	<-e.ctx.Done()
	ctxlog.From(e.ctx).Info("stopping scheduler")
	<-cr.Stop().Done()
	return nil
}

func showConfig(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd, nil)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(e.cfg.Redacted())
}

func saveConfig(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd, nil)
	if err != nil {
		return err
	}
	if err := config.Save(e.ctx, e.store, e.cfg); err != nil {
		return err
	}
	fmt.Printf("Settings saved to %s\n", e.store.Path())
	return nil
}
