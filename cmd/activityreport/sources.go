package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Afrawles/activityreport/internal/apperr"
)

var (
	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Verify the credentials of each configured source",
		Args:  cobra.NoArgs,
		RunE:  checkSources,
	}

	projectsCmd = &cobra.Command{
		Use:   "projects",
		Short: "List the projects visible to the configured credentials",
		Args:  cobra.NoArgs,
		RunE:  listProjects,
	}
)

func init() {
	rootCmd.AddCommand(checkCmd, projectsCmd)
}

func checkSources(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd, nil)
	if err != nil {
		return err
	}
	app, err := e.application()
	if err != nil {
		return err
	}

	bar := newSpinner("Checking sources")
	results := app.HealthCheck(e.ctx)
	finishBar(bar)

	var failed error
	for _, src := range app.Sources() {
		if err := results[src.Name()]; err != nil {
			fmt.Printf("  %-9s FAILED  %s\n", src.Name(), apperr.UserMessage(err))
			failed = err
			continue
		}
		fmt.Printf("  %-9s OK\n", src.Name())
	}
	return failed
}

func listProjects(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd, nil)
	if err != nil {
		return err
	}
	app, err := e.application()
	if err != nil {
		return err
	}

	bar := newSpinner("Fetching projects")
	projects, err := app.Projects(e.ctx)
	finishBar(bar)
	if err != nil {
		return err
	}

	fmt.Printf("%-10s %-10s %-12s %s\n", "SOURCE", "ID", "KEY", "NAME")
	for _, p := range projects {
		fmt.Printf("%-10s %-10s %-12s %s\n", p.Source, p.ID, dash(p.Key), p.Name)
	}
	return nil
}
