package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Afrawles/activityreport/internal/registry"
	"github.com/Afrawles/activityreport/internal/report"
)

var (
	usersCmd = &cobra.Command{
		Use:   "users",
		Short: "Manage the users included in reports",
	}

	usersListCmd = &cobra.Command{
		Use:   "list",
		Short: "List registered users",
		Args:  cobra.NoArgs,
		RunE:  listUsers,
	}

	usersAddCmd = &cobra.Command{
		Use:   "add",
		Short: "Register a user or update an existing one",
		Example: `  activityreport users add --id alice --name "Alice Smith" --email alice@example.com \
    --testrail-id alice@example.com --jira-id 5b10a2844c20165700ede21g`,
		Args: cobra.NoArgs,
		RunE: addUser,
	}

	usersRemoveCmd = &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a registered user",
		Args:  cobra.ExactArgs(1),
		RunE:  removeUser,
	}

	usersLookupCmd = &cobra.Command{
		Use:   "lookup <query>",
		Short: "Search TestRail and Jira accounts to find external ids",
		Args:  cobra.ExactArgs(1),
		RunE:  lookupUsers,
	}

	newUser report.User
)

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(usersListCmd, usersAddCmd, usersRemoveCmd, usersLookupCmd)

	usersAddCmd.Flags().StringVar(&newUser.ID, "id", "", "Local user id")
	usersAddCmd.Flags().StringVar(&newUser.Name, "name", "", "Display name")
	usersAddCmd.Flags().StringVar(&newUser.Email, "email", "", "Email address")
	usersAddCmd.Flags().StringVar(&newUser.TestRailID, "testrail-id", "", "TestRail user id or account email")
	usersAddCmd.Flags().StringVar(&newUser.JiraID, "jira-id", "", "Jira accountId (cloud) or username (server)")
	_ = usersAddCmd.MarkFlagRequired("id")
	_ = usersAddCmd.MarkFlagRequired("name")
	_ = usersAddCmd.MarkFlagRequired("email")
}

func listUsers(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd, nil)
	if err != nil {
		return err
	}
	users, err := registry.New(e.store).List(e.ctx)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Println("No users registered. Add one with `activityreport users add`.")
		return nil
	}

	fmt.Printf("%-16s %-24s %-32s %-24s %s\n", "ID", "NAME", "EMAIL", "TESTRAIL", "JIRA")
	for _, u := range users {
		fmt.Printf("%-16s %-24s %-32s %-24s %s\n", u.ID, u.Name, u.Email, dash(u.TestRailID), dash(u.JiraID))
	}
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func addUser(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd, nil)
	if err != nil {
		return err
	}
	if err := registry.New(e.store).Upsert(e.ctx, newUser); err != nil {
		return err
	}
	fmt.Printf("User %s saved\n", newUser.ID)
	return nil
}

func removeUser(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd, nil)
	if err != nil {
		return err
	}
	if err := registry.New(e.store).Remove(e.ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("User %s removed\n", args[0])
	return nil
}

func lookupUsers(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd, nil)
	if err != nil {
		return err
	}
	app, err := e.application()
	if err != nil {
		return err
	}

	bar := newSpinner("Searching accounts")
	candidates, err := app.LookupUsers(e.ctx, args[0])
	finishBar(bar)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		fmt.Println("No matching accounts")
		return nil
	}

	fmt.Printf("%-10s %-28s %-24s %s\n", "SOURCE", "ID", "NAME", "EMAIL")
	for _, c := range candidates {
		fmt.Printf("%-10s %-28s %-24s %s\n", c.Source, c.ID, c.Name, dash(c.Email))
	}
	return nil
}
