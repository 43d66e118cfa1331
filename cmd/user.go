package cmd

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/joescharf/tracker/internal/output"
)

var userAddName string

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <email>",
	Short: "Register a new user",
	Args:  cobra.ExactArgs(1),
	RunE:  userAddRun,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered users",
	RunE:  userListRun,
}

func init() {
	userAddCmd.Flags().StringVar(&userAddName, "name", "", "Display name (defaults to email)")
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	rootCmd.AddCommand(userCmd)
}

func userAddRun(cmd *cobra.Command, args []string) error {
	email := args[0]
	name := userAddName
	if name == "" {
		name = email
	}

	fmt.Fprint(ui.Out, "Password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(ui.Out)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	if ui.DryRun {
		ui.DryRunMsg("would register user %s", email)
		return nil
	}

	authSvc, err := getAuth()
	if err != nil {
		return err
	}

	user, err := authSvc.Register(cmd.Context(), email, name, string(password))
	if err != nil {
		return err
	}

	ui.Success("Registered %s (%s)", user.Email, shortID(user.ID))
	return nil
}

func userListRun(cmd *cobra.Command, args []string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	users, err := s.ListUsers(cmd.Context())
	if err != nil {
		return err
	}

	if len(users) == 0 {
		ui.Info("No users registered")
		return nil
	}

	table := ui.Table([]string{"ID", "Email", "Name", "Created"})
	for _, u := range users {
		table.Append([]string{
			output.Cyan(shortID(u.ID)),
			u.Email,
			u.Name,
			u.CreatedAt.Format("2006-01-02"),
		})
	}
	return table.Render()
}
