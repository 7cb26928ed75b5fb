package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-incidents/internal/credentials"
)

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Print a new base64 credential encryption key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		key, err := credentials.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List users with stored credentials",
	Args:  cobra.NoArgs,
	RunE:  runUsers,
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete <user-id>",
	Short: "Remove a user's stored credentials",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsersDelete,
}

func init() {
	usersCmd.AddCommand(usersDeleteCmd)
}

func runUsers(cmd *cobra.Command, _ []string) error {
	a, err := credentialApp()
	if err != nil {
		return err
	}
	defer a.Close()

	users, err := a.credentials.ListUsers(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(users) == 0 {
		fmt.Fprintln(out, "No stored credentials.")
		return nil
	}
	for _, user := range users {
		fmt.Fprintln(out, user)
	}
	return nil
}

func runUsersDelete(cmd *cobra.Command, args []string) error {
	a, err := credentialApp()
	if err != nil {
		return err
	}
	defer a.Close()

	deleted, err := a.credentials.Delete(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("no credentials stored for %s", args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted credentials for %s\n", args[0])
	return nil
}

// credentialApp opens only the stores; no network clients are built.
func credentialApp() (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	if err := a.openStores(); err != nil {
		a.Close()
		return nil, err
	}
	logger.Debug("credential store opened", slog.String("path", cfg.Store.CredentialsPath))
	return a, nil
}
