package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL    string
	outputFmt    string
	authToken    string
	operatorRole string
	adminToken   string
)

var rootCmd = &cobra.Command{
	Use:   "trunkctl",
	Short: "CLI for the trunk server",
	Long: `trunkctl talks to a trunk server: registering sessions, pushing and
deprecating pod specs, managing owners, and settling ownership disputes.

Most commands need a session token; register one first:

  trunkctl sessions create --email you@example.org
  export TRUNK_TOKEN=<token from the response>`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Trunk server URL")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Session token (default: from TRUNK_TOKEN env)")
	rootCmd.PersistentFlags().StringVar(&operatorRole, "role", "", "Role sent as X-Trunk-Role, for operator routes against a dev server")
	rootCmd.PersistentFlags().StringVar(&adminToken, "admin-token", "", "Admin JWT sent as X-Trunk-Admin-Token (default: from TRUNK_ADMIN_TOKEN env)")

	rootCmd.AddCommand(podsCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(disputesCmd)
	rootCmd.AddCommand(healthCmd)
}

// resolvedToken returns the effective session token.
// Priority: --token flag > TRUNK_TOKEN env var.
func resolvedToken() string {
	if authToken != "" {
		return authToken
	}
	return os.Getenv("TRUNK_TOKEN")
}

// resolvedAdminToken returns the effective admin JWT.
// Priority: --admin-token flag > TRUNK_ADMIN_TOKEN env var.
func resolvedAdminToken() string {
	if adminToken != "" {
		return adminToken
	}
	return os.Getenv("TRUNK_ADMIN_TOKEN")
}
