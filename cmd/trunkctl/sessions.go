package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage sessions",
}

func init() {
	sessionsCmd.AddCommand(sessionCreateCmd)
	sessionsCmd.AddCommand(sessionListCmd)
	sessionsCmd.AddCommand(sessionVerifyCmd)
	sessionsCmd.AddCommand(sessionDestroyCmd)

	sessionCreateCmd.Flags().String("email", "", "Owner email (required)")
	sessionCreateCmd.Flags().String("name", "", "Owner display name")
	sessionCreateCmd.Flags().String("description", "", "Session description, e.g. the machine it lives on")
	_ = sessionCreateCmd.MarkFlagRequired("email")

	sessionDestroyCmd.Flags().Bool("all", false, "Destroy every session of the owner")
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new session",
	Long: `Register a new session for an owner, creating the owner on first
contact. The session starts unverified; verify it with the token from the
out-of-band channel before using it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		name, _ := cmd.Flags().GetString("name")
		description, _ := cmd.Flags().GetString("description")

		client := newClient()
		var resp struct {
			Token      string `json:"token"`
			Verified   bool   `json:"verified"`
			ValidUntil string `json:"valid_until"`
		}
		body := map[string]string{"email": email, "name": name, "description": description}
		if err := client.postJSON("/api/v1/sessions", body, &resp); err != nil {
			return err
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(resp)
		}
		fmt.Printf("Token: %s\nValid until: %s\n\nThe session is unverified; complete verification before pushing.\n", resp.Token, resp.ValidUntil)
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		var resp struct {
			Sessions []struct {
				TokenHint   string `json:"token_hint"`
				Description string `json:"description"`
				Verified    bool   `json:"verified"`
				ValidUntil  string `json:"valid_until"`
				Current     bool   `json:"current"`
			} `json:"sessions"`
		}
		if err := client.getJSON("/api/v1/sessions", &resp); err != nil {
			return err
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(resp)
		}

		headers := []string{"Token", "Description", "Verified", "Valid Until", "Current"}
		rows := make([][]string, 0, len(resp.Sessions))
		for _, s := range resp.Sessions {
			rows = append(rows, []string{
				s.TokenHint + "...",
				s.Description,
				strconv.FormatBool(s.Verified),
				s.ValidUntil,
				strconv.FormatBool(s.Current),
			})
		}
		printTable(headers, rows)
		return nil
	},
}

var sessionVerifyCmd = &cobra.Command{
	Use:   "verify <verification-token>",
	Short: "Verify a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		var resp map[string]any
		if err := client.getJSON("/api/v1/sessions/verify/"+args[0], &resp); err != nil {
			return err
		}
		fmt.Println("Session verified.")
		return nil
	},
}

var sessionDestroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Destroy the current session, or all sessions with --all",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		client := newClient()
		path := "/api/v1/sessions"
		if all {
			path += "/all"
		}
		if err := client.delete(path); err != nil {
			return err
		}
		if all {
			fmt.Println("All sessions destroyed.")
		} else {
			fmt.Println("Session destroyed.")
		}
		return nil
	},
}
