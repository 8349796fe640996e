package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var podsCmd = &cobra.Command{
	Use:   "pods",
	Short: "Inspect and publish pods",
}

func init() {
	podsCmd.AddCommand(podGetCmd)
	podsCmd.AddCommand(podVersionCmd)
	podsCmd.AddCommand(podPushCmd)
	podsCmd.AddCommand(podDeprecateCmd)
	podsCmd.AddCommand(podDeleteCmd)
	podsCmd.AddCommand(podOwnersCmd)

	podOwnersCmd.AddCommand(podOwnersAddCmd)
	podOwnersCmd.AddCommand(podOwnersRemoveCmd)
	podOwnersAddCmd.Flags().String("name", "", "Display name for a newly created owner")
}

type podInfo struct {
	Name     string `json:"name"`
	Deleted  bool   `json:"deleted"`
	Owners   []struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"owners"`
	Versions []struct {
		Name      string  `json:"name"`
		Deleted   bool    `json:"deleted"`
		CommitSHA *string `json:"commit_sha"`
		CreatedAt string  `json:"created_at"`
	} `json:"versions"`
}

var podGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Show a pod with its owners and versions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var pod podInfo
		if err := client.getJSON("/api/v1/pods/"+args[0], &pod); err != nil {
			return err
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(pod)
		}

		owners := make([]string, 0, len(pod.Owners))
		for _, o := range pod.Owners {
			owners = append(owners, o.Email)
		}
		fmt.Printf("Pod: %s\nOwners: %v\n\n", pod.Name, owners)

		headers := []string{"Version", "Commit", "Created"}
		rows := make([][]string, 0, len(pod.Versions))
		for _, v := range pod.Versions {
			sha := ""
			if v.CommitSHA != nil {
				sha = *v.CommitSHA
			}
			rows = append(rows, []string{v.Name, sha, v.CreatedAt})
		}
		printTable(headers, rows)
		return nil
	},
}

var podVersionCmd = &cobra.Command{
	Use:   "version <name> <version>",
	Short: "Show a version with its commits and log trail",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var resp struct {
			Name      string `json:"name"`
			Published bool   `json:"published"`
			Commits   []struct {
				SHA       string `json:"sha"`
				Imported  bool   `json:"imported"`
				CreatedAt string `json:"created_at"`
			} `json:"commits"`
			Messages []struct {
				Level     string `json:"level"`
				Message   string `json:"message"`
				CreatedAt string `json:"created_at"`
			} `json:"messages"`
		}
		if err := client.getJSON("/api/v1/pods/"+args[0]+"/versions/"+args[1], &resp); err != nil {
			return err
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(resp)
		}

		fmt.Printf("Version: %s %s\nPublished: %v\n\n", args[0], resp.Name, resp.Published)

		headers := []string{"SHA", "Imported", "Created"}
		rows := make([][]string, 0, len(resp.Commits))
		for _, c := range resp.Commits {
			rows = append(rows, []string{c.SHA, strconv.FormatBool(c.Imported), c.CreatedAt})
		}
		printTable(headers, rows)

		if len(resp.Messages) > 0 {
			fmt.Println()
			headers = []string{"Level", "Message", "At"}
			rows = rows[:0]
			for _, m := range resp.Messages {
				rows = append(rows, []string{m.Level, m.Message, m.CreatedAt})
			}
			printTable(headers, rows)
		}
		return nil
	},
}

var podPushCmd = &cobra.Command{
	Use:   "push <spec.podspec.json>",
	Short: "Publish a pod spec",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return pushSpec(http.MethodPost, args[0])
	},
}

var podDeprecateCmd = &cobra.Command{
	Use:   "deprecate <spec.podspec.json>",
	Short: "Overwrite an existing spec with a deprecation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return pushSpec(http.MethodPatch, args[0])
	},
}

// pushSpec uploads a spec file and reports the terminal state.
func pushSpec(method, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read spec: %w", err)
	}

	client := newClient()
	req, err := http.NewRequest(method, client.baseURL+"/api/v1/pods", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("request creation failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if client.token != "" {
		req.Header.Set("Authorization", "Token "+client.token)
	}

	resp, err := client.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch resp.StatusCode {
	case http.StatusFound:
		fmt.Printf("Published: %s\n", resp.Header.Get("Location"))
		return nil
	case http.StatusConflict:
		return fmt.Errorf("version already published: %s", resp.Header.Get("Location"))
	default:
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
}

var podDeleteCmd = &cobra.Command{
	Use:   "delete <name> <version>",
	Short: "Delete a version from the index and the spec repository",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		if err := client.delete("/api/v1/pods/" + args[0] + "/versions/" + args[1]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s %s\n", args[0], args[1])
		return nil
	},
}

var podOwnersCmd = &cobra.Command{
	Use:   "owners",
	Short: "Manage pod ownership",
}

var podOwnersAddCmd = &cobra.Command{
	Use:   "add <pod> <email>",
	Short: "Add an owner to a pod you own",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		client := newClient()
		body := map[string]string{"email": args[1], "name": name}
		if err := client.postJSON("/api/v1/pods/"+args[0]+"/owners", body, nil); err != nil {
			return err
		}
		fmt.Printf("Added %s as an owner of %s\n", args[1], args[0])
		return nil
	},
}

var podOwnersRemoveCmd = &cobra.Command{
	Use:   "remove <pod> <email>",
	Short: "Remove an owner from a pod you own",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		if err := client.delete("/api/v1/pods/" + args[0] + "/owners/" + args[1]); err != nil {
			return err
		}
		fmt.Printf("Removed %s from %s\n", args[1], args[0])
		return nil
	},
}
