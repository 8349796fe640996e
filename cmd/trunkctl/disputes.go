package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var disputesCmd = &cobra.Command{
	Use:   "disputes",
	Short: "Raise and settle ownership disputes",
}

func init() {
	disputesCmd.AddCommand(disputeCreateCmd)
	disputesCmd.AddCommand(disputeListCmd)
	disputesCmd.AddCommand(disputeSettleCmd)

	disputeListCmd.Flags().Bool("unsettled", false, "Only show unsettled disputes")
}

var disputeCreateCmd = &cobra.Command{
	Use:   "create <message>",
	Short: "Open an ownership dispute",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		var resp struct {
			ID string `json:"id"`
		}
		if err := client.postJSON("/api/v1/disputes", map[string]string{"message": args[0]}, &resp); err != nil {
			return err
		}
		fmt.Printf("Dispute %s opened.\n", resp.ID)
		return nil
	},
}

var disputeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List disputes (operator only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		unsettled, _ := cmd.Flags().GetBool("unsettled")
		client := newClient()

		path := "/api/v1/disputes"
		if unsettled {
			path += "?unsettled=true"
		}
		var resp struct {
			Disputes []struct {
				ID      string `json:"id"`
				Claimer string `json:"claimer"`
				Message string `json:"message"`
				Settled bool   `json:"settled"`
			} `json:"disputes"`
		}
		if err := client.getJSON(path, &resp); err != nil {
			return err
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(resp)
		}

		headers := []string{"ID", "Claimer", "Message", "Settled"}
		rows := make([][]string, 0, len(resp.Disputes))
		for _, d := range resp.Disputes {
			rows = append(rows, []string{d.ID, d.Claimer, d.Message, strconv.FormatBool(d.Settled)})
		}
		printTable(headers, rows)
		return nil
	},
}

var disputeSettleCmd = &cobra.Command{
	Use:   "settle <id>",
	Short: "Settle a dispute (operator only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		if err := client.postJSON("/api/v1/disputes/"+args[0]+"/settle", nil, nil); err != nil {
			return err
		}
		fmt.Printf("Dispute %s settled.\n", args[0])
		return nil
	},
}
