package cmd

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <transaction-id>",
	Short: "Show a transaction and its attestation and reward records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid transaction id: %s", args[0])
		}
		return callAPI(http.MethodGet, fmt.Sprintf("/api/v1/admin/transactions/%d", id))
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
