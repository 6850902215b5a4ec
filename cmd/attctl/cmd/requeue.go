package cmd

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
)

var requeueCmd = &cobra.Command{
	Use:   "requeue <transaction-id>",
	Short: "Re-drive a stuck transaction immediately instead of waiting for the sweep",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid transaction id: %s", args[0])
		}
		return callAPI(http.MethodPost, fmt.Sprintf("/api/v1/admin/transactions/%d/requeue", id))
	},
}

func init() {
	rootCmd.AddCommand(requeueCmd)
}
