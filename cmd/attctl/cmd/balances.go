package cmd

import (
	"net/http"

	"github.com/spf13/cobra"
)

var balancesCmd = &cobra.Command{
	Use:   "balances",
	Short: "Show the attestor and distribution fund balances",
	RunE: func(cmd *cobra.Command, args []string) error {
		return callAPI(http.MethodGet, "/api/v1/admin/balances")
	},
}

func init() {
	rootCmd.AddCommand(balancesCmd)
}
