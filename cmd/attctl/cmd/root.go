package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "attctl",
	Short: "Operator CLI for the attestation server",
	Long: `attctl talks to a running attestation server over its admin HTTP API:
inspect transactions, re-drive stuck ones and check the fund balances.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "attestation server base URL")
}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

// callAPI hits an admin endpoint and prints the data on success.
func callAPI(method, path string) error {
	client := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequest(method, strings.TrimRight(serverURL, "/")+path, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("unexpected response: %s", body)
	}
	if parsed.Code != 0 {
		return fmt.Errorf("server error %d: %s", parsed.Code, parsed.Message)
	}

	var pretty strings.Builder
	enc := json.NewEncoder(&pretty)
	enc.SetIndent("", "  ")
	if err := enc.Encode(parsed.Data); err != nil {
		return err
	}
	fmt.Print(pretty.String())
	return nil
}
