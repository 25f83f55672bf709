package cmd

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	submitCmd = &cobra.Command{
		RunE:  runSubmit,
		Use:   "submit [payload.json]",
		Short: "submit an extracted invoice payload to a running agent",
		Args:  cobra.ExactArgs(1),
	}
	submitAgentURL string
)

func init() {
	submitCmd.Flags().StringVar(&submitAgentURL, "agent-url", "http://localhost:8080", "base URL of the running agent")
}

func runSubmit(_ *cobra.Command, args []string) error {
	payload, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(submitAgentURL+"/api/v1/invoices", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("submit invoice: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	fmt.Printf("%d %s\n", resp.StatusCode, string(body))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("agent rejected submission with status %d", resp.StatusCode)
	}
	return nil
}
