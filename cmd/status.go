package cmd

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dragon-ia/dragond/internal/config"
)

var statusPort int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running daemon's agent statuses",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusPort, "port", 0, "daemon port (defaults to config value)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg.ApplyEnv()

	port := cfg.Server.Port
	if statusPort != 0 {
		port = statusPort
	}

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://localhost:%d/api/status", port), nil)
	if err != nil {
		return err
	}
	if cfg.Server.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Server.APIKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable on port %d: %w", port, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, body)
	}
	fmt.Println(string(body))
	return nil
}
