package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulsebot/pulse/pkg/config"
)

var statusToken string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a running gateway's stats snapshot",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusToken, "token", "t", "", "API key (defaults to gateway.api_key from config)")
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	token := statusToken
	if token == "" {
		token = cfg.Gateway.APIKey
	}

	url := fmt.Sprintf("http://%s:%d/api/stats", cfg.Gateway.Host, cfg.Gateway.Port)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway not reachable at %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %s (check --token)", resp.Status)
	}

	var stats map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("decode stats: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
