package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bridge daemon status",
	Long:  `Query the running daemon's health endpoint and print a summary.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return fmt.Errorf("failed to resolve config path: %w", err)
		}
	}

	cfg, err := config.NewLoader(path).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	health, err := fetchHealth(fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port))
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Status: stopped")
		return nil
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Status: running")
	if uptime, ok := health["uptime"].(float64); ok {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Duration(uptime)*time.Second))
	}
	if pending, ok := health["pending"].(float64); ok {
		fmt.Fprintf(out, "Pending requests: %d\n", int(pending))
	}
	if sessions, ok := health["sessions"].(float64); ok {
		fmt.Fprintf(out, "Active sessions: %d\n", int(sessions))
	}
	if clients, ok := health["clients"].(float64); ok {
		fmt.Fprintf(out, "Event clients: %d\n", int(clients))
	}
	return nil
}

func fetchHealth(url string) (map[string]interface{}, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var health map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}
	return health, nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
