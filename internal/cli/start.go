package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/internal/config"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/internal/daemon"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/internal/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the bridge daemon",
	Long: `Start the bridge daemon in the foreground. The daemon serves the
HTTP/WebSocket transport and drives the request drain loop until it
receives SIGINT or SIGTERM.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
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
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log, daemon.WithConfigPath(path))
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	return d.Run()
}
