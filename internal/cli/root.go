// Package cli defines the unity-bridge command tree.
package cli

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "unity-bridge",
	Short: "Unity editor bridge for remote agents",
	Long: `unity-bridge exposes a thread-sensitive editor to many concurrent
remote agents: requests are queued into fair per-kind lanes, mutations run
one per tick on a single drain goroutine, and arbitrary code fragments are
compiled and executed on demand.`,
	Version: version,
}

// Execute runs the command tree. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.unity-bridge/bridge.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command, for tests.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the build version.
func GetVersion() string {
	return version
}
