// Package cmd provides CLI commands for the warden tool.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/warden-project/warden/internal/config"
)

// Version is the warden release version, overridable at build time
// via -ldflags.
var Version = "0.3.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "warden",
	Short:   "Warden - per-session worker supervisor",
	Version: Version,
	Long: `Warden keeps exactly one worker program running per interactive
login session on this machine. It detects logons, logoffs, and session
state changes, restarts crashed or hung workers within a bounded
budget, and stops workers whose session has gone away.`,
}

// Execute runs the root command and returns an exit code.
// The caller (main) should call os.Exit with this code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		// Errors already printed by cobra
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "/etc/warden/warden.toml", "config file path")
}

// loadConfig loads and validates the config file from the --config flag.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}
