package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/warden-project/warden/internal/heartbeat"
)

var workerSessionID int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the built-in heartbeat worker",
	Long: `Run a minimal worker that connects to its session's heartbeat
channel and beats until terminated.

Useful for smoke-testing a warden deployment before pointing
worker.path at the real program. The session ID comes from --session
or the WARDEN_SESSION_ID environment variable the launcher sets.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().IntVar(&workerSessionID, "session", 0, "session ID (defaults to WARDEN_SESSION_ID)")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sessionID := workerSessionID
	if sessionID == 0 {
		env := os.Getenv("WARDEN_SESSION_ID")
		if env == "" {
			return fmt.Errorf("no session ID: pass --session or set WARDEN_SESSION_ID")
		}
		sessionID, err = strconv.Atoi(env)
		if err != nil {
			return fmt.Errorf("invalid WARDEN_SESSION_ID %q: %w", env, err)
		}
	}

	path := heartbeat.SocketPath(cfg.RuntimeDir, cfg.Heartbeat.ChannelBase, sessionID)
	client, err := heartbeat.Dial(path, cfg.StartupTimeout())
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := client.Run(ctx, cfg.HeartbeatInterval(), "ok"); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
