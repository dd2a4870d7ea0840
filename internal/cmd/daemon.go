package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/warden-project/warden/internal/daemon"
	"github.com/warden-project/warden/internal/telemetry"
	"github.com/warden-project/warden/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the warden daemon",
	RunE:  requireSubcommand,
	Long: `Manage the warden background daemon.

The daemon runs the reconciliation loop: it polls interactive sessions,
launches one worker per eligible session, tracks worker liveness via
heartbeat channels, and applies the bounded restart policy.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Long: `Start the warden daemon in the background.

The daemon will run until stopped with 'warden daemon stop'.`,
	RunE: runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE:  runDaemonStatus,
}

var daemonLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View daemon logs",
	RunE:  runDaemonLogs,
}

var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run daemon in foreground (internal)",
	Hidden: true,
	RunE:   runDaemonRun,
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the daemon",
	RunE:  runDaemonRestart,
}

var daemonLogLines int

func init() {
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonLogsCmd)
	daemonCmd.AddCommand(daemonRestartCmd)
	daemonCmd.AddCommand(daemonRunCmd)

	daemonLogsCmd.Flags().IntVarP(&daemonLogLines, "lines", "n", 50, "Number of lines to show")

	rootCmd.AddCommand(daemonCmd)
}

func requireSubcommand(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	running, pid, err := daemon.IsRunning(cfg.RuntimeDir)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if running {
		return fmt.Errorf("daemon already running (PID %d)", pid)
	}

	// 'warden daemon run' is the actual daemon process.
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding executable: %w", err)
	}

	child := exec.Command(exePath, "daemon", "run", "--config", cfgFile)
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil

	if err := child.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	// Wait a moment for the daemon to initialize and acquire the lock.
	time.Sleep(200 * time.Millisecond)

	running, pid, err = daemon.IsRunning(cfg.RuntimeDir)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if !running {
		return fmt.Errorf("daemon failed to start (check logs with 'warden daemon logs')")
	}

	// If another concurrent start won the lock race, our child exited
	// and the PID file holds the winner's PID.
	if pid != child.Process.Pid {
		fmt.Printf("%s Daemon already running (PID %d)\n", ui.RenderWarnIcon(), pid)
		return nil
	}

	fmt.Printf("%s Daemon started (PID %d, v%s)\n", ui.RenderPassIcon(), pid, Version)
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	running, pid, err := daemon.IsRunning(cfg.RuntimeDir)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	if err := daemon.StopDaemon(cfg.RuntimeDir, cfg.StopGrace()); err != nil {
		return fmt.Errorf("stopping daemon: %w", err)
	}

	fmt.Printf("%s Daemon stopped (was PID %d)\n", ui.RenderPassIcon(), pid)
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	running, pid, err := daemon.IsRunning(cfg.RuntimeDir)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}

	if !running {
		fmt.Printf("%s Daemon not running\n", ui.RenderMuted("○"))
		fmt.Println()
		fmt.Printf("  Start with: %s\n", ui.RenderMuted("warden daemon start"))
		return nil
	}

	state, stateErr := daemon.LoadState(cfg.RuntimeDir)

	fmt.Printf("%s Daemon running (PID %d, v%s)\n", ui.RenderPassIcon(), pid, Version)
	fmt.Println()
	fmt.Printf("  Runtime dir:  %s\n", ui.ShortenPath(cfg.RuntimeDir))

	if stateErr == nil && !state.StartedAt.IsZero() {
		fmt.Printf("  Started:      %s (%s)\n",
			state.StartedAt.Format("2006-01-02 15:04:05"),
			ui.RelativeTime(state.StartedAt))
		if !state.LastReconcile.IsZero() {
			fmt.Printf("  Reconcile:    #%d (%s)\n",
				state.ReconcileCount,
				ui.RelativeTime(state.LastReconcile))
		}
		fmt.Printf("  Workers:      %d\n", state.WorkerCount)
	}

	fmt.Printf("  Log:          %s\n", ui.ShortenPath(daemon.LogFile(cfg.RuntimeDir)))
	return nil
}

func runDaemonLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logFile := daemon.LogFile(cfg.RuntimeDir)
	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		return fmt.Errorf("no log file found at %s", logFile)
	}

	tail := exec.Command("tail", "-n", fmt.Sprintf("%d", daemonLogLines), logFile)
	tail.Stdout = os.Stdout
	tail.Stderr = os.Stderr
	return tail.Run()
}

func runDaemonRestart(cmd *cobra.Command, args []string) error {
	if err := runDaemonStop(cmd, args); err != nil {
		return err
	}
	return runDaemonStart(cmd, args)
}

func runDaemonRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Telemetry is opt-in and best-effort.
	provider, err := telemetry.Init(context.Background(), "warden", Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: telemetry init failed: %v\n", err)
	}
	if provider != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = provider.Shutdown(ctx)
		}()
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("creating daemon: %w", err)
	}
	return d.Run()
}
