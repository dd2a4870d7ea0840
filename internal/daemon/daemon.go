// Package daemon runs the warden supervision service: a single
// background process per machine that keeps one worker running per
// eligible interactive login session.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/warden-project/warden/internal/config"
	"github.com/warden-project/warden/internal/monitor"
	"github.com/warden-project/warden/internal/platform"
	"github.com/warden-project/warden/internal/supervisor"
)

// stateSaveInterval is how often the informational state file is
// refreshed while the daemon runs.
const stateSaveInterval = 30 * time.Second

// Daemon wires the platform, monitor, and supervisor together and
// owns the process-level concerns: single-instance locking, the PID
// and state files, logging, and signal handling.
type Daemon struct {
	cfg    *config.Config
	logger *log.Logger
	ctx    context.Context
	cancel context.CancelFunc

	sup *supervisor.Supervisor
}

// New creates a daemon instance. The config must already be validated.
func New(cfg *config.Config) (*Daemon, error) {
	if err := os.MkdirAll(cfg.RuntimeDir, 0755); err != nil {
		return nil, fmt.Errorf("creating runtime directory: %w", err)
	}

	logFile, err := os.OpenFile(LogFile(cfg.RuntimeDir), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	logger := log.New(logFile, "", log.LstdFlags)

	ctx, cancel := context.WithCancel(context.Background())

	sessions := platform.NewLogind()
	launcher := platform.NewExecLauncher()
	mon := monitor.New(sessions, cfg.PollInterval(), logger)
	sup := supervisor.New(cfg, launcher, mon, logger)

	return &Daemon{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		sup:    sup,
	}, nil
}

// Run starts the daemon and blocks until shutdown.
func (d *Daemon) Run() error {
	d.logger.Printf("warden daemon starting (PID %d)", os.Getpid())

	// Exclusive lock prevents the TOCTOU race where concurrent starts
	// all pass the IsRunning check before any writes the PID file.
	fileLock := flock.New(LockFile(d.cfg.RuntimeDir))
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("daemon already running (lock held by another process)")
	}
	defer func() { _ = fileLock.Unlock() }()

	if err := os.WriteFile(PidFile(d.cfg.RuntimeDir), []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() { _ = os.Remove(PidFile(d.cfg.RuntimeDir)) }() // best-effort cleanup

	state := &State{
		Running:   true,
		PID:       os.Getpid(),
		StartedAt: time.Now(),
	}
	if err := SaveState(d.cfg.RuntimeDir, state); err != nil {
		d.logger.Printf("Warning: failed to save state: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	supDone := make(chan error, 1)
	go func() {
		supDone <- d.sup.Run(d.ctx)
	}()

	stateTimer := time.NewTicker(stateSaveInterval)
	defer stateTimer.Stop()

	for {
		select {
		case sig := <-sigChan:
			d.logger.Printf("Received signal %v, shutting down", sig)
			d.cancel()

		case err := <-supDone:
			return d.finish(state, err)

		case <-stateTimer.C:
			state.LastReconcile = time.Now()
			state.ReconcileCount = d.sup.CycleCount()
			state.WorkerCount = d.sup.WorkerCount()
			if err := SaveState(d.cfg.RuntimeDir, state); err != nil {
				d.logger.Printf("Warning: failed to save state: %v", err)
			}
		}
	}
}

// finish records the final state after the supervisor has completed
// its shutdown sequence.
func (d *Daemon) finish(state *State, err error) error {
	state.Running = false
	state.WorkerCount = 0
	if saveErr := SaveState(d.cfg.RuntimeDir, state); saveErr != nil {
		d.logger.Printf("Warning: failed to save final state: %v", saveErr)
	}
	d.logger.Println("warden daemon stopped")
	return err
}

// Stop signals the daemon to shut down.
func (d *Daemon) Stop() {
	d.cancel()
}

// LogFile returns the daemon log path for a runtime directory.
func LogFile(runtimeDir string) string {
	return filepath.Join(runtimeDir, "warden.log")
}

// PidFile returns the daemon PID file path.
func PidFile(runtimeDir string) string {
	return filepath.Join(runtimeDir, "warden.pid")
}

// LockFile returns the daemon lock file path.
func LockFile(runtimeDir string) string {
	return filepath.Join(runtimeDir, "warden.lock")
}

// IsRunning checks whether a daemon is running for the runtime dir.
// It checks the PID file and verifies the process is alive. The file
// lock in Run is the authoritative duplicate-prevention mechanism;
// this function serves status checks and cleanup.
func IsRunning(runtimeDir string) (bool, int, error) {
	data, err := os.ReadFile(PidFile(runtimeDir))
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("reading PID file: %w", err)
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return false, 0, fmt.Errorf("invalid PID in file %q: %w", pidStr, err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0, nil
	}

	// On Unix FindProcess always succeeds; signal 0 checks liveness.
	if err := process.Signal(syscall.Signal(0)); err != nil {
		if err := os.Remove(PidFile(runtimeDir)); err == nil {
			return false, 0, fmt.Errorf("removed stale PID file (process %d not found)", pid)
		}
		return false, 0, nil
	}

	// Verify it is actually a warden daemon, not PID reuse.
	if !isWardenDaemon(pid) {
		if err := os.Remove(PidFile(runtimeDir)); err == nil {
			return false, 0, fmt.Errorf("removed stale PID file (PID %d is not warden)", pid)
		}
		return false, 0, nil
	}

	return true, pid, nil
}

// isWardenDaemon checks whether a PID belongs to a `warden daemon run`
// process, guarding against PID reuse.
func isWardenDaemon(pid int) bool {
	out, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "command=").Output()
	if err != nil {
		return false
	}
	cmdline := strings.TrimSpace(string(out))
	return strings.Contains(cmdline, "warden") && strings.Contains(cmdline, "daemon") && strings.Contains(cmdline, "run")
}

// stopWait is how long StopDaemon waits for the graceful shutdown
// path: the worker stop grace window plus slack for the daemon's own
// teardown.
func stopWait(grace time.Duration) time.Duration {
	return grace + 5*time.Second
}

// StopDaemon stops the running daemon for the runtime directory:
// SIGTERM, a bounded wait for the graceful shutdown path, then
// SIGKILL if the process survived. grace is the daemon's configured
// worker stop grace window.
func StopDaemon(runtimeDir string, grace time.Duration) error {
	running, pid, err := IsRunning(runtimeDir)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM: %w", err)
	}

	deadline := time.Now().Add(stopWait(grace))
	for time.Now().Before(deadline) {
		if err := process.Signal(syscall.Signal(0)); err != nil {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	if err := process.Signal(syscall.Signal(0)); err == nil {
		_ = process.Signal(syscall.SIGKILL)
	}

	_ = os.Remove(PidFile(runtimeDir))
	return nil
}
