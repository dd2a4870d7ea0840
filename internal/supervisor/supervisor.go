// Package supervisor implements the session-aware reconciliation
// loop: it owns the worker record table, launches and stops workers
// as sessions come and go, tracks liveness through heartbeat
// observations, and applies the bounded restart policy.
package supervisor

import (
	"context"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/warden-project/warden/internal/config"
	"github.com/warden-project/warden/internal/heartbeat"
	"github.com/warden-project/warden/internal/monitor"
	"github.com/warden-project/warden/internal/platform"
)

// beatBuffer bounds the observation queue from heartbeat listeners.
const beatBuffer = 256

// Supervisor is the single-threaded control loop. It is the sole
// writer of the worker record table: listeners and the monitor only
// send messages into its channels.
type Supervisor struct {
	cfg      *config.Config
	launcher platform.Launcher
	mon      *monitor.Monitor
	logger   *log.Logger
	metrics  *supervisorMetrics

	policy  Policy
	records map[int]*WorkerRecord
	beats   chan heartbeat.Observation

	cycles  atomic.Uint64
	workers atomic.Int64

	// now is replaceable in tests for deterministic deadline checks.
	now func() time.Time

	// stopWG tracks in-flight asynchronous terminations so shutdown
	// can wait for stragglers within the grace window.
	stopWG sync.WaitGroup
}

// New creates a Supervisor. The config must already be validated.
func New(cfg *config.Config, launcher platform.Launcher, mon *monitor.Monitor, logger *log.Logger) *Supervisor {
	metrics, err := newSupervisorMetrics()
	if err != nil {
		logger.Printf("Warning: metrics disabled: %v", err)
	}
	return &Supervisor{
		cfg:      cfg,
		launcher: launcher,
		mon:      mon,
		logger:   logger,
		metrics:  metrics,
		policy: Policy{
			MaxAttempts:     cfg.Restart.MaxAttempts,
			Delay:           cfg.RestartDelay(),
			StabilityWindow: cfg.StabilityWindow(),
		},
		records: make(map[int]*WorkerRecord),
		beats:   make(chan heartbeat.Observation, beatBuffer),
		now:     time.Now,
	}
}

// Run drives the control loop until the context is canceled, then
// performs the ordered shutdown sequence: monitor and listeners
// first, then graceful worker stops, then forced termination of
// stragglers. No worker outlives this call.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mon.Start(ctx)

	ticker := time.NewTicker(s.cfg.TickInterval())
	defer ticker.Stop()

	s.logger.Printf("supervisor running (tick %v, poll %v, heartbeat timeout %v)",
		s.cfg.TickInterval(), s.cfg.PollInterval(), s.cfg.HeartbeatTimeout())

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil

		case ev := <-s.mon.Events():
			s.logger.Printf("session %d (%s): %s [state %s]",
				ev.Session.ID, ev.Session.User, ev.Type, ev.Session.State)
			s.reconcile()

		case ob := <-s.beats:
			s.handleBeat(ob)

		case <-ticker.C:
			s.reconcile()
		}
	}
}

// CycleCount returns the number of completed reconciliation cycles.
func (s *Supervisor) CycleCount() uint64 {
	return s.cycles.Load()
}

// WorkerCount returns the number of currently tracked workers.
func (s *Supervisor) WorkerCount() int {
	return int(s.workers.Load())
}

// handleBeat applies one heartbeat observation. Observations tagged
// with a stale generation belong to a replaced worker and are
// discarded.
func (s *Supervisor) handleBeat(ob heartbeat.Observation) {
	rec, ok := s.records[ob.SessionID]
	if !ok || rec.Generation != ob.Generation {
		return
	}

	rec.LastHeartbeat = ob.At

	switch rec.State {
	case StateStarting:
		rec.State = StateRunning
		rec.RunningSince = s.now()
		s.logger.Printf("session %d: worker running (first heartbeat after %v)",
			rec.SessionID, s.now().Sub(rec.StartedAt).Round(time.Millisecond))
	case StateUnresponsive:
		// Heartbeat resumed before forced termination completed.
		rec.State = StateRunning
		s.logger.Printf("session %d: worker responsive again", rec.SessionID)
	}
}

// reconcile performs one cycle: session removals first, then liveness
// checks, then launches. The ordering guarantees a session that just
// logged off is never simultaneously relaunched. A fault while
// handling one session is isolated so the cycle proceeds to the rest.
func (s *Supervisor) reconcile() {
	now := s.now()
	desired := s.desiredSessions()

	for id, rec := range s.records {
		if _, ok := desired[id]; ok {
			continue
		}
		r := rec
		s.guard(id, func() { s.stopWorker(r) })
		delete(s.records, id)
	}

	for id, rec := range s.records {
		r := rec
		s.guard(id, func() { s.checkWorker(r, now) })
	}

	for id, sess := range desired {
		sess := sess
		s.guard(id, func() { s.ensureWorker(sess, now) })
	}

	s.cycles.Add(1)
	s.workers.Store(int64(len(s.records)))
	s.metrics.recordReconcile()
	s.metrics.setActiveWorkers(len(s.records))
}

// desiredSessions computes the sessions that should have a worker:
// enumerable, human login, in a live connection state, restricted to
// the console session when multi-session support is disabled.
func (s *Supervisor) desiredSessions() map[int]platform.SessionInfo {
	snap := s.mon.Snapshot()
	desired := make(map[int]platform.SessionInfo, len(snap))

	consoleID, consoleKnown := 0, false
	if !s.cfg.Supervisor.MultiSession {
		consoleID, consoleKnown = s.mon.ConsoleSessionID()
	}

	for id, sess := range snap {
		if sess.User == "" || !liveState(sess.State) {
			continue
		}
		if !s.cfg.Supervisor.MultiSession {
			// Fall back to the snapshot's console flag when the
			// console query itself failed transiently.
			if consoleKnown && id != consoleID {
				continue
			}
			if !consoleKnown && !sess.Console {
				continue
			}
		}
		desired[id] = sess
	}
	return desired
}

// liveState reports whether a connection state represents an
// established logon. Locked or disconnected sessions keep their
// worker; only a vanished or torn-down session loses it.
func liveState(st platform.ConnState) bool {
	switch st {
	case platform.StateActive, platform.StateConnected, platform.StateDisconnected:
		return true
	default:
		return false
	}
}

// checkWorker runs liveness and restart evaluation for one record.
func (s *Supervisor) checkWorker(rec *WorkerRecord, now time.Time) {
	// Direct exit observation takes precedence over heartbeat state:
	// a dead process is unambiguous regardless of what the channel
	// last reported.
	if rec.Process != nil && processDone(rec.Process) {
		switch rec.State {
		case StateStarting:
			s.logger.Printf("session %d: worker PID %d exited during startup: %v",
				rec.SessionID, rec.Process.PID(), rec.Process.ExitErr())
			s.failWorker(rec, now, "launch-failed")
		case StateRunning:
			s.logger.Printf("session %d: worker PID %d exited unexpectedly: %v",
				rec.SessionID, rec.Process.PID(), rec.Process.ExitErr())
			s.failWorker(rec, now, "unexpected-exit")
		case StateUnresponsive:
			s.logger.Printf("session %d: unresponsive worker PID %d terminated",
				rec.SessionID, rec.Process.PID())
			s.failWorker(rec, now, "unresponsive")
		}
		return
	}

	switch rec.State {
	case StateStarting:
		if rec.Process != nil && now.After(rec.StartDeadline) {
			s.logger.Printf("session %d: no heartbeat within startup timeout (%v)",
				rec.SessionID, s.cfg.StartupTimeout())
			s.failWorker(rec, now, "startup-timeout")
		}

	case StateRunning:
		if now.Sub(rec.LastHeartbeat) >= s.cfg.HeartbeatTimeout() {
			// A hung process must not be left running alongside its
			// replacement: force it down first, then let the exit
			// observation drive the restart decision.
			rec.State = StateUnresponsive
			s.logger.Printf("session %d: heartbeat silent for %v, terminating unresponsive worker PID %d",
				rec.SessionID, now.Sub(rec.LastHeartbeat).Round(time.Second), rec.Process.PID())
			s.terminate(rec.Process, 0)
		}

	case StateUnresponsive:
		// Still alive: the kill failed or has not landed yet. Keep
		// forcing until the exit is observed so the record cannot be
		// stranded between unresponsive and dead.
		s.terminate(rec.Process, 0)
	}
}

// ensureWorker launches a worker for a desired session that lacks a
// live one, respecting restart cooldowns. Failed records are left
// alone until their session logs off.
func (s *Supervisor) ensureWorker(sess platform.SessionInfo, now time.Time) {
	rec, ok := s.records[sess.ID]
	if !ok {
		rec = &WorkerRecord{SessionID: sess.ID, State: StateStarting}
		s.records[sess.ID] = rec
		s.launchWorker(rec, sess, now)
		return
	}
	if rec.State == StateStarting && rec.Process == nil && !now.Before(rec.CooldownUntil) {
		s.launchWorker(rec, sess, now)
	}
}

// launchWorker starts a new worker generation: fresh heartbeat
// listener first, then the process. A listener or launch failure
// counts against the restart budget like any other failed attempt.
func (s *Supervisor) launchWorker(rec *WorkerRecord, sess platform.SessionInfo, now time.Time) {
	gen := uuid.NewString()
	sockPath := heartbeat.SocketPath(s.cfg.RuntimeDir, s.cfg.Heartbeat.ChannelBase, sess.ID)

	ln, err := heartbeat.Listen(sockPath, sess.ID, gen, s.beats, s.logger)
	if err != nil {
		s.logger.Printf("session %d: creating heartbeat channel: %v", sess.ID, err)
		s.metrics.recordLaunch("channel-error")
		s.failWorker(rec, now, "launch-error")
		return
	}

	args := append(append([]string(nil), s.cfg.Worker.Args...), "--session", strconv.Itoa(sess.ID))
	proc, err := s.launcher.Launch(context.Background(), sess, s.cfg.Worker.Path, args)
	if err != nil {
		ln.Close()
		s.logger.Printf("session %d: launch failed: %v", sess.ID, err)
		s.metrics.recordLaunch("error")
		s.failWorker(rec, now, "launch-error")
		return
	}

	rec.Generation = gen
	rec.Listener = ln
	rec.Process = proc
	rec.State = StateStarting
	rec.StartedAt = now
	rec.StartDeadline = now.Add(s.cfg.StartupTimeout())
	rec.RunningSince = time.Time{}
	rec.LastHeartbeat = time.Time{}

	s.metrics.recordLaunch("ok")
	s.logger.Printf("session %d (%s): launched worker PID %d (attempt %d)",
		sess.ID, sess.User, proc.PID(), rec.RestartCount+1)
}

// failWorker records one failed attempt and decides between a delayed
// relaunch and giving up. The worker's channel and process are torn
// down either way; a fresh generation is created on relaunch.
func (s *Supervisor) failWorker(rec *WorkerRecord, now time.Time, cause string) {
	if rec.Listener != nil {
		rec.Listener.Close()
		rec.Listener = nil
	}
	if rec.Process != nil {
		if !processDone(rec.Process) {
			s.terminate(rec.Process, 0)
		}
		rec.Process = nil
	}

	rec.forgiveIfStable(now, s.policy.StabilityWindow)
	rec.RestartCount++
	rec.LastFailure = now
	rec.RunningSince = time.Time{}
	rec.LastHeartbeat = time.Time{}

	d := s.policy.Decide(rec)
	if d.GiveUp {
		rec.State = StateFailed
		rec.CooldownUntil = time.Time{}
		s.metrics.recordFailed()
		s.logger.Printf("session %d: restart budget exhausted after %d attempts (%s); no automatic restarts until re-logon",
			rec.SessionID, rec.RestartCount, cause)
		return
	}

	rec.State = StateStarting
	rec.CooldownUntil = now.Add(d.Delay)
	s.metrics.recordRestart(cause)
	s.logger.Printf("session %d: worker failed (%s, attempt %d/%d), relaunching in %v",
		rec.SessionID, cause, rec.RestartCount, s.policy.MaxAttempts, d.Delay)
}

// stopWorker tears down a worker whose session left the desired set.
// The graceful stop runs off the control loop; the record is removed
// by the caller regardless of the termination outcome.
func (s *Supervisor) stopWorker(rec *WorkerRecord) {
	if rec.Listener != nil {
		rec.Listener.Close()
		rec.Listener = nil
	}
	if rec.Process == nil || processDone(rec.Process) {
		rec.State = StateStopped
		return
	}

	rec.State = StateStopping
	s.logger.Printf("session %d: stopping worker PID %d (grace %v)",
		rec.SessionID, rec.Process.PID(), s.cfg.StopGrace())
	s.terminate(rec.Process, s.cfg.StopGrace())
}

// terminate signals and, after the grace period, force-kills a process
// on an auxiliary goroutine so the control loop's cadence is never
// stalled by a slow exit. With zero grace it kills immediately.
func (s *Supervisor) terminate(proc platform.Process, grace time.Duration) {
	s.stopWG.Add(1)
	go func() {
		defer s.stopWG.Done()
		if grace > 0 {
			_ = proc.Signal(syscall.SIGTERM)
			select {
			case <-proc.Done():
				return
			case <-time.After(grace):
			}
		}
		_ = proc.Kill()
	}()
}

// shutdown stops detection first, then every worker: listeners are
// closed, graceful stops issued, and stragglers force-terminated
// before returning.
func (s *Supervisor) shutdown() {
	s.logger.Println("supervisor shutting down")
	s.mon.Stop()

	for id, rec := range s.records {
		if rec.Listener != nil {
			rec.Listener.Close()
			rec.Listener = nil
		}
		if rec.Process != nil && !processDone(rec.Process) {
			rec.State = StateStopping
			s.terminate(rec.Process, s.cfg.StopGrace())
		}
		delete(s.records, id)
	}
	s.workers.Store(0)

	s.stopWG.Wait()
	s.logger.Println("all workers stopped")
}

// guard isolates one session's handling: a panic is logged and the
// reconciliation cycle proceeds to the remaining sessions.
func (s *Supervisor) guard(sessionID int, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("session %d: recovered from fault during reconciliation: %v", sessionID, r)
		}
	}()
	fn()
}

func processDone(p platform.Process) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}
