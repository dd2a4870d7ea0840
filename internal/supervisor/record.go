package supervisor

import (
	"time"

	"github.com/warden-project/warden/internal/heartbeat"
	"github.com/warden-project/warden/internal/platform"
)

// WorkerState is the lifecycle state of a supervised worker.
type WorkerState int

const (
	// StateStarting: launch issued (or pending after a restart delay),
	// no heartbeat from this process instance yet.
	StateStarting WorkerState = iota

	// StateRunning: at least one heartbeat received since the current
	// process instance started.
	StateRunning

	// StateUnresponsive: heartbeat silence exceeded the timeout while
	// the process still exists. Treated like a crash once the process
	// has been forced down.
	StateUnresponsive

	// StateStopping: graceful stop issued because the session left the
	// desired set.
	StateStopping

	// StateStopped: terminal; the record is removed on entry.
	StateStopped

	// StateFailed: restart budget exhausted. Terminal until the owning
	// session logs off, which deletes the record and its history.
	StateFailed
)

var workerStateNames = map[WorkerState]string{
	StateStarting:     "starting",
	StateRunning:      "running",
	StateUnresponsive: "unresponsive",
	StateStopping:     "stopping",
	StateStopped:      "stopped",
	StateFailed:       "failed",
}

func (s WorkerState) String() string {
	if name, ok := workerStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// WorkerRecord tracks one session's worker. Records are owned
// exclusively by the supervisor's control loop: created on the launch
// decision, destroyed on confirmed termination or session logoff.
// At most one record exists per session ID.
type WorkerRecord struct {
	SessionID int
	State     WorkerState

	// Generation uniquely identifies one process instance. The
	// heartbeat listener is tagged with it so observations from a
	// replaced worker are discarded.
	Generation string
	Process    platform.Process
	Listener   *heartbeat.Listener

	StartedAt     time.Time
	StartDeadline time.Time // Starting: heartbeat must arrive by this time
	RunningSince  time.Time // set on the Starting -> Running transition
	LastHeartbeat time.Time // zero until the first beat of this generation

	// Restart budget.
	RestartCount  int
	LastFailure   time.Time
	CooldownUntil time.Time // no relaunch before this instant
}

// forgiveIfStable resets the restart budget when the current process
// instance has been continuously Running past the stability window.
// Called at failure evaluation time so an old, unrelated failure does
// not permanently cap retries after long healthy operation.
func (r *WorkerRecord) forgiveIfStable(now time.Time, window time.Duration) {
	if r.RunningSince.IsZero() {
		return
	}
	if now.Sub(r.RunningSince) > window {
		r.RestartCount = 0
	}
}
