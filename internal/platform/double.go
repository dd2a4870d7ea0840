package platform

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// Double is a FAKE with SPY capabilities for the Sessions and Launcher
// interfaces.
//
// Test Double Taxonomy (Meszaros/Fowler):
//   - FAKE: working in-memory implementation (no real OS sessions or
//     processes)
//   - SPY: records launches and signals for verification (LaunchLog,
//     FakeProcess.Signals)
//
// Tests script session timelines with AddSession/RemoveSession/SetState,
// inject enumeration failures with SetEnumerateErr, and drive worker
// lifecycles through the returned FakeProcess handles.
type Double struct {
	mu       sync.Mutex
	sessions map[int]SessionInfo
	enumErr  error

	launchErr map[int]error // per-session injected launch failure
	nextPID   int
	procs     map[int]*FakeProcess // session ID -> most recent process
	launchLog []int                // session IDs in launch order
}

// NewDouble creates an empty in-memory platform double.
func NewDouble() *Double {
	return &Double{
		sessions:  make(map[int]SessionInfo),
		launchErr: make(map[int]error),
		procs:     make(map[int]*FakeProcess),
		nextPID:   1000,
	}
}

var (
	_ Sessions = (*Double)(nil)
	_ Launcher = (*Double)(nil)
)

// AddSession adds or replaces a session in the fake enumeration.
func (d *Double) AddSession(s SessionInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[s.ID] = s
}

// RemoveSession removes a session, simulating logoff.
func (d *Double) RemoveSession(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, id)
}

// SetState changes the connection state of an existing session.
func (d *Double) SetState(id int, state ConnState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sessions[id]; ok {
		s.State = state
		d.sessions[id] = s
	}
}

// SetEnumerateErr injects a transient enumeration failure. Pass nil
// to clear it.
func (d *Double) SetEnumerateErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enumErr = err
}

// SetLaunchErr injects a launch failure for a session. Pass nil to clear.
func (d *Double) SetLaunchErr(sessionID int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.launchErr, sessionID)
		return
	}
	d.launchErr[sessionID] = err
}

// Enumerate returns the scripted session set.
func (d *Double) Enumerate() ([]SessionInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enumErr != nil {
		return nil, d.enumErr
	}
	now := time.Now()
	out := make([]SessionInfo, 0, len(d.sessions))
	for _, s := range d.sessions {
		s.LastObserved = now
		out = append(out, s)
	}
	return out, nil
}

// ConsoleSessionID returns the active console session, if any.
func (d *Double) ConsoleSessionID() (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.sessions {
		if s.Console && s.State == StateActive {
			return s.ID, true
		}
	}
	return 0, false
}

// Launch records the launch and returns a controllable FakeProcess.
func (d *Double) Launch(_ context.Context, session SessionInfo, _ string, _ []string) (Process, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.launchLog = append(d.launchLog, session.ID)
	if err := d.launchErr[session.ID]; err != nil {
		return nil, err
	}

	d.nextPID++
	p := &FakeProcess{
		pid:  d.nextPID,
		done: make(chan struct{}),
	}
	d.procs[session.ID] = p
	return p, nil
}

// LaunchLog returns the session IDs of all launch attempts, including
// failed ones, in order.
func (d *Double) LaunchLog() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.launchLog...)
}

// LaunchCount returns the number of launch attempts for a session.
func (d *Double) LaunchCount(sessionID int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, id := range d.launchLog {
		if id == sessionID {
			n++
		}
	}
	return n
}

// Proc returns the most recently launched process for a session.
func (d *Double) Proc(sessionID int) *FakeProcess {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.procs[sessionID]
}

// FakeProcess is an in-memory Process whose exit is controlled by the
// test. Signal and Kill are recorded; Kill also exits the process.
type FakeProcess struct {
	pid     int
	mu      sync.Mutex
	done    chan struct{}
	exited  bool
	exitErr error
	signals []os.Signal
	killErr error
	kills   int
}

var _ Process = (*FakeProcess)(nil)

func (p *FakeProcess) PID() int { return p.pid }

func (p *FakeProcess) Done() <-chan struct{} { return p.done }

func (p *FakeProcess) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *FakeProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return fmt.Errorf("process %d already exited", p.pid)
	}
	p.signals = append(p.signals, sig)
	return nil
}

func (p *FakeProcess) Kill() error {
	p.mu.Lock()
	p.kills++
	err := p.killErr
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.Exit(fmt.Errorf("killed"))
	return nil
}

// SetKillErr makes Kill fail without exiting the process, simulating a
// kill that does not land. Pass nil to clear.
func (p *FakeProcess) SetKillErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killErr = err
}

// KillCount returns the number of Kill attempts.
func (p *FakeProcess) KillCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills
}

// Exit simulates process termination with the given exit outcome.
// Safe to call more than once; later calls are ignored.
func (p *FakeProcess) Exit(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return
	}
	p.exited = true
	p.exitErr = err
	close(p.done)
}

// Exited reports whether the process has terminated.
func (p *FakeProcess) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// Signals returns the signals delivered to the process, in order.
func (p *FakeProcess) Signals() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]os.Signal(nil), p.signals...)
}
