// Package platform abstracts the OS surface warden depends on:
// interactive session enumeration and session-scoped process launch.
// The supervisor core depends only on these interfaces, so tests can
// script arbitrary session/process timelines with the Double.
package platform

import (
	"context"
	"errors"
	"os"
	"time"
)

// ErrNoLogon is returned by Launch when the target session has no
// usable logon context (e.g. the user cannot be resolved). Launching
// into such a session must fail loudly, never silently no-op.
var ErrNoLogon = errors.New("session has no logon context")

// ConnState is the connection state of an interactive session.
type ConnState int

const (
	StateActive ConnState = iota
	StateConnected
	StateConnectQuery
	StateShadow
	StateDisconnected
	StateIdle
	StateListen
	StateReset
	StateDown
	StateInit
)

var connStateNames = map[ConnState]string{
	StateActive:       "active",
	StateConnected:    "connected",
	StateConnectQuery: "connect-query",
	StateShadow:       "shadow",
	StateDisconnected: "disconnected",
	StateIdle:         "idle",
	StateListen:       "listen",
	StateReset:        "reset",
	StateDown:         "down",
	StateInit:         "init",
}

func (s ConnState) String() string {
	if name, ok := connStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// SessionInfo describes one interactive login session as observed in
// a single enumeration. Sessions are recreated from live enumeration
// every poll cycle and never persisted.
type SessionInfo struct {
	ID           int
	User         string
	Domain       string
	State        ConnState
	Console      bool
	LastObserved time.Time
}

// Sessions enumerates interactive login sessions. Implementations
// must be defensive: partial platform failures return the best
// available set, and enumeration errors are non-fatal to callers.
type Sessions interface {
	// Enumerate returns the currently visible interactive sessions.
	// Sessions without a logged-in user are not included.
	Enumerate() ([]SessionInfo, error)

	// ConsoleSessionID returns the session attached to the local
	// console, or false if there is none.
	ConsoleSessionID() (int, bool)
}

// Process is a handle to a launched worker process.
type Process interface {
	PID() int

	// Done is closed once the process has exited, for any reason.
	Done() <-chan struct{}

	// ExitErr reports the exit outcome. Only valid after Done is closed;
	// nil means a zero exit status.
	ExitErr() error

	Signal(sig os.Signal) error

	// Kill force-terminates the process and anything in its group.
	Kill() error
}

// Launcher starts a worker inside the execution context of a session's
// interactive logon.
type Launcher interface {
	Launch(ctx context.Context, session SessionInfo, path string, args []string) (Process, error)
}
