package platform

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Logind enumerates sessions from systemd-logind via loginctl.
// All queries are best-effort: a session that fails its detail query
// is skipped rather than failing the whole enumeration.
type Logind struct{}

// NewLogind returns a loginctl-backed Sessions implementation.
func NewLogind() *Logind {
	return &Logind{}
}

var _ Sessions = (*Logind)(nil)

// logindSession mirrors one entry of `loginctl list-sessions -o json`.
type logindSession struct {
	Session string `json:"session"`
	UID     int    `json:"uid"`
	User    string `json:"user"`
	Seat    string `json:"seat"`
	TTY     string `json:"tty"`
	State   string `json:"state"`
}

// Enumerate lists interactive logind sessions. System sessions (no
// user name) and sessions with non-numeric IDs are discarded.
func (l *Logind) Enumerate() ([]SessionInfo, error) {
	out, err := exec.Command("loginctl", "list-sessions", "--output=json").Output()
	if err != nil {
		return nil, fmt.Errorf("loginctl list-sessions: %w", err)
	}

	var raw []logindSession
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("parsing loginctl output: %w", err)
	}

	now := time.Now()
	sessions := make([]SessionInfo, 0, len(raw))
	for _, rs := range raw {
		if rs.User == "" {
			continue
		}
		id, err := strconv.Atoi(rs.Session)
		if err != nil {
			// Non-numeric IDs (e.g. "c1" manager sessions) are not
			// interactive logins we supervise.
			continue
		}
		sessions = append(sessions, SessionInfo{
			ID:           id,
			User:         rs.User,
			State:        mapLogindState(rs.State),
			Console:      rs.Seat == "seat0",
			LastObserved: now,
		})
	}
	return sessions, nil
}

// ConsoleSessionID returns the active session on the local seat.
func (l *Logind) ConsoleSessionID() (int, bool) {
	sessions, err := l.Enumerate()
	if err != nil {
		return 0, false
	}
	for _, s := range sessions {
		if s.Console && s.State == StateActive {
			return s.ID, true
		}
	}
	return 0, false
}

// mapLogindState maps logind state strings onto the connection state
// enum. Logind has a much smaller vocabulary than the full enum; the
// remaining states exist for platforms with richer session models.
func mapLogindState(state string) ConnState {
	switch strings.ToLower(state) {
	case "active":
		return StateActive
	case "online":
		return StateConnected
	case "closing":
		return StateDisconnected
	case "opening":
		return StateInit
	default:
		return StateDown
	}
}
