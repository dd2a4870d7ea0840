package monitor

import (
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-project/warden/internal/platform"
)

func newTestMonitor() (*Monitor, *platform.Double) {
	double := platform.NewDouble()
	logger := log.New(io.Discard, "", 0)
	return New(double, time.Second, logger), double
}

func drain(m *Monitor) []Event {
	var out []Event
	for {
		select {
		case ev := <-m.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPollEmitsLogonForNewActiveSession(t *testing.T) {
	m, double := newTestMonitor()

	double.AddSession(platform.SessionInfo{ID: 1, User: "alice", State: platform.StateActive})
	m.Poll()

	events := drain(m)
	require.Len(t, events, 1)
	assert.Equal(t, EventLogon, events[0].Type)
	assert.Equal(t, 1, events[0].Session.ID)
}

func TestPollIgnoresNewInactiveSession(t *testing.T) {
	m, double := newTestMonitor()

	// A session appearing in a non-active state is tracked but emits
	// no logon event; the transition to active does.
	double.AddSession(platform.SessionInfo{ID: 1, User: "alice", State: platform.StateConnected})
	m.Poll()
	assert.Empty(t, drain(m))
	assert.Contains(t, m.Snapshot(), 1)

	double.SetState(1, platform.StateActive)
	m.Poll()
	events := drain(m)
	require.Len(t, events, 1)
	assert.Equal(t, EventStateChanged, events[0].Type)
	assert.Equal(t, platform.StateConnected, events[0].Previous)
}

func TestPollEmitsLogoffForVanishedSession(t *testing.T) {
	m, double := newTestMonitor()

	double.AddSession(platform.SessionInfo{ID: 1, User: "alice", State: platform.StateActive})
	m.Poll()
	drain(m)

	double.RemoveSession(1)
	m.Poll()
	events := drain(m)
	require.Len(t, events, 1)
	assert.Equal(t, EventLogoff, events[0].Type)
	assert.NotContains(t, m.Snapshot(), 1)
}

func TestPollIgnoresNonActiveStateChanges(t *testing.T) {
	m, double := newTestMonitor()

	double.AddSession(platform.SessionInfo{ID: 1, User: "alice", State: platform.StateConnected})
	m.Poll()
	drain(m)

	// connected -> disconnected involves no active endpoint: not a
	// transition the supervisor needs to react to promptly.
	double.SetState(1, platform.StateDisconnected)
	m.Poll()
	assert.Empty(t, drain(m))
}

func TestEnumerationFailureIsNoChange(t *testing.T) {
	m, double := newTestMonitor()

	double.AddSession(platform.SessionInfo{ID: 1, User: "alice", State: platform.StateActive})
	m.Poll()
	drain(m)

	// A flaky query must not synthesize logoffs.
	double.SetEnumerateErr(errors.New("bus unavailable"))
	m.Poll()
	assert.Empty(t, drain(m))
	assert.Contains(t, m.Snapshot(), 1)

	double.SetEnumerateErr(nil)
	m.Poll()
	assert.Empty(t, drain(m))
}

func TestPollSkipsUserlessSessions(t *testing.T) {
	m, double := newTestMonitor()

	double.AddSession(platform.SessionInfo{ID: 1, State: platform.StateActive})
	m.Poll()
	assert.Empty(t, drain(m))
	assert.Empty(t, m.Snapshot())
}

func TestSnapshotIsACopy(t *testing.T) {
	m, double := newTestMonitor()

	double.AddSession(platform.SessionInfo{ID: 1, User: "alice", State: platform.StateActive})
	m.Poll()

	snap := m.Snapshot()
	delete(snap, 1)
	assert.Contains(t, m.Snapshot(), 1)
}
