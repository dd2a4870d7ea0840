// Package monitor detects session lifecycle changes by polling the
// platform and diffing successive snapshots. Detection is decoupled
// from reconciliation: events are queued on a bounded channel consumed
// by the supervisor's control loop.
package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warden-project/warden/internal/platform"
)

// EventType identifies the kind of session change.
type EventType string

const (
	EventLogon        EventType = "logon"
	EventLogoff       EventType = "logoff"
	EventStateChanged EventType = "state-changed"
)

// Event is one detected session transition.
type Event struct {
	Type     EventType
	Session  platform.SessionInfo
	Previous platform.ConnState // meaningful for EventStateChanged
	At       time.Time
}

// eventBuffer bounds the queue between detection and reconciliation.
// The supervisor's fallback tick re-derives the desired set from the
// snapshot, so a dropped event delays reaction but never loses state.
const eventBuffer = 64

// Monitor polls session enumeration and emits change events.
type Monitor struct {
	sessions platform.Sessions
	interval time.Duration
	logger   *log.Logger

	events chan Event
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	prev map[int]platform.SessionInfo
}

// New creates a Monitor polling the given Sessions implementation.
func New(sessions platform.Sessions, interval time.Duration, logger *log.Logger) *Monitor {
	return &Monitor{
		sessions: sessions,
		interval: interval,
		logger:   logger,
		events:   make(chan Event, eventBuffer),
	}
}

// Events returns the queued change events.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Start begins polling. Call Stop to shut down.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop shuts down the poller and waits for it to finish.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	// Initial poll seeds the snapshot so sessions present at startup
	// emit logon events and get workers immediately.
	m.Poll()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll()
		}
	}
}

// Poll takes one snapshot, diffs it against the previous one, and
// emits events for every transition. A failed enumeration is treated
// as "no change": synthesizing mass logoffs from one flaky query
// would trigger a restart storm.
func (m *Monitor) Poll() {
	current, err := m.sessions.Enumerate()
	if err != nil {
		m.logger.Printf("session query failed (treating cycle as no change): %v", err)
		return
	}

	now := time.Now()
	next := make(map[int]platform.SessionInfo, len(current))
	for _, s := range current {
		if s.User == "" {
			continue
		}
		next[s.ID] = s
	}

	m.mu.Lock()
	prev := m.prev
	m.prev = next
	m.mu.Unlock()

	for id, s := range next {
		old, existed := prev[id]
		if !existed {
			if s.State == platform.StateActive {
				m.emit(Event{Type: EventLogon, Session: s, At: now})
			}
			continue
		}
		if old.State != s.State && (old.State == platform.StateActive || s.State == platform.StateActive) {
			m.emit(Event{Type: EventStateChanged, Session: s, Previous: old.State, At: now})
		}
	}
	for id, old := range prev {
		if _, ok := next[id]; !ok {
			m.emit(Event{Type: EventLogoff, Session: old, At: now})
		}
	}
}

// emit queues an event without blocking the poll loop. If the queue
// is full the event is dropped; the supervisor's fallback tick will
// catch the missed transition on its next snapshot comparison.
func (m *Monitor) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Printf("event queue full, dropping %s for session %d", ev.Type, ev.Session.ID)
	}
}

// Snapshot returns the most recent session set, keyed by session ID.
func (m *Monitor) Snapshot() map[int]platform.SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int]platform.SessionInfo, len(m.prev))
	for id, s := range m.prev {
		out[id] = s
	}
	return out
}

// ConsoleSessionID proxies the platform console query defensively.
func (m *Monitor) ConsoleSessionID() (int, bool) {
	return m.sessions.ConsoleSessionID()
}
