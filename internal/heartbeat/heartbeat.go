// Package heartbeat implements the per-worker liveness channel: a
// unix domain socket named from the configured base plus the session
// ID, carrying newline-delimited JSON heartbeat frames. One listener
// exists per worker generation and is never reused across relaunches,
// so a stale listener can never vouch for a replaced process.
package heartbeat

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Beat is one heartbeat frame sent by a worker. Sequence numbers are
// monotonically increasing on the sender side, but the receiver only
// cares about recency: duplicates and reordering are accepted.
type Beat struct {
	Seq    uint64    `json:"seq"`
	TS     time.Time `json:"ts"`
	Status string    `json:"status,omitempty"`
}

// Observation reports a received heartbeat to the control loop. The
// generation tag lets the supervisor discard observations from a
// listener that belongs to an already-replaced worker.
type Observation struct {
	SessionID  int
	Generation string
	At         time.Time
}

// SocketPath returns the deterministic endpoint path for a session.
func SocketPath(dir, base string, sessionID int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%d.sock", base, sessionID))
}

// Listener accepts worker connections on one session's socket and
// forwards observations to the supervisor. It writes nothing but
// Observation messages; all state-machine decisions stay with the
// control loop.
type Listener struct {
	sessionID  int
	generation string
	path       string
	ln         net.Listener
	out        chan<- Observation
	logger     *log.Logger

	mu     sync.Mutex
	closed bool
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
}

// Listen creates the socket and starts accepting connections. A stale
// socket file from a dead previous run is removed first.
func Listen(path string, sessionID int, generation string, out chan<- Observation, logger *log.Logger) (*Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating channel directory: %w", err)
	}
	// Remove leftovers from a previous generation or a crashed run.
	_ = os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}

	l := &Listener{
		sessionID:  sessionID,
		generation: generation,
		path:       path,
		ln:         ln,
		out:        out,
		logger:     logger,
		conns:      make(map[net.Conn]struct{}),
	}
	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

// Generation returns the worker generation this listener vouches for.
func (l *Listener) Generation() string {
	return l.generation
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			// Listener closed or broken; either way this generation
			// is done reporting.
			return
		}
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			_ = conn.Close()
			return
		}
		l.conns[conn] = struct{}{}
		l.mu.Unlock()
		l.wg.Add(1)
		go l.readLoop(conn)
	}
}

func (l *Listener) readLoop(conn net.Conn) {
	defer l.wg.Done()
	defer func() {
		l.mu.Lock()
		delete(l.conns, conn)
		l.mu.Unlock()
		_ = conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var beat Beat
		if err := json.Unmarshal(scanner.Bytes(), &beat); err != nil {
			l.logger.Printf("session %d: malformed heartbeat frame: %v", l.sessionID, err)
			continue
		}
		l.observe()
	}
}

// observe forwards a heartbeat without blocking the read loop. The
// channel is owned by the supervisor; if it is momentarily full the
// next beat will carry the same information.
func (l *Listener) observe() {
	ob := Observation{
		SessionID:  l.sessionID,
		Generation: l.generation,
		At:         time.Now(),
	}
	select {
	case l.out <- ob:
	default:
	}
}

// Close tears down the endpoint and removes the socket file. Open
// worker connections are closed too: Close runs on the control loop
// before the worker process is terminated, so it must never wait for
// the worker's side of the socket. Safe to call more than once.
func (l *Listener) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	conns := make([]net.Conn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	_ = l.ln.Close()
	for _, c := range conns {
		_ = c.Close()
	}
	_ = os.Remove(l.path)
	l.wg.Wait()
}
