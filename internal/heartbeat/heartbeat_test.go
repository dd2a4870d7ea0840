package heartbeat

import (
	"context"
	"io"
	"log"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestSocketPath(t *testing.T) {
	assert.Equal(t, "/run/warden/hb_42.sock", SocketPath("/run/warden", "hb", 42))
}

func TestListenerForwardsBeats(t *testing.T) {
	dir := t.TempDir()
	out := make(chan Observation, 16)

	path := SocketPath(dir, "hb", 7)
	ln, err := Listen(path, 7, "gen-1", out, testLogger())
	require.NoError(t, err)
	defer ln.Close()

	client, err := Dial(path, time.Second)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	require.NoError(t, client.Beat("ok"))

	select {
	case ob := <-out:
		assert.Equal(t, 7, ob.SessionID)
		assert.Equal(t, "gen-1", ob.Generation)
		assert.WithinDuration(t, time.Now(), ob.At, 2*time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("no observation received")
	}
}

func TestListenerSurvivesMalformedFrames(t *testing.T) {
	dir := t.TempDir()
	out := make(chan Observation, 16)

	path := SocketPath(dir, "hb", 3)
	ln, err := Listen(path, 3, "gen-1", out, testLogger())
	require.NoError(t, err)
	defer ln.Close()

	conn, err := net.DialTimeout("unix", path, time.Second)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, err = conn.Write([]byte("not json\n"))
	require.NoError(t, err)
	_, err = conn.Write([]byte(`{"seq":1,"ts":"2026-01-15T09:00:00Z"}` + "\n"))
	require.NoError(t, err)

	select {
	case ob := <-out:
		assert.Equal(t, 3, ob.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame after garbage was not observed")
	}
}

func TestListenReplacesStaleSocket(t *testing.T) {
	dir := t.TempDir()
	out := make(chan Observation, 1)

	path := SocketPath(dir, "hb", 1)
	ln1, err := Listen(path, 1, "gen-1", out, testLogger())
	require.NoError(t, err)
	ln1.Close()

	// Simulate a crashed previous run leaving its socket file behind.
	require.NoError(t, os.WriteFile(path, nil, 0600))

	ln2, err := Listen(path, 1, "gen-2", out, testLogger())
	require.NoError(t, err)
	defer ln2.Close()
	assert.Equal(t, "gen-2", ln2.Generation())
}

func TestCloseWithLiveWorkerConnection(t *testing.T) {
	dir := t.TempDir()
	out := make(chan Observation, 16)

	path := SocketPath(dir, "hb", 11)
	ln, err := Listen(path, 11, "gen-1", out, testLogger())
	require.NoError(t, err)

	client, err := Dial(path, time.Second)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	require.NoError(t, client.Beat("ok"))
	select {
	case <-out:
	case <-time.After(2 * time.Second):
		t.Fatal("no observation received")
	}

	// The stop sequence closes the listener before terminating the
	// worker, so Close must tear down the worker's connection itself
	// rather than wait for the other side to hang up.
	done := make(chan struct{})
	go func() {
		ln.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return while a worker connection was open")
	}
}

func TestCloseRemovesSocketAndIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	out := make(chan Observation, 1)

	path := SocketPath(dir, "hb", 5)
	ln, err := Listen(path, 5, "gen-1", out, testLogger())
	require.NoError(t, err)

	ln.Close()
	ln.Close()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestClientRunBeatsUntilCanceled(t *testing.T) {
	dir := t.TempDir()
	out := make(chan Observation, 64)

	path := SocketPath(dir, "hb", 9)
	ln, err := Listen(path, 9, "gen-1", out, testLogger())
	require.NoError(t, err)
	defer ln.Close()

	client, err := Dial(path, time.Second)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- client.Run(ctx, 10*time.Millisecond, "ok")
	}()

	// The immediate beat plus at least one ticker beat.
	for i := 0; i < 2; i++ {
		select {
		case <-out:
		case <-time.After(2 * time.Second):
			t.Fatal("heartbeat cadence stalled")
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
