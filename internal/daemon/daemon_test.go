package daemon

import (
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateSaveLoad(t *testing.T) {
	dir := t.TempDir()

	in := &State{
		Running:        true,
		PID:            4242,
		StartedAt:      time.Now().UTC().Truncate(time.Second),
		ReconcileCount: 17,
		WorkerCount:    3,
	}
	require.NoError(t, SaveState(dir, in))

	out, err := LoadState(dir)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestLoadStateMissing(t *testing.T) {
	_, err := LoadState(t.TempDir())
	assert.Error(t, err)
}

func TestIsRunningNoPidFile(t *testing.T) {
	running, pid, err := IsRunning(t.TempDir())
	require.NoError(t, err)
	assert.False(t, running)
	assert.Zero(t, pid)
}

func TestIsRunningInvalidPidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(PidFile(dir), []byte("not-a-pid"), 0644))

	running, _, err := IsRunning(dir)
	assert.Error(t, err)
	assert.False(t, running)
}

func TestIsRunningStalePid(t *testing.T) {
	dir := t.TempDir()
	// PID from well beyond pid_max on test machines.
	require.NoError(t, os.WriteFile(PidFile(dir), []byte(strconv.Itoa(1<<22+1)), 0644))

	running, _, _ := IsRunning(dir)
	assert.False(t, running)
	_, statErr := os.Stat(PidFile(dir))
	assert.True(t, os.IsNotExist(statErr))
}

func TestStopWaitScalesWithGrace(t *testing.T) {
	assert.Equal(t, 15*time.Second, stopWait(10*time.Second))
	assert.Equal(t, 65*time.Second, stopWait(time.Minute))
}

func TestRuntimePaths(t *testing.T) {
	assert.Equal(t, "/run/warden/warden.log", LogFile("/run/warden"))
	assert.Equal(t, "/run/warden/warden.pid", PidFile("/run/warden"))
	assert.Equal(t, "/run/warden/warden.lock", LockFile("/run/warden"))
}
