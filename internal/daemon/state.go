package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State is the daemon's informational status file. It is never used
// to rebuild supervision state after a restart; the worker table is
// always re-derived from live session enumeration.
type State struct {
	Running        bool      `json:"running"`
	PID            int       `json:"pid"`
	StartedAt      time.Time `json:"started_at"`
	LastReconcile  time.Time `json:"last_reconcile"`
	ReconcileCount uint64    `json:"reconcile_count"`
	WorkerCount    int       `json:"worker_count"`
}

func statePath(runtimeDir string) string {
	return filepath.Join(runtimeDir, "state.json")
}

// SaveState writes the daemon state file. Best-effort: callers log
// and continue on error.
func SaveState(runtimeDir string, state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	if err := os.MkdirAll(runtimeDir, 0755); err != nil {
		return fmt.Errorf("creating runtime directory: %w", err)
	}
	if err := os.WriteFile(statePath(runtimeDir), data, 0644); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	return nil
}

// LoadState reads the daemon state file.
func LoadState(runtimeDir string) (*State, error) {
	data, err := os.ReadFile(statePath(runtimeDir))
	if err != nil {
		return nil, fmt.Errorf("reading state: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshaling state: %w", err)
	}
	return &state, nil
}
