package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"ptywatch/internal/util"
)

// State is the daemon's persisted status, written atomically each cycle so
// the status command can report progress without talking to the process.
type State struct {
	Running    bool      `json:"running"`
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	LastCycle  time.Time `json:"last_cycle"`
	CycleCount int       `json:"cycle_count"`
}

// SaveState writes the state file atomically.
func SaveState(path string, state *State) error {
	if err := util.AtomicWriteJSON(path, state); err != nil {
		return fmt.Errorf("saving daemon state: %w", err)
	}
	return nil
}

// LoadState reads the state file. Returns nil without error when the file
// does not exist: a daemon that never ran has no state.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading daemon state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing daemon state: %w", err)
	}
	return &state, nil
}
