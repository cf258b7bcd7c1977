package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ormasoftchile/blueprint/pkg/kernel/mode"
)

// statePath returns <stateDir>/<id>/state.json.
func statePath(stateDir, id string) string {
	return filepath.Join(stateDir, id, "state.json")
}

// SaveState persists a workflow snapshot under stateDir.
func SaveState(stateDir string, state *mode.WorkflowState) error {
	dir := filepath.Join(stateDir, state.Handle.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	// Write-then-rename so readers never see a partial file.
	tmp := statePath(stateDir, state.Handle.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, statePath(stateDir, state.Handle.ID)); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Load reads a persisted workflow snapshot.
func Load(stateDir, id string) (*mode.WorkflowState, error) {
	data, err := os.ReadFile(statePath(stateDir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, id)
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var state mode.WorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}
