// Package checkpoint persists and restores the executor's DAGState to a
// single JSON file, crash-safe via write-then-rename. It owns no business
// logic: Save and Load are the only operations the rest of the executor
// needs for resume semantics.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lucasnoah/dagforge/internal/execmodel"
)

// ErrCheckpointUnreadable names the "file exists but cannot be parsed as a
// DAGState" condition. Load does not return it: such a file is reported as
// absent (ok=false, nil error), the same as a missing checkpoint, because
// schema evolution is not supported.
var ErrCheckpointUnreadable = errors.New("checkpoint: file unreadable or incompatible")

const fileName = "checkpoint.json"

// Store manages the checkpoint file under <artifactsDir>/execution/.
type Store struct {
	path string
}

// New returns a Store rooted at <artifactsDir>/execution/checkpoint.json.
func New(artifactsDir string) *Store {
	return &Store{path: filepath.Join(artifactsDir, "execution", fileName)}
}

// Path returns the checkpoint file's location, for logging.
func (s *Store) Path() string { return s.path }

// Save serializes state to the checkpoint file atomically: written to a
// temp file in the same directory then renamed into place, so a crash
// mid-write never leaves a partially-written checkpoint visible to Load.
func (s *Store) Save(state execmodel.DAGState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal state: %w", err)
	}
	data = append(data, '\n')
	return writeAtomic(s.path, data)
}

// Load returns the last saved DAGState. If no checkpoint file exists, or the
// file cannot be parsed as a DAGState, it returns (zero-value, false, nil) —
// the two cases are not distinguished, per the incompatible-checkpoint-as-
// absent policy: Load never returns an error for a missing or corrupt file,
// only for I/O failures that aren't "file absent".
func (s *Store) Load() (execmodel.DAGState, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return execmodel.DAGState{}, false, nil
		}
		return execmodel.DAGState{}, false, fmt.Errorf("checkpoint: read %s: %w", s.path, err)
	}

	var state execmodel.DAGState
	if err := json.Unmarshal(data, &state); err != nil {
		// Incompatible or corrupt checkpoint: treated as absent, not an error.
		return execmodel.DAGState{}, false, nil
	}
	return state, true, nil
}

// writeAtomic writes data to path by creating a temp file in the same
// directory, writing and closing it, then renaming it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("checkpoint: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		if tmpName != "" {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("checkpoint: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("checkpoint: rename %s -> %s: %w", tmpName, path, err)
	}
	tmpName = ""
	return nil
}
