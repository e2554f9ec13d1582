package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// snapshot is the JSON-serialisable form of a saved registry.
type snapshot struct {
	Tasks []Record `json:"tasks"`
}

// SaveSnapshot persists every record to a JSON file. The file is replaced
// atomically so a crash never leaves a half-written snapshot.
func (r *Registry) SaveSnapshot(path string) error {
	data, err := json.MarshalIndent(snapshot{Tasks: r.Tasks()}, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot marshal: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot write: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("snapshot write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot write: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("snapshot write: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("snapshot rename: %w", err)
	}
	return nil
}

// LoadSnapshot replaces the registry contents with the records in path.
// A missing file leaves the registry empty and is not an error.
func (r *Registry) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("snapshot read: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("snapshot unmarshal: %w", err)
	}

	tasks := make(map[string]*task, len(snap.Tasks))
	for _, rec := range snap.Tasks {
		if rec.TaskID == "" {
			return fmt.Errorf("snapshot: record without task id")
		}
		tasks[rec.TaskID] = &task{rec: rec}
	}
	r.mu.Lock()
	r.tasks = tasks
	r.mu.Unlock()
	return nil
}
