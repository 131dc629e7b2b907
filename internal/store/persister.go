package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/brandon/mailkan/pkg/types"
)

// Persister loads and saves the complete board snapshot
type Persister interface {
	Load() ([]types.Message, error)
	Save(messages []types.Message) error
	Close() error
}

// JSONPersister keeps the snapshot as one JSON array on disk
type JSONPersister struct {
	path string
}

// NewJSONPersister creates a persister for the file at path
func NewJSONPersister(path string) *JSONPersister {
	return &JSONPersister{path: path}
}

// Load reads the snapshot; a missing file is an empty board
func (p *JSONPersister) Load() ([]types.Message, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []types.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var messages []types.Message
	if len(data) > 0 {
		if err := json.Unmarshal(data, &messages); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot %s: %w", p.path, err)
		}
	}
	if messages == nil {
		messages = []types.Message{}
	}
	return messages, nil
}

// Save writes the snapshot to a temporary file in the same directory and
// renames it over the old one, so readers never see a partial write.
func (p *JSONPersister) Save(messages []types.Message) error {
	if messages == nil {
		messages = []types.Message{}
	}
	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Close is a no-op; the file is only open during Load and Save
func (p *JSONPersister) Close() error {
	return nil
}
