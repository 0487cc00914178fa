package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ashureev/claudebot/internal/domain"
)

// JSONFile stores all sessions in one pretty-printed JSON document.
type JSONFile struct {
	path string
}

// NewJSONFile returns a backend rooted at path. The file is created on first write.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path}
}

// Path returns the file location.
func (f *JSONFile) Path() string {
	return f.path
}

// Read parses the file. A missing file is an empty store.
func (f *JSONFile) Read(_ context.Context) (domain.SessionStore, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.SessionStore{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}

	var sessions domain.SessionStore
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}
	return sessions, nil
}

// Write replaces the file contents through a temp file and rename.
func (f *JSONFile) Write(_ context.Context, sessions domain.SessionStore) error {
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".sessions-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	return nil
}

// Ping checks that the parent directory exists or can be created.
func (f *JSONFile) Ping(_ context.Context) error {
	return os.MkdirAll(filepath.Dir(f.path), 0o755)
}

// Close is a no-op for file storage.
func (f *JSONFile) Close() error {
	return nil
}
