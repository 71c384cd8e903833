// ABOUTME: File-backed credential store for the CLI, keyed by a service name.
// ABOUTME: Writes are atomic via temp-file rename; the file survives restarts.

package creds

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ServiceName identifies this engine's credential entries, mirroring the
// fixed service identifier a platform keychain would use.
const ServiceName = "remindful-sync"

// FileStore persists the session as a mode-0600 JSON file. It stands in
// for platform secure storage, which exposes the same get/set/clear shape.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store at dir/<ServiceName>.json, creating dir if
// needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating credentials directory: %w", err)
	}
	return &FileStore{path: filepath.Join(dir, ServiceName+".json")}, nil
}

func (f *FileStore) Get() (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("reading credentials: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("decoding credentials: %w", err)
	}
	if s.AccessToken == "" && s.RefreshToken == "" {
		return Session{}, ErrNoSession
	}
	return s, nil
}

func (f *FileStore) Set(s Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replacing credentials: %w", err)
	}
	return nil
}

func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing credentials: %w", err)
	}
	return nil
}
