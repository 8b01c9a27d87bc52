package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"userphone/models"
)

// FileStore keeps every profile in one JSON object keyed by user id. The file
// is read once and rewritten in full after each update.
type FileStore struct {
	path string

	mu   sync.RWMutex
	data map[string]models.Profile
}

func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, data: make(map[string]models.Profile)}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("decode profiles %s: %w", path, err)
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, userID string) (models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[userID], nil
}

func (s *FileStore) Update(_ context.Context, userID string, upd models.ProfileUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.data[userID]
	s.data[userID] = apply(prev, upd)
	if err := s.flush(); err != nil {
		if existed {
			s.data[userID] = prev
		} else {
			delete(s.data, userID)
		}
		return err
	}
	return nil
}

func (s *FileStore) flush() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profiles: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".profiles-*.json")
	if err != nil {
		return fmt.Errorf("write profiles: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write profiles: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write profiles: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}
