package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"atabat-scraper/internal/models"
)

// FileStore keeps the session record as a JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load(ctx context.Context) (models.SessionState, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

func (f *FileStore) read() (models.SessionState, bool, error) {
	var state models.SessionState
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return state, false, nil
	}
	if err != nil {
		return state, false, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, false, fmt.Errorf("failed to parse %s: %w", f.path, err)
	}
	return state, true, nil
}

func (f *FileStore) update(mutate func(*models.SessionState)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, _, err := f.read()
	if err != nil {
		// A corrupt file is replaced.
		state = models.SessionState{}
	}
	mutate(&state)

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) SaveCookies(ctx context.Context, cookies []models.Cookie, at time.Time) error {
	return f.update(func(s *models.SessionState) {
		expire := at.Add(models.CookieLifetime)
		s.CookiesData = cookies
		s.CookiesExpireAt = &expire
		s.LastAuthAt = &at
	})
}

func (f *FileStore) SaveOTP(ctx context.Context, otp string, at time.Time) error {
	return f.update(func(s *models.SessionState) {
		s.CurrentOTP = otp
		s.OTPLastUpdated = &at
	})
}
