// Package filestore keeps users, reset tokens, sessions and applications in
// a single JSON snapshot on disk. Every mutation rewrites the whole file
// through a temp file and rename, so a crash never leaves a torn snapshot.
package filestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dukerupert/ncats/internal/model"
)

type snapshot struct {
	NextUserID        int64                      `json:"next_user_id"`
	NextTokenID       int64                      `json:"next_token_id"`
	NextSessionID     int64                      `json:"next_session_id"`
	NextApplicationID int64                      `json:"next_application_id"`
	Users             []model.User               `json:"users"`
	ResetTokens       []model.PasswordResetToken `json:"reset_tokens"`
	Sessions          []model.Session            `json:"sessions"`
	Applications      []model.Application        `json:"applications"`
}

// Store is a mutex-guarded JSON file. The zero value is not usable; call Open.
type Store struct {
	path string

	mu   sync.Mutex
	data snapshot
}

// Open loads the snapshot at path, creating an empty one if the file does
// not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		if err := s.flush(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// flush writes the current snapshot. Caller must hold mu.
func (s *Store) flush() error {
	raw, err := json.MarshalIndent(&s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// commit flushes after a mutation, restoring prev if the write fails so
// memory never runs ahead of disk.
func (s *Store) commit(prev snapshot) error {
	if err := s.flush(); err != nil {
		s.data = prev
		return err
	}
	return nil
}

// clone copies the slices so a failed commit can restore them.
func (s *Store) clone() snapshot {
	c := s.data
	c.Users = append([]model.User(nil), s.data.Users...)
	c.ResetTokens = append([]model.PasswordResetToken(nil), s.data.ResetTokens...)
	c.Sessions = append([]model.Session(nil), s.data.Sessions...)
	c.Applications = append([]model.Application(nil), s.data.Applications...)
	return c
}

// Users returns the user repository view of the snapshot.
func (s *Store) Users() *Users { return &Users{s: s} }

// ResetTokens returns the reset token repository view of the snapshot.
func (s *Store) ResetTokens() *ResetTokens { return &ResetTokens{s: s} }

// Sessions returns the session repository view of the snapshot.
func (s *Store) Sessions() *Sessions { return &Sessions{s: s} }

// Applications returns the application repository view of the snapshot.
func (s *Store) Applications() *Applications { return &Applications{s: s} }

// setPassword mutates in memory only. Caller must hold mu.
func (s *Store) setPassword(id int64, passwordHash string) bool {
	for i := range s.data.Users {
		if s.data.Users[i].ID == id {
			s.data.Users[i].PasswordHash = passwordHash
			return true
		}
	}
	return false
}
