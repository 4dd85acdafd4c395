package filestore

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/ncats/internal/model"
	"github.com/dukerupert/ncats/internal/store"
)

type Users struct {
	s *Store
}

// Create checks uniqueness and appends under the store lock, so two
// concurrent registrations for the same name cannot both succeed.
func (r *Users) Create(ctx context.Context, username, email, passwordHash string) (*model.User, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.data.Users {
		if u.Username == username {
			return nil, store.ErrDuplicateUsername
		}
		if email != "" && u.Email == email {
			return nil, store.ErrDuplicateEmail
		}
	}

	prev := s.clone()
	s.data.NextUserID++
	u := model.User{
		ID:           s.data.NextUserID,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	s.data.Users = append(s.data.Users, u)
	if err := s.commit(prev); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &u, nil
}

func (r *Users) find(match func(model.User) bool) *model.User {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.data.Users {
		if match(u) {
			return &u
		}
	}
	return nil
}

func (r *Users) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return r.find(func(u model.User) bool { return u.ID == id }), nil
}

func (r *Users) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.find(func(u model.User) bool { return u.Username == username }), nil
}

func (r *Users) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	if email == "" {
		return nil, nil
	}
	return r.find(func(u model.User) bool { return u.Email == email }), nil
}

func (r *Users) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.clone()
	if !s.setPassword(id, passwordHash) {
		return store.ErrNotFound
	}
	if err := s.commit(prev); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}
