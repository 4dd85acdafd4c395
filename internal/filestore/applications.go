package filestore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dukerupert/ncats/internal/model"
)

type Applications struct {
	s *Store
}

func (r *Applications) Create(ctx context.Context, userID int64, name, email, resumePath string) (*model.Application, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.clone()
	s.data.NextApplicationID++
	a := model.Application{
		ID:          s.data.NextApplicationID,
		UserID:      userID,
		Name:        name,
		Email:       email,
		ResumePath:  resumePath,
		SubmittedAt: time.Now().UTC(),
	}
	s.data.Applications = append(s.data.Applications, a)
	if err := s.commit(prev); err != nil {
		return nil, fmt.Errorf("insert application: %w", err)
	}
	return &a, nil
}

// ListByUserID returns the user's applications, newest first.
func (r *Applications) ListByUserID(ctx context.Context, userID int64) ([]model.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var apps []model.Application
	for _, a := range r.s.data.Applications {
		if a.UserID == userID {
			apps = append(apps, a)
		}
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].ID > apps[j].ID })
	return apps, nil
}
