package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/ncats/internal/database"
	"github.com/dukerupert/ncats/internal/model"
)

type ApplicationStore struct {
	db *database.DB
}

func NewApplicationStore(db *database.DB) *ApplicationStore {
	return &ApplicationStore{db: db}
}

func scanApplication(scanner interface{ Scan(...any) error }) (*model.Application, error) {
	var a model.Application
	err := scanner.Scan(&a.ID, &a.UserID, &a.Name, &a.Email, &a.ResumePath, &a.SubmittedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

const applicationCols = `id, user_id, name, email, resume_path, submitted_at`

func (s *ApplicationStore) Create(ctx context.Context, userID int64, name, email, resumePath string) (*model.Application, error) {
	row := s.db.QueryRowContext(ctx,
		s.db.Rebind(`INSERT INTO applications (user_id, name, email, resume_path, submitted_at) VALUES (?, ?, ?, ?, ?) RETURNING `+applicationCols),
		userID, name, email, resumePath, time.Now().UTC(),
	)
	a, err := scanApplication(row)
	if err != nil {
		return nil, fmt.Errorf("insert application: %w", err)
	}
	return a, nil
}

func (s *ApplicationStore) ListByUserID(ctx context.Context, userID int64) ([]model.Application, error) {
	rows, err := s.db.QueryContext(ctx,
		s.db.Rebind(`SELECT `+applicationCols+` FROM applications WHERE user_id = ? ORDER BY submitted_at DESC, id DESC`),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var apps []model.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		apps = append(apps, *a)
	}
	return apps, rows.Err()
}
