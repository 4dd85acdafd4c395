package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/ncats/internal/database"
	"github.com/dukerupert/ncats/internal/model"
)

type UserStore struct {
	db *database.DB
}

func NewUserStore(db *database.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var email sql.NullString
	err := scanner.Scan(&u.ID, &u.Username, &email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	if email.Valid {
		u.Email = email.String
	}
	return &u, nil
}

const userCols = `id, username, email, password_hash, created_at`

// Create inserts a user. The username and email unique constraints decide
// races between concurrent registrations; the loser gets ErrDuplicateUsername
// or ErrDuplicateEmail.
func (s *UserStore) Create(ctx context.Context, username, email, passwordHash string) (*model.User, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		s.db.Rebind(`INSERT INTO users (username, email, password_hash, created_at) VALUES (?, ?, ?, ?) RETURNING id`),
		username, nullString(email), passwordHash, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		if constraint, ok := s.db.UniqueViolation(err); ok {
			switch {
			case strings.Contains(constraint, "username"):
				return nil, ErrDuplicateUsername
			case strings.Contains(constraint, "email"):
				return nil, ErrDuplicateEmail
			}
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+userCols+` FROM users WHERE id = ?`), id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+userCols+` FROM users WHERE username = ?`), username)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	if email == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+userCols+` FROM users WHERE email = ?`), email)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *UserStore) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	return updatePassword(ctx, s.db, s.db, id, passwordHash)
}

func updatePassword(ctx context.Context, db *database.DB, q database.Querier, id int64, passwordHash string) error {
	result, err := q.ExecContext(ctx,
		db.Rebind(`UPDATE users SET password_hash = ? WHERE id = ?`),
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
