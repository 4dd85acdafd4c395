package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/ncats/internal/database"
	"github.com/dukerupert/ncats/internal/model"
)

type ResetTokenStore struct {
	db *database.DB
}

func NewResetTokenStore(db *database.DB) *ResetTokenStore {
	return &ResetTokenStore{db: db}
}

func scanResetToken(scanner interface{ Scan(...any) error }) (*model.PasswordResetToken, error) {
	var t model.PasswordResetToken
	err := scanner.Scan(&t.ID, &t.TokenHash, &t.UserID, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const resetTokenCols = `id, token_hash, user_id, expires_at, created_at`

// Create stores a reset token. Any earlier tokens for the same user are
// removed first so only the newest link works.
func (s *ResetTokenStore) Create(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) (*model.PasswordResetToken, error) {
	var created *model.PasswordResetToken
	err := s.db.WithTx(ctx, func(tx database.Querier) error {
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM password_reset_tokens WHERE user_id = ?`), userID); err != nil {
			return fmt.Errorf("invalidate previous tokens: %w", err)
		}
		row := tx.QueryRowContext(ctx,
			s.db.Rebind(`INSERT INTO password_reset_tokens (token_hash, user_id, expires_at, created_at) VALUES (?, ?, ?, ?) RETURNING `+resetTokenCols),
			tokenHash, userID, expiresAt.UTC(), time.Now().UTC(),
		)
		t, err := scanResetToken(row)
		if err != nil {
			return fmt.Errorf("insert reset token: %w", err)
		}
		created = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetByHash returns the token with the given digest, or nil if not found.
func (s *ResetTokenStore) GetByHash(ctx context.Context, tokenHash string) (*model.PasswordResetToken, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+resetTokenCols+` FROM password_reset_tokens WHERE token_hash = ?`), tokenHash)
	t, err := scanResetToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reset token: %w", err)
	}
	return t, nil
}

// Consume deletes the token and returns the deleted row, or nil if no row
// matched. Of two concurrent callers only one sees the row.
func (s *ResetTokenStore) Consume(ctx context.Context, tokenHash string) (*model.PasswordResetToken, error) {
	return consumeResetToken(ctx, s.db, s.db, tokenHash)
}

func consumeResetToken(ctx context.Context, db *database.DB, q database.Querier, tokenHash string) (*model.PasswordResetToken, error) {
	row := q.QueryRowContext(ctx,
		db.Rebind(`DELETE FROM password_reset_tokens WHERE token_hash = ? RETURNING `+resetTokenCols),
		tokenHash,
	)
	t, err := scanResetToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consume reset token: %w", err)
	}
	return t, nil
}

// Redeem consumes the token and sets its owner's password hash in a single
// transaction. check runs against the consumed row before the password is
// written; a non-nil result rolls everything back. Returns nil, nil when
// the token does not exist.
func (s *ResetTokenStore) Redeem(ctx context.Context, tokenHash, passwordHash string, check func(*model.PasswordResetToken) error) (*model.PasswordResetToken, error) {
	var redeemed *model.PasswordResetToken
	err := s.db.WithTx(ctx, func(tx database.Querier) error {
		t, err := consumeResetToken(ctx, s.db, tx, tokenHash)
		if err != nil {
			return err
		}
		if t == nil {
			return nil
		}
		if check != nil {
			if err := check(t); err != nil {
				return err
			}
		}
		if err := updatePassword(ctx, s.db, tx, t.UserID, passwordHash); err != nil {
			return err
		}
		redeemed = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return redeemed, nil
}

func (s *ResetTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM password_reset_tokens WHERE expires_at <= ?`), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired reset tokens: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
