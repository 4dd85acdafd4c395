package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/ncats/internal/database"
)

// RevocationStore remembers signed sessions that ended before their exp
// claim: single tokens by jti, and per-user cutoffs set by a password reset.
// Rows carry the time after which they no longer matter.
type RevocationStore struct {
	db *database.DB
}

func NewRevocationStore(db *database.DB) *RevocationStore {
	return &RevocationStore{db: db}
}

func (s *RevocationStore) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO revoked_sessions (jti, expires_at) VALUES (?, ?) ON CONFLICT (jti) DO NOTHING`),
		jti, expiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("revoke session %s: %w", jti, err)
	}
	return nil
}

func (s *RevocationStore) TokenRevoked(ctx context.Context, jti string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT 1 FROM revoked_sessions WHERE jti = ?`), jti).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check revoked session: %w", err)
	}
	return true, nil
}

// SetUserCutoff invalidates every session of userID issued at or before
// notBefore. The nanosecond value is stored as an integer; Postgres
// timestamps stop at microseconds.
func (s *RevocationStore) SetUserCutoff(ctx context.Context, userID int64, notBefore, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO session_cutoffs (user_id, not_before_ns, expires_at) VALUES (?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET not_before_ns = excluded.not_before_ns, expires_at = excluded.expires_at`),
		userID, notBefore.UnixNano(), expiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("set session cutoff: %w", err)
	}
	return nil
}

// UserCutoff returns the cutoff for userID, or ok=false if none is set.
func (s *RevocationStore) UserCutoff(ctx context.Context, userID int64) (time.Time, bool, error) {
	var ns int64
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT not_before_ns FROM session_cutoffs WHERE user_id = ?`), userID).Scan(&ns)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get session cutoff: %w", err)
	}
	return time.Unix(0, ns), true, nil
}

// DeleteExpired drops revocations whose tokens would have expired anyway.
func (s *RevocationStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	err := s.db.WithTx(ctx, func(tx database.Querier) error {
		for _, table := range []string{"revoked_sessions", "session_cutoffs"} {
			result, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM `+table+` WHERE expires_at <= ?`), now.UTC())
			if err != nil {
				return fmt.Errorf("delete expired %s: %w", table, err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
