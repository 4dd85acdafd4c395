package session

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/ncats/internal/model"
)

// Repository is the session table. Implemented by store.SessionStore and
// filestore.Sessions.
type Repository interface {
	Create(ctx context.Context, userID int64, expiresAt time.Time) (*model.Session, error)
	GetByToken(ctx context.Context, token string) (*model.Session, error)
	DeleteByToken(ctx context.Context, token string) error
	DeleteByUserID(ctx context.Context, userID int64) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// StoreBackend keeps one row per session with an absolute expiry.
type StoreBackend struct {
	repo Repository
}

func NewStoreBackend(repo Repository) *StoreBackend {
	return &StoreBackend{repo: repo}
}

func (b *StoreBackend) Create(ctx context.Context, userID int64, now time.Time, lifetime time.Duration) (string, error) {
	sess, err := b.repo.Create(ctx, userID, now.Add(lifetime))
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return sess.Token, nil
}

func (b *StoreBackend) Lookup(ctx context.Context, token string, now time.Time, lifetime time.Duration) (int64, bool, error) {
	sess, err := b.repo.GetByToken(ctx, token)
	if err != nil {
		return 0, false, fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return 0, false, nil
	}
	if !now.Before(sess.ExpiresAt) {
		return 0, false, nil
	}
	return sess.UserID, true, nil
}

func (b *StoreBackend) Revoke(ctx context.Context, token string) error {
	return b.repo.DeleteByToken(ctx, token)
}

func (b *StoreBackend) RevokeUser(ctx context.Context, userID int64, now time.Time, lifetime time.Duration) error {
	return b.repo.DeleteByUserID(ctx, userID)
}

func (b *StoreBackend) Sweep(ctx context.Context, now time.Time) (int64, error) {
	return b.repo.DeleteExpired(ctx, now)
}
