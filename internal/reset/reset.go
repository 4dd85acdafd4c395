// Package reset issues and redeems single-use password reset tokens.
//
// The plaintext token only ever appears in the emailed link; storage keeps
// its SHA-256 digest.
package reset

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/ncats/internal/model"
)

const (
	// TokenBytes is the amount of entropy in a token before encoding.
	TokenBytes = 32
	// DefaultTTL is how long a token stays valid after issuance.
	DefaultTTL = time.Hour
)

var (
	ErrNotFound = errors.New("reset token not found")
	ErrExpired  = errors.New("reset token expired")
)

// Repository persists token digests. Implemented by store.ResetTokenStore
// and filestore.ResetTokens.
type Repository interface {
	Create(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) (*model.PasswordResetToken, error)
	GetByHash(ctx context.Context, tokenHash string) (*model.PasswordResetToken, error)
	Consume(ctx context.Context, tokenHash string) (*model.PasswordResetToken, error)
	Redeem(ctx context.Context, tokenHash, passwordHash string, check func(*model.PasswordResetToken) error) (*model.PasswordResetToken, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type Manager struct {
	repo Repository
	ttl  time.Duration
	now  func() time.Time
}

func NewManager(repo Repository, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{repo: repo, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue creates a token for userID and returns its plaintext form. Any
// token previously issued to the same user stops working.
func (m *Manager) Issue(ctx context.Context, userID int64) (string, error) {
	raw := make([]byte, TokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	if _, err := m.repo.Create(ctx, Digest(token), userID, m.now().Add(m.ttl)); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}
	return token, nil
}

// Validate reports the user a token belongs to without using it up.
func (m *Manager) Validate(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrNotFound
	}
	t, err := m.repo.GetByHash(ctx, Digest(token))
	if err != nil {
		return 0, fmt.Errorf("lookup reset token: %w", err)
	}
	if t == nil {
		return 0, ErrNotFound
	}
	if err := m.checkExpiry(t); err != nil {
		return 0, err
	}
	return t.UserID, nil
}

// Consume deletes the token and returns its owner. Of two concurrent calls
// with the same token at most one succeeds.
func (m *Manager) Consume(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrNotFound
	}
	t, err := m.repo.Consume(ctx, Digest(token))
	if err != nil {
		return 0, fmt.Errorf("consume reset token: %w", err)
	}
	if t == nil {
		return 0, ErrNotFound
	}
	if err := m.checkExpiry(t); err != nil {
		return 0, err
	}
	return t.UserID, nil
}

// Redeem consumes the token and stores passwordHash for its owner as one
// atomic step. An expired token is left in place for the sweeper and the
// password is not changed.
func (m *Manager) Redeem(ctx context.Context, token, passwordHash string) (int64, error) {
	if token == "" {
		return 0, ErrNotFound
	}
	t, err := m.repo.Redeem(ctx, Digest(token), passwordHash, m.checkExpiry)
	if errors.Is(err, ErrExpired) {
		return 0, ErrExpired
	}
	if err != nil {
		return 0, fmt.Errorf("redeem reset token: %w", err)
	}
	if t == nil {
		return 0, ErrNotFound
	}
	return t.UserID, nil
}

// Sweep deletes tokens whose expiry has passed.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	n, err := m.repo.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("sweep reset tokens: %w", err)
	}
	return n, nil
}

func (m *Manager) checkExpiry(t *model.PasswordResetToken) error {
	if !m.now().Before(t.ExpiresAt) {
		return ErrExpired
	}
	return nil
}

// Digest is the storage key for a plaintext token.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
