package filestore

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/ncats/internal/model"
	"github.com/dukerupert/ncats/internal/store"
)

type ResetTokens struct {
	s *Store
}

// Create stores a token digest, dropping the user's earlier tokens.
func (r *ResetTokens) Create(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) (*model.PasswordResetToken, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.clone()
	kept := s.data.ResetTokens[:0]
	for _, t := range s.data.ResetTokens {
		if t.UserID != userID {
			kept = append(kept, t)
		}
	}
	s.data.NextTokenID++
	t := model.PasswordResetToken{
		ID:        s.data.NextTokenID,
		TokenHash: tokenHash,
		UserID:    userID,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	s.data.ResetTokens = append(kept, t)
	if err := s.commit(prev); err != nil {
		return nil, fmt.Errorf("insert reset token: %w", err)
	}
	return &t, nil
}

func (r *ResetTokens) GetByHash(ctx context.Context, tokenHash string) (*model.PasswordResetToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.data.ResetTokens {
		if t.TokenHash == tokenHash {
			return &t, nil
		}
	}
	return nil, nil
}

// take removes the token from memory. Caller must hold mu.
func (r *ResetTokens) take(tokenHash string) *model.PasswordResetToken {
	tokens := r.s.data.ResetTokens
	for i, t := range tokens {
		if t.TokenHash == tokenHash {
			r.s.data.ResetTokens = append(tokens[:i], tokens[i+1:]...)
			return &t
		}
	}
	return nil
}

func (r *ResetTokens) Consume(ctx context.Context, tokenHash string) (*model.PasswordResetToken, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.clone()
	t := r.take(tokenHash)
	if t == nil {
		return nil, nil
	}
	if err := s.commit(prev); err != nil {
		return nil, fmt.Errorf("consume reset token: %w", err)
	}
	return t, nil
}

// Redeem removes the token and sets the owner's password in one snapshot
// write. A non-nil check result leaves both untouched.
func (r *ResetTokens) Redeem(ctx context.Context, tokenHash, passwordHash string, check func(*model.PasswordResetToken) error) (*model.PasswordResetToken, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.clone()
	t := r.take(tokenHash)
	if t == nil {
		return nil, nil
	}
	if check != nil {
		if err := check(t); err != nil {
			s.data = prev
			return nil, err
		}
	}
	if !s.setPassword(t.UserID, passwordHash) {
		s.data = prev
		return nil, store.ErrNotFound
	}
	if err := s.commit(prev); err != nil {
		return nil, fmt.Errorf("redeem reset token: %w", err)
	}
	return t, nil
}

func (r *ResetTokens) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.clone()
	kept := s.data.ResetTokens[:0]
	for _, t := range s.data.ResetTokens {
		if t.ExpiresAt.After(now) {
			kept = append(kept, t)
		}
	}
	n := int64(len(prev.ResetTokens) - len(kept))
	if n == 0 {
		return 0, nil
	}
	s.data.ResetTokens = kept
	if err := s.commit(prev); err != nil {
		return 0, fmt.Errorf("delete expired reset tokens: %w", err)
	}
	return n, nil
}
