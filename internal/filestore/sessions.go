package filestore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dukerupert/ncats/internal/model"
)

type Sessions struct {
	s *Store
}

func (r *Sessions) Create(ctx context.Context, userID int64, expiresAt time.Time) (*model.Session, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.clone()
	s.data.NextSessionID++
	sess := model.Session{
		ID:        s.data.NextSessionID,
		Token:     hex.EncodeToString(tokenBytes),
		UserID:    userID,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	s.data.Sessions = append(s.data.Sessions, sess)
	if err := s.commit(prev); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return &sess, nil
}

func (r *Sessions) GetByToken(ctx context.Context, token string) (*model.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sess := range r.s.data.Sessions {
		if sess.Token == token {
			return &sess, nil
		}
	}
	return nil, nil
}

func (r *Sessions) deleteWhere(match func(model.Session) bool) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.clone()
	kept := s.data.Sessions[:0]
	for _, sess := range s.data.Sessions {
		if !match(sess) {
			kept = append(kept, sess)
		}
	}
	n := int64(len(prev.Sessions) - len(kept))
	if n == 0 {
		return 0, nil
	}
	s.data.Sessions = kept
	if err := s.commit(prev); err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	return n, nil
}

func (r *Sessions) DeleteByToken(ctx context.Context, token string) error {
	_, err := r.deleteWhere(func(sess model.Session) bool { return sess.Token == token })
	return err
}

func (r *Sessions) DeleteByUserID(ctx context.Context, userID int64) error {
	_, err := r.deleteWhere(func(sess model.Session) bool { return sess.UserID == userID })
	return err
}

func (r *Sessions) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.deleteWhere(func(sess model.Session) bool { return !sess.ExpiresAt.After(now) })
}
