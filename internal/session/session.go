// Package session binds an authenticated user to a browser through a
// cookie. Expiry is always decided on the server from the issuance time.
package session

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const (
	DefaultCookieName = "ncats_session"
	DefaultLifetime   = time.Hour
)

// Backend stores or verifies session tokens.
type Backend interface {
	Create(ctx context.Context, userID int64, now time.Time, lifetime time.Duration) (string, error)
	// Lookup returns the user for a live token. ok is false for unknown,
	// tampered or expired tokens.
	Lookup(ctx context.Context, token string, now time.Time, lifetime time.Duration) (userID int64, ok bool, err error)
	Revoke(ctx context.Context, token string) error
	RevokeUser(ctx context.Context, userID int64, now time.Time, lifetime time.Duration) error
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

type Options struct {
	CookieName string
	Lifetime   time.Duration
	// Secure forces the Secure cookie attribute even when the request did
	// not arrive over TLS, as behind a terminating proxy.
	Secure bool
}

type Manager struct {
	backend  Backend
	name     string
	lifetime time.Duration
	secure   bool
	now      func() time.Time
	logger   *slog.Logger
}

func NewManager(backend Backend, opts Options, logger *slog.Logger) *Manager {
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.Lifetime <= 0 {
		opts.Lifetime = DefaultLifetime
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		backend:  backend,
		name:     opts.CookieName,
		lifetime: opts.Lifetime,
		secure:   opts.Secure,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock replaces the time source. Used by tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) CookieName() string      { return m.name }
func (m *Manager) Lifetime() time.Duration { return m.lifetime }

// Issue starts a session for userID. Whatever session the request carried
// is revoked first, so a pre-login token can never be promoted.
func (m *Manager) Issue(w http.ResponseWriter, r *http.Request, userID int64) error {
	ctx := r.Context()
	if cookie, err := r.Cookie(m.name); err == nil && cookie.Value != "" {
		if err := m.backend.Revoke(ctx, cookie.Value); err != nil {
			m.logger.Warn("revoke previous session", "error", err)
		}
	}

	now := m.now()
	token, err := m.backend.Create(ctx, userID, now, m.lifetime)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.name,
		Value:    token,
		Path:     "/",
		Expires:  now.Add(m.lifetime),
		MaxAge:   int(m.lifetime.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   m.secure || r.TLS != nil,
	})
	return nil
}

// Current returns the user bound to the request's session, if any.
func (m *Manager) Current(r *http.Request) (int64, bool) {
	cookie, err := r.Cookie(m.name)
	if err != nil || cookie.Value == "" {
		return 0, false
	}
	userID, ok, err := m.backend.Lookup(r.Context(), cookie.Value, m.now(), m.lifetime)
	if err != nil {
		m.logger.Error("session lookup", "error", err)
		return 0, false
	}
	return userID, ok
}

// Destroy revokes the request's session and clears the cookie. It is safe
// to call without a session.
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(m.name); err == nil && cookie.Value != "" {
		if err := m.backend.Revoke(r.Context(), cookie.Value); err != nil {
			m.logger.Error("revoke session", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   m.secure || r.TLS != nil,
	})
}

// RevokeUser ends every session belonging to userID.
func (m *Manager) RevokeUser(ctx context.Context, userID int64) error {
	return m.backend.RevokeUser(ctx, userID, m.now(), m.lifetime)
}

// Sweep discards expired session state.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	return m.backend.Sweep(ctx, m.now())
}
