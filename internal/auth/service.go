package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/dukerupert/ncats/internal/admission"
	"github.com/dukerupert/ncats/internal/model"
	"github.com/dukerupert/ncats/internal/password"
	"github.com/dukerupert/ncats/internal/reset"
	"github.com/dukerupert/ncats/internal/store"
)

// UserRepository is the credential store. Implemented by store.UserStore
// and filestore.Users.
type UserRepository interface {
	Create(ctx context.Context, username, email, passwordHash string) (*model.User, error)
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
}

// Mailer delivers reset links. Implemented by email.Client.
type Mailer interface {
	Configured() bool
	SendPasswordReset(ctx context.Context, to, link string, ttl time.Duration) error
}

// Challenger verifies a bot-challenge response. Implemented by
// admission.Verifier.
type Challenger interface {
	Verify(ctx context.Context, response, remoteIP string) bool
}

// SessionRevoker ends every session a user holds.
type SessionRevoker interface {
	RevokeUser(ctx context.Context, userID int64) error
}

type Config struct {
	Users     UserRepository
	Hasher    *password.Hasher
	Resets    *reset.Manager
	Sessions  SessionRevoker
	Mailer    Mailer
	Challenge Challenger
	// BaseURL prefixes emailed reset links, e.g. "https://ncats.example".
	BaseURL string
	// RevealUnknownEmail makes RequestReset return ErrUnknownEmail for an
	// address with no account instead of the uniform success.
	RevealUnknownEmail bool
	// DevMode hands the reset link back to the caller when no mailer is
	// configured. Without it an unmailed link is never exposed.
	DevMode bool
	Logger  *slog.Logger
}

// Service runs the registration, login and password reset flows.
type Service struct {
	users     UserRepository
	hasher    *password.Hasher
	resets    *reset.Manager
	sessions  SessionRevoker
	mailer    Mailer
	challenge Challenger
	baseURL   string
	reveal    bool
	devMode   bool
	logger    *slog.Logger
}

func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = password.NewHasher(0)
	}
	return &Service{
		users:     cfg.Users,
		hasher:    hasher,
		resets:    cfg.Resets,
		sessions:  cfg.Sessions,
		mailer:    cfg.Mailer,
		challenge: cfg.Challenge,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		reveal:    cfg.RevealUnknownEmail,
		devMode:   cfg.DevMode,
		logger:    logger,
	}
}

type Registration struct {
	Username string
	Email    string
	Password string
	Confirm  string
	// ConfirmRequired enforces Password == Confirm.
	ConfirmRequired bool
	Challenge       string
	RemoteIP        string
}

// Register creates an account. It never starts a session.
func (s *Service) Register(ctx context.Context, in Registration) (*model.User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)

	if username == "" || in.Password == "" {
		return nil, invalid(admission.MsgRequired)
	}
	if msg := admission.CheckUsername(username); msg != "" {
		return nil, invalid(msg)
	}
	if !admission.ValidEmail(email) {
		return nil, invalid(admission.MsgEmailInvalid)
	}
	if msg := admission.CheckPassword(in.Password, in.Confirm, in.ConfirmRequired); msg != "" {
		return nil, invalid(msg)
	}
	if !s.verifyChallenge(ctx, in.Challenge, in.RemoteIP) {
		return nil, ErrChallengeFailed
	}

	existing, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("register lookup username: %w", err)
	}
	if existing != nil {
		return nil, ErrDuplicateUsername
	}
	existing, err = s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("register lookup email: %w", err)
	}
	if existing != nil {
		return nil, ErrDuplicateEmail
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	// The store's unique constraints settle races the lookups above missed.
	user, err := s.users.Create(ctx, username, email, hash)
	switch {
	case errors.Is(err, store.ErrDuplicateUsername):
		return nil, ErrDuplicateUsername
	case errors.Is(err, store.ErrDuplicateEmail):
		return nil, ErrDuplicateEmail
	case err != nil:
		return nil, fmt.Errorf("register: %w", err)
	}

	s.logger.Info("user registered", "user_id", user.ID)
	return user, nil
}

type Credentials struct {
	Username  string
	Password  string
	Challenge string
	RemoteIP  string
}

// Authenticate checks a username and password. Unknown users and wrong
// passwords both yield ErrInvalidCredentials after the same bcrypt work.
func (s *Service) Authenticate(ctx context.Context, in Credentials) (*model.User, error) {
	if !s.verifyChallenge(ctx, in.Challenge, in.RemoteIP) {
		return nil, ErrChallengeFailed
	}

	username := strings.TrimSpace(in.Username)
	if username == "" || in.Password == "" {
		return nil, invalid(admission.MsgRequired)
	}
	if !admission.ValidUsernameChars(username) {
		return nil, invalid(admission.MsgUsernameCharset)
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("login lookup: %w", err)
	}
	if user == nil {
		s.hasher.Equalize(in.Password)
		return nil, ErrInvalidCredentials
	}
	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		s.logger.Info("login failed", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}

	s.logger.Info("user logged in", "user_id", user.ID)
	return user, nil
}

// User returns the account with id, or nil.
func (s *Service) User(ctx context.Context, id int64) (*model.User, error) {
	return s.users.GetByID(ctx, id)
}

// ResetRequest reports what RequestReset did.
type ResetRequest struct {
	// DevLink holds the reset link when dev mode is on, no mailer is
	// configured and the link was logged instead of sent.
	DevLink string
}

// RequestReset issues a reset token for the account registered under
// addr and mails the link. Unless RevealUnknownEmail is set, an unknown
// address returns the same empty result as a known one.
func (s *Service) RequestReset(ctx context.Context, addr string) (ResetRequest, error) {
	addr = strings.TrimSpace(addr)
	if !admission.ValidEmail(addr) {
		return ResetRequest{}, invalid(admission.MsgEmailInvalid)
	}

	user, err := s.users.GetByEmail(ctx, addr)
	if err != nil {
		return ResetRequest{}, fmt.Errorf("reset lookup: %w", err)
	}
	if user == nil {
		if s.reveal {
			return ResetRequest{}, ErrUnknownEmail
		}
		s.logger.Debug("reset requested for unknown email")
		return ResetRequest{}, nil
	}

	token, err := s.resets.Issue(ctx, user.ID)
	if err != nil {
		return ResetRequest{}, err
	}
	link := s.ResetLink(token)

	if s.mailer == nil || !s.mailer.Configured() {
		if !s.devMode {
			s.logger.Error("reset link not sent: email is not configured", "user_id", user.ID)
			return ResetRequest{}, nil
		}
		s.logger.Info("password reset link (dev mode)", "user_id", user.ID, "link", link)
		return ResetRequest{DevLink: link}, nil
	}
	if err := s.mailer.SendPasswordReset(ctx, user.Email, link, s.resets.TTL()); err != nil {
		// The caller still sees the uniform result; the token stays valid
		// for a retry from the logs.
		s.logger.Error("send reset email", "user_id", user.ID, "error", err)
		return ResetRequest{}, nil
	}
	s.logger.Info("password reset email sent", "user_id", user.ID)
	return ResetRequest{}, nil
}

// ResetLink is the public URL that redeems token.
func (s *Service) ResetLink(token string) string {
	return s.baseURL + "/reset_password/" + url.PathEscape(token)
}

// CheckResetToken reports whether token can still be redeemed.
func (s *Service) CheckResetToken(ctx context.Context, token string) (int64, error) {
	return s.resets.Validate(ctx, token)
}

// ResetPassword sets a new password using token and signs the user out
// everywhere. The token is consumed in the same step as the password write.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword, confirm string) error {
	if _, err := s.resets.Validate(ctx, token); err != nil {
		return err
	}
	if msg := admission.CheckPassword(newPassword, confirm, true); msg != "" {
		return invalid(msg)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	userID, err := s.resets.Redeem(ctx, token, hash)
	if err != nil {
		return err
	}

	if s.sessions != nil {
		if err := s.sessions.RevokeUser(ctx, userID); err != nil {
			s.logger.Error("revoke sessions after reset", "user_id", userID, "error", err)
		}
	}
	s.logger.Info("password reset", "user_id", userID)
	return nil
}

func (s *Service) verifyChallenge(ctx context.Context, response, remoteIP string) bool {
	if s.challenge == nil {
		return true
	}
	return s.challenge.Verify(ctx, response, remoteIP)
}
