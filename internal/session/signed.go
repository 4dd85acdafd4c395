package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the shortest HMAC key accepted for signed sessions.
const MinSecretLength = 32

var ErrWeakSecret = errors.New("session secret must be at least 32 bytes")

// Revocations persists the signed sessions that ended before their exp
// claim. Implemented by store.RevocationStore and RedisRevocations.
type Revocations interface {
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	TokenRevoked(ctx context.Context, jti string) (bool, error)
	SetUserCutoff(ctx context.Context, userID int64, notBefore, expiresAt time.Time) error
	UserCutoff(ctx context.Context, userID int64) (time.Time, bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SignedBackend keeps no server-side row per session: the cookie is an
// HS256 JWT carrying the user id, issue time and a random jti. Logouts and
// password resets are recorded in revocations, which outlive the process
// and are shared by every instance using the same store.
type SignedBackend struct {
	secret      []byte
	revocations Revocations
}

func NewSignedBackend(secret []byte, revocations Revocations) (*SignedBackend, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if revocations == nil {
		return nil, errors.New("signed sessions need a revocation store")
	}
	return &SignedBackend{secret: secret, revocations: revocations}, nil
}

// sessionClaims adds a nanosecond issue time; iat alone is truncated to
// the second, too coarse to order a login against a revocation.
type sessionClaims struct {
	jwt.RegisteredClaims
	IssuedNano int64 `json:"iat_ns"`
}

func (c *sessionClaims) issued() time.Time {
	return time.Unix(0, c.IssuedNano)
}

func (b *SignedBackend) Create(ctx context.Context, userID int64, now time.Time, lifetime time.Duration) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
		IssuedNano: now.UnixNano(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return signed, nil
}

func (b *SignedBackend) parse(token string, opts ...jwt.ParserOption) (*sessionClaims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parser := jwt.NewParser(opts...)
	claims := &sessionClaims{}
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return b.secret, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Lookup returns an error only when the revocation store fails: a token
// that fails verification is simply not a session.
func (b *SignedBackend) Lookup(ctx context.Context, token string, now time.Time, lifetime time.Duration) (int64, bool, error) {
	claims, err := b.parse(token,
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || claims.IssuedNano == 0 || claims.ID == "" {
		return 0, false, nil
	}
	issued := claims.issued()
	// The lifetime is enforced from the issue time even if exp claims more.
	if !now.Before(issued.Add(lifetime)) {
		return 0, false, nil
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, false, nil
	}

	revoked, err := b.revocations.TokenRevoked(ctx, claims.ID)
	if err != nil {
		return 0, false, err
	}
	if revoked {
		return 0, false, nil
	}
	cutoff, ok, err := b.revocations.UserCutoff(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	if ok && !issued.After(cutoff) {
		return 0, false, nil
	}
	return userID, true, nil
}

func (b *SignedBackend) Revoke(ctx context.Context, token string) error {
	claims, err := b.parse(token, jwt.WithoutClaimsValidation())
	if err != nil || claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	return b.revocations.RevokeToken(ctx, claims.ID, claims.ExpiresAt.Time)
}

// RevokeUser kills every token of userID issued up to now. The cutoff is
// kept only as long as such a token could still be live.
func (b *SignedBackend) RevokeUser(ctx context.Context, userID int64, now time.Time, lifetime time.Duration) error {
	return b.revocations.SetUserCutoff(ctx, userID, now, now.Add(lifetime))
}

// Sweep forgets revocations for tokens that have expired on their own.
func (b *SignedBackend) Sweep(ctx context.Context, now time.Time) (int64, error) {
	return b.revocations.DeleteExpired(ctx, now)
}
