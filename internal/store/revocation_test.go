package store

import (
	"context"
	"testing"
	"time"
)

func TestRevocationStoreTokens(t *testing.T) {
	rs := NewRevocationStore(setupTestDB(t))
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	if revoked, err := rs.TokenRevoked(ctx, "jti-1"); err != nil || revoked {
		t.Fatalf("TokenRevoked = %v, %v; want false, nil", revoked, err)
	}
	if err := rs.RevokeToken(ctx, "jti-1", exp); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	// Revoking twice is harmless.
	if err := rs.RevokeToken(ctx, "jti-1", exp); err != nil {
		t.Fatalf("revoke again: %v", err)
	}
	if revoked, err := rs.TokenRevoked(ctx, "jti-1"); err != nil || !revoked {
		t.Errorf("TokenRevoked = %v, %v; want true, nil", revoked, err)
	}
}

func TestRevocationStoreCutoff(t *testing.T) {
	rs := NewRevocationStore(setupTestDB(t))
	ctx := context.Background()
	now := time.Now()

	if _, ok, err := rs.UserCutoff(ctx, 7); err != nil || ok {
		t.Fatalf("UserCutoff = %v, %v; want none", ok, err)
	}

	first := now.Add(123 * time.Nanosecond)
	if err := rs.SetUserCutoff(ctx, 7, first, now.Add(time.Hour)); err != nil {
		t.Fatalf("set cutoff: %v", err)
	}
	got, ok, err := rs.UserCutoff(ctx, 7)
	if err != nil || !ok {
		t.Fatalf("UserCutoff = %v, %v", ok, err)
	}
	if !got.Equal(first) {
		t.Errorf("cutoff = %v, want %v (nanoseconds kept)", got, first)
	}

	later := now.Add(time.Minute)
	if err := rs.SetUserCutoff(ctx, 7, later, later.Add(time.Hour)); err != nil {
		t.Fatalf("move cutoff: %v", err)
	}
	if got, _, _ := rs.UserCutoff(ctx, 7); !got.Equal(later) {
		t.Errorf("cutoff = %v, want %v", got, later)
	}
}

func TestRevocationStoreDeleteExpired(t *testing.T) {
	rs := NewRevocationStore(setupTestDB(t))
	ctx := context.Background()
	now := time.Now()

	rs.RevokeToken(ctx, "old", now.Add(-time.Minute))
	rs.RevokeToken(ctx, "live", now.Add(time.Hour))
	rs.SetUserCutoff(ctx, 1, now.Add(-2*time.Hour), now.Add(-time.Hour))
	rs.SetUserCutoff(ctx, 2, now, now.Add(time.Hour))

	n, err := rs.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}
	if revoked, _ := rs.TokenRevoked(ctx, "old"); revoked {
		t.Error("expired revocation kept")
	}
	if revoked, _ := rs.TokenRevoked(ctx, "live"); !revoked {
		t.Error("live revocation dropped")
	}
	if _, ok, _ := rs.UserCutoff(ctx, 1); ok {
		t.Error("expired cutoff kept")
	}
	if _, ok, _ := rs.UserCutoff(ctx, 2); !ok {
		t.Error("live cutoff dropped")
	}
}
