package store

import (
	"context"
	"testing"
	"time"
)

func setupSessionTestDB(t *testing.T) (*SessionStore, *UserStore) {
	t.Helper()
	db := setupTestDB(t)
	return NewSessionStore(db), NewUserStore(db)
}

func TestSessionCreate(t *testing.T) {
	ss, us := setupSessionTestDB(t)
	ctx := context.Background()

	u, err := us.Create(ctx, "alice", "", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	expires := time.Now().Add(time.Hour)
	sess, err := ss.Create(ctx, u.ID, expires)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if len(sess.Token) != 64 { // 32 bytes hex-encoded
		t.Errorf("token length = %d, want 64", len(sess.Token))
	}
	if sess.UserID != u.ID {
		t.Errorf("user_id = %d, want %d", sess.UserID, u.ID)
	}
	if d := sess.ExpiresAt.Sub(expires); d > time.Millisecond || d < -time.Millisecond {
		t.Errorf("expires_at = %v, want %v", sess.ExpiresAt, expires)
	}
}

func TestSessionTokensAreUnique(t *testing.T) {
	ss, us := setupSessionTestDB(t)
	ctx := context.Background()

	u, _ := us.Create(ctx, "alice", "", "hash")
	a, _ := ss.Create(ctx, u.ID, time.Now().Add(time.Hour))
	b, _ := ss.Create(ctx, u.ID, time.Now().Add(time.Hour))
	if a.Token == b.Token {
		t.Error("expected distinct tokens")
	}
}

func TestSessionGetByToken(t *testing.T) {
	ss, us := setupSessionTestDB(t)
	ctx := context.Background()

	u, _ := us.Create(ctx, "alice", "", "hash")
	created, _ := ss.Create(ctx, u.ID, time.Now().Add(time.Hour))

	sess, err := ss.GetByToken(ctx, created.Token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if sess == nil {
		t.Fatal("expected session, got nil")
	}
	if sess.ID != created.ID {
		t.Errorf("id = %d, want %d", sess.ID, created.ID)
	}
}

func TestSessionGetByTokenNotFound(t *testing.T) {
	ss, _ := setupSessionTestDB(t)

	sess, err := ss.GetByToken(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if sess != nil {
		t.Error("expected nil for nonexistent token")
	}
}

func TestSessionDeleteByToken(t *testing.T) {
	ss, us := setupSessionTestDB(t)
	ctx := context.Background()

	u, _ := us.Create(ctx, "alice", "", "hash")
	sess, _ := ss.Create(ctx, u.ID, time.Now().Add(time.Hour))

	if err := ss.DeleteByToken(ctx, sess.Token); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ := ss.GetByToken(ctx, sess.Token)
	if got != nil {
		t.Error("expected session to be deleted")
	}

	// Deleting again is not an error.
	if err := ss.DeleteByToken(ctx, sess.Token); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestSessionDeleteByUserID(t *testing.T) {
	ss, us := setupSessionTestDB(t)
	ctx := context.Background()

	alice, _ := us.Create(ctx, "alice", "", "hash")
	bob, _ := us.Create(ctx, "bob", "", "hash")
	a1, _ := ss.Create(ctx, alice.ID, time.Now().Add(time.Hour))
	a2, _ := ss.Create(ctx, alice.ID, time.Now().Add(time.Hour))
	b1, _ := ss.Create(ctx, bob.ID, time.Now().Add(time.Hour))

	if err := ss.DeleteByUserID(ctx, alice.ID); err != nil {
		t.Fatalf("delete by user: %v", err)
	}
	for _, tok := range []string{a1.Token, a2.Token} {
		if got, _ := ss.GetByToken(ctx, tok); got != nil {
			t.Errorf("alice session %s survived", tok[:8])
		}
	}
	if got, _ := ss.GetByToken(ctx, b1.Token); got == nil {
		t.Error("bob's session was deleted")
	}
}

func TestSessionDeleteExpired(t *testing.T) {
	ss, us := setupSessionTestDB(t)
	ctx := context.Background()

	u, _ := us.Create(ctx, "alice", "", "hash")
	now := time.Now()
	expired, _ := ss.Create(ctx, u.ID, now.Add(-time.Minute))
	live, _ := ss.Create(ctx, u.ID, now.Add(time.Hour))

	n, err := ss.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if got, _ := ss.GetByToken(ctx, expired.Token); got != nil {
		t.Error("expected expired session to be deleted")
	}
	if got, _ := ss.GetByToken(ctx, live.Token); got == nil {
		t.Error("expected live session to survive")
	}
}
