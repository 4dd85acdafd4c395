package auth

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/ncats/internal/admission"
	"github.com/dukerupert/ncats/internal/database"
	"github.com/dukerupert/ncats/internal/filestore"
	"github.com/dukerupert/ncats/internal/password"
	"github.com/dukerupert/ncats/internal/reset"
	"github.com/dukerupert/ncats/internal/store"
	"golang.org/x/crypto/bcrypt"
)

type sentReset struct {
	to   string
	link string
	ttl  time.Duration
}

type fakeMailer struct {
	configured bool
	err        error

	mu   sync.Mutex
	sent []sentReset
}

func (m *fakeMailer) Configured() bool { return m.configured }

func (m *fakeMailer) SendPasswordReset(ctx context.Context, to, link string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentReset{to: to, link: link, ttl: ttl})
	return m.err
}

type fakeRevoker struct {
	revoked []int64
}

func (r *fakeRevoker) RevokeUser(ctx context.Context, userID int64) error {
	r.revoked = append(r.revoked, userID)
	return nil
}

type fakeChallenge struct {
	ok    bool
	calls int
}

func (c *fakeChallenge) Verify(ctx context.Context, response, remoteIP string) bool {
	c.calls++
	return c.ok
}

type fixture struct {
	svc     *Service
	mailer  *fakeMailer
	revoker *fakeRevoker
}

type repos struct {
	users  UserRepository
	resets reset.Repository
}

func backends(t *testing.T) map[string]repos {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	fs, err := filestore.Open(filepath.Join(t.TempDir(), "ncats.json"))
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}

	return map[string]repos{
		"sql":  {users: store.NewUserStore(db), resets: store.NewResetTokenStore(db)},
		"file": {users: fs.Users(), resets: fs.ResetTokens()},
	}
}

func newFixture(r repos, challenge Challenger, opts ...func(*Config)) fixture {
	f := fixture{
		mailer:  &fakeMailer{configured: true},
		revoker: &fakeRevoker{},
	}
	cfg := Config{
		Users:     r.users,
		Hasher:    password.NewHasher(bcrypt.MinCost),
		Resets:    reset.NewManager(r.resets, time.Hour),
		Sessions:  f.revoker,
		Mailer:    f.mailer,
		Challenge: challenge,
		BaseURL:   "https://ncats.test/",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.svc = NewService(cfg)
	return f
}

func register(t *testing.T, svc *Service, username, email, pw string) {
	t.Helper()
	_, err := svc.Register(context.Background(), Registration{Username: username, Email: email, Password: pw})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
}

func validationMsg(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Msg
	}
	return ""
}

func TestRegister(t *testing.T) {
	for name, r := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(r, nil)

			u, err := f.svc.Register(ctx, Registration{
				Username: " alice ", Email: "alice@x.com", Password: "secret1",
			})
			if err != nil {
				t.Fatalf("register: %v", err)
			}
			if u.Username != "alice" {
				t.Errorf("username = %q, want trimmed alice", u.Username)
			}
			if u.PasswordHash == "secret1" || !strings.HasPrefix(u.PasswordHash, "$2") {
				t.Errorf("password stored as %q, want bcrypt hash", u.PasswordHash)
			}

			_, err = f.svc.Register(ctx, Registration{Username: "alice", Email: "other@x.com", Password: "secret2"})
			if !errors.Is(err, ErrDuplicateUsername) || !errors.Is(err, ErrConflict) {
				t.Errorf("same username: err = %v, want ErrDuplicateUsername", err)
			}

			_, err = f.svc.Register(ctx, Registration{Username: "alice2", Email: "alice@x.com", Password: "secret2"})
			if !errors.Is(err, ErrDuplicateEmail) || !errors.Is(err, ErrConflict) {
				t.Errorf("same email: err = %v, want ErrDuplicateEmail", err)
			}
		})
	}
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		in   Registration
		want string
	}{
		{"missing username", Registration{Email: "a@x.com", Password: "secret1"}, admission.MsgRequired},
		{"missing password", Registration{Username: "alice", Email: "a@x.com"}, admission.MsgRequired},
		{"bad charset", Registration{Username: "al ice", Email: "a@x.com", Password: "secret1"}, admission.MsgUsernameCharset},
		{"short username", Registration{Username: "al", Email: "a@x.com", Password: "secret1"}, admission.MsgUsernameLength},
		{"bad email", Registration{Username: "alice", Email: "not-an-email", Password: "secret1"}, admission.MsgEmailInvalid},
		{"short password", Registration{Username: "alice", Email: "a@x.com", Password: "abc"}, admission.MsgPasswordLength},
		{"mismatch", Registration{Username: "alice", Email: "a@x.com", Password: "secret1", Confirm: "secret2", ConfirmRequired: true}, admission.MsgPasswordMismatch},
	}

	f := newFixture(backends(t)["sql"], nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), tt.in)
			if got := validationMsg(err); got != tt.want {
				t.Errorf("message = %q (err %v), want %q", got, err, tt.want)
			}
		})
	}
}

func TestRegisterChallenge(t *testing.T) {
	challenge := &fakeChallenge{ok: false}
	f := newFixture(backends(t)["sql"], challenge)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, Registration{Username: "alice", Email: "a@x.com", Password: "secret1"})
	if !errors.Is(err, ErrChallengeFailed) {
		t.Fatalf("err = %v, want ErrChallengeFailed", err)
	}
	if u, _ := f.svc.users.GetByUsername(ctx, "alice"); u != nil {
		t.Error("user created despite failed challenge")
	}

	// Format errors are reported before the challenge is spent.
	challenge.calls = 0
	f.svc.Register(ctx, Registration{Username: "a!", Email: "a@x.com", Password: "secret1"})
	if challenge.calls != 0 {
		t.Errorf("challenge called %d times for malformed input", challenge.calls)
	}
}

func TestRegisterConcurrentSameUsername(t *testing.T) {
	for name, r := range backends(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(r, nil)

			const n = 8
			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := f.svc.Register(context.Background(), Registration{
						Username: "alice",
						Email:    "alice" + string(rune('a'+i)) + "@x.com",
						Password: "secret1",
					})
					errs <- err
				}(i)
			}
			wg.Wait()
			close(errs)

			ok := 0
			for err := range errs {
				switch {
				case err == nil:
					ok++
				case !errors.Is(err, ErrConflict):
					t.Errorf("unexpected error: %v", err)
				}
			}
			if ok != 1 {
				t.Errorf("%d registrations succeeded, want 1", ok)
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	for name, r := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(r, nil)
			register(t, f.svc, "alice", "alice@x.com", "secret1")

			u, err := f.svc.Authenticate(ctx, Credentials{Username: "alice", Password: "secret1"})
			if err != nil {
				t.Fatalf("authenticate: %v", err)
			}
			if u.Username != "alice" {
				t.Errorf("user = %q, want alice", u.Username)
			}

			_, wrongPw := f.svc.Authenticate(ctx, Credentials{Username: "alice", Password: "wrong1"})
			_, noUser := f.svc.Authenticate(ctx, Credentials{Username: "bob", Password: "secret1"})
			if !errors.Is(wrongPw, ErrInvalidCredentials) || !errors.Is(noUser, ErrInvalidCredentials) {
				t.Fatalf("wrong password = %v, unknown user = %v; want ErrInvalidCredentials for both", wrongPw, noUser)
			}
			if wrongPw.Error() != noUser.Error() {
				t.Errorf("messages differ: %q vs %q", wrongPw, noUser)
			}
		})
	}
}

func TestAuthenticateRejectsBeforeLookup(t *testing.T) {
	f := newFixture(backends(t)["sql"], &fakeChallenge{ok: false})
	ctx := context.Background()

	_, err := f.svc.Authenticate(ctx, Credentials{Username: "alice", Password: "secret1"})
	if !errors.Is(err, ErrChallengeFailed) {
		t.Errorf("err = %v, want ErrChallengeFailed", err)
	}

	f = newFixture(backends(t)["sql"], nil)
	_, err = f.svc.Authenticate(ctx, Credentials{Username: "alice'--", Password: "secret1"})
	if got := validationMsg(err); got != admission.MsgUsernameCharset {
		t.Errorf("message = %q, want charset message", got)
	}
	_, err = f.svc.Authenticate(ctx, Credentials{Username: "alice"})
	if got := validationMsg(err); got != admission.MsgRequired {
		t.Errorf("message = %q, want required message", got)
	}
}

func TestRequestReset(t *testing.T) {
	for name, r := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(r, nil)
			register(t, f.svc, "alice", "alice@x.com", "secret1")

			res, err := f.svc.RequestReset(ctx, "alice@x.com")
			if err != nil {
				t.Fatalf("request reset: %v", err)
			}
			if res.DevLink != "" {
				t.Errorf("DevLink = %q with a configured mailer", res.DevLink)
			}
			if len(f.mailer.sent) != 1 {
				t.Fatalf("sent %d emails, want 1", len(f.mailer.sent))
			}
			sent := f.mailer.sent[0]
			if sent.to != "alice@x.com" || sent.ttl != time.Hour {
				t.Errorf("sent = %+v", sent)
			}
			const prefix = "https://ncats.test/reset_password/"
			if !strings.HasPrefix(sent.link, prefix) {
				t.Fatalf("link = %q, want prefix %q", sent.link, prefix)
			}

			token := strings.TrimPrefix(sent.link, prefix)
			uid, err := f.svc.CheckResetToken(ctx, token)
			if err != nil {
				t.Fatalf("check token: %v", err)
			}
			u, _ := f.svc.users.GetByUsername(ctx, "alice")
			if uid != u.ID {
				t.Errorf("token owner = %d, want %d", uid, u.ID)
			}
		})
	}
}

func TestRequestResetUnknownEmail(t *testing.T) {
	r := backends(t)["sql"]
	ctx := context.Background()

	f := newFixture(r, nil)
	res, err := f.svc.RequestReset(ctx, "nobody@x.com")
	if err != nil || res.DevLink != "" {
		t.Errorf("unknown email = %+v, %v; want uniform empty result", res, err)
	}
	if len(f.mailer.sent) != 0 {
		t.Errorf("sent %d emails for unknown address", len(f.mailer.sent))
	}

	f = newFixture(r, nil)
	f.svc.reveal = true
	if _, err := f.svc.RequestReset(ctx, "nobody@x.com"); !errors.Is(err, ErrUnknownEmail) {
		t.Errorf("reveal mode err = %v, want ErrUnknownEmail", err)
	}

	if _, err := f.svc.RequestReset(ctx, "nope"); validationMsg(err) != admission.MsgEmailInvalid {
		t.Errorf("malformed email err = %v", err)
	}
}

func TestRequestResetDevMode(t *testing.T) {
	f := newFixture(backends(t)["sql"], nil, func(c *Config) { c.DevMode = true })
	f.mailer.configured = false
	register(t, f.svc, "alice", "alice@x.com", "secret1")

	res, err := f.svc.RequestReset(context.Background(), "alice@x.com")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if !strings.HasPrefix(res.DevLink, "https://ncats.test/reset_password/") {
		t.Errorf("DevLink = %q", res.DevLink)
	}
	if len(f.mailer.sent) != 0 {
		t.Error("unconfigured mailer was used")
	}
}

func TestRequestResetWithoutMailerNeverExposesLink(t *testing.T) {
	f := newFixture(backends(t)["sql"], nil)
	f.mailer.configured = false
	register(t, f.svc, "alice", "alice@x.com", "secret1")
	ctx := context.Background()

	known, err := f.svc.RequestReset(ctx, "alice@x.com")
	if err != nil {
		t.Fatalf("known email: %v", err)
	}
	unknown, err := f.svc.RequestReset(ctx, "nobody@x.com")
	if err != nil {
		t.Fatalf("unknown email: %v", err)
	}
	if known != unknown {
		t.Errorf("known = %+v, unknown = %+v; want identical results", known, unknown)
	}
	if known.DevLink != "" {
		t.Errorf("DevLink = %q without dev mode", known.DevLink)
	}
	if len(f.mailer.sent) != 0 {
		t.Error("unconfigured mailer was used")
	}
}

func TestRequestResetMailFailureIsUniform(t *testing.T) {
	f := newFixture(backends(t)["sql"], nil)
	f.mailer.err = errors.New("postmark down")
	register(t, f.svc, "alice", "alice@x.com", "secret1")

	res, err := f.svc.RequestReset(context.Background(), "alice@x.com")
	if err != nil || res.DevLink != "" {
		t.Errorf("mail failure = %+v, %v; want uniform empty result", res, err)
	}
}

func issueToken(t *testing.T, f fixture) string {
	t.Helper()
	if _, err := f.svc.RequestReset(context.Background(), "alice@x.com"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	link := f.mailer.sent[len(f.mailer.sent)-1].link
	return link[strings.LastIndex(link, "/")+1:]
}

func TestResetPassword(t *testing.T) {
	for name, r := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(r, nil)
			register(t, f.svc, "alice", "alice@x.com", "secret1")
			token := issueToken(t, f)

			if err := f.svc.ResetPassword(ctx, token, "newsecret", "newsecret"); err != nil {
				t.Fatalf("reset password: %v", err)
			}

			if _, err := f.svc.Authenticate(ctx, Credentials{Username: "alice", Password: "secret1"}); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("old password err = %v, want ErrInvalidCredentials", err)
			}
			u, err := f.svc.Authenticate(ctx, Credentials{Username: "alice", Password: "newsecret"})
			if err != nil {
				t.Fatalf("new password: %v", err)
			}
			if len(f.revoker.revoked) != 1 || f.revoker.revoked[0] != u.ID {
				t.Errorf("revoked = %v, want [%d]", f.revoker.revoked, u.ID)
			}

			if err := f.svc.ResetPassword(ctx, token, "another1", "another1"); !errors.Is(err, reset.ErrNotFound) {
				t.Errorf("replay err = %v, want reset.ErrNotFound", err)
			}
		})
	}
}

func TestResetPasswordValidation(t *testing.T) {
	f := newFixture(backends(t)["sql"], nil)
	ctx := context.Background()
	register(t, f.svc, "alice", "alice@x.com", "secret1")
	token := issueToken(t, f)

	if err := f.svc.ResetPassword(ctx, token, "abc", "abc"); validationMsg(err) != admission.MsgPasswordLength {
		t.Errorf("short password err = %v", err)
	}
	if err := f.svc.ResetPassword(ctx, token, "newsecret", "newsecreT"); validationMsg(err) != admission.MsgPasswordMismatch {
		t.Errorf("mismatch err = %v", err)
	}

	// A rejected submission leaves the token usable.
	if _, err := f.svc.CheckResetToken(ctx, token); err != nil {
		t.Errorf("token after rejected submission: %v", err)
	}
	if err := f.svc.ResetPassword(ctx, "bogus", "newsecret", "newsecret"); !errors.Is(err, reset.ErrNotFound) {
		t.Errorf("bogus token err = %v, want reset.ErrNotFound", err)
	}
}

func TestResetPasswordExpired(t *testing.T) {
	r := backends(t)["sql"]
	f := newFixture(r, nil)
	now := time.Now()
	f.svc.resets.WithClock(func() time.Time { return now })
	ctx := context.Background()
	register(t, f.svc, "alice", "alice@x.com", "secret1")
	token := issueToken(t, f)

	now = now.Add(time.Hour)
	if err := f.svc.ResetPassword(ctx, token, "newsecret", "newsecret"); !errors.Is(err, reset.ErrExpired) {
		t.Errorf("err = %v, want reset.ErrExpired", err)
	}
	if _, err := f.svc.Authenticate(ctx, Credentials{Username: "alice", Password: "secret1"}); err != nil {
		t.Errorf("old password no longer works: %v", err)
	}
}
