package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/ncats/internal/auth"
	"github.com/dukerupert/ncats/internal/handler"
	"github.com/dukerupert/ncats/internal/middleware"
	"github.com/dukerupert/ncats/internal/reset"
	"github.com/dukerupert/ncats/internal/session"
	"github.com/dukerupert/ncats/internal/upload"
)

// Budget is a fixed-window request allowance per client IP.
type Budget struct {
	Limit  int
	Window time.Duration
}

type Limits struct {
	Login Budget // login and register
	Apply Budget
	Reset Budget // reset request and reset confirm
}

func DefaultLimits() Limits {
	return Limits{
		Login: Budget{Limit: 10, Window: time.Minute},
		Apply: Budget{Limit: 5, Window: time.Hour},
		Reset: Budget{Limit: 10, Window: time.Hour},
	}
}

type Config struct {
	Auth         *auth.Service
	Sessions     *session.Manager
	Resets       *reset.Manager
	Applications handler.ApplicationRepository
	Storage      upload.Storage
	// Limiter defaults to an in-memory limiter.
	Limiter middleware.Limiter
	Limits  Limits
	// Proxies may report the client address in forwarding headers. Nil
	// keys every client by its socket address.
	Proxies *middleware.TrustedProxies
	// SiteKey is the public reCAPTCHA key rendered into forms.
	SiteKey string
}

type Server struct {
	authH    *handler.AuthHandler
	accountH *handler.AccountHandler
	sessions *session.Manager
	resets   *reset.Manager
	limiter  middleware.Limiter
	limits   Limits
	proxies  *middleware.TrustedProxies
	logger   *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Server {
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter()
	}
	limits := cfg.Limits
	if limits == (Limits{}) {
		limits = DefaultLimits()
	}

	pages := handler.NewRenderer(cfg.Sessions, cfg.SiteKey, logger.With("component", "template"))

	return &Server{
		authH:    handler.NewAuthHandler(cfg.Auth, cfg.Sessions, pages, logger.With("component", "auth")),
		accountH: handler.NewAccountHandler(cfg.Auth, cfg.Applications, cfg.Storage, pages, logger.With("component", "account")),
		sessions: cfg.Sessions,
		resets:   cfg.Resets,
		limiter:  limiter,
		limits:   limits,
		proxies:  cfg.Proxies,
		logger:   logger,
	}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.authH.Index)
	mux.HandleFunc("GET /health", s.healthHandler)

	mux.HandleFunc("GET /register", s.authH.RegisterPage)
	mux.Handle("POST /register", s.rateLimited("register", s.limits.Login, s.authH.Register))
	mux.HandleFunc("GET /login", s.authH.LoginPage)
	mux.Handle("POST /login", s.rateLimited("login", s.limits.Login, s.authH.Login))
	mux.HandleFunc("GET /logout", s.authH.LogoutPage)
	mux.HandleFunc("POST /logout", s.authH.Logout)

	mux.Handle("GET /reset_request", s.rateLimited("reset_request", s.limits.Reset, s.authH.ResetRequestPage))
	mux.Handle("POST /reset_request", s.rateLimited("reset_request", s.limits.Reset, s.authH.ResetRequest))
	mux.Handle("GET /reset_password/{token}", s.rateLimited("reset_password", s.limits.Reset, s.authH.ResetPasswordPage))
	mux.Handle("POST /reset_password/{token}", s.rateLimited("reset_password", s.limits.Reset, s.authH.ResetPassword))

	// Protected routes
	requireAuth := middleware.RequireAuth(s.sessions)
	mux.Handle("GET /dashboard", requireAuth(http.HandlerFunc(s.accountH.Dashboard)))
	mux.Handle("GET /profile", requireAuth(http.HandlerFunc(s.accountH.Profile)))
	mux.Handle("POST /apply", s.rateLimited("apply", s.limits.Apply, requireAuth(http.HandlerFunc(s.accountH.Apply)).ServeHTTP))

	protected := http.NewCrossOriginProtection().Handler(mux)
	logged := middleware.RequestLogger(s.logger.With("component", "http"))(protected)
	return middleware.ResolveClientIP(s.proxies)(logged)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimited(scope string, b Budget, h http.HandlerFunc) http.Handler {
	return middleware.RateLimit(s.limiter, middleware.ByIP(scope), b.Limit, b.Window)(h)
}

// Cleanup removes expired sessions, reset tokens and idle in-memory rate
// limit entries. main runs it on a ticker.
func (s *Server) Cleanup(ctx context.Context) {
	if n, err := s.sessions.Sweep(ctx); err != nil {
		s.logger.Error("cleanup expired sessions", "error", err)
	} else if n > 0 {
		s.logger.Info("cleaned up expired sessions", "count", n)
	}

	if n, err := s.resets.Sweep(ctx); err != nil {
		s.logger.Error("cleanup expired reset tokens", "error", err)
	} else if n > 0 {
		s.logger.Info("cleaned up expired reset tokens", "count", n)
	}

	if rl, ok := s.limiter.(*middleware.RateLimiter); ok {
		rl.Cleanup()
	}
}
