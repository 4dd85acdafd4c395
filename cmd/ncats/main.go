package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/ncats/internal/admission"
	"github.com/dukerupert/ncats/internal/auth"
	"github.com/dukerupert/ncats/internal/config"
	"github.com/dukerupert/ncats/internal/database"
	"github.com/dukerupert/ncats/internal/email"
	"github.com/dukerupert/ncats/internal/filestore"
	"github.com/dukerupert/ncats/internal/handler"
	"github.com/dukerupert/ncats/internal/logging"
	"github.com/dukerupert/ncats/internal/middleware"
	"github.com/dukerupert/ncats/internal/password"
	"github.com/dukerupert/ncats/internal/reset"
	"github.com/dukerupert/ncats/internal/server"
	"github.com/dukerupert/ncats/internal/session"
	"github.com/dukerupert/ncats/internal/store"
	"github.com/dukerupert/ncats/internal/upload"
)

func main() {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	repos, err := openRepositories(cfg.Storage)
	if err != nil {
		slog.Error("failed to open storage", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer repos.close()

	var redisClient *redis.Client
	if cfg.RateLimit.Backend == "redis" {
		redisClient, err = openRedis(cfg.RateLimit)
		if err != nil {
			slog.Error("failed to connect to redis", "addr", cfg.RateLimit.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	var backend session.Backend
	switch cfg.Session.Backend {
	case "signed":
		// Redis is shared by every instance; otherwise the SQL database
		// holds revocations. Config validation rules out the file driver
		// without Redis.
		var revocations session.Revocations = repos.revocations
		if redisClient != nil {
			revocations = session.NewRedisRevocations(redisClient, "")
		}
		backend, err = session.NewSignedBackend([]byte(cfg.Session.Secret), revocations)
		if err != nil {
			slog.Error("failed to create signed sessions", "error", err)
			os.Exit(1)
		}
	default:
		backend = session.NewStoreBackend(repos.sessions)
	}
	sessions := session.NewManager(backend, session.Options{
		CookieName: cfg.Session.CookieName,
		Lifetime:   cfg.Session.Lifetime,
		Secure:     cfg.Session.Secure,
	}, logger.With("component", "session"))

	var limiter middleware.Limiter = middleware.NewRateLimiter()
	if redisClient != nil {
		limiter = middleware.NewRedisRateLimiter(redisClient, cfg.RateLimit.Prefix)
	}
	proxies, err := middleware.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		slog.Error("invalid trusted proxies", "error", err)
		os.Exit(1)
	}

	verifier, err := admission.NewVerifier(cfg.Recaptcha.Secret, cfg.Recaptcha.Bypass, cfg.Recaptcha.Timeout, logger.With("component", "recaptcha"))
	if err != nil {
		slog.Error("failed to create recaptcha verifier", "error", err)
		os.Exit(1)
	}
	if verifier.Bypassed() {
		slog.Warn("recaptcha verification bypassed")
	}

	emailClient := email.NewClient(cfg.Email.PostmarkToken, cfg.Email.From)
	if !emailClient.Configured() {
		slog.Warn("email dev mode: reset links are logged and shown to the requester")
	}

	storage, err := newUploadStorage(cfg.Upload)
	if err != nil {
		slog.Error("failed to create upload storage", "error", err)
		os.Exit(1)
	}

	resets := reset.NewManager(repos.resets, cfg.Reset.TTL)
	authSvc := auth.NewService(auth.Config{
		Users:              repos.users,
		Hasher:             password.NewHasher(cfg.BcryptCost),
		Resets:             resets,
		Sessions:           sessions,
		Mailer:             emailClient,
		Challenge:          verifier,
		BaseURL:            cfg.BaseURL,
		RevealUnknownEmail: cfg.Reset.RevealUnknownEmail,
		DevMode:            cfg.Email.DevMode,
		Logger:             logger.With("component", "auth"),
	})

	srv := server.New(server.Config{
		Auth:         authSvc,
		Sessions:     sessions,
		Resets:       resets,
		Applications: repos.applications,
		Storage:      storage,
		Limiter:      limiter,
		Proxies:      proxies,
		SiteKey:      cfg.Recaptcha.SiteKey,
	}, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.Cleanup(cleanupCtx)
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("ncats starting", "addr", httpServer.Addr, "base_url", cfg.BaseURL, "storage", cfg.Storage.Driver, "sessions", cfg.Session.Backend)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

type repositories struct {
	users        auth.UserRepository
	resets       reset.Repository
	sessions     session.Repository
	applications handler.ApplicationRepository
	// revocations is nil for the file driver.
	revocations  session.Revocations
	close        func() error
}

func openRepositories(cfg config.StorageConfig) (*repositories, error) {
	if cfg.Driver == "file" {
		fs, err := filestore.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return &repositories{
			users:        fs.Users(),
			resets:       fs.ResetTokens(),
			sessions:     fs.Sessions(),
			applications: fs.Applications(),
			close:        func() error { return nil },
		}, nil
	}

	var db *database.DB
	var err error
	if cfg.Driver == "postgres" {
		db, err = database.OpenPostgres(cfg.DSN)
	} else {
		db, err = database.Open(cfg.Path)
	}
	if err != nil {
		return nil, err
	}
	return &repositories{
		users:        store.NewUserStore(db),
		resets:       store.NewResetTokenStore(db),
		sessions:     store.NewSessionStore(db),
		applications: store.NewApplicationStore(db),
		revocations:  store.NewRevocationStore(db),
		close:        db.Close,
	}, nil
}

func openRedis(cfg config.RateLimitConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func newUploadStorage(cfg config.UploadConfig) (upload.Storage, error) {
	s3cfg := upload.S3Config{
		Endpoint:  cfg.S3.Endpoint,
		Bucket:    cfg.S3.Bucket,
		Region:    cfg.S3.Region,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		PublicURL: cfg.S3.PublicURL,
	}
	if s3cfg.Configured() {
		return upload.NewS3Storage(s3cfg), nil
	}
	return upload.NewLocalStorage(cfg.Dir)
}
