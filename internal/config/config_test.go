package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func env(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestLoadDefaultsNeedChallengeDecision(t *testing.T) {
	_, err := Load(env(nil))
	if !errors.Is(err, ErrConfigFailed) {
		t.Fatalf("err = %v, want ErrConfigFailed", err)
	}
	if !strings.Contains(err.Error(), "recaptcha.secret") {
		t.Errorf("err = %v, want mention of recaptcha.secret", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(env(map[string]string{"NCATS_RECAPTCHA_BYPASS": "true", "NCATS_EMAIL_DEV_MODE": "true"}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("port/base = %q %q", cfg.Port, cfg.BaseURL)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "ncats.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Session.Backend != "db" || cfg.Session.Lifetime != time.Hour {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Reset.TTL != time.Hour || cfg.Reset.RevealUnknownEmail {
		t.Errorf("reset = %+v", cfg.Reset)
	}
	if cfg.Recaptcha.Timeout != 5*time.Second {
		t.Errorf("recaptcha timeout = %v", cfg.Recaptcha.Timeout)
	}
	if len(cfg.RateLimit.TrustedProxies) != 0 {
		t.Errorf("trusted proxies = %v, want none by default", cfg.RateLimit.TrustedProxies)
	}
	if !cfg.Email.DevMode {
		t.Error("email dev mode not read from env")
	}
}

func TestLoadDefaultsNeedEmailDecision(t *testing.T) {
	_, err := Load(env(map[string]string{"NCATS_RECAPTCHA_BYPASS": "true"}))
	if err == nil || !strings.Contains(err.Error(), "email.dev_mode") {
		t.Errorf("err = %v, want mention of email.dev_mode", err)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ncats.yaml")
	yml := `
port: "9000"
base_url: https://ncats.example/
log:
  level: debug
  format: json
storage:
  driver: file
  path: /var/lib/ncats/data.json
session:
  backend: signed
  lifetime: 30m
  secret: 0123456789abcdef0123456789abcdef
reset:
  ttl: 2h
  reveal_unknown_email: true
rate_limit:
  backend: redis
  redis_addr: localhost:6379
  trusted_proxies: ["10.0.0.0/8"]
email:
  postmark_token: pm-token
  from: noreply@ncats.example
recaptcha:
  secret: s3cret
  timeout: 3s
upload:
  s3:
    bucket: resumes
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(env(map[string]string{
		"NCATS_CONFIG":          path,
		"NCATS_PORT":            "9100",
		"NCATS_SESSION_SECURE":  "true",
		"NCATS_RESET_TTL":       "45m",
		"NCATS_TRUSTED_PROXIES": "10.0.0.0/8,127.0.0.1",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Port != "9100" {
		t.Errorf("port = %q, env should win", cfg.Port)
	}
	if cfg.BaseURL != "https://ncats.example" {
		t.Errorf("base url = %q", cfg.BaseURL)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Storage.Driver != "file" || cfg.Storage.Path != "/var/lib/ncats/data.json" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Session.Backend != "signed" || cfg.Session.Lifetime != 30*time.Minute || !cfg.Session.Secure {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Reset.TTL != 45*time.Minute || !cfg.Reset.RevealUnknownEmail {
		t.Errorf("reset = %+v", cfg.Reset)
	}
	if cfg.RateLimit.Backend != "redis" || cfg.RateLimit.RedisAddr != "localhost:6379" {
		t.Errorf("rate limit = %+v", cfg.RateLimit)
	}
	if len(cfg.RateLimit.TrustedProxies) != 2 || cfg.RateLimit.TrustedProxies[1] != "127.0.0.1" {
		t.Errorf("trusted proxies = %v, env should win", cfg.RateLimit.TrustedProxies)
	}
	if cfg.Email.PostmarkToken != "pm-token" || cfg.Email.DevMode {
		t.Errorf("email = %+v", cfg.Email)
	}
	if cfg.Recaptcha.Timeout != 3*time.Second || cfg.Recaptcha.Secret != "s3cret" {
		t.Errorf("recaptcha = %+v", cfg.Recaptcha)
	}
	if cfg.Upload.S3.Bucket != "resumes" || cfg.Upload.S3.Region != "us-east-1" {
		t.Errorf("upload = %+v", cfg.Upload)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(env(map[string]string{"NCATS_CONFIG": filepath.Join(t.TempDir(), "missing.yaml")}))
	var cerr *Error
	if !errors.As(err, &cerr) || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want *Error wrapping not-exist", err)
	}
}

func TestLoadBadEnv(t *testing.T) {
	_, err := Load(env(map[string]string{
		"NCATS_RECAPTCHA_BYPASS": "maybe",
		"NCATS_SESSION_LIFETIME": "forever",
	}))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"NCATS_RECAPTCHA_BYPASS", "NCATS_SESSION_LIFETIME"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("err = %v, want mention of %s", err, key)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ok", func(c *Config) {}, ""},
		{"bad driver", func(c *Config) { c.Storage.Driver = "mysql" }, "storage.driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"weak signed secret", func(c *Config) { c.Session.Backend = "signed"; c.Session.Secret = "short" }, "session.secret"},
		{"bad session backend", func(c *Config) { c.Session.Backend = "redis" }, "session.backend"},
		{"zero lifetime", func(c *Config) { c.Session.Lifetime = 0 }, "session.lifetime"},
		{"redis without addr", func(c *Config) { c.RateLimit.Backend = "redis" }, "redis_addr"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"postmark without from", func(c *Config) { c.Email.PostmarkToken = "tok" }, "email.from"},
		{"no upload target", func(c *Config) { c.Upload.Dir = "" }, "upload.dir"},
		{"no challenge decision", func(c *Config) { c.Recaptcha.Bypass = false }, "recaptcha.secret"},
		{"no email decision", func(c *Config) { c.Email.DevMode = false }, "email.postmark_token"},
		{"postmark without dev mode", func(c *Config) {
			c.Email.DevMode = false
			c.Email.PostmarkToken = "tok"
			c.Email.From = "a@b.c"
		}, ""},
		{"trusted proxies", func(c *Config) { c.RateLimit.TrustedProxies = []string{"10.0.0.0/8", "::1"} }, ""},
		{"bad trusted proxy", func(c *Config) { c.RateLimit.TrustedProxies = []string{"proxy.local"} }, "trusted_proxies"},
		{"signed sessions on file store", func(c *Config) {
			c.Session.Backend = "signed"
			c.Session.Secret = strings.Repeat("k", 32)
			c.Storage.Driver = "file"
		}, "revocations"},
		{"signed sessions on file store with redis", func(c *Config) {
			c.Session.Backend = "signed"
			c.Session.Secret = strings.Repeat("k", 32)
			c.Storage.Driver = "file"
			c.RateLimit.Backend = "redis"
			c.RateLimit.RedisAddr = "localhost:6379"
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Recaptcha.Bypass = true
			cfg.Email.DevMode = true
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
