// Package config loads ncats settings from defaults, an optional YAML file
// named by NCATS_CONFIG and NCATS_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfigFailed marks any problem reading or validating configuration.
var ErrConfigFailed = errors.New("config: failed to load")

// Error adds the offending source to a load failure.
type Error struct {
	Source string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrConfigFailed, e.Source, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrConfigFailed }

type Config struct {
	Port    string `yaml:"port"`
	BaseURL string `yaml:"base_url"`

	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Session   SessionConfig   `yaml:"session"`
	Reset     ResetConfig     `yaml:"reset"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Recaptcha RecaptchaConfig `yaml:"recaptcha"`
	Email     EmailConfig     `yaml:"email"`
	Upload    UploadConfig    `yaml:"upload"`

	BcryptCost int `yaml:"bcrypt_cost"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StorageConfig struct {
	// Driver is "sqlite", "postgres" or "file".
	Driver string `yaml:"driver"`
	// Path is the SQLite database or JSON snapshot file.
	Path string `yaml:"path"`
	DSN  string `yaml:"dsn"`
}

type SessionConfig struct {
	// Backend is "db" or "signed".
	Backend    string        `yaml:"backend"`
	CookieName string        `yaml:"cookie_name"`
	Lifetime   time.Duration `yaml:"lifetime"`
	Secret     string        `yaml:"secret"`
	Secure     bool          `yaml:"secure"`
}

type ResetConfig struct {
	TTL                time.Duration `yaml:"ttl"`
	RevealUnknownEmail bool          `yaml:"reveal_unknown_email"`
}

type RateLimitConfig struct {
	// Backend is "memory" or "redis".
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Prefix        string `yaml:"prefix"`
	// TrustedProxies lists the CIDRs or addresses of reverse proxies whose
	// CF-Connecting-IP and X-Forwarded-For headers are believed. Empty
	// means clients are keyed by socket address only.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type RecaptchaConfig struct {
	SiteKey string `yaml:"site_key"`
	Secret  string `yaml:"secret"`
	// Bypass skips challenge verification. Development only.
	Bypass  bool          `yaml:"bypass"`
	Timeout time.Duration `yaml:"timeout"`
}

type EmailConfig struct {
	PostmarkToken string `yaml:"postmark_token"`
	From          string `yaml:"from"`
	// DevMode shows reset links on the page instead of mailing them when
	// no Postmark token is set. Development only.
	DevMode bool `yaml:"dev_mode"`
}

type UploadConfig struct {
	Dir string   `yaml:"dir"`
	S3  S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PublicURL string `yaml:"public_url"`
}

func Default() *Config {
	return &Config{
		Port: "8080",
		Log:  LogConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "ncats.db",
		},
		Session: SessionConfig{
			Backend:    "db",
			CookieName: "ncats_session",
			Lifetime:   time.Hour,
		},
		Reset:     ResetConfig{TTL: time.Hour},
		RateLimit: RateLimitConfig{Backend: "memory", Prefix: "ncats:rl:"},
		Recaptcha: RecaptchaConfig{Timeout: 5 * time.Second},
		Upload:    UploadConfig{Dir: "uploads", S3: S3Config{Region: "us-east-1"}},
	}
}

// Load builds the configuration. getenv is os.Getenv outside tests.
func Load(getenv func(string) string) (*Config, error) {
	cfg := Default()

	if path := getenv("NCATS_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &Error{Source: path, Err: err}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &Error{Source: path, Err: err}
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, &Error{Source: "environment", Err: err}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, &Error{Source: "validate", Err: err}
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("NCATS_PORT", &c.Port)
	str("NCATS_BASE_URL", &c.BaseURL)
	str("NCATS_LOG_LEVEL", &c.Log.Level)
	str("NCATS_LOG_FORMAT", &c.Log.Format)

	str("NCATS_STORAGE_DRIVER", &c.Storage.Driver)
	str("NCATS_DB_PATH", &c.Storage.Path)
	str("NCATS_DATABASE_URL", &c.Storage.DSN)

	str("NCATS_SESSION_BACKEND", &c.Session.Backend)
	str("NCATS_SESSION_COOKIE", &c.Session.CookieName)
	duration("NCATS_SESSION_LIFETIME", &c.Session.Lifetime)
	str("NCATS_SESSION_SECRET", &c.Session.Secret)
	boolean("NCATS_SESSION_SECURE", &c.Session.Secure)

	duration("NCATS_RESET_TTL", &c.Reset.TTL)
	boolean("NCATS_RESET_REVEAL_UNKNOWN_EMAIL", &c.Reset.RevealUnknownEmail)

	str("NCATS_RATELIMIT_BACKEND", &c.RateLimit.Backend)
	str("NCATS_REDIS_ADDR", &c.RateLimit.RedisAddr)
	str("NCATS_REDIS_PASSWORD", &c.RateLimit.RedisPassword)
	integer("NCATS_REDIS_DB", &c.RateLimit.RedisDB)
	if v := getenv("NCATS_TRUSTED_PROXIES"); v != "" {
		c.RateLimit.TrustedProxies = strings.Split(v, ",")
	}

	str("NCATS_RECAPTCHA_SITE_KEY", &c.Recaptcha.SiteKey)
	str("NCATS_RECAPTCHA_SECRET", &c.Recaptcha.Secret)
	boolean("NCATS_RECAPTCHA_BYPASS", &c.Recaptcha.Bypass)
	duration("NCATS_RECAPTCHA_TIMEOUT", &c.Recaptcha.Timeout)

	str("NCATS_POSTMARK_TOKEN", &c.Email.PostmarkToken)
	str("NCATS_FROM_EMAIL", &c.Email.From)
	boolean("NCATS_EMAIL_DEV_MODE", &c.Email.DevMode)

	str("NCATS_UPLOAD_DIR", &c.Upload.Dir)
	str("NCATS_S3_ENDPOINT", &c.Upload.S3.Endpoint)
	str("NCATS_S3_BUCKET", &c.Upload.S3.Bucket)
	str("NCATS_S3_REGION", &c.Upload.S3.Region)
	str("NCATS_S3_ACCESS_KEY", &c.Upload.S3.AccessKey)
	str("NCATS_S3_SECRET_KEY", &c.Upload.S3.SecretKey)
	str("NCATS_S3_PUBLIC_URL", &c.Upload.S3.PublicURL)

	integer("NCATS_BCRYPT_COST", &c.BcryptCost)

	return errors.Join(errs...)
}

func validProxy(s string) bool {
	if strings.Contains(s, "/") {
		_, err := netip.ParsePrefix(s)
		return err == nil
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

var (
	logLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	logFormats = map[string]bool{"text": true, "json": true}
)

// minSecretLength matches the signed session backend's requirement.
const minSecretLength = 32

func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if !logLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Errorf("unsupported log.level %q", c.Log.Level))
	}
	if !logFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, fmt.Errorf("unsupported log.format %q", c.Log.Format))
	}

	switch c.Storage.Driver {
	case "sqlite", "file":
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for driver %q", c.Storage.Driver))
		}
	case "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for driver \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage.driver %q", c.Storage.Driver))
	}

	switch c.Session.Backend {
	case "db":
	case "signed":
		if len(c.Session.Secret) < minSecretLength {
			errs = append(errs, fmt.Errorf("session.secret must be at least %d bytes for the signed backend", minSecretLength))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported session.backend %q", c.Session.Backend))
	}
	if c.Session.Lifetime <= 0 {
		errs = append(errs, errors.New("session.lifetime must be positive"))
	}
	if c.Reset.TTL <= 0 {
		errs = append(errs, errors.New("reset.ttl must be positive"))
	}

	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.RateLimit.RedisAddr == "" {
			errs = append(errs, errors.New("rate_limit.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported rate_limit.backend %q", c.RateLimit.Backend))
	}
	for _, p := range c.RateLimit.TrustedProxies {
		if !validProxy(strings.TrimSpace(p)) {
			errs = append(errs, fmt.Errorf("rate_limit.trusted_proxies: %q is not an address or CIDR", p))
		}
	}
	// Signed-session revocations live in the SQL database or in Redis; the
	// file driver has neither.
	if c.Session.Backend == "signed" && c.Storage.Driver == "file" && c.RateLimit.Backend != "redis" {
		errs = append(errs, errors.New("session.backend \"signed\" with storage.driver \"file\" requires rate_limit.backend \"redis\" to hold revocations"))
	}

	if c.Recaptcha.Secret == "" && !c.Recaptcha.Bypass {
		errs = append(errs, errors.New("recaptcha.secret is required unless recaptcha.bypass is set"))
	}
	if c.Recaptcha.Timeout <= 0 {
		errs = append(errs, errors.New("recaptcha.timeout must be positive"))
	}

	if c.Email.PostmarkToken == "" && !c.Email.DevMode {
		errs = append(errs, errors.New("email.postmark_token is required unless email.dev_mode is set"))
	}
	if c.Email.PostmarkToken != "" && c.Email.From == "" {
		errs = append(errs, errors.New("email.from is required when email.postmark_token is set"))
	}
	if c.Upload.S3.Bucket == "" && c.Upload.Dir == "" {
		errs = append(errs, errors.New("upload.dir or upload.s3.bucket is required"))
	}

	return errors.Join(errs...)
}
