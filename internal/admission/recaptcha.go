package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	siteVerifyURL         = "https://www.google.com/recaptcha/api/siteverify"
	DefaultVerifyTimeout  = 5 * time.Second
	ChallengeResponseForm = "g-recaptcha-response"
)

var ErrNoSecret = errors.New("recaptcha secret is required unless bypass is enabled")

// Verifier checks a reCAPTCHA response token with Google's siteverify API.
// Any transport error, timeout or unparseable reply counts as a failed
// challenge.
type Verifier struct {
	secret     string
	bypass     bool
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewVerifier returns a Verifier. bypass must be set explicitly to skip
// verification; an empty secret without it is a configuration error.
func NewVerifier(secret string, bypass bool, timeout time.Duration, logger *slog.Logger) (*Verifier, error) {
	if secret == "" && !bypass {
		return nil, ErrNoSecret
	}
	if timeout <= 0 {
		timeout = DefaultVerifyTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		secret:     secret,
		bypass:     bypass,
		endpoint:   siteVerifyURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// WithHTTPClient sets a custom HTTP client (for testing).
func (v *Verifier) WithHTTPClient(c *http.Client) *Verifier {
	v.httpClient = c
	return v
}

// Bypassed reports whether challenges are skipped.
func (v *Verifier) Bypassed() bool { return v.bypass }

type siteVerifyResponse struct {
	Success    bool     `json:"success"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify reports whether response is a valid solved challenge for remoteIP.
func (v *Verifier) Verify(ctx context.Context, response, remoteIP string) bool {
	if v.bypass {
		return true
	}
	if response == "" {
		return false
	}

	form := url.Values{
		"secret":   {v.secret},
		"response": {response},
	}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		v.logger.Error("recaptcha request", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		v.logger.Warn("recaptcha verify", "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		v.logger.Warn("recaptcha verify", "status", resp.StatusCode, "body", string(body))
		return false
	}

	var result siteVerifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&result); err != nil {
		v.logger.Warn("recaptcha verify", "error", fmt.Errorf("decode: %w", err))
		return false
	}
	if !result.Success {
		v.logger.Info("recaptcha rejected", "codes", result.ErrorCodes)
	}
	return result.Success
}
