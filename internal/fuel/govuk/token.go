// Package govuk provides clients for the GOV UK Fuel Finder API:
// OAuth2 client-credentials token acquisition and paginated retrieval
// of station price data.
package govuk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const (
	// DefaultScope is the OAuth2 scope for the Fuel Finder API.
	DefaultScope = "fuelfinder.read"

	// tokenSafetyMargin is how much remaining validity a cached token
	// must have before it is considered usable for a full run.
	tokenSafetyMargin = 2 * time.Minute

	// defaultTokenLifetime is assumed when the token response carries
	// neither expires_in nor a parseable exp claim.
	defaultTokenLifetime = 30 * time.Minute
)

// AuthError represents a rejected credential exchange (invalid or
// revoked client). It is fatal for the run and never retried.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected with status %d: %s", e.StatusCode, e.Body)
}

// AccessToken is a bearer token with its expiry and issued scope.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
	Scope     string
}

// Usable reports whether the token has at least margin of validity left.
func (t *AccessToken) Usable(margin time.Duration) bool {
	return t.Value != "" && time.Until(t.ExpiresAt) > margin
}

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenManagerConfig holds configuration for the token manager.
type TokenManagerConfig struct {
	// ClientID and ClientSecret are the OAuth2 client credentials (required).
	ClientID     string
	ClientSecret string

	// TokenURL is the upstream token endpoint (required).
	TokenURL string

	// Scope requested on the token (defaults to DefaultScope).
	Scope string

	// HTTPClient executes the token request (defaults to a 30s-timeout client).
	HTTPClient HTTPDoer

	// MaxRetries bounds retries of transient token endpoint failures.
	// Default: 3
	MaxRetries uint64

	// InitialInterval is the initial retry backoff interval.
	// Default: 500ms
	InitialInterval time.Duration

	// Logger for token operations.
	Logger zerolog.Logger
}

// TokenManager acquires and caches an access token via the OAuth2
// client-credentials grant. The cache lives for the process lifetime;
// the pipeline is single-shot so nothing is persisted across runs.
type TokenManager struct {
	config TokenManagerConfig

	mu    sync.Mutex
	token *AccessToken
}

// NewTokenManager creates a token manager.
func NewTokenManager(cfg TokenManagerConfig) *TokenManager {
	if cfg.Scope == "" {
		cfg.Scope = DefaultScope
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}

	return &TokenManager{config: cfg}
}

// Token returns a bearer token with enough remaining validity for a
// full pipeline run, exchanging credentials when the cache is empty,
// expired or within the safety margin of expiry.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != nil && m.token.Usable(tokenSafetyMargin) {
		return m.token.Value, nil
	}

	token, err := m.exchange(ctx)
	if err != nil {
		return "", err
	}

	m.token = token
	m.config.Logger.Info().
		Time("expires_at", token.ExpiresAt).
		Str("scope", token.Scope).
		Msg("access token acquired")

	return token.Value, nil
}

// Invalidate discards the cached token so the next Token call performs
// a fresh exchange. Used when the upstream rejects a token mid-run.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = nil
}

// exchange performs the client-credentials grant. Endpoint rejections
// (4xx) are permanent; network errors and 5xx are retried with bounded
// exponential backoff before escalating.
func (m *TokenManager) exchange(ctx context.Context) (*AccessToken, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.config.InitialInterval
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, m.config.MaxRetries), ctx)

	return backoff.RetryWithData(func() (*AccessToken, error) {
		token, err := m.requestToken(ctx)
		if err != nil {
			var authErr *AuthError
			if errors.As(err, &authErr) {
				return nil, backoff.Permanent(err)
			}
			m.config.Logger.Warn().Err(err).Msg("transient token endpoint failure, retrying")
			return nil, err
		}
		return token, nil
	}, policy)
}

func (m *TokenManager) requestToken(ctx context.Context) (*AccessToken, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {m.config.ClientID},
		"client_secret": {m.config.ClientSecret},
		"scope":         {m.config.Scope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return parseTokenResponse(body, m.config.Scope)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &AuthError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	default:
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}
}

// tokenResponse covers both the standard OAuth2 shape and the
// upstream's wrapped variant {"success": true, "data": {...}}.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`

	Success bool           `json:"success"`
	Data    *tokenResponse `json:"data"`
}

func parseTokenResponse(body []byte, requestedScope string) (*AccessToken, error) {
	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}

	payload := &parsed
	if parsed.Data != nil && parsed.Data.AccessToken != "" {
		payload = parsed.Data
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("no access token in response")
	}

	scope := payload.Scope
	if scope == "" {
		scope = requestedScope
	}

	return &AccessToken{
		Value:     payload.AccessToken,
		ExpiresAt: tokenExpiry(payload),
		Scope:     scope,
	}, nil
}

// tokenExpiry determines the absolute expiry: expires_in when present,
// else the JWT exp claim, else a conservative default.
func tokenExpiry(payload *tokenResponse) time.Time {
	if payload.ExpiresIn > 0 {
		return time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}

	// The upstream issues JWT bearer tokens; exp is read without
	// signature verification since we only schedule our own refresh.
	token, _, err := jwt.NewParser().ParseUnverified(payload.AccessToken, jwt.MapClaims{})
	if err == nil {
		if exp, expErr := token.Claims.GetExpirationTime(); expErr == nil && exp != nil {
			return exp.Time
		}
	}

	return time.Now().Add(defaultTokenLifetime)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
