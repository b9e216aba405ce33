package govuk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/fuelfeed/fuelfeed/internal/fuel"
	"github.com/fuelfeed/fuelfeed/internal/provider/resilience"
)

const (
	// DefaultBaseURL is the base URL for the GOV UK Fuel Finder API.
	DefaultBaseURL = "https://www.fuel-finder.service.gov.uk"

	// pricesPath is the paginated station price listing endpoint.
	pricesPath = "/v1/prices"

	// DefaultRequestsPerMinute is the upstream's documented rate limit.
	DefaultRequestsPerMinute = 120

	// maxTokenRefreshes bounds consecutive re-authentication attempts
	// for a single page, so a token the upstream keeps rejecting cannot
	// loop forever.
	maxTokenRefreshes = 2
)

// ErrTokenExpired signals that the upstream rejected the access token
// mid-run. The caller re-acquires a token and resumes from the same page.
var ErrTokenExpired = errors.New("access token rejected by upstream")

// FetchError represents a page whose retries were exhausted. It aborts
// the run; a partial dataset is never published.
type FetchError struct {
	Page int
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch page %d: %v", e.Page, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// TokenSource supplies bearer tokens and accepts mid-run invalidation.
// *TokenManager satisfies it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// ClientConfig holds configuration for the Fuel Finder API client.
type ClientConfig struct {
	// BaseURL is the API base URL (defaults to DefaultBaseURL).
	BaseURL string

	// Tokens supplies bearer tokens (required).
	Tokens TokenSource

	// HTTPClient is the HTTP client to use. If nil, a default resilient
	// client is created.
	HTTPClient HTTPDoer

	// RequestsPerMinute paces requests to the upstream rate limit
	// (defaults to DefaultRequestsPerMinute).
	RequestsPerMinute int

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client fetches station price records from the Fuel Finder API,
// paging sequentially in upstream delivery order.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient HTTPDoer
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// NewClient creates a new Fuel Finder API client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.DefaultClientConfig("fuel-finder"))
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = DefaultRequestsPerMinute
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		tokens:     cfg.Tokens,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		logger:     cfg.Logger,
	}
}

// Upstream listing response types.

type pricesResponse struct {
	Pagination paginationInfo   `json:"pagination"`
	Stations   []fuel.RawRecord `json:"stations"`
}

type paginationInfo struct {
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	PerPage     int `json:"per_page"`
	TotalCount  int `json:"total_count"`
}

// FetchAllStations retrieves the full paginated result set as a single
// sequence of raw records in upstream delivery order. Pages are fetched
// strictly sequentially; a rejected token triggers re-authentication
// and resumption from the same page rather than a restart.
func (c *Client) FetchAllStations(ctx context.Context) ([]fuel.RawRecord, error) {
	var all []fuel.RawRecord
	page := 1
	refreshes := 0

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		records, lastPage, err := c.fetchPage(ctx, page)
		if errors.Is(err, ErrTokenExpired) {
			refreshes++
			if refreshes > maxTokenRefreshes {
				return nil, &FetchError{Page: page, Err: err}
			}
			c.tokens.Invalidate()
			c.logger.Warn().
				Int("page", page).
				Msg("access token rejected mid-run, re-authenticating and resuming")
			continue
		}
		if err != nil {
			return nil, &FetchError{Page: page, Err: err}
		}
		refreshes = 0

		all = append(all, records...)

		if page >= lastPage {
			break
		}
		page++
	}

	c.logger.Info().
		Int("pages", page).
		Int("raw_records", len(all)).
		Msg("fetched all station records")

	return all, nil
}

// fetchPage fetches a single page of the price listing.
func (c *Client) fetchPage(ctx context.Context, page int) ([]fuel.RawRecord, int, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, 0, err
	}

	url := fmt.Sprintf("%s%s?page=%d", c.baseURL, pricesPath, page)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch prices: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decode
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, 0, ErrTokenExpired
	default:
		return nil, 0, fmt.Errorf("unexpected status %d from prices endpoint", resp.StatusCode)
	}

	var result pricesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, 0, fmt.Errorf("decode prices response: %w", err)
	}

	lastPage := result.Pagination.LastPage
	if lastPage < 1 {
		// Upstream omitted pagination metadata; treat as a single page.
		lastPage = page
	}

	c.logger.Debug().
		Int("page", page).
		Int("last_page", lastPage).
		Int("records", len(result.Stations)).
		Msg("fetched price page")

	return result.Stations, lastPage, nil
}
