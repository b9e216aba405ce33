// Package resilience provides a retrying HTTP client for upstream API
// calls, combining circuit breaking, exponential backoff and
// rate-limit (Retry-After) handling.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ClientConfig holds configuration for the resilient HTTP client.
type ClientConfig struct {
	// Name identifies this client for circuit breaker naming.
	Name string

	// Timeout is the request timeout for individual HTTP calls.
	// Default: 30 seconds
	Timeout time.Duration

	// MaxRetries is the maximum number of retry attempts per request.
	// Default: 3
	MaxRetries uint64

	// InitialInterval is the initial retry backoff interval.
	// Default: 200ms
	InitialInterval time.Duration

	// MaxInterval is the maximum retry backoff interval.
	// Default: 5 seconds
	MaxInterval time.Duration

	// MaxRetryAfter caps how long a Retry-After header can make us wait
	// before retrying a rate-limited request.
	// Default: 30 seconds
	MaxRetryAfter time.Duration
}

// DefaultClientConfig returns sensible defaults for the resilient client.
func DefaultClientConfig(name string) ClientConfig {
	return ClientConfig{
		Name:            name,
		Timeout:         30 * time.Second,
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxRetryAfter:   30 * time.Second,
	}
}

// Client is a resilient HTTP client. Transient failures (network
// errors, 5xx) and rate-limit rejections (429) are retried with
// exponential backoff; repeated failures trip a circuit breaker.
// All other statuses, including auth failures, are returned unchanged
// so callers can react to them.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	config     ClientConfig
}

// NewClient creates a new resilient HTTP client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	if cfg.MaxRetryAfter == 0 {
		cfg.MaxRetryAfter = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{ //nolint:bodyclose // type param, not response
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
	})

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		breaker: breaker,
		config:  cfg,
	}
}

// Do executes an HTTP request with circuit breaker protection and
// retry logic. On 429 the Retry-After header is honored before the
// same request is retried.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoWithContext(req.Context(), req)
}

// DoWithContext executes an HTTP request with the given context.
func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.InitialInterval
	bo.MaxInterval = c.config.MaxInterval
	bo.MaxElapsedTime = 0 // retries bounded by WithMaxRetries, not wall clock

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.config.MaxRetries), ctx)

	var lastResp *http.Response

	storeResp := func(resp *http.Response) {
		if lastResp != nil && lastResp != resp {
			drainAndClose(lastResp)
		}
		lastResp = resp
	}

	operation := func() error {
		// 5xx is surfaced as an error inside Execute so it counts as a
		// breaker failure; 429 is classified outside so rate limiting
		// never trips the circuit.
		resp, err := c.breaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // caller is responsible for closing
			r, doErr := c.httpClient.Do(req.Clone(ctx))
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode >= 500 {
				return r, &ServerError{StatusCode: r.StatusCode}
			}
			return r, nil
		})

		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(ErrCircuitOpen)
			}
			if resp != nil {
				storeResp(resp)
			}
			return err
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			delay := retryAfter(resp, c.config.MaxRetryAfter)
			drainAndClose(resp)

			select {
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			case <-time.After(delay):
			}
			return &RateLimitError{Delay: delay}
		}

		storeResp(resp)
		return nil
	}

	err := backoff.Retry(operation, policy)
	if err != nil {
		// A 5xx that exhausted retries still carries the final response.
		if lastResp != nil {
			return lastResp, nil
		}
		return nil, err
	}

	return lastResp, nil
}

// CircuitBreakerState returns the current state of the circuit breaker.
func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.breaker.State()
}

// retryAfter parses a Retry-After header as delay seconds or an HTTP
// date, clamped to [1s, max].
func retryAfter(resp *http.Response, max time.Duration) time.Duration {
	delay := time.Second

	header := resp.Header.Get("Retry-After")
	if seconds, err := strconv.Atoi(header); err == nil {
		delay = time.Duration(seconds) * time.Second
	} else if at, err := http.ParseTime(header); err == nil {
		delay = time.Until(at)
	}

	if delay < time.Second {
		delay = time.Second
	}
	if delay > max {
		delay = max
	}
	return delay
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// ServerError represents an HTTP 5xx server error.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "server error: " + http.StatusText(e.StatusCode)
}

// RateLimitError represents an HTTP 429 rate-limit rejection.
type RateLimitError struct {
	// Delay is how long the client waited before allowing a retry.
	Delay time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, waited %s before retry", e.Delay)
}
