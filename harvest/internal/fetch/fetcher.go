// Package fetch implements the retrying HTTP download stage of the harvest
// pipeline.
//
// Every attempt carries its own timeout; transport errors and non-2xx
// statuses are retryable up to the policy's attempt budget. Change detection
// lives in the store layer, not here — the fetcher's contract is "the bytes,
// or why not".
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/civichub/reportwatch/websafe"
)

// Backoff yields the wait before the next attempt. attempt is 1-based and
// counts the attempt that just failed.
type Backoff func(attempt int) time.Duration

// Fixed waits the same delay between every attempt.
func Fixed(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// Exponential doubles the base delay after each failed attempt.
func Exponential(base time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return base * (1 << uint(attempt-1))
	}
}

// Policy bounds the retry loop. The zero value gets defaults applied.
type Policy struct {
	// MaxAttempts is the total attempt budget. Default: 3.
	MaxAttempts int
	// Backoff computes the wait between attempts. Default: Fixed(2s).
	Backoff Backoff
}

func (p *Policy) defaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Backoff == nil {
		p.Backoff = Fixed(2 * time.Second)
	}
}

// Config configures the fetcher.
type Config struct {
	// Timeout is the per-attempt deadline. Default: 10s.
	Timeout time.Duration
	// MaxBytes caps the response body. Exceeding it fails the attempt.
	// Default: websafe.MaxResponseBody.
	MaxBytes int64
	// UserAgent sent with requests.
	UserAgent string
	// URLValidator validates URLs before fetch and on every redirect hop
	// (SSRF prevention). Default: websafe.ValidateURL.
	URLValidator func(string) error
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = websafe.MaxResponseBody
	}
	if c.UserAgent == "" {
		c.UserAgent = "reportwatch/1.0"
	}
	if c.URLValidator == nil {
		c.URLValidator = websafe.ValidateURL
	}
}

// StatusError reports a non-2xx terminal status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d", e.Code)
}

// Fetcher performs HTTP GETs with retry.
type Fetcher struct {
	client *http.Client
	config Config
}

// New creates a Fetcher with SSRF protection on redirects.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	validate := cfg.URLValidator
	return &Fetcher{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		},
		config: cfg,
	}
}

// Fetch retrieves a URL under the given retry policy. It returns the body,
// the number of attempts consumed, and the last error when the budget is
// exhausted. Cancellation between attempts returns ctx.Err() without
// starting a new attempt.
func (f *Fetcher) Fetch(ctx context.Context, url string, policy Policy) ([]byte, int, error) {
	policy.defaults()

	// SSRF: a blocked URL is a contract violation of the locator set, not a
	// transient condition — no retry.
	if err := f.config.URLValidator(url); err != nil {
		return nil, 0, fmt.Errorf("fetch: URL blocked: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return nil, attempt - 1, lastErr
		}

		body, err := f.attempt(ctx, url)
		if err == nil {
			return body, attempt, nil
		}
		lastErr = err

		if attempt < policy.MaxAttempts {
			select {
			case <-ctx.Done():
				return nil, attempt, lastErr
			case <-time.After(policy.Backoff(attempt)):
			}
		}
	}
	return nil, policy.MaxAttempts, lastErr
}

func (f *Fetcher) attempt(ctx context.Context, url string) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := websafe.LimitedReadAll(resp.Body, f.config.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
