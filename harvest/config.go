package harvest

import (
	"time"

	fetchpkg "github.com/civichub/reportwatch/harvest/internal/fetch"
	"github.com/civichub/reportwatch/websafe"
)

// RetryPolicy bounds the fetch retry loop.
type RetryPolicy struct {
	// MaxAttempts is the total attempt budget per locator. Default: 3.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	// Delay is the wait between attempts. Default: 2s.
	Delay time.Duration `yaml:"delay" json:"delay"`
}

// Config configures the harvest Service.
type Config struct {
	// Concurrency caps simultaneous downloads. Zero means the default (5);
	// a negative value makes Run fail with ErrBadConcurrency.
	Concurrency int `yaml:"concurrency" json:"concurrency"`

	// Retry bounds per-locator fetch attempts.
	Retry RetryPolicy `yaml:"retry" json:"retry"`

	// Timeout is the per-attempt HTTP deadline. Default: 10s.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// MaxBytes caps a single response body. Default: 50MiB.
	MaxBytes int64 `yaml:"max_bytes" json:"max_bytes"`

	// UserAgent sent with every request.
	UserAgent string `yaml:"user_agent" json:"user_agent"`

	// DataDir is the root of the content tree ({data}/{category}/{name}).
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// HashDir is the root of the digest tree
	// ({hash}/{category}/{name}.hash).
	HashDir string `yaml:"hash_dir" json:"hash_dir"`

	// Categories is the ordered rule list; empty uses the built-in set.
	Categories []Rule `yaml:"categories" json:"categories"`

	// Fallback is the category for unmatched names. Default: other_reports.
	Fallback string `yaml:"fallback" json:"fallback"`

	// DigestParallelism caps concurrent hashing, independently of
	// Concurrency. Zero means runtime.GOMAXPROCS(0).
	DigestParallelism int `yaml:"digest_parallelism" json:"digest_parallelism"`
}

func (c *Config) defaults() {
	if c.Concurrency == 0 {
		c.Concurrency = 5
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.Delay <= 0 {
		c.Retry.Delay = 2 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = websafe.MaxResponseBody
	}
	if c.UserAgent == "" {
		c.UserAgent = "reportwatch/1.0"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.HashDir == "" {
		c.HashDir = "hashes"
	}
}

func (c *Config) fetchConfig() fetchpkg.Config {
	return fetchpkg.Config{
		Timeout:   c.Timeout,
		MaxBytes:  c.MaxBytes,
		UserAgent: c.UserAgent,
	}
}

func (c *Config) fetchPolicy() fetchpkg.Policy {
	return fetchpkg.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		Backoff:     fetchpkg.Fixed(c.Retry.Delay),
	}
}
