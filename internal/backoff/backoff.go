// Package backoff provides capped exponential backoff used by the consumer
// idle loop and by registry connection retries.
package backoff

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/juju/clock"
)

// Config contains configuration for exponential backoff.
type Config struct {
	MaxRetries int           // Maximum number of attempts for Retry (0 = unlimited)
	Initial    time.Duration // First delay (default: 10ms)
	Max        time.Duration // Delay cap (default: 500ms)
}

// DefaultConfig returns the backoff used while a consumer waits for frames.
func DefaultConfig() Config {
	return Config{
		Initial: 10 * time.Millisecond,
		Max:     500 * time.Millisecond,
	}
}

// Delay returns the delay for a given attempt (1-based).
//
// Formula: delay = Initial * 2^(attempt-1), capped at Max.
//
// Example with default config (Initial=10ms, Max=500ms):
//   - Attempt 1: 10ms
//   - Attempt 2: 20ms
//   - Attempt 6: 320ms
//   - Attempt 7+: 500ms
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Shifts past 30 overflow long before they matter; Max caps them anyway.
	if attempt > 31 {
		return c.Max
	}

	delay := c.Initial * time.Duration(1<<uint(attempt-1))
	if delay > c.Max || delay <= 0 {
		delay = c.Max
	}
	return delay
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Initial <= 0 {
		return fmt.Errorf("backoff: initial delay must be > 0, got %v", c.Initial)
	}
	if c.Max < c.Initial {
		return fmt.Errorf("backoff: max delay %v below initial %v", c.Max, c.Initial)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("backoff: max retries must be >= 0, got %d", c.MaxRetries)
	}
	return nil
}

// Backoff tracks consecutive failures and computes the next delay.
//
// Thread-safety: NOT safe for concurrent use; owned by a single loop.
type Backoff struct {
	cfg      Config
	attempts int
}

// New creates a Backoff. Zero fields fall back to DefaultConfig.
func New(cfg Config) *Backoff {
	def := DefaultConfig()
	if cfg.Initial <= 0 {
		cfg.Initial = def.Initial
	}
	if cfg.Max <= 0 {
		cfg.Max = def.Max
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	return &Backoff{cfg: cfg}
}

// Next records a failure and returns how long to wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	b.attempts++
	return b.cfg.Delay(b.attempts)
}

// Reset clears the failure count after a success.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Attempts returns the number of consecutive failures recorded.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Sleep waits for d on clk, or until done is closed.
//
// Returns false if done fired first.
func Sleep(clk clock.Clock, d time.Duration, done <-chan struct{}) bool {
	select {
	case <-clk.After(d):
		return true
	case <-done:
		return false
	}
}

// AttemptFunc performs one attempt. A nil error ends Retry.
type AttemptFunc func(ctx context.Context) error

// Retry runs fn until it succeeds, MaxRetries is exceeded, or ctx is done.
//
// Each failure waits Delay(attempt) on clk before the next attempt.
// name prefixes the log lines ("registry: connect", ...).
func Retry(ctx context.Context, clk clock.Clock, cfg Config, name string, fn AttemptFunc) error {
	b := New(cfg)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if b.Attempts() > 0 {
				slog.Info(name+" succeeded after retries", "attempts", b.Attempts()+1)
			}
			return nil
		}

		delay := b.Next()
		if cfg.MaxRetries > 0 && b.Attempts() > cfg.MaxRetries {
			return fmt.Errorf("%s: max retries exceeded (%d attempts): %w", name, cfg.MaxRetries, err)
		}

		slog.Warn(name+" failed, retrying",
			"error", err,
			"attempt", b.Attempts(),
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)

		if !Sleep(clk, delay, ctx.Done()) {
			return ctx.Err()
		}
	}
}
