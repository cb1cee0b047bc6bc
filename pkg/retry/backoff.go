// Package retry provides backoff interval calculation for transient
// failures against remote services.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Strategy defines how the interval grows with attempts.
type Strategy int

const (
	// StrategyExponential grows the interval as base * 2^(attempt-1).
	StrategyExponential Strategy = iota

	// StrategyLinear grows the interval as base * attempt.
	StrategyLinear

	// StrategyConstant keeps the interval at base.
	StrategyConstant
)

// Config configures backoff behavior.
type Config struct {
	// Strategy is the growth strategy. Default is StrategyExponential.
	Strategy Strategy

	// BaseInterval is the first-attempt interval.
	BaseInterval time.Duration

	// MaxInterval caps the interval. Zero means uncapped.
	MaxInterval time.Duration

	// Jitter adds randomness to prevent thundering herd. Value between
	// 0.0 (no jitter) and 1.0 (full jitter).
	Jitter float64
}

// DefaultConfig returns a Config suited to registry fetches: half-second
// base, ten-second cap, 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		Strategy:     StrategyExponential,
		BaseInterval: 500 * time.Millisecond,
		MaxInterval:  10 * time.Second,
		Jitter:       0.1,
	}
}

// Interval returns the wait before the given attempt, starting at 1.
func (c *Config) Interval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var interval time.Duration
	switch c.Strategy {
	case StrategyLinear:
		interval = c.BaseInterval * time.Duration(attempt)
	case StrategyConstant:
		interval = c.BaseInterval
	default:
		multiplier := math.Pow(2, float64(attempt-1))
		interval = time.Duration(float64(c.BaseInterval) * multiplier)
	}

	if c.MaxInterval > 0 && interval > c.MaxInterval {
		interval = c.MaxInterval
	}
	if c.Jitter > 0 {
		interval = c.applyJitter(interval)
	}
	return interval
}

// applyJitter perturbs the interval into [1-jitter, 1+jitter] of itself.
func (c *Config) applyJitter(interval time.Duration) time.Duration {
	jitter := c.Jitter
	if jitter > 1 {
		jitter = 1
	}
	spread := float64(interval) * jitter
	offset := (rand.Float64()*2 - 1) * spread
	return time.Duration(float64(interval) + offset)
}

// Schedule returns the jitter-free intervals for the first maxAttempts
// attempts. Useful for logging the expected retry plan.
func (c *Config) Schedule(maxAttempts int) []time.Duration {
	if maxAttempts <= 0 {
		return nil
	}
	plain := *c
	plain.Jitter = 0
	schedule := make([]time.Duration, maxAttempts)
	for i := range schedule {
		schedule[i] = plain.Interval(i + 1)
	}
	return schedule
}
