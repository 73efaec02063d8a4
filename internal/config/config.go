// Package config defines the single configuration object the core reads:
// database connection, queue connection, LLM credentials, the embedding
// dimension, and the operational profile (debounce/max-wait/workers/
// attempts/rate limit) for test vs. production modes. Wiring follows the
// teacher corpus's cobra+viper+godotenv idiom (cmd/divinesense/main.go).
package config

import "time"

// OperationalProfile bundles the scheduler's tunable constants. Production
// favors latency-hiding coalescing; Test trades that for fast, deterministic
// test runs.
type OperationalProfile struct {
	Debounce     time.Duration
	MaxWait      time.Duration
	Workers      int
	MaxAttempts  int
	RetryBase    time.Duration
	RateLimit    int
	RateWindow   time.Duration
	FailedJobTTL time.Duration
}

// Production returns the spec's suggested production constants: a 30s
// debounce window and a 5 minute ceiling.
func Production() OperationalProfile {
	return OperationalProfile{
		Debounce:     30 * time.Second,
		MaxWait:      5 * time.Minute,
		Workers:      5,
		MaxAttempts:  3,
		RetryBase:    2 * time.Second,
		RateLimit:    10,
		RateWindow:   time.Second,
		FailedJobTTL: 30 * time.Minute,
	}
}

// Test returns fast constants suitable for integration tests that need to
// observe the real state machine without waiting on production timers.
func Test() OperationalProfile {
	return OperationalProfile{
		Debounce:     150 * time.Millisecond,
		MaxWait:      500 * time.Millisecond,
		Workers:      2,
		MaxAttempts:  3,
		RetryBase:    20 * time.Millisecond,
		RateLimit:    50,
		RateWindow:   time.Second,
		FailedJobTTL: time.Second,
	}
}

// LLMConfig names the provider and model the gateway connects to. Mirrors
// internal/llm.Config's shape but lives here so it can be populated from
// viper alongside everything else.
type LLMConfig struct {
	Provider       string
	Model          string
	EmbeddingModel string
	BaseURL        string
	APIKey         string
	EmbeddingDims  int
	MaxTokens      int
	Temperature    float32
	TimeoutSeconds int
}

// Config is the one object the core reads.
type Config struct {
	Mode string // "prod", "dev", or "test"

	DatabaseDSN string

	// QueueDSN is neither populated nor used with the in-process queue
	// backend; it is the hook a Redis/SQS-backed QueueBackend would read.
	QueueDSN string

	LLM LLMConfig

	EmbeddingDimension int

	Profile OperationalProfile
}

// IsProd reports whether Mode requests production operational constants.
func (c Config) IsProd() bool { return c.Mode == "prod" }

// ResolveProfile picks Production or Test based on Mode unless Profile was
// already explicitly populated (non-zero Debounce).
func (c Config) ResolveProfile() OperationalProfile {
	if c.Profile.Debounce != 0 {
		return c.Profile
	}
	if c.IsProd() {
		return Production()
	}
	return Test()
}
