// Package config assembles the worker's entire environment-driven
// configuration surface (spec.md §6) into one struct, replacing the source
// system's YAML multi-registry config with the flat env-var style already
// established by pkg/store.Config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/codeready-toolchain/verihub/pkg/llmadjuster"
	"github.com/codeready-toolchain/verihub/pkg/pipeline"
	"github.com/codeready-toolchain/verihub/pkg/store"
)

// QueueConfig controls how the dispatcher polls and claims jobs from the
// Redis reliable queue (spec.md §4.9).
type QueueConfig struct {
	// RedisURL is a redis:// connection string, e.g. redis://localhost:6379/0.
	RedisURL string

	// StreamKey is the list/stream key jobs are pushed onto.
	StreamKey string

	// ProcessingKey is the BRPOPLPUSH backup list used to recover jobs from
	// workers that die mid-processing.
	ProcessingKey string

	// WorkerCount is the number of worker goroutines per replica.
	WorkerCount int

	// PollTimeout bounds each blocking pop call.
	PollTimeout time.Duration

	// MaxRetries is read from QUEUE_MAX_RETRIES and checked to be
	// non-negative. The dispatcher does not use it: a job that fails with a
	// non-fatal error is redelivered every time, with no cap.
	MaxRetries int
}

// RateLimitConfig holds the per-service-tag token bucket configuration fed
// into ratelimit.NewRegistry (spec.md §4.1).
type RateLimitConfig struct {
	Rates  map[string]float64
	Bursts map[string]int
}

// Config is the worker's full configuration, assembled from environment
// variables at startup by cmd/verihub-worker.
type Config struct {
	Store     store.Config
	Queue     QueueConfig
	RateLimit RateLimitConfig
	LLM       llmadjuster.Config
	Timeouts  pipeline.StageTimeouts

	// AlgorithmVersion is stamped onto every Analysis row (spec.md §4.6
	// step 11) and bumped whenever scoring weights or signal logic change.
	AlgorithmVersion string

	// HTTPAddr is where the health and metrics HTTP server listens.
	HTTPAddr string
}

// Load builds a Config from environment variables, applying the same
// production-ready defaults style as store.LoadConfigFromEnv, and validates
// the result.
func Load() (Config, error) {
	storeCfg, err := store.LoadConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	workerCount, err := strconv.Atoi(getEnvOrDefault("QUEUE_WORKER_COUNT", "5"))
	if err != nil {
		return Config{}, fmt.Errorf("config: invalid QUEUE_WORKER_COUNT: %w", err)
	}
	maxRetries, err := strconv.Atoi(getEnvOrDefault("QUEUE_MAX_RETRIES", "3"))
	if err != nil {
		return Config{}, fmt.Errorf("config: invalid QUEUE_MAX_RETRIES: %w", err)
	}
	pollTimeout, err := time.ParseDuration(getEnvOrDefault("QUEUE_POLL_TIMEOUT", "5s"))
	if err != nil {
		return Config{}, fmt.Errorf("config: invalid QUEUE_POLL_TIMEOUT: %w", err)
	}

	timeouts, err := loadStageTimeouts()
	if err != nil {
		return Config{}, err
	}

	rateLimit, err := loadRateLimits()
	if err != nil {
		return Config{}, err
	}

	llmMaxRetries, err := strconv.Atoi(getEnvOrDefault("LLM_MAX_RETRIES", "2"))
	if err != nil {
		return Config{}, fmt.Errorf("config: invalid LLM_MAX_RETRIES: %w", err)
	}
	llmRate, err := strconv.ParseFloat(getEnvOrDefault("LLM_RATE_LIMIT", "3"), 64)
	if err != nil {
		return Config{}, fmt.Errorf("config: invalid LLM_RATE_LIMIT: %w", err)
	}

	cfg := Config{
		Store: storeCfg,
		Queue: QueueConfig{
			RedisURL:      getEnvOrDefault("QUEUE_REDIS_URL", "redis://localhost:6379/0"),
			StreamKey:     getEnvOrDefault("QUEUE_STREAM_KEY", "verihub:jobs"),
			ProcessingKey: getEnvOrDefault("QUEUE_PROCESSING_KEY", "verihub:jobs:processing"),
			WorkerCount:   workerCount,
			PollTimeout:   pollTimeout,
			MaxRetries:    maxRetries,
		},
		RateLimit: rateLimit,
		LLM: llmadjuster.Config{
			APIKey:     os.Getenv("ANTHROPIC_API_KEY"),
			Model:      getEnvOrDefault("LLM_MODEL", ""),
			MaxRetries: llmMaxRetries,
			RateLimit:  llmRate,
		},
		Timeouts:         timeouts,
		AlgorithmVersion: getEnvOrDefault("ALGORITHM_VERSION", "v1"),
		HTTPAddr:         getEnvOrDefault("HTTP_ADDR", ":8080"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks for obvious misconfiguration beyond what the individual
// section loaders already catch.
func (c Config) Validate() error {
	if c.Queue.WorkerCount < 1 {
		return fmt.Errorf("config: QUEUE_WORKER_COUNT must be at least 1")
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("config: QUEUE_MAX_RETRIES cannot be negative")
	}
	if strings.TrimSpace(c.Queue.RedisURL) == "" {
		return fmt.Errorf("config: QUEUE_REDIS_URL is required")
	}
	for _, tag := range []string{"whois", "dns", "mx", "http", "llm"} {
		if _, ok := c.RateLimit.Rates[tag]; !ok {
			return fmt.Errorf("config: missing rate limit for service %q", tag)
		}
	}
	return nil
}

func loadStageTimeouts() (pipeline.StageTimeouts, error) {
	d := pipeline.DefaultStageTimeouts()

	fields := []struct {
		env string
		dst *time.Duration
	}{
		{"TIMEOUT_WHOIS", &d.Whois},
		{"TIMEOUT_DNS", &d.DNS},
		{"TIMEOUT_MX", &d.MX},
		{"TIMEOUT_WEBSITE", &d.Website},
		{"TIMEOUT_PHONE", &d.Phone},
		{"TIMEOUT_LLM", &d.LLM},
	}
	for _, f := range fields {
		raw := os.Getenv(f.env)
		if raw == "" {
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			return pipeline.StageTimeouts{}, fmt.Errorf("config: invalid %s: %w", f.env, err)
		}
		*f.dst = v
	}
	return d, nil
}

func loadRateLimits() (RateLimitConfig, error) {
	defaults := map[string]string{
		"whois": "RATE_LIMIT_WHOIS",
		"dns":   "RATE_LIMIT_DNS",
		"mx":    "RATE_LIMIT_MX",
		"http":  "RATE_LIMIT_HTTP",
		"llm":   "RATE_LIMIT_LLM",
	}
	defaultRates := map[string]string{
		"whois": "2",
		"dns":   "10",
		"mx":    "10",
		"http":  "5",
		"llm":   "3",
	}

	rc := RateLimitConfig{
		Rates:  make(map[string]float64, len(defaults)),
		Bursts: make(map[string]int, len(defaults)),
	}
	for tag, env := range defaults {
		raw := getEnvOrDefault(env, defaultRates[tag])
		rate, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return RateLimitConfig{}, fmt.Errorf("config: invalid %s: %w", env, err)
		}
		rc.Rates[tag] = rate

		burstEnv := env + "_BURST"
		if raw := os.Getenv(burstEnv); raw != "" {
			burst, err := strconv.Atoi(raw)
			if err != nil {
				return RateLimitConfig{}, fmt.Errorf("config: invalid %s: %w", burstEnv, err)
			}
			rc.Bursts[tag] = burst
		}
	}
	return rc, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
