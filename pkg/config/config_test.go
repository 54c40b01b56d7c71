package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DB_PASSWORD", "DB_HOST", "DB_PORT", "DB_USER", "DB_NAME", "DB_SSLMODE",
		"DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME",
		"QUEUE_REDIS_URL", "QUEUE_STREAM_KEY", "QUEUE_PROCESSING_KEY",
		"QUEUE_WORKER_COUNT", "QUEUE_MAX_RETRIES", "QUEUE_POLL_TIMEOUT",
		"RATE_LIMIT_WHOIS", "RATE_LIMIT_DNS", "RATE_LIMIT_MX", "RATE_LIMIT_HTTP", "RATE_LIMIT_LLM",
		"RATE_LIMIT_WHOIS_BURST",
		"TIMEOUT_WHOIS", "TIMEOUT_DNS", "TIMEOUT_MX", "TIMEOUT_WEBSITE", "TIMEOUT_PHONE", "TIMEOUT_LLM",
		"ANTHROPIC_API_KEY", "LLM_MODEL", "LLM_MAX_RETRIES", "LLM_RATE_LIMIT",
		"ALGORITHM_VERSION", "HTTP_ADDR",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_AppliesDefaultsWithOnlyPasswordSet(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "localhost", cfg.Store.Host)
	require.Equal(t, 5, cfg.Queue.WorkerCount)
	require.Equal(t, 3, cfg.Queue.MaxRetries)
	require.Equal(t, "redis://localhost:6379/0", cfg.Queue.RedisURL)
	require.Equal(t, 2.0, cfg.RateLimit.Rates["whois"])
	require.Equal(t, 3.0, cfg.RateLimit.Rates["llm"])
	require.Equal(t, "v1", cfg.AlgorithmVersion)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Empty(t, cfg.LLM.APIKey)
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("QUEUE_WORKER_COUNT", "10")
	t.Setenv("RATE_LIMIT_DNS", "25")
	t.Setenv("RATE_LIMIT_DNS_BURST", "50")
	t.Setenv("TIMEOUT_WHOIS", "8s")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("ALGORITHM_VERSION", "v2")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 10, cfg.Queue.WorkerCount)
	require.Equal(t, 25.0, cfg.RateLimit.Rates["dns"])
	require.Equal(t, 50, cfg.RateLimit.Bursts["dns"])
	require.Equal(t, 8_000_000_000.0, float64(cfg.Timeouts.Whois))
	require.Equal(t, "sk-test", cfg.LLM.APIKey)
	require.Equal(t, "v2", cfg.AlgorithmVersion)
}

func TestLoad_MissingPasswordFails(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_InvalidWorkerCountFails(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("QUEUE_WORKER_COUNT", "not-a-number")

	_, err := Load()
	require.Error(t, err)
}

func TestValidate_RejectsZeroWorkerCount(t *testing.T) {
	cfg := Config{
		Queue: QueueConfig{WorkerCount: 0, RedisURL: "redis://x"},
		RateLimit: RateLimitConfig{Rates: map[string]float64{
			"whois": 1, "dns": 1, "mx": 1, "http": 1, "llm": 1,
		}},
	}
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsMissingRateLimitTag(t *testing.T) {
	cfg := Config{
		Queue:     QueueConfig{WorkerCount: 1, RedisURL: "redis://x"},
		RateLimit: RateLimitConfig{Rates: map[string]float64{"whois": 1}},
	}
	require.Error(t, cfg.Validate())
}
