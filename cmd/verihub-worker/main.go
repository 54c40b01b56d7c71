// verihub-worker consumes company verification jobs from a Redis queue,
// runs each through the pipeline Orchestrator, and serves health and
// Prometheus metrics endpoints.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/verihub/pkg/config"
	"github.com/codeready-toolchain/verihub/pkg/integrations"
	"github.com/codeready-toolchain/verihub/pkg/llmadjuster"
	"github.com/codeready-toolchain/verihub/pkg/metrics"
	"github.com/codeready-toolchain/verihub/pkg/models"
	"github.com/codeready-toolchain/verihub/pkg/pipeline"
	"github.com/codeready-toolchain/verihub/pkg/queue"
	"github.com/codeready-toolchain/verihub/pkg/ratelimit"
	"github.com/codeready-toolchain/verihub/pkg/signals"
	"github.com/codeready-toolchain/verihub/pkg/store"
	"github.com/codeready-toolchain/verihub/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to directory containing a .env file")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v", envPath, err)
		log.Printf("continuing with existing environment variables...")
	} else {
		log.Printf("loaded environment from %s", envPath)
	}

	logger := slog.Default()
	logger.Info("starting", "version", version.Full())
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	s, err := store.New(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("failed to connect to store: %v", err)
	}
	defer s.Close()
	logger.Info("connected to store")

	source, err := queue.NewRedisSource(cfg.Queue.RedisURL, cfg.Queue.StreamKey, cfg.Queue.ProcessingKey)
	if err != nil {
		log.Fatalf("failed to connect to queue: %v", err)
	}
	defer source.Close()
	logger.Info("connected to queue", "redis_url", cfg.Queue.RedisURL)

	limiters := ratelimit.NewRegistry(cfg.RateLimit.Rates, cfg.RateLimit.Bursts)

	probers := map[models.StageTag]pipeline.Prober{
		models.StageWhois:   integrations.NewWhoisClient(),
		models.StageDNS:     integrations.NewDNSClient(),
		models.StageMX:      integrations.NewMXClient(),
		models.StageWebsite: integrations.NewWebsiteClient(),
		models.StagePhone:   integrations.NewPhoneClient(),
	}

	var llm pipeline.Adjuster
	if adj, ok := llmadjuster.New(cfg.LLM, logger); ok {
		llm = adj
		logger.Info("LLM adjustment enabled", "model", cfg.LLM.Model)
	} else {
		logger.Info("LLM adjustment disabled: no credential configured")
	}

	recorder := metrics.New()

	orchestrator := pipeline.New(pipeline.Config{
		Store:            s,
		Probers:          probers,
		Limiters:         limiters,
		LLM:              llm,
		Weights:          signals.DefaultWeights(),
		Timeouts:         cfg.Timeouts,
		AlgorithmVersion: cfg.AlgorithmVersion,
		Metrics:          recorder,
		Logger:           logger,
	})

	dispatcher := queue.NewDispatcher(queue.DispatcherConfig{
		Source:      source,
		Runner:      orchestrator,
		Metrics:     recorder,
		WorkerCount: cfg.Queue.WorkerCount,
		Worker: queue.WorkerConfig{
			PollTimeout:       cfg.Queue.PollTimeout,
			PollBackoff:       time.Second,
			PollBackoffJitter: 250 * time.Millisecond,
		},
		ReapEvery:  time.Minute,
		StaleAfter: 15 * time.Minute,
	})

	if err := dispatcher.Start(ctx); err != nil {
		log.Fatalf("failed to start dispatcher: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		h := dispatcher.Health()
		if !h.IsHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"active_workers":` + itoa(h.ActiveWorkers) + `,"total_workers":` + itoa(h.TotalWorkers) + `}`))
	})
	mux.Handle("/metrics", recorder.Handler())

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	dispatcher.Stop()
	logger.Info("worker stopped gracefully")
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
