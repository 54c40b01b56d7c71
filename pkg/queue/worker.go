package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/codeready-toolchain/verihub/pkg/models"
	"github.com/codeready-toolchain/verihub/pkg/pipeline"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Runner is the subset of *pipeline.Orchestrator a Worker drives; a local
// interface so Worker is testable without real probes, a store, or a
// database.
type Runner interface {
	Run(ctx context.Context, job models.Job) error
}

// Metrics is the subset of pkg/metrics.Recorder the worker emits to
// independently of the orchestrator's own metrics (spec.md §6's
// WorkerExecutionDuration, which measures queue handoff overhead on top of
// orchestration time).
type Metrics interface {
	RecordWorkerExecutionDuration(d time.Duration)
}

// Worker is a single queue consumer that polls a Source and drives each
// delivered job through a Runner.
type Worker struct {
	id       string
	source   Source
	runner   Runner
	metrics  Metrics
	config   WorkerConfig
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.RWMutex
	status        WorkerStatus
	currentCompID string
	jobsProcessed int
	lastActivity  time.Time
}

// WorkerConfig tunes one worker's polling behavior.
type WorkerConfig struct {
	PollTimeout       time.Duration
	PollBackoff       time.Duration
	PollBackoffJitter time.Duration
}

// NewWorker creates a queue worker.
func NewWorker(id string, source Source, runner Runner, metrics Metrics, cfg WorkerConfig) *Worker {
	return &Worker{
		id:           id,
		source:       source,
		runner:       runner,
		metrics:      metrics,
		config:       cfg,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish. Safe to call
// multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:               w.id,
		Status:           string(w.status),
		CurrentCompanyID: w.currentCompID,
		JobsProcessed:    w.jobsProcessed,
		LastActivity:     w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoJobsAvailable) {
					continue
				}
				log.Error("error processing job", "error", err)
				w.sleep(w.backoff())
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess receives one job and drives it through the orchestrator.
// The queue-level retry decision (spec.md §7) hinges entirely on whether
// the error the Runner returns is pipeline.ErrFatal: fatal errors are
// acknowledged (the job is discarded, matching "company missing, do not
// redeliver"); any other error redelivers.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	msg, err := w.source.Receive(ctx, w.config.PollTimeout)
	if err != nil {
		return err
	}

	log := slog.With("worker_id", w.id, "company_id", msg.Job.CompanyID, "correlation_id", msg.Job.CorrelationID)
	log.Info("job claimed")

	w.setStatus(WorkerStatusWorking, msg.Job.CompanyID)
	defer w.setStatus(WorkerStatusIdle, "")

	start := time.Now()
	if w.metrics != nil {
		defer func() { w.metrics.RecordWorkerExecutionDuration(time.Since(start)) }()
	}
	runErr := w.runner.Run(ctx, msg.Job)

	switch {
	case runErr == nil:
		if err := w.source.Ack(ctx, msg); err != nil {
			return fmt.Errorf("ack: %w", err)
		}
	case errors.Is(runErr, pipeline.ErrFatal):
		log.Error("job failed fatally, discarding", "error", runErr)
		if err := w.source.Ack(ctx, msg); err != nil {
			return fmt.Errorf("ack fatal job: %w", err)
		}
	default:
		log.Error("job failed, redelivering", "error", runErr)
		if err := w.source.Redeliver(ctx, msg); err != nil {
			return fmt.Errorf("redeliver: %w", err)
		}
	}

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()

	log.Info("job processing complete")
	return nil
}

// backoff returns the error-path sleep duration with jitter.
func (w *Worker) backoff() time.Duration {
	base := w.config.PollBackoff
	if base <= 0 {
		base = time.Second
	}
	jitter := w.config.PollBackoffJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) setStatus(status WorkerStatus, companyID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentCompID = companyID
	w.lastActivity = time.Now()
}
