package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher manages a pool of queue workers plus the background reaper
// that recovers jobs left claimed by a worker that died mid-processing.
// Renamed from tarsy's WorkerPool: the session-cancellation registry that
// type carried has no analog here, since a job's only suspension points are
// inside integration clients and the Store (spec.md §5), not something an
// operator cancels mid-flight.
type Dispatcher struct {
	source      Source
	runner      Runner
	metrics     Metrics
	workerCfg   WorkerConfig
	workerCount int
	reapEvery   time.Duration
	staleAfter  time.Duration

	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	started bool

	reapMu       sync.Mutex
	lastReapScan time.Time
	jobsReaped   int
}

// DispatcherConfig collects a Dispatcher's dependencies.
type DispatcherConfig struct {
	Source      Source
	Runner      Runner
	Metrics     Metrics
	WorkerCount int
	Worker      WorkerConfig
	ReapEvery   time.Duration
	StaleAfter  time.Duration
}

// NewDispatcher builds a Dispatcher from cfg.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		source:      cfg.Source,
		runner:      cfg.Runner,
		metrics:     cfg.Metrics,
		workerCfg:   cfg.Worker,
		workerCount: cfg.WorkerCount,
		reapEvery:   cfg.ReapEvery,
		staleAfter:  cfg.StaleAfter,
		workers:     make([]*Worker, 0, cfg.WorkerCount),
		stopCh:      make(chan struct{}),
	}
}

// Start spawns worker goroutines and the background reaper. Safe to call
// once; subsequent calls are no-ops.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.started {
		slog.Warn("dispatcher already started, ignoring duplicate Start call")
		return nil
	}
	d.started = true

	slog.Info("starting dispatcher", "worker_count", d.workerCount)
	for i := 0; i < d.workerCount; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		worker := NewWorker(workerID, d.source, d.runner, d.metrics, d.workerCfg)
		d.workers = append(d.workers, worker)
		worker.Start(ctx)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runReaper(ctx)
	}()

	slog.Info("dispatcher started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish. Workers
// finish their in-flight job before exiting.
func (d *Dispatcher) Stop() {
	slog.Info("stopping dispatcher gracefully")
	for _, worker := range d.workers {
		worker.Stop()
	}
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
	slog.Info("dispatcher stopped gracefully")
}

// runReaper periodically recovers processing-list entries abandoned by a
// crashed worker.
func (d *Dispatcher) runReaper(ctx context.Context) {
	if d.reapEvery <= 0 {
		return
	}
	ticker := time.NewTicker(d.reapEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			recovered, err := d.source.Reap(ctx, d.staleAfter)
			if err != nil {
				slog.Error("reap failed", "error", err)
				continue
			}
			if recovered > 0 {
				slog.Warn("recovered abandoned jobs", "count", recovered)
			}
			d.reapMu.Lock()
			d.lastReapScan = time.Now()
			d.jobsReaped += recovered
			d.reapMu.Unlock()
		}
	}
}

// Health returns the current health status of the dispatcher.
func (d *Dispatcher) Health() PoolHealth {
	workerStats := make([]WorkerHealth, len(d.workers))
	activeWorkers := 0
	for i, worker := range d.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	d.reapMu.Lock()
	lastReapScan := d.lastReapScan
	jobsReaped := d.jobsReaped
	d.reapMu.Unlock()

	return PoolHealth{
		IsHealthy:       len(d.workers) > 0,
		SourceReachable: true,
		ActiveWorkers:   activeWorkers,
		TotalWorkers:    len(d.workers),
		WorkerStats:     workerStats,
		LastReapScan:    lastReapScan,
		JobsReaped:      jobsReaped,
	}
}
