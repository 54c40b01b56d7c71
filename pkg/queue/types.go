// Package queue consumes verification jobs from a Redis reliable queue and
// drives each one through the pipeline Orchestrator (spec.md §4.9).
package queue

import (
	"errors"
	"time"
)

// Sentinel errors for queue operations.
var (
	// ErrNoJobsAvailable indicates the source had nothing to deliver within
	// the poll timeout; not an error condition, just an empty poll.
	ErrNoJobsAvailable = errors.New("no jobs available")
)

// PoolHealth reports the dispatcher's aggregate health.
type PoolHealth struct {
	IsHealthy       bool           `json:"is_healthy"`
	SourceReachable bool           `json:"source_reachable"`
	SourceError     string         `json:"source_error,omitempty"`
	ActiveWorkers   int            `json:"active_workers"`
	TotalWorkers    int            `json:"total_workers"`
	WorkerStats     []WorkerHealth `json:"worker_stats"`
	LastReapScan    time.Time      `json:"last_reap_scan"`
	JobsReaped      int            `json:"jobs_reaped"`
}

// WorkerHealth reports a single worker's health.
type WorkerHealth struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"` // "idle" or "working"
	CurrentCompanyID string    `json:"current_company_id,omitempty"`
	JobsProcessed    int       `json:"jobs_processed"`
	LastActivity     time.Time `json:"last_activity"`
}
