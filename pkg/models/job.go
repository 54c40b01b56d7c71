package models

import "time"

// RetryMode selects which stages an orchestration run attempts (spec.md §3, §6).
type RetryMode string

// Retry modes.
const (
	RetryFull       RetryMode = "full"
	RetryFailedOnly RetryMode = "failed_only"
)

// Job is the decoded form of one queue message (spec.md §3, §6).
type Job struct {
	CompanyID     string     `json:"company_id"`
	RetryMode     RetryMode  `json:"retry_mode"`
	FailedChecks  []StageTag `json:"failed_checks"`
	CorrelationID string     `json:"-"`
	Timestamp     time.Time  `json:"timestamp"`
}

// ChecksToRun computes the §4.6 step-3 set of probe stages this job should
// execute. LLM processing is never part of this set — it is gated
// separately by LLM-credential availability (spec.md §4.6 step 8).
func (j Job) ChecksToRun() map[StageTag]bool {
	probeStages := []StageTag{StageWhois, StageDNS, StageMX, StageWebsite, StagePhone}

	out := make(map[StageTag]bool, len(probeStages))
	switch j.RetryMode {
	case RetryFailedOnly:
		if len(j.FailedChecks) == 0 {
			return out // empty: reuse previous discovered_data entirely
		}
		wanted := make(map[StageTag]bool, len(j.FailedChecks))
		for _, s := range j.FailedChecks {
			wanted[s] = true
		}
		for _, s := range probeStages {
			if wanted[s] {
				out[s] = true
			}
		}
	default: // RetryFull, and any unrecognized value defaults to full
		for _, s := range probeStages {
			out[s] = true
		}
	}
	return out
}
