package models

import "time"

// DiscoveredData holds the raw (or rehydrated) per-stage probe results,
// keyed by stage tag, that fed a given analysis run (spec.md §3).
type DiscoveredData map[StageTag]StageResult

// Clone returns a deep-enough copy of the discovered-data map so the
// orchestrator can seed a new run from a previous one without aliasing the
// stored analysis (spec.md §4.6 step 4: "Seed discovered_data = deepcopy(...)").
func (d DiscoveredData) Clone() DiscoveredData {
	out := make(DiscoveredData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Analysis is a versioned, immutable snapshot of one completed pipeline run
// (spec.md §3).
type Analysis struct {
	ID              string
	CompanyID       string
	Version         int
	AlgorithmVersion string
	SubmittedData   DeclaredData
	DiscoveredData  DiscoveredData
	Signals         []Signal
	RiskScore       int
	IsComplete      bool
	FailedChecks    []StageTag
	LLMSummary      *string
	LLMDetails      *string
	CreatedAt       time.Time
}

// HasFailed reports whether the given stage is recorded as failed on this
// analysis.
func (a *Analysis) HasFailed(stage StageTag) bool {
	for _, s := range a.FailedChecks {
		if s == stage {
			return true
		}
	}
	return false
}
