// Package pipeline drives one verification job end-to-end: selective-retry
// merge, staged probe sequencing, signal generation, rule scoring, the
// optional LLM adjustment, persistence, and the status machine (spec.md
// §4.6).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/verihub/pkg/integrations"
	"github.com/codeready-toolchain/verihub/pkg/llmadjuster"
	"github.com/codeready-toolchain/verihub/pkg/models"
	"github.com/codeready-toolchain/verihub/pkg/ratelimit"
	"github.com/codeready-toolchain/verihub/pkg/signals"
	"github.com/codeready-toolchain/verihub/pkg/store"
)

// ErrFatal marks a job failure the queue must not redeliver (spec.md §4.6
// step 1: a missing or soft-deleted company).
var ErrFatal = errors.New("pipeline: fatal, do not retry")

// Prober is the shape every integration client shares: resolve one input
// within a bounded timeout and return a tagged result, never panic or block
// past the timeout (spec.md §4.2).
type Prober interface {
	Lookup(ctx context.Context, input string, timeout time.Duration) models.StageResult
}

// Adjuster is the subset of *llmadjuster.Adjuster the orchestrator needs;
// an interface so tests can fake LLM behavior without a live credential.
type Adjuster interface {
	Adjust(ctx context.Context, declared models.DeclaredData, discovered models.DiscoveredData, sigs []models.Signal, ruleScore int) (llmadjuster.Result, error)
}

// Store is the subset of *store.Store the orchestrator drives.
type Store interface {
	FetchCompany(ctx context.Context, id string) (*models.Company, error)
	FetchLatestAnalysis(ctx context.Context, companyID string) (*models.Analysis, error)
	UpdateCompanyStep(ctx context.Context, id string, step models.StageTag, analysisStatus *models.AnalysisStatus) error
	SaveAnalysis(ctx context.Context, p store.SaveAnalysisParams) (*models.Analysis, error)
}

// Metrics is the subset of pkg/metrics.Recorder the orchestrator emits to,
// kept as a local interface so this package never imports pkg/metrics
// directly (spec.md §4.6 step 12).
type Metrics interface {
	RecordAnalysisOutcome(outcome string)
	RecordIntegrationCheck(integration string, status string, errorType string)
	RecordAnalysisDuration(d time.Duration)
}

// StageTimeouts bounds each probe stage's Lookup call (spec.md §4.2/§6).
type StageTimeouts struct {
	Whois   time.Duration
	DNS     time.Duration
	MX      time.Duration
	Website time.Duration
	Phone   time.Duration
	LLM     time.Duration
}

// DefaultStageTimeouts mirrors the conservative per-stage budgets named in
// spec.md §6's configuration surface.
func DefaultStageTimeouts() StageTimeouts {
	return StageTimeouts{
		Whois:   5 * time.Second,
		DNS:     3 * time.Second,
		MX:      3 * time.Second,
		Website: 5 * time.Second,
		Phone:   1 * time.Second,
		LLM:     10 * time.Second,
	}
}

// rateLimitTag maps a probe stage to its pkg/ratelimit registry tag. Phone
// has no rate limit tag: it makes no network call (spec.md §4.1 only names
// whois, dns, http, llm as service tags; mx shares the DNS protocol but is
// metered separately since it is its own upstream query).
func rateLimitTag(stage models.StageTag) (string, bool) {
	switch stage {
	case models.StageWhois:
		return "whois", true
	case models.StageDNS:
		return "dns", true
	case models.StageMX:
		return "mx", true
	case models.StageWebsite:
		return "http", true
	default:
		return "", false
	}
}

// probeStages is the fixed stage sequence excluding llm_processing, which is
// gated separately on LLM-credential availability (spec.md §4.6).
var probeStages = []models.StageTag{
	models.StageWhois, models.StageDNS, models.StageMX, models.StageWebsite, models.StagePhone,
}

// Orchestrator wires the rate limiter, integration clients, signal
// generator, rule engine, optional LLM adjuster, and store into the
// twelve-step algorithm of spec.md §4.6.
type Orchestrator struct {
	store            Store
	probers          map[models.StageTag]Prober
	limiters         *ratelimit.Registry
	llm              Adjuster // nil when no credential is configured
	weights          signals.Weights
	timeouts         StageTimeouts
	algorithmVersion string
	metrics          Metrics
	logger           *slog.Logger
}

// Config collects an Orchestrator's dependencies.
type Config struct {
	Store            Store
	Probers          map[models.StageTag]Prober
	Limiters         *ratelimit.Registry
	LLM              Adjuster // nil disables the LLM stage entirely
	Weights          signals.Weights
	Timeouts         StageTimeouts
	AlgorithmVersion string
	Metrics          Metrics
	Logger           *slog.Logger
}

// New builds an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:            cfg.Store,
		probers:          cfg.Probers,
		limiters:         cfg.Limiters,
		llm:              cfg.LLM,
		weights:          cfg.Weights,
		timeouts:         cfg.Timeouts,
		algorithmVersion: cfg.AlgorithmVersion,
		metrics:          cfg.Metrics,
		logger:           logger,
	}
}

// Run drives one job to completion (spec.md §4.6). The returned error, if
// any, wraps ErrFatal when the job must not be redelivered; any other error
// (a Store failure mid-run) should trigger at-least-once redelivery.
func (o *Orchestrator) Run(ctx context.Context, job models.Job) error {
	start := time.Now()
	log := o.logger.With("correlation_id", job.CorrelationID, "company_id", job.CompanyID)

	// Step 1: fetch the company; missing/deleted is fatal, never retried.
	company, err := o.store.FetchCompany(ctx, job.CompanyID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			log.Warn("company missing or deleted, failing fatally")
			o.recordOutcome("failure", start)
			return fmt.Errorf("%w: %s", ErrFatal, err)
		}
		return fmt.Errorf("pipeline: fetch company: %w", err)
	}

	// Step 2: mark in_progress, current_step = whois.
	inProgress := models.AnalysisInProgress
	if err := o.store.UpdateCompanyStep(ctx, company.ID, models.StageWhois, &inProgress); err != nil {
		return fmt.Errorf("pipeline: mark in_progress: %w", err)
	}

	// Step 3: build checks_to_run.
	checksToRun := job.ChecksToRun()

	// Step 4: load previous analysis, seed discovered_data and the
	// successful/failed check sets.
	previous, err := o.store.FetchLatestAnalysis(ctx, company.ID)
	if err != nil {
		return fmt.Errorf("pipeline: fetch latest analysis: %w", err)
	}

	discovered := models.DiscoveredData{}
	var previouslyFailed []models.StageTag
	if previous != nil {
		discovered = previous.DiscoveredData.Clone()
		previouslyFailed = previous.FailedChecks
	}

	successful := map[models.StageTag]bool{}
	failed := map[models.StageTag]bool{}
	for _, tag := range previouslyFailed {
		failed[tag] = true
	}
	for _, stage := range probeStages {
		if failed[stage] {
			continue
		}
		if r, ok := discovered[stage]; ok && r.Ok() {
			successful[stage] = true
		}
	}

	declared := company.Submitted()

	// Step 5: run (or rehydrate) each probe stage in fixed order.
	for i, stage := range probeStages {
		if checksToRun[stage] {
			result := o.invokeStage(ctx, stage, declared)
			discovered[stage] = result
			o.recordIntegration(stage, result)
			if result.Ok() {
				successful[stage] = true
				delete(failed, stage)
			} else {
				failed[stage] = true
				delete(successful, stage)
			}
		}
		// else: discovered[stage] already holds the rehydrated previous
		// result (or is absent if this stage never ran before).

		next := models.StageLLM
		if i+1 < len(probeStages) {
			next = probeStages[i+1]
		}
		if err := o.store.UpdateCompanyStep(ctx, company.ID, next, nil); err != nil {
			return fmt.Errorf("pipeline: update current_step after %s: %w", stage, err)
		}
	}

	// Step 6: generate signals from declared + probe results.
	sigs := signals.Generate(declared, discovered[models.StageWhois], discovered[models.StageDNS],
		discovered[models.StageWebsite], discovered[models.StageMX], discovered[models.StagePhone], o.weights)

	// Step 7: rule score.
	ruleScore := signals.Score(sigs)

	// Step 8: optional LLM adjustment.
	llmAttempted := false
	llmSucceeded := false
	llmAdjustment := 0
	var llmSummary, llmDetails *string

	if o.llm != nil {
		llmAttempted = true
		analysisInProgress := models.AnalysisInProgress
		if err := o.store.UpdateCompanyStep(ctx, company.ID, models.StageLLM, &analysisInProgress); err != nil {
			return fmt.Errorf("pipeline: update current_step to llm_processing: %w", err)
		}

		llmCtx, cancel := context.WithTimeout(ctx, o.timeouts.LLM)
		result, llmErr := o.llm.Adjust(llmCtx, declared, discovered, sigs, ruleScore)
		cancel()

		if llmErr != nil {
			log.Warn("llm adjustment failed", "error", llmErr)
			failed[models.StageLLM] = true
			o.recordIntegration(models.StageLLM, models.Failed(llmErr.Error()))
		} else {
			llmSucceeded = true
			llmAdjustment = result.ScoreAdjustment
			llmSummary = &result.Summary
			llmDetails = &result.Details
			o.recordIntegration(models.StageLLM, models.StageResult{Status: models.IntegrationSuccess})
		}
	}

	// Step 9: final risk score.
	finalRiskScore := ruleScore
	if llmAttempted {
		finalRiskScore = clamp(ruleScore+llmAdjustment, 0, 100)
	}

	// Step 10: completeness.
	isComplete := len(successful) >= 3 && len(failed) == 0 && (!llmAttempted || llmSucceeded)

	// Step 11: atomically persist the analysis and update the company.
	analysis, err := o.store.SaveAnalysis(ctx, store.SaveAnalysisParams{
		CompanyID:        company.ID,
		RiskScore:        finalRiskScore,
		Signals:          sigs,
		FailedChecks:     sortedTags(failed),
		SubmittedData:    declared,
		DiscoveredData:   discovered,
		IsComplete:       isComplete,
		AlgorithmVersion: o.algorithmVersion,
		LLMSummary:       llmSummary,
		LLMDetails:       llmDetails,
	})
	if err != nil {
		o.recordOutcome("failure", start)
		return fmt.Errorf("pipeline: save analysis: %w", err)
	}

	// Step 12: metrics.
	outcome := "incomplete"
	if isComplete {
		outcome = "success"
	}
	o.recordOutcome(outcome, start)

	log.Info("analysis complete", "version", analysis.Version, "risk_score", finalRiskScore,
		"is_complete", isComplete, "outcome", outcome)
	return nil
}

func (o *Orchestrator) invokeStage(ctx context.Context, stage models.StageTag, declared models.DeclaredData) models.StageResult {
	prober, ok := o.probers[stage]
	if !ok {
		return models.Failed(fmt.Sprintf("pipeline: no prober registered for stage %s", stage))
	}

	if tag, hasLimit := rateLimitTag(stage); hasLimit && o.limiters != nil {
		limiter, err := o.limiters.Get(tag)
		if err != nil {
			return models.Failed(fmt.Sprintf("pipeline: rate limiter: %v", err))
		}
		if ok, err := limiter.Acquire(ctx, 1, -1); err != nil || !ok {
			if err == nil {
				err = fmt.Errorf("rate limit wait exhausted")
			}
			return models.Failed(fmt.Sprintf("pipeline: rate limit wait: %v", err))
		}
	}

	input := stageInput(stage, declared)
	return prober.Lookup(ctx, input, o.stageTimeout(stage))
}

func (o *Orchestrator) stageTimeout(stage models.StageTag) time.Duration {
	switch stage {
	case models.StageWhois:
		return o.timeouts.Whois
	case models.StageDNS:
		return o.timeouts.DNS
	case models.StageMX:
		return o.timeouts.MX
	case models.StageWebsite:
		return o.timeouts.Website
	case models.StagePhone:
		return o.timeouts.Phone
	default:
		return o.timeouts.LLM
	}
}

// stageInput derives each prober's input string from declared data
// (spec.md §4.2: MX defaults to the email's domain, website prefers the
// declared website URL over the bare domain).
func stageInput(stage models.StageTag, declared models.DeclaredData) string {
	switch stage {
	case models.StageWhois, models.StageDNS:
		return declared.Domain
	case models.StageMX:
		return integrations.DomainFor(declared.Email, declared.Domain)
	case models.StageWebsite:
		if declared.WebsiteURL != "" {
			return declared.WebsiteURL
		}
		return declared.Domain
	case models.StagePhone:
		return declared.Phone
	default:
		return ""
	}
}

func (o *Orchestrator) recordIntegration(stage models.StageTag, result models.StageResult) {
	if o.metrics == nil {
		return
	}
	status := string(result.Status)
	errType := ""
	if !result.Ok() {
		errType = result.Error
	}
	o.metrics.RecordIntegrationCheck(string(stage), status, errType)
}

func (o *Orchestrator) recordOutcome(outcome string, start time.Time) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordAnalysisOutcome(outcome)
	o.metrics.RecordAnalysisDuration(time.Since(start))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sortedTags(set map[models.StageTag]bool) []models.StageTag {
	out := make([]models.StageTag, 0, len(set))
	for _, stage := range models.Stages {
		if set[stage] {
			out = append(out, stage)
		}
	}
	return out
}
