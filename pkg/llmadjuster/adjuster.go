// Package llmadjuster wraps a single call to an LLM that nudges the rule
// engine's score given the declared/discovered data and signals already
// computed (spec.md §4.2, §4.5). The adjuster is optional: the pipeline
// runs without one when no API credential is configured.
package llmadjuster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"github.com/codeready-toolchain/verihub/pkg/models"
	"github.com/codeready-toolchain/verihub/pkg/ratelimit"
)

const rateLimitTag = "llm"

// Result is the adjuster's output (spec.md §4.2).
type Result struct {
	Summary         string
	Details         string
	ScoreAdjustment int
}

// Adjuster calls the configured LLM to adjust a rule score. A nil Adjuster
// (via New returning ok=false) means no credential is configured; callers
// must treat that as `llm_attempted = false`, not an error.
type Adjuster struct {
	client     anthropic.Client
	model      anthropic.Model
	maxRetries int
	limiter    *ratelimit.Limiter
	logger     *slog.Logger

	// callFn performs the actual model call; overridable in tests so they
	// never need a live API key or network access.
	callFn func(ctx context.Context, prompt string) (string, error)
}

// Config configures the adjuster from environment-sourced values
// (spec.md §6).
type Config struct {
	APIKey     string
	Model      string
	MaxRetries int
	RateLimit  float64 // requests/second, default 3 per spec.md §4.2
}

// New builds an Adjuster. ok is false when no API key is configured, in
// which case callers skip the LLM stage entirely rather than erroring.
func New(cfg Config, logger *slog.Logger) (adj *Adjuster, ok bool) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, false
	}

	model := anthropic.Model(cfg.Model)
	if cfg.Model == "" {
		model = anthropic.ModelClaude3_5HaikuLatest
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 3
	}

	a := &Adjuster{
		client:     anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:      model,
		maxRetries: maxRetries,
		limiter:    ratelimit.New(rps, int(rps)),
		logger:     logger,
	}
	a.callFn = a.call
	return a, true
}

// adjustmentPayload is the strict JSON contract the prompt demands
// (spec.md §4.2: "exactly these three keys").
type adjustmentPayload struct {
	LLMSummary         string `json:"llm_summary"`
	LLMDetails         string `json:"llm_details"`
	LLMScoreAdjustment int    `json:"llm_score_adjustment"`
}

// Adjust submits the analysis context to the LLM and returns a clamped
// adjustment. It retries on transient/rate-limit errors with exponential
// backoff {1,2,4}s up to maxRetries (spec.md §4.2), and enforces the
// service-level rate limit before every attempt.
func (a *Adjuster) Adjust(ctx context.Context, declared models.DeclaredData, discovered models.DiscoveredData, signals []models.Signal, ruleScore int) (Result, error) {
	prompt, err := buildPrompt(declared, discovered, signals, ruleScore)
	if err != nil {
		return Result{}, fmt.Errorf("llmadjuster: build prompt: %w", err)
	}

	var payload adjustmentPayload
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 1 * time.Second
	eb.Multiplier = 2
	eb.MaxInterval = 4 * time.Second
	boff := backoff.WithMaxRetries(eb, uint64(a.maxRetries))

	attempt := 0
	operation := func() error {
		attempt++
		if _, err := a.limiter.Acquire(ctx, 1, -1); err != nil {
			return backoff.Permanent(fmt.Errorf("llmadjuster: rate limit wait: %w", err))
		}

		raw, err := a.callFn(ctx, prompt)
		if err != nil {
			a.logger.Warn("llm call failed, will retry", "attempt", attempt, "error", err)
			return err
		}

		parsed, parseErr := parseAdjustment(raw)
		if parseErr != nil {
			return backoff.Permanent(fmt.Errorf("llmadjuster: parse response: %w", parseErr))
		}
		payload = parsed
		return nil
	}

	if err := backoff.Retry(operation, boff); err != nil {
		return Result{}, err
	}

	adjustment := payload.LLMScoreAdjustment
	if adjustment < -20 {
		adjustment = -20
	}
	if adjustment > 20 {
		adjustment = 20
	}

	return Result{
		Summary:         payload.LLMSummary,
		Details:         payload.LLMDetails,
		ScoreAdjustment: adjustment,
	}, nil
}

func (a *Adjuster) call(ctx context.Context, prompt string) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 1024,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if text := block.Text; text != "" {
			sb.WriteString(text)
		}
	}
	return sb.String(), nil
}

// systemPrompt carries the assistant's role and output contract (spec.md
// §6), kept separate from the per-call data so the model treats the JSON
// instruction as an instruction rather than part of the data to reason
// about.
const systemPrompt = `You are a fraud-review assistant. Given the declared company data, the
discovered verification data, the computed signals, and the current rule
score, respond with STRICT JSON ONLY, no prose, no markdown fences,
containing exactly these three keys: "llm_summary" (string), "llm_details"
(string), "llm_score_adjustment" (integer between -20 and 20).`

func buildPrompt(declared models.DeclaredData, discovered models.DiscoveredData, signals []models.Signal, ruleScore int) (string, error) {
	declaredJSON, err := json.Marshal(declared)
	if err != nil {
		return "", err
	}
	discoveredJSON, err := json.Marshal(discovered)
	if err != nil {
		return "", err
	}
	signalsJSON, err := json.Marshal(signals)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(`declared: %s
discovered: %s
signals: %s
rule_score: %d`, declaredJSON, discoveredJSON, signalsJSON, ruleScore), nil
}

// parseAdjustment parses the model's strict-JSON response, falling back to
// extracting the first `{...}` block on parse failure (spec.md §4.2).
func parseAdjustment(raw string) (adjustmentPayload, error) {
	var p adjustmentPayload
	if err := json.Unmarshal([]byte(raw), &p); err == nil {
		return p, nil
	}

	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return adjustmentPayload{}, fmt.Errorf("no JSON object found in response")
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &p); err != nil {
		return adjustmentPayload{}, fmt.Errorf("fallback JSON extraction failed: %w", err)
	}
	return p, nil
}
