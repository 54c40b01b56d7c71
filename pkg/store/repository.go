package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/verihub/pkg/models"
	"github.com/codeready-toolchain/verihub/pkg/statusmachine"
	"github.com/jackc/pgx/v5"
)

// FetchCompany loads a company by id. It returns models.ErrNotFound if the
// row is missing or soft-deleted (spec.md §4.8).
func (s *Store) FetchCompany(ctx context.Context, id string) (*models.Company, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id::text, name, domain, website_url, email, phone, status, risk_score,
		       analysis_status, current_step, last_analyzed_at, is_deleted, created_at, updated_at
		FROM companies WHERE id = $1::uuid AND is_deleted = FALSE`, id)

	var c models.Company
	if err := row.Scan(&c.ID, &c.Name, &c.Domain, &c.WebsiteURL, &c.Email, &c.Phone, &c.Status,
		&c.RiskScore, &c.AnalysisStatus, &c.CurrentStep, &c.LastAnalyzedAt, &c.IsDeleted, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("store: fetch company: %w", err)
	}
	return &c, nil
}

// FetchLatestAnalysis returns the highest-version analysis for a company, or
// nil if none exists yet.
func (s *Store) FetchLatestAnalysis(ctx context.Context, companyID string) (*models.Analysis, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id::text, company_id::text, version, algorithm_version, submitted_data, discovered_data,
		       signals, risk_score, is_complete, failed_checks, llm_summary, llm_details, created_at
		FROM analyses WHERE company_id = $1::uuid ORDER BY version DESC LIMIT 1`, companyID)

	a, err := scanAnalysis(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: fetch latest analysis: %w", err)
	}
	return a, nil
}

// UpdateCompanyStep idempotently sets a company's current processing step
// and, optionally, its analysis status (spec.md §4.8).
func (s *Store) UpdateCompanyStep(ctx context.Context, id string, step models.StageTag, analysisStatus *models.AnalysisStatus) error {
	if analysisStatus == nil {
		_, err := s.pool.Exec(ctx, `UPDATE companies SET current_step = $2, updated_at = now() WHERE id = $1::uuid`, id, string(step))
		if err != nil {
			return fmt.Errorf("store: update company step: %w", err)
		}
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE companies SET current_step = $2, analysis_status = $3, updated_at = now() WHERE id = $1::uuid`,
		id, string(step), string(*analysisStatus))
	if err != nil {
		return fmt.Errorf("store: update company step: %w", err)
	}
	return nil
}

// UpdateCompanyAnalysisStatus sets a company's analysis_status and,
// optionally, current_step. Transitioning to "complete" stamps
// last_analyzed_at (spec.md §4.8).
func (s *Store) UpdateCompanyAnalysisStatus(ctx context.Context, id string, status models.AnalysisStatus, currentStep *string) error {
	var err error
	if status == models.AnalysisComplete {
		_, err = s.pool.Exec(ctx, `
			UPDATE companies SET analysis_status = $2, current_step = $3, last_analyzed_at = now(), updated_at = now()
			WHERE id = $1::uuid`, id, string(status), currentStep)
	} else {
		_, err = s.pool.Exec(ctx, `
			UPDATE companies SET analysis_status = $2, current_step = $3, updated_at = now()
			WHERE id = $1::uuid`, id, string(status), currentStep)
	}
	if err != nil {
		return fmt.Errorf("store: update company analysis status: %w", err)
	}
	return nil
}

// SaveAnalysisParams bundles the inputs to SaveAnalysis so the call site
// reads as named fields instead of a long positional argument list.
type SaveAnalysisParams struct {
	CompanyID        string
	RiskScore        int
	Signals          []models.Signal
	FailedChecks     []models.StageTag
	SubmittedData    models.DeclaredData
	DiscoveredData   models.DiscoveredData
	IsComplete       bool
	AlgorithmVersion string
	LLMSummary       *string
	LLMDetails       *string
}

// SaveAnalysis persists a new analysis version and updates the owning
// company within a single transaction: lock the company row, compute
// next_version = max(version)+1, insert the analysis, update the company,
// then apply the status machine (spec.md §4.8). Returns the persisted
// Analysis including its assigned version.
func (s *Store) SaveAnalysis(ctx context.Context, p SaveAnalysisParams) (*models.Analysis, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("store: save analysis: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var currentStatus models.CompanyStatus
	row := tx.QueryRow(ctx, `SELECT status FROM companies WHERE id = $1::uuid FOR UPDATE`, p.CompanyID)
	if err := row.Scan(&currentStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("store: save analysis: lock company: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM analyses WHERE company_id = $1::uuid`, p.CompanyID).Scan(&maxVersion); err != nil {
		return nil, fmt.Errorf("store: save analysis: read max version: %w", err)
	}
	nextVersion := maxVersion + 1

	submittedJSON, err := json.Marshal(p.SubmittedData)
	if err != nil {
		return nil, fmt.Errorf("store: save analysis: marshal submitted_data: %w", err)
	}
	discoveredJSON, err := json.Marshal(p.DiscoveredData)
	if err != nil {
		return nil, fmt.Errorf("store: save analysis: marshal discovered_data: %w", err)
	}
	signalsJSON, err := json.Marshal(p.Signals)
	if err != nil {
		return nil, fmt.Errorf("store: save analysis: marshal signals: %w", err)
	}
	failedJSON, err := json.Marshal(p.FailedChecks)
	if err != nil {
		return nil, fmt.Errorf("store: save analysis: marshal failed_checks: %w", err)
	}

	analysisStatus := models.AnalysisComplete
	if !p.IsComplete {
		analysisStatus = models.AnalysisInProgress
	}
	nextCompanyStatus := statusmachine.ApplyAutoClassification(p.RiskScore, analysisStatus, currentStatus)

	var analysisID string
	var createdAt time.Time
	err = tx.QueryRow(ctx, `
		INSERT INTO analyses
			(company_id, version, risk_score, signals, failed_checks, submitted_data,
			 discovered_data, is_complete, algorithm_version, llm_summary, llm_details)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id::text, created_at`,
		p.CompanyID, nextVersion, p.RiskScore, signalsJSON, failedJSON, submittedJSON,
		discoveredJSON, p.IsComplete, p.AlgorithmVersion, p.LLMSummary, p.LLMDetails,
	).Scan(&analysisID, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("store: save analysis: insert: %w", err)
	}

	currentStep := "complete"
	if !p.IsComplete {
		currentStep = ""
	}
	_, err = tx.Exec(ctx, `
		UPDATE companies
		SET risk_score = $2, analysis_status = $3, current_step = NULLIF($4, ''),
		    status = $5, last_analyzed_at = now(), updated_at = now()
		WHERE id = $1::uuid`,
		p.CompanyID, p.RiskScore, string(analysisStatus), currentStep, string(nextCompanyStatus))
	if err != nil {
		return nil, fmt.Errorf("store: save analysis: update company: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("store: save analysis: commit: %w", err)
	}

	return &models.Analysis{
		ID:               analysisID,
		CompanyID:        p.CompanyID,
		Version:          nextVersion,
		AlgorithmVersion: p.AlgorithmVersion,
		SubmittedData:    p.SubmittedData,
		DiscoveredData:   p.DiscoveredData,
		Signals:          p.Signals,
		RiskScore:        p.RiskScore,
		IsComplete:       p.IsComplete,
		FailedChecks:     p.FailedChecks,
		LLMSummary:       p.LLMSummary,
		LLMDetails:       p.LLMDetails,
		CreatedAt:        createdAt,
	}, nil
}

func scanAnalysis(row pgx.Row) (*models.Analysis, error) {
	var a models.Analysis
	var submittedJSON, discoveredJSON, signalsJSON, failedJSON []byte

	if err := row.Scan(&a.ID, &a.CompanyID, &a.Version, &a.AlgorithmVersion, &submittedJSON, &discoveredJSON,
		&signalsJSON, &a.RiskScore, &a.IsComplete, &failedJSON, &a.LLMSummary, &a.LLMDetails, &a.CreatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(submittedJSON, &a.SubmittedData); err != nil {
		return nil, fmt.Errorf("unmarshal submitted_data: %w", err)
	}
	if err := json.Unmarshal(discoveredJSON, &a.DiscoveredData); err != nil {
		return nil, fmt.Errorf("unmarshal discovered_data: %w", err)
	}
	if err := json.Unmarshal(signalsJSON, &a.Signals); err != nil {
		return nil, fmt.Errorf("unmarshal signals: %w", err)
	}
	if err := json.Unmarshal(failedJSON, &a.FailedChecks); err != nil {
		return nil, fmt.Errorf("unmarshal failed_checks: %w", err)
	}

	return &a, nil
}
