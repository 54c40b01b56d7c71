// Package models contains the domain types shared across the verification
// pipeline: companies, their versioned analyses, signals, and job messages.
package models

import "time"

// CompanyStatus is the company-visible outcome of verification.
type CompanyStatus string

// Company status values (spec.md §3).
const (
	StatusPending    CompanyStatus = "pending"
	StatusApproved   CompanyStatus = "approved"
	StatusSuspicious CompanyStatus = "suspicious"
	StatusFraudulent CompanyStatus = "fraudulent"
)

// AnalysisStatus tracks where a company sits in the pipeline.
type AnalysisStatus string

// Analysis status values (spec.md §3).
const (
	AnalysisPending    AnalysisStatus = "pending"
	AnalysisInProgress AnalysisStatus = "in_progress"
	AnalysisComplete   AnalysisStatus = "complete"
)

// StageTag identifies one pipeline stage. The set is closed and bit-exact
// per spec.md §6.
type StageTag string

// Stage tags, fixed order.
const (
	StageWhois   StageTag = "whois"
	StageDNS     StageTag = "dns"
	StageMX      StageTag = "mx_validation"
	StageWebsite StageTag = "website_scrape"
	StagePhone   StageTag = "phone"
	StageLLM     StageTag = "llm_processing"
)

// Stages is the fixed processing order used by the orchestrator and the
// progress-percentage derivation.
var Stages = []StageTag{StageWhois, StageDNS, StageMX, StageWebsite, StagePhone, StageLLM}

// Company is the immutable-identity, mutable-state record verified by the
// pipeline. Declared attributes become immutable once LastAnalyzedAt is set
// (spec.md §3).
type Company struct {
	ID             string
	Name           string
	Domain         string
	WebsiteURL     string
	Email          string
	Phone          string
	Status         CompanyStatus
	RiskScore      int
	AnalysisStatus AnalysisStatus
	CurrentStep    *string
	LastAnalyzedAt *time.Time
	IsDeleted      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DeclaredData is the subset of Company attributes submitted by the caller,
// used verbatim as Analysis.SubmittedData.
type DeclaredData struct {
	Name       string `json:"name"`
	Domain     string `json:"domain"`
	WebsiteURL string `json:"website_url"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
}

// Submitted returns the declared-data snapshot of a company.
func (c *Company) Submitted() DeclaredData {
	return DeclaredData{
		Name:       c.Name,
		Domain:     c.Domain,
		WebsiteURL: c.WebsiteURL,
		Email:      c.Email,
		Phone:      c.Phone,
	}
}

// IsAnalyzed reports whether the company has ever completed an analysis run,
// at which point its declared attributes become immutable (spec.md §3).
func (c *Company) IsAnalyzed() bool {
	return c.LastAnalyzedAt != nil
}
