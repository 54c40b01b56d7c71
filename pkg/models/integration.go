package models

import "time"

// IntegrationStatus tags the outcome of a probe call.
type IntegrationStatus string

// Integration result statuses (spec.md §3).
const (
	IntegrationSuccess IntegrationStatus = "success"
	IntegrationFailed  IntegrationStatus = "failed"
)

// WhoisResult is the structured payload of a successful WHOIS lookup.
type WhoisResult struct {
	DomainAgeDays  *int       `json:"domain_age_days"`
	Registrar      *string    `json:"registrar"`
	PrivacyEnabled bool       `json:"privacy_enabled"`
	CreationDate   *time.Time `json:"creation_date"`
}

// DNSResult is the structured payload of a successful DNS lookup.
type DNSResult struct {
	Resolves    bool     `json:"resolves"`
	Nameservers []string `json:"nameservers"`
	ARecords    []string `json:"a_records"`
}

// MXResult is the structured payload of a successful MX lookup.
type MXResult struct {
	HasMXRecords    bool     `json:"has_mx_records"`
	MXRecords       []string `json:"mx_records"`
	EmailConfigured bool     `json:"email_configured"`
}

// WebsiteResult is the structured payload of a successful homepage fetch.
type WebsiteResult struct {
	Reachable     bool    `json:"reachable"`
	StatusCode    *int    `json:"status_code"`
	Title         *string `json:"title"`
	Description   *string `json:"description"`
	ContentLength int     `json:"content_length"`
}

// PhoneResult is the structured payload of a successful phone parse.
type PhoneResult struct {
	Normalized *string `json:"normalized"`
	Valid      bool    `json:"valid"`
	Region     *string `json:"region"`
}

// StageResult is a tagged result variant returned by every integration
// client: success carries exactly one of the typed payloads above, failure
// carries a short error string (spec.md §4.2).
type StageResult struct {
	Status IntegrationStatus `json:"status"`
	Error  string            `json:"error,omitempty"`

	Whois   *WhoisResult   `json:"whois,omitempty"`
	DNS     *DNSResult     `json:"dns,omitempty"`
	MX      *MXResult      `json:"mx,omitempty"`
	Website *WebsiteResult `json:"website,omitempty"`
	Phone   *PhoneResult   `json:"phone,omitempty"`
}

// Failed builds a failed StageResult with the given short message.
func Failed(msg string) StageResult {
	return StageResult{Status: IntegrationFailed, Error: msg}
}

// Ok reports whether the stage result succeeded.
func (r StageResult) Ok() bool {
	return r.Status == IntegrationSuccess
}
