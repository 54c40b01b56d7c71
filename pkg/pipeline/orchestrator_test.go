package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/codeready-toolchain/verihub/pkg/llmadjuster"
	"github.com/codeready-toolchain/verihub/pkg/models"
	"github.com/codeready-toolchain/verihub/pkg/signals"
	"github.com/codeready-toolchain/verihub/pkg/statusmachine"
	"github.com/codeready-toolchain/verihub/pkg/store"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory stand-in for *store.Store, exercising the same
// step/status/versioning contract (spec.md §4.8) without a database.
type fakeStore struct {
	companies map[string]*models.Company
	analyses  map[string][]*models.Analysis // companyID -> versions, ascending
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		companies: map[string]*models.Company{},
		analyses:  map[string][]*models.Analysis{},
	}
}

func (s *fakeStore) seed(c models.Company) {
	cp := c
	s.companies[c.ID] = &cp
}

func (s *fakeStore) FetchCompany(_ context.Context, id string) (*models.Company, error) {
	c, ok := s.companies[id]
	if !ok || c.IsDeleted {
		return nil, models.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *fakeStore) FetchLatestAnalysis(_ context.Context, companyID string) (*models.Analysis, error) {
	versions := s.analyses[companyID]
	if len(versions) == 0 {
		return nil, nil
	}
	a := *versions[len(versions)-1]
	return &a, nil
}

func (s *fakeStore) UpdateCompanyStep(_ context.Context, id string, step models.StageTag, analysisStatus *models.AnalysisStatus) error {
	c, ok := s.companies[id]
	if !ok {
		return models.ErrNotFound
	}
	stepStr := string(step)
	c.CurrentStep = &stepStr
	if analysisStatus != nil {
		c.AnalysisStatus = *analysisStatus
	}
	return nil
}

func (s *fakeStore) SaveAnalysis(_ context.Context, p store.SaveAnalysisParams) (*models.Analysis, error) {
	c, ok := s.companies[p.CompanyID]
	if !ok {
		return nil, models.ErrNotFound
	}

	version := len(s.analyses[p.CompanyID]) + 1
	analysisStatus := models.AnalysisComplete
	if !p.IsComplete {
		analysisStatus = models.AnalysisInProgress
	}

	a := &models.Analysis{
		ID:               fmt.Sprintf("%s-v%d", p.CompanyID, version),
		CompanyID:        p.CompanyID,
		Version:          version,
		AlgorithmVersion: p.AlgorithmVersion,
		SubmittedData:    p.SubmittedData,
		DiscoveredData:   p.DiscoveredData,
		Signals:          p.Signals,
		RiskScore:        p.RiskScore,
		IsComplete:       p.IsComplete,
		FailedChecks:     p.FailedChecks,
		LLMSummary:       p.LLMSummary,
		LLMDetails:       p.LLMDetails,
		CreatedAt:        time.Now(),
	}
	s.analyses[p.CompanyID] = append(s.analyses[p.CompanyID], a)

	c.RiskScore = p.RiskScore
	c.AnalysisStatus = analysisStatus
	now := time.Now()
	c.LastAnalyzedAt = &now
	c.Status = statusmachine.ApplyAutoClassification(p.RiskScore, analysisStatus, c.Status)

	out := *a
	return &out, nil
}

// fakeProber returns a fixed result regardless of input, optionally after a
// delay (used to simulate a timeout).
type fakeProber struct {
	result models.StageResult
	delay  time.Duration
}

func (p fakeProber) Lookup(ctx context.Context, _ string, timeout time.Duration) models.StageResult {
	if p.delay > 0 && p.delay > timeout {
		return models.Failed("simulated timeout")
	}
	return p.result
}

type fakeAdjuster struct {
	result llmadjuster.Result
	err    error
}

func (a fakeAdjuster) Adjust(context.Context, models.DeclaredData, models.DiscoveredData, []models.Signal, int) (llmadjuster.Result, error) {
	return a.result, a.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okWhoisProber(ageDays int, privacy bool) fakeProber {
	age := ageDays
	return fakeProber{result: models.StageResult{Status: models.IntegrationSuccess, Whois: &models.WhoisResult{
		DomainAgeDays: &age, PrivacyEnabled: privacy,
	}}}
}

func baseCompany(id string) models.Company {
	return models.Company{
		ID: id, Name: "NovaGeo", Domain: "novageo.io", Email: "info@novageo.io",
		Phone: "+15551234567", Status: models.StatusPending, AnalysisStatus: models.AnalysisPending,
	}
}

func baseOrchestrator(s *fakeStore, probers map[models.StageTag]Prober, llm Adjuster) *Orchestrator {
	return New(Config{
		Store:            s,
		Probers:          probers,
		Limiters:         nil,
		LLM:              llm,
		Weights:          signals.DefaultWeights(),
		Timeouts:         DefaultStageTimeouts(),
		AlgorithmVersion: "v1",
		Logger:           testLogger(),
	})
}

func TestRun_HappyPath(t *testing.T) {
	s := newFakeStore()
	s.seed(baseCompany("c1"))

	probers := map[models.StageTag]Prober{
		models.StageWhois:   okWhoisProber(800, false),
		models.StageDNS:     fakeProber{result: models.StageResult{Status: models.IntegrationSuccess, DNS: &models.DNSResult{Resolves: true, ARecords: []string{"1.2.3.4"}}}},
		models.StageMX:      fakeProber{result: models.StageResult{Status: models.IntegrationSuccess, MX: &models.MXResult{HasMXRecords: true, MXRecords: []string{"mx1.novageo.io"}}}},
		models.StageWebsite: fakeProber{result: models.StageResult{Status: models.IntegrationSuccess, Website: &models.WebsiteResult{Reachable: true}}},
		models.StagePhone:   fakeProber{result: models.StageResult{Status: models.IntegrationSuccess, Phone: &models.PhoneResult{Valid: true}}},
	}

	o := baseOrchestrator(s, probers, nil)
	require.NoError(t, o.Run(context.Background(), models.Job{CompanyID: "c1", RetryMode: models.RetryFull}))

	latest, err := s.FetchLatestAnalysis(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, 1, latest.Version)
	require.Equal(t, 0, latest.RiskScore)
	require.True(t, latest.IsComplete)
	// domain_age + whois_privacy + dns_resolution + website_lookup +
	// email_match + phone_validation = 6 signals (see DESIGN.md's
	// resolution of the email_match/mx_records mutual-exclusivity question).
	require.Len(t, latest.Signals, 6)
	for _, sig := range latest.Signals {
		require.Equal(t, models.SignalOK, sig.Status)
	}

	c, err := s.FetchCompany(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, c.Status)
}

func TestRun_YoungPrivateDomain(t *testing.T) {
	s := newFakeStore()
	s.seed(baseCompany("c2"))

	probers := map[models.StageTag]Prober{
		models.StageWhois:   okWhoisProber(90, true),
		models.StageDNS:     fakeProber{result: models.StageResult{Status: models.IntegrationSuccess, DNS: &models.DNSResult{Resolves: true}}},
		models.StageMX:      fakeProber{result: models.StageResult{Status: models.IntegrationSuccess, MX: &models.MXResult{HasMXRecords: true}}},
		models.StageWebsite: fakeProber{result: models.StageResult{Status: models.IntegrationSuccess, Website: &models.WebsiteResult{Reachable: true}}},
		models.StagePhone:   fakeProber{result: models.StageResult{Status: models.IntegrationSuccess, Phone: &models.PhoneResult{Valid: true}}},
	}

	o := baseOrchestrator(s, probers, nil)
	require.NoError(t, o.Run(context.Background(), models.Job{CompanyID: "c2", RetryMode: models.RetryFull}))

	latest, _ := s.FetchLatestAnalysis(context.Background(), "c2")
	require.Equal(t, 30, latest.RiskScore)

	c, _ := s.FetchCompany(context.Background(), "c2")
	require.Equal(t, models.StatusApproved, c.Status)
}

func TestRun_UnreachableSiteMXAbsentEmailMismatch(t *testing.T) {
	s := newFakeStore()
	c := baseCompany("c3")
	c.Email = "ceo@other.com"
	s.seed(c)

	probers := map[models.StageTag]Prober{
		models.StageWhois:   okWhoisProber(800, false),
		models.StageDNS:     fakeProber{result: models.StageResult{Status: models.IntegrationSuccess, DNS: &models.DNSResult{Resolves: true}}},
		models.StageMX:      fakeProber{result: models.StageResult{Status: models.IntegrationSuccess, MX: &models.MXResult{HasMXRecords: false}}},
		models.StageWebsite: fakeProber{result: models.Failed("website: timeout")},
		models.StagePhone:   fakeProber{result: models.StageResult{Status: models.IntegrationSuccess, Phone: &models.PhoneResult{Valid: true}}},
	}

	o := baseOrchestrator(s, probers, nil)
	require.NoError(t, o.Run(context.Background(), models.Job{CompanyID: "c3", RetryMode: models.RetryFull}))

	latest, _ := s.FetchLatestAnalysis(context.Background(), "c3")
	// website_lookup(25) + email_match mismatch(10) = 35
	require.Equal(t, 35, latest.RiskScore)
	require.False(t, latest.IsComplete) // website_scrape recorded as failed

	c2, _ := s.FetchCompany(context.Background(), "c3")
	require.Equal(t, models.StatusSuspicious, c2.Status)
}

func TestRun_AllProbesFailed(t *testing.T) {
	s := newFakeStore()
	s.seed(baseCompany("c4"))

	failing := fakeProber{result: models.Failed("timeout")}
	probers := map[models.StageTag]Prober{
		models.StageWhois: failing, models.StageDNS: failing, models.StageMX: failing,
		models.StageWebsite: failing, models.StagePhone: failing,
	}

	o := baseOrchestrator(s, probers, nil)
	require.NoError(t, o.Run(context.Background(), models.Job{CompanyID: "c4", RetryMode: models.RetryFull}))

	latest, _ := s.FetchLatestAnalysis(context.Background(), "c4")
	require.False(t, latest.IsComplete)
	require.Len(t, latest.FailedChecks, 5)
	require.GreaterOrEqual(t, latest.RiskScore, 60)

	// With default weights the five suspicious signals sum past the
	// fraudulent threshold (>=70), but the run is incomplete, and the status
	// machine classifies an incomplete run as suspicious before it looks at
	// the risk score.
	c, _ := s.FetchCompany(context.Background(), "c4")
	require.Equal(t, models.StatusSuspicious, c.Status)
}

func TestRun_LLMRaisesAdjustmentAcrossThreshold(t *testing.T) {
	s := newFakeStore()
	c5 := baseCompany("c5")
	c5.Email = "ceo@other.com"
	s.seed(c5)

	// Every probe succeeds, so the run is complete. rule_score =
	// domain_age(20) + whois_privacy(10) + website unreachable(25) +
	// email_match mismatch(10) = 65; dns and phone contribute 0 (ok).
	probers := map[models.StageTag]Prober{
		models.StageWhois:   okWhoisProber(90, true),
		models.StageDNS:     fakeProber{result: models.StageResult{Status: models.IntegrationSuccess, DNS: &models.DNSResult{Resolves: true}}},
		models.StageMX:      fakeProber{result: models.StageResult{Status: models.IntegrationSuccess, MX: &models.MXResult{HasMXRecords: true}}},
		models.StageWebsite: fakeProber{result: models.StageResult{Status: models.IntegrationSuccess, Website: &models.WebsiteResult{Reachable: false}}},
		models.StagePhone:   fakeProber{result: models.StageResult{Status: models.IntegrationSuccess, Phone: &models.PhoneResult{Valid: true}}},
	}

	llm := fakeAdjuster{result: llmadjuster.Result{Summary: "elevated risk", Details: "multiple signals", ScoreAdjustment: 10}}
	o := baseOrchestrator(s, probers, llm)
	require.NoError(t, o.Run(context.Background(), models.Job{CompanyID: "c5", RetryMode: models.RetryFull}))

	latest, _ := s.FetchLatestAnalysis(context.Background(), "c5")
	require.NotNil(t, latest.LLMSummary)
	require.Equal(t, "elevated risk", *latest.LLMSummary)
	require.True(t, latest.IsComplete)
	// rule_score = 30(domain_age+privacy) + 25(website) + 10(email) = 65, below 70; adjustment +10 -> 75
	require.Equal(t, 75, latest.RiskScore)

	c, _ := s.FetchCompany(context.Background(), "c5")
	require.Equal(t, models.StatusFraudulent, c.Status)
}

func TestRun_SelectiveRetryEmptyFailedChecksReusesData(t *testing.T) {
	s := newFakeStore()
	s.seed(baseCompany("c6"))

	probers := map[models.StageTag]Prober{
		models.StageWhois:   okWhoisProber(800, false),
		models.StageDNS:     fakeProber{result: models.StageResult{Status: models.IntegrationSuccess, DNS: &models.DNSResult{Resolves: true}}},
		models.StageMX:      fakeProber{result: models.StageResult{Status: models.IntegrationSuccess, MX: &models.MXResult{HasMXRecords: true}}},
		models.StageWebsite: fakeProber{result: models.StageResult{Status: models.IntegrationSuccess, Website: &models.WebsiteResult{Reachable: true}}},
		models.StagePhone:   fakeProber{result: models.StageResult{Status: models.IntegrationSuccess, Phone: &models.PhoneResult{Valid: true}}},
	}
	o := baseOrchestrator(s, probers, nil)
	require.NoError(t, o.Run(context.Background(), models.Job{CompanyID: "c6", RetryMode: models.RetryFull}))

	first, _ := s.FetchLatestAnalysis(context.Background(), "c6")

	// A probe set that would fail everything, to prove it is never invoked.
	poisonProbers := map[models.StageTag]Prober{
		models.StageWhois: fakeProber{result: models.Failed("must not run")}, models.StageDNS: fakeProber{result: models.Failed("must not run")},
		models.StageMX: fakeProber{result: models.Failed("must not run")}, models.StageWebsite: fakeProber{result: models.Failed("must not run")},
		models.StagePhone: fakeProber{result: models.Failed("must not run")},
	}
	o2 := baseOrchestrator(s, poisonProbers, nil)
	require.NoError(t, o2.Run(context.Background(), models.Job{CompanyID: "c6", RetryMode: models.RetryFailedOnly, FailedChecks: nil}))

	second, _ := s.FetchLatestAnalysis(context.Background(), "c6")
	require.Equal(t, first.Version+1, second.Version)
	require.Equal(t, first.RiskScore, second.RiskScore)
	require.Equal(t, first.Signals, second.Signals)
}

func TestRun_MissingCompanyIsFatal(t *testing.T) {
	s := newFakeStore()
	o := baseOrchestrator(s, nil, nil)

	err := o.Run(context.Background(), models.Job{CompanyID: "ghost", RetryMode: models.RetryFull})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrFatal))
}
