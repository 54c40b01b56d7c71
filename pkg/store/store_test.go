package store

import (
	"context"
	"testing"
	"time"

	"github.com/codeready-toolchain/verihub/pkg/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestStore starts a disposable PostgreSQL container, applies migrations
// through the real New() path, and returns a ready Store.
func newTestStore(t *testing.T) *Store {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("verihub_test"),
		postgres.WithUsername("verihub"),
		postgres.WithPassword("verihub"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := Config{
		Host: host, Port: port.Int(), User: "verihub", Password: "verihub", Database: "verihub_test",
		SSLMode: "disable", MaxOpenConns: 10, MaxIdleConns: 2, ConnMaxLifetime: time.Hour,
	}

	s, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func seedCompany(t *testing.T, s *Store, name, domain string) string {
	t.Helper()
	var id string
	err := s.pool.QueryRow(context.Background(), `
		INSERT INTO companies (name, domain, email, phone) VALUES ($1, $2, $3, $4) RETURNING id::text`,
		name, domain, "info@"+domain, "+15551234567").Scan(&id)
	require.NoError(t, err)
	return id
}

func TestStore_FetchCompany_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.FetchCompany(context.Background(), "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestStore_FetchCompany_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	id := seedCompany(t, s, "NovaGeo", "novageo.io")

	c, err := s.FetchCompany(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "NovaGeo", c.Name)
	require.Equal(t, "novageo.io", c.Domain)
	require.Equal(t, models.StatusPending, c.Status)
}

func TestStore_SaveAnalysis_AssignsIncreasingVersions(t *testing.T) {
	s := newTestStore(t)
	id := seedCompany(t, s, "NovaGeo", "novageo.io")

	a1, err := s.SaveAnalysis(context.Background(), SaveAnalysisParams{
		CompanyID: id, RiskScore: 10, IsComplete: true, AlgorithmVersion: "v1",
		SubmittedData: models.DeclaredData{Name: "NovaGeo", Domain: "novageo.io"},
		DiscoveredData: models.DiscoveredData{
			models.StageWhois: {Status: models.IntegrationSuccess, Whois: &models.WhoisResult{}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, a1.Version)

	a2, err := s.SaveAnalysis(context.Background(), SaveAnalysisParams{
		CompanyID: id, RiskScore: 20, IsComplete: true, AlgorithmVersion: "v1",
		SubmittedData:  models.DeclaredData{Name: "NovaGeo", Domain: "novageo.io"},
		DiscoveredData: models.DiscoveredData{},
	})
	require.NoError(t, err)
	require.Equal(t, 2, a2.Version)

	latest, err := s.FetchLatestAnalysis(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 2, latest.Version)

	c, err := s.FetchCompany(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 20, c.RiskScore)
	require.Equal(t, models.StatusApproved, c.Status)
}

func TestStore_SaveAnalysis_AutoClassifiesFraudulent(t *testing.T) {
	s := newTestStore(t)
	id := seedCompany(t, s, "Shady Co", "shady.example")

	_, err := s.SaveAnalysis(context.Background(), SaveAnalysisParams{
		CompanyID: id, RiskScore: 85, IsComplete: true, AlgorithmVersion: "v1",
		SubmittedData:  models.DeclaredData{Name: "Shady Co", Domain: "shady.example"},
		DiscoveredData: models.DiscoveredData{},
	})
	require.NoError(t, err)

	c, err := s.FetchCompany(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, models.StatusFraudulent, c.Status)
}
