package integrations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/codeready-toolchain/verihub/pkg/models"
	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
)

// privacyTokens are substrings that identify a registrar or nameserver as a
// WHOIS privacy proxy (spec.md §4.2).
var privacyTokens = []string{"privacy", "whoisguard", "domainsbyproxy"}

// WhoisClient looks up domain registration data. It holds no cross-call
// state and never retries — the orchestrator owns retry policy (spec.md §4.2).
type WhoisClient struct {
	// rawQuery performs the network WHOIS query; overridable in tests.
	rawQuery func(domain string) (string, error)
}

// NewWhoisClient builds a client backed by a real WHOIS query.
func NewWhoisClient() *WhoisClient {
	return &WhoisClient{rawQuery: whois.Whois}
}

// Lookup resolves domain registration data within the given timeout.
func (c *WhoisClient) Lookup(ctx context.Context, domain string, timeout time.Duration) models.StageResult {
	type outcome struct {
		result models.StageResult
	}
	done := make(chan outcome, 1)

	go func() {
		done <- outcome{result: c.lookup(domain)}
	}()

	select {
	case <-ctx.Done():
		return models.Failed("whois: " + ctx.Err().Error())
	case o := <-done:
		return o.result
	case <-time.After(timeout):
		return models.Failed("whois: timed out")
	}
}

func (c *WhoisClient) lookup(domain string) models.StageResult {
	raw, err := c.rawQuery(domain)
	if err != nil {
		return models.Failed(fmt.Sprintf("whois: %v", err))
	}

	parsed, err := whoisparser.Parse(raw)
	if err != nil {
		return models.Failed(fmt.Sprintf("whois: parse: %v", err))
	}

	var creation *time.Time
	if parsed.Domain != nil && parsed.Domain.CreatedDateInTime != nil {
		creation = parsed.Domain.CreatedDateInTime
	}

	var ageDays *int
	if creation != nil {
		days := int(time.Now().UTC().Sub(creation.UTC()).Hours() / 24)
		ageDays = &days
	}

	var registrar *string
	if parsed.Registrar != nil && parsed.Registrar.Name != "" {
		registrar = &parsed.Registrar.Name
	}

	privacy := containsPrivacyToken(registrar) || nameserversHavePrivacyToken(parsed)

	return models.StageResult{
		Status: models.IntegrationSuccess,
		Whois: &models.WhoisResult{
			DomainAgeDays:  ageDays,
			Registrar:      registrar,
			PrivacyEnabled: privacy,
			CreationDate:   creation,
		},
	}
}

func containsPrivacyToken(s *string) bool {
	if s == nil {
		return false
	}
	lower := strings.ToLower(*s)
	for _, token := range privacyTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

func nameserversHavePrivacyToken(parsed whoisparser.WhoisInfo) bool {
	if parsed.Domain == nil {
		return false
	}
	for _, ns := range parsed.Domain.NameServers {
		lower := strings.ToLower(ns)
		for _, token := range privacyTokens {
			if strings.Contains(lower, token) {
				return true
			}
		}
	}
	return false
}
