package integrations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/codeready-toolchain/verihub/pkg/models"
	"github.com/nyaruka/phonenumbers"
)

// defaultRegion is used to disambiguate national-format numbers that carry
// no country code (spec.md §4.2).
const defaultRegion = "US"

// PhoneClient validates and normalizes a declared phone number. It makes no
// network call; the probe exists purely to keep phone parsing on the same
// per-stage timeout contract as the network-backed checks. It is not rate
// limited.
type PhoneClient struct{}

// NewPhoneClient builds a PhoneClient.
func NewPhoneClient() *PhoneClient {
	return &PhoneClient{}
}

// Lookup parses and validates raw within timeout. An empty or
// whitespace-only number is a failure, not a panic (spec.md §4.2).
func (c *PhoneClient) Lookup(ctx context.Context, raw string, timeout time.Duration) models.StageResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan models.StageResult, 1)
	go func() {
		done <- c.lookup(raw)
	}()

	select {
	case <-ctx.Done():
		return models.Failed("phone: " + ctx.Err().Error())
	case r := <-done:
		return r
	}
}

func (c *PhoneClient) lookup(raw string) models.StageResult {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return models.Failed("phone: empty number")
	}

	num, err := phonenumbers.Parse(trimmed, defaultRegion)
	if err != nil {
		return models.Failed(fmt.Sprintf("phone: %v", err))
	}

	valid := phonenumbers.IsValidNumber(num)
	normalized := phonenumbers.Format(num, phonenumbers.E164)
	region := phonenumbers.GetRegionCodeForNumber(num)

	return models.StageResult{
		Status: models.IntegrationSuccess,
		Phone: &models.PhoneResult{
			Normalized: &normalized,
			Valid:      valid,
			Region:     &region,
		},
	}
}
