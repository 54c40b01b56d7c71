package integrations

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/codeready-toolchain/verihub/pkg/models"
	"github.com/miekg/dns"
)

// resolverAddr is the upstream resolver used for A/NS/MX queries. A fixed
// public resolver keeps the client stateless and independent of the host's
// /etc/resolv.conf, matching "holds no cross-call state" (spec.md §4.2).
const resolverAddr = "8.8.8.8:53"

// DNSClient resolves apex A and NS records for a domain.
type DNSClient struct {
	exchange func(m *dns.Msg, addr string) (*dns.Msg, error)
}

// NewDNSClient builds a client backed by real DNS queries.
func NewDNSClient() *DNSClient {
	c := new(dns.Client)
	return &DNSClient{
		exchange: func(m *dns.Msg, addr string) (*dns.Msg, error) {
			resp, _, err := c.Exchange(m, addr)
			return resp, err
		},
	}
}

// Lookup resolves A and NS records within the given timeout. Missing
// records are not a failure; only an unrecoverable resolver error is
// (spec.md §4.2).
func (c *DNSClient) Lookup(ctx context.Context, domain string, timeout time.Duration) models.StageResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct{ result models.StageResult }
	done := make(chan outcome, 1)

	go func() {
		done <- outcome{result: c.lookup(domain)}
	}()

	select {
	case <-ctx.Done():
		return models.Failed("dns: " + ctx.Err().Error())
	case o := <-done:
		return o.result
	}
}

func (c *DNSClient) lookup(domain string) models.StageResult {
	aRecords, err := c.queryA(domain)
	if err != nil {
		return models.Failed(fmt.Sprintf("dns: A query: %v", err))
	}

	nameservers, err := c.queryNS(domain)
	if err != nil {
		return models.Failed(fmt.Sprintf("dns: NS query: %v", err))
	}

	return models.StageResult{
		Status: models.IntegrationSuccess,
		DNS: &models.DNSResult{
			Resolves:    len(aRecords) > 0,
			Nameservers: nameservers,
			ARecords:    aRecords,
		},
	}
}

func (c *DNSClient) queryA(domain string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeA)
	resp, err := c.exchange(m, resolverAddr)
	if err != nil {
		return nil, err
	}
	if resp.Rcode == dns.RcodeNameError || resp.Rcode == dns.RcodeSuccess {
		var out []string
		for _, rr := range resp.Answer {
			if a, ok := rr.(*dns.A); ok {
				out = append(out, a.A.String())
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unexpected rcode %d", resp.Rcode)
}

func (c *DNSClient) queryNS(domain string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeNS)
	resp, err := c.exchange(m, resolverAddr)
	if err != nil {
		return nil, err
	}
	if resp.Rcode != dns.RcodeNameError && resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("unexpected rcode %d", resp.Rcode)
	}
	var out []string
	for _, rr := range resp.Answer {
		if ns, ok := rr.(*dns.NS); ok {
			out = append(out, strings.TrimSuffix(ns.Ns, "."))
		}
	}
	return out, nil
}

// MXClient resolves MX records for a domain.
type MXClient struct {
	exchange func(m *dns.Msg, addr string) (*dns.Msg, error)
}

// NewMXClient builds a client backed by real DNS queries.
func NewMXClient() *MXClient {
	c := new(dns.Client)
	return &MXClient{
		exchange: func(m *dns.Msg, addr string) (*dns.Msg, error) {
			resp, _, err := c.Exchange(m, addr)
			return resp, err
		},
	}
}

type mxRecord struct {
	pref uint16
	host string
}

// Lookup resolves MX records for domain within the given timeout. Records
// are sorted ascending by preference then host (spec.md §4.2).
func (c *MXClient) Lookup(ctx context.Context, domain string, timeout time.Duration) models.StageResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct{ result models.StageResult }
	done := make(chan outcome, 1)

	go func() {
		done <- outcome{result: c.lookup(domain)}
	}()

	select {
	case <-ctx.Done():
		return models.Failed("mx: " + ctx.Err().Error())
	case o := <-done:
		return o.result
	}
}

func (c *MXClient) lookup(domain string) models.StageResult {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeMX)
	resp, err := c.exchange(m, resolverAddr)
	if err != nil {
		return models.Failed(fmt.Sprintf("mx: %v", err))
	}
	if resp.Rcode != dns.RcodeNameError && resp.Rcode != dns.RcodeSuccess {
		return models.Failed(fmt.Sprintf("mx: unexpected rcode %d", resp.Rcode))
	}

	var records []mxRecord
	for _, rr := range resp.Answer {
		if mx, ok := rr.(*dns.MX); ok {
			records = append(records, mxRecord{pref: mx.Preference, host: strings.TrimSuffix(mx.Mx, ".")})
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].pref != records[j].pref {
			return records[i].pref < records[j].pref
		}
		return records[i].host < records[j].host
	})

	hosts := make([]string, 0, len(records))
	for _, r := range records {
		hosts = append(hosts, r.host)
	}

	return models.StageResult{
		Status: models.IntegrationSuccess,
		MX: &models.MXResult{
			HasMXRecords:    len(hosts) > 0,
			MXRecords:       hosts,
			EmailConfigured: len(hosts) > 0,
		},
	}
}

// DomainFor returns the MX-lookup target: the email local-part's domain if
// the email is present and well-formed, else the company domain (spec.md §4.2).
func DomainFor(email, companyDomain string) string {
	if at := strings.LastIndex(email, "@"); at >= 0 && at < len(email)-1 {
		return strings.TrimSpace(email[at+1:])
	}
	return companyDomain
}
