package signals

import (
	"strconv"
	"strings"

	"github.com/codeready-toolchain/verihub/pkg/models"
)

// Generate produces the ordered signal list for one analysis run
// (spec.md §4.3). Every probe result is the rehydrated-or-fresh
// models.StageResult for that stage; callers pass a zero-value StageResult
// (Ok() == false) for a stage that was never run and has no prior data.
//
// Field order follows the table in spec.md §4.3 exactly. email_match and
// mx_records are mutually exclusive: exactly one of the two is emitted,
// selected by whether declared.Email is present.
func Generate(declared models.DeclaredData, whois, dnsResult, web, mx, phone models.StageResult, w Weights) []models.Signal {
	out := make([]models.Signal, 0, 7)

	out = append(out, domainAgeSignal(whois, w))
	if whois.Ok() {
		out = append(out, whoisPrivacySignal(whois, w))
	}
	out = append(out, dnsSignal(dnsResult, w))
	out = append(out, websiteSignal(web, w))

	if strings.TrimSpace(declared.Email) != "" {
		out = append(out, emailMatchSignal(declared, mx, w))
	} else {
		out = append(out, mxRecordsSignal(mx, w))
	}

	if strings.TrimSpace(declared.Phone) != "" {
		out = append(out, phoneSignal(phone, w))
	}

	return out
}

func domainAgeSignal(whois models.StageResult, w Weights) models.Signal {
	if !whois.Ok() {
		return models.Signal{
			Field: models.FieldDomainAge, Status: models.SignalSuspicious,
			Value: "whois failed", Weight: w.DomainAgeSuspicious, Severity: models.SeverityHigh,
		}
	}
	age := whois.Whois.DomainAgeDays
	if age == nil || *age < 365 {
		value := "unknown"
		if age != nil {
			value = strconv.Itoa(*age) + "d"
		}
		return models.Signal{
			Field: models.FieldDomainAge, Status: models.SignalSuspicious,
			Value: value, Weight: w.DomainAgeSuspicious, Severity: models.SeverityHigh,
		}
	}
	return models.Signal{
		Field: models.FieldDomainAge, Status: models.SignalOK,
		Value: strconv.Itoa(*age) + "d", Weight: 0, Severity: models.SeverityLow,
	}
}

func whoisPrivacySignal(whois models.StageResult, w Weights) models.Signal {
	if whois.Whois.PrivacyEnabled {
		return models.Signal{
			Field: models.FieldWhoisPrivacy, Status: models.SignalSuspicious,
			Value: "privacy enabled", Weight: w.WhoisPrivacySuspicious, Severity: models.SeverityMedium,
		}
	}
	return models.Signal{
		Field: models.FieldWhoisPrivacy, Status: models.SignalOK,
		Value: "no privacy service", Weight: 0, Severity: models.SeverityLow,
	}
}

func dnsSignal(dnsResult models.StageResult, w Weights) models.Signal {
	if dnsResult.Ok() && dnsResult.DNS.Resolves {
		return models.Signal{
			Field: models.FieldDNSResolution, Status: models.SignalOK,
			Value: "resolves", Weight: 0, Severity: models.SeverityLow,
		}
	}
	value := "does not resolve"
	if !dnsResult.Ok() {
		value = "dns lookup failed"
	}
	return models.Signal{
		Field: models.FieldDNSResolution, Status: models.SignalSuspicious,
		Value: value, Weight: w.DNSSuspicious, Severity: models.SeverityHigh,
	}
}

func websiteSignal(web models.StageResult, w Weights) models.Signal {
	if web.Ok() && web.Website.Reachable {
		return models.Signal{
			Field: models.FieldWebsiteLookup, Status: models.SignalOK,
			Value: "reachable", Weight: 0, Severity: models.SeverityLow,
		}
	}
	value := "unreachable"
	if !web.Ok() {
		value = "lookup failed"
	}
	return models.Signal{
		Field: models.FieldWebsiteLookup, Status: models.SignalSuspicious,
		Value: value, Weight: w.WebsiteSuspicious, Severity: models.SeverityHigh,
	}
}

func emailMatchSignal(declared models.DeclaredData, mx models.StageResult, w Weights) models.Signal {
	emailDomain := ""
	if at := strings.LastIndex(declared.Email, "@"); at >= 0 && at < len(declared.Email)-1 {
		emailDomain = declared.Email[at+1:]
	}
	matches := strings.EqualFold(emailDomain, declared.Domain)

	if !matches {
		return models.Signal{
			Field: models.FieldEmailMatch, Status: models.SignalMismatch,
			Value: emailDomain, Weight: w.EmailMismatch, Severity: models.SeverityMedium,
		}
	}
	if mx.Ok() && mx.MX.HasMXRecords {
		return models.Signal{
			Field: models.FieldEmailMatch, Status: models.SignalOK,
			Value: emailDomain, Weight: 0, Severity: models.SeverityLow,
		}
	}
	return models.Signal{
		Field: models.FieldEmailMatch, Status: models.SignalSuspicious,
		Value: emailDomain, Weight: w.EmailMXAbsentSuspicious, Severity: models.SeverityMedium,
	}
}

func mxRecordsSignal(mx models.StageResult, w Weights) models.Signal {
	if mx.Ok() && mx.MX.HasMXRecords {
		return models.Signal{
			Field: models.FieldMXRecords, Status: models.SignalOK,
			Value: "mx present", Weight: 0, Severity: models.SeverityLow,
		}
	}
	return models.Signal{
		Field: models.FieldMXRecords, Status: models.SignalSuspicious,
		Value: "no mx records", Weight: w.MXAbsentSuspicious, Severity: models.SeverityMedium,
	}
}

func phoneSignal(phone models.StageResult, w Weights) models.Signal {
	if !phone.Ok() {
		return models.Signal{
			Field: models.FieldPhoneValidation, Status: models.SignalSuspicious,
			Value: "parser failed", Weight: w.PhoneParseFailed, Severity: models.SeverityMedium,
		}
	}
	if phone.Phone.Valid {
		return models.Signal{
			Field: models.FieldPhoneValidation, Status: models.SignalOK,
			Value: "valid", Weight: 0, Severity: models.SeverityLow,
		}
	}
	return models.Signal{
		Field: models.FieldPhoneValidation, Status: models.SignalSuspicious,
		Value: "invalid", Weight: w.PhoneInvalid, Severity: models.SeverityMedium,
	}
}
