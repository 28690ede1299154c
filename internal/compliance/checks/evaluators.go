package checks

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	brokermodels "brokerguard/internal/broker/models"
	"brokerguard/internal/compliance/models"
	"brokerguard/internal/providers/screening"
)

// Flags recorded on checks. Security flags name the failing sub-check.
const (
	FlagLicenseMissing        = "LICENSE_MISSING"
	FlagLicenseNotVerified    = "LICENSE_NOT_VERIFIED"
	FlagSanctionsMatch        = "SANCTIONS_MATCH"
	FlagSanctionsCheckFailed  = "SANCTIONS_CHECK_FAILED"
	FlagAdverseMediaFound     = "ADVERSE_MEDIA_FOUND"
	FlagAdverseMediaFailed    = "ADVERSE_MEDIA_CHECK_FAILED"
	FlagFinancialDataMissing  = "FINANCIAL_DATA_MISSING"
	FlagLowAUM                = "LOW_AUM"
	FlagSmallClientBase       = "SMALL_CLIENT_BASE"
	FlagAPIKeyMissing         = "API_KEY_MISSING"
	FlagAPISecretMissing      = "API_SECRET_MISSING"
	FlagWebhookURLMissing     = "WEBHOOK_URL_MISSING"
	FlagIPWhitelistEmpty      = "IP_WHITELIST_EMPTY"
	FlagRateLimitUnconfigured = "RATE_LIMIT_NOT_CONFIGURED"
)

const (
	RecCompleteLicenseVerification = "Complete FSCA license verification process"
	RecRetrySanctions              = "Retry sanctions screening once the provider is reachable"
	RecRetryAdverseMedia           = "Retry adverse media screening once the provider is reachable"
)

// MediaGracePeriod exempts newly onboarded brokers from media screening.
const MediaGracePeriod = 30 * 24 * time.Hour

var (
	aumTarget     = decimal.NewFromInt(100_000_000)
	clientTarget  = decimal.NewFromInt(1000)
	aumWeight     = decimal.NewFromFloat(0.6)
	clientWeight  = decimal.NewFromFloat(0.4)
	decimalOne    = decimal.NewFromInt(1)
	halfThreshold = decimal.NewFromFloat(0.5)
)

// evaluation is what an evaluator hands back to the runner.
type evaluation struct {
	result          models.Result
	score           float64
	details         map[string]any
	flags           []string
	recommendations []string
}

func evaluateLicense(b *brokermodels.Broker) evaluation {
	details := map[string]any{
		"license_number": b.LicenseNumber,
		"fsca_verified":  b.ComplianceInfo.FSCAVerified,
		"is_active":      b.IsActive,
	}
	if b.LicenseExpiry != nil {
		details["license_expiry"] = b.LicenseExpiry.Format(time.DateOnly)
	}

	switch {
	case !b.HasLicense():
		return evaluation{
			result:          models.ResultFail,
			score:           0,
			details:         details,
			flags:           []string{FlagLicenseMissing},
			recommendations: []string{"Obtain an FSCA license before trading"},
		}
	case b.ComplianceInfo.FSCAVerified && b.IsActive:
		return evaluation{result: models.ResultPass, score: 1.0, details: details}
	default:
		return evaluation{
			result:          models.ResultFail,
			score:           0.2,
			details:         details,
			flags:           []string{FlagLicenseNotVerified},
			recommendations: []string{RecCompleteLicenseVerification},
		}
	}
}

// evaluateSanctions returns a degraded WARNING and the provider error when
// the screening call fails, so a failed lookup never reads as a pass.
func evaluateSanctions(ctx context.Context, screener screening.Screener, b *brokermodels.Broker) (evaluation, error) {
	res, err := screener.Check(ctx, b.CompanyName, b.RegistrationNumber)
	if err != nil {
		return evaluation{
			result:          models.ResultWarning,
			score:           0.7,
			details:         map[string]any{"error": err.Error()},
			flags:           []string{FlagSanctionsCheckFailed},
			recommendations: []string{RecRetrySanctions},
		}, err
	}

	matches := make([]string, 0, len(res.Matches))
	for _, m := range res.Matches {
		matches = append(matches, m.ListName+": "+m.Name)
	}
	details := map[string]any{
		"match_count": len(res.Matches),
		"matches":     matches,
		"risk_level":  string(res.RiskLevel),
	}

	switch {
	case !res.HasMatches():
		return evaluation{result: models.ResultPass, score: 1.0, details: details}, nil
	case res.RiskLevel == screening.RiskHigh:
		return evaluation{
			result:          models.ResultFail,
			score:           0.1,
			details:         details,
			flags:           []string{FlagSanctionsMatch},
			recommendations: []string{"Suspend onboarding and escalate sanctions matches to the compliance officer"},
		}, nil
	default:
		return evaluation{
			result:          models.ResultWarning,
			score:           0.5,
			details:         details,
			flags:           []string{FlagSanctionsMatch},
			recommendations: []string{"Review potential sanctions matches manually"},
		}, nil
	}
}

func evaluateFinancialHealth(b *brokermodels.Broker) evaluation {
	if b.AUM == nil || b.ClientCount == nil {
		return evaluation{
			result:          models.ResultWarning,
			score:           0.7,
			details:         map[string]any{"aum_present": b.AUM != nil, "client_count_present": b.ClientCount != nil},
			flags:           []string{FlagFinancialDataMissing},
			recommendations: []string{"Provide assets under management and client count"},
		}
	}

	aumRatio := decimal.Min(b.AUM.Div(aumTarget), decimalOne)
	clientRatio := decimal.Min(decimal.NewFromInt(int64(*b.ClientCount)).Div(clientTarget), decimalOne)
	score, _ := aumWeight.Mul(aumRatio).Add(clientWeight.Mul(clientRatio)).Round(4).Float64()

	ev := evaluation{
		score: score,
		details: map[string]any{
			"aum":          b.AUM.String(),
			"client_count": *b.ClientCount,
		},
	}
	if aumRatio.LessThan(halfThreshold) {
		ev.flags = append(ev.flags, FlagLowAUM)
		ev.recommendations = append(ev.recommendations, "Increase assets under management")
	}
	if clientRatio.LessThan(halfThreshold) {
		ev.flags = append(ev.flags, FlagSmallClientBase)
		ev.recommendations = append(ev.recommendations, "Grow the active client base")
	}

	switch {
	case score >= 0.8:
		ev.result = models.ResultPass
	case score >= 0.5:
		ev.result = models.ResultWarning
	default:
		ev.result = models.ResultFail
	}
	return ev
}

type securityControl struct {
	flag           string
	recommendation string
	ok             func(brokermodels.APIConfig) bool
}

var securityControls = []securityControl{
	{FlagAPIKeyMissing, "Generate an API key", func(c brokermodels.APIConfig) bool { return c.APIKey != "" }},
	{FlagAPISecretMissing, "Generate an API secret", func(c brokermodels.APIConfig) bool { return c.APISecret != "" }},
	{FlagWebhookURLMissing, "Configure a webhook URL", func(c brokermodels.APIConfig) bool { return c.WebhookURL != "" }},
	{FlagIPWhitelistEmpty, "Restrict API access with an IP whitelist", func(c brokermodels.APIConfig) bool { return len(c.IPWhitelist) > 0 }},
	{FlagRateLimitUnconfigured, "Configure an API rate limit", func(c brokermodels.APIConfig) bool { return c.RateLimit > 0 }},
}

func evaluateSecurity(b *brokermodels.Broker) evaluation {
	var ev evaluation
	passed := 0
	for _, c := range securityControls {
		if c.ok(b.APIConfig) {
			passed++
			continue
		}
		ev.flags = append(ev.flags, c.flag)
		ev.recommendations = append(ev.recommendations, c.recommendation)
	}
	ev.score = float64(passed) / float64(len(securityControls))
	ev.details = map[string]any{"controls_passed": passed, "controls_total": len(securityControls)}

	switch {
	case ev.score >= 0.8:
		ev.result = models.ResultPass
	case ev.score >= 0.5:
		ev.result = models.ResultWarning
	default:
		ev.result = models.ResultFail
	}
	return ev
}
