package checks

import (
	"context"
	"time"

	brokermodels "brokerguard/internal/broker/models"
	"brokerguard/internal/compliance/models"
	"brokerguard/internal/providers/media"
)

// evaluateAdverseMedia skips the provider for brokers inside the grace period.
func evaluateAdverseMedia(ctx context.Context, monitor media.Monitor, b *brokermodels.Broker, now time.Time) (evaluation, error) {
	if b.Age(now) < MediaGracePeriod {
		return evaluation{
			result:  models.ResultPass,
			score:   0.9,
			details: map[string]any{"grace_period": true},
		}, nil
	}

	res, err := monitor.Coverage(ctx, b.CompanyName)
	if err != nil {
		return evaluation{
			result:          models.ResultWarning,
			score:           0.7,
			details:         map[string]any{"error": err.Error()},
			flags:           []string{FlagAdverseMediaFailed},
			recommendations: []string{RecRetryAdverseMedia},
		}, err
	}

	adverse := res.Adverse()
	if len(adverse) == 0 {
		return evaluation{
			result:  models.ResultPass,
			score:   0.95,
			details: map[string]any{"articles_reviewed": len(res.Articles)},
		}, nil
	}

	headlines := make([]string, 0, len(adverse))
	for _, a := range adverse {
		headlines = append(headlines, a.Source+": "+a.Title)
	}
	return evaluation{
		result: models.ResultWarning,
		score:  0.6,
		details: map[string]any{
			"articles_reviewed": len(res.Articles),
			"adverse_count":     len(adverse),
			"headlines":         headlines,
		},
		flags:           []string{FlagAdverseMediaFound},
		recommendations: []string{"Review negative media coverage with the broker"},
	}, nil
}
