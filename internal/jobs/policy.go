package jobs

import (
	"time"
)

type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffFixed       BackoffKind = "fixed"
)

// Backoff computes the delay before a retry.
type Backoff struct {
	Kind BackoffKind
	Base time.Duration
}

const maxBackoff = 6 * time.Hour

// Delay returns the wait before the given retry; attempt is 1-based and
// counts the attempt that just failed.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if b.Kind != BackoffExponential {
		return b.Base
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// EnqueueOptions mirror the queue contract: an optional delay, an attempt
// budget and a backoff policy.
type EnqueueOptions struct {
	Delay    time.Duration
	Attempts int
	Backoff  Backoff
}

var defaultPolicies = map[Name]EnqueueOptions{
	NameVerifyLicense:          {Attempts: 5, Backoff: Backoff{Kind: BackoffExponential, Base: 30 * time.Second}},
	NameRecheckLicenseStatus:   {Attempts: 5, Backoff: Backoff{Kind: BackoffExponential, Base: 30 * time.Second}},
	NameRunComplianceChecks:    {Attempts: 5, Backoff: Backoff{Kind: BackoffExponential, Base: 30 * time.Second}},
	NameVerifyDirectors:        {Attempts: 4, Backoff: Backoff{Kind: BackoffExponential, Base: 30 * time.Second}},
	NameVerifyDocuments:        {Attempts: 4, Backoff: Backoff{Kind: BackoffExponential, Base: 30 * time.Second}},
	NameManualReview:           {Attempts: 3, Backoff: Backoff{Kind: BackoffFixed, Base: time.Minute}},
	NameSendVerificationResult: {Attempts: 5, Backoff: Backoff{Kind: BackoffFixed, Base: time.Minute}},
	NameLicenseRenewalReminder: {Attempts: 5, Backoff: Backoff{Kind: BackoffFixed, Base: time.Minute}},
	NameDailyComplianceBatch:   {Attempts: 3, Backoff: Backoff{Kind: BackoffFixed, Base: 5 * time.Minute}},
	NameLicenseStatusSweep:     {Attempts: 3, Backoff: Backoff{Kind: BackoffFixed, Base: 5 * time.Minute}},
	NameExpiryReminderSweep:    {Attempts: 3, Backoff: Backoff{Kind: BackoffFixed, Base: 5 * time.Minute}},
	NameGenerateReport:         {Attempts: 3, Backoff: Backoff{Kind: BackoffFixed, Base: 5 * time.Minute}},
}

// DefaultOptions returns the retry policy for a job name.
func DefaultOptions(name Name) EnqueueOptions {
	if o, ok := defaultPolicies[name]; ok {
		return o
	}
	return EnqueueOptions{Attempts: 1, Backoff: Backoff{Kind: BackoffFixed, Base: time.Minute}}
}

// WithDelay returns the job's default options with a start delay.
func WithDelay(name Name, d time.Duration) EnqueueOptions {
	o := DefaultOptions(name)
	o.Delay = d
	return o
}
