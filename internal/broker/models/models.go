package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "brokerguard/pkg/domain"
)

// Status is the broker lifecycle state. Only verification outcomes move it.
type Status string

const (
	StatusPending             Status = "PENDING"
	StatusPendingVerification Status = "PENDING_VERIFICATION"
	StatusVerified            Status = "VERIFIED"
	StatusRejected            Status = "REJECTED"
	StatusSuspended           Status = "SUSPENDED"
	StatusDeleted             Status = "DELETED"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusPendingVerification, StatusVerified, StatusRejected, StatusSuspended, StatusDeleted:
		return true
	}
	return false
}

// Monitored reports whether periodic compliance checks apply to a broker in this state.
func (s Status) Monitored() bool {
	return s == StatusVerified || s == StatusPendingVerification
}

type Director struct {
	Name        string `json:"name"`
	IDNumber    string `json:"id_number"`
	Nationality string `json:"nationality,omitempty"`
	Role        string `json:"role,omitempty"`
	// Ownership is the percentage held; UBOs are directors with a non-zero share.
	Ownership decimal.Decimal `json:"ownership"`
}

func (d Director) IsUBO() bool {
	return d.Ownership.IsPositive()
}

type APIConfig struct {
	APIKey      string   `json:"api_key,omitempty"`
	APISecret   string   `json:"api_secret,omitempty"`
	WebhookURL  string   `json:"webhook_url,omitempty"`
	IPWhitelist []string `json:"ip_whitelist,omitempty"`
	RateLimit   int      `json:"rate_limit"`
}

type ComplianceInfo struct {
	FSCAVerified    bool       `json:"fsca_verified"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
	ComplianceScore float64    `json:"compliance_score"`
	LastScoredAt    *time.Time `json:"last_scored_at,omitempty"`
}

type Broker struct {
	ID                 id.BrokerID
	CompanyName        string
	RegistrationNumber string
	LicenseNumber      string
	LicenseCategory    string
	LicenseExpiry      *time.Time
	Status             Status
	// TrustScore is 0-100 and is written only by the compliance scorer.
	TrustScore     int
	ComplianceInfo ComplianceInfo
	IsActive       bool
	AUM            *decimal.Decimal
	ClientCount    *int
	APIConfig      APIConfig
	Directors      []Director
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Age is how long the broker has existed as of now.
func (b *Broker) Age(now time.Time) time.Duration {
	return now.Sub(b.CreatedAt)
}

func (b *Broker) HasLicense() bool {
	return b.LicenseNumber != ""
}

// UBOs returns the directors with an ownership stake.
func (b *Broker) UBOs() []Director {
	var out []Director
	for _, d := range b.Directors {
		if d.IsUBO() {
			out = append(out, d)
		}
	}
	return out
}

// Stats summarizes the broker population for periodic reports.
type Stats struct {
	ByStatus          map[Status]int
	AverageTrustScore float64
	Active            int
}
