package models

import (
	"time"

	id "brokerguard/pkg/domain"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// EscalationLevel maps severity onto the number of organizational tiers that
// receive the alert: 1 compliance team, 2 adds senior compliance, 3 adds executives.
func (s Severity) EscalationLevel() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	default:
		return 1
	}
}

type Status string

const (
	StatusOpen         Status = "OPEN"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusResolved     Status = "RESOLVED"
	StatusIgnored      Status = "IGNORED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusIgnored
}

// Type names what produced the alert.
type Type string

const (
	TypeComplianceCheck Type = "COMPLIANCE_CHECK"
	TypeLicense         Type = "LICENSE"
	TypeLicenseExpiry   Type = "LICENSE_EXPIRY"
	TypeKYC             Type = "KYC"
	TypeManualReview    Type = "MANUAL_REVIEW"
)

// NewAlert is the input to raising an alert.
type NewAlert struct {
	Type            Type
	Severity        Severity
	Message         string
	Details         map[string]any
	Recommendations []string
}

type Alert struct {
	ID              id.AlertID
	BrokerID        id.BrokerID
	Type            Type
	Severity        Severity
	Message         string
	Details         map[string]any
	Recommendations []string
	Status          Status
	EscalationLevel int
	ResolutionNote  string
	HandledBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CanTransition enforces the alert lifecycle: only OPEN alerts may be
// acknowledged; OPEN and ACKNOWLEDGED alerts may be resolved or ignored.
func (a *Alert) CanTransition(to Status) bool {
	switch to {
	case StatusAcknowledged:
		return a.Status == StatusOpen
	case StatusResolved, StatusIgnored:
		return a.Status == StatusOpen || a.Status == StatusAcknowledged
	}
	return false
}
