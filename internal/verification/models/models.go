package models

import (
	"time"

	id "brokerguard/pkg/domain"
)

// Type names a verification stage. One record exists per (broker, type).
type Type string

const (
	TypeLicense      Type = "LICENSE"
	TypeDocuments    Type = "DOCUMENTS"
	TypeTechnical    Type = "TECHNICAL"
	TypeManualReview Type = "MANUAL_REVIEW"
	TypeKYCDirectors Type = "KYC_DIRECTORS"
	TypeKYCUBOs      Type = "KYC_UBOS"
	TypeAMLSanctions Type = "AML_SANCTIONS"
	// TypeCompliance names the compliance-check stage when it is routed to
	// manual review. It has no record of its own.
	TypeCompliance Type = "COMPLIANCE"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeLicense, TypeDocuments, TypeTechnical, TypeManualReview, TypeKYCDirectors, TypeKYCUBOs, TypeAMLSanctions, TypeCompliance:
		return true
	}
	return false
}

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusApproved   Status = "APPROVED"
	StatusRejected   Status = "REJECTED"
)

type KYCStatus string

const (
	KYCNotStarted             KYCStatus = "NOT_STARTED"
	KYCInProgress             KYCStatus = "IN_PROGRESS"
	KYCAdditionalInfoRequired KYCStatus = "ADDITIONAL_INFO_REQUIRED"
	KYCUnderReview            KYCStatus = "UNDER_REVIEW"
	KYCApproved               KYCStatus = "APPROVED"
	KYCRejected               KYCStatus = "REJECTED"
)

// Key identifies a verification record.
type Key struct {
	BrokerID id.BrokerID
	Type     Type
}

func (k Key) String() string {
	return k.BrokerID.String() + "/" + string(k.Type)
}

type FSCAResponse struct {
	IsValid       bool       `json:"is_valid"`
	LicenseStatus string     `json:"license_status"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`
	Restrictions  []string   `json:"restrictions,omitempty"`
	RiskRating    string     `json:"risk_rating,omitempty"`
	CheckedAt     time.Time  `json:"checked_at"`
}

// PersonCheck is the screening outcome for one director or UBO.
type PersonCheck struct {
	Name               string    `json:"name"`
	IDNumber           string    `json:"id_number"`
	IDValid            bool      `json:"id_valid"`
	SanctionsMatch     bool      `json:"sanctions_match"`
	PEP                bool      `json:"pep"`
	VerificationStatus Status    `json:"verification_status"`
	RiskScore          int       `json:"risk_score"`
	Issues             []string  `json:"issues,omitempty"`
	CheckedAt          time.Time `json:"checked_at"`
}

type AMLChecks struct {
	SanctionsClear    bool      `json:"sanctions_clear"`
	PEPClear          bool      `json:"pep_clear"`
	AdverseMediaClear bool      `json:"adverse_media_clear"`
	Matches           []string  `json:"matches,omitempty"`
	RiskLevel         string    `json:"risk_level,omitempty"`
	CheckedAt         time.Time `json:"checked_at"`
}

type KYCData struct {
	Directors []PersonCheck `json:"directors,omitempty"`
	UBOs      []PersonCheck `json:"ubos,omitempty"`
	AMLChecks *AMLChecks    `json:"aml_checks,omitempty"`
}

type Document struct {
	Type       string     `json:"type"`
	Reference  string     `json:"reference"`
	Status     Status     `json:"status"`
	Issues     []string   `json:"issues,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

type DecisionStatus string

const (
	DecisionApproved               DecisionStatus = "APPROVED"
	DecisionRejected               DecisionStatus = "REJECTED"
	DecisionRequiresAdditionalInfo DecisionStatus = "REQUIRES_ADDITIONAL_INFO"
)

type KYCDecision struct {
	Status                 DecisionStatus `json:"status"`
	Reason                 string         `json:"reason"`
	DecidedAt              time.Time      `json:"decided_at"`
	AdditionalInfoRequired []string       `json:"additional_info_required,omitempty"`
	NextReviewDate         *time.Time     `json:"next_review_date,omitempty"`
	Conditions             []string       `json:"conditions,omitempty"`
}

// Record is the persisted state of one verification stage for a broker.
type Record struct {
	ID           string
	BrokerID     id.BrokerID
	Type         Type
	Status       Status
	KYCStatus    KYCStatus
	FSCAResponse *FSCAResponse
	KYCData      *KYCData
	Documents    []Document
	KYCDecision  *KYCDecision
	Notes        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewRecord is the initial state used when the first write for a key arrives.
func NewRecord(key Key, now time.Time) *Record {
	return &Record{
		BrokerID:  key.BrokerID,
		Type:      key.Type,
		Status:    StatusPending,
		KYCStatus: KYCNotStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *Record) Approved() bool {
	return r != nil && r.Status == StatusApproved
}

// EnsureKYCData returns KYCData, allocating it on first use.
func (r *Record) EnsureKYCData() *KYCData {
	if r.KYCData == nil {
		r.KYCData = &KYCData{}
	}
	return r.KYCData
}
