package kyc

import (
	"slices"
	"time"

	verification "brokerguard/internal/verification/models"
)

const (
	ReasonAllPassed      = "All KYC/AML checks passed"
	ReasonChecksFailed   = "KYC/AML checks failed"
	ReasonMissingRecords = "Additional verification required"

	InfoAMLScreening         = "AML screening required"
	InfoDocumentVerification = "Document verification required"

	ConditionPeriodicReview = "Periodic review required"
)

const (
	PeriodicReviewInterval   = 365 * 24 * time.Hour
	AdditionalInfoReviewWait = 7 * 24 * time.Hour
)

// Inputs are the persisted records the decision depends on. Any may be nil.
type Inputs struct {
	Directors *verification.Record
	AML       *verification.Record
	Documents *verification.Record
}

// Decide applies the KYC rule chain. It is a pure function of its inputs and
// returns nil when there is no directors record to decide on.
//
// Rule priority:
//  1. No directors record - no decision
//  2. AML or documents record missing - additional info required
//  3. Everything approved - approved with periodic review
//  4. Otherwise - rejected
func Decide(in Inputs, now time.Time) *verification.KYCDecision {
	if in.Directors == nil {
		return nil
	}

	var missing []string
	if in.AML == nil {
		missing = append(missing, InfoAMLScreening)
	}
	if in.Documents == nil {
		missing = append(missing, InfoDocumentVerification)
	}
	if len(missing) > 0 {
		next := now.Add(AdditionalInfoReviewWait)
		return &verification.KYCDecision{
			Status:                 verification.DecisionRequiresAdditionalInfo,
			Reason:                 ReasonMissingRecords,
			DecidedAt:              now,
			AdditionalInfoRequired: missing,
			NextReviewDate:         &next,
		}
	}

	if in.Directors.Approved() && in.AML.Approved() && in.Documents.Approved() {
		next := now.Add(PeriodicReviewInterval)
		return &verification.KYCDecision{
			Status:         verification.DecisionApproved,
			Reason:         ReasonAllPassed,
			DecidedAt:      now,
			NextReviewDate: &next,
			Conditions:     []string{ConditionPeriodicReview},
		}
	}

	return &verification.KYCDecision{
		Status:    verification.DecisionRejected,
		Reason:    ReasonChecksFailed,
		DecidedAt: now,
	}
}

// SameOutcome reports whether two decisions differ only in timestamps.
func SameOutcome(a, b *verification.KYCDecision) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Status == b.Status &&
		a.Reason == b.Reason &&
		slices.Equal(a.AdditionalInfoRequired, b.AdditionalInfoRequired) &&
		slices.Equal(a.Conditions, b.Conditions)
}

// KYCStatusFor maps a decision onto the record's KYC status.
func KYCStatusFor(d *verification.KYCDecision) verification.KYCStatus {
	switch d.Status {
	case verification.DecisionApproved:
		return verification.KYCApproved
	case verification.DecisionRejected:
		return verification.KYCRejected
	default:
		return verification.KYCAdditionalInfoRequired
	}
}
