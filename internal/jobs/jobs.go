// Package jobs defines the closed set of work items that flow through the
// queue. Stages communicate only by enqueueing these.
package jobs

import (
	"time"

	verification "brokerguard/internal/verification/models"
	id "brokerguard/pkg/domain"
	pkgstrings "brokerguard/pkg/platform/strings"
)

type Name string

const (
	NameVerifyLicense          Name = "verify-fsca-license"
	NameVerifyDocuments        Name = "verify-documents"
	NameVerifyDirectors        Name = "verify-directors"
	NameManualReview           Name = "manual-review"
	NameSendVerificationResult Name = "send-verification-result"
	NameLicenseRenewalReminder Name = "license-renewal-reminder"
	NameRunComplianceChecks    Name = "run-compliance-checks"
	NameDailyComplianceBatch   Name = "daily-compliance-batch"
	NameLicenseStatusSweep     Name = "license-status-sweep"
	NameRecheckLicenseStatus   Name = "recheck-license-status"
	NameExpiryReminderSweep    Name = "expiry-reminder-sweep"
	NameGenerateReport         Name = "generate-report"
)

// Job is implemented only by the types in this package.
type Job interface {
	JobName() Name
	// LockKey serializes jobs touching the same (broker, stage). Empty means
	// the job needs no lock.
	LockKey() string
	isJob()
}

func brokerLock(brokerID id.BrokerID, stage Name) string {
	return "lock:" + brokerID.String() + ":" + string(stage)
}

type VerifyLicense struct {
	BrokerID id.BrokerID `json:"broker_id" validate:"required"`
}

type DocumentRef struct {
	Type      string `json:"type" validate:"required"`
	Reference string `json:"reference" validate:"required"`
}

type VerifyDocuments struct {
	BrokerID  id.BrokerID   `json:"broker_id" validate:"required"`
	Documents []DocumentRef `json:"documents" validate:"required,min=1,dive"`
}

var amlDocumentTypes = []string{"sanction", "pep", "adverse", "media", "aml"}

// IsAMLScreening reports whether the payload asks for AML screening rather
// than plain document validation.
func (j VerifyDocuments) IsAMLScreening() bool {
	for _, d := range j.Documents {
		if pkgstrings.ContainsAnyFold(d.Type, amlDocumentTypes...) {
			return true
		}
	}
	return false
}

type VerifyDirectors struct {
	BrokerID id.BrokerID `json:"broker_id" validate:"required"`
}

type ManualReview struct {
	BrokerID id.BrokerID       `json:"broker_id" validate:"required"`
	Stage    verification.Type `json:"stage" validate:"required"`
	Reason   string            `json:"reason" validate:"required"`
}

type SendVerificationResult struct {
	BrokerID id.BrokerID `json:"broker_id" validate:"required"`
	Status   string      `json:"status" validate:"required"`
	Reason   string      `json:"reason,omitempty"`
	Pending  []string    `json:"pending,omitempty"`
}

type ReminderKind string

const (
	ReminderRenewal       ReminderKind = "renewal"
	ReminderExpiryWarning ReminderKind = "expiry_warning"
	ReminderExpired       ReminderKind = "expired"
)

type LicenseRenewalReminder struct {
	BrokerID   id.BrokerID  `json:"broker_id" validate:"required"`
	Kind       ReminderKind `json:"kind" validate:"required,oneof=renewal expiry_warning expired"`
	DaysBefore int          `json:"days_before" validate:"gte=0"`
	ExpiryDate time.Time    `json:"expiry_date" validate:"required"`
}

type RunComplianceChecks struct {
	BrokerID id.BrokerID `json:"broker_id" validate:"required"`
	BatchID  string      `json:"batch_id,omitempty"`
}

type DailyComplianceBatch struct {
	MaxJitter time.Duration `json:"max_jitter" validate:"gte=0"`
}

type LicenseStatusSweep struct{}

type RecheckLicenseStatus struct {
	BrokerID id.BrokerID `json:"broker_id" validate:"required"`
}

type ExpiryReminderSweep struct {
	WindowDays int `json:"window_days" validate:"gte=1,lte=365"`
}

type ReportPeriod string

const (
	ReportWeekly  ReportPeriod = "weekly"
	ReportMonthly ReportPeriod = "monthly"
)

type GenerateReport struct {
	Period ReportPeriod `json:"period" validate:"required,oneof=weekly monthly"`
}

// Window is how far back the report looks.
func (j GenerateReport) Window() time.Duration {
	if j.Period == ReportMonthly {
		return 30 * 24 * time.Hour
	}
	return 7 * 24 * time.Hour
}

func (VerifyLicense) JobName() Name          { return NameVerifyLicense }
func (VerifyDocuments) JobName() Name        { return NameVerifyDocuments }
func (VerifyDirectors) JobName() Name        { return NameVerifyDirectors }
func (ManualReview) JobName() Name           { return NameManualReview }
func (SendVerificationResult) JobName() Name { return NameSendVerificationResult }
func (LicenseRenewalReminder) JobName() Name { return NameLicenseRenewalReminder }
func (RunComplianceChecks) JobName() Name    { return NameRunComplianceChecks }
func (DailyComplianceBatch) JobName() Name   { return NameDailyComplianceBatch }
func (LicenseStatusSweep) JobName() Name     { return NameLicenseStatusSweep }
func (RecheckLicenseStatus) JobName() Name   { return NameRecheckLicenseStatus }
func (ExpiryReminderSweep) JobName() Name    { return NameExpiryReminderSweep }
func (GenerateReport) JobName() Name         { return NameGenerateReport }

func (j VerifyLicense) LockKey() string   { return brokerLock(j.BrokerID, NameVerifyLicense) }
func (j VerifyDocuments) LockKey() string { return brokerLock(j.BrokerID, NameVerifyDocuments) }
func (j VerifyDirectors) LockKey() string { return brokerLock(j.BrokerID, NameVerifyDirectors) }
func (ManualReview) LockKey() string      { return "" }
func (SendVerificationResult) LockKey() string {
	return ""
}
func (LicenseRenewalReminder) LockKey() string { return "" }
func (j RunComplianceChecks) LockKey() string {
	return brokerLock(j.BrokerID, NameRunComplianceChecks)
}
func (DailyComplianceBatch) LockKey() string { return "lock:batch:" + string(NameDailyComplianceBatch) }
func (LicenseStatusSweep) LockKey() string   { return "lock:batch:" + string(NameLicenseStatusSweep) }

// RecheckLicenseStatus shares the license stage lock with VerifyLicense.
func (j RecheckLicenseStatus) LockKey() string { return brokerLock(j.BrokerID, NameVerifyLicense) }
func (ExpiryReminderSweep) LockKey() string    { return "lock:batch:" + string(NameExpiryReminderSweep) }
func (j GenerateReport) LockKey() string       { return "lock:report:" + string(j.Period) }

func (VerifyLicense) isJob()          {}
func (VerifyDocuments) isJob()        {}
func (VerifyDirectors) isJob()        {}
func (ManualReview) isJob()           {}
func (SendVerificationResult) isJob() {}
func (LicenseRenewalReminder) isJob() {}
func (RunComplianceChecks) isJob()    {}
func (DailyComplianceBatch) isJob()   {}
func (LicenseStatusSweep) isJob()     {}
func (RecheckLicenseStatus) isJob()   {}
func (ExpiryReminderSweep) isJob()    {}
func (GenerateReport) isJob()         {}
