package audit

import (
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with regulatory significance: broker status
	// changes, KYC decisions, license outcomes. Long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers escalations that may lead to suspension.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity: checks run, reminders sent,
	// jobs failing. Can be sampled or aggregated.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        string
	Category  EventCategory
	Timestamp time.Time
	// EntityID is the broker the event concerns, or a batch/report identifier.
	EntityID string
	Action   string
	Details  map[string]any
	// CorrelationID ties together events emitted by one job or batch.
	CorrelationID string
	JobID         string
}

type Action string

const (
	// Compliance checks
	ActionComplianceCheckCompleted Action = "compliance_check_completed"
	ActionComplianceScoreUpdated   Action = "compliance_score_updated"

	// Alerts
	ActionAlertRaised         Action = "alert_raised"
	ActionAlertEscalated      Action = "alert_escalated"
	ActionAlertAcknowledged   Action = "alert_acknowledged"
	ActionAlertResolved       Action = "alert_resolved"
	ActionAlertIgnored        Action = "alert_ignored"
	ActionSuspensionSuggested Action = "suspension_recommended"
	ActionNotificationFailed  Action = "notification_failed"

	// Verification
	ActionLicenseVerified       Action = "license_verified"
	ActionLicenseRejected       Action = "license_rejected"
	ActionDocumentsVerified     Action = "documents_verified"
	ActionDirectorsScreened     Action = "directors_screened"
	ActionKYCDecisionMade       Action = "kyc_decision_made"
	ActionBrokerStatusChanged   Action = "broker_status_changed"
	ActionManualReviewRequested Action = "manual_review_requested"
	ActionReminderSent          Action = "license_reminder_sent"

	// Jobs and reporting
	ActionJobFailed       Action = "job_failed"
	ActionBatchCompleted  Action = "batch_completed"
	ActionReportGenerated Action = "report_generated"
)

var actionCategories = map[Action]EventCategory{
	ActionLicenseVerified:       CategoryCompliance,
	ActionLicenseRejected:       CategoryCompliance,
	ActionDocumentsVerified:     CategoryCompliance,
	ActionDirectorsScreened:     CategoryCompliance,
	ActionKYCDecisionMade:       CategoryCompliance,
	ActionBrokerStatusChanged:   CategoryCompliance,
	ActionManualReviewRequested: CategoryCompliance,
	ActionAlertRaised:           CategoryCompliance,
	ActionAlertAcknowledged:     CategoryCompliance,
	ActionAlertResolved:         CategoryCompliance,
	ActionAlertIgnored:          CategoryCompliance,
	ActionReportGenerated:       CategoryCompliance,

	ActionAlertEscalated:      CategorySecurity,
	ActionSuspensionSuggested: CategorySecurity,

	ActionComplianceCheckCompleted: CategoryOperations,
	ActionComplianceScoreUpdated:   CategoryOperations,
	ActionNotificationFailed:       CategoryOperations,
	ActionReminderSent:             CategoryOperations,
	ActionJobFailed:                CategoryOperations,
	ActionBatchCompleted:           CategoryOperations,
}

// Category returns the EventCategory for this action.
// Unknown actions default to CategoryOperations.
func (a Action) Category() EventCategory {
	if cat, ok := actionCategories[a]; ok {
		return cat
	}
	return CategoryOperations
}
