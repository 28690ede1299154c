package orchestrator

import (
	"context"
	"slices"
	"strings"

	alertmodels "brokerguard/internal/alerting/models"
	brokermodels "brokerguard/internal/broker/models"
	"brokerguard/internal/jobs"
	"brokerguard/internal/screening"
	verification "brokerguard/internal/verification/models"
	id "brokerguard/pkg/domain"
	"brokerguard/pkg/platform/audit"
	"brokerguard/pkg/requestcontext"
)

const (
	IssueNoDirectors             = "NO_DIRECTORS_ON_FILE"
	IssueUnsupportedDocumentType = "UNSUPPORTED_DOCUMENT_TYPE"

	RecReviewDirectors = "Review the flagged directors before approving the broker"
	RecReviewAML       = "Escalate the AML hits to the money laundering reporting officer"
)

// supportedDocuments are the onboarding documents the engine can validate.
var supportedDocuments = []string{
	"cipc_certificate",
	"proof_of_address",
	"fsp_license",
	"director_id",
	"bank_confirmation",
	"tax_clearance",
	"financial_statements",
}

// autoScreeningDocument is the payload used when the engine itself queues
// AML screening for a broker.
const autoScreeningDocument = "aml_screening"

func documentStage(j jobs.VerifyDocuments) verification.Type {
	if j.IsAMLScreening() {
		return verification.TypeAMLSanctions
	}
	return verification.TypeDocuments
}

// verifyDirectors screens every director and mirrors the UBO subset into its
// own record, then re-runs the KYC decision.
func (o *Orchestrator) verifyDirectors(ctx context.Context, j jobs.VerifyDirectors) error {
	b, err := o.loadBroker(ctx, j.BrokerID)
	if err != nil {
		return err
	}
	if closed(b) {
		return nil
	}

	people, err := o.Screening.ScreenPeople(ctx, b.Directors)
	if err != nil {
		return providerFailure("director screening", err)
	}

	status := aggregateStatus(people)
	if _, err := o.upsert(ctx, b.ID, verification.TypeKYCDirectors, func(r *verification.Record) error {
		r.Status = status
		r.EnsureKYCData().Directors = people
		r.Notes = ""
		if len(people) == 0 {
			r.Notes = IssueNoDirectors
		}
		if r.KYCDecision == nil {
			r.KYCStatus = verification.KYCInProgress
		}
		return nil
	}); err != nil {
		return err
	}

	ubos := uboChecks(b, people)
	if _, err := o.upsert(ctx, b.ID, verification.TypeKYCUBOs, func(r *verification.Record) error {
		r.Status = aggregateStatus(ubos)
		r.EnsureKYCData().UBOs = ubos
		return nil
	}); err != nil {
		return err
	}

	rejected := rejectedNames(people)
	if err := o.record(ctx, audit.Event{
		EntityID: b.ID.String(),
		Action:   string(audit.ActionDirectorsScreened),
		Details: map[string]any{
			"directors": len(people),
			"ubos":      len(ubos),
			"rejected":  rejected,
			"status":    string(status),
		},
	}); err != nil {
		return err
	}

	if len(rejected) > 0 {
		if _, err := o.Alerts.Raise(ctx, b.ID, alertmodels.NewAlert{
			Type:            alertmodels.TypeKYC,
			Severity:        alertmodels.SeverityHigh,
			Message:         "Director screening failed for " + b.CompanyName,
			Details:         map[string]any{"rejected_directors": rejected},
			Recommendations: []string{RecReviewDirectors},
		}); err != nil {
			return err
		}
	}
	return o.decide(ctx, b.ID)
}

// aggregateStatus approves a set of checks only when it is non-empty and
// every person passed.
func aggregateStatus(people []verification.PersonCheck) verification.Status {
	if len(people) == 0 {
		return verification.StatusRejected
	}
	for _, p := range people {
		if p.VerificationStatus != verification.StatusApproved {
			return verification.StatusRejected
		}
	}
	return verification.StatusApproved
}

func uboChecks(b *brokermodels.Broker, people []verification.PersonCheck) []verification.PersonCheck {
	var out []verification.PersonCheck
	for i, d := range b.Directors {
		if d.IsUBO() && i < len(people) {
			out = append(out, people[i])
		}
	}
	return out
}

func rejectedNames(people []verification.PersonCheck) []string {
	var out []string
	for _, p := range people {
		if p.VerificationStatus == verification.StatusRejected {
			out = append(out, p.Name)
		}
	}
	return out
}

// verifyDocuments either screens the broker entity for AML hits or validates
// the submitted onboarding documents, depending on the payload.
func (o *Orchestrator) verifyDocuments(ctx context.Context, j jobs.VerifyDocuments) error {
	b, err := o.loadBroker(ctx, j.BrokerID)
	if err != nil {
		return err
	}
	if closed(b) {
		return nil
	}
	if j.IsAMLScreening() {
		return o.screenEntity(ctx, b, j.Documents)
	}

	now := requestcontext.Now(ctx)
	docs := make([]verification.Document, 0, len(j.Documents))
	status := verification.StatusApproved
	for _, ref := range j.Documents {
		d := verification.Document{Type: ref.Type, Reference: ref.Reference, Status: verification.StatusApproved, VerifiedAt: &now}
		if !slices.Contains(supportedDocuments, strings.ToLower(ref.Type)) {
			d.Status = verification.StatusRejected
			d.Issues = []string{IssueUnsupportedDocumentType}
			d.VerifiedAt = nil
			status = verification.StatusRejected
		}
		docs = append(docs, d)
	}

	if _, err := o.upsert(ctx, b.ID, verification.TypeDocuments, func(r *verification.Record) error {
		r.Status = status
		r.Documents = docs
		return nil
	}); err != nil {
		return err
	}
	if err := o.record(ctx, audit.Event{
		EntityID: b.ID.String(),
		Action:   string(audit.ActionDocumentsVerified),
		Details:  map[string]any{"documents": len(docs), "status": string(status), "stage": string(verification.TypeDocuments)},
	}); err != nil {
		return err
	}
	return o.decide(ctx, b.ID)
}

func (o *Orchestrator) screenEntity(ctx context.Context, b *brokermodels.Broker, refs []jobs.DocumentRef) error {
	aml, err := o.Screening.ScreenEntity(ctx, b.CompanyName, b.RegistrationNumber)
	if err != nil {
		return providerFailure("aml screening", err)
	}
	status := verification.StatusApproved
	if !screening.Clear(aml) {
		status = verification.StatusRejected
	}

	docs := make([]verification.Document, 0, len(refs))
	for _, ref := range refs {
		docs = append(docs, verification.Document{Type: ref.Type, Reference: ref.Reference, Status: status, VerifiedAt: &aml.CheckedAt})
	}
	if _, err := o.upsert(ctx, b.ID, verification.TypeAMLSanctions, func(r *verification.Record) error {
		r.Status = status
		r.EnsureKYCData().AMLChecks = aml
		r.Documents = docs
		return nil
	}); err != nil {
		return err
	}

	if err := o.record(ctx, audit.Event{
		EntityID: b.ID.String(),
		Action:   string(audit.ActionDocumentsVerified),
		Details: map[string]any{
			"stage":               string(verification.TypeAMLSanctions),
			"status":              string(status),
			"sanctions_clear":     aml.SanctionsClear,
			"pep_clear":           aml.PEPClear,
			"adverse_media_clear": aml.AdverseMediaClear,
		},
	}); err != nil {
		return err
	}

	if status == verification.StatusRejected {
		if _, err := o.Alerts.Raise(ctx, b.ID, alertmodels.NewAlert{
			Type:            alertmodels.TypeKYC,
			Severity:        alertmodels.SeverityHigh,
			Message:         "AML screening returned hits for " + b.CompanyName,
			Details:         map[string]any{"matches": aml.Matches, "risk_level": aml.RiskLevel},
			Recommendations: []string{RecReviewAML},
		}); err != nil {
			return err
		}
	}
	return o.decide(ctx, b.ID)
}

// decide re-evaluates the KYC decision and applies activation gating.
func (o *Orchestrator) decide(ctx context.Context, brokerID id.BrokerID) error {
	if _, err := o.KYC.Evaluate(ctx, brokerID); err != nil {
		return err
	}
	return o.advance(ctx, brokerID)
}

// advance gates the broker, queues whatever KYC stages are still missing
// and tells the broker when its status changed.
func (o *Orchestrator) advance(ctx context.Context, brokerID id.BrokerID) error {
	out, err := o.KYC.Gate(ctx, brokerID)
	if err != nil {
		return err
	}

	var pending []string
	for _, stage := range out.PendingStages {
		pending = append(pending, string(stage))
		job := autoQueueJob(brokerID, stage)
		if job == nil {
			continue
		}
		// One auto-queued job per stage per window; the stage job itself
		// re-gates when it finishes.
		key := "autoqueue:" + brokerID.String() + ":" + string(stage)
		fresh, err := o.KV.SetNX(ctx, key, requestcontext.JobID(ctx).String(), o.autoQueueTTL)
		if err != nil {
			o.logger.WarnContext(ctx, "auto-queue dedupe unavailable", "broker_id", brokerID, "error", err)
		}
		if err == nil && !fresh {
			continue
		}
		if err := o.enqueue(ctx, job, jobs.DefaultOptions(job.JobName())); err != nil {
			return err
		}
		o.logger.InfoContext(ctx, "kyc stage queued", "broker_id", brokerID, "stage", stage)
	}

	if !out.Changed {
		return nil
	}
	return o.enqueue(ctx, jobs.SendVerificationResult{
		BrokerID: brokerID,
		Status:   string(out.Status),
		Pending:  pending,
	}, jobs.DefaultOptions(jobs.NameSendVerificationResult))
}

// autoQueueJob returns the job that produces a KYC stage. Documents must be
// submitted by the broker, so nothing is queued for them.
func autoQueueJob(brokerID id.BrokerID, stage verification.Type) jobs.Job {
	switch stage {
	case verification.TypeKYCDirectors:
		return jobs.VerifyDirectors{BrokerID: brokerID}
	case verification.TypeAMLSanctions:
		return jobs.VerifyDocuments{
			BrokerID:  brokerID,
			Documents: []jobs.DocumentRef{{Type: autoScreeningDocument, Reference: "auto:" + brokerID.String()}},
		}
	}
	return nil
}

// requestManualReview opens the MANUAL_REVIEW record and queues the job
// that puts it in front of a reviewer.
func (o *Orchestrator) requestManualReview(ctx context.Context, brokerID id.BrokerID, stage verification.Type, reason string) error {
	if _, err := o.upsert(ctx, brokerID, verification.TypeManualReview, func(r *verification.Record) error {
		r.Status = verification.StatusPending
		r.KYCStatus = verification.KYCUnderReview
		r.Notes = string(stage) + ": " + reason
		return nil
	}); err != nil {
		return err
	}
	return o.enqueue(ctx, jobs.ManualReview{BrokerID: brokerID, Stage: stage, Reason: reason},
		jobs.DefaultOptions(jobs.NameManualReview))
}

// manualReview raises the reviewer alert. It never resolves anything itself.
func (o *Orchestrator) manualReview(ctx context.Context, j jobs.ManualReview) error {
	if _, err := o.upsert(ctx, j.BrokerID, verification.TypeManualReview, func(r *verification.Record) error {
		if r.Status == verification.StatusPending {
			r.Status = verification.StatusInProgress
		}
		r.KYCStatus = verification.KYCUnderReview
		if r.Notes == "" {
			r.Notes = string(j.Stage) + ": " + j.Reason
		}
		return nil
	}); err != nil {
		return err
	}

	if _, err := o.Alerts.Raise(ctx, j.BrokerID, alertmodels.NewAlert{
		Type:     alertmodels.TypeManualReview,
		Severity: alertmodels.SeverityMedium,
		Message:  "Manual review required for " + string(j.Stage) + " verification",
		Details:  map[string]any{"stage": string(j.Stage), "reason": j.Reason},
	}); err != nil {
		return err
	}
	o.recordBestEffort(ctx, audit.Event{
		EntityID: j.BrokerID.String(),
		Action:   string(audit.ActionManualReviewRequested),
		Details:  map[string]any{"stage": string(j.Stage), "reason": j.Reason},
	})
	return nil
}
