package orchestrator

import (
	"context"
	"fmt"
	"time"

	alertmodels "brokerguard/internal/alerting/models"
	brokermodels "brokerguard/internal/broker/models"
	"brokerguard/internal/jobs"
	"brokerguard/internal/providers"
	"brokerguard/internal/providers/fsca"
	verification "brokerguard/internal/verification/models"
	id "brokerguard/pkg/domain"
	"brokerguard/pkg/platform/audit"
	"brokerguard/pkg/requestcontext"
)

const (
	RecLicenseRejected = "Contact the broker to resolve the FSCA license status before onboarding"
	RecLicenseRevoked  = "Review the broker's trading access; the regulator no longer lists the license as valid"
)

func (o *Orchestrator) verifyLicense(ctx context.Context, j jobs.VerifyLicense) error {
	b, err := o.loadBroker(ctx, j.BrokerID)
	if err != nil {
		return err
	}
	if closed(b) {
		o.logger.InfoContext(ctx, "license verification skipped", "broker_id", b.ID, "status", b.Status)
		return nil
	}
	if !b.HasLicense() {
		return o.rejectLicense(ctx, b, nil, "no license number on file")
	}

	if _, err := o.upsert(ctx, b.ID, verification.TypeLicense, func(r *verification.Record) error {
		if r.Status == verification.StatusPending {
			r.Status = verification.StatusInProgress
		}
		return nil
	}); err != nil {
		return err
	}

	res, err := o.Registry.Verify(ctx, licenseRequest(b))
	if err != nil {
		return o.licenseProviderError(ctx, b.ID, err)
	}

	resp := fscaResponse(res, requestcontext.Now(ctx))
	if !res.IsValid {
		return o.rejectLicense(ctx, b, resp, "license not valid with regulator: "+res.LicenseStatus)
	}
	return o.approveLicense(ctx, b, resp)
}

func licenseRequest(b *brokermodels.Broker) fsca.VerifyRequest {
	req := fsca.VerifyRequest{
		LicenseNumber:      b.LicenseNumber,
		RegistrationNumber: b.RegistrationNumber,
		Category:           b.LicenseCategory,
		AUM:                b.AUM,
	}
	for _, d := range b.Directors {
		req.Directors = append(req.Directors, d.Name)
	}
	return req
}

func fscaResponse(res fsca.LicenseResult, now time.Time) *verification.FSCAResponse {
	return &verification.FSCAResponse{
		IsValid:       res.IsValid,
		LicenseStatus: res.LicenseStatus,
		ExpiryDate:    res.ExpiryDate,
		Restrictions:  res.Restrictions,
		RiskRating:    res.RiskRating,
		CheckedAt:     now,
	}
}

// licenseProviderError keeps registry outages away from the rejection path.
// Retryable failures go back to the queue; anything else goes straight to a
// human.
func (o *Orchestrator) licenseProviderError(ctx context.Context, brokerID id.BrokerID, err error) error {
	if providers.IsRetryable(err) {
		o.logger.WarnContext(ctx, "license registry unavailable, will retry",
			"broker_id", brokerID,
			"category", providers.GetCategory(err),
			"attempt", requestcontext.Attempt(ctx),
		)
		return providerFailure("license registry", err)
	}
	o.logger.ErrorContext(ctx, "license registry call failed permanently", "broker_id", brokerID, "error", err)
	return o.requestManualReview(ctx, brokerID, verification.TypeLicense, "license registry error: "+err.Error())
}

func (o *Orchestrator) approveLicense(ctx context.Context, b *brokermodels.Broker, resp *verification.FSCAResponse) error {
	now := requestcontext.Now(ctx)
	if _, err := o.upsert(ctx, b.ID, verification.TypeLicense, func(r *verification.Record) error {
		r.Status = verification.StatusApproved
		r.FSCAResponse = resp
		r.Notes = ""
		return nil
	}); err != nil {
		return err
	}

	updated, err := o.Brokers.Update(ctx, b.ID, func(br *brokermodels.Broker) error {
		br.ComplianceInfo.FSCAVerified = true
		br.ComplianceInfo.VerifiedAt = &now
		if resp.ExpiryDate != nil {
			expiry := *resp.ExpiryDate
			br.LicenseExpiry = &expiry
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark license verified: %w", err)
	}

	if err := o.record(ctx, audit.Event{
		EntityID: b.ID.String(),
		Action:   string(audit.ActionLicenseVerified),
		Details: map[string]any{
			"license_number": b.LicenseNumber,
			"license_status": resp.LicenseStatus,
			"risk_rating":    resp.RiskRating,
		},
	}); err != nil {
		return err
	}
	o.logger.InfoContext(ctx, "license verified", "broker_id", b.ID, "license_number", b.LicenseNumber)

	if err := o.advance(ctx, b.ID); err != nil {
		return err
	}
	if updated.LicenseExpiry != nil {
		o.scheduleReminders(ctx, b.ID, *updated.LicenseExpiry)
	}
	return nil
}

// rejectLicense records a regulator rejection. This is a business outcome:
// the broker is rejected and the job completes.
func (o *Orchestrator) rejectLicense(ctx context.Context, b *brokermodels.Broker, resp *verification.FSCAResponse, reason string) error {
	if _, err := o.upsert(ctx, b.ID, verification.TypeLicense, func(r *verification.Record) error {
		r.Status = verification.StatusRejected
		r.FSCAResponse = resp
		r.Notes = reason
		return nil
	}); err != nil {
		return err
	}

	var from brokermodels.Status
	if _, err := o.Brokers.Update(ctx, b.ID, func(br *brokermodels.Broker) error {
		from = br.Status
		br.ComplianceInfo.FSCAVerified = false
		if !closed(br) {
			br.Status = brokermodels.StatusRejected
			br.IsActive = false
		}
		return nil
	}); err != nil {
		return fmt.Errorf("mark license rejected: %w", err)
	}

	if err := o.record(ctx, audit.Event{
		EntityID: b.ID.String(),
		Action:   string(audit.ActionLicenseRejected),
		Details: map[string]any{
			"license_number": b.LicenseNumber,
			"reason":         reason,
			"previous":       string(from),
		},
	}); err != nil {
		return err
	}

	if _, err := o.Alerts.Raise(ctx, b.ID, alertmodels.NewAlert{
		Type:            alertmodels.TypeLicense,
		Severity:        alertmodels.SeverityHigh,
		Message:         "FSCA license verification failed for " + b.CompanyName,
		Details:         map[string]any{"license_number": b.LicenseNumber, "reason": reason},
		Recommendations: []string{RecLicenseRejected},
	}); err != nil {
		return err
	}

	o.logger.WarnContext(ctx, "license rejected", "broker_id", b.ID, "reason", reason)
	return o.enqueue(ctx, jobs.SendVerificationResult{
		BrokerID: b.ID,
		Status:   string(brokermodels.StatusRejected),
		Reason:   reason,
	}, jobs.DefaultOptions(jobs.NameSendVerificationResult))
}

// licenseStatusSweep fans a status re-check out to every monitored broker.
func (o *Orchestrator) licenseStatusSweep(ctx context.Context, _ jobs.LicenseStatusSweep) error {
	ids, err := o.Brokers.ListIDsByStatus(ctx, brokermodels.StatusVerified, brokermodels.StatusPendingVerification)
	if err != nil {
		return fmt.Errorf("list monitored brokers: %w", err)
	}
	res := o.fanOut(ctx, ids, func(brokerID id.BrokerID) jobs.Job {
		return jobs.RecheckLicenseStatus{BrokerID: brokerID}
	}, 0)
	return o.finishBatch(ctx, jobs.NameLicenseStatusSweep, "", res)
}

// recheckLicenseStatus asks the regulator for the current license status of
// a verified broker and reacts to revocations and renewals.
func (o *Orchestrator) recheckLicenseStatus(ctx context.Context, j jobs.RecheckLicenseStatus) error {
	b, err := o.loadBroker(ctx, j.BrokerID)
	if err != nil {
		return err
	}
	if closed(b) || !b.HasLicense() {
		return nil
	}

	res, err := o.Registry.CheckStatus(ctx, b.LicenseNumber)
	if err != nil {
		if providers.IsRetryable(err) {
			return providerFailure("license registry", err)
		}
		o.logger.ErrorContext(ctx, "license status check failed", "broker_id", b.ID, "error", err)
		return nil
	}
	resp := fscaResponse(res, requestcontext.Now(ctx))

	if !res.IsValid {
		if !b.ComplianceInfo.FSCAVerified {
			_, err := o.upsert(ctx, b.ID, verification.TypeLicense, func(r *verification.Record) error {
				r.FSCAResponse = resp
				return nil
			})
			return err
		}
		return o.revokeLicense(ctx, b, resp)
	}

	if _, err := o.upsert(ctx, b.ID, verification.TypeLicense, func(r *verification.Record) error {
		r.FSCAResponse = resp
		return nil
	}); err != nil {
		return err
	}
	renewed := res.ExpiryDate != nil && (b.LicenseExpiry == nil || !res.ExpiryDate.Equal(*b.LicenseExpiry))
	if !renewed {
		return nil
	}
	expiry := *res.ExpiryDate
	if _, err := o.Brokers.Update(ctx, b.ID, func(br *brokermodels.Broker) error {
		br.LicenseExpiry = &expiry
		return nil
	}); err != nil {
		return fmt.Errorf("update license expiry: %w", err)
	}
	o.logger.InfoContext(ctx, "license expiry updated", "broker_id", b.ID, "expiry", expiry)
	o.scheduleReminders(ctx, b.ID, expiry)
	return nil
}

// revokeLicense handles a verified broker whose license the regulator no
// longer lists as valid. The broker loses activation and a CRITICAL alert
// puts suspension in front of a human.
func (o *Orchestrator) revokeLicense(ctx context.Context, b *brokermodels.Broker, resp *verification.FSCAResponse) error {
	reason := "license no longer valid with regulator: " + resp.LicenseStatus
	if _, err := o.upsert(ctx, b.ID, verification.TypeLicense, func(r *verification.Record) error {
		r.Status = verification.StatusRejected
		r.FSCAResponse = resp
		r.Notes = reason
		return nil
	}); err != nil {
		return err
	}

	var from brokermodels.Status
	if _, err := o.Brokers.Update(ctx, b.ID, func(br *brokermodels.Broker) error {
		from = br.Status
		br.ComplianceInfo.FSCAVerified = false
		if !closed(br) {
			br.Status = brokermodels.StatusPendingVerification
			br.IsActive = false
		}
		return nil
	}); err != nil {
		return fmt.Errorf("revoke license: %w", err)
	}

	if err := o.record(ctx, audit.Event{
		EntityID: b.ID.String(),
		Action:   string(audit.ActionLicenseRejected),
		Details:  map[string]any{"license_number": b.LicenseNumber, "reason": reason, "previous": string(from)},
	}); err != nil {
		return err
	}
	_, err := o.Alerts.Raise(ctx, b.ID, alertmodels.NewAlert{
		Type:            alertmodels.TypeLicense,
		Severity:        alertmodels.SeverityCritical,
		Message:         "FSCA license revoked or lapsed for " + b.CompanyName,
		Details:         map[string]any{"license_number": b.LicenseNumber, "license_status": resp.LicenseStatus},
		Recommendations: []string{RecLicenseRevoked},
	})
	return err
}
