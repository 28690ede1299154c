package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	alertmodels "brokerguard/internal/alerting/models"
	"brokerguard/internal/jobs"
	"brokerguard/internal/notify"
	id "brokerguard/pkg/domain"
	"brokerguard/pkg/platform/audit"
	"brokerguard/pkg/requestcontext"
)

const day = 24 * time.Hour

// A reminder's dedupe key outlives its send time by reminderKeyGrace. The
// expired reminder has no later horizon to move past, so the daily sweep
// keeps finding it; its key lasts expiredReminderTTL.
const (
	reminderKeyGrace   = 2 * day
	expiredReminderTTL = 365 * day
)

// Reminder horizons, in days before license expiry.
var (
	RenewalHorizons       = []int{90, 60, 30}
	ExpiryWarningHorizons = []int{30, 7}
)

const RecRenewLicense = "Renew the FSCA license and submit the updated certificate"

type reminderPoint struct {
	kind jobs.ReminderKind
	days int
}

func reminderPoints() []reminderPoint {
	var out []reminderPoint
	for _, d := range RenewalHorizons {
		out = append(out, reminderPoint{jobs.ReminderRenewal, d})
	}
	for _, d := range ExpiryWarningHorizons {
		out = append(out, reminderPoint{jobs.ReminderExpiryWarning, d})
	}
	return append(out, reminderPoint{jobs.ReminderExpired, 0})
}

// scheduleReminders queues every future reminder for a license expiry. Each
// (broker, expiry, kind, horizon) is queued at most once, so the daily sweep
// and license verification can both call it. An already expired license gets
// its expired reminder immediately.
func (o *Orchestrator) scheduleReminders(ctx context.Context, brokerID id.BrokerID, expiry time.Time) int {
	now := requestcontext.Now(ctx)
	queued := 0
	for _, p := range reminderPoints() {
		at := expiry.Add(-time.Duration(p.days) * day)
		if at.Before(now) && p.kind != jobs.ReminderExpired {
			continue
		}
		delay := max(at.Sub(now), 0)

		key := reminderKey(brokerID, expiry, p)
		ttl := delay + reminderKeyGrace
		if p.kind == jobs.ReminderExpired {
			ttl = delay + expiredReminderTTL
		}
		fresh, err := o.KV.SetNX(ctx, key, "1", ttl)
		if err != nil {
			o.logger.WarnContext(ctx, "reminder dedupe unavailable", "broker_id", brokerID, "error", err)
			continue
		}
		if !fresh {
			continue
		}

		job := jobs.LicenseRenewalReminder{BrokerID: brokerID, Kind: p.kind, DaysBefore: p.days, ExpiryDate: expiry}
		if err := o.enqueue(ctx, job, jobs.WithDelay(jobs.NameLicenseRenewalReminder, delay)); err != nil {
			// Let a later sweep try again.
			_ = o.KV.Del(ctx, key)
			o.logger.WarnContext(ctx, "failed to queue license reminder", "broker_id", brokerID, "kind", p.kind, "error", err)
			continue
		}
		queued++
	}
	if queued > 0 {
		o.logger.InfoContext(ctx, "license reminders scheduled", "broker_id", brokerID, "expiry", expiry, "count", queued)
	}
	return queued
}

func reminderKey(brokerID id.BrokerID, expiry time.Time, p reminderPoint) string {
	return "reminder:" + brokerID.String() + ":" + expiry.UTC().Format("2006-01-02") + ":" + string(p.kind) + ":" + strconv.Itoa(p.days)
}

// ReminderSeverity escalates as expiry approaches.
func ReminderSeverity(kind jobs.ReminderKind, daysBefore int) alertmodels.Severity {
	switch {
	case kind == jobs.ReminderExpired:
		return alertmodels.SeverityCritical
	case daysBefore <= 7:
		return alertmodels.SeverityHigh
	case daysBefore <= 30:
		return alertmodels.SeverityMedium
	}
	return alertmodels.SeverityLow
}

// licenseReminder dispatches one reminder. Reminders for an expiry the
// broker has since renewed past are dropped.
func (o *Orchestrator) licenseReminder(ctx context.Context, j jobs.LicenseRenewalReminder) error {
	b, err := o.loadBroker(ctx, j.BrokerID)
	if err != nil {
		return err
	}
	if closed(b) {
		return nil
	}
	if b.LicenseExpiry == nil || !b.LicenseExpiry.Equal(j.ExpiryDate) {
		o.logger.InfoContext(ctx, "stale license reminder dropped", "broker_id", b.ID, "kind", j.Kind)
		return nil
	}

	var msg string
	switch j.Kind {
	case jobs.ReminderExpired:
		msg = fmt.Sprintf("FSCA license %s for %s expired on %s", b.LicenseNumber, b.CompanyName, j.ExpiryDate.Format(time.DateOnly))
	case jobs.ReminderExpiryWarning:
		msg = fmt.Sprintf("FSCA license %s for %s expires in %d days", b.LicenseNumber, b.CompanyName, j.DaysBefore)
	default:
		msg = fmt.Sprintf("FSCA license %s for %s is due for renewal in %d days", b.LicenseNumber, b.CompanyName, j.DaysBefore)
	}

	if _, err := o.Alerts.Raise(ctx, b.ID, alertmodels.NewAlert{
		Type:     alertmodels.TypeLicenseExpiry,
		Severity: ReminderSeverity(j.Kind, j.DaysBefore),
		Message:  msg,
		Details: map[string]any{
			"kind":        string(j.Kind),
			"days_before": j.DaysBefore,
			"expiry_date": j.ExpiryDate.Format(time.DateOnly),
		},
		Recommendations: []string{RecRenewLicense},
	}); err != nil {
		return err
	}
	o.recordBestEffort(ctx, audit.Event{
		EntityID: b.ID.String(),
		Action:   string(audit.ActionReminderSent),
		Details:  map[string]any{"kind": string(j.Kind), "days_before": j.DaysBefore},
	})
	return nil
}

// expiryReminderSweep rebuilds reminders from persisted expiry dates so that
// none are lost if the queue was cleared or a license was renewed outside the
// verification flow.
func (o *Orchestrator) expiryReminderSweep(ctx context.Context, j jobs.ExpiryReminderSweep) error {
	now := requestcontext.Now(ctx)
	brokers, err := o.Brokers.ListLicenseExpiringBefore(ctx, now.Add(time.Duration(j.WindowDays)*day))
	if err != nil {
		return fmt.Errorf("list expiring licenses: %w", err)
	}
	queued, considered := 0, 0
	for _, b := range brokers {
		if !b.Status.Monitored() || b.LicenseExpiry == nil {
			continue
		}
		considered++
		queued += o.scheduleReminders(ctx, b.ID, *b.LicenseExpiry)
	}
	o.recordBestEffort(ctx, audit.Event{
		EntityID: "batch:" + string(jobs.NameExpiryReminderSweep),
		Action:   string(audit.ActionBatchCompleted),
		Details:  map[string]any{"brokers": considered, "reminders_queued": queued, "window_days": j.WindowDays},
	})
	o.logger.InfoContext(ctx, "expiry reminder sweep finished", "brokers", considered, "reminders_queued", queued)
	return nil
}

// sendVerificationResult is a pure notification; re-sends are harmless.
func (o *Orchestrator) sendVerificationResult(ctx context.Context, j jobs.SendVerificationResult) error {
	outcome := notify.Outcome{Status: j.Status, Reason: j.Reason, Pending: j.Pending}
	if err := o.Notifier.SendVerificationResult(ctx, j.BrokerID, outcome); err != nil {
		return fmt.Errorf("send verification result: %w", err)
	}
	return nil
}
