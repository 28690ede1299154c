// Package alerting turns failed and at-risk results into severity-tagged
// alerts, escalates them through organizational tiers and tracks their
// lifecycle.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"brokerguard/internal/alerting/metrics"
	"brokerguard/internal/alerting/models"
	"brokerguard/internal/notify"
	id "brokerguard/pkg/domain"
	dErrors "brokerguard/pkg/domain-errors"
	"brokerguard/pkg/platform/audit"
	"brokerguard/pkg/platform/sentinel"
	pkgstrings "brokerguard/pkg/platform/strings"
	"brokerguard/pkg/requestcontext"
)

// Store is the persistence port for alerts.
type Store interface {
	Create(ctx context.Context, a *models.Alert) error
	FindByID(ctx context.Context, alertID id.AlertID) (*models.Alert, error)
	Update(ctx context.Context, alertID id.AlertID, patch func(*models.Alert) error) (*models.Alert, error)
	ListOpen(ctx context.Context, brokerID id.BrokerID) ([]*models.Alert, error)
	CountOpenBySeverity(ctx context.Context) (map[models.Severity]int, error)
}

// Recipients maps an escalation level to the people that level adds.
type Recipients map[int][]string

// For returns everyone notified at a level: the recipients of that level and
// of every level below it, in tier order without duplicates.
func (r Recipients) For(level int) []string {
	var all []string
	for l := 1; l <= level; l++ {
		all = append(all, r[l]...)
	}
	return pkgstrings.DedupeAndTrim(all)
}

// Service raises and manages compliance alerts.
type Service struct {
	store      Store
	auditor    audit.Sink
	sender     notify.Sender
	recipients Recipients
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store Store, auditor audit.Sink, sender notify.Sender, recipients Recipients, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("alert store is required")
	}
	if auditor == nil {
		return nil, fmt.Errorf("audit sink is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("notification sender is required")
	}
	s := &Service{
		store:      store,
		auditor:    auditor,
		sender:     sender,
		recipients: recipients,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Raise persists an alert, records it in the audit trail and escalates it.
// Delivery failures are logged and audited but never returned.
func (s *Service) Raise(ctx context.Context, brokerID id.BrokerID, in models.NewAlert) (*models.Alert, error) {
	if !in.Severity.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid severity %q", in.Severity))
	}
	if in.Message == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "alert message is required")
	}

	now := requestcontext.Now(ctx)
	alert := &models.Alert{
		ID:              id.NewAlertID(),
		BrokerID:        brokerID,
		Type:            in.Type,
		Severity:        in.Severity,
		Message:         in.Message,
		Details:         in.Details,
		Recommendations: in.Recommendations,
		Status:          models.StatusOpen,
		EscalationLevel: in.Severity.EscalationLevel(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Create(ctx, alert); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist alert")
	}
	s.metrics.IncRaised(string(alert.Severity), string(alert.Type))

	if err := s.record(ctx, alert, audit.ActionAlertRaised, map[string]any{
		"severity":         string(alert.Severity),
		"type":             string(alert.Type),
		"message":          alert.Message,
		"escalation_level": alert.EscalationLevel,
	}); err != nil {
		return nil, err
	}

	s.escalate(ctx, alert)
	return alert, nil
}

func (s *Service) escalate(ctx context.Context, alert *models.Alert) {
	recipients := s.recipients.For(alert.EscalationLevel)
	if alert.EscalationLevel > 1 {
		s.recordBestEffort(ctx, alert, audit.ActionAlertEscalated, map[string]any{
			"escalation_level": alert.EscalationLevel,
			"recipients":       recipients,
		})
	}

	channels := []notify.Channel{notify.ChannelEmail, notify.ChannelInApp}
	urgent := alert.Severity == models.SeverityCritical
	if urgent {
		channels = notify.AllChannels
		s.metrics.IncSuspensionAdvised()
		s.logger.WarnContext(ctx, "critical alert: consider suspension",
			"broker_id", alert.BrokerID,
			"alert_id", alert.ID,
			"message", alert.Message,
		)
		s.recordBestEffort(ctx, alert, audit.ActionSuspensionSuggested, map[string]any{
			"reason": alert.Message,
		})
	}

	for _, ch := range channels {
		d := notify.Delivery{
			AlertID:         alert.ID.String(),
			BrokerID:        alert.BrokerID.String(),
			Severity:        string(alert.Severity),
			Message:         alert.Message,
			Channel:         ch,
			Recipients:      recipients,
			EscalationLevel: alert.EscalationLevel,
			Urgent:          urgent,
			Details:         alert.Details,
			Recommendations: alert.Recommendations,
		}
		if urgent {
			d.Message = "URGENT: " + alert.Message
		}
		if err := s.sender.SendAlert(ctx, d); err != nil {
			s.metrics.IncDeliveryFailure(string(ch))
			s.logger.ErrorContext(ctx, "alert delivery failed",
				"alert_id", alert.ID,
				"channel", ch,
				"error", err,
			)
			s.recordBestEffort(ctx, alert, audit.ActionNotificationFailed, map[string]any{
				"channel": string(ch),
				"error":   err.Error(),
			})
		}
	}
}

// Acknowledge marks an OPEN alert as seen.
func (s *Service) Acknowledge(ctx context.Context, alertID id.AlertID, by string) (*models.Alert, error) {
	return s.transition(ctx, alertID, models.StatusAcknowledged, by, "", audit.ActionAlertAcknowledged)
}

// Resolve closes an OPEN or ACKNOWLEDGED alert with a note.
func (s *Service) Resolve(ctx context.Context, alertID id.AlertID, by, note string) (*models.Alert, error) {
	return s.transition(ctx, alertID, models.StatusResolved, by, note, audit.ActionAlertResolved)
}

// Ignore dismisses an OPEN or ACKNOWLEDGED alert with a note.
func (s *Service) Ignore(ctx context.Context, alertID id.AlertID, by, note string) (*models.Alert, error) {
	return s.transition(ctx, alertID, models.StatusIgnored, by, note, audit.ActionAlertIgnored)
}

func (s *Service) transition(ctx context.Context, alertID id.AlertID, to models.Status, by, note string, action audit.Action) (*models.Alert, error) {
	var from models.Status
	updated, err := s.store.Update(ctx, alertID, func(a *models.Alert) error {
		if !a.CanTransition(to) {
			return dErrors.New(dErrors.CodeInvalidState,
				fmt.Sprintf("alert %s cannot move from %s to %s", alertID, a.Status, to))
		}
		from = a.Status
		a.Status = to
		a.HandledBy = by
		if note != "" {
			a.ResolutionNote = note
		}
		a.UpdatedAt = requestcontext.Now(ctx)
		return nil
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "alert not found")
		}
		if dErrors.HasCode(err, dErrors.CodeInvalidState) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update alert")
	}
	s.metrics.IncTransition(string(to))

	if err := s.record(ctx, updated, action, map[string]any{
		"from":       string(from),
		"to":         string(to),
		"handled_by": by,
		"note":       note,
	}); err != nil {
		return nil, err
	}
	return updated, nil
}

// ListOpen returns the broker's OPEN and ACKNOWLEDGED alerts.
func (s *Service) ListOpen(ctx context.Context, brokerID id.BrokerID) ([]*models.Alert, error) {
	alerts, err := s.store.ListOpen(ctx, brokerID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list open alerts")
	}
	return alerts, nil
}

// OpenBySeverity counts unresolved alerts across all brokers.
func (s *Service) OpenBySeverity(ctx context.Context) (map[models.Severity]int, error) {
	counts, err := s.store.CountOpenBySeverity(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count open alerts")
	}
	return counts, nil
}

func (s *Service) record(ctx context.Context, alert *models.Alert, action audit.Action, details map[string]any) error {
	details["alert_id"] = alert.ID.String()
	err := s.auditor.Record(ctx, audit.Event{
		EntityID: alert.BrokerID.String(),
		Action:   string(action),
		Details:  details,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record alert audit event")
	}
	return nil
}

func (s *Service) recordBestEffort(ctx context.Context, alert *models.Alert, action audit.Action, details map[string]any) {
	if err := s.record(ctx, alert, action, details); err != nil {
		s.logger.ErrorContext(ctx, "audit record failed", "action", action, "alert_id", alert.ID, "error", err)
	}
}
