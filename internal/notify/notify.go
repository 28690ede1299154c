// Package notify delivers alerts and verification outcomes. Delivery is
// best effort from the engine's point of view: callers log failures and move on.
package notify

import (
	"context"
	"errors"
	"log/slog"

	id "brokerguard/pkg/domain"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

// AllChannels is the fan-out set for urgent deliveries.
var AllChannels = []Channel{ChannelSMS, ChannelPush, ChannelEmail, ChannelInApp}

// Delivery is one alert sent over one channel to a set of recipients.
type Delivery struct {
	AlertID         string         `json:"alert_id"`
	BrokerID        string         `json:"broker_id"`
	Severity        string         `json:"severity"`
	Message         string         `json:"message"`
	Channel         Channel        `json:"channel"`
	Recipients      []string       `json:"recipients"`
	EscalationLevel int            `json:"escalation_level"`
	Urgent          bool           `json:"urgent"`
	Details         map[string]any `json:"details,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
}

// Outcome is the final verification result reported to a broker.
type Outcome struct {
	Status  string   `json:"status"`
	Reason  string   `json:"reason,omitempty"`
	Pending []string `json:"pending,omitempty"`
}

// Sender is the notification transport port.
type Sender interface {
	SendAlert(ctx context.Context, d Delivery) error
	SendVerificationResult(ctx context.Context, brokerID id.BrokerID, outcome Outcome) error
}

// LogSender writes deliveries to the log. It is the default when no
// transport is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) SendAlert(ctx context.Context, d Delivery) error {
	level := slog.LevelInfo
	if d.Urgent {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "alert delivered",
		"alert_id", d.AlertID,
		"broker_id", d.BrokerID,
		"severity", d.Severity,
		"channel", d.Channel,
		"recipients", d.Recipients,
		"urgent", d.Urgent,
	)
	return nil
}

func (s *LogSender) SendVerificationResult(ctx context.Context, brokerID id.BrokerID, outcome Outcome) error {
	s.logger.InfoContext(ctx, "verification result delivered",
		"broker_id", brokerID,
		"status", outcome.Status,
		"reason", outcome.Reason,
	)
	return nil
}

// MultiSender sends through every configured sender and joins their errors.
type MultiSender []Sender

func (m MultiSender) SendAlert(ctx context.Context, d Delivery) error {
	var errs []error
	for _, s := range m {
		if err := s.SendAlert(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSender) SendVerificationResult(ctx context.Context, brokerID id.BrokerID, outcome Outcome) error {
	var errs []error
	for _, s := range m {
		if err := s.SendVerificationResult(ctx, brokerID, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
