// Package domain holds typed identifiers shared across modules.
package domain

import (
	"github.com/google/uuid"

	dErrors "brokerguard/pkg/domain-errors"
)

// Typed IDs keep broker, alert, check and job identifiers from being mixed up
// at call sites that take several of them.
type (
	BrokerID uuid.UUID
	AlertID  uuid.UUID
	CheckID  uuid.UUID
	JobID    uuid.UUID
)

func (id BrokerID) String() string { return uuid.UUID(id).String() }
func (id AlertID) String() string  { return uuid.UUID(id).String() }
func (id CheckID) String() string  { return uuid.UUID(id).String() }
func (id JobID) String() string    { return uuid.UUID(id).String() }

func (id BrokerID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id AlertID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id CheckID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id JobID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func NewBrokerID() BrokerID { return BrokerID(uuid.New()) }
func NewAlertID() AlertID   { return AlertID(uuid.New()) }
func NewCheckID() CheckID   { return CheckID(uuid.New()) }
func NewJobID() JobID       { return JobID(uuid.New()) }

func ParseBrokerID(s string) (BrokerID, error) {
	u, err := parseUUID(s, "broker ID")
	return BrokerID(u), err
}

func ParseAlertID(s string) (AlertID, error) {
	u, err := parseUUID(s, "alert ID")
	return AlertID(u), err
}

func ParseCheckID(s string) (CheckID, error) {
	u, err := parseUUID(s, "check ID")
	return CheckID(u), err
}

func ParseJobID(s string) (JobID, error) {
	u, err := parseUUID(s, "job ID")
	return JobID(u), err
}

// parseUUID rejects empty, malformed and nil UUIDs.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}

// MarshalText renders a broker ID in canonical UUID form so job payloads and
// audit details stay readable.
func (id BrokerID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *BrokerID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id JobID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *JobID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}
