// Package kyc decides a broker's holistic KYC state from its persisted
// verification records and gates broker activation on that decision.
package kyc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	brokermodels "brokerguard/internal/broker/models"
	verification "brokerguard/internal/verification/models"
	verificationstore "brokerguard/internal/verification/store"
	id "brokerguard/pkg/domain"
	dErrors "brokerguard/pkg/domain-errors"
	"brokerguard/pkg/platform/audit"
	"brokerguard/pkg/platform/sentinel"
	"brokerguard/pkg/requestcontext"
)

type RecordStore interface {
	Get(ctx context.Context, key verification.Key) (*verification.Record, error)
	Upsert(ctx context.Context, key verification.Key, patch verificationstore.Patch) (*verification.Record, error)
}

type BrokerStore interface {
	FindByID(ctx context.Context, brokerID id.BrokerID) (*brokermodels.Broker, error)
	Update(ctx context.Context, brokerID id.BrokerID, patch func(*brokermodels.Broker) error) (*brokermodels.Broker, error)
}

type Engine struct {
	records RecordStore
	brokers BrokerStore
	auditor audit.Sink
	logger  *slog.Logger
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func NewEngine(records RecordStore, brokers BrokerStore, auditor audit.Sink, opts ...Option) (*Engine, error) {
	if records == nil {
		return nil, fmt.Errorf("verification store is required")
	}
	if brokers == nil {
		return nil, fmt.Errorf("broker store is required")
	}
	if auditor == nil {
		return nil, fmt.Errorf("audit sink is required")
	}
	e := &Engine{records: records, brokers: brokers, auditor: auditor, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate re-reads the directors, AML and documents records and stores the
// resulting decision on the directors record. It returns nil without writing
// when no directors record exists. An unchanged outcome keeps its original
// timestamps, so repeated evaluations are idempotent.
func (e *Engine) Evaluate(ctx context.Context, brokerID id.BrokerID) (*verification.KYCDecision, error) {
	in, err := e.loadInputs(ctx, brokerID)
	if err != nil {
		return nil, err
	}
	if in.Directors == nil {
		e.logger.DebugContext(ctx, "kyc evaluation skipped, no directors record", "broker_id", brokerID)
		return nil, nil
	}

	decision := Decide(in, requestcontext.Now(ctx))
	changed := false
	key := verification.Key{BrokerID: brokerID, Type: verification.TypeKYCDirectors}
	rec, err := e.records.Upsert(ctx, key, func(r *verification.Record) error {
		if SameOutcome(r.KYCDecision, decision) {
			decision = r.KYCDecision
			return nil
		}
		changed = true
		r.KYCDecision = decision
		r.KYCStatus = KYCStatusFor(decision)
		return nil
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store kyc decision")
	}

	if changed {
		if err := e.auditor.Record(ctx, audit.Event{
			EntityID: brokerID.String(),
			Action:   string(audit.ActionKYCDecisionMade),
			Details: map[string]any{
				"status":                   string(decision.Status),
				"reason":                   decision.Reason,
				"additional_info_required": decision.AdditionalInfoRequired,
			},
		}); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit kyc decision")
		}
		e.logger.InfoContext(ctx, "kyc decision made",
			"broker_id", brokerID,
			"status", decision.Status,
			"reason", decision.Reason,
		)
	}
	return rec.KYCDecision, nil
}

func (e *Engine) loadInputs(ctx context.Context, brokerID id.BrokerID) (Inputs, error) {
	var in Inputs
	targets := []struct {
		t   verification.Type
		dst **verification.Record
	}{
		{verification.TypeKYCDirectors, &in.Directors},
		{verification.TypeAMLSanctions, &in.AML},
		{verification.TypeDocuments, &in.Documents},
	}
	for _, target := range targets {
		rec, err := e.records.Get(ctx, verification.Key{BrokerID: brokerID, Type: target.t})
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return in, dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("failed to load %s record", target.t))
		}
		*target.dst = rec
	}
	return in, nil
}

// GateOutcome reports what gating did to a broker.
type GateOutcome struct {
	Status  brokermodels.Status
	Active  bool
	Changed bool
	// PendingStages are the KYC stages that still need a job.
	PendingStages []verification.Type
}

// Gate applies the activation rule: a broker becomes VERIFIED and active
// only when its license is verified and the KYC decision is APPROVED. A
// licensed broker with incomplete KYC is held in PENDING_VERIFICATION.
// Suspended and deleted brokers are never moved.
func (e *Engine) Gate(ctx context.Context, brokerID id.BrokerID) (GateOutcome, error) {
	in, err := e.loadInputs(ctx, brokerID)
	if err != nil {
		return GateOutcome{}, err
	}
	var decision *verification.KYCDecision
	if in.Directors != nil {
		decision = in.Directors.KYCDecision
	}

	var out GateOutcome
	var from brokermodels.Status
	_, err = e.brokers.Update(ctx, brokerID, func(b *brokermodels.Broker) error {
		from = b.Status
		out.Status, out.Active = b.Status, b.IsActive
		if b.Status == brokermodels.StatusSuspended || b.Status == brokermodels.StatusDeleted {
			return nil
		}

		switch {
		case decision != nil && decision.Status == verification.DecisionRejected:
			out.Status, out.Active = brokermodels.StatusRejected, false
		case !b.ComplianceInfo.FSCAVerified:
			return nil
		case decision != nil && decision.Status == verification.DecisionApproved:
			out.Status, out.Active = brokermodels.StatusVerified, true
		default:
			out.Status, out.Active = brokermodels.StatusPendingVerification, false
			out.PendingStages = pendingStages(in)
		}
		out.Changed = out.Status != b.Status || out.Active != b.IsActive
		b.Status, b.IsActive = out.Status, out.Active
		return nil
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return GateOutcome{}, dErrors.New(dErrors.CodeNotFound, "broker not found")
		}
		return GateOutcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to gate broker")
	}

	if out.Changed {
		if err := e.auditor.Record(ctx, audit.Event{
			EntityID: brokerID.String(),
			Action:   string(audit.ActionBrokerStatusChanged),
			Details: map[string]any{
				"from":      string(from),
				"to":        string(out.Status),
				"is_active": out.Active,
			},
		}); err != nil {
			return out, dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit status change")
		}
	}
	return out, nil
}

// pendingStages lists the KYC stages with no record or a record still in flight.
func pendingStages(in Inputs) []verification.Type {
	var out []verification.Type
	for _, s := range []struct {
		t   verification.Type
		rec *verification.Record
	}{
		{verification.TypeKYCDirectors, in.Directors},
		{verification.TypeDocuments, in.Documents},
		{verification.TypeAMLSanctions, in.AML},
	} {
		if s.rec == nil || s.rec.Status == verification.StatusPending {
			out = append(out, s.t)
		}
	}
	return out
}
