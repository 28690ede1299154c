package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	brokermodels "brokerguard/internal/broker/models"
	"brokerguard/internal/compliance/checks"
	compliancemodels "brokerguard/internal/compliance/models"
	"brokerguard/internal/jobs"
	verification "brokerguard/internal/verification/models"
	id "brokerguard/pkg/domain"
	"brokerguard/pkg/platform/audit"
	"brokerguard/pkg/platform/sentinel"
	"brokerguard/pkg/requestcontext"
)

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit)
}

// BatchResult counts per-broker enqueue outcomes of a fan-out.
type BatchResult struct {
	Successful int
	Failed     int
}

// fanOut enqueues one job per broker. A failure for one broker never stops
// the others.
func (o *Orchestrator) fanOut(ctx context.Context, ids []id.BrokerID, build func(id.BrokerID) jobs.Job, maxJitter time.Duration) BatchResult {
	var ok, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.batchParallel)
	for _, brokerID := range ids {
		g.Go(func() error {
			job := build(brokerID)
			opts := jobs.WithDelay(job.JobName(), o.jitter(maxJitter))
			if err := o.enqueue(gctx, job, opts); err != nil {
				failed.Add(1)
				o.logger.WarnContext(gctx, "batch enqueue failed", "broker_id", brokerID, "job", job.JobName(), "error", err)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return BatchResult{Successful: int(ok.Load()), Failed: int(failed.Load())}
}

// finishBatch audits a fan-out. It fails only when nothing could be queued,
// so a retry does not duplicate the brokers that did make it.
func (o *Orchestrator) finishBatch(ctx context.Context, name jobs.Name, batchID string, res BatchResult) error {
	o.recordBestEffort(ctx, audit.Event{
		EntityID:      "batch:" + string(name),
		Action:        string(audit.ActionBatchCompleted),
		CorrelationID: batchID,
		Details: map[string]any{
			"successful_count": res.Successful,
			"failed_count":     res.Failed,
		},
	})
	o.logger.InfoContext(ctx, "batch fan-out finished",
		"job", name,
		"batch_id", batchID,
		"successful_count", res.Successful,
		"failed_count", res.Failed,
	)
	if res.Failed > 0 && res.Successful == 0 {
		return fmt.Errorf("%s: all %d enqueues failed", name, res.Failed)
	}
	return nil
}

// dailyComplianceBatch queues a full compliance run for every monitored
// broker, spread over a random jitter window.
func (o *Orchestrator) dailyComplianceBatch(ctx context.Context, j jobs.DailyComplianceBatch) error {
	ids, err := o.Brokers.ListIDsByStatus(ctx, brokermodels.StatusVerified, brokermodels.StatusPendingVerification)
	if err != nil {
		return fmt.Errorf("list monitored brokers: %w", err)
	}
	jitter := j.MaxJitter
	if jitter == 0 {
		jitter = o.maxJitter
	}
	batchID := requestcontext.JobID(ctx).String()
	res := o.fanOut(ctx, ids, func(brokerID id.BrokerID) jobs.Job {
		return jobs.RunComplianceChecks{BrokerID: brokerID, BatchID: batchID}
	}, jitter)
	return o.finishBatch(ctx, jobs.NameDailyComplianceBatch, batchID, res)
}

// complianceRunTTL bounds how long an unfinished run's state is kept.
const complianceRunTTL = 7 * day

// runComplianceChecks performs one logical compliance run. Types that failed
// on a provider outage are kept in the KV store under the job's ID, so a
// retry re-runs only those. The score is recomputed once per run: when every
// type has succeeded, or by OnExhausted when retries run out.
func (o *Orchestrator) runComplianceChecks(ctx context.Context, j jobs.RunComplianceChecks) error {
	b, err := o.loadBroker(ctx, j.BrokerID)
	if err != nil {
		return err
	}
	if closed(b) {
		return nil
	}

	key := complianceRunKey(ctx, j.BrokerID)
	opts, checked, err := o.loadComplianceRun(ctx, key)
	if err != nil {
		return err
	}
	if !checked {
		summary, err := o.Runner.Run(ctx, j.BrokerID, opts)
		if err != nil {
			return err
		}
		failed := summary.FailedTypes()
		if err := o.saveComplianceRun(ctx, key, failed); err != nil {
			return err
		}
		if len(failed) > 0 {
			o.logger.WarnContext(ctx, "compliance run incomplete",
				"broker_id", j.BrokerID,
				"batch_id", j.BatchID,
				"attempt", requestcontext.Attempt(ctx),
				"failed_types", failed,
			)
			return summary.Err()
		}
	}

	score, err := o.Scorer.RecomputeScore(ctx, j.BrokerID)
	if err != nil {
		return err
	}
	o.clearComplianceRun(ctx, key)
	o.logger.InfoContext(ctx, "compliance checks completed",
		"broker_id", j.BrokerID,
		"batch_id", j.BatchID,
		"attempt", requestcontext.Attempt(ctx),
		"compliance_score", score,
	)
	return nil
}

// complianceRunKey is empty outside a queued job, where there is no retry
// to resume.
func complianceRunKey(ctx context.Context, brokerID id.BrokerID) string {
	jobID := requestcontext.JobID(ctx)
	if jobID.IsNil() {
		return ""
	}
	return "compliance-run:" + jobID.String() + ":" + brokerID.String()
}

// loadComplianceRun returns the types still owed by an earlier attempt. An
// empty stored value means every check is recorded and only scoring is left.
func (o *Orchestrator) loadComplianceRun(ctx context.Context, key string) (checks.RunOptions, bool, error) {
	if key == "" {
		return checks.RunOptions{}, false, nil
	}
	v, err := o.KV.Get(ctx, key)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return checks.RunOptions{}, false, nil
	case err != nil:
		return checks.RunOptions{}, false, fmt.Errorf("load compliance run: %w", err)
	case v == "":
		return checks.RunOptions{}, true, nil
	}
	opts := checks.RunOptions{Retry: true}
	for _, t := range strings.Split(v, ",") {
		opts.Types = append(opts.Types, compliancemodels.CheckType(t))
	}
	return opts, false, nil
}

func (o *Orchestrator) saveComplianceRun(ctx context.Context, key string, failed []compliancemodels.CheckType) error {
	if key == "" {
		return nil
	}
	names := make([]string, len(failed))
	for i, t := range failed {
		names[i] = string(t)
	}
	if err := o.KV.Set(ctx, key, strings.Join(names, ","), complianceRunTTL); err != nil {
		return fmt.Errorf("save compliance run: %w", err)
	}
	return nil
}

func (o *Orchestrator) clearComplianceRun(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := o.KV.Del(ctx, key); err != nil {
		o.logger.WarnContext(ctx, "failed to clear compliance run state", "key", key, "error", err)
	}
}

// exhaustComplianceRun scores what the run recorded, degraded rows included,
// and hands the broker to a reviewer.
func (o *Orchestrator) exhaustComplianceRun(ctx context.Context, j jobs.RunComplianceChecks, cause error) error {
	if _, err := o.Scorer.RecomputeScore(ctx, j.BrokerID); err != nil {
		o.logger.WarnContext(ctx, "score refresh after exhausted compliance run failed", "broker_id", j.BrokerID, "error", err)
	}
	o.clearComplianceRun(ctx, complianceRunKey(ctx, j.BrokerID))
	return o.requestManualReview(ctx, j.BrokerID, verification.TypeCompliance, "provider unavailable after retries: "+cause.Error())
}
