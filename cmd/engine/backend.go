package main

import (
	"context"
	"log/slog"

	"brokerguard/internal/alerting"
	alertstore "brokerguard/internal/alerting/store"
	brokerstore "brokerguard/internal/broker/store"
	"brokerguard/internal/compliance/checks"
	"brokerguard/internal/compliance/scoring"
	compliancestore "brokerguard/internal/compliance/store"
	"brokerguard/internal/jobs"
	"brokerguard/internal/orchestrator"
	"brokerguard/internal/platform/config"
	"brokerguard/internal/platform/httpserver"
	"brokerguard/internal/platform/metrics"
	"brokerguard/internal/platform/postgres"
	queuememory "brokerguard/internal/queue/memory"
	queuepostgres "brokerguard/internal/queue/postgres"
	verificationstore "brokerguard/internal/verification/store"
	"brokerguard/internal/worker"
	"brokerguard/pkg/platform/audit"
	auditmemory "brokerguard/pkg/platform/audit/store/memory"
	auditpostgres "brokerguard/pkg/platform/audit/store/postgres"
	auditworker "brokerguard/pkg/platform/audit/worker"
)

type checkStore interface {
	checks.CheckAppender
	scoring.CheckLister
	orchestrator.CheckSummarizer
}

type jobQueue interface {
	jobs.Queue
	worker.Source
	metrics.QueueCounter
}

// backend is the persistence layer: Postgres when DATABASE_URL is set,
// in-memory otherwise.
type backend struct {
	postgres bool
	brokers  orchestrator.BrokerStore
	records  orchestrator.RecordStore
	checks   checkStore
	alerts   alerting.Store
	audit    audit.Store
	queue    jobQueue
	outbox   auditworker.Outbox
	probes   []httpserver.Check
	closers  []func()
}

func openBackend(ctx context.Context, cfg config.Config, log *slog.Logger) (*backend, error) {
	if cfg.Database.URL == "" {
		log.WarnContext(ctx, "DATABASE_URL not set, running on in-memory stores")
		return &backend{
			brokers: brokerstore.NewInMemory(),
			records: verificationstore.NewInMemory(),
			checks:  compliancestore.NewInMemory(),
			alerts:  alertstore.NewInMemory(),
			audit:   auditmemory.NewInMemoryStore(),
			queue:   queuememory.New(),
		}, nil
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	pool, err := postgres.OpenPool(ctx, cfg.Database)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.InfoContext(ctx, "postgres ready, migrations applied")

	auditStore := auditpostgres.New(db)
	return &backend{
		postgres: true,
		brokers:  brokerstore.NewPostgres(db),
		records:  verificationstore.NewPostgres(db),
		checks:   compliancestore.NewPostgres(db),
		alerts:   alertstore.NewPostgres(db),
		audit:    auditStore,
		queue:    queuepostgres.New(pool, queuepostgres.WithLease(cfg.Worker.JobLease)),
		outbox:   auditStore,
		probes: []httpserver.Check{
			{Name: "postgres", Probe: db.PingContext},
			{Name: "job-queue", Probe: pool.Ping},
		},
		closers: []func(){
			pool.Close,
			func() { _ = db.Close() },
		},
	}, nil
}

// Close releases connections in reverse order of acquisition.
func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

