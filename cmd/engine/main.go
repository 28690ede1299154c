package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"brokerguard/internal/alerting"
	alertmetrics "brokerguard/internal/alerting/metrics"
	"brokerguard/internal/compliance/checks"
	compliancemetrics "brokerguard/internal/compliance/metrics"
	"brokerguard/internal/compliance/scoring"
	"brokerguard/internal/kyc"
	"brokerguard/internal/notify"
	"brokerguard/internal/orchestrator"
	"brokerguard/internal/platform/config"
	"brokerguard/internal/platform/httpserver"
	"brokerguard/internal/platform/kafka"
	"brokerguard/internal/platform/logger"
	"brokerguard/internal/platform/metrics"
	"brokerguard/internal/platform/redis"
	"brokerguard/internal/providers"
	"brokerguard/internal/providers/fsca"
	"brokerguard/internal/providers/media"
	providerscreening "brokerguard/internal/providers/screening"
	"brokerguard/internal/scheduler"
	"brokerguard/internal/screening"
	"brokerguard/internal/worker"
	"brokerguard/pkg/platform/audit"
	"brokerguard/pkg/platform/audit/publisher"
	auditworker "brokerguard/pkg/platform/audit/worker"
	"brokerguard/pkg/platform/circuit"
	"brokerguard/pkg/platform/kv"
	kvmemory "brokerguard/pkg/platform/kv/memory"
	kvredis "brokerguard/pkg/platform/kv/redis"
)

const shutdownTimeout = 30 * time.Second

// main wires the engine: stores, providers, domain services, the worker
// pool, the scheduler and the ops listener. Business logic lives in internal
// packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("engine stopped", "error", err)
		os.Exit(1)
	}
	log.Info("engine stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.Close()

	locks, err := openKV(ctx, cfg, log, be)
	if err != nil {
		return err
	}

	producer, err := kafka.New(cfg.Kafka, log)
	if err != nil {
		return err
	}
	auditOpts := []publisher.Option{publisher.WithLogger(log)}
	if producer != nil {
		defer producer.Close()
		if err := producer.EnsureTopic(ctx, 3, 1); err != nil {
			log.WarnContext(ctx, "audit topic check failed", "error", err)
		}
		be.probes = append(be.probes, httpserver.Check{Name: "kafka", Probe: producer.Health})
		// With Postgres the outbox relay publishes; otherwise mirror directly.
		if be.outbox == nil {
			auditOpts = append(auditOpts, publisher.WithMirror(producer))
		}
	}
	auditor := publisher.NewPublisher(be.audit, auditOpts...)
	defer auditor.Close()

	registry, screener, monitor := buildProviders(cfg.Providers, locks, log)

	svc, err := buildServices(cfg, log, be, locks, auditor, registry, screener, monitor)
	if err != nil {
		return err
	}

	pool, err := worker.New(be.queue, svc, locks,
		worker.WithConcurrency(cfg.Worker.Concurrency),
		worker.WithPollInterval(cfg.Worker.PollInterval),
		worker.WithLockTTL(cfg.Worker.LockTTL),
		worker.WithLockRetryDelay(cfg.Worker.LockRetryDelay),
		worker.WithJobTimeout(cfg.Worker.JobTimeout),
		worker.WithExhaustionHook(svc),
		worker.WithLogger(log),
		worker.WithMetrics(worker.NewMetrics()),
	)
	if err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(be.queue, cfg.Scheduler.Timezone, scheduler.Entries(cfg.Scheduler), scheduler.WithLogger(log))
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}

	prometheus.MustRegister(metrics.NewQueueDepth(be.queue, log))
	router := httpserver.OpsRouter(log, be.probes...)
	if sched != nil && cfg.Ops.AdminToken != "" {
		httpserver.MountJobs(router, cfg.Ops.AdminToken, sched.Trigger, log)
	}
	ops := httpserver.New(cfg.Ops.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pool.Run(gctx)
		return nil
	})
	if be.outbox != nil && producer != nil {
		relay := auditworker.NewWorker(be.outbox, producer, auditworker.WithLogger(log))
		g.Go(func() error {
			if err := relay.Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		log.InfoContext(gctx, "ops server listening", "addr", cfg.Ops.Addr)
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	if sched != nil {
		sched.Start()
	}
	log.InfoContext(ctx, "engine started",
		"env", cfg.Env,
		"postgres", be.postgres,
		"redis", cfg.Redis.URL != "",
		"kafka", producer != nil,
		"workers", cfg.Worker.Concurrency,
		"scheduler", sched != nil,
	)

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if sched != nil {
			sched.Stop(shutdownCtx)
		}
		return ops.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openKV(ctx context.Context, cfg config.Config, log *slog.Logger, be *backend) (kv.Store, error) {
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	if client == nil {
		log.WarnContext(ctx, "REDIS_URL not set, job locks are process-local")
		return kvmemory.New(), nil
	}
	be.closers = append(be.closers, func() { _ = client.Close() })
	be.probes = append(be.probes, httpserver.Check{Name: "redis", Probe: client.Health})
	return kvredis.New(client.Client, client.KeyPrefix()), nil
}

func buildProviders(cfg config.ProvidersConfig, cache kv.Store, log *slog.Logger) (fsca.Registry, providerscreening.Screener, media.Monitor) {
	pm := providers.NewMetrics()
	tokens := providers.NewTokenSource(cfg.ServiceTokenKey, cfg.ServiceTokenIssuer, cfg.ServiceTokenTTL)
	client := func(name, url string) *providers.JSONClient {
		return providers.NewJSONClient(name, url,
			providers.WithTokenSource(tokens),
			providers.WithTimeout(cfg.Timeout),
			providers.WithBreaker(circuit.New(name,
				circuit.WithFailureThreshold(cfg.BreakerFailures),
				circuit.WithSuccessThreshold(cfg.BreakerSuccesses),
			)),
			providers.WithLogger(log),
			providers.WithMetrics(pm),
		)
	}

	registry := fsca.NewHTTPRegistry(client("fsca", cfg.FSCAURL))
	var screener providerscreening.Screener = providerscreening.NewHTTPScreener(client("screening", cfg.ScreeningURL))
	if cfg.ScreeningCacheTTL > 0 {
		screener = providerscreening.NewCachedScreener(screener, cache, cfg.ScreeningCacheTTL, log, pm)
	}
	monitor := media.NewHTTPMonitor(client("media", cfg.MediaURL))
	return registry, screener, monitor
}

func buildServices(
	cfg config.Config,
	log *slog.Logger,
	be *backend,
	locks kv.Store,
	auditor audit.Sink,
	registry fsca.Registry,
	screener providerscreening.Screener,
	monitor media.Monitor,
) (*orchestrator.Orchestrator, error) {
	var sender notify.Sender = notify.NewLogSender(log)
	if cfg.Escalation.WebhookURL != "" {
		sender = notify.MultiSender{sender, notify.NewWebhookSender(cfg.Escalation.WebhookURL, notify.WithWebhookLogger(log))}
	}

	alerts, err := alerting.New(be.alerts, auditor, sender, alerting.Recipients{
		1: cfg.Escalation.Level1,
		2: cfg.Escalation.Level2,
		3: cfg.Escalation.Level3,
	}, alerting.WithLogger(log), alerting.WithMetrics(alertmetrics.New()))
	if err != nil {
		return nil, fmt.Errorf("alerting: %w", err)
	}

	screen, err := screening.New(screener, monitor, screening.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("screening: %w", err)
	}
	engine, err := kyc.NewEngine(be.records, be.brokers, auditor, kyc.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("kyc engine: %w", err)
	}

	cm := compliancemetrics.New()
	runner, err := checks.NewRunner(be.brokers, be.checks, alerts, auditor, screener, monitor,
		checks.WithLogger(log), checks.WithMetrics(cm))
	if err != nil {
		return nil, fmt.Errorf("compliance runner: %w", err)
	}
	scorer, err := scoring.NewScorer(be.checks, be.brokers, auditor, scoring.WithLogger(log), scoring.WithMetrics(cm))
	if err != nil {
		return nil, fmt.Errorf("scorer: %w", err)
	}

	return orchestrator.New(orchestrator.Deps{
		Brokers:   be.brokers,
		Records:   be.records,
		Checks:    be.checks,
		Registry:  registry,
		Screening: screen,
		KYC:       engine,
		Runner:    runner,
		Scorer:    scorer,
		Alerts:    alerts,
		Notifier:  sender,
		Queue:     be.queue,
		KV:        locks,
		Audit:     auditor,
	},
		orchestrator.WithLogger(log),
		orchestrator.WithMaxJitter(cfg.Scheduler.MaxJitter),
	)
}
