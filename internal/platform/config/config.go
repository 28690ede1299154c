// Package config loads engine configuration from the environment.
// A .env file in the working directory is loaded first when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env        string
	Log        LogConfig
	Ops        OpsConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Providers  ProvidersConfig
	Worker     WorkerConfig
	Scheduler  SchedulerConfig
	Escalation EscalationConfig
}

type LogConfig struct {
	Level  string
	Format string
}

// OpsConfig is the health/metrics listener.
type OpsConfig struct {
	Addr string
	// AdminToken enables POST /jobs/{name}. Empty leaves it unmounted.
	AdminToken string
}

// DatabaseConfig selects Postgres; an empty URL runs the engine on in-memory stores.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueueMaxConns   int32
}

type RedisConfig struct {
	URL          string
	KeyPrefix    string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers    []string
	ClientID   string
	AuditTopic string
	Linger     time.Duration
}

type ProvidersConfig struct {
	FSCAURL      string
	ScreeningURL string
	MediaURL     string
	// ServiceTokenKey signs short-lived JWTs presented to providers.
	ServiceTokenKey    string
	ServiceTokenIssuer string
	ServiceTokenTTL    time.Duration
	Timeout            time.Duration
	ScreeningCacheTTL  time.Duration
	BreakerFailures    int
	BreakerSuccesses   int
}

type WorkerConfig struct {
	Concurrency  int
	PollInterval time.Duration
	LockTTL      time.Duration
	// LockRetryDelay is how long a job is deferred when its broker stage is locked.
	LockRetryDelay time.Duration
	JobTimeout     time.Duration
	// JobLease is how long a claimed job may run before the durable queue
	// hands it to another worker.
	JobLease time.Duration
}

type SchedulerConfig struct {
	Enabled           bool
	Timezone          string
	DailyCheckSpec    string
	LicenseRecheck    string
	ReminderSweepSpec string
	WeeklyReportSpec  string
	MonthlyReportSpec string
	MaxJitter         time.Duration
}

// EscalationConfig lists recipients per escalation level.
type EscalationConfig struct {
	Level1     []string
	Level2     []string
	Level3     []string
	WebhookURL string
}

// FromEnv builds the configuration from environment variables so main stays lean.
func FromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		Env: getenv("APP_ENV", "development"),
		Log: LogConfig{
			Level:  getenv("LOG_LEVEL", "info"),
			Format: getenv("LOG_FORMAT", "json"),
		},
		Ops: OpsConfig{
			Addr:       getenv("OPS_ADDR", ":9090"),
			AdminToken: os.Getenv("OPS_ADMIN_TOKEN"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getenvInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getenvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getenvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			QueueMaxConns:   int32(getenvInt("QUEUE_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			KeyPrefix:    getenv("REDIS_KEY_PREFIX", "brokerguard:"),
			PoolSize:     getenvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getenvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getenvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getenvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getenvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    getenvList("KAFKA_BROKERS"),
			ClientID:   getenv("KAFKA_CLIENT_ID", "brokerguard"),
			AuditTopic: getenv("KAFKA_AUDIT_TOPIC", "brokerguard.audit"),
			Linger:     getenvDuration("KAFKA_LINGER", 10*time.Millisecond),
		},
		Providers: ProvidersConfig{
			FSCAURL:            os.Getenv("FSCA_URL"),
			ScreeningURL:       os.Getenv("SCREENING_URL"),
			MediaURL:           os.Getenv("MEDIA_URL"),
			ServiceTokenKey:    os.Getenv("SERVICE_TOKEN_KEY"),
			ServiceTokenIssuer: getenv("SERVICE_TOKEN_ISSUER", "brokerguard"),
			ServiceTokenTTL:    getenvDuration("SERVICE_TOKEN_TTL", 5*time.Minute),
			Timeout:            getenvDuration("PROVIDER_TIMEOUT", 30*time.Second),
			ScreeningCacheTTL:  getenvDuration("SCREENING_CACHE_TTL", 24*time.Hour),
			BreakerFailures:    getenvInt("PROVIDER_BREAKER_FAILURES", 5),
			BreakerSuccesses:   getenvInt("PROVIDER_BREAKER_SUCCESSES", 2),
		},
		Worker: WorkerConfig{
			Concurrency:    getenvInt("WORKER_CONCURRENCY", 4),
			PollInterval:   getenvDuration("WORKER_POLL_INTERVAL", time.Second),
			LockTTL:        getenvDuration("WORKER_LOCK_TTL", 5*time.Minute),
			LockRetryDelay: getenvDuration("WORKER_LOCK_RETRY_DELAY", 30*time.Second),
			JobTimeout:     getenvDuration("WORKER_JOB_TIMEOUT", 2*time.Minute),
			JobLease:       getenvDuration("WORKER_JOB_LEASE", 10*time.Minute),
		},
		Scheduler: SchedulerConfig{
			Enabled:           getenv("SCHEDULER_ENABLED", "true") == "true",
			Timezone:          getenv("SCHEDULER_TZ", "Africa/Johannesburg"),
			DailyCheckSpec:    getenv("SCHEDULE_DAILY_CHECKS", "0 2 * * *"),
			LicenseRecheck:    getenv("SCHEDULE_LICENSE_RECHECK", "0 */6 * * *"),
			ReminderSweepSpec: getenv("SCHEDULE_REMINDER_SWEEP", "0 8 * * *"),
			WeeklyReportSpec:  getenv("SCHEDULE_WEEKLY_REPORT", "0 6 * * 1"),
			MonthlyReportSpec: getenv("SCHEDULE_MONTHLY_REPORT", "0 6 1 * *"),
			MaxJitter:         getenvDuration("SCHEDULER_MAX_JITTER", 5*time.Minute),
		},
		Escalation: EscalationConfig{
			Level1:     getenvListDefault("ESCALATION_L1", []string{"compliance-team@platform.local"}),
			Level2:     getenvListDefault("ESCALATION_L2", []string{"compliance-manager@platform.local"}),
			Level3:     getenvListDefault("ESCALATION_L3", []string{"cco@platform.local"}),
			WebhookURL: os.Getenv("ALERT_WEBHOOK_URL"),
		},
	}

	if cfg.Worker.Concurrency < 1 {
		return cfg, fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	if cfg.Worker.JobLease <= cfg.Worker.JobTimeout {
		return cfg, fmt.Errorf("WORKER_JOB_LEASE must exceed WORKER_JOB_TIMEOUT")
	}
	if cfg.Env == "production" && cfg.Providers.ServiceTokenKey == "" {
		return cfg, fmt.Errorf("SERVICE_TOKEN_KEY is required in production")
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getenvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvListDefault(key string, def []string) []string {
	if l := getenvList(key); len(l) > 0 {
		return l
	}
	return def
}
