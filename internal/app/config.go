package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/jobs"
	"github.com/yungbote/neurobridge-backend/internal/jobs/scheduler"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
	"github.com/yungbote/neurobridge-backend/internal/utils"
)

// ServiceMode names one of the independently startable service roles C10
// can compose. A single binary invocation may enable any subset.
type ServiceMode string

const (
	ServiceModeHTTP                 ServiceMode = "http"
	ServiceModeScheduler            ServiceMode = "scheduler"
	ServiceModeReaper               ServiceMode = "reaper"
	ServiceModeRulesEngine          ServiceMode = "rules-engine"
	ServiceModeAlertRunner          ServiceMode = "alert-runner"
	ServiceModeSecretRefreshRunner  ServiceMode = "secret-refresh-runner"
)

func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeScheduler,
		ServiceModeReaper,
		ServiceModeRulesEngine,
		ServiceModeAlertRunner,
		ServiceModeSecretRefreshRunner,
	}
}

// ParseServices parses a comma-delimited SERVICES env value into the set of
// enabled modes, rejecting unknown names outright rather than silently
// ignoring a typo'd mode.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)
	if strings.TrimSpace(servicesStr) == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		mode := ServiceMode(name)
		switch mode {
		case ServiceModeHTTP, ServiceModeScheduler, ServiceModeReaper,
			ServiceModeRulesEngine, ServiceModeAlertRunner, ServiceModeSecretRefreshRunner:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name: %q (valid: http, scheduler, reaper, rules-engine, alert-runner, secret-refresh-runner)", name)
		}
	}
	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}
	return services, nil
}

// SchedulerConfig mirrors scheduler.Config but stays env-parseable here;
// ToSchedulerConfig converts once at wiring time.
type SchedulerConfig struct {
	BatchSize       int
	DefaultJobType  jobs.Type
	DefaultPriority int
	MaxRetries      int
	OverrunPolicy   scheduler.OverrunPolicy
	Interval        time.Duration
}

func (c SchedulerConfig) ToSchedulerConfig() scheduler.Config {
	sc := scheduler.Config{
		BatchSize:       c.BatchSize,
		DefaultJobType:  c.DefaultJobType,
		DefaultPriority: c.DefaultPriority,
		MaxRetries:      c.MaxRetries,
		Strategy: scheduler.StrategyOptions{
			Overrun:       c.OverrunPolicy,
			OverrunStates: scheduler.OverrunStatesDefault,
		},
	}
	sc.Sanitize()
	return sc
}

type RunnerConfig struct {
	Concurrency int
	JobLease    time.Duration
}

func (c *RunnerConfig) sanitize(minLease time.Duration) {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.JobLease < minLease {
		c.JobLease = minLease
	}
}

type ReaperConfig struct {
	Interval         time.Duration
	PendingMaxAge    time.Duration
	CompletedMaxAge  time.Duration
	FailedMaxAge     time.Duration
	JobResultsMaxAge time.Duration
	BatchSize        int
}

func (c ReaperConfig) ToJobsReaperConfig() jobs.ReaperConfig {
	rc := jobs.ReaperConfig{
		Interval:         c.Interval,
		PendingMaxAge:    c.PendingMaxAge,
		CompletedMaxAge:  c.CompletedMaxAge,
		FailedMaxAge:     c.FailedMaxAge,
		JobResultsMaxAge: c.JobResultsMaxAge,
		BatchSize:        c.BatchSize,
	}
	rc.Sanitize()
	return rc
}

// Config is the process-wide configuration, env-sourced via
// utils.GetEnv/GetEnvAsInt — the same ambient helpers the rest of the
// codebase uses, not a struct-tag env-parsing library.
type Config struct {
	Services map[ServiceMode]bool

	JWTSecretKey     string
	ServiceSecretKey string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration

	SecretEncryptionKey string

	RedisAddr string

	HTTPPort string

	Scheduler           SchedulerConfig
	RulesEngine         RunnerConfig
	AlertRunner         RunnerConfig
	SecretRefreshRunner RunnerConfig
	Reaper              ReaperConfig

	DedupeTTL          time.Duration
	AllowlistTTL       time.Duration
	AllowlistMaxEntries int
}

func getEnvAsDuration(key string, defaultSeconds int, log *logger.Logger) time.Duration {
	seconds := utils.GetEnvAsInt(key, defaultSeconds, log)
	return time.Duration(seconds) * time.Second
}

func LoadConfig(log *logger.Logger) Config {
	servicesStr := utils.GetEnv("SERVICES", string(ServiceModeHTTP), log)
	services, err := ParseServices(servicesStr)
	if err != nil {
		log.Warn("invalid SERVICES value, defaulting to http", "error", err)
		services = map[ServiceMode]bool{ServiceModeHTTP: true}
	}

	cfg := Config{
		Services: services,

		JWTSecretKey:     utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log),
		ServiceSecretKey: utils.GetEnv("SERVICE_SECRET_KEY", "default-service-secret", log),
		AccessTokenTTL:   getEnvAsDuration("ACCESS_TOKEN_TTL", 3600, log),
		RefreshTokenTTL:  getEnvAsDuration("REFRESH_TOKEN_TTL", 86400, log),

		SecretEncryptionKey: utils.GetEnv("SECRET_ENCRYPTION_KEY", "", log),

		RedisAddr: utils.GetEnv("REDIS_ADDR", "localhost:6379", log),

		HTTPPort: utils.GetEnv("PORT", "8080", log),

		Scheduler: SchedulerConfig{
			BatchSize:       utils.GetEnvAsInt("SCHEDULER_BATCH_SIZE", 25, log),
			DefaultJobType:  jobs.Type(utils.GetEnv("SCHEDULER_DEFAULT_JOB_TYPE", string(jobs.TypeBrowser), log)),
			DefaultPriority: utils.GetEnvAsInt("SCHEDULER_DEFAULT_PRIORITY", 0, log),
			MaxRetries:      utils.GetEnvAsInt("SCHEDULER_MAX_RETRIES", 3, log),
			OverrunPolicy:   scheduler.OverrunPolicy(utils.GetEnv("SCHEDULER_OVERRUN", string(scheduler.OverrunSkip), log)),
			Interval:        getEnvAsDuration("SCHEDULER_INTERVAL_SECONDS", 1, log),
		},
		RulesEngine: RunnerConfig{
			Concurrency: utils.GetEnvAsInt("RULES_ENGINE_CONCURRENCY", 1, log),
			JobLease:    getEnvAsDuration("RULES_ENGINE_JOB_LEASE_SECONDS", 30, log),
		},
		AlertRunner: RunnerConfig{
			Concurrency: utils.GetEnvAsInt("ALERT_RUNNER_CONCURRENCY", 2, log),
			JobLease:    getEnvAsDuration("ALERT_RUNNER_JOB_LEASE_SECONDS", 30, log),
		},
		SecretRefreshRunner: RunnerConfig{
			Concurrency: utils.GetEnvAsInt("SECRET_REFRESH_RUNNER_CONCURRENCY", 2, log),
			JobLease:    getEnvAsDuration("SECRET_REFRESH_RUNNER_JOB_LEASE_SECONDS", 30, log),
		},
		Reaper: ReaperConfig{
			Interval:         getEnvAsDuration("REAPER_INTERVAL_SECONDS", 300, log),
			PendingMaxAge:    getEnvAsDuration("REAPER_PENDING_MAX_AGE_SECONDS", 3600, log),
			CompletedMaxAge:  getEnvAsDuration("REAPER_COMPLETED_MAX_AGE_SECONDS", 168*3600, log),
			FailedMaxAge:     getEnvAsDuration("REAPER_FAILED_MAX_AGE_SECONDS", 168*3600, log),
			JobResultsMaxAge: getEnvAsDuration("REAPER_JOB_RESULTS_MAX_AGE_SECONDS", 2160*3600, log),
			BatchSize:        utils.GetEnvAsInt("REAPER_BATCH_SIZE", 1000, log),
		},

		DedupeTTL:           getEnvAsDuration("RULES_DEDUPE_TTL_SECONDS", 120, log),
		AllowlistTTL:        getEnvAsDuration("RULES_ALLOWLIST_TTL_SECONDS", 300, log),
		AllowlistMaxEntries: utils.GetEnvAsInt("RULES_ALLOWLIST_MAX_ENTRIES", 10000, log),
	}

	cfg.RulesEngine.sanitize(5 * time.Second)
	cfg.AlertRunner.sanitize(5 * time.Second)
	cfg.SecretRefreshRunner.sanitize(5 * time.Second)

	return cfg
}
