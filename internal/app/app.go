package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/neurobridge-backend/internal/db"
	"github.com/yungbote/neurobridge-backend/internal/events"
	httpboundary "github.com/yungbote/neurobridge-backend/internal/http"
	httpHandlers "github.com/yungbote/neurobridge-backend/internal/http/handlers"
	httpMW "github.com/yungbote/neurobridge-backend/internal/http/middleware"
	"github.com/yungbote/neurobridge-backend/internal/jobs"
	"github.com/yungbote/neurobridge-backend/internal/jobs/jobresults"
	"github.com/yungbote/neurobridge-backend/internal/jobs/rules"
	"github.com/yungbote/neurobridge-backend/internal/jobs/scheduler"
	"github.com/yungbote/neurobridge-backend/internal/observability"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// App is the composition root (C10): it wires the durable job store,
// notifier, job service, scheduler, reaper, rules runners, events
// ingestion, and HTTP boundary, then lets Lifecycle start whatever subset
// of them Cfg.Services enables.
type App struct {
	Log       *logger.Logger
	Cfg       Config
	Lifecycle *Lifecycle
	Server    *httpboundary.Server

	pg           *db.PostgresService
	redisClient  *goredis.Client
	otelShutdown func(context.Context) error
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "neurobridge-job-orchestrator",
		Environment: os.Getenv("ENVIRONMENT"),
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	sqlDB := pg.SQL()

	redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})

	store := jobs.NewPostgresStore(sqlDB, log)
	notifier := jobs.NewNotifier(store, log)

	failureNotifier := jobs.NewFanoutFailureNotifier(jobs.FailureNotifierOptions{
		Log: log,
	})

	jobSvc := jobs.NewService(jobs.ServiceOptions{
		Store:           store,
		Notifier:        notifier,
		LeasePolicy:     jobs.DefaultLeasePolicy(),
		FailureNotifier: failureNotifier,
		Log:             log,
	})

	schedRepo := scheduler.NewPostgresRepository(sqlDB)
	schedIntro := scheduler.NewPostgresJobIntrospector(sqlDB)
	schedSvc := scheduler.NewService(scheduler.ServiceOptions{
		Repository:      schedRepo,
		JobIntrospector: schedIntro,
		Jobs:            jobSvc,
		Config:          cfg.Scheduler.ToSchedulerConfig(),
		Log:             log,
	})
	if err := seedDefaultScheduledTask(context.Background(), schedRepo, cfg.Scheduler); err != nil {
		log.Warn("failed to seed default scheduled task", "error", err)
	}
	ticker := scheduler.NewTicker(scheduler.TickerOptions{
		Service:  schedSvc,
		Interval: cfg.Scheduler.Interval,
		Log:      log,
	})

	reaper := jobs.NewReaper(store, cfg.Reaper.ToJobsReaperConfig(), log)

	deduper := rules.NewRedisDeduper(rules.DeduperOptions{
		Client: redisClient,
		TTL:    cfg.DedupeTTL,
		Log:    log,
	})
	allowlist := rules.NewAllowlistChecker(rules.AllowlistCheckerOptions{
		Underlying: rules.NewPostgresAllowlistService(sqlDB),
		TTL:        cfg.AllowlistTTL,
		MaxEntries: cfg.AllowlistMaxEntries,
	})
	// Constructed but not passed to any handler: the rules handler's
	// allowlist and dedupe keys carry no IOC cache version.
	_ = rules.NewRedisCacheVersioner(redisClient, "rules:cacheversion:")

	results := jobresults.NewStore(sqlDB)
	httpClient := &http.Client{Timeout: 15 * time.Second}

	rulesRunner, err := jobs.NewRunner(jobs.RunnerOptions{
		Service:     jobSvc,
		Type:        jobs.TypeRules,
		Concurrency: cfg.RulesEngine.Concurrency,
		Lease:       cfg.RulesEngine.JobLease,
		Handler:     newRulesHandler(allowlist, deduper, jobSvc, log),
		Log:         log,
	})
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init rules runner: %w", err)
	}

	alertRunner, err := jobs.NewRunner(jobs.RunnerOptions{
		Service:     jobSvc,
		Type:        jobs.TypeAlert,
		Concurrency: cfg.AlertRunner.Concurrency,
		Lease:       cfg.AlertRunner.JobLease,
		Handler:     newAlertHandler(httpClient, results, log),
		Log:         log,
	})
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init alert runner: %w", err)
	}

	secretRefreshRunner, err := jobs.NewRunner(jobs.RunnerOptions{
		Service:     jobSvc,
		Type:        jobs.TypeSecretRefresh,
		Concurrency: cfg.SecretRefreshRunner.Concurrency,
		Lease:       cfg.SecretRefreshRunner.JobLease,
		Handler:     newSecretRefreshHandler(cfg.SecretEncryptionKey, results, log),
		Log:         log,
	})
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init secret refresh runner: %w", err)
	}

	eventsSvc := events.NewService(events.ServiceOptions{
		Store: events.NewPostgresStore(sqlDB),
		Log:   log,
	})

	serviceAuth := httpMW.NewServiceAuthMiddleware(log, cfg.ServiceSecretKey)
	router := httpboundary.NewRouter(httpboundary.RouterConfig{
		HealthHandler: httpHandlers.NewHealthHandler(),
		JobsHandler:   httpHandlers.NewJobsAPIHandler(jobSvc),
		EventsHandler: httpHandlers.NewEventsHandler(eventsSvc),
		ServiceAuth:   serviceAuth,
		Log:           log,
	})
	server := &httpboundary.Server{Engine: router}

	lc := NewLifecycle(log)
	if cfg.Services[ServiceModeHTTP] {
		lc.Add("http", func(ctx context.Context) error {
			return runHTTPServer(ctx, server, cfg.HTTPPort, log)
		})
	}
	if cfg.Services[ServiceModeScheduler] {
		lc.Add("scheduler", ticker.Run)
	}
	if cfg.Services[ServiceModeReaper] {
		lc.Add("reaper", reaper.Run)
	}
	if cfg.Services[ServiceModeRulesEngine] {
		lc.Add("rules-runner", rulesRunner.Run)
	}
	if cfg.Services[ServiceModeAlertRunner] {
		lc.Add("alert-runner", alertRunner.Run)
	}
	if cfg.Services[ServiceModeSecretRefreshRunner] {
		lc.Add("secret-refresh-runner", secretRefreshRunner.Run)
	}

	return &App{
		Log:          log,
		Cfg:          cfg,
		Lifecycle:    lc,
		Server:       server,
		pg:           pg,
		redisClient:  redisClient,
		otelShutdown: otelShutdown,
	}, nil
}

// runHTTPServer adapts gin's blocking Run to the component contract: it
// runs the server in a goroutine and returns as soon as ctx is cancelled,
// closing the listener via http.Server.Shutdown.
func runHTTPServer(ctx context.Context, server *httpboundary.Server, port string, log *logger.Logger) error {
	srv := &http.Server{Addr: ":" + port, Handler: server.Engine}
	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultDrainTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// seedDefaultScheduledTask ensures at least one scan-job-producing task
// exists out of the box, so a freshly deployed scheduler has something to
// fire on rather than sitting idle until an operator registers a site.
func seedDefaultScheduledTask(ctx context.Context, repo scheduler.AdminRepository, cfg SchedulerConfig) error {
	return repo.UpsertByTaskName(ctx, scheduler.Task{
		ID:         uuid.New().String(),
		TaskName:   "default-scan-sweep",
		Interval:   cfg.Interval * 10,
		Payload:    map[string]any{},
		JobType:    cfg.DefaultJobType,
		Priority:   cfg.DefaultPriority,
		MaxRetries: cfg.MaxRetries,
	})
}

func (a *App) Run(ctx context.Context) error {
	return a.Lifecycle.Run(ctx)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.redisClient != nil {
		_ = a.redisClient.Close()
	}
	if a.pg != nil {
		_ = a.pg.Close()
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.otelShutdown(ctx)
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
