// Package app wires Otter's components into one of three long-running
// daemon processes (scheduler, selfheal, worker) plus the health/metrics
// surface every mode exposes.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wisbric/otter/internal/audit"
	"github.com/wisbric/otter/internal/config"
	"github.com/wisbric/otter/internal/httpserver"
	"github.com/wisbric/otter/internal/platform"
	"github.com/wisbric/otter/internal/telemetry"
	"github.com/wisbric/otter/pkg/cloud"
	"github.com/wisbric/otter/pkg/controller"
	"github.com/wisbric/otter/pkg/convergence"
	"github.com/wisbric/otter/pkg/coordination"
	"github.com/wisbric/otter/pkg/engine"
	"github.com/wisbric/otter/pkg/group"
	"github.com/wisbric/otter/pkg/httpclient"
	"github.com/wisbric/otter/pkg/identity"
	"github.com/wisbric/otter/pkg/scheduler"
	"github.com/wisbric/otter/pkg/selfheal"
	"github.com/wisbric/otter/pkg/store"
)

const (
	serviceCompute      = "cloudServersOpenStack"
	serviceLoadBalancer = "cloudLoadBalancers"
	serviceRackConnect  = "rackconnect"
)

// staticCredentials supplies the same identity credentials for every
// tenant, read once from process configuration. A deployment that needs
// per-tenant credentials would back identity.CredentialSource with the
// group store instead; this engine has no such store, so a single
// operator-level service account is the only credential shape it needs.
type staticCredentials struct {
	creds identity.Credentials
}

func (s staticCredentials) CredentialsForTenant(_ context.Context, _ string) (identity.Credentials, error) {
	return s.creds, nil
}

// Run starts the daemon selected by cfg.Mode and blocks until ctx is
// cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer rdb.Close()

	metricsReg := telemetry.NewMetricsRegistry()

	groupStore := store.NewGroupStore(pool)
	policyStore := store.NewPolicyStore(pool)
	eventStore := store.NewEventStore(pool)

	auditWriter := audit.NewWriter(pool, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	httpTimeout, err := time.ParseDuration(cfg.HTTPTimeout)
	if err != nil {
		return fmt.Errorf("parsing OTTER_HTTP_TIMEOUT: %w", err)
	}

	var creds identity.Credentials
	if cfg.IdentityAPIKey != "" {
		creds = identity.Credentials{Strategy: identity.StrategyAPIKey, Username: cfg.IdentityUsername, APIKey: cfg.IdentityAPIKey}
	} else {
		creds = identity.Credentials{Strategy: identity.StrategyPassword, Username: cfg.IdentityUsername, Password: cfg.IdentityPassword}
	}

	authCache := identity.NewCache(
		cfg.IdentityURL,
		&http.Client{Timeout: httpTimeout},
		staticCredentials{creds: creds},
		rdb,
		logger,
		&identity.Metrics{CacheHits: telemetry.AuthCacheHitsTotal, CacheMisses: telemetry.AuthCacheMissesTotal},
	)

	clientMetrics := &httpclient.Metrics{RequestsTotal: telemetry.HTTPRequestsTotal, RequestDuration: telemetry.HTTPRequestDuration}

	computeClient := cloud.NewComputeClient(cloud.NewBoundClient(httpclient.New(httpclient.Config{
		Auth: authCache, Catalog: authCache, ServiceName: serviceCompute, Region: cfg.IdentityRegion,
		MaxRetries: cfg.HTTPMaxRetries, Timeout: httpTimeout, Logger: logger, Metrics: clientMetrics,
	})))

	lbClient := cloud.NewLoadBalancerClient(cloud.NewBoundClient(httpclient.New(httpclient.Config{
		Auth: authCache, Catalog: authCache, ServiceName: serviceLoadBalancer, Region: cfg.IdentityRegion,
		MaxRetries: cfg.LBMaxRetries, Timeout: httpTimeout, Logger: logger, Metrics: clientMetrics,
	})))

	var rackConnectClient *cloud.RackConnectClient
	if cfg.RackConnectEnabled {
		rackConnectClient = cloud.NewRackConnectClient(cloud.NewBoundClient(httpclient.New(httpclient.Config{
			Auth: authCache, Catalog: authCache, ServiceName: serviceRackConnect, Region: cfg.IdentityRegion,
			MaxRetries: cfg.HTTPMaxRetries, Timeout: httpTimeout, Logger: logger, Metrics: clientMetrics,
		})))
	}

	buildTimeout := time.Duration(cfg.BuildTimeoutSeconds) * time.Second

	executor := &convergence.StandardExecutor{
		Compute:        computeClient,
		LoadBalancer:   lbClient,
		RackConnect:    rackConnectClient,
		Audit:          auditWriter,
		Logger:         logger,
		BuildTimeout:   buildTimeout,
		WorkerPoolSize: cfg.WorkerPoolSize,
		Metrics:        &convergence.Metrics{OutcomeTotal: telemetry.ConvergenceOutcomeTotal},
	}

	ctrl := &controller.Controller{Now: controller.RealClock, MaxEntities: cfg.MaxEntitiesHardCap}

	coordinator := &group.Coordinator{
		Groups:   groupStore,
		NewLock:  group.NewLockFactory(rdb, logger),
		Executor: executor,
		Logger:   logger,
	}

	eng := &engine.Engine{
		Coordinator: coordinator,
		Controller:  ctrl,
		Policies:    policyStore,
		Logger:      logger,
	}

	checks := map[string]httpserver.HealthChecker{}

	switch cfg.Mode {
	case "scheduler":
		sched := newScheduler(cfg, rdb, eventStore, eng, logger)
		checks["scheduler"] = schedulerCheck(cfg, sched)
		go sched.Run(ctx)
	case "selfheal":
		driver := newSelfHeal(cfg, rdb, groupStore, eng, logger)
		checks["selfheal"] = selfHealCheck(driver)
		go driver.Run(ctx)
	case "worker":
		sched := newScheduler(cfg, rdb, eventStore, eng, logger)
		driver := newSelfHeal(cfg, rdb, groupStore, eng, logger)
		checks["scheduler"] = schedulerCheck(cfg, sched)
		checks["selfheal"] = selfHealCheck(driver)
		go sched.Run(ctx)
		go driver.Run(ctx)
	default:
		return fmt.Errorf("unknown mode %q: expected scheduler, selfheal, or worker", cfg.Mode)
	}

	srv := httpserver.NewServer(cfg.Mode, cfg.MetricsPath, logger, pool, rdb, metricsReg, checks)
	httpSrv := &http.Server{Addr: cfg.ListenAddr(), Handler: srv}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("otter starting", "mode", cfg.Mode, "addr", cfg.ListenAddr())
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func schedulerCheck(cfg *config.Config, sched *scheduler.Scheduler) httpserver.HealthChecker {
	return func(ctx context.Context) (bool, map[string]any) {
		threshold, err := time.ParseDuration(cfg.SchedulerHealthThresh)
		if err != nil {
			threshold = 60 * time.Second
		}
		return sched.HealthCheck(ctx, threshold)
	}
}

func selfHealCheck(driver *selfheal.Driver) httpserver.HealthChecker {
	return func(context.Context) (bool, map[string]any) { return driver.HealthCheck() }
}

func newScheduler(cfg *config.Config, rdb *redis.Client, events *store.EventStore, eng *engine.Engine, logger *slog.Logger) *scheduler.Scheduler {
	buckets := make([]string, cfg.SchedulerBucketCount)
	for i := range buckets {
		buckets[i] = fmt.Sprintf("bucket-%d", i)
	}

	interval, err := time.ParseDuration(cfg.SchedulerInterval)
	if err != nil {
		interval = 10 * time.Second
	}
	partitioner := coordination.NewPartitioner(rdb, "otter-scheduler", buckets, logger)

	return &scheduler.Scheduler{
		Events:      events,
		Partitioner: partitioner,
		BucketLocks: func(bucket string) *coordination.Lock {
			return coordination.NewLock(rdb, fmt.Sprintf("otter:bucket-lock:%s", bucket), logger)
		},
		Executor:  eng,
		Interval:  interval,
		BatchSize: cfg.SchedulerBatchSize,
		Now:       func() time.Time { return time.Now().UTC() },
		Logger:    logger,
		Metrics: &scheduler.Metrics{
			EventsProcessed: telemetry.SchedulerEventsProcessedTotal,
			OldestEventAge:  telemetry.SchedulerOldestEventAge,
		},
	}
}

func newSelfHeal(cfg *config.Config, rdb *redis.Client, groups *store.GroupStore, eng *engine.Engine, logger *slog.Logger) *selfheal.Driver {
	interval, err := time.ParseDuration(cfg.SelfHealInterval)
	if err != nil {
		interval = time.Hour
	}
	return &selfheal.Driver{
		Groups:    groups,
		Lock:      coordination.NewLock(rdb, "otter:selfheal-lock", logger),
		Requester: eng,
		Interval:  interval,
		Logger:    logger,
	}
}
