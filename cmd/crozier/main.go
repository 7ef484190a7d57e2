package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crozierhq/crozier/pkg/api"
	"github.com/crozierhq/crozier/pkg/audit"
	"github.com/crozierhq/crozier/pkg/auth"
	"github.com/crozierhq/crozier/pkg/authz"
	"github.com/crozierhq/crozier/pkg/cascade"
	"github.com/crozierhq/crozier/pkg/config"
	"github.com/crozierhq/crozier/pkg/middleware"
	"github.com/crozierhq/crozier/pkg/observability"
	"github.com/crozierhq/crozier/pkg/orgs"
	"github.com/crozierhq/crozier/pkg/quota"
	"github.com/crozierhq/crozier/pkg/roles"
	"github.com/crozierhq/crozier/pkg/storage/postgres"
)

const auditBuffer = 1024

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLoggerWithFormat(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	ctx := context.Background()

	// Connect to postgres and bring the schema current
	db, err := postgres.NewConnectionManager(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := postgres.RunMigrations(ctx, db.Primary()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database ready")

	// Redis is optional; without it the actor cache, cascade leases, and
	// rate limiting all degrade to in-process equivalents
	var redisClient *postgres.RedisClient
	if cfg.Redis.URL != "" {
		redisClient, err = postgres.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		logger.Infof("Redis connected at %s", cfg.Redis.URL)
	}

	// Role catalog: seed file when present, built-in roles otherwise
	var catalog *roles.Catalog
	var watcher *roles.Watcher
	if _, statErr := os.Stat(cfg.Roles.File); statErr == nil {
		catalog, err = roles.LoadCatalog(cfg.Roles.File)
		if err != nil {
			log.Fatalf("Failed to load role catalog: %v", err)
		}
		if cfg.Roles.Watch {
			watcher, err = roles.WatchCatalog(catalog, cfg.Roles.File, logger)
			if err != nil {
				log.Fatalf("Failed to watch role catalog: %v", err)
			}
		}
		logger.Infof("Role catalog loaded from %s", cfg.Roles.File)
	} else {
		catalog = roles.DefaultCatalog()
		logger.Infof("Role catalog file %s not found, using built-in roles", cfg.Roles.File)
	}

	// Audit trail: postgres-backed, written off the request path
	dbAudit := audit.NewDBLogger(db)
	auditLog := audit.NewAsyncLogger(dbAudit, auditBuffer, logger)

	policy, err := authz.ParseContextPolicy(cfg.Authz.ContextPolicy)
	if err != nil {
		log.Fatalf("Invalid context policy: %v", err)
	}
	engine := authz.NewEngine(authz.WithContextPolicy(policy))

	// Actor directory with its cache layers
	roleStore := roles.NewStore(db)
	dirCfg := roles.DirectoryConfig{
		Store:     roleStore,
		Catalog:   catalog,
		CacheSize: cfg.Authz.ActorCacheSize,
		CacheTTL:  cfg.Authz.ActorCacheTTL,
		RedisTTL:  cfg.Authz.RedisCacheTTL,
		Logger:    logger,
	}
	if redisClient != nil {
		dirCfg.Cache = redisClient
	}
	directory := roles.NewDirectory(dirCfg)

	// Org tree and the cascade coordinator for subtree mutations
	orgStore := orgs.NewStore(db)
	manager := orgs.NewManager(orgStore)
	var leaseStore cascade.LeaseStore
	if redisClient != nil {
		leaseStore = redisClient
	}
	coordCfg := cascade.CoordinatorConfig{
		Pool:    db,
		Orgs:    orgStore,
		Journal: cascade.NewJournalStore(db),
		Leases:  cascade.NewLeaser(leaseStore, cfg.Cascade.LeaseTTL),
		Audit:   auditLog,
		Logger:  logger,
	}
	if redisClient != nil {
		coordCfg.Cache = redisClient
	}
	coordinator := cascade.NewCoordinator(coordCfg)

	guard := quota.NewGuard(db, catalog)
	roleService := roles.NewService(roles.ServiceConfig{
		Pool:    db,
		Store:   roleStore,
		Orgs:    orgStore,
		Catalog: catalog,
		Quota:   guard,
		Cache:   directory,
		Audit:   auditLog,
		Logger:  logger,
	})

	var authenticator auth.Authenticator
	var tokens *auth.TokenStore
	switch cfg.Auth.Mode {
	case "oidc":
		authenticator, err = auth.NewOIDCAuthenticator(ctx, cfg.Auth.OIDCIssuerURL, cfg.Auth.OIDCClientID)
		if err != nil {
			log.Fatalf("Failed to initialize OIDC authenticator: %v", err)
		}
		logger.Infof("OIDC authentication against %s", cfg.Auth.OIDCIssuerURL)
	default:
		tokens = auth.NewTokenStore(db)
		authenticator = tokens
		logger.Info("API token authentication")
	}

	var limiter api.RateLimiter
	if cfg.RateLimit.Enabled {
		actorLimits := &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.RequestsPerSecond,
			WindowDuration:    time.Second,
			BurstSize:         cfg.RateLimit.Burst,
		}
		if redisClient != nil {
			limiter = middleware.NewDistributedRateLimitMiddleware(redisClient.GetClient(), actorLimits, middleware.DefaultRateLimitConfig(), logger)
		} else {
			limiter = middleware.NewRateLimitMiddleware(actorLimits, middleware.DefaultRateLimitConfig())
		}
	}

	var registry *prometheus.Registry
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		metrics = observability.NewMetrics(registry)
	}

	var otelProviders *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		otelProviders, err = observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
		}
	}

	var redisPing *redis.Client
	if redisClient != nil {
		redisPing = redisClient.GetClient()
	}
	health := observability.NewHealthChecker(db.Primary(), redisPing, cfg.Observability.OTelServiceVersion)

	server := api.NewServer(api.ServerConfig{
		Logger:        logger,
		Metrics:       metrics,
		RateLimit:     limiter,
		Authenticator: authenticator,
		Directory:     directory,
		Engine:        engine,
		Orgs:          manager,
		Cascade:       coordinator,
		Roles:         roleService,
		Catalog:       catalog,
		Quota:         guard,
		Tokens:        tokens,
		Audit:         auditLog,
		AuditSearch:   dbAudit,
	})

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Probes and metrics live on their own port so the API listener can
	// sit behind authentication end to end
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if registry != nil {
		healthMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc(func(context.Context) error { return auditLog.Close() })
	if watcher != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return watcher.Close() })
	}
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return redisClient.Close() })
	}
	shutdown.RegisterShutdownFunc(func(context.Context) error { return db.Close() })

	go func() {
		logger.Infof("Health endpoints listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Health server failed: %v", err)
		}
	}()
	go func() {
		logger.Infof("Crozier authorization service listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		log.Fatalf("Shutdown failed: %v", err)
	}
	logger.Info("Shutdown complete")
}
