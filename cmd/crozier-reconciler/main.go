package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/crozierhq/crozier/pkg/audit"
	"github.com/crozierhq/crozier/pkg/auth"
	"github.com/crozierhq/crozier/pkg/cascade"
	"github.com/crozierhq/crozier/pkg/config"
	"github.com/crozierhq/crozier/pkg/observability"
	"github.com/crozierhq/crozier/pkg/orgs"
	"github.com/crozierhq/crozier/pkg/roles"
	"github.com/crozierhq/crozier/pkg/storage/postgres"
)

var (
	dbURL               = flag.String("db-url", getEnv("CROZIER_DATABASE_URL", "postgres://localhost/crozier?sslmode=disable"), "PostgreSQL connection URL")
	redisURL            = flag.String("redis-url", getEnv("CROZIER_REDIS_URL", ""), "Redis URL for cascade leases (optional)")
	reconcileSchedule   = flag.String("reconcile-schedule", getEnv("CROZIER_RECONCILE_SCHEDULE", "*/5 * * * *"), "Cron schedule for cascade reconciliation")
	maintenanceSchedule = flag.String("maintenance-schedule", "30 2 * * *", "Cron schedule for nightly maintenance (default: 02:30 UTC)")
	minAge              = flag.Duration("min-age", 10*time.Minute, "Only resume cascades stalled at least this long")
	batchLimit          = flag.Int("batch-limit", 20, "Max cascades resumed per run")
	retentionDays       = flag.Int("audit-retention-days", getEnvInt("CROZIER_AUDIT_RETENTION_DAYS", 90), "Days of audit events to keep (0 disables purging)")
	runOnce             = flag.Bool("run-once", false, "Run every job once and exit (for testing)")
)

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	// Connect to database
	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	pool := postgres.SingleDB{DB: db}

	// Redis makes cascade leases visible to the API servers; without it
	// the reconciler still runs, locking only against itself
	var leaseStore cascade.LeaseStore
	var invalidator cascade.Invalidator
	if *redisURL != "" {
		redisClient, err := postgres.NewRedisClient(config.RedisConfig{URL: *redisURL})
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		leaseStore = redisClient
		invalidator = redisClient
	}

	auditLog := audit.NewDBLogger(pool)
	coordinator := cascade.NewCoordinator(cascade.CoordinatorConfig{
		Pool:    pool,
		Orgs:    orgs.NewStore(pool),
		Journal: cascade.NewJournalStore(pool),
		Leases:  cascade.NewLeaser(leaseStore, 0),
		Cache:   invalidator,
		Audit:   auditLog,
		Logger:  observability.NewLogger(observability.InfoLevel, os.Stdout),
	})
	roleStore := roles.NewStore(pool)
	tokens := auth.NewTokenStore(pool)

	runReconcile := func() {
		ctx := context.Background()
		resumed, err := coordinator.ReconcilePending(ctx, *minAge, *batchLimit)
		if err != nil {
			logger.WithError(err).Error("Cascade reconciliation failed")
			return
		}
		if resumed > 0 {
			logger.WithField("resumed", resumed).Info("Resumed interrupted cascades")
		}
	}

	runMaintenance := func() {
		ctx := context.Background()

		orphaned, err := roleStore.DeactivateOrphaned(ctx)
		if err != nil {
			logger.WithError(err).Error("Orphaned assignment sweep failed")
		} else if orphaned > 0 {
			logger.WithField("deactivated", orphaned).Info("Deactivated assignments on inactive nodes")
		}

		purged, err := tokens.PurgeExpired(ctx)
		if err != nil {
			logger.WithError(err).Error("Token purge failed")
		} else if purged > 0 {
			logger.WithField("purged", purged).Info("Purged expired tokens")
		}

		if *retentionDays > 0 {
			cutoff := time.Now().UTC().AddDate(0, 0, -*retentionDays)
			removed, err := auditLog.Purge(ctx, cutoff)
			if err != nil {
				logger.WithError(err).Error("Audit purge failed")
			} else if removed > 0 {
				logger.WithFields(logrus.Fields{
					"removed": removed,
					"cutoff":  cutoff.Format("2006-01-02"),
				}).Info("Purged audit events past retention")
			}
		}
	}

	// Run once mode (for testing or manual cleanup)
	if *runOnce {
		log.Println("Running reconciliation and maintenance once")
		runReconcile()
		runMaintenance()
		log.Println("Done")
		return
	}

	// Scheduled mode
	c := cron.New()

	if _, err := c.AddFunc(*reconcileSchedule, runReconcile); err != nil {
		log.Fatalf("Failed to schedule cascade reconciliation: %v", err)
	}
	if _, err := c.AddFunc(*maintenanceSchedule, runMaintenance); err != nil {
		log.Fatalf("Failed to schedule maintenance: %v", err)
	}

	c.Start()
	log.Println("Crozier reconciler started")
	log.Printf("Cascade reconciliation schedule: %s", *reconcileSchedule)
	log.Printf("Maintenance schedule: %s", *maintenanceSchedule)

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutting down gracefully...")

	ctx := c.Stop()
	<-ctx.Done()

	log.Println("Reconciler stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
