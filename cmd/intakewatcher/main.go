// Command intakewatcher runs the notarial document intake daemon: it watches
// a directory for billing XML files, registers each invoice as a tracked
// document, resolves the staff assignment, and exposes operational endpoints.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"notaria/internal/assignment"
	assignmentmetrics "notaria/internal/assignment/metrics"
	"notaria/internal/audit"
	intakemetrics "notaria/internal/intake/metrics"
	"notaria/internal/intake/processor"
	"notaria/internal/intake/watcher"
	"notaria/internal/ops"
	"notaria/internal/platform/config"
	"notaria/internal/platform/httpserver"
	"notaria/internal/platform/logger"
	platformredis "notaria/internal/platform/redis"
	"notaria/internal/storage"
	"notaria/internal/storage/postgres"
)

func main() {
	// Optional; production sets real environment variables.
	_ = godotenv.Load()

	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("intakewatcher exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage: PostgreSQL when configured, in-memory otherwise (dev mode).
	var (
		docs       storage.DocumentStore
		staff      storage.StaffStore
		auditStore audit.Store
		readiness  = map[string]ops.HealthChecker{}
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		docs = postgres.NewDocumentStore(db)
		staff = postgres.NewStaffStore(db)
		auditStore = postgres.NewAuditStore(db)
		readiness["postgres"] = db.PingContext
		log.Info("storage: postgres")
	} else {
		docs = storage.NewInMemoryDocumentStore()
		staff = storage.NewInMemoryStaffStore()
		auditStore = storage.NewInMemoryAuditStore()
		log.Warn("DATABASE_URL not set, using in-memory storage")
	}

	// Redis is optional here: the daemon only reads it for readiness. Code
	// reservation lives in groupctl, which shares the same REDIS_URL.
	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		readiness["redis"] = redisClient.Health
	}

	asyncAudit := audit.NewAsyncStore(auditStore, 256)
	publisher := audit.NewPublisher(asyncAudit)
	auditWorker := asyncAudit.Worker(log)

	assigner := assignment.New(docs, staff,
		assignment.WithLogger(log),
		assignment.WithAuditPublisher(publisher),
		assignment.WithMetrics(assignmentmetrics.New()),
		assignment.WithRolePriority(cfg.RolePriority),
	)

	intakeMetrics := intakemetrics.New()
	proc := processor.New(docs, staff, cfg.Intake.ProcessedDir, cfg.Intake.ErrorDir,
		processor.WithLogger(log),
		processor.WithAssigner(assigner),
		processor.WithAuditPublisher(publisher),
		processor.WithMetrics(intakeMetrics),
		processor.WithSystemActor(cfg.Intake.SystemActor),
	)

	srv := httpserver.New(cfg.OpsAddr, ops.NewRouter(readiness))

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		err := auditWorker.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	group.Go(func() error {
		log.Info("ops server listening", "addr", cfg.OpsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Intake.Enabled {
		if err := os.MkdirAll(cfg.Intake.WatchDir, 0o755); err != nil {
			return err
		}
		w, err := watcher.New(watcher.Config{
			Dir:           cfg.Intake.WatchDir,
			Extension:     cfg.Intake.Extension,
			ProcessDelay:  cfg.Intake.ProcessDelay,
			StabilityPoll: cfg.Intake.StabilityPoll,
			RetryAttempts: cfg.Intake.RetryAttempts,
			RetryBackoff:  cfg.Intake.RetryBackoff,
			Concurrency:   cfg.Intake.Concurrency,
		}, proc,
			watcher.WithLogger(log),
			watcher.WithMetrics(intakeMetrics),
		)
		if err != nil {
			return err
		}
		if err := w.Watch(); err != nil {
			return err
		}
		group.Go(func() error {
			<-groupCtx.Done()
			w.Stop()
			return nil
		})
	} else {
		log.Warn("intake watcher disabled by configuration")
	}

	return group.Wait()
}
