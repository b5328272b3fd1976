// Package app wires configuration, persistence and the import engine into a
// running import service shared by the API server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/xelth-com/arkikgo/internal/arkik"
	"github.com/xelth-com/arkikgo/internal/config"
	"github.com/xelth-com/arkikgo/internal/database"
	"github.com/xelth-com/arkikgo/internal/lock"
	"github.com/xelth-com/arkikgo/internal/metrics"
	"github.com/xelth-com/arkikgo/internal/repository"
	"github.com/xelth-com/arkikgo/internal/resilience"
	"github.com/xelth-com/arkikgo/internal/services/importer"
	"github.com/xelth-com/arkikgo/internal/websocket"
)

// PingFunc adapts a function to handlers.HealthChecker
type PingFunc func(ctx context.Context) error

// Ping calls f
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Options overrides parts of the default wiring
type Options struct {
	// Progress receives commit progress; nil publishes to the websocket hub
	Progress arkik.ProgressSink
	// SkipMigrate leaves the schema untouched
	SkipMigrate bool
}

// App is the assembled import service and the resources it holds
type App struct {
	Config  *config.Config
	Logger  *logrus.Logger
	DB      *database.DB
	Redis   *redis.Client // nil when locks are in-process
	Metrics *metrics.Metrics
	Hub     *websocket.Hub
	Imports *importer.Service

	guards []*resilience.Guard
}

// New connects to the database (and redis when configured) and builds the import service
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger, opts Options) (*App, error) {
	db, err := database.Connect(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if !opts.SkipMigrate {
		logger.Info("🚀 Synchronizing database schema...")
		if err := db.Migrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("✅ Schema synchronized successfully")
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		DB:      db,
		Metrics: metrics.New(),
		Hub:     websocket.NewHub(logger),
	}

	var locker arkik.Locker = lock.NewLocalLocker()
	if cfg.Redis.Address != "" {
		rdb, err := lock.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		a.Redis = rdb
		locker = lock.NewRedisLocker(rdb, cfg.Import.LockTTL)
		logger.WithField("address", cfg.Redis.Address).Info("🔒 Commit locks: redis")
	} else {
		logger.Info("🔒 Commit locks: in-process")
	}

	guardCfg := func(name string) resilience.Config {
		return resilience.Config{
			Name:         name,
			CallTimeout:  cfg.Import.CallTimeout,
			MaxRetries:   cfg.Import.MaxRetries,
			RetryBackoff: cfg.Import.RetryBackoff,
			Retryable:    Retryable,
		}
	}
	reads := resilience.NewGuard(guardCfg("db-reads"), logger)
	writes := resilience.NewGuard(guardCfg("db-writes"), logger)
	a.guards = []*resilience.Guard{reads, writes}

	repo := repository.NewRepository(db.DB)
	backend := resilience.NewGuardedBackend(repo, reads, writes)

	progress := opts.Progress
	if progress == nil {
		progress = a.Hub
	}

	engine := arkik.NewEngine(backend, backend, backend, arkik.EngineConfig{
		Parallelism: cfg.Import.Parallelism,
		Match: arkik.MatchOptions{
			AdjacentDays:        cfg.Import.AdjacentDays,
			AllowAssigned:       cfg.Import.AllowAssignedTargets,
			AutoAcceptThreshold: cfg.Import.AutoAcceptThreshold,
		},
	}, a.Metrics, logger)
	committer := arkik.NewCommitter(backend, locker, arkik.CommitterConfig{PlantCode: cfg.Import.PlantCode}, a.Metrics, progress, logger)
	a.Imports = importer.NewService(engine, committer, repo, progress, a.Metrics, importer.Config{
		PlantID:    cfg.Import.PlantID,
		SessionTTL: cfg.Import.SessionTTL,
	}, logger)

	return a, nil
}

// Retryable reports whether a failed database call may succeed when repeated.
// Missing rows and constraint violations fail the same way every time.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, repository.ErrTargetNotFound),
		errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, gorm.ErrDuplicatedKey),
		errors.Is(err, gorm.ErrForeignKeyViolated),
		errors.Is(err, gorm.ErrCheckConstraintViolated),
		errors.Is(err, gorm.ErrInvalidData),
		errors.Is(err, gorm.ErrInvalidValue):
		return false
	}
	return true
}

// HealthCheckers returns a ping per external dependency
func (a *App) HealthCheckers() map[string]PingFunc {
	checks := map[string]PingFunc{
		"database": func(ctx context.Context) error {
			sqlDB, err := a.DB.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}
	}
	return checks
}

// WatchBreakers exports the circuit breaker states until ctx is done
func (a *App) WatchBreakers(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for _, g := range a.guards {
			a.Metrics.SetCircuitBreakerState(g.Name(), g.State())
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close releases redis and the database (stopping an embedded postgres)
func (a *App) Close() error {
	var firstErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			firstErr = fmt.Errorf("close redis: %w", err)
		}
	}
	a.Logger.Info("🛑 Closing database connection...")
	if err := a.DB.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close database: %w", err)
	}
	return firstErr
}
