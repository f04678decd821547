// Package app assembles the fern service from its configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/repositories/crossedpath"
	"github.com/Ramsey-B/fern/internal/repositories/crossingcount"
	"github.com/Ramsey-B/fern/internal/repositories/memory"
	"github.com/Ramsey-B/fern/internal/repositories/visit"
	"github.com/Ramsey-B/fern/migrations"
	"github.com/Ramsey-B/fern/pkg/crossing"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/keylock"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/processor"
	"github.com/Ramsey-B/fern/pkg/redis"
	crossingroute "github.com/Ramsey-B/fern/pkg/routes/crossing"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	DependencyTracing  = "tracing"
	DependencyDatabase = "database"
	DependencyGraph    = "graph"
	DependencyRedis    = "redis"
	DependencyEngine   = "engine"
	DependencyConsumer = "kafka-consumer"
	DependencyServer   = "http-server"

	DriverMemory = "memory"

	LockModeNone  = "none"
	LockModeLocal = "local"
	LockModeRedis = "redis"
)

type visitStore interface {
	crossing.VisitStore
	ListForUser(ctx context.Context, userID string, limit int) ([]models.Visit, error)
}

type counterStore interface {
	crossing.CrossingCounter
	crossingroute.CountReader
}

type relationshipStore interface {
	crossing.RelationshipAggregator
	crossingroute.RelationshipReader
}

// App owns every long lived component of the service.
type App struct {
	cfg     config.Config
	logger  ectologger.Logger
	startup *startup.Startup
	health  *health.Checker

	db            database.DB
	graphClient   *graph.Client
	crossedPaths  *graph.CrossedPathService
	redisClient   *redis.Client
	visits        visitStore
	counts        counterStore
	relationships relationshipStore
	engine        *crossing.Engine
	consumer      *kafka.Consumer
	echo          *echo.Echo
}

// New validates cfg and registers the startup dependencies it asks for.
// Nothing connects until Start.
func New(cfg config.Config, logger ectologger.Logger) (*App, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		logger:  logger,
		startup: startup.NewStartup(logger, cfg.StartupMaxAttempts),
		health:  health.NewChecker(cfg.Version),
	}

	a.startup.AddDependency(a.tracingDependency())
	a.startup.AddDependency(a.databaseDependency())
	engineDeps := []string{DependencyDatabase}
	if cfg.GraphEnabled {
		a.startup.AddDependency(a.graphDependency())
		engineDeps = append(engineDeps, DependencyGraph)
	}
	if cfg.CrossingLockMode == LockModeRedis {
		a.startup.AddDependency(a.redisDependency())
		engineDeps = append(engineDeps, DependencyRedis)
	}
	a.startup.AddDependency(a.engineDependency(engineDeps))
	if cfg.KafkaConsumerEnabled {
		a.startup.AddDependency(a.consumerDependency())
	}
	a.startup.AddDependency(a.serverDependency())

	return a, nil
}

func validate(cfg config.Config) error {
	switch cfg.DatabaseDriver {
	case database.DriverPostgres, database.DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", cfg.DatabaseDriver)
	}
	switch cfg.CrossingLockMode {
	case LockModeNone, LockModeLocal, LockModeRedis:
	default:
		return fmt.Errorf("unsupported CROSSING_LOCK_MODE %q", cfg.CrossingLockMode)
	}
	return nil
}

// Start brings every dependency up in order and marks the service ready.
func (a *App) Start(ctx context.Context) error {
	if err := a.startup.Start(ctx); err != nil {
		return err
	}
	a.health.SetReady(true)
	a.logger.WithField("port", a.cfg.Port).Info("fern is ready")
	return nil
}

// Stop tears dependencies down in reverse order.
func (a *App) Stop(ctx context.Context) error {
	a.health.SetReady(false)
	return a.startup.Stop(ctx)
}

// Run starts the app, blocks until ctx is done and then stops it, giving the
// shutdown at most shutdownTimeout.
func (a *App) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	startErr := a.Start(ctx)
	if startErr == nil {
		<-ctx.Done()
		a.logger.Info("Shutting down")
	}

	// also stops whatever did come up when startup failed
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	stopErr := a.Stop(stopCtx)

	if startErr != nil {
		return startErr
	}
	return stopErr
}

func (a *App) tracingDependency() *dependency {
	var shutdown func(context.Context) error
	return &dependency{
		name: DependencyTracing,
		start: func(ctx context.Context) error {
			fn, err := tracing.Setup(ctx, tracing.Config{
				Enabled:     a.cfg.TracingEnabled,
				ServiceName: a.cfg.AppName,
				Endpoint:    a.cfg.TracingEndpoint,
				Protocol:    a.cfg.TracingProtocol,
				Insecure:    a.cfg.TracingInsecure,
			})
			if err != nil {
				return err
			}
			shutdown = fn
			return nil
		},
		stop: func(ctx context.Context) error {
			if shutdown == nil {
				return nil
			}
			return shutdown(ctx)
		},
	}
}

func (a *App) databaseDependency() *dependency {
	return &dependency{
		name:      DependencyDatabase,
		dependsOn: []string{DependencyTracing},
		start: func(ctx context.Context) error {
			if a.cfg.DatabaseDriver == DriverMemory {
				a.logger.Warn("Using in-memory stores, data is lost on restart")
				a.visits = memory.NewVisitStore()
				a.counts = memory.NewCrossingCounter()
				a.relationships = memory.NewRelationshipAggregator()
				return nil
			}

			db, err := database.Open(ctx, a.databaseConfig(), a.logger)
			if err != nil {
				return err
			}
			if err := Migrate(db, a.cfg, a.logger); err != nil {
				_ = db.Close()
				return err
			}

			a.db = db
			a.visits = visit.NewRepository(db, a.logger, a.cfg.VisitorPageSize)
			a.counts = crossingcount.NewRepository(db, a.logger)
			a.relationships = crossedpath.NewRepository(db, a.logger)
			a.health.AddCheck(DependencyDatabase, health.PingFunc(db.PingContext))
			return nil
		},
		stop: func(ctx context.Context) error {
			if a.db == nil {
				return nil
			}
			return a.db.Close()
		},
	}
}

func (a *App) databaseConfig() database.Config {
	return DatabaseConfig(a.cfg)
}

// DatabaseConfig maps service configuration onto the database package.
func DatabaseConfig(cfg config.Config) database.Config {
	return database.Config{
		Driver:          cfg.DatabaseDriver,
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		UserName:        cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		Path:            cfg.DatabasePath,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}
}

// Migrate applies the embedded schema for the database driver.
func Migrate(db database.DB, cfg config.Config, logger ectologger.Logger) error {
	svc := database.NewMigrationService(logger, &database.MigrationConfig{
		FS:           migrations.FS,
		Version:      uint(cfg.DatabaseMigrationVersion),
		Force:        cfg.DatabaseMigrationForce,
		AutoRollback: cfg.DatabaseMigrationAutoRollback,
	})
	return svc.Migrate(db)
}

func (a *App) graphDependency() *dependency {
	return &dependency{
		name:      DependencyGraph,
		dependsOn: []string{DependencyTracing},
		start: func(ctx context.Context) error {
			client, err := graph.NewClient(graph.Config{
				Host:     a.cfg.GraphDBHost,
				Port:     a.cfg.GraphDBPort,
				Username: a.cfg.GraphDBUser,
				Password: a.cfg.GraphDBPassword,
			}, a.logger)
			if err != nil {
				return err
			}
			if err := client.VerifyConnectivity(ctx); err != nil {
				_ = client.Close(ctx)
				return fmt.Errorf("graph database unreachable: %w", err)
			}

			a.graphClient = client
			a.crossedPaths = graph.NewCrossedPathService(client, a.logger)
			a.health.AddCheck(DependencyGraph, health.PingFunc(client.VerifyConnectivity))
			return nil
		},
		stop: func(ctx context.Context) error {
			if a.graphClient == nil {
				return nil
			}
			return a.graphClient.Close(ctx)
		},
	}
}

func (a *App) redisDependency() *dependency {
	return &dependency{
		name: DependencyRedis,
		start: func(ctx context.Context) error {
			client, err := redis.NewClient(ctx, redis.Config{
				Host:     a.cfg.RedisHost,
				Port:     a.cfg.RedisPort,
				Password: a.cfg.RedisPassword,
				DB:       a.cfg.RedisDB,
			}, a.logger)
			if err != nil {
				return err
			}
			a.redisClient = client
			a.health.AddCheck(DependencyRedis, client)
			return nil
		},
		stop: func(ctx context.Context) error {
			if a.redisClient == nil {
				return nil
			}
			return a.redisClient.Close()
		},
	}
}

func (a *App) engineDependency(dependsOn []string) *dependency {
	return &dependency{
		name:      DependencyEngine,
		dependsOn: dependsOn,
		start: func(ctx context.Context) error {
			cfg := crossing.Config{
				Concurrency: a.cfg.CrossingConcurrency,
				Locker:      a.locker(),
			}
			if a.crossedPaths != nil {
				cfg.Projector = a.crossedPaths
			}
			a.engine = crossing.NewEngine(a.visits, a.counts, a.relationships, a.logger, cfg)
			a.logger.WithFields(map[string]any{
				"concurrency": a.cfg.CrossingConcurrency,
				"lock_mode":   a.cfg.CrossingLockMode,
			}).Info("Crossing engine ready")
			return nil
		},
	}
}

func (a *App) locker() keylock.Locker {
	switch a.cfg.CrossingLockMode {
	case LockModeLocal:
		return keylock.NewLocal(0)
	case LockModeRedis:
		return redis.NewLocker(a.redisClient, "", a.cfg.CrossingLockTTL, a.cfg.CrossingLockTimeout)
	default:
		return keylock.Noop{}
	}
}

func (a *App) consumerDependency() *dependency {
	return &dependency{
		name:      DependencyConsumer,
		dependsOn: []string{DependencyEngine},
		start: func(ctx context.Context) error {
			handler := processor.NewVisitProcessor(a.engine, a.logger)
			a.consumer = kafka.NewConsumer(kafka.ConsumerConfig{
				Brokers:       a.cfg.KafkaBrokers,
				Topic:         a.cfg.KafkaVisitsTopic,
				ConsumerGroup: a.cfg.KafkaConsumerGroup,

				RetryInitialInterval: a.cfg.KafkaRetryInitialInterval,
				RetryMaxInterval:     a.cfg.KafkaRetryMaxInterval,
			}, a.logger, handler.Handle)
			// the consumer outlives the startup context
			return a.consumer.Start(context.WithoutCancel(ctx))
		},
		stop: func(ctx context.Context) error {
			if a.consumer == nil {
				return nil
			}
			return a.consumer.Stop()
		},
	}
}
