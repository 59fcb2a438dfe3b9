package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/driftware/flowengine/internal/config"
	"github.com/driftware/flowengine/internal/deadletter"
	"github.com/driftware/flowengine/internal/domain"
	"github.com/driftware/flowengine/internal/events"
	"github.com/driftware/flowengine/internal/health"
	"github.com/driftware/flowengine/internal/platform/logger"
	"github.com/driftware/flowengine/internal/platform/postgres"
	platformredis "github.com/driftware/flowengine/internal/platform/redis"
	"github.com/driftware/flowengine/internal/processor"
	"github.com/driftware/flowengine/internal/queue"
	"github.com/driftware/flowengine/internal/scheduler"
	"github.com/driftware/flowengine/internal/store"
	"github.com/driftware/flowengine/internal/worker"
)

const (
	dbPingTimeout   = 5 * time.Second
	httpStopTimeout = 10 * time.Second
	drainTimeout    = 30 * time.Second
)

// application holds the shared dependencies so startup wiring and
// shutdown ordering live in one place.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	broker   queue.Broker
	queues   *queue.JobQueueSet
	registry *processor.Registry
	emitter  events.EventEmitter

	manager   *worker.Manager
	scheduler *scheduler.Scheduler
	pipeline  *deadletter.Pipeline
	health    *health.Service

	server *http.Server
}

// newApplication loads configuration and wires every component. Nothing
// is started; run does that.
func newApplication(ctx context.Context) (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.Setup(cfg.Server.LogLevel)
	log.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"workers", len(cfg.Workers))

	db, err := openDatabase(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}

	broker, err := openBroker(ctx, cfg.Broker, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	app := &application{
		config: cfg,
		logger: log,
		db:     db,
		broker: broker,
	}
	app.wire()
	return app, nil
}

// openDatabase connects to Postgres and applies pending migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, dbPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := postgres.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("database connected and migrated")
	return db, nil
}

// openBroker connects to Redis, or returns the explicit unavailable
// broker when no address is configured so queue operations fail loudly
// instead of hanging.
func openBroker(ctx context.Context, cfg config.BrokerConfig, log *slog.Logger) (queue.Broker, error) {
	if cfg.Addr == "" {
		log.Warn("no broker address configured, queue operations will fail")
		return &queue.UnavailableBroker{Reason: "no broker address configured"}, nil
	}

	client, err := platformredis.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("broker connected", "addr", cfg.Addr)
	return queue.NewRedisBroker(client, cfg.KeyPrefix, log), nil
}

// wire builds the component graph on top of the database and broker
// handles. The health service is constructed before the worker manager
// because the manager's dead-letter sink notifies through it; the pool
// is attached afterwards.
func (app *application) wire() {
	workflows := postgres.NewPostgresWorkflowStore(app.db)
	executions := postgres.NewPostgresExecutionStore(app.db)
	triggers := postgres.NewPostgresTriggerStore(app.db)
	deadLetters := postgres.NewPostgresDeadLetterStore(app.db)
	alerts := postgres.NewPostgresAlertStore(app.db)
	metrics := postgres.NewPostgresMetricsStore(app.db)
	issues := postgres.NewPostgresKnownIssueStore(app.db)
	tasks := postgres.NewPostgresManualTaskStore(app.db)
	leads := postgres.NewPostgresLeadStore(app.db)

	app.queues = queue.NewJobQueueSet(app.broker, workflows, executions, app.logger)
	app.emitter = events.NewInMemoryEventEmitter(app.logger)
	app.scheduler = scheduler.New(triggers, app.queues, app.config.Scheduler, app.logger)

	app.health = health.NewService(app.broker, nil, alerts, metrics, deadLetters,
		app.config.Health, app.logger)
	app.pipeline = deadletter.NewPipeline(deadLetters, issues, tasks, app.queues,
		app.health, app.health, app.config.DeadLetter, app.logger)

	app.registry = buildRegistry(workflows, executions, leads, app.queues, app.scheduler, app.logger)

	app.manager = worker.NewManager(app.config.Workers, app.broker, app.registry,
		app.pipeline, app.emitter, app.logger)
	app.health.SetWorkerPool(app.manager)

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.setupRouter(metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// buildRegistry registers one processor per job type.
func buildRegistry(workflows store.WorkflowStore, executions store.ExecutionStore, leads store.LeadStore, queues *queue.JobQueueSet, sched *scheduler.Scheduler, log *slog.Logger) *processor.Registry {
	executor := newInlineExecutor(log)
	delivery := newLogDelivery(log)

	registry := processor.NewRegistry()
	registry.Register(domain.JobTypeWorkflowExecution,
		processor.NewWorkflowExecutionProcessor(workflows, executions, executor, queues, log))
	registry.Register(domain.JobTypeDelayedResume,
		processor.NewDelayedResumeProcessor(executions, executor, queues, log))
	registry.Register(domain.JobTypeScheduleFire,
		scheduler.NewFireProcessor(sched, log))
	registry.Register(domain.JobTypeLeadQualification,
		processor.NewLeadQualificationProcessor(leads, log))
	registry.Register(domain.JobTypeEmailSequence,
		processor.NewEmailSequenceProcessor(delivery, log))
	registry.Register(domain.JobTypeSMSCampaign,
		processor.NewSMSCampaignProcessor(delivery, log))
	registry.Register(domain.JobTypeChatMessage,
		processor.NewChatMessageProcessor(delivery, log))
	registry.Register(domain.JobTypeDataSync,
		processor.NewDataSyncProcessor(delivery, log))
	return registry
}

// run starts the background loops and the HTTP server, then blocks
// until ctx is cancelled and the system has drained.
func (app *application) run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.manager.StartAll(runCtx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	go app.scheduler.Run(runCtx)
	go app.pipeline.Run(runCtx)
	go app.health.Run(runCtx)

	serverErr := make(chan error, 1)
	go func() {
		app.logger.Info("http server listening", "addr", app.server.Addr)
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	return app.shutdown()
}

// shutdown stops intake first, then drains workers, then tears down
// shared handles.
func (app *application) shutdown() error {
	app.logger.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), httpStopTimeout)
	defer cancel()
	if err := app.server.Shutdown(stopCtx); err != nil {
		app.logger.Error("http server shutdown failed", "error", err)
	}

	if err := app.manager.StopAll(drainTimeout); err != nil {
		app.logger.Error("worker drain incomplete", "error", err)
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("database close failed", "error", err)
	}

	app.logger.Info("shutdown complete")
	return nil
}
