// Package app wires configuration, storage, the dedup system and the HTTP
// surface into a running service.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/scenescout/meld/config"
	"github.com/scenescout/meld/internal/database"
	eventrepo "github.com/scenescout/meld/internal/repositories/event"
	"github.com/scenescout/meld/internal/repositories/mergehistory"
	"github.com/scenescout/meld/internal/tracing"
	"github.com/scenescout/meld/pkg/dedup"
	"github.com/scenescout/meld/pkg/events"
	"github.com/scenescout/meld/pkg/graph"
	"github.com/scenescout/meld/pkg/kafka"
	"github.com/scenescout/meld/pkg/middleware"
	"github.com/scenescout/meld/pkg/processor"
	"github.com/scenescout/meld/pkg/routes/dedupe"
	"github.com/scenescout/meld/pkg/routes/health"
	historyroutes "github.com/scenescout/meld/pkg/routes/history"
	"github.com/scenescout/meld/pkg/routes/sources"
)

const version = "1.0.0"

// Run boots the service and blocks until shutdown.
func Run() error {
	_ = godotenv.Load()

	cfg := &config.Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(cfg.AppName)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	db, err := database.Connect(database.Config{
		Driver:          cfg.DatabaseDriver,
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		Username:        cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
		RetryCount:      cfg.DatabaseReconnectRetryCount,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(db, cfg.DatabaseName, database.MigrateOptions{
		FolderPath: cfg.DatabaseMigrationFolderPath,
		Version:    cfg.DatabaseMigrationVersion,
		Force:      cfg.DatabaseMigrationForce,
	}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	eventRepository := eventrepo.NewRepository(db, logger)
	historyRepository := mergehistory.NewRepository(db, logger)

	system, err := dedup.NewSystem(logger, dedup.FromAppConfig(cfg), eventRepository, historyRepository)
	if err != nil {
		return fmt.Errorf("failed to create dedup system: %w", err)
	}

	var graphClient *graph.Client
	var projector processor.Projector
	if cfg.GraphDBEnabled {
		graphClient, err = graph.NewClient(graph.Config{
			Host:     cfg.GraphDBHost,
			Port:     cfg.GraphDBPort,
			Username: cfg.GraphDBUser,
			Password: cfg.GraphDBPassword,
		}, logger)
		if err != nil {
			// Projection is best-effort; the canonical store stays authoritative.
			logger.WithContext(ctx).WithError(err).Warn("Graph database unavailable, projection disabled")
			graphClient = nil
		} else {
			defer graphClient.Close(context.Background())
			projector = graph.NewProjector(graphClient, logger)
		}
	}

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaOutputTopic,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: cfg.KafkaRequiredAcks,
		Compression:  cfg.KafkaCompression,
	}, logger)
	defer producer.Close()

	emitter := events.NewEmitter(producer, logger, cfg.ReviewQueueEnabled)
	system.Subscribe(emitter.Listener())

	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return fmt.Errorf("failed to create DI container: %w", err)
	}
	if err := ectoinject.RegisterInstance[ectologger.Logger](container, logger); err != nil {
		return fmt.Errorf("failed to register logger: %w", err)
	}
	if err := ectoinject.RegisterInstance[database.DB](container, db); err != nil {
		return fmt.Errorf("failed to register database: %w", err)
	}
	if err := ectoinject.RegisterInstance[*eventrepo.Repository](container, eventRepository); err != nil {
		return fmt.Errorf("failed to register event repository: %w", err)
	}
	if err := ectoinject.RegisterInstance[*mergehistory.Repository](container, historyRepository); err != nil {
		return fmt.Errorf("failed to register merge history repository: %w", err)
	}
	if err := ectoinject.RegisterInstance[*dedup.System](container, system); err != nil {
		return fmt.Errorf("failed to register dedup system: %w", err)
	}

	var consumer *kafka.Consumer
	if cfg.KafkaConsumerEnabled {
		proc := processor.NewProcessor(logger, system, eventRepository, emitter, projector)
		consumer = kafka.NewConsumer(*cfg, logger, proc.HandleMessage)
		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start consumer: %w", err)
		}
		defer consumer.Stop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Identity())

	checker := health.NewChecker(db, graphChecker(graphClient), system, version)
	checker.RegisterRoutes(e)

	api := e.Group("/api/v1")
	dedupe.Register(api.Group("/dedupe"))
	historyroutes.Register(api.Group("/history"))
	sources.Register(api.Group("/sources"))

	serverErr := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.WithContext(ctx).WithFields(map[string]any{
			"address": addr,
			"version": version,
		}).Info("Starting HTTP server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	checker.SetReady(true)

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	checker.SetReady(false)
	logger.WithContext(ctx).Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

func newLogger(cfg *config.Config) (ectologger.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if level, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
		zapCfg.Level = level
	}
	zapLogger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}

// graphChecker avoids handing the health checker a typed nil.
func graphChecker(client *graph.Client) health.GraphChecker {
	if client == nil {
		return nil
	}
	return client
}
