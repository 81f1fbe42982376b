// Package app provides application initialization and wiring.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vrabczak/BuildingRadar/internal/adapters/device"
	httpAdapter "github.com/vrabczak/BuildingRadar/internal/adapters/http"
	"github.com/vrabczak/BuildingRadar/internal/adapters/kvstore"
	"github.com/vrabczak/BuildingRadar/internal/adapters/metrics"
	"github.com/vrabczak/BuildingRadar/internal/adapters/storage"
	"github.com/vrabczak/BuildingRadar/internal/adapters/tiles"
	tlsAdapter "github.com/vrabczak/BuildingRadar/internal/adapters/tls"
	"github.com/vrabczak/BuildingRadar/internal/adapters/watcher"
	"github.com/vrabczak/BuildingRadar/internal/application"
	"github.com/vrabczak/BuildingRadar/internal/chunkcache"
	"github.com/vrabczak/BuildingRadar/internal/config"
	"github.com/vrabczak/BuildingRadar/internal/persistence"
	"github.com/vrabczak/BuildingRadar/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Storage       output.ObjectStorage
	Store         output.KVStore
	Persistence   *persistence.Client
	Engine        *application.Engine
	Datasets      *application.DatasetService
	QueryService  *application.QueryService
	HealthService *application.HealthService
	SyncService   *application.SyncService
	HTTPServer    *httpAdapter.Server
	TLSServer     *tlsAdapter.Server
	Watcher       *watcher.Watcher
	Metrics       *metrics.Collector
	MetricsServer *metrics.Server
	codec         *persistence.Codec
	persistCancel context.CancelFunc
}

// New creates and initializes a new application. The persistence actor runs
// until Shutdown.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("bradar", nil)
		metricsCollector = app.Metrics
		if cfg.Metrics.Port > 0 {
			app.MetricsServer = metrics.NewServer(app.Metrics, cfg.Metrics.Port, cfg.Metrics.Path, logger)
		}
	}

	objects, err := initStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	app.Storage = objects

	app.Store, err = initStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	app.codec, err = persistence.NewCodec()
	if err != nil {
		return nil, fmt.Errorf("initializing codec: %w", err)
	}

	persistCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	app.persistCancel = cancel
	app.Persistence = persistence.Start(persistCtx, persistence.NewActor(app.Store, app.codec, metricsCollector, logger))
	if _, err := app.Persistence.Initialize(ctx); err != nil {
		app.close()
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Type, err)
	}

	app.Engine = application.NewEngine(app.Persistence, metricsCollector, logger, application.EngineConfig{
		CellSize:  cfg.Grid.CellSize,
		BatchSize: cfg.Store.BatchSize,
		Prefetch:  cfg.Cache.Prefetch,
	})

	app.Datasets = application.NewDatasetService(
		app.Engine,
		tiles.NewLoader(app.Storage, logger, cfg.Dataset.Concurrency),
		logger,
		application.DatasetConfig{
			Name: cfg.Dataset.Name,
			Hints: chunkcache.Hints{
				MaxChunks: cfg.Cache.MaxChunks,
				Device:    device.Resolve(ctx, cfg.Cache.DeviceClass(), logger),
			},
			Eager: cfg.Dataset.Eager,
		},
	)

	app.QueryService = application.NewQueryService(app.Engine, logger, application.QueryServiceConfig{
		MaxFeatures: cfg.Query.MaxFeatures,
		MaxRadius:   cfg.Query.MaxRadius,
	})
	app.HealthService = application.NewHealthService(app.Engine, app.Datasets)
	app.SyncService = application.NewSyncService(app.Datasets, cfg.Dataset.SyncInterval, logger)

	var serverOpts []httpAdapter.Option
	serverOpts = append(serverOpts, httpAdapter.WithQueryTimeout(cfg.Query.Timeout))
	if app.Metrics != nil && app.MetricsServer == nil {
		serverOpts = append(serverOpts, httpAdapter.WithMetricsEndpoint(cfg.Metrics.Path))
	}
	app.HTTPServer = httpAdapter.NewServer(cfg.Server, httpAdapter.Services{
		Query:    app.QueryService,
		Health:   app.HealthService,
		Engine:   app.Engine,
		Datasets: app.Datasets,
		Sync:     app.SyncService,
		Metrics:  app.Metrics,
	}, logger, serverOpts...)

	if cfg.TLS.Enabled {
		app.TLSServer, err = tlsAdapter.NewServer(cfg.TLS, cfg.Server, app.HTTPServer.Handler(), logger)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("initializing TLS: %w", err)
		}
	}

	if cfg.Storage.Type == "local" && cfg.Dataset.Watch {
		w, err := watcher.New(
			watcher.Config{
				Paths:  []string{cfg.Storage.LocalPath},
				Filter: output.IsTileFile,
			},
			app.handleFileEvents,
			logger,
		)
		if err != nil {
			logger.Warn("failed to initialize file watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	return app, nil
}

// Start restores or builds the dataset in the background and serves the API
// until Shutdown.
func (a *App) Start(ctx context.Context) error {
	go func() {
		if err := a.Datasets.Startup(ctx); err != nil {
			a.Logger.Error("dataset startup failed", "error", err)
		}
	}()

	a.SyncService.Start(ctx)

	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start file watcher", "error", err)
		}
	}

	if a.MetricsServer != nil {
		go func() {
			if err := a.MetricsServer.Start(); err != nil {
				a.Logger.Error("metrics server error", "error", err)
			}
		}()
	}

	if a.TLSServer != nil {
		if err := a.TLSServer.ManageCertificates(ctx); err != nil {
			return err
		}
		return a.TLSServer.ListenAndServe()
	}
	return a.HTTPServer.Start()
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}
	a.SyncService.Stop()

	if a.MetricsServer != nil {
		if err := a.MetricsServer.Shutdown(ctx); err != nil {
			a.Logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if a.TLSServer != nil {
		if err := a.TLSServer.Shutdown(ctx); err != nil {
			a.Logger.Error("TLS server shutdown error", "error", err)
		}
	} else if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error("HTTP server shutdown error", "error", err)
	}

	a.close()
	return nil
}

// Close releases the store without stopping any server. Used by one-shot
// commands.
func (a *App) Close() {
	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}
	a.close()
}

func (a *App) close() {
	if a.persistCancel != nil {
		a.persistCancel()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Error("closing store", "error", err)
		}
	}
	if a.codec != nil {
		a.codec.Close()
	}
}

// handleFileEvents rebuilds the dataset after source tiles changed.
func (a *App) handleFileEvents(ctx context.Context, events []watcher.Event) error {
	for _, e := range events {
		a.Logger.Info("tile changed", "path", e.Path, "operation", e.Operation.String())
	}

	result, err := a.Datasets.Reload(ctx)
	if err != nil {
		return fmt.Errorf("rebuilding after %d tile changes: %w", len(events), err)
	}
	a.Logger.Info("dataset rebuilt", "features", result.Features, "chunks", result.Chunks)
	return nil
}

// initStorage initializes the tile source.
func initStorage(ctx context.Context, cfg config.StorageConfig) (output.ObjectStorage, error) {
	switch cfg.Type {
	case "local":
		return storage.NewLocalStorage(cfg.LocalPath), nil

	case "s3":
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})

	case "azure":
		return storage.NewAzureStorage(storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
		})

	case "http":
		return storage.NewHTTPStorage(storage.HTTPConfig{
			BaseURL:   cfg.HTTP.BaseURL,
			IndexFile: cfg.HTTP.IndexFile,
			Timeout:   cfg.HTTP.Timeout,
			Username:  cfg.HTTP.Username,
			Password:  cfg.HTTP.Password,
		}), nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// initStore initializes the durable key-value store.
func initStore(cfg config.StoreConfig) (output.KVStore, error) {
	switch cfg.Type {
	case "sqlite":
		return kvstore.NewSQLite(cfg.Path), nil
	case "redis":
		return kvstore.NewRedis(kvstore.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Namespace: cfg.Redis.Namespace,
		}), nil
	case "memory":
		return kvstore.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
