// Package main provides the entry point for the BuildingRadar service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vrabczak/BuildingRadar/internal/app"
	"github.com/vrabczak/BuildingRadar/internal/config"
	"github.com/vrabczak/BuildingRadar/internal/domain"
	"github.com/vrabczak/BuildingRadar/internal/ports/input"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "buildingradar",
	Short: "BuildingRadar - radius queries over chunked building footprints",
	Long: `BuildingRadar answers "which features lie within R meters of this point"
over large point datasets.

Source tiles (GeoJSON) are partitioned into a fixed degree grid, grouped into
chunks and persisted to a key-value store. Queries load only the chunks they
touch through a bounded LRU cache.

Features:
  - Radius queries with haversine distances
  - Lazy chunk loading with device-aware cache sizing
  - SQLite, Redis or in-memory persistence
  - Multiple tile sources (local, AWS S3, Azure, HTTP)
  - Hot reload of local tiles and periodic rebuilds
  - TLS with automatic certificate management
  - Prometheus metrics`,
	RunE: runServer,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Restore or build the dataset and serve the HTTP API",
	RunE:  runServer,
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the dataset from the tile source and persist it",
	RunE:  runBuild,
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run one radius query against the persisted dataset",
	RunE:  runQuery,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the persisted dataset",
	RunE:  runClear,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("BuildingRadar %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "json", "log format (json, text)")
	pf.String("storage-type", "local", "tile source type (local, s3, azure, http)")
	pf.String("storage-path", "./data", "local tile directory")
	pf.String("store-type", "sqlite", "dataset store type (sqlite, redis, memory)")
	pf.String("store-path", "./buildingradar.db", "sqlite database path")
	pf.Float64("cell-size", 0.01, "grid cell size in degrees")

	// Server flags
	serverFlags := func(cmd *cobra.Command) {
		f := cmd.Flags()
		f.String("host", "0.0.0.0", "server host")
		f.Int("port", 8080, "server port")
		f.Bool("tls", false, "enable TLS")
		f.StringSlice("tls-domains", nil, "TLS domains")
		f.String("tls-email", "", "TLS email for Let's Encrypt")
		f.StringSlice("cors", nil, "allowed CORS origins (e.g., https://example.com,*.sub.domain.tld)")
		f.Bool("eager", false, "keep all features in memory instead of the chunk cache")
		f.Int("max-chunks", 0, "upper bound on resident chunks (0 = tuned)")
		f.String("device", "auto", "device class for cache sizing (auto, low, standard, high)")
		f.Duration("sync-interval", 0, "rebuild from the tile source at this interval (0 = off)")
	}
	serverFlags(rootCmd)
	serverFlags(serveCmd)

	queryCmd.Flags().Float64("lon", 0, "longitude of the query center")
	queryCmd.Flags().Float64("lat", 0, "latitude of the query center")
	queryCmd.Flags().Float64("radius", 100, "radius in meters")
	queryCmd.Flags().Int("limit", 0, "maximum features (0 = server maximum)")
	_ = queryCmd.MarkFlagRequired("lon")
	_ = queryCmd.MarkFlagRequired("lat")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", pf.Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", pf.Lookup("log-format"))
	_ = viper.BindPFlag("storage.type", pf.Lookup("storage-type"))
	_ = viper.BindPFlag("storage.local_path", pf.Lookup("storage-path"))
	_ = viper.BindPFlag("store.type", pf.Lookup("store-type"))
	_ = viper.BindPFlag("store.path", pf.Lookup("store-path"))
	_ = viper.BindPFlag("grid.cell_size", pf.Lookup("cell-size"))

	rootCmd.AddCommand(serveCmd, buildCmd, queryCmd, clearCmd, versionCmd)
}

// bindServerFlags binds the flags of the command that is actually running;
// root and serve define the same set.
func bindServerFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	_ = viper.BindPFlag("server.host", f.Lookup("host"))
	_ = viper.BindPFlag("server.port", f.Lookup("port"))
	_ = viper.BindPFlag("tls.enabled", f.Lookup("tls"))
	_ = viper.BindPFlag("tls.domains", f.Lookup("tls-domains"))
	_ = viper.BindPFlag("tls.email", f.Lookup("tls-email"))
	_ = viper.BindPFlag("server.cors.allowed_origins", f.Lookup("cors"))
	_ = viper.BindPFlag("dataset.eager", f.Lookup("eager"))
	_ = viper.BindPFlag("cache.max_chunks", f.Lookup("max-chunks"))
	_ = viper.BindPFlag("cache.device", f.Lookup("device"))
	_ = viper.BindPFlag("dataset.sync_interval", f.Lookup("sync-interval"))
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// setup loads the configuration and installs the logger.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func runServer(cmd *cobra.Command, _ []string) error {
	bindServerFlags(cmd)

	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	logger.Info("starting BuildingRadar",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"storage_type", cfg.Storage.Type,
		"store_type", cfg.Store.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		if err := application.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		logger.Error("server error", "error", err)
	}
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

// oneShot runs fn against a fully wired application without serving.
func oneShot(fn func(ctx context.Context, a *app.App) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer application.Close()

	return fn(ctx, application)
}

func runBuild(_ *cobra.Command, _ []string) error {
	return oneShot(func(ctx context.Context, a *app.App) error {
		res, err := a.Datasets.Reload(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("built %s features in %s chunks (%s skipped), %s written in %s\n",
			humanize.Comma(int64(res.Features)),
			humanize.Comma(int64(res.Chunks)),
			humanize.Comma(int64(res.Skipped)),
			humanize.Bytes(uint64(res.Bytes)),
			res.Duration.Round(time.Millisecond),
		)
		return nil
	})
}

func runQuery(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	lon, _ := f.GetFloat64("lon")
	lat, _ := f.GetFloat64("lat")
	radius, _ := f.GetFloat64("radius")
	limit, _ := f.GetInt("limit")

	return oneShot(func(ctx context.Context, a *app.App) error {
		if err := a.Datasets.Startup(ctx); err != nil {
			return err
		}

		resp, err := a.QueryService.QueryRadius(ctx, input.QueryRequest{
			Query: domain.RadiusQuery{
				Center:       domain.NewPoint(lon, lat),
				RadiusMeters: radius,
				Limit:        limit,
			},
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"center":        resp.Center,
			"radius_meters": resp.RadiusMeters,
			"feature_count": resp.Result.FeatureCount(),
			"truncated":     resp.Result.Truncated,
			"features":      resp.Result.Features,
		})
	})
}

func runClear(_ *cobra.Command, _ []string) error {
	return oneShot(func(ctx context.Context, a *app.App) error {
		if err := a.Datasets.Clear(ctx); err != nil {
			return err
		}
		fmt.Println("dataset cleared")
		return nil
	})
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
