// Package http provides the HTTP server and handlers.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/vrabczak/BuildingRadar/internal/adapters/metrics"
	"github.com/vrabczak/BuildingRadar/internal/application"
	"github.com/vrabczak/BuildingRadar/internal/config"
	"github.com/vrabczak/BuildingRadar/internal/ports/input"
)

// Services bundles the application services the server exposes.
type Services struct {
	Query    input.QueryService
	Health   input.HealthChecker
	Engine   *application.Engine
	Datasets *application.DatasetService
	Sync     *application.SyncService // nil disables POST /api/v1/reload
	Metrics  *metrics.Collector       // nil disables request metrics
}

// Server wraps the HTTP server with application handlers.
type Server struct {
	server       *http.Server
	router       *mux.Router
	services     Services
	limiter      *rate.Limiter
	logger       *slog.Logger
	config       config.ServerConfig
	metricsPath  string        // empty when metrics are served elsewhere
	queryTimeout time.Duration // 0 = bounded by the request only
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsEndpoint serves the metrics collector's registry at path.
func WithMetricsEndpoint(path string) Option {
	return func(s *Server) {
		s.metricsPath = path
	}
}

// WithQueryTimeout bounds the duration of a single radius query.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.queryTimeout = d
	}
}

// NewServer creates a new HTTP server.
func NewServer(cfg config.ServerConfig, services Services, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		services: services,
		logger:   logger,
		config:   cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.RateLimit.Enabled {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.Rate), cfg.RateLimit.Burst)
	}

	s.router = s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	if s.services.Metrics != nil {
		r.Use(s.services.Metrics.Middleware)
	}
	if s.config.CORS.Enabled() {
		r.Use(s.corsMiddleware)
	}

	// Health endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

	if s.metricsPath != "" && s.services.Metrics != nil {
		r.Handle(s.metricsPath, s.services.Metrics.Handler()).Methods(http.MethodGet)
	}

	// API v1, rate limited when configured
	api := r.PathPrefix("/api/v1").Subrouter()
	if s.limiter != nil {
		api.Use(s.rateLimitMiddleware)
	}

	api.HandleFunc("/query", s.handleQuery).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/dataset", s.handleDataset).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/dataset", s.handleClearDataset).Methods(http.MethodDelete)
	api.HandleFunc("/cache", s.handleCache).Methods(http.MethodGet, http.MethodOptions)

	if s.services.Sync != nil {
		api.HandleFunc("/reload", s.handleReload).Methods(http.MethodPost, http.MethodOptions)
	}

	// OpenAPI spec and Swagger UI
	r.HandleFunc("/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)
	r.HandleFunc("/docs", s.handleSwaggerUI).Methods(http.MethodGet)

	if s.config.FrontendEnabled {
		r.HandleFunc("/", s.handleFrontend).Methods(http.MethodGet)
	}

	return r
}

// Router returns the mux router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the root handler, for use behind a TLS listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "address", s.config.Address())
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs incoming requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware rejects API requests above the configured rate.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			s.writeError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
