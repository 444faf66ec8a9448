package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/remoteui/internal/api/http"
	"github.com/GriffinCanCode/remoteui/internal/api/middleware"
	"github.com/GriffinCanCode/remoteui/internal/components"
	"github.com/GriffinCanCode/remoteui/internal/infrastructure/config"
	"github.com/GriffinCanCode/remoteui/internal/infrastructure/logging"
	"github.com/GriffinCanCode/remoteui/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/remoteui/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/remoteui/internal/sandbox"
	"github.com/GriffinCanCode/remoteui/internal/supervisor"
	"github.com/GriffinCanCode/remoteui/internal/ws"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	httpSrv  *http.Server
	sessions *supervisor.Manager
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
}

// Deps overrides what NewServer would otherwise build from config.
type Deps struct {
	Logger *logging.Logger
	// Registry receives the collectors and backs /metrics. Nil means the
	// process-wide default registry.
	Registry *prometheus.Registry
	Launcher sandbox.Launcher
}

// NewServer creates a server from configuration alone.
func NewServer(cfg *config.Config) (*Server, error) {
	return New(cfg, Deps{})
}

// New creates a server instance
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{
			Level:       cfg.Logging.Level,
			Development: cfg.Logging.Development,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	logger.Info("Initializing remoteui server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("sandbox_mode", cfg.Sandbox.Mode),
	)

	// Metrics come first; the manager and handlers record into them.
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if deps.Registry != nil {
		registerer, gatherer = deps.Registry, deps.Registry
	}
	metrics := monitoring.NewMetrics(registerer)
	tracer := tracing.New("remoteui", logger.Logger)

	launcher := deps.Launcher
	if launcher == nil {
		launcher = NewLauncher(cfg.Sandbox, logger.Logger)
	}

	registry := components.Registry()
	sessions := supervisor.NewManager(supervisor.ManagerConfig{
		Launcher:     launcher,
		Registry:     registry,
		ReadyTimeout: cfg.Sandbox.ReadyTimeout,
		LoadTimeout:  cfg.Sandbox.LoadTimeout,
		EventsPerSec: float64(cfg.Sandbox.EventsPerSec),

		RetainTerminated: cfg.Sandbox.RetainTerminated,
	}, logger.Logger).WithMetrics(metrics).WithTracer(tracer)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(middleware.Logger(logger.Named("http")))
	router.Use(monitoring.Middleware(metrics))
	corsCfg := middleware.DefaultCORSConfig()
	if len(cfg.Server.AllowOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.Server.AllowOrigins
	}
	router.Use(middleware.CORS(corsCfg))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	apihttp.NewHandlers(sessions, registry, logger.Logger).Register(router)
	ws.NewHandler(sessions, logger.Logger).
		WithMetrics(metrics).
		WithOriginCheck(corsCfg.OriginAllowed).
		Register(router)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	logger.Info("Server initialized successfully")

	return &Server{
		router:   router,
		sessions: sessions,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
		tracer:   tracer,
		httpSrv: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// NewLauncher picks the sandbox launcher for cfg.Mode.
func NewLauncher(cfg config.SandboxConfig, log *zap.Logger) sandbox.Launcher {
	scfg := SandboxConfig(cfg)
	if cfg.Mode == config.ModeProcess {
		return &sandbox.ProcessLauncher{Binary: cfg.Binary, Config: scfg, Logger: log}
	}
	return &sandbox.InProcessLauncher{Config: scfg, Logger: log}
}

// SandboxConfig translates configuration into worker limits.
func SandboxConfig(cfg config.SandboxConfig) sandbox.Config {
	scfg := sandbox.DefaultConfig()
	scfg.ExecTimeout = cfg.ExecTimeout
	scfg.MaxScriptBytes = cfg.MaxScriptBytes
	scfg.FetchRetries = cfg.FetchRetries
	scfg.AllowFile = cfg.AllowFile
	return scfg
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Sessions returns the session manager.
func (s *Server) Sessions() *supervisor.Manager {
	return s.sessions
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then terminates every session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	err := s.httpSrv.Shutdown(ctx)
	if err != nil {
		s.logger.Error("HTTP shutdown incomplete", zap.Error(err))
	}
	s.sessions.Shutdown()
	s.logger.Info("Sessions terminated")
	s.tracer.Close()

	_ = s.logger.Sync()
	return err
}

// Close is Shutdown with a default deadline.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}
