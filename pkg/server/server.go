package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"mercator-hq/exporter/pkg/api/realtime"
	"mercator-hq/exporter/pkg/config"
	"mercator-hq/exporter/pkg/export/audit"
	"mercator-hq/exporter/pkg/export/generator"
	"mercator-hq/exporter/pkg/export/orchestrator"
	"mercator-hq/exporter/pkg/export/progress"
	"mercator-hq/exporter/pkg/export/retention"
	"mercator-hq/exporter/pkg/security/auth"
	securitytls "mercator-hq/exporter/pkg/security/tls"
	"mercator-hq/exporter/pkg/telemetry"
	"mercator-hq/exporter/pkg/telemetry/health"
)

// BuildInfo identifies the running binary on the version endpoint.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// Server is the exporter process: the export engine, its stores and the
// HTTP and WebSocket surface.
type Server struct {
	config    *config.Config
	build     BuildInfo
	telemetry *telemetry.Telemetry

	jobs       JobStore
	auditStore audit.Store
	recorder   *audit.Recorder
	storage    Storage

	tiers     *config.TierResolver
	tracker   *progress.Tracker
	orch      *orchestrator.Orchestrator
	sweeper   *retention.Sweeper
	scheduler *retention.Scheduler
	hub       *realtime.Hub
	auth      *auth.APIKeyMiddleware

	handler    http.Handler
	httpServer *http.Server
	tlsConfig  *tls.Config
	reloader   *securitytls.CertificateReloader

	mu       sync.Mutex
	listener net.Listener
	running  bool
	stopped  bool
	cancel   context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error

	logger *slog.Logger
}

// New opens the configured backends and assembles the server. Everything
// opened is closed again when assembly fails.
func New(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, build BuildInfo) (s *Server, err error) {
	if cfg == nil || tel == nil {
		return nil, errors.New("server: config and telemetry are required")
	}

	s = &Server{
		config:    cfg,
		build:     build,
		telemetry: tel,
		logger:    slog.Default().With("component", "server"),
	}

	var closers []func() error
	defer func() {
		if err == nil {
			return
		}
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}()

	if s.jobs, err = OpenJobStore(&cfg.Store); err != nil {
		return nil, err
	}
	closers = append(closers, s.jobs.Close)

	if s.auditStore, err = OpenAuditStore(&cfg.Audit); err != nil {
		return nil, err
	}
	if s.auditStore != nil {
		closers = append(closers, s.auditStore.Close)
		s.recorder = audit.NewRecorder(s.auditStore, AuditRecorderConfig(&cfg.Audit))
		closers = append(closers, s.recorder.Close)
	}

	if s.storage, err = OpenArtifactStorage(ctx, &cfg.Artifacts); err != nil {
		return nil, fmt.Errorf("failed to open artifact storage: %w", err)
	}

	records, recordsCheck, err := OpenRecordSource(&cfg.Records)
	if err != nil {
		return nil, fmt.Errorf("failed to open record source: %w", err)
	}

	s.tlsConfig, s.reloader, err = securitytls.NewServerConfig(cfg.Server.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to configure TLS: %w", err)
	}

	metrics := tel.Metrics()

	s.tracker = progress.NewTracker(progress.Config{
		RetentionWindow: cfg.Progress.RetentionWindow,
		SweepInterval:   cfg.Progress.SweepInterval,
	})
	s.tracker.SetObserver(metrics.ProgressSubscribers)

	s.tiers = config.NewTierResolver(cfg.Tiers)

	deps := orchestrator.Dependencies{
		Store:       s.jobs,
		Records:     records,
		Storage:     s.storage,
		Generators:  generator.NewDefaultRegistry(),
		Permissions: s.tiers,
		Tracker:     s.tracker,
		Observer:    metrics,
		Tracer:      tel.Tracer().Tracer(),
	}
	if s.recorder != nil {
		deps.Audit = s.recorder
	}
	if s.orch, err = orchestrator.New(deps, OrchestratorConfig(cfg)); err != nil {
		return nil, err
	}
	metrics.RegisterPool(s.orch.PoolStats)

	s.sweeper = retention.NewSweeper(s.jobs, s.orch, s.storage, RetentionConfig(&cfg.Retention))
	if s.auditStore != nil {
		s.sweeper.SetAuditStore(s.auditStore)
	}
	s.sweeper.OnResult(func(r *retention.Result) {
		metrics.RecordSweep(r.Deleted, r.Failed, r.Orphans, r.AuditPruned, r.Duration)
	})
	s.scheduler = retention.NewScheduler(s.sweeper)

	s.hub = realtime.NewHub(s.orch, cfg.Server.WebSocket, metrics)
	s.auth = auth.NewAPIKeyMiddleware(cfg.Auth)

	checker := tel.Health()
	checker.RegisterCheck("jobstore", health.PingCheck(s.jobs))
	checker.RegisterCheck("storage", health.PingCheck(s.storage))
	checker.RegisterOptionalCheck("workers", health.SaturationCheck(s.orch.Saturated))
	if recordsCheck != nil {
		checker.RegisterOptionalCheck("records", recordsCheck)
	}

	s.handler = s.routes()
	return s, nil
}

// Handler returns the root HTTP handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Orchestrator returns the export engine.
func (s *Server) Orchestrator() *orchestrator.Orchestrator {
	return s.orch
}

// Sweeper returns the retention sweeper, for manual sweeps.
func (s *Server) Sweeper() *retention.Sweeper {
	return s.sweeper
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start reconciles interrupted jobs, starts the background loops and
// serves HTTP until ctx is cancelled or serving fails. It shuts the server
// down before returning.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return errors.New("server has been shut down")
	}
	if s.running {
		s.mu.Unlock()
		return errors.New("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	if config.Bool(s.config.Jobs.ReconcileOnStart, true) {
		n, err := s.orch.Reconcile(ctx)
		if err != nil {
			return fmt.Errorf("failed to reconcile interrupted jobs: %w", err)
		}
		if n > 0 {
			s.logger.Warn("failed jobs interrupted by restart", "count", n)
		}
	}

	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.tracker.Run(bgCtx)
	go s.hub.Run(bgCtx)
	if err := s.scheduler.Start(bgCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start retention scheduler: %w", err)
	}
	securitytls.Start(bgCtx, s.reloader)

	ln, err := net.Listen("tcp", s.config.Server.ListenAddress)
	if err != nil {
		_ = s.Shutdown(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", s.config.Server.ListenAddress, err)
	}

	srv := &http.Server{
		Handler:        s.handler,
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		IdleTimeout:    s.config.Server.IdleTimeout,
		MaxHeaderBytes: s.config.Server.MaxHeaderBytes,
		TLSConfig:      s.tlsConfig,
	}
	s.mu.Lock()
	s.listener = ln
	s.httpServer = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("exporter listening",
			"address", ln.Addr().String(),
			"tls", s.tlsConfig != nil,
			"version", s.build.Version,
		)
		var err error
		if s.tlsConfig != nil {
			err = srv.ServeTLS(ln, "", "")
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown requested")
		return s.Shutdown(context.Background())
	case err, ok := <-errCh:
		shutdownErr := s.Shutdown(context.Background())
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return shutdownErr
	}
}

// Shutdown stops accepting requests, closes WebSocket connections, drains
// running jobs and closes the stores, all within the configured shutdown
// timeout. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(ctx)
	})
	return s.shutdownErr
}

func (s *Server) shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("initiating graceful shutdown", "timeout", s.config.Server.ShutdownTimeout.String())

	var errs []error
	s.mu.Lock()
	srv := s.httpServer
	stop := s.cancel
	s.stopped = true
	s.mu.Unlock()

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := s.hub.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("websocket shutdown: %w", err))
	}
	if err := s.orch.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("orchestrator shutdown: %w", err))
	}
	s.scheduler.Stop()
	if stop != nil {
		stop()
	}

	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit recorder: %w", err))
		}
	}
	if s.auditStore != nil {
		if err := s.auditStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit store: %w", err))
		}
	}
	if err := s.jobs.Close(); err != nil {
		errs = append(errs, fmt.Errorf("job store: %w", err))
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("shutdown finished with errors", "error", err)
		return err
	}
	s.logger.Info("exporter stopped")
	return nil
}

// ApplyConfig applies the hot-reloadable parts of cfg: tier permissions,
// the estimate model, API keys and the log level. Other changes need a
// restart.
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.tiers.Update(cfg.Tiers)
	s.orch.SetEstimates(Estimates(&cfg.Estimates), cfg.Estimates.BatchOverhead)
	s.auth.Update(cfg.Auth)
	if err := s.telemetry.Logger().SetLevel(cfg.Telemetry.Logging.Level); err != nil {
		s.logger.Warn("ignoring invalid log level", "level", cfg.Telemetry.Logging.Level, "error", err)
	}
	s.logger.Info("configuration reloaded")
}
