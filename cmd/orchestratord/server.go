package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opscore/orchestrator/internal/config"
	"github.com/opscore/orchestrator/internal/llm"
	"github.com/opscore/orchestrator/internal/observability"
	"github.com/opscore/orchestrator/internal/orchestrator"
	"github.com/opscore/orchestrator/internal/react"
	"github.com/opscore/orchestrator/internal/schedule"
	"github.com/opscore/orchestrator/internal/stream"
	"github.com/opscore/orchestrator/internal/worker"
)

// Server bundles every wired component of one orchestratord process: the
// run orchestrator, one embedded worker runtime, the stream gateway, and
// the HTTP run-control surface. Shaped after a gateway.Server's
// Start/Stop split and graceful-shutdown handling.
type Server struct {
	cfg     *config.Config
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	stores  *stores
	runner  *orchestrator.Runner
	runtime *worker.Runtime
	stream  *stream.Gateway

	httpServer    *http.Server
	metricsServer *http.Server
	grpcHealth    *grpcHealthServer
	shutdownOT    func(context.Context) error
	maintenance   *maintenanceLoops
	scheduler     *schedule.Scheduler
	reload        *configWatcher
}

// NewServer loads no configuration itself — cfg is expected to already be
// validated (config.Load) by the caller. configPath is only used to back a
// config-file watcher when cfg.Reload.Enabled is set; an empty configPath
// disables the watcher regardless of that setting.
func NewServer(ctx context.Context, cfg *config.Config, configPath string) (*Server, error) {
	logger := observability.NewLogger(observability.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format, AddSource: cfg.Logging.Level == "debug"})
	metrics := observability.NewMetrics()

	var tracer *observability.Tracer
	shutdownOT := func(context.Context) error { return nil }
	if cfg.Observability.Tracing.Enabled {
		t, shutdown := observability.NewTracer(observability.TraceConfig{
			ServiceName:    cfg.Observability.Tracing.ServiceName,
			ServiceVersion: cfg.Observability.Tracing.ServiceVersion,
			Environment:    cfg.Observability.Tracing.Environment,
			Endpoint:       cfg.Observability.Tracing.Endpoint,
			SamplingRate:   cfg.Observability.Tracing.SamplingRate,
			EnableInsecure: cfg.Observability.Tracing.Insecure,
			Attributes:     cfg.Observability.Tracing.Attributes,
		})
		tracer = t
		shutdownOT = shutdown
	}

	st, err := buildStores(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build stores: %w", err)
	}

	provider, err := buildProvider(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("build llm provider: %w", err)
	}

	sessions := sessionFactoryFor(cfg.Database.URL)

	// Neither registry is populated with concrete tools here: tool bodies
	// are a deployment-specific concern (see internal/toolinvoke's
	// Registry.Register/RegisterSchema), left to operators embedding this
	// package rather than shipped by the daemon itself.
	_, supervisorInvoker := buildToolInvoker(sessions)
	reactCfg := reactConfigFrom(cfg.React)

	supervisorEngine := react.New(provider, supervisorInvoker, st.jobs, st.barriers, st.threads, []llm.ToolSchema{spawnWorkerSchema}, reactCfg)
	runner := orchestrator.New(supervisorEngine, st.runs, st.threads, st.events, st.barriers)

	_, workerInvoker := buildToolInvoker(sessions)
	workerReactCfg := reactCfg
	workerReactCfg.MaxIterations = cfg.Worker.StandardMaxIterations
	workerEngine := react.New(provider, workerInvoker, st.jobs, st.barriers, st.threads, nil, workerReactCfg)

	runtime := worker.New("worker-1", st.jobs, st.barriers, st.artifact, st.events, st.runs, st.threads, workerEngine, worker.Config{
		PollInterval:          cfg.Worker.PollInterval,
		MaxConcurrency:        cfg.Worker.MaxConcurrency,
		HeartbeatInterval:     cfg.Worker.HeartbeatInterval,
		StandardMaxIterations: cfg.Worker.StandardMaxIterations,
		WorkspaceTimeout:      cfg.Worker.WorkspaceTimeout,
		WorkspaceAgentCommand: cfg.Worker.WorkspaceAgentCommand,
		CloneRoot:             cfg.Worker.CloneRoot,
		Logger:                slog.Default(),
	})

	gateway := stream.New(st.events, st.runs, st.jobs, st.threads, stream.DefaultQueueCapacity)

	maintenance := &maintenanceLoops{
		jobs: st.jobs, barriers: st.barriers,
		claimTimeout: cfg.Jobs.ClaimTimeout, reclaimInterval: cfg.Jobs.ReclaimInterval, maxAttempts: cfg.Jobs.MaxAttempts,
		sweepInterval: cfg.Barrier.SweepInterval,
		retention:     buildRetentionSweeper(st.artifact, cfg.Artifacts, runtime.WorkerID()),
		logger:        logger,
	}

	grpcHealth := newGRPCHealthServer(cfg.Server.Host, cfg.Server.GRPCPort)

	scheduler, err := schedule.New(cfg.Schedule, runner, logger)
	if err != nil {
		return nil, fmt.Errorf("build scheduler: %w", err)
	}

	var reload *configWatcher
	if configPath != "" {
		reload, err = newConfigWatcher(cfg, configPath, logger, func(newCfg *config.Config) {
			logger.SetLevel(newCfg.Logging.Level)
		})
		if err != nil {
			return nil, fmt.Errorf("build config watcher: %w", err)
		}
	}

	return &Server{
		cfg: cfg, logger: logger, metrics: metrics, tracer: tracer,
		stores: st, runner: runner, runtime: runtime, stream: gateway,
		grpcHealth: grpcHealth, shutdownOT: shutdownOT, maintenance: maintenance,
		scheduler: scheduler, reload: reload,
	}, nil
}

// sessionFactoryFor returns nil when there's no database configured — tools
// that declare NeedsSession() would then fail at invocation time, which is
// the correct behavior for embedded/no-database deployments.
func sessionFactoryFor(dsn string) func(ctx context.Context) (*sql.DB, func(), error) {
	if dsn == "" {
		return nil
	}
	return func(ctx context.Context) (*sql.DB, func(), error) {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	}
}

// Start runs the worker runtime's poll loop and the HTTP run-control
// server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.runtime.Start(ctx)
	s.maintenance.start(ctx)
	if err := s.grpcHealth.start(ctx, s.logger); err != nil {
		return fmt.Errorf("grpc health server: %w", err)
	}
	if s.scheduler != nil {
		s.scheduler.Start(ctx)
	}
	if s.reload != nil {
		s.reload.start(ctx)
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.HTTPPort)
	s.httpServer = &http.Server{Addr: addr, Handler: withAuth(s.cfg.Auth, mux)}

	if s.cfg.Server.MetricsPort != 0 && s.cfg.Server.MetricsPort != s.cfg.Server.HTTPPort {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsMux.HandleFunc("/healthz", s.handleHealthz)
		metricsAddr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.MetricsPort)
		s.metricsServer = &http.Server{Addr: metricsAddr, Handler: metricsMux}
		go func() {
			s.logger.Info(ctx, "orchestratord metrics server listening", "addr", metricsAddr)
			if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Error(ctx, "metrics server exited", "error", err)
			}
		}()
	}

	s.logger.Info(ctx, "orchestratord http server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop drains the HTTP server(s) and the worker runtime within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.runtime.Stop()
	s.maintenance.close()
	if s.grpcHealth != nil {
		s.grpcHealth.stop()
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.reload != nil {
		s.reload.stop()
	}
	if err := s.shutdownOT(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
