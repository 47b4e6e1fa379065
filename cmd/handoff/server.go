package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/browsergrid/handoff/api/handlers"
	"github.com/browsergrid/handoff/config"
	"github.com/browsergrid/handoff/coordinator"
	"github.com/browsergrid/handoff/internal/metrics"
	"github.com/browsergrid/handoff/internal/server"
	"github.com/browsergrid/handoff/internal/telemetry"
	"github.com/browsergrid/handoff/session"
)

// Server wires the session store, coordinator registry, expirer, and the
// HTTP control surface into one runnable service. The API and Prometheus
// metrics listen on separate ports.
type Server struct {
	config *config.Config
	logger *zap.Logger

	store     session.Store
	archive   *session.Archive
	registry  *coordinator.Registry
	expirer   *coordinator.Expirer
	collector *metrics.Collector
	otel      *telemetry.Providers

	apiServer     *server.Manager
	metricsServer *server.Manager
}

// NewServer builds a server from configuration. Dependencies that need
// external connections (Redis, the archive database) are opened in Start.
func NewServer(cfg *config.Config, logger *zap.Logger, otel *telemetry.Providers) *Server {
	return &Server{
		config:    cfg,
		logger:    logger,
		collector: metrics.NewCollector("handoff", logger),
		otel:      otel,
	}
}

// Start opens backing stores and brings up both HTTP listeners.
func (s *Server) Start() error {
	if err := s.initStore(); err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}

	s.registry = coordinator.NewRegistry(s.store, coordinator.Config{
		DefaultTimeout: s.config.Intervention.DefaultTimeout,
		Metrics:        s.collector,
		Archive:        s.archive,
	}, s.logger)

	s.expirer = coordinator.NewExpirer(s.registry, s.config.Intervention.PollInterval, s.logger)
	s.expirer.Start(context.Background())

	serverCfg := server.Config{
		Addr:            fmt.Sprintf(":%d", s.config.Server.HTTPPort),
		ReadTimeout:     s.config.Server.ReadTimeout,
		WriteTimeout:    s.config.Server.WriteTimeout,
		IdleTimeout:     s.config.Server.ReadTimeout * 2,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.config.Server.ShutdownTimeout,
	}
	s.apiServer = server.NewManager(s.buildAPIHandler(), serverCfg, s.logger)

	metricsCfg := serverCfg
	metricsCfg.Addr = fmt.Sprintf(":%d", s.config.Server.MetricsPort)
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsServer = server.NewManager(metricsMux, metricsCfg, s.logger)

	var g errgroup.Group
	g.Go(s.apiServer.Start)
	g.Go(s.metricsServer.Start)
	if err := g.Wait(); err != nil {
		s.shutdownComponents(context.Background())
		return err
	}

	s.logger.Info("handoff server started",
		zap.String("api_addr", s.apiServer.Addr()),
		zap.String("metrics_addr", s.metricsServer.Addr()),
		zap.String("session_backend", s.config.Session.Backend),
		zap.Bool("archive_enabled", s.config.Session.ArchiveEnabled),
	)
	return nil
}

func (s *Server) initStore() error {
	switch s.config.Session.Backend {
	case "redis":
		store, err := session.NewRedisStore(s.config.Session.Redis)
		if err != nil {
			return err
		}
		s.store = store
	default:
		s.store = session.NewMemoryStore()
	}

	if s.config.Session.ArchiveEnabled {
		archive, err := session.NewArchive(s.config.Session.Archive, s.logger)
		if err != nil {
			return err
		}
		s.archive = archive
	}
	return nil
}

func (s *Server) buildAPIHandler() http.Handler {
	interventions := handlers.NewInterventionHandler(s.registry, s.logger)
	events := handlers.NewEventsHandler(s.registry, s.logger)
	health := handlers.NewHealthHandler(s.logger)

	if redisStore, ok := s.store.(*session.RedisStore); ok {
		health.RegisterCheck(handlers.NewPingHealthCheck("redis", redisStore.Ping))
	}
	if s.archive != nil {
		health.RegisterCheck(handlers.NewPingHealthCheck("archive", s.archive.Ping))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealthz)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("GET /api/v1/interventions", interventions.HandleList)
	mux.HandleFunc("GET /api/v1/interventions/events", events.HandleEvents)
	mux.HandleFunc("GET /api/v1/interventions/{id}", interventions.HandleGet)
	mux.HandleFunc("GET /api/v1/interventions/{id}/status", interventions.HandleStatus)
	mux.HandleFunc("POST /api/v1/interventions/{id}/ack", interventions.HandleAcknowledge)
	mux.HandleFunc("POST /api/v1/interventions/{id}/resolve", interventions.HandleResolve)
	mux.HandleFunc("POST /api/v1/interventions/{id}/cancel", interventions.HandleCancel)
	mux.HandleFunc("DELETE /api/v1/runs/{id}", interventions.HandleCloseRun)

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
	}
	if s.config.Server.RateLimitRPS > 0 {
		middlewares = append(middlewares,
			RateLimiter(s.config.Server.RateLimitRPS, s.config.Server.RateLimitBurst))
	}
	if s.config.Auth.Enabled {
		// Probes and the metrics scrape stay open; everything under /api
		// needs a token.
		skipPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version"}
		middlewares = append(middlewares, JWTAuth(s.config.Auth.JWTSecret, skipPaths, s.logger))
	}

	return Chain(mux, middlewares...)
}

// Shutdown stops both listeners, the expirer, and the backing stores.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down handoff server")

	var g errgroup.Group
	if s.apiServer != nil {
		g.Go(func() error { return s.apiServer.Shutdown(ctx) })
	}
	if s.metricsServer != nil {
		g.Go(func() error { return s.metricsServer.Shutdown(ctx) })
	}
	err := g.Wait()

	s.shutdownComponents(ctx)
	return err
}

func (s *Server) shutdownComponents(ctx context.Context) {
	if s.expirer != nil {
		s.expirer.Stop()
	}
	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			s.logger.Warn("failed to close archive", zap.Error(err))
		}
	}
	if closer, ok := s.store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Warn("failed to close session store", zap.Error(err))
		}
	}
	if s.otel != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.otel.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("failed to shut down telemetry", zap.Error(err))
		}
	}
}

// WaitForShutdown blocks until a signal or serve error, then shuts down.
func (s *Server) WaitForShutdown() {
	s.apiServer.WaitForShutdown()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", zap.Error(err))
	}
}
