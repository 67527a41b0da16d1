// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/config"
	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/connection"
	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/delivery"
	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/delivery/twilio"
	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/emergency"
	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/pkg/httputil"
	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/polling"
	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/realtime"
	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/realtime/ws"
	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/telemetry"
	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	sink          *telemetry.Sink
	server        *http.Server
	metricsServer *http.Server

	deliveryService *delivery.Service
	deliveryWorker  *delivery.Worker
	hub             *ws.Hub
	manager         *realtime.Manager
	poller          *polling.Driver
	orchestrator    *emergency.Orchestrator

	runCancel context.CancelFunc
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	sink := telemetry.NewSink(logger, 1000)

	app := &App{
		config: cfg,
		logger: logger,
		sink:   sink,
	}

	if err := app.setupServices(); err != nil {
		return nil, err
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           app.setupRouter(),
		ReadTimeout:       cfg.Server.RequestTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

func (a *App) setupServices() error {
	cfg := a.config

	sender, err := twilio.NewSender(twilio.Config{
		Enabled:    cfg.Delivery.Twilio.Enabled,
		AccountSID: cfg.Delivery.Twilio.AccountSID,
		AuthToken:  cfg.Delivery.Twilio.AuthToken,
		From:       cfg.Delivery.Twilio.From,
		RateLimit:  cfg.Delivery.Twilio.RateLimit,
	})
	if err != nil {
		return fmt.Errorf("create twilio sender: %w", err)
	}
	if !cfg.Delivery.Twilio.Enabled {
		a.logger.Warn("twilio sender is disabled: outbound messages will be accepted but not transmitted")
	}

	a.deliveryService = delivery.NewService(delivery.Config{
		MaxAttempts:       cfg.Delivery.MaxAttempts,
		InitialBackoff:    cfg.Delivery.InitialBackoff,
		MaxBackoff:        cfg.Delivery.MaxBackoff,
		BackoffMultiplier: cfg.Delivery.BackoffMultiplier,
	}, delivery.NewStore(), sender, a.sink)

	a.deliveryWorker = delivery.NewWorker(delivery.WorkerConfig{
		PollInterval: cfg.Delivery.WorkerInterval,
		BatchSize:    cfg.Delivery.WorkerBatchSize,
	}, a.deliveryService)

	a.poller = polling.NewDriver(polling.Config{
		DefaultInterval: cfg.Polling.DefaultInterval,
		FingerprintTTL:  cfg.Polling.FingerprintTTL,
	}, a.sink)

	a.hub = ws.NewHub(ws.Config{
		SendBufferSize: cfg.Realtime.SendBufferSize,
		PingInterval:   cfg.Realtime.PingInterval,
		PongTimeout:    cfg.Realtime.PongTimeout,
		HistoryPerUser: cfg.Realtime.HistoryPerUser,
		AllowAnyOrigin: true,
	}, a.logger)

	a.manager = realtime.NewManager(
		realtime.Config{
			PollInterval: cfg.Realtime.PollInterval,
			DisplayName:  cfg.Realtime.DisplayName,
		},
		connection.Config{
			CheckInterval:        cfg.Connection.CheckInterval,
			LivenessThreshold:    cfg.Connection.LivenessThreshold,
			ReconnectBaseDelay:   cfg.Connection.ReconnectBaseDelay,
			ReconnectMaxDelay:    cfg.Connection.ReconnectMaxDelay,
			MaxReconnectAttempts: cfg.Connection.MaxReconnectAttempts,
		},
		a.hub,
		a.poller,
		realtime.StaticContacts{Default: cfg.Realtime.SupportContacts},
		a.sink,
	)
	a.hub.OnTraffic(a.manager.Monitor().RecordHeartbeat)

	steps := emergency.NewStepTable(emergency.StepsConfig{
		OperatorAddresses: cfg.Emergency.OperatorAddresses,
		OperatorUserIDs:   cfg.Emergency.OperatorUserIDs,
		PrivacyAddress:    cfg.Emergency.PrivacyAddress,
	}, a.deliveryService, a.manager)

	a.orchestrator = emergency.NewOrchestrator(emergency.Config{
		ApprovalTimeout: cfg.Emergency.ApprovalTimeout,
		AutoApprove:     cfg.Emergency.AutoApprove,
		StepDelay:       cfg.Emergency.StepDelay,
	}, emergency.DefaultCatalog(), steps, a.sink)

	return nil
}

// Run starts background workers and the HTTP servers. It blocks until the
// main server stops.
func (a *App) Run() error {
	runCtx, cancel := context.WithCancel(context.Background())
	a.runCancel = cancel

	a.deliveryWorker.Start(runCtx)
	a.manager.Run(runCtx)
	a.orchestrator.Run(runCtx)
	go a.collectQueueMetrics(runCtx)

	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	if a.runCancel != nil {
		a.runCancel()
	}

	a.deliveryWorker.Stop()
	a.manager.Stop()
	a.poller.StopAll()
	a.hub.Close()

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Manager returns the channel manager instance, used in tests.
func (a *App) Manager() *realtime.Manager {
	return a.manager
}

func (a *App) collectQueueMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			delivery.RecordQueueStats(a.deliveryService.QueueStats())
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.Server.CORSOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(a.config.Server.RequestTimeout))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/ws", a.hub.ServeWS)

	deliveryHandler := delivery.NewHandler(a.deliveryService)
	realtimeHandler := realtime.NewHandler(a.manager)
	emergencyHandler := emergency.NewHandler(a.orchestrator)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/delivery", deliveryHandler.RegisterRoutes)
		r.Route("/realtime", realtimeHandler.RegisterRoutes)
		r.Route("/emergency", emergencyHandler.RegisterRoutes)

		r.Get("/telemetry/recent", a.recentTelemetryHandler)
	})

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, _ *http.Request) {
	// All state is in-process; readiness equals liveness.
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func (a *App) recentTelemetryHandler(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, a.sink.Recent(100))
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
