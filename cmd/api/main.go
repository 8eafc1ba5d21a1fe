package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/adeosun07/CTIserver-sub001/internal/bus"
	"github.com/adeosun07/CTIserver-sub001/internal/config"
	"github.com/adeosun07/CTIserver-sub001/internal/consumer"
	"github.com/adeosun07/CTIserver-sub001/internal/credentials"
	"github.com/adeosun07/CTIserver-sub001/internal/fanout"
	"github.com/adeosun07/CTIserver-sub001/internal/handler"
	"github.com/adeosun07/CTIserver-sub001/internal/store"
	"github.com/adeosun07/CTIserver-sub001/internal/telemetry"
	"github.com/adeosun07/CTIserver-sub001/internal/tenant"
	"github.com/adeosun07/CTIserver-sub001/internal/upstream"
)

const serviceName = "cti-broker"

func main() {
	// --- Structured Logger ---
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("configuration invalid", zap.Error(err))
	}

	// --- OpenTelemetry Tracer ---
	if cfg.OTelEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), serviceName, cfg.OTelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
			logger.Info("OTel tracer initialized", zap.String("endpoint", cfg.OTelEndpoint))
		}
	}

	// --- Database Pool + Migrations ---
	pool, err := store.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	if err := store.Migrate(pool); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}
	logger.Info("database ready")

	queries := store.New(pool)

	// --- Metrics Registry ---
	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	// --- Services ---
	creds := credentials.NewManager(pool, queries, cfg.LookupPepper, logger)
	resolver := tenant.NewResolver(queries, creds, logger)
	upstreamClient := upstream.NewClient(cfg, queries, logger)

	// --- Fanout Hub (+ optional NATS relay for multi-instance deployments) ---
	hub := fanout.NewHub(queries, metrics, logger)

	var natsClient *bus.Client
	relayCtx, relayCancel := context.WithCancel(context.Background())
	defer relayCancel()
	if cfg.NATSURL != "" {
		natsClient, err = bus.NewClient(cfg.NATSURL, logger)
		if err != nil {
			logger.Fatal("NATS initialization failed", zap.Error(err))
		}
		if err := natsClient.ProvisionStreams(); err != nil {
			logger.Fatal("NATS stream provisioning failed", zap.Error(err))
		}
		relay := bus.NewRelay(natsClient, logger)
		if err := relay.Start(relayCtx, hub); err != nil {
			logger.Fatal("fanout relay start failed", zap.Error(err))
		}
		hub.SetRelay(relay)
	}

	// --- Dispatcher + Event Handlers ---
	txRunner := consumer.NewTxRunner(pool)
	dispatcher := consumer.NewDispatcher(pool, cfg.DispatchBatchSize, cfg.DispatchInterval, metrics, logger)
	consumer.RegisterDefaultHandlers(dispatcher,
		consumer.NewCallHandler(txRunner, hub, logger),
		consumer.NewVoicemailHandler(txRunner, hub, logger),
		consumer.NewMessageHandler(txRunner, logger),
	)

	dispatcherCtx, dispatcherCancel := context.WithCancel(context.Background())
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Run(dispatcherCtx)
	}()

	// --- HTTP Server ---
	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware(serviceName))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("HTTP request",
				zap.String("URI", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	handler.NewWebhookHandler(queries, resolver, cfg.WebhookSecret, cfg.SignatureHeader, cfg.UpstreamAPIKey, metrics, logger).Register(e)
	handler.NewAdminHandler(queries, creds, upstreamClient, cfg.InternalSecret, logger).Register(e)
	handler.NewAPIHandler(queries, creds, logger).Register(e)
	handler.RegisterSystem(e, pool, queries, registry)
	e.GET("/ws", fanout.Handler(fanout.HandlerOptions{Hub: hub, Keys: creds, Logger: logger}))

	addr := fmt.Sprintf(":%d", cfg.Port)
	go func() {
		logger.Info("cti-broker HTTP server listening", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	logger.Info("cti-broker started",
		zap.String("environment", cfg.Environment),
		zap.Bool("relay_enabled", natsClient != nil),
	)

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Drain HTTP first so no new events arrive, then let the dispatcher
	// finish its in-flight pass, close subscriber connections, and finally
	// drain NATS and the pool.
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("echo shutdown error", zap.Error(err))
	}

	dispatcherCancel()
	select {
	case <-dispatcherDone:
	case <-shutdownCtx.Done():
		logger.Warn("dispatcher did not stop within shutdown window")
	}

	hub.Close()

	relayCancel()
	if natsClient != nil {
		natsClient.Close()
	}

	pool.Close()
	logger.Info("cti-broker shut down cleanly")
}
