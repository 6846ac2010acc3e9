package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-whatsapp-ai/cmd/mainconfig"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/api/router"
	appconfig "github.com/wolfman30/clinic-whatsapp-ai/internal/config"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/conversation"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/http/handlers"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/inbox"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/messaging"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-whatsapp-ai API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"queue_backend", cfg.QueueBackend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := mainconfig.Bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	queue, closeQueue, err := app.NewQueue()
	if err != nil {
		logger.Error("failed to open queue", "error", err)
		os.Exit(1)
	}
	defer closeQueue()

	// The memory queue only reaches workers in this process.
	var worker *conversation.Worker
	if _, ok := queue.(*conversation.MemoryQueue); ok {
		engine, err := app.Engine(ctx)
		if err != nil {
			logger.Error("failed to build conversation engine", "error", err)
			os.Exit(1)
		}
		worker = conversation.NewWorker(engine, queue, logger,
			conversation.WithWorkerCount(cfg.WorkerCount),
			conversation.WithReceiveWaitSeconds(1),
		)
		worker.Start(ctx)
	}

	publisher := conversation.NewPublisher(queue, logger)
	whatsapp := messaging.NewWebhookHandler(cfg.MetaVerifyToken, cfg.MetaAppSecret, publisher,
		messaging.WithLedger(app.Ledger()),
		messaging.WithWebhookLogger(logger),
		messaging.WithWebhookMetrics(app.MessagingMetrics),
	)

	checks := map[string]handlers.Pinger{"postgres": app.Pool}
	if app.Redis != nil {
		checks["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return app.Redis.Ping(ctx).Err()
		})
	}

	routerCfg := &router.Config{
		Logger:             logger,
		WhatsApp:           whatsapp,
		Health:             handlers.NewHealthHandler(checks),
		AdminPauses:        handlers.NewAdminPausesHandler(app.Pauses, logger),
		AdminTenants:       handlers.NewAdminTenantsHandler(app.Repo, logger),
		AdminReminders:     handlers.NewAdminRemindersHandler(app.Sweeper(), logger),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     promhttp.HandlerFor(app.Metrics, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		WebhookRateLimit:   cfg.WebhookRateLimit,
	}
	if app.Inbox != nil {
		routerCfg.Inbox = inbox.NewWebhookHandler(app.Pauses, app.WhatsApp, app.Inbox, cfg.MetaNumberID,
			inbox.WithTenantLookup(app.Tenants),
			inbox.WithLogger(logger),
		)
	}
	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set; admin API disabled")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router.New(routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	if worker != nil {
		worker.Wait()
	}
	logger.Info("server stopped")
}
