package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wolfman30/clinic-whatsapp-ai/cmd/mainconfig"
	appconfig "github.com/wolfman30/clinic-whatsapp-ai/internal/config"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/reminders"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := mainconfig.Bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	scheduler := reminders.NewScheduler(app.Sweeper(), cfg.ReminderHour, cfg.ReminderMinute, app.Location, logger)
	logger.Info("reminder worker started", "hour", cfg.ReminderHour, "minute", cfg.ReminderMinute, "timezone", app.Location.String())
	scheduler.Start(ctx)
}
