package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/clinic-whatsapp-ai/cmd/mainconfig"
	appconfig "github.com/wolfman30/clinic-whatsapp-ai/internal/config"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/reminders"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	app, err := mainconfig.Bootstrap(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	sweeper := app.Sweeper()
	lambda.Start(func(ctx context.Context, evt events.CloudWatchEvent) (reminders.Summary, error) {
		return handle(ctx, sweeper, logger, evt)
	})
}

func handle(ctx context.Context, runner reminders.Runner, logger *logging.Logger, evt events.CloudWatchEvent) (reminders.Summary, error) {
	logger.Info("scheduled reminder sweep", "event_id", evt.ID, "source", evt.Source, "detail_type", evt.DetailType, "detail", compact(evt.Detail))
	summary, err := runner.Run(ctx)
	if err != nil {
		logger.Error("reminder sweep failed", "error", err)
		return reminders.Summary{}, err
	}
	return summary, nil
}

func compact(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	return string(raw)
}
