package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/clinic-whatsapp-ai/cmd/mainconfig"
	appconfig "github.com/wolfman30/clinic-whatsapp-ai/internal/config"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/conversation"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.QueueBackend == "" || cfg.QueueBackend == "memory" {
		logger.Error("conversation worker needs QUEUE_BACKEND=sqs or rabbitmq; the memory queue runs inside cmd/api")
		os.Exit(1)
	}

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

	engine, err := app.Engine(ctx)
	if err != nil {
		logger.Error("failed to build conversation engine", "error", err)
		os.Exit(1)
	}

	worker := conversation.NewWorker(engine, queue, logger,
		conversation.WithWorkerCount(cfg.WorkerCount),
	)
	worker.Start(ctx)
	logger.Info("conversation worker started", "workers", cfg.WorkerCount, "queue_backend", cfg.QueueBackend)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down conversation worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("conversation worker stopped")
	case <-doneCtx.Done():
		logger.Error("conversation worker shutdown timed out", "error", doneCtx.Err())
	}
}
