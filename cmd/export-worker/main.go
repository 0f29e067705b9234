package main

import (
	"context"
	"errors"
	"os"
	"time"

	"expensedesk/internal/amqp"
	"expensedesk/internal/backend"
	"expensedesk/internal/cli"
	"expensedesk/internal/expenseapi"
	"expensedesk/internal/log"
	"expensedesk/internal/services"
	"expensedesk/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting export-worker", "backend", cfg.ExportBackend)

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required by the export worker")
		os.Exit(1)
	}

	exporterCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid export backend", "error", err)
		os.Exit(1)
	}
	exporter, err := backend.NewExporter(context.Background(), exporterCfg, logger.Logger)
	if err != nil {
		logger.Error("Failed to initialize exporter", "error", err, "backend", exporterCfg.Type)
		os.Exit(1)
	}

	api := expenseapi.New(cfg.APIBaseURL, expenseapi.WithTimeout(cfg.APITimeout))
	exportWorker := worker.NewExportWorker(api, exporter)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		if err := amqpClient.Close(); err != nil {
			logger.Warn("AMQP close error", "error", err)
		}
	})

	if cfg.BackfillOnStart {
		go backfill(ctx, logger, api, exportWorker)
	}

	go func() {
		if err := amqpClient.ConsumeEvents(ctx, exportWorker.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("Export worker running", "queue", cfg.AMQPQueue)
	cli.WaitForShutdown(ctx, done)
	logger.Info("Export worker stopped")
}

// backfill exports every expense the API currently holds, so a fresh sheet
// catches up with documents submitted before the worker existed.
func backfill(ctx context.Context, logger *log.Logger, api *expenseapi.Client, w *worker.ExportWorker) {
	all, err := services.NewExpenseService(api, nil, logger, services.ExpenseServiceConfig{}).All(ctx)
	if err != nil {
		logger.Error("Backfill failed to read expenses", "error", err)
		return
	}
	n, err := w.ExportAll(ctx, all)
	if err != nil {
		logger.Warn("Backfill finished with errors", "exported", n, "error", err)
		return
	}
	logger.Info("Backfill complete", "exported", n)
}
