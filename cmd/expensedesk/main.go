package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"expensedesk/internal/amqp"
	"expensedesk/internal/cache"
	"expensedesk/internal/cli"
	"expensedesk/internal/config"
	"expensedesk/internal/docnum"
	"expensedesk/internal/expenseapi"
	"expensedesk/internal/form"
	apphttp "expensedesk/internal/http"
	"expensedesk/internal/log"
	"expensedesk/internal/middleware/ratelimit"
	"expensedesk/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	api := expenseapi.New(cfg.APIBaseURL, expenseapi.WithTimeout(cfg.APITimeout))
	drafts := cli.OpenDrafts(logger, cfg.DraftsDBPath)
	defer drafts.Close()

	// Change events are optional: without AMQP_URL the export worker simply
	// receives nothing.
	var publisher services.EventPublisher
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		publisher = amqpClient
		logger.Info("AMQP publisher initialized", "exchange", cfg.AMQPExchange)
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	expenses := services.NewExpenseService(api, publisher, logger, services.ExpenseServiceConfig{
		LocalList: cfg.ListMode == config.ListLocal,
		CacheTTL:  cfg.CacheTTL,
	})
	forms := services.NewFormService(form.Deps{
		Repo:            api,
		Numbers:         docnum.NewAllocator(api),
		Rules:           cfg.Rules(),
		DefaultCurrency: cfg.DefaultCurrency,
		OnSubmitted:     expenses.ExpenseSubmitted,
	}, drafts, logger, services.FormServiceConfig{})

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Expenses: expenses,
		Forms:    forms,
		Logger:   logger,
		ReadyChecks: map[string]apphttp.ReadyCheck{
			"expense_api": expenses.Ready,
			"drafts":      drafts.Ping,
		},
		RateLimit: ratelimit.DefaultConfig(),
	})

	caches := cache.NewManager()
	for _, c := range expenses.Caches() {
		caches.Register(c)
	}
	caches.Register(forms.Cache())
	for _, c := range srv.Caches() {
		caches.Register(c)
	}
	caches.StartCleanup(5 * time.Minute)

	janitorCfg := services.DefaultJanitorConfig()
	janitorCfg.DraftTTL = cfg.DraftTTL
	janitor := services.NewJanitor(drafts, logger, janitorCfg)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if err := janitor.Stop(ctx); err != nil {
			logger.Warn("Draft janitor shutdown error", "error", err)
		}
		caches.Stop()
	})

	if err := janitor.Start(ctx); err != nil {
		logger.Error("Failed to start draft janitor", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting expensedesk server",
		"port", cfg.Port,
		"api_base_url", cfg.APIBaseURL,
		"form_rules", cfg.FormRules,
		"list_mode", cfg.ListMode)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
