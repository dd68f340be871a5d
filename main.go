package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"

	"storefront/backend/features/queue"
	"storefront/backend/internal/app"
	"storefront/backend/internal/config"
	"storefront/backend/internal/logger"
	"storefront/backend/internal/worker"
)

func main() {
	log := slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	if deps.DB != nil {
		defer deps.DB.Close()
	}

	a, err := app.New(ctx, cfg, deps, log)
	if err != nil {
		return err
	}

	// In broker mode job execution happens in an NSQ consumer instead of the
	// batch-trigger endpoint.
	if a.Mode == "nsq" && cfg.NSQLookupd != "" {
		nsqCfg := nsq.NewConfig()
		consumer, err := nsq.NewConsumer(queue.JobsTopic, worker.Channel, nsqCfg)
		if err != nil {
			slog.Error("failed to create NSQ consumer", "error", err)
		} else {
			consumer.AddHandler(worker.NewDispatchConsumer(a.Handlers))
			if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
				slog.Error("failed to connect to NSQLookupd", "error", err)
			} else {
				slog.Info("NSQ dispatch consumer connected", "topic", queue.JobsTopic, "channel", worker.Channel)
				defer consumer.Stop()
			}
		}
	}

	return a.Run(ctx)
}
