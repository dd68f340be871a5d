package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"storefront/backend/features/integration"
	"storefront/backend/features/queue"
	"storefront/backend/internal/config"
	"storefront/backend/internal/middleware"
	"storefront/backend/internal/resilience"
)

type App struct {
	Handler    http.Handler
	Queue      *queue.Service
	Dispatcher *integration.Dispatcher
	Handlers   map[string]queue.HandlerFunc
	Mode       string

	port int
}

func New(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*App, error) {
	breakers := resilience.NewBreakers(resilience.BreakerSettings{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Cooldown:         time.Duration(cfg.BreakerCooldownSeconds) * time.Second,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
	})

	backend := queue.SelectBackend(ctx, deps.Producer, deps.DB)
	queueService := queue.NewService(backend, logger)

	// Sinks are optional; an unconfigured sink is simply left out of the
	// fan-out rather than treated as a failure.
	var telegram integration.TelegramSender
	if cfg.TelegramBotToken != "" {
		telegram = integration.NewTelegramClient(cfg.TelegramBotToken, cfg.TelegramChatID)
	}
	var sheetsSink integration.SheetsAppender
	if cfg.SheetsSpreadsheetID != "" {
		client, err := integration.NewSheetsClient(ctx, cfg.SheetsSpreadsheetID, cfg.GoogleCredentials)
		if err != nil {
			slog.Warn("sheets client unavailable, sink disabled", "error", err)
		} else {
			sheetsSink = client
		}
	}

	dispatcher := integration.NewDispatcher(queueService, breakers, telegram, sheetsSink, logger)
	handlers := dispatcher.Handlers()

	queueHandler := queue.NewHandler(queueService, handlers, cfg.QueueSecret, cfg.QueueBatchLimit)
	eventHandler := integration.NewHandler(dispatcher, cfg.QueueSecret)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Queue-Secret, Authorization")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	mux := http.NewServeMux()

	mux.Handle("POST /events", middleware.CorrelationID(enableCORS(eventHandler.FireEvent)))

	mux.Handle("POST /queue/process", middleware.CorrelationID(enableCORS(queueHandler.ProcessBatch)))
	mux.Handle("GET /queue/stats", middleware.CorrelationID(enableCORS(queueHandler.GetStats)))
	mux.Handle("GET /queue/jobs", middleware.CorrelationID(enableCORS(queueHandler.ListJobs)))
	mux.Handle("POST /queue/jobs/{key}/retry", middleware.CorrelationID(enableCORS(queueHandler.RetryJob)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:    mux,
		Queue:      queueService,
		Dispatcher: dispatcher,
		Handlers:   handlers,
		Mode:       backend.Mode(),
		port:       cfg.ServerPort,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		a.Dispatcher.Wait()
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port, "queue_mode", a.Mode)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
