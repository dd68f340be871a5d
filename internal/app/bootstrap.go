package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"

	"storefront/backend/features/queue"
	"storefront/backend/internal/config"
	"storefront/backend/internal/resilience"
)

type Dependencies struct {
	DB       *sql.DB
	Producer *nsq.Producer
}

// Bootstrap prepares the external collaborators the pipeline may use. Both
// the database and the broker are optional: whatever is unreachable is
// reported as nil and the queue factory falls back down the backend chain.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	deps := &Dependencies{}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	opts := resilience.RetryOptions{
		MaxRetries: resilience.ClampRetries(cfg.BootstrapRetryAttempts),
		BaseDelay:  resilience.ClampDelay(time.Duration(cfg.BootstrapRetryDelayMS) * time.Millisecond),
	}
	_, pingErr := resilience.WithRetries(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, db.PingContext(ctx)
	})
	if pingErr != nil {
		slog.Warn("database unreachable, continuing without durable SQL backend", "error", pingErr)
		_ = db.Close()
	} else {
		if err := runMigrations(db, cfg.MigrationPath); err != nil {
			return nil, err
		}
		deps.DB = db
	}

	if cfg.NSQDHost != "" {
		nsqCfg := nsq.NewConfig()
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsqCfg)
		if err != nil {
			slog.Warn("nsq producer creation failed, continuing without broker backend", "error", err)
		} else {
			deps.Producer = producer
			if cfg.NSQDHTTP != "" {
				createTopics(cfg.NSQDHTTP)
			}
		}
	}

	return deps, nil
}

func runMigrations(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up error: %w", err)
	}
	slog.Info("migrations applied")
	return nil
}

// createTopics pre-creates the jobs topic on nsqd so a consumer querying
// lookupd does not 404 before the first publish. Fire-and-forget.
func createTopics(nsqdHTTP string) {
	go func() {
		time.Sleep(2 * time.Second)
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, queue.JobsTopic)
		resp, err := http.Post(url, "application/json", nil)
		if err != nil {
			slog.Warn("failed to pre-create jobs topic", "topic", queue.JobsTopic, "error", err)
			return
		}
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close topic creation response body", "error", err)
		}
	}()
}
