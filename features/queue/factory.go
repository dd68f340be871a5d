package queue

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/nsqio/go-nsq"
)

// SelectBackend picks the first available backend: broker, then durable SQL,
// then in-process memory. Probes run once at startup; the chosen mode is
// logged so operators can tell which durability level is in effect.
func SelectBackend(ctx context.Context, producer *nsq.Producer, db *sql.DB) Backend {
	if producer != nil {
		if err := producer.Ping(); err != nil {
			slog.Warn("nsq producer unreachable, trying next backend", "error", err)
		} else {
			slog.Info("queue backend selected", "mode", "nsq")
			return NewNSQBackend(producer)
		}
	}

	if db != nil {
		if err := db.PingContext(ctx); err != nil {
			slog.Warn("database unreachable, trying next backend", "error", err)
		} else {
			slog.Info("queue backend selected", "mode", "postgres")
			return NewPostgresBackend(db)
		}
	}

	slog.Warn("queue backend selected", "mode", "memory", "caveat", "jobs are lost on restart")
	return NewMemoryBackend()
}
