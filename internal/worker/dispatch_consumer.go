package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"
	"storefront/backend/features/queue"
	"storefront/backend/internal/middleware"
)

const Channel = "dispatch"

// DispatchConsumer executes job envelopes when the broker backend is active.
// Returning an error requeues the message, so retry scheduling stays with
// the broker; messages that exhaust their attempts are logged as
// dead-lettered here since no durable row exists to mark.
type DispatchConsumer struct {
	handlers map[string]queue.HandlerFunc
}

func NewDispatchConsumer(handlers map[string]queue.HandlerFunc) *DispatchConsumer {
	return &DispatchConsumer{handlers: handlers}
}

func (c *DispatchConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var env queue.Envelope
	err := json.Unmarshal(m.Body, &env)

	correlationID := env.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if err != nil {
		slog.ErrorContext(ctx, "invalid job envelope, dropping", "error", err)
		return nil // don't requeue garbage
	}
	if env.Type == "" {
		slog.ErrorContext(ctx, "job envelope missing type, dropping", "queue_key", env.QueueKey)
		return nil
	}

	handler, ok := c.handlers[env.Type]
	if !ok {
		slog.ErrorContext(ctx, "no handler for job type, dropping", "type", env.Type, "queue_key", env.QueueKey)
		return nil
	}

	if err := handler(ctx, env.Payload); err != nil {
		attempts := int(m.Attempts)
		budget := env.MaxAttempts
		if budget <= 0 {
			budget = queue.DefaultMaxAttempts
		}
		if attempts >= budget {
			slog.ErrorContext(ctx, "job dead-lettered by broker",
				"type", env.Type, "queue_key", env.QueueKey, "attempts", attempts, "error", err)
			return nil
		}
		slog.WarnContext(ctx, "job attempt failed, requeueing",
			"type", env.Type, "queue_key", env.QueueKey, "attempt", attempts, "error", err)
		return fmt.Errorf("execute %s job: %w", env.Type, err)
	}

	slog.InfoContext(ctx, "job executed", "type", env.Type, "queue_key", env.QueueKey)
	return nil
}
