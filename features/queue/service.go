package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"storefront/backend/internal/resilience"
)

const (
	DefaultMaxAttempts = 5
	maxAttemptsCeiling = 10
	maxBatchLimit      = 200
	jobTimeout         = 10 * time.Second
	maxRetryDelay      = 120 * time.Second
)

// Service is the queue's public API: idempotent enqueue, terminal mark-done,
// batch processing, and stats.
type Service struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(backend Backend, logger *slog.Logger) *Service {
	return &Service{backend: backend, logger: logger, now: time.Now}
}

func (s *Service) Mode() string { return s.backend.Mode() }

// Enqueue creates a durable job record. Re-enqueuing with the same key
// refreshes payload and attempt budget but never duplicates the row or
// resets its progress. A missing key falls back to a random one, giving up
// deduplication for that job. Returns the queue key and the backend mode.
func (s *Service) Enqueue(ctx context.Context, jobType string, payload any, idempotencyKey string, maxAttempts int) (string, string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("marshal payload: %w", err)
	}

	key := idempotencyKey
	if key == "" {
		key = uuid.New().String()
	}

	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if maxAttempts > maxAttemptsCeiling {
		maxAttempts = maxAttemptsCeiling
	}

	j := &Job{
		QueueKey:      key,
		Type:          jobType,
		Payload:       body,
		Status:        StatusPending,
		MaxAttempts:   maxAttempts,
		NextAttemptAt: s.now(),
	}
	if err := s.backend.Enqueue(ctx, j); err != nil {
		return "", "", fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	return key, s.backend.Mode(), nil
}

// MarkDone records the outcome of an inline delivery attempt. This is a
// terminal transition: an error message dead-letters the job outright, it
// does not schedule a retry.
func (s *Service) MarkDone(ctx context.Context, key, errMsg string) error {
	return s.backend.MarkDone(ctx, key, errMsg)
}

// ProcessBatch claims due jobs and runs their type handlers under a fixed
// per-job timeout, recording DONE, RETRY, or DEAD per outcome.
func (s *Service) ProcessBatch(ctx context.Context, handlers map[string]HandlerFunc, limit int) (Result, error) {
	if limit <= 0 {
		limit = 1
	}
	if limit > maxBatchLimit {
		limit = maxBatchLimit
	}

	var res Result
	jobs, err := s.backend.ClaimDue(ctx, limit)
	if err != nil {
		return res, fmt.Errorf("claim batch: %w", err)
	}

	for _, j := range jobs {
		attempts := j.Attempts + 1

		handler, ok := handlers[j.Type]
		if !ok {
			out := Outcome{
				Status:    StatusDead,
				Attempts:  attempts,
				LastError: fmt.Sprintf("no handler registered for job type %s", j.Type),
			}
			if err := s.backend.Record(ctx, j.QueueKey, out); err != nil {
				s.logger.ErrorContext(ctx, "failed to record job outcome", "queue_key", j.QueueKey, "error", err)
			}
			res.Dead++
			continue
		}

		_, execErr := resilience.WithTimeout(ctx, jobTimeout, "QUEUE_JOB_TIMEOUT", "job handler exceeded deadline",
			func(ctx context.Context) (struct{}, error) {
				return struct{}{}, handler(ctx, j.Payload)
			})

		if execErr == nil {
			out := Outcome{Status: StatusDone, Attempts: attempts}
			if err := s.backend.Record(ctx, j.QueueKey, out); err != nil {
				s.logger.ErrorContext(ctx, "failed to record job outcome", "queue_key", j.QueueKey, "error", err)
			}
			res.Processed++
			continue
		}

		s.logger.WarnContext(ctx, "job attempt failed",
			"queue_key", j.QueueKey, "type", j.Type, "attempt", attempts, "max_attempts", j.MaxAttempts, "error", execErr)

		if attempts >= j.MaxAttempts {
			out := Outcome{Status: StatusDead, Attempts: attempts, LastError: execErr.Error()}
			if err := s.backend.Record(ctx, j.QueueKey, out); err != nil {
				s.logger.ErrorContext(ctx, "failed to record job outcome", "queue_key", j.QueueKey, "error", err)
			}
			res.Dead++
			continue
		}

		out := Outcome{
			Status:        StatusRetry,
			Attempts:      attempts,
			NextAttemptAt: s.now().Add(retryDelay(attempts)),
			LastError:     execErr.Error(),
		}
		if err := s.backend.Record(ctx, j.QueueKey, out); err != nil {
			s.logger.ErrorContext(ctx, "failed to record job outcome", "queue_key", j.QueueKey, "error", err)
		}
		res.Failed++
	}
	return res, nil
}

// retryDelay is the batch processor's own capped exponential backoff,
// independent of the resilience helper: min(120s, 2^attempts seconds).
func retryDelay(attempts int) time.Duration {
	if attempts > 7 {
		return maxRetryDelay
	}
	d := time.Duration(1<<uint(attempts)) * time.Second
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.backend.Stats(ctx)
}

// adminBackend is implemented by backends whose jobs can be inspected and
// requeued in place. The broker backend is not one of them.
type adminBackend interface {
	List(ctx context.Context, status Status, limit int) ([]Job, error)
	Requeue(ctx context.Context, key string) error
}

var ErrNotInspectable = fmt.Errorf("active queue backend does not support inspection")

func (s *Service) List(ctx context.Context, status Status, limit int) ([]Job, error) {
	ab, ok := s.backend.(adminBackend)
	if !ok {
		return nil, ErrNotInspectable
	}
	return ab.List(ctx, status, limit)
}

// Requeue puts a dead job back in front of the batch processor.
func (s *Service) Requeue(ctx context.Context, key string) error {
	ab, ok := s.backend.(adminBackend)
	if !ok {
		return ErrNotInspectable
	}
	return ab.Requeue(ctx, key)
}
