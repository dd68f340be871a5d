package queue

import (
	"context"
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusRetry      Status = "RETRY"
	StatusDone       Status = "DONE"
	StatusDead       Status = "DEAD"
)

// Job kinds. The payload is opaque to the queue; only the handler registered
// for a kind knows how to decode it.
const (
	TypeOrderEvent  = "ORDER_EVENT"
	TypeTelegram    = "TELEGRAM"
	TypeSheets      = "SHEETS"
	TypePush        = "PUSH"
	TypeIntegration = "INTEGRATION"
)

type Job struct {
	QueueKey      string          `json:"queue_key"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Status        Status          `json:"status"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LockedAt      *time.Time      `json:"locked_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// HandlerFunc executes one job kind. It returns an error on failure;
// decoding and validating the payload is entirely its business.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

// Stats holds per-status job counts for the active backend.
type Stats struct {
	Mode   string         `json:"mode"`
	Counts map[Status]int `json:"counts"`
	Total  int            `json:"total"`
}

// Result aggregates one ProcessBatch pass.
type Result struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Dead      int `json:"dead"`
}

// Outcome is the state transition a backend records after an execution
// attempt.
type Outcome struct {
	Status        Status
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
}

// Backend is the storage contract behind the queue: an external broker, a
// durable SQL table, or an in-process fallback.
type Backend interface {
	Mode() string
	// Enqueue upserts by QueueKey: payload and max_attempts refresh on an
	// existing row, status and attempts are never reset.
	Enqueue(ctx context.Context, j *Job) error
	// MarkDone is the terminal transition used by the inline dispatch path:
	// DONE when errMsg is empty, otherwise DEAD with attempts incremented.
	MarkDone(ctx context.Context, key, errMsg string) error
	// ClaimDue returns up to limit jobs in PENDING/RETRY whose
	// next_attempt_at has passed, oldest first, flipping them to PROCESSING.
	ClaimDue(ctx context.Context, limit int) ([]Job, error)
	Record(ctx context.Context, key string, out Outcome) error
	Stats(ctx context.Context) (Stats, error)
}
