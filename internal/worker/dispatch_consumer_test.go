package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"storefront/backend/features/queue"
)

func envelopeBody(t *testing.T, env queue.Envelope) []byte {
	t.Helper()
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return body
}

func TestDispatchConsumer_ExecutesHandler(t *testing.T) {
	var calls atomic.Int32
	var gotPayload string
	c := NewDispatchConsumer(map[string]queue.HandlerFunc{
		queue.TypeTelegram: func(ctx context.Context, payload json.RawMessage) error {
			calls.Add(1)
			gotPayload = string(payload)
			return nil
		},
	})

	body := envelopeBody(t, queue.Envelope{
		QueueKey: "order:1",
		Type:     queue.TypeTelegram,
		Payload:  json.RawMessage(`{"text":"hi"}`),
	})
	err := c.HandleMessage(&nsq.Message{Body: body})

	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.JSONEq(t, `{"text":"hi"}`, gotPayload)
}

func TestDispatchConsumer_DropsGarbage(t *testing.T) {
	c := NewDispatchConsumer(map[string]queue.HandlerFunc{})

	t.Run("empty body", func(t *testing.T) {
		assert.NoError(t, c.HandleMessage(&nsq.Message{Body: nil}))
	})

	t.Run("invalid json", func(t *testing.T) {
		assert.NoError(t, c.HandleMessage(&nsq.Message{Body: []byte("invalid json")}))
	})

	t.Run("missing type", func(t *testing.T) {
		body := envelopeBody(t, queue.Envelope{QueueKey: "order:1"})
		assert.NoError(t, c.HandleMessage(&nsq.Message{Body: body}))
	})

	t.Run("unknown type", func(t *testing.T) {
		body := envelopeBody(t, queue.Envelope{QueueKey: "order:1", Type: "MYSTERY"})
		assert.NoError(t, c.HandleMessage(&nsq.Message{Body: body}))
	})
}

func TestDispatchConsumer_RequeuesWithinBudget(t *testing.T) {
	c := NewDispatchConsumer(map[string]queue.HandlerFunc{
		queue.TypeSheets: func(ctx context.Context, payload json.RawMessage) error {
			return errors.New("sheets unavailable")
		},
	})
	body := envelopeBody(t, queue.Envelope{
		QueueKey:    "order:2",
		Type:        queue.TypeSheets,
		MaxAttempts: 3,
	})

	err := c.HandleMessage(&nsq.Message{Body: body, Attempts: 1})
	assert.Error(t, err, "failures under the attempt budget must requeue")
}

func TestDispatchConsumer_DeadLettersAtBudget(t *testing.T) {
	c := NewDispatchConsumer(map[string]queue.HandlerFunc{
		queue.TypeSheets: func(ctx context.Context, payload json.RawMessage) error {
			return errors.New("sheets unavailable")
		},
	})
	body := envelopeBody(t, queue.Envelope{
		QueueKey:    "order:3",
		Type:        queue.TypeSheets,
		MaxAttempts: 3,
	})

	err := c.HandleMessage(&nsq.Message{Body: body, Attempts: 3})
	assert.NoError(t, err, "exhausted attempts must not requeue")
}

func TestDispatchConsumer_DefaultBudgetWhenUnset(t *testing.T) {
	c := NewDispatchConsumer(map[string]queue.HandlerFunc{
		queue.TypeSheets: func(ctx context.Context, payload json.RawMessage) error {
			return errors.New("sheets unavailable")
		},
	})
	body := envelopeBody(t, queue.Envelope{QueueKey: "order:4", Type: queue.TypeSheets})

	assert.Error(t, c.HandleMessage(&nsq.Message{Body: body, Attempts: uint16(queue.DefaultMaxAttempts - 1)}))
	assert.NoError(t, c.HandleMessage(&nsq.Message{Body: body, Attempts: uint16(queue.DefaultMaxAttempts)}))
}
