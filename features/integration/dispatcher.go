package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"storefront/backend/features/queue"
	"storefront/backend/internal/resilience"
)

// Business event types the storefront raises.
const (
	EventOrderCreated  = "order.created"
	EventUserSignup    = "user.signup"
	EventNewSubscriber = "newsletter.subscribed"
)

// TelegramSender delivers a text notification. Implementations carry their
// own internal timeout and retry; the dispatcher treats the returned error
// as final for this attempt.
type TelegramSender interface {
	Send(ctx context.Context, text string) error
}

// SheetsAppender appends one row to a spreadsheet tab. Same contract:
// internal timeout/retries belong to the implementation.
type SheetsAppender interface {
	Append(ctx context.Context, tab string, row []string) error
}

// Dispatcher is the pipeline entry point business logic calls. FireEvent is
// fire-and-forget: the triggering request never waits on, or fails because
// of, notification delivery.
type Dispatcher struct {
	queue    *queue.Service
	breakers *resilience.Breakers
	telegram TelegramSender
	sheets   SheetsAppender
	logger   *slog.Logger

	wg sync.WaitGroup
}

func NewDispatcher(q *queue.Service, breakers *resilience.Breakers, telegram TelegramSender, sheets SheetsAppender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:    q,
		breakers: breakers,
		telegram: telegram,
		sheets:   sheets,
		logger:   logger,
	}
}

// FireEvent enqueues a durable record for the event and immediately attempts
// delivery to every configured sink. It returns before any of that happens;
// failures are logged and dead-lettered, never propagated to the caller.
func (d *Dispatcher) FireEvent(eventType string, payload map[string]any) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := d.dispatch(ctx, eventType, payload); err != nil {
			d.logger.Error("integration dispatch failed", "event_type", eventType, "error", err)
		}
	}()
}

// Wait blocks until in-flight dispatches finish; used by shutdown and tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context, eventType string, payload map[string]any) error {
	key := idempotencyKey(eventType, payload)

	record := map[string]any{"event_type": eventType, "payload": payload}
	queueKey, mode, err := d.queue.Enqueue(ctx, queue.TypeIntegration, record, key, queue.DefaultMaxAttempts)
	if err != nil {
		return fmt.Errorf("enqueue event record: %w", err)
	}
	d.logger.Info("integration event enqueued", "event_type", eventType, "queue_key", queueKey, "mode", mode)

	if errs := d.deliver(ctx, eventType, payload); len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Error())
		}
		joined := strings.Join(msgs, "; ")
		if err := d.queue.MarkDone(ctx, queueKey, joined); err != nil {
			return fmt.Errorf("mark job dead: %w", err)
		}
		d.logger.Warn("integration delivery failed", "event_type", eventType, "queue_key", queueKey, "error", joined)
		return nil
	}

	if err := d.queue.MarkDone(ctx, queueKey, ""); err != nil {
		return fmt.Errorf("mark job done: %w", err)
	}
	return nil
}

// deliver fans out to every configured sink in parallel, all-settled: one
// sink's failure never blocks another's attempt. Each sink call runs under
// its circuit breaker.
func (d *Dispatcher) deliver(ctx context.Context, eventType string, payload map[string]any) []error {
	type attempt struct {
		name string
		run  func(context.Context) error
	}

	var attempts []attempt
	if d.telegram != nil {
		text := formatMessage(eventType, payload)
		attempts = append(attempts, attempt{
			name: "telegram",
			run: func(ctx context.Context) error {
				return d.breakers.Execute(ctx, "telegram", func(ctx context.Context) error {
					return d.telegram.Send(ctx, text)
				})
			},
		})
	}
	if d.sheets != nil {
		tab, row := formatRow(eventType, payload)
		attempts = append(attempts, attempt{
			name: "sheets",
			run: func(ctx context.Context) error {
				return d.breakers.Execute(ctx, "sheets", func(ctx context.Context) error {
					return d.sheets.Append(ctx, tab, row)
				})
			},
		})
	}

	errs := make([]error, len(attempts))
	var wg sync.WaitGroup
	for i, a := range attempts {
		wg.Add(1)
		go func(i int, a attempt) {
			defer wg.Done()
			if err := a.run(ctx); err != nil {
				errs[i] = fmt.Errorf("%s: %w", a.name, err)
			}
		}(i, a)
	}
	wg.Wait()

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	return failed
}

// idempotencyKey derives a stable key from the event's natural identifier so
// the same business event never enqueues twice. Events without one get a
// random key and forgo deduplication.
func idempotencyKey(eventType string, payload map[string]any) string {
	switch eventType {
	case EventOrderCreated:
		if id := stringField(payload, "order_id"); id != "" {
			return "order:" + id
		}
	case EventUserSignup:
		if id := stringField(payload, "user_id"); id != "" {
			return "user:" + id
		}
	case EventNewSubscriber:
		if id := stringField(payload, "subscriber_id"); id != "" {
			return "subscriber:" + id
		}
		if email := stringField(payload, "email"); email != "" {
			return "subscriber:" + email
		}
	}
	return eventType + ":" + uuid.New().String()
}

func stringField(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	switch v := payload[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	case int:
		return fmt.Sprintf("%d", v)
	}
	return ""
}

func formatMessage(eventType string, payload map[string]any) string {
	switch eventType {
	case EventOrderCreated:
		return fmt.Sprintf("New order %s: %s (%s)",
			stringField(payload, "order_id"), stringField(payload, "customer_name"), stringField(payload, "total"))
	case EventUserSignup:
		return fmt.Sprintf("New signup: %s <%s>",
			stringField(payload, "name"), stringField(payload, "email"))
	case EventNewSubscriber:
		return fmt.Sprintf("New subscriber: %s", stringField(payload, "email"))
	}
	body, _ := json.Marshal(payload)
	return fmt.Sprintf("Event %s: %s", eventType, body)
}

func formatRow(eventType string, payload map[string]any) (string, []string) {
	ts := time.Now().UTC().Format(time.RFC3339)
	switch eventType {
	case EventOrderCreated:
		return "Orders", []string{ts, stringField(payload, "order_id"), stringField(payload, "customer_name"), stringField(payload, "total")}
	case EventUserSignup:
		return "Signups", []string{ts, stringField(payload, "user_id"), stringField(payload, "name"), stringField(payload, "email")}
	case EventNewSubscriber:
		return "Subscribers", []string{ts, stringField(payload, "email")}
	}
	body, _ := json.Marshal(payload)
	return "Events", []string{ts, eventType, string(body)}
}
