package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"storefront/backend/features/queue"
)

// Handlers returns the job-type handler map the batch processor runs with.
// These re-deliver jobs that the inline attempt never reached (crash
// recovery) or that an operator requeued from the dead-letter list.
func (d *Dispatcher) Handlers() map[string]queue.HandlerFunc {
	return map[string]queue.HandlerFunc{
		queue.TypeIntegration: d.handleIntegration,
		queue.TypeOrderEvent:  d.handleOrderEvent,
		queue.TypeTelegram:    d.handleTelegram,
		queue.TypeSheets:      d.handleSheets,
		queue.TypePush:        d.handlePush,
	}
}

// handleIntegration re-runs the full sink fan-out for a recorded event.
func (d *Dispatcher) handleIntegration(ctx context.Context, payload json.RawMessage) error {
	var record struct {
		EventType string         `json:"event_type"`
		Payload   map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(payload, &record); err != nil {
		return fmt.Errorf("decode integration payload: %w", err)
	}
	if record.EventType == "" {
		return errors.New("integration payload missing event_type")
	}
	if errs := d.deliver(ctx, record.EventType, record.Payload); len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (d *Dispatcher) handleOrderEvent(ctx context.Context, payload json.RawMessage) error {
	var order map[string]any
	if err := json.Unmarshal(payload, &order); err != nil {
		return fmt.Errorf("decode order payload: %w", err)
	}
	if errs := d.deliver(ctx, EventOrderCreated, order); len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (d *Dispatcher) handleTelegram(ctx context.Context, payload json.RawMessage) error {
	if d.telegram == nil {
		return errors.New("telegram sink not configured")
	}
	var msg struct {
		Text string `json:"text"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode telegram payload: %w", err)
	}
	text := msg.Text
	if text == "" {
		text = msg.Msg
	}
	if text == "" {
		return errors.New("telegram payload missing text")
	}
	return d.breakers.Execute(ctx, "telegram", func(ctx context.Context) error {
		return d.telegram.Send(ctx, text)
	})
}

func (d *Dispatcher) handleSheets(ctx context.Context, payload json.RawMessage) error {
	if d.sheets == nil {
		return errors.New("sheets sink not configured")
	}
	var req struct {
		Tab string   `json:"tab"`
		Row []string `json:"row"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode sheets payload: %w", err)
	}
	if req.Tab == "" || len(req.Row) == 0 {
		return errors.New("sheets payload missing tab or row")
	}
	return d.breakers.Execute(ctx, "sheets", func(ctx context.Context) error {
		return d.sheets.Append(ctx, req.Tab, req.Row)
	})
}

// handlePush acknowledges push jobs without a provider; the mobile push
// integration never shipped, so these drain instead of dead-lettering.
func (d *Dispatcher) handlePush(ctx context.Context, payload json.RawMessage) error {
	d.logger.InfoContext(ctx, "push delivery skipped, no provider configured")
	return nil
}
