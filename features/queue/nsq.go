package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

// Topic carrying job envelopes when the broker backend is active.
const JobsTopic = "integration.jobs"

// Publisher is the narrow slice of *nsq.Producer the backend needs.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Envelope is the wire shape published to the broker. The queue key rides
// along so the consumer side can deduplicate and correlate.
type Envelope struct {
	QueueKey      string          `json:"queue_key"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	MaxAttempts   int             `json:"max_attempts"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NSQBackend hands jobs to an external broker. Retry scheduling is owned by
// the broker: a consumer error requeues the message with backoff until the
// attempt budget is spent, so ClaimDue and Record have nothing to do here.
type NSQBackend struct {
	pub Publisher
}

func NewNSQBackend(pub Publisher) *NSQBackend {
	return &NSQBackend{pub: pub}
}

func (b *NSQBackend) Mode() string { return "nsq" }

func (b *NSQBackend) Enqueue(ctx context.Context, j *Job) error {
	body, err := json.Marshal(Envelope{
		QueueKey:    j.QueueKey,
		Type:        j.Type,
		Payload:     j.Payload,
		MaxAttempts: j.MaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("marshal job envelope: %w", err)
	}
	return b.pub.Publish(JobsTopic, body)
}

func (b *NSQBackend) MarkDone(ctx context.Context, key, errMsg string) error {
	// Delivery state lives in the broker, not in a row we can update.
	return nil
}

func (b *NSQBackend) ClaimDue(ctx context.Context, limit int) ([]Job, error) {
	return nil, nil
}

func (b *NSQBackend) Record(ctx context.Context, key string, out Outcome) error {
	return nil
}

func (b *NSQBackend) Stats(ctx context.Context) (Stats, error) {
	return Stats{Mode: b.Mode(), Counts: make(map[Status]int)}, nil
}
