package resilience

import (
	"context"
	"sync"
	"time"

	"storefront/backend/internal/apperr"
)

type BreakerState string

const (
	StateClosed   BreakerState = "CLOSED"
	StateOpen     BreakerState = "OPEN"
	StateHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerSettings configures every circuit in a registry.
type BreakerSettings struct {
	FailureThreshold int
	Cooldown         time.Duration
	SuccessThreshold int
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
		SuccessThreshold: 2,
	}
}

type circuit struct {
	failures          int
	openedAt          *time.Time
	halfOpenSuccesses int
}

// Snapshot is a pure read of one circuit. HALF_OPEN is derived: the circuit
// stores only openedAt, and half-open means the cooldown has elapsed since.
type Snapshot struct {
	State             BreakerState
	Failures          int
	HalfOpenSuccesses int
	OpenedAt          *time.Time
}

// Breakers is a process-local registry of per-key circuits. Circuits are
// created lazily on first use and live for the process lifetime; state is
// never shared across instances.
type Breakers struct {
	mu       sync.Mutex
	settings BreakerSettings
	circuits map[string]*circuit
	now      func() time.Time
}

func NewBreakers(settings BreakerSettings) *Breakers {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 60 * time.Second
	}
	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = 2
	}
	return &Breakers{
		settings: settings,
		circuits: make(map[string]*circuit),
		now:      time.Now,
	}
}

func (b *Breakers) stateLocked(c *circuit, now time.Time) BreakerState {
	if c.openedAt == nil {
		return StateClosed
	}
	if now.Sub(*c.openedAt) < b.settings.Cooldown {
		return StateOpen
	}
	return StateHalfOpen
}

// State reads the circuit for key without side effects. An unknown key reads
// as a fresh closed circuit.
func (b *Breakers) State(key string) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return Snapshot{State: StateClosed}
	}
	snap := Snapshot{
		State:             b.stateLocked(c, b.now()),
		Failures:          c.failures,
		HalfOpenSuccesses: c.halfOpenSuccesses,
	}
	if c.openedAt != nil {
		t := *c.openedAt
		snap.OpenedAt = &t
	}
	return snap
}

// Execute wraps a single call to fn with the circuit for key. While the
// circuit is open the call fails fast with a CIRCUIT_OPEN error and fn is
// never invoked. Execute is the only mutator of circuit state.
func (b *Breakers) Execute(ctx context.Context, key string, fn func(context.Context) error) error {
	b.mu.Lock()
	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}
	state := b.stateLocked(c, b.now())
	if state == StateOpen {
		b.mu.Unlock()
		return apperr.CircuitOpen(key)
	}
	b.mu.Unlock()

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		c.halfOpenSuccesses = 0
		if state == StateHalfOpen {
			// A probe failure restarts the cooldown from now.
			t := b.now()
			c.openedAt = &t
			return err
		}
		c.failures++
		if c.failures >= b.settings.FailureThreshold && c.openedAt == nil {
			t := b.now()
			c.openedAt = &t
		}
		return err
	}

	if state == StateHalfOpen {
		c.halfOpenSuccesses++
		if c.halfOpenSuccesses >= b.settings.SuccessThreshold {
			c.failures = 0
			c.openedAt = nil
			c.halfOpenSuccesses = 0
		}
		return nil
	}

	c.failures = 0
	return nil
}
