package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Conte777/tgvault/internal/infrastructure/metrics"
	"github.com/rs/zerolog"
)

// Relay is a named external transport
type Relay struct {
	Name      string
	Publisher Publisher
}

// Bus fans events out to every relay and to in-process subscribers.
// Delivery is best effort: a failing relay never blocks ingestion.
type Bus struct {
	relays  []Relay
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewBus creates an event bus over the given relays
func NewBus(relays []Relay, m *metrics.Metrics, logger zerolog.Logger) *Bus {
	return &Bus{
		relays:  relays,
		metrics: m,
		logger:  logger.With().Str("component", "event_bus").Logger(),
		subs:    make(map[int]chan Event),
	}
}

// Publish delivers event to every relay and subscriber.
// Relay failures are logged, counted and returned joined.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	start := time.Now()

	var errs []error
	for _, r := range b.relays {
		if err := r.Publisher.Publish(ctx, event); err != nil {
			b.metrics.RecordEventPublishError(r.Name)
			b.logger.Warn().
				Err(err).
				Str("relay", r.Name).
				Str("event", string(event.Type)).
				Msg("Failed to relay event")
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, err))
			continue
		}
		b.metrics.RecordEventPublished(r.Name, string(event.Type))
	}

	b.mu.RLock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.Debug().Str("event", string(event.Type)).Msg("Subscriber buffer full, event dropped")
		}
	}
	b.mu.RUnlock()

	b.metrics.RecordEventLatency(time.Since(start).Seconds())
	return errors.Join(errs...)
}

// Subscribe returns a buffered channel receiving every published event and a
// function that closes it
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, max(buffer, 1))

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Emit publishes and logs failures; for callers that must not stop on notification errors
func Emit(ctx context.Context, p Publisher, logger zerolog.Logger, event Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		logger.Debug().Err(err).Str("event", string(event.Type)).Msg("Event not fully delivered")
	}
}
