package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/Conte777/tgvault/internal/domain/events"
)

const (
	// maxStoredErrors bounds the delivery errors kept for Close
	maxStoredErrors = 100
)

// EventProducer relays pipeline events to a Kafka topic with an async producer
type EventProducer struct {
	producer  sarama.AsyncProducer
	topic     string
	logger    zerolog.Logger
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
	closed    bool
	closeMu   sync.Mutex
	errors    []error
	errorsMu  sync.Mutex
}

// ProducerConfig holds configuration for the event producer
type ProducerConfig struct {
	Brokers         []string
	Topic           string
	Logger          zerolog.Logger
	MaxMessageBytes int // default 1MB
	MaxRetries      int // default 5
}

// NewEventProducer creates an async producer partitioned by event key so
// events of one channel stay ordered
func NewEventProducer(cfg ProducerConfig) (*EventProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers specified")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 1000000
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Compression = sarama.CompressionSnappy

	// idempotent mode requires acks=all and a single in-flight request
	config.Producer.Idempotent = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Net.MaxOpenRequests = 1
	config.Producer.MaxMessageBytes = cfg.MaxMessageBytes
	config.Producer.Retry.Max = cfg.MaxRetries
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.ClientID = "tgvault-events"
	config.Version = sarama.V2_6_0_0

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	p := newEventProducer(producer, cfg.Topic, cfg.Logger)

	cfg.Logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Int("max_message_bytes", cfg.MaxMessageBytes).
		Int("max_retries", cfg.MaxRetries).
		Msg("Kafka event producer initialized successfully")

	return p, nil
}

func newEventProducer(producer sarama.AsyncProducer, topic string, logger zerolog.Logger) *EventProducer {
	p := &EventProducer{
		producer: producer,
		topic:    topic,
		logger:   logger,
		errors:   make([]error, 0),
	}

	p.wg.Add(2)
	go p.handleSuccesses()
	go p.handleErrors()
	return p
}

// Publish queues the event. Delivery failures surface asynchronously in the logs and on Close.
func (p *EventProducer) Publish(ctx context.Context, event events.Event) error {
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}

	p.closeMu.Lock()
	closed := p.closed
	p.closeMu.Unlock()
	if closed {
		return fmt.Errorf("kafka producer is closed")
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled before sending: %w", ctx.Err())
	default:
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(event.Key()),
		Value:     sarama.ByteEncoder(value),
		Timestamp: event.Timestamp,
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}

	select {
	case p.producer.Input() <- msg:
		p.logger.Debug().
			Str("event", string(event.Type)).
			Str("key", event.Key()).
			Msg("Event queued for Kafka")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while sending event: %w", ctx.Err())
	}
}

func (p *EventProducer) handleSuccesses() {
	defer p.wg.Done()

	for msg := range p.producer.Successes() {
		p.logger.Debug().
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("Event sent to Kafka")
	}
}

func (p *EventProducer) handleErrors() {
	defer p.wg.Done()

	for producerErr := range p.producer.Errors() {
		p.logger.Error().
			Err(producerErr.Err).
			Str("topic", producerErr.Msg.Topic).
			Interface("key", producerErr.Msg.Key).
			Msg("Failed to send event to Kafka")

		p.errorsMu.Lock()
		if len(p.errors) < maxStoredErrors {
			p.errors = append(p.errors, producerErr.Err)
		}
		p.errorsMu.Unlock()
	}
}

// IsHealthy reports whether the producer is open and not failing persistently
func (p *EventProducer) IsHealthy() bool {
	p.closeMu.Lock()
	closed := p.closed
	p.closeMu.Unlock()
	if closed {
		return false
	}

	p.errorsMu.Lock()
	defer p.errorsMu.Unlock()
	return len(p.errors) < maxStoredErrors
}

// Close flushes pending events with a 10-second timeout
func (p *EventProducer) Close() error {
	return p.CloseWithTimeout(10 * time.Second)
}

// CloseWithTimeout flushes pending events and waits for the handlers.
// It is idempotent and returns the same error on every call.
func (p *EventProducer) CloseWithTimeout(timeout time.Duration) error {
	p.closeOnce.Do(func() {
		p.logger.Info().Dur("timeout", timeout).Msg("Closing Kafka event producer")

		p.closeMu.Lock()
		p.closed = true
		p.closeMu.Unlock()

		var errs []error
		if err := p.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close failed: %w", err))
		}

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(timeout):
			errs = append(errs, fmt.Errorf("close timeout after %s: handlers did not finish in time", timeout))
		}

		p.errorsMu.Lock()
		errorCount := len(p.errors)
		p.errorsMu.Unlock()
		if errorCount > 0 {
			errs = append(errs, fmt.Errorf("producer had %d send errors during operation", errorCount))
		}

		p.closeMu.Lock()
		switch len(errs) {
		case 0:
			p.logger.Info().Msg("Kafka event producer closed successfully")
		case 1:
			p.closeErr = errs[0]
		default:
			msg := "multiple errors during close:"
			for i, err := range errs {
				msg += fmt.Sprintf(" [%d] %v;", i+1, err)
			}
			p.closeErr = fmt.Errorf("%s", msg)
		}
		if p.closeErr != nil {
			p.logger.Error().Err(p.closeErr).Msg("Kafka event producer closed with errors")
		}
		p.closeMu.Unlock()
	})

	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	return p.closeErr
}
