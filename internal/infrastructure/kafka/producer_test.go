package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/rs/zerolog"

	"github.com/Conte777/tgvault/internal/domain/events"
)

func mockConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	return config
}

// TestNewEventProducer_EmptyBrokers tests validation of empty brokers
func TestNewEventProducer_EmptyBrokers(t *testing.T) {
	_, err := NewEventProducer(ProducerConfig{
		Brokers: []string{},
		Topic:   "tgvault.events",
		Logger:  zerolog.Nop(),
	})
	if err == nil {
		t.Fatal("Expected error for empty brokers, got nil")
	}
	if err.Error() != "no kafka brokers specified" {
		t.Errorf("Expected 'no kafka brokers specified', got %v", err)
	}
}

// TestNewEventProducer_EmptyTopic tests validation of empty topic
func TestNewEventProducer_EmptyTopic(t *testing.T) {
	_, err := NewEventProducer(ProducerConfig{
		Brokers: []string{"localhost:9092"},
		Logger:  zerolog.Nop(),
	})
	if err == nil {
		t.Fatal("Expected error for empty topic, got nil")
	}
	if err.Error() != "kafka topic is required" {
		t.Errorf("Expected 'kafka topic is required', got %v", err)
	}
}

// TestEventProducer_Publish tests message structure and partition key
func TestEventProducer_Publish(t *testing.T) {
	mockProducer := mocks.NewAsyncProducer(t, mockConfig())
	mockProducer.ExpectInputWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "tgvault.events" {
			return fmt.Errorf("unexpected topic %q", msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "channel:42" {
			return fmt.Errorf("unexpected key %q", key)
		}

		raw, _ := msg.Value.Encode()
		var event events.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			return err
		}
		if event.Type != events.NewMessage || event.Data["message_id"] != float64(7) {
			return fmt.Errorf("unexpected payload %s", raw)
		}
		return nil
	})

	p := newEventProducer(mockProducer, "tgvault.events", zerolog.Nop())

	err := p.Publish(context.Background(), events.New(events.NewMessage, 42, map[string]any{"message_id": 7}))
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if err := p.Close(); err != nil {
		t.Errorf("Expected no error on close, got %v", err)
	}
}

// TestEventProducer_PublishMultiple tests sending several events
func TestEventProducer_PublishMultiple(t *testing.T) {
	mockProducer := mocks.NewAsyncProducer(t, mockConfig())
	for i := 0; i < 3; i++ {
		mockProducer.ExpectInputAndSucceed()
	}

	p := newEventProducer(mockProducer, "tgvault.events", zerolog.Nop())
	for i := 1; i <= 3; i++ {
		event := events.New(events.BackfillProgress, 1, map[string]any{"processed": i * 100})
		if err := p.Publish(context.Background(), event); err != nil {
			t.Errorf("Failed to send event %d: %v", i, err)
		}
	}

	if err := p.Close(); err != nil {
		t.Errorf("Expected no error on close, got %v", err)
	}
}

// TestEventProducer_PublishEmptyType tests validation of event type
func TestEventProducer_PublishEmptyType(t *testing.T) {
	mockProducer := mocks.NewAsyncProducer(t, mockConfig())
	p := newEventProducer(mockProducer, "tgvault.events", zerolog.Nop())
	defer p.Close()

	err := p.Publish(context.Background(), events.Event{})
	if err == nil || err.Error() != "event type is required" {
		t.Errorf("Expected 'event type is required', got %v", err)
	}
}

// TestEventProducer_PublishCancelled tests a cancelled context
func TestEventProducer_PublishCancelled(t *testing.T) {
	mockProducer := mocks.NewAsyncProducer(t, mockConfig())
	p := newEventProducer(mockProducer, "tgvault.events", zerolog.Nop())
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Publish(ctx, events.New(events.NewMessage, 1, nil)); err == nil {
		t.Error("Expected error for cancelled context, got nil")
	}
}

// TestEventProducer_ErrorHandling tests that delivery failures surface on Close
func TestEventProducer_ErrorHandling(t *testing.T) {
	mockProducer := mocks.NewAsyncProducer(t, mockConfig())
	mockProducer.ExpectInputAndFail(sarama.ErrOutOfBrokers)

	p := newEventProducer(mockProducer, "tgvault.events", zerolog.Nop())

	if err := p.Publish(context.Background(), events.New(events.NewMessage, 1, nil)); err != nil {
		t.Errorf("Expected no error from async send, got %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := p.Close(); err == nil {
		t.Error("Expected close error due to send failure, got nil")
	}
	if p.IsHealthy() {
		t.Error("Expected closed producer to be unhealthy")
	}
}

// TestEventProducer_CloseIdempotent tests repeated Close calls
func TestEventProducer_CloseIdempotent(t *testing.T) {
	mockProducer := mocks.NewAsyncProducer(t, mockConfig())
	p := newEventProducer(mockProducer, "tgvault.events", zerolog.Nop())

	first := p.Close()
	second := p.Close()
	if first != second {
		t.Errorf("Expected identical close results, got %v and %v", first, second)
	}

	if err := p.Publish(context.Background(), events.New(events.NewMessage, 1, nil)); err == nil {
		t.Error("Expected publish on closed producer to fail")
	}
}
