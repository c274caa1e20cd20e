package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaBus implements Bus over segmentio/kafka-go
type KafkaBus struct {
	config    Config
	writer    *kafka.Writer
	readers   map[string]*kafka.Reader
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	connected bool
}

// NewKafkaBus creates an unconnected Kafka bus
func NewKafkaBus(config Config) *KafkaBus {
	return &KafkaBus{
		config:  config,
		readers: make(map[string]*kafka.Reader),
	}
}

// Connect prepares the writer. kafka-go dials lazily, so this never blocks.
func (b *KafkaBus) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.connected {
		return nil
	}
	if len(b.config.Brokers) == 0 {
		return fmt.Errorf("kafka bus requires at least one broker")
	}

	b.ctx, b.cancel = context.WithCancel(ctx)
	b.writer = &kafka.Writer{
		Addr:         kafka.TCP(b.config.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchSize:    b.config.Producer.BatchSize,
		BatchTimeout: b.config.Producer.BatchTimeout,
		Compression:  compressionCodec(b.config.Producer.CompressionType),
		RequiredAcks: requiredAcks(b.config.Producer.Acks),
	}
	b.connected = true
	return nil
}

// Topic returns the fully qualified topic for an event type
func (b *KafkaBus) Topic(t EventType) string {
	return b.config.TopicPrefix + TopicFor(t)
}

// Publish writes the event to its topic keyed by event id
func (b *KafkaBus) Publish(ctx context.Context, evt Event) error {
	b.mu.RLock()
	connected := b.connected
	b.mu.RUnlock()
	if !connected {
		return fmt.Errorf("kafka bus not connected")
	}

	msg, err := encodeMessage(b.Topic(evt.Type), evt)
	if err != nil {
		return err
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe starts a consumer goroutine for a fully qualified topic
func (b *KafkaBus) Subscribe(_ context.Context, topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return fmt.Errorf("kafka bus not connected")
	}
	if _, exists := b.readers[topic]; exists {
		return fmt.Errorf("already subscribed to topic: %s", topic)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        b.config.Brokers,
		Topic:          topic,
		GroupID:        b.config.Consumer.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: time.Second,
		StartOffset:    startOffset(b.config.Consumer.AutoOffsetReset),
	})
	b.readers[topic] = reader

	b.wg.Add(1)
	go b.consume(reader, handler)
	return nil
}

// Close stops consumers and flushes the writer
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return nil
	}
	b.cancel()
	b.wg.Wait()

	for topic, reader := range b.readers {
		if err := reader.Close(); err != nil {
			return fmt.Errorf("failed to close reader for topic %s: %w", topic, err)
		}
	}
	if err := b.writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}

	b.connected = false
	b.readers = make(map[string]*kafka.Reader)
	return nil
}

func (b *KafkaBus) consume(reader *kafka.Reader, handler Handler) {
	defer b.wg.Done()

	for {
		msg, err := reader.FetchMessage(b.ctx)
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			continue
		}

		evt, err := decodeMessage(msg)
		if err != nil {
			// poison message; commit so it is not redelivered forever
			_ = reader.CommitMessages(b.ctx, msg)
			continue
		}
		if err := handler(b.ctx, evt); err != nil {
			continue
		}
		_ = reader.CommitMessages(b.ctx, msg)
	}
}

func encodeMessage(topic string, evt Event) (kafka.Message, error) {
	if err := evt.Validate(); err != nil {
		return kafka.Message{}, fmt.Errorf("invalid event: %w", err)
	}
	value, err := evt.ToJSON()
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to serialize event: %w", err)
	}

	return kafka.Message{
		Topic: topic,
		Key:   []byte(evt.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
			{Key: "source", Value: []byte(evt.Source)},
			{Key: "correlation_id", Value: []byte(evt.CorrelationID)},
			{Key: "timestamp", Value: []byte(evt.Timestamp.Format(time.RFC3339Nano))},
		},
	}, nil
}

func decodeMessage(msg kafka.Message) (Event, error) {
	var evt Event
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	return evt, evt.Validate()
}

func compressionCodec(compression string) kafka.Compression {
	switch compression {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return 0
	}
}

func requiredAcks(acks string) kafka.RequiredAcks {
	switch acks {
	case "0":
		return kafka.RequireNone
	case "1":
		return kafka.RequireOne
	default:
		return kafka.RequireAll
	}
}

func startOffset(offset string) int64 {
	if offset == "latest" {
		return kafka.LastOffset
	}
	return kafka.FirstOffset
}
