package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened
type EventType string

const (
	EventActivityLogged    EventType = "activity.logged"
	EventAgentSpawned      EventType = "agent.spawned"
	EventSwarmRegistered   EventType = "swarm.registered"
	EventSwarmRecalled     EventType = "swarm.recalled"
	EventMissionTransition EventType = "mission.transition"
	EventPipelineCompleted EventType = "pipeline.completed"
	EventPipelineFailed    EventType = "pipeline.failed"
)

// Standard topic names, before the configured prefix is applied
const (
	TopicActivity = "activity"
	TopicAgents   = "agents"
	TopicSwarms   = "swarms"
	TopicMissions = "missions"
	TopicPipeline = "pipeline"
)

// TopicFor maps an event type onto its topic
func TopicFor(t EventType) string {
	switch t {
	case EventAgentSpawned:
		return TopicAgents
	case EventSwarmRegistered, EventSwarmRecalled:
		return TopicSwarms
	case EventMissionTransition:
		return TopicMissions
	case EventPipelineCompleted, EventPipelineFailed:
		return TopicPipeline
	default:
		return TopicActivity
	}
}

// Event is the envelope published on the bus
type Event struct {
	ID            string                 `json:"id"`
	Type          EventType              `json:"type"`
	Source        string                 `json:"source"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
}

// NewEvent builds an event with a fresh id and timestamp
func NewEvent(t EventType, source string, payload map[string]interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      t,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Validate checks that the envelope is publishable
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	return nil
}

// ToJSON serializes the event
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Handler processes a consumed event
type Handler func(ctx context.Context, evt Event) error

// Bus publishes and consumes legion events
type Bus interface {
	Publish(ctx context.Context, evt Event) error
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// ProducerConfig holds configuration for the Kafka producer
type ProducerConfig struct {
	Acks            string        `yaml:"acks"`
	BatchSize       int           `yaml:"batch_size"`
	BatchTimeout    time.Duration `yaml:"batch_timeout"`
	CompressionType string        `yaml:"compression_type"`
}

// ConsumerConfig holds configuration for Kafka consumers
type ConsumerConfig struct {
	GroupID         string `yaml:"group_id"`
	AutoOffsetReset string `yaml:"auto_offset_reset"`
}

// Config holds event bus configuration
type Config struct {
	Enabled     bool           `yaml:"enabled"`
	Brokers     []string       `yaml:"brokers"`
	TopicPrefix string         `yaml:"topic_prefix"`
	Producer    ProducerConfig `yaml:"producer"`
	Consumer    ConsumerConfig `yaml:"consumer"`
	Breaker     BreakerConfig  `yaml:"breaker"`
}

// DefaultConfig returns a disabled bus pointing at a local broker
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		Brokers:     []string{"localhost:9092"},
		TopicPrefix: "legion.",
		Producer: ProducerConfig{
			Acks:            "all",
			BatchSize:       100,
			BatchTimeout:    10 * time.Millisecond,
			CompressionType: "snappy",
		},
		Consumer: ConsumerConfig{
			GroupID:         "legion-default",
			AutoOffsetReset: "earliest",
		},
		Breaker: DefaultBreakerConfig(),
	}
}

// NopBus drops every event
type NopBus struct{}

func (NopBus) Publish(context.Context, Event) error             { return nil }
func (NopBus) Subscribe(context.Context, string, Handler) error { return nil }
func (NopBus) Close() error                                     { return nil }
