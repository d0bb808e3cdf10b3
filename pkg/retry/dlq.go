package retry

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// DLQMessage is a message that exhausted its delivery attempts
type DLQMessage struct {
	ID             string          `json:"id"`
	OriginalTopic  string          `json:"original_topic"`
	OriginalKey    string          `json:"original_key"`
	Payload        json.RawMessage `json:"payload"`
	Error          string          `json:"error"`
	Attempts       int             `json:"attempts"`
	FirstAttemptAt time.Time       `json:"first_attempt_at"`
	MovedToDLQAt   time.Time       `json:"moved_to_dlq_at"`
	Source         string          `json:"source"`
}

// DLQPublisher publishes failed messages to a dead letter queue
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, msg *DLQMessage) error
	GetDLQTopic(originalTopic string) string
}

// DLQConfig contains configuration for DLQ publishing
type DLQConfig struct {
	// TopicSuffix is appended to the original topic (default: ".dlq")
	TopicSuffix string
	// Source identifies the publishing process
	Source string
}

// DefaultDLQConfig returns default DLQ configuration
func DefaultDLQConfig() *DLQConfig {
	return &DLQConfig{
		TopicSuffix: ".dlq",
		Source:      "unknown",
	}
}

// JSONProducer is the subset of the Kafka producer the DLQ needs
type JSONProducer interface {
	ProduceJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error
}

// KafkaDLQPublisher publishes failed messages to Kafka DLQ topics
type KafkaDLQPublisher struct {
	producer JSONProducer
	config   *DLQConfig
}

// NewKafkaDLQPublisher creates a new Kafka DLQ publisher
func NewKafkaDLQPublisher(producer JSONProducer, config *DLQConfig) *KafkaDLQPublisher {
	if config == nil {
		config = DefaultDLQConfig()
	}
	return &KafkaDLQPublisher{
		producer: producer,
		config:   config,
	}
}

// PublishToDLQ publishes a message to the dead letter queue
func (p *KafkaDLQPublisher) PublishToDLQ(ctx context.Context, msg *DLQMessage) error {
	if msg == nil {
		return errors.New("DLQ message cannot be nil")
	}

	msg.MovedToDLQAt = time.Now()
	msg.Source = p.config.Source

	headers := map[string]string{
		"content_type":   "application/json",
		"original_topic": msg.OriginalTopic,
		"error":          msg.Error,
		"attempts":       strconv.Itoa(msg.Attempts),
		"source":         msg.Source,
	}

	return p.producer.ProduceJSON(ctx, p.GetDLQTopic(msg.OriginalTopic), msg.OriginalKey, msg, headers)
}

// GetDLQTopic returns the DLQ topic name for a given original topic
func (p *KafkaDLQPublisher) GetDLQTopic(originalTopic string) string {
	return originalTopic + p.config.TopicSuffix
}

// NoOpDLQPublisher drops dead letters, used when no broker is configured
type NoOpDLQPublisher struct{}

// PublishToDLQ does nothing
func (NoOpDLQPublisher) PublishToDLQ(ctx context.Context, msg *DLQMessage) error {
	return nil
}

// GetDLQTopic returns the DLQ topic name
func (NoOpDLQPublisher) GetDLQTopic(originalTopic string) string {
	return originalTopic + DefaultDLQConfig().TopicSuffix
}
