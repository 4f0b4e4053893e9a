package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GEMINI-Breeding/gemini-engine/internal/config"
	"github.com/GEMINI-Breeding/gemini-engine/internal/registry"
)

const (
	defaultTopicPrefix   = "gemini.records."
	defaultConsumerGroup = "gemini-streamer"
	defaultBatchSize     = 100
	defaultFlushInterval = 2 * time.Second
)

// Sentinel errors for configuration validation failures.
var (
	ErrNoBrokers       = errors.New("at least one Kafka broker is required")
	ErrEmptyGroup      = errors.New("consumer group cannot be empty")
	ErrInvalidBatch    = errors.New("batch size must be positive")
	ErrInvalidInterval = errors.New("flush interval must be positive")
)

// StreamerConfig holds Kafka consumer configuration. Each record kind has its
// own topic, named by appending the kind to the topic prefix.
type StreamerConfig struct {
	Brokers       []string
	TopicPrefix   string
	ConsumerGroup string

	// BatchSize is the number of buffered messages that triggers a flush.
	BatchSize int

	// FlushInterval bounds how long a partial batch may wait.
	FlushInterval time.Duration
}

// LoadStreamerConfig loads Kafka consumer configuration from environment
// variables with fallback to defaults.
func LoadStreamerConfig() *StreamerConfig {
	return &StreamerConfig{
		Brokers:       config.ParseCommaSeparatedList(config.GetEnvStr("GEMINI_KAFKA_BROKERS", "localhost:9092")),
		TopicPrefix:   config.GetEnvStr("GEMINI_KAFKA_TOPIC_PREFIX", defaultTopicPrefix),
		ConsumerGroup: config.GetEnvStr("GEMINI_KAFKA_CONSUMER_GROUP", defaultConsumerGroup),
		BatchSize:     config.GetEnvInt("GEMINI_STREAM_BATCH_SIZE", defaultBatchSize),
		FlushInterval: config.GetEnvDuration("GEMINI_STREAM_FLUSH_INTERVAL", defaultFlushInterval),
	}
}

// Validate checks that the configuration is usable.
func (c *StreamerConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrNoBrokers
	}

	if c.ConsumerGroup == "" {
		return ErrEmptyGroup
	}

	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBatch, c.BatchSize)
	}

	if c.FlushInterval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, c.FlushInterval)
	}

	return nil
}

// Topics returns the per-kind topic names the consumer subscribes to.
func (c *StreamerConfig) Topics() []string {
	kinds := append([]registry.Kind{}, registry.ProducerKinds...)
	kinds = append(kinds, registry.KindDataset)

	topics := make([]string, len(kinds))
	for i, kind := range kinds {
		topics[i] = c.TopicPrefix + kind.String()
	}

	return topics
}

// kindFromTopic recovers the record kind from a topic name.
func (c *StreamerConfig) kindFromTopic(topic string) (registry.Kind, bool) {
	kind := registry.Kind(strings.TrimPrefix(topic, c.TopicPrefix))

	return kind, kind.IsValid()
}
