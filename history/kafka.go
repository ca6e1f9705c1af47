package history

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/velocitydb/velocity/encoding"
)

const (
	DefaultKafkaBatchSize    = 100
	DefaultKafkaBatchBytes   = 1 << 20 // 1MB
	DefaultKafkaWriteTimeout = 10 * time.Second
)

// KafkaConfig holds configuration for KafkaSink
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchBytes   int64
	RequiredAcks kafka.RequiredAcks
	WriteTimeout time.Duration
	Format       encoding.Format
}

// DefaultKafkaConfig returns a KafkaConfig that waits for every replica.
func DefaultKafkaConfig(brokers []string, topic string) KafkaConfig {
	return KafkaConfig{
		Brokers:      brokers,
		Topic:        topic,
		BatchSize:    DefaultKafkaBatchSize,
		BatchBytes:   DefaultKafkaBatchBytes,
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: DefaultKafkaWriteTimeout,
		Format:       encoding.JSON,
	}
}

// KafkaSink publishes entries to a Kafka topic keyed by connection id, so a
// connection's history stays ordered within one partition.
type KafkaSink struct {
	writer  *kafka.Writer
	format  encoding.Format
	timeout time.Duration
}

// NewKafkaSink creates the writer. Brokers are dialed lazily on first write.
func NewKafkaSink(config KafkaConfig) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka sink requires a topic")
	}
	if config.BatchSize == 0 {
		config.BatchSize = DefaultKafkaBatchSize
	}
	if config.BatchBytes == 0 {
		config.BatchBytes = DefaultKafkaBatchBytes
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultKafkaWriteTimeout
	}
	if config.Format == "" {
		config.Format = encoding.JSON
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              config.BatchSize,
		BatchBytes:             config.BatchBytes,
		RequiredAcks:           config.RequiredAcks,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}

	return &KafkaSink{writer: writer, format: config.Format, timeout: config.WriteTimeout}, nil
}

// Topic returns the destination topic.
func (k *KafkaSink) Topic() string {
	return k.writer.Topic
}

func (k *KafkaSink) Write(e Entry) error {
	msg, err := encodeKafkaMessage(k.format, e)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", k.writer.Topic, err)
	}
	return nil
}

// Close flushes pending messages and releases the writer.
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

func encodeKafkaMessage(format encoding.Format, e Entry) (kafka.Message, error) {
	data, err := format.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode history entry: %w", err)
	}
	return kafka.Message{
		Key:   []byte(e.ConnectionID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte(format.ContentType())},
		},
	}, nil
}
