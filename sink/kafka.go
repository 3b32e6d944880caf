package sink

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// KafkaSink writes each record as its own message to a single topic.
type KafkaSink struct {
	writer *kafka.Writer
}

type KafkaConfig struct {
	Brokers          []string
	Topic            string
	RequiredAcks     kafka.RequiredAcks
	AutoCreateTopics bool
}

func NewKafkaSink(config KafkaConfig) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka sink requires a topic")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              1,
		RequiredAcks:           config.RequiredAcks,
		Async:                  false,
		AllowAutoTopicCreation: config.AutoCreateTopics,
	}

	return &KafkaSink{writer: writer}, nil
}

// Publish blocks until the broker acknowledges the message. Records with the
// same holding id land on the same partition.
func (k *KafkaSink) Publish(key string, line []byte) error {
	msg := kafka.Message{
		Key:   []byte(key),
		Value: append([]byte(nil), line...),
	}
	if err := k.writer.WriteMessages(context.Background(), msg); err != nil {
		return fmt.Errorf("kafka publish to %s: %w", k.writer.Topic, err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
