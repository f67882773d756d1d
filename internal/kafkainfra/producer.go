// Package kafkainfra carries event envelopes over Kafka with segmentio/kafka-go.
package kafkainfra

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-shop-cache/events"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Config holds broker and group settings.
type Config struct {
	Brokers      []string
	GroupID      string
	Topics       events.Topics
	DLQSuffix    string
	WriteTimeout time.Duration
	// MaxAttempts bounds in-process redelivery of a failed message.
	MaxAttempts int
	// RetryBackoff is the base delay between attempts, doubled each time.
	RetryBackoff time.Duration
}

func (c Config) dlqTopic(topic string) string {
	suffix := c.DLQSuffix
	if suffix == "" {
		suffix = ".dlq"
	}
	return topic + suffix
}

// messageWriter is the part of kafka.Writer the producer needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Producer publishes envelopes to the topic of their type. Messages are keyed
// by Envelope.Key and partitioned with the Hash balancer, so all events about
// a shop land on one partition in publish order.
type Producer struct {
	writer messageWriter
	topics events.Topics
	logger *zap.Logger
}

var _ events.Publisher = (*Producer)(nil)

// NewProducer creates a Producer. The writer has no default topic; each
// message names its own.
func NewProducer(cfg Config, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Balancer:     &kafkago.Hash{},
		WriteTimeout: cfg.WriteTimeout,
		MaxAttempts:  5,
		RequiredAcks: kafkago.RequireAll,
	}
	return &Producer{writer: w, topics: cfg.Topics, logger: logger}
}

// Publish writes env synchronously.
func (p *Producer) Publish(ctx context.Context, env events.Envelope) error {
	topic := p.topics.For(env.Type)
	if topic == "" {
		return fmt.Errorf("no topic configured for event type %q", env.Type)
	}

	value, err := env.Marshal()
	if err != nil {
		return err
	}

	msg := kafkago.Message{
		Topic: topic,
		Key:   []byte(env.Key),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "event-id", Value: []byte(env.EventID)},
			{Key: "event-type", Value: []byte(env.Type)},
		},
		Time: env.OccurredAt,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish event",
			zap.String("topic", topic),
			zap.String("event_id", env.EventID),
			zap.Error(err))
		return err
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
