package kafkainfra

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-shop-cache/events"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageReader is the part of kafka.Reader the consumer needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Consumer reads every event topic as one consumer group member and hands
// envelopes to a handler. Offsets are committed only after the handler
// succeeds, or after the message has been written to its dead letter topic.
type Consumer struct {
	reader      messageReader
	dlq         messageWriter
	cfg         Config
	maxAttempts int
	backoff     time.Duration
	logger      *zap.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewConsumer creates a Consumer subscribed to every configured topic.
func NewConsumer(cfg Config, logger *zap.Logger) *Consumer {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		GroupTopics:    cfg.Topics.All(),
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: 0,
	})
	dlq := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
	}
	return newConsumer(r, dlq, cfg, logger)
}

func newConsumer(r messageReader, dlq messageWriter, cfg Config, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 5
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return &Consumer{
		reader:      r,
		dlq:         dlq,
		cfg:         cfg,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		logger:      logger,
		sleep:       sleepCtx,
	}
}

// Run consumes until ctx is done or a message can neither be handled nor
// dead lettered. Messages are processed one at a time, which keeps per-shop
// ordering.
func (c *Consumer) Run(ctx context.Context, handler events.HandlerFunc) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to fetch message", zap.Error(err))
			continue
		}

		if err := c.process(ctx, m, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Stop without committing so the offset is redelivered on restart.
			c.logger.Error("message left uncommitted",
				zap.String("topic", m.Topic),
				zap.Int64("offset", m.Offset),
				zap.Error(err))
			return err
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			c.logger.Error("failed to commit offset",
				zap.String("topic", m.Topic),
				zap.Int64("offset", m.Offset),
				zap.Error(err))
		}
	}
}

// process returns nil when the message may be committed.
func (c *Consumer) process(ctx context.Context, m kafkago.Message, handler events.HandlerFunc) error {
	env, err := events.Unmarshal(m.Value)
	if err != nil {
		return c.deadLetter(ctx, m, err)
	}

	delay := c.backoff
	for attempt := 1; ; attempt++ {
		state, err := handler(ctx, env)
		if err == nil {
			return nil
		}
		if events.IsPermanent(err) || attempt >= c.maxAttempts {
			c.logger.Warn("giving up on event",
				zap.String("event_id", env.EventID),
				zap.String("state", string(state)),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return c.deadLetter(ctx, m, err)
		}
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}
}

func (c *Consumer) deadLetter(ctx context.Context, m kafkago.Message, cause error) error {
	headers := append(append([]kafkago.Header(nil), m.Headers...),
		kafkago.Header{Key: "error", Value: []byte(cause.Error())},
		kafkago.Header{Key: "source-topic", Value: []byte(m.Topic)},
	)
	err := c.dlq.WriteMessages(ctx, kafkago.Message{
		Topic:   c.cfg.dlqTopic(m.Topic),
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
	})
	if err != nil {
		return errors.Join(cause, err)
	}
	return nil
}

// Close closes the reader and the dead letter writer.
func (c *Consumer) Close() error {
	return errors.Join(c.reader.Close(), c.dlq.Close())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
