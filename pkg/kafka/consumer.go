package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const SourceKafka = "kafka"

// MessageHandler processes one message. Returning an error makes the consumer
// retry the same message; nothing after it is fetched until it succeeds.
type MessageHandler func(ctx context.Context, msg *IncomingMessage) error

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig holds Kafka consumer configuration
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	// RetryInitialInterval and RetryMaxInterval bound the wait between
	// attempts at a failing message.
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

const (
	defaultRetryInitialInterval = 500 * time.Millisecond
	defaultRetryMaxInterval     = 30 * time.Second
)

// Consumer handles Kafka message consumption
type Consumer struct {
	reader       Reader
	topic        string
	logger       ectologger.Logger
	handler      MessageHandler
	wg           sync.WaitGroup
	cancel       context.CancelFunc
	running      atomic.Bool
	retryInitial time.Duration
	retryMax     time.Duration
}

// NewConsumer creates a consumer group reader for the topic
func NewConsumer(cfg ConsumerConfig, logger ectologger.Logger, handler MessageHandler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: time.Second,
	})
	return NewConsumerWithReader(reader, cfg.Topic, logger, handler).
		WithRetryBackoff(cfg.RetryInitialInterval, cfg.RetryMaxInterval)
}

func NewConsumerWithReader(reader Reader, topic string, logger ectologger.Logger, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:       reader,
		topic:        topic,
		logger:       logger,
		handler:      handler,
		retryInitial: defaultRetryInitialInterval,
		retryMax:     defaultRetryMaxInterval,
	}
}

// WithRetryBackoff overrides the retry intervals. Zero values keep the defaults.
func (c *Consumer) WithRetryBackoff(initial, max time.Duration) *Consumer {
	if initial > 0 {
		c.retryInitial = initial
	}
	if max > 0 {
		c.retryMax = max
	}
	if c.retryMax < c.retryInitial {
		c.retryMax = c.retryInitial
	}
	return c
}

// Start begins consuming messages in the background
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.running.Store(true)
	c.wg.Add(1)
	go c.consumeLoop(ctx)

	c.logger.WithContext(ctx).WithField("topic", c.topic).Info("Kafka consumer started")
	return nil
}

// Stop waits for the in-flight message and closes the reader
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()
	defer c.running.Store(false)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.logger.WithContext(ctx).Info("Consumer loop stopping")
				return
			}
			c.logger.WithContext(ctx).WithError(err).Error("Failed to fetch message")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		c.processMessage(ctx, msg)
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) {
	incoming := newIncomingMessage(msg)

	ctx = tracing.Extract(ctx, incoming.Headers)
	ctx = appctx.SetSource(ctx, SourceKafka)
	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.processMessage")
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	// Group commits are cumulative, so a failed message is retried in place.
	// Committing a later offset would skip it for good.
	if !c.handleWithRetry(ctx, incoming, log) {
		log.Warn("Consumer stopping with message unprocessed (not committing)")
		return
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.WithError(err).Error("Failed to commit message")
	}
}

// handleWithRetry runs the handler until it succeeds or ctx is done.
func (c *Consumer) handleWithRetry(ctx context.Context, incoming *IncomingMessage, log ectologger.Logger) bool {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.retryInitial,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         c.retryMax,
	}
	b.Reset()

	for attempt := 1; ; attempt++ {
		err := c.handler(ctx, incoming)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		wait := b.NextBackOff()
		log.WithError(err).WithField("attempt", attempt).Errorf("Failed to process message, retrying in %s", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// Health reports whether the consume loop is running
func (c *Consumer) Health() bool {
	return c.running.Load()
}
