package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	kafka_config "claimgate/pkg/kafka/config"
	"claimgate/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// DeadLetterSuffix is appended to a topic name to form its dead-letter topic
const DeadLetterSuffix = ".DLT"

// DeadLetterTopic returns the dead-letter topic name for the given topic
func DeadLetterTopic(topic string) string {
	return topic + DeadLetterSuffix
}

// dlqPublisher is the writing surface of the dead-letter producer.
// Satisfied by kafka.Writer.
type dlqPublisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads messages from a topic and dispatches them to a handler.
// Transient handler failures are retried in place with a fixed backoff;
// exhausted or terminal failures are published to the dead-letter topic.
type Consumer struct {
	reader       *kafka.Reader
	dlqWriter    dlqPublisher
	topic        string
	groupID      string
	maxRetries   int
	retryBackoff time.Duration
	handler      MessageHandler
	log          *logger.Logger
	closed       bool
	mu           sync.RWMutex
	wg           sync.WaitGroup
}

func NewConsumer(cfg *kafka_config.Config, topic string, groupID string, handler MessageHandler, log *logger.Logger) (*Consumer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}

	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}

	if groupID == "" {
		return nil, fmt.Errorf("group ID cannot be empty")
	}

	if handler == nil {
		return nil, fmt.Errorf("message handler cannot be nil")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:           cfg.Brokers,
		Topic:             topic,
		GroupID:           groupID,
		MinBytes:          cfg.ConsumerMinBytes,
		MaxBytes:          cfg.ConsumerMaxBytes,
		MaxWait:           cfg.ConsumerMaxWait,
		CommitInterval:    cfg.ConsumerCommitInterval,
		HeartbeatInterval: cfg.ConsumerHeartbeatInterval,
		SessionTimeout:    cfg.ConsumerSessionTimeout,
		RebalanceTimeout:  cfg.ConsumerRebalanceTimeout,
		StartOffset:       cfg.ConsumerStartOffset,
		Logger:            kafka.LoggerFunc(func(msg string, args ...any) {}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			log.Error(fmt.Sprintf("kafka consumer: "+msg, args...))
		}),
	})

	dlqWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        DeadLetterTopic(topic),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		MaxAttempts:  3,
		Logger:       kafka.LoggerFunc(func(msg string, args ...any) {}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			log.Error(fmt.Sprintf("kafka dlq writer: "+msg, args...))
		}),
	}

	return &Consumer{
		reader:       reader,
		dlqWriter:    dlqWriter,
		topic:        topic,
		groupID:      groupID,
		maxRetries:   cfg.ConsumerMaxRetries,
		retryBackoff: cfg.ConsumerRetryBackoff,
		handler:      handler,
		log:          log,
	}, nil
}

// Start begins consuming messages. It blocks until the context is
// canceled or the consumer is closed.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrConsumerClosed
	}
	c.mu.RUnlock()

	c.wg.Add(1)
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			kafkaMsg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				c.log.Error("failed to fetch message", "topic", c.topic, "error", err)
				time.Sleep(time.Second)
				continue
			}

			msg := c.convertMessage(kafkaMsg)

			if err := c.processMessage(ctx, msg); err != nil {
				// The message is neither handled nor dead-lettered.
				// Leave the offset uncommitted so it redelivers.
				c.log.Error("message processing failed",
					"topic", c.topic,
					"event_id", msg.GetEventID(),
					"request_id", msg.GetRequestID(),
					"error", err)
				continue
			}

			// Committed only once the message is disposed: handled, or
			// published to the dead-letter topic.
			if err := c.reader.CommitMessages(ctx, kafkaMsg); err != nil {
				c.log.Error("failed to commit offset", "topic", c.topic, "error", err)
			}
		}
	}
}

// processMessage runs the handler, retrying transient failures up to
// maxRetries with a fixed backoff between attempts. Terminal failures
// and exhausted retries go to the dead-letter topic. It returns nil only
// when the message has been disposed of, handled or dead-lettered.
func (c *Consumer) processMessage(ctx context.Context, msg Message) error {
	var err error
	for {
		err = c.handler(ctx, msg)
		if err == nil {
			return nil
		}

		if !ShouldRetry(err, msg.GetRetryCount(), c.maxRetries) {
			break
		}

		msg.IncrementRetryCount()
		c.log.Warn("retrying message",
			"topic", c.topic,
			"event_id", msg.GetEventID(),
			"request_id", msg.GetRequestID(),
			"attempt", msg.GetRetryCount(),
			"max_retries", c.maxRetries,
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryBackoff):
		}
	}

	if dlqErr := c.sendToDLQ(ctx, msg, err); dlqErr != nil {
		c.log.Error("failed to dead-letter message",
			"topic", c.topic,
			"event_id", msg.GetEventID(),
			"error", dlqErr,
			"original_error", err)
		return fmt.Errorf("dead-letter publish: %w", dlqErr)
	}

	c.log.Warn("message dead-lettered",
		"topic", c.topic,
		"event_id", msg.GetEventID(),
		"request_id", msg.GetRequestID(),
		"retries", msg.GetRetryCount(),
		"error", err)
	return nil
}

// sendToDLQ sends a failed message to the dead-letter topic
func (c *Consumer) sendToDLQ(ctx context.Context, msg Message, originalErr error) error {
	msg.Headers[HeaderOriginalTopic] = c.topic
	msg.Headers["dlq-error"] = originalErr.Error()
	msg.Headers["dlq-timestamp"] = time.Now().Format(time.RFC3339)
	msg.Headers["dlq-consumer-group"] = c.groupID

	return c.dlqWriter.WriteMessages(ctx, toKafkaMessage(msg))
}

// convertMessage converts a kafka-go message to the internal Message type
func (c *Consumer) convertMessage(kafkaMsg kafka.Message) Message {
	msg := Message{
		Key:       string(kafkaMsg.Key),
		Value:     kafkaMsg.Value,
		Headers:   make(map[string]string),
		Topic:     kafkaMsg.Topic,
		Partition: kafkaMsg.Partition,
		Offset:    kafkaMsg.Offset,
		Timestamp: kafkaMsg.Time,
	}

	for _, header := range kafkaMsg.Headers {
		msg.Headers[header.Key] = string(header.Value)
	}

	return msg
}

// Close closes the consumer and releases resources
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.wg.Wait()

	err := c.reader.Close()
	if dlqErr := c.dlqWriter.Close(); err == nil {
		err = dlqErr
	}

	return err
}

// Stats returns consumer statistics
func (c *Consumer) Stats() kafka.ReaderStats {
	return c.reader.Stats()
}

// Lag returns the current consumer lag
func (c *Consumer) Lag() int64 {
	return c.reader.Stats().Lag
}
