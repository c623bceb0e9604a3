package kafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rzzdr/qdfp-pricer/pkg/utils/logger"
)

// MessageHandler processes one message. A returned error leaves the message
// uncommitted and the consumer retries it.
type MessageHandler func(context.Context, *Message) error

// LagRecorder receives consumer lag samples
type LagRecorder interface {
	RecordKafkaLag(topic, groupID string, lag int64)
}

// Consumer wraps a Kafka reader with commit-after-handle semantics
type Consumer struct {
	reader  MessageReader
	topic   string
	groupID string
	lag     LagRecorder
	backoff time.Duration
	log     *logger.Logger
}

// DefaultRetryBackoff is the pause before a failed message is handled again
const DefaultRetryBackoff = time.Second

// NewConsumer wraps reader
func NewConsumer(reader MessageReader, topic, groupID string) *Consumer {
	return &Consumer{
		reader:  reader,
		topic:   topic,
		groupID: groupID,
		backoff: DefaultRetryBackoff,
		log:     logger.GetLogger("kafka.consumer").With("topic", topic),
	}
}

// WithRetryBackoff sets the pause between attempts on a failed message
func (c *Consumer) WithRetryBackoff(d time.Duration) *Consumer {
	if d > 0 {
		c.backoff = d
	}
	return c
}

// WithLagRecorder reports the reader lag after every committed message
func (c *Consumer) WithLagRecorder(r LagRecorder) *Consumer {
	c.lag = r
	return c
}

// Topic returns the consumed topic
func (c *Consumer) Topic() string {
	return c.topic
}

// ConsumeMessage fetches the next message without committing it
func (c *Consumer) ConsumeMessage(ctx context.Context) (*Message, error) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	return fromKafkaMessage(m), nil
}

// CommitMessage commits msg's offset
func (c *Consumer) CommitMessage(ctx context.Context, msg *Message) error {
	return c.reader.CommitMessages(ctx, toKafkaMessage(msg))
}

// ConsumeMessages runs handler on each message until ctx is done or the reader
// is closed. Messages are committed after the handler succeeds. A failing
// message is retried until it succeeds or ctx is done, and no later message is
// fetched meanwhile: group commits are by offset, so committing a later
// message would also commit the failed one.
func (c *Consumer) ConsumeMessages(ctx context.Context, handler MessageHandler) error {
	c.log.Infof("Starting consumer for topic: %s", c.topic)

	for {
		msg, err := c.ConsumeMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("Context cancelled, stopping consumer")
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				c.log.Info("Reader closed, stopping consumer")
				return nil
			}
			c.log.Errorf("Error fetching message: %v", err)
			return err
		}

		if err := c.handle(ctx, handler, msg); err != nil {
			return err
		}

		if err := c.CommitMessage(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Errorf("Error committing offset: %v", err)
		}

		if c.lag != nil {
			c.lag.RecordKafkaLag(c.topic, c.groupID, c.reader.Stats().Lag)
		}
	}
}

// handle runs handler on msg until it succeeds. It only fails with ctx.Err().
func (c *Consumer) handle(ctx context.Context, handler MessageHandler, msg *Message) error {
	for attempt := 1; ; attempt++ {
		err := handler(ctx, msg)
		if err == nil {
			return nil
		}
		c.log.Errorw("Error processing message", "offset", msg.Offset, "partition", msg.Partition, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff):
		}
	}
}

// Close closes the consumer
func (c *Consumer) Close() error {
	c.log.Info("Closing consumer")
	return c.reader.Close()
}
