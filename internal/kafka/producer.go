package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/rzzdr/qdfp-pricer/pkg/utils/logger"
)

// Producer is a wrapper around the Kafka writer
type Producer struct {
	writer  MessageWriter
	topic   string
	timeout time.Duration
	log     *logger.Logger
}

// NewProducer wraps writer. A positive timeout bounds every write.
func NewProducer(writer MessageWriter, topic string, timeout time.Duration) *Producer {
	return &Producer{
		writer:  writer,
		topic:   topic,
		timeout: timeout,
		log:     logger.GetLogger("kafka.producer").With("topic", topic),
	}
}

// Topic returns the produced topic
func (p *Producer) Topic() string {
	return p.topic
}

// ProduceMessage writes one message to the topic
func (p *Producer) ProduceMessage(ctx context.Context, key []byte, value []byte, headers []MessageHeader) error {
	return p.ProduceBatch(ctx, []*Message{{Key: key, Value: value, Headers: headers}})
}

// ProduceJSON writes a JSON-serialized message to the topic
func (p *Producer) ProduceJSON(ctx context.Context, key []byte, value interface{}, headers []MessageHeader) error {
	jsonValue, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize message to JSON: %w", err)
	}

	allHeaders := append(headers[:len(headers):len(headers)], MessageHeader{Key: "content-type", Value: []byte("application/json")})
	return p.ProduceMessage(ctx, key, jsonValue, allHeaders)
}

// ProduceBatch writes messages in one call
func (p *Producer) ProduceBatch(ctx context.Context, messages []*Message) error {
	if len(messages) == 0 {
		return nil
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	msgs := make([]kafkago.Message, len(messages))
	for i, m := range messages {
		// the writer owns the topic
		msgs[i] = toKafkaMessage(&Message{Key: m.Key, Value: m.Value, Headers: m.Headers, Timestamp: m.Timestamp})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.log.Errorf("Failed to produce %d messages: %v", len(msgs), err)
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

// Close flushes pending writes and closes the producer
func (p *Producer) Close() error {
	p.log.Info("Closing producer")
	return p.writer.Close()
}
