package kafka

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/rzzdr/qdfp-pricer/pkg/utils/logger"
)

// Config holds the client configuration
type Config struct {
	Brokers        []string
	GroupID        string
	StartOffset    string
	CommitInterval time.Duration
	BatchSize      int
	BatchTimeout   time.Duration
	DefaultTimeout time.Duration
	RequiredAcks   string
	// RetryBackoff is the pause before a consumer handles a failed message again
	RetryBackoff time.Duration
}

// Message represents a Kafka message
type Message struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Headers   []MessageHeader
}

// MessageHeader represents a Kafka message header
type MessageHeader struct {
	Key   string
	Value []byte
}

// Header returns the value of the first header named key
func (m *Message) Header(key string) ([]byte, bool) {
	for _, h := range m.Headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return nil, false
}

// MessageReader is the part of *kafkago.Reader the consumer uses
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Stats() kafkago.ReaderStats
	Close() error
}

// MessageWriter is the part of *kafkago.Writer the producer uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Client creates readers and writers that share one configuration
type Client struct {
	config *Config
	log    *logger.Logger
}

// NewClient creates a new Kafka client
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}

	return &Client{
		config: config,
		log:    logger.GetLogger("kafka.client"),
	}, nil
}

// NewProducer creates a producer for topic
func (c *Client) NewProducer(topic string) (*Producer, error) {
	acks, err := parseRequiredAcks(c.config.RequiredAcks)
	if err != nil {
		return nil, err
	}

	w := &kafkago.Writer{
		Addr:         kafkago.TCP(c.config.Brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		BatchSize:    c.config.BatchSize,
		BatchTimeout: c.config.BatchTimeout,
		RequiredAcks: acks,
	}

	return NewProducer(w, topic, c.config.DefaultTimeout), nil
}

// NewConsumer creates a group consumer for topic
func (c *Client) NewConsumer(topic string) (*Consumer, error) {
	start, err := parseStartOffset(c.config.StartOffset)
	if err != nil {
		return nil, err
	}

	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        c.config.Brokers,
		GroupID:        c.config.GroupID,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: c.config.CommitInterval,
		StartOffset:    start,
	})

	return NewConsumer(r, topic, c.config.GroupID).WithRetryBackoff(c.config.RetryBackoff), nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Brokers:        []string{"localhost:9092"},
		GroupID:        "qdfp-pricer",
		StartOffset:    "earliest",
		CommitInterval: 0,
		BatchSize:      100,
		BatchTimeout:   10 * time.Millisecond,
		DefaultTimeout: 10 * time.Second,
		RequiredAcks:   "all",
		RetryBackoff:   DefaultRetryBackoff,
	}
}

// EnsureTopicExists creates topic on the cluster controller if it is missing
func (c *Client) EnsureTopicExists(ctx context.Context, topic string, partitions int, replicationFactor int) error {
	dialer := &kafkago.Dialer{Timeout: c.config.DefaultTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", c.config.Brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}
	defer conn.Close()

	existing, err := conn.ReadPartitions(topic)
	if err == nil && len(existing) > 0 {
		c.log.Infof("Topic %s already exists", topic)
		return nil
	}

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to find controller: %w", err)
	}

	ctrl, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial controller: %w", err)
	}
	defer ctrl.Close()

	c.log.Infof("Creating topic %s with %d partitions and replication factor %d", topic, partitions, replicationFactor)
	err = ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: replicationFactor,
	})
	if err != nil {
		return fmt.Errorf("failed to create topic: %w", err)
	}

	return nil
}

// Close closes the client. Consumers and producers are closed separately.
func (c *Client) Close() error {
	c.log.Info("Closing Kafka client")
	return nil
}

func parseStartOffset(s string) (int64, error) {
	switch s {
	case "", "earliest", "first":
		return kafkago.FirstOffset, nil
	case "latest", "last":
		return kafkago.LastOffset, nil
	default:
		return 0, fmt.Errorf("kafka: unknown start offset %q", s)
	}
}

func parseRequiredAcks(s string) (kafkago.RequiredAcks, error) {
	switch s {
	case "", "all", "-1":
		return kafkago.RequireAll, nil
	case "one", "1":
		return kafkago.RequireOne, nil
	case "none", "0":
		return kafkago.RequireNone, nil
	default:
		return 0, fmt.Errorf("kafka: unknown required acks %q", s)
	}
}

func fromKafkaMessage(m kafkago.Message) *Message {
	msg := &Message{
		Key:       m.Key,
		Value:     m.Value,
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Timestamp: m.Time,
	}
	if len(m.Headers) > 0 {
		msg.Headers = make([]MessageHeader, len(m.Headers))
		for i, h := range m.Headers {
			msg.Headers[i] = MessageHeader{Key: h.Key, Value: h.Value}
		}
	}
	return msg
}

func toKafkaMessage(m *Message) kafkago.Message {
	var headers []kafkago.Header
	if len(m.Headers) > 0 {
		headers = make([]kafkago.Header, len(m.Headers))
		for i, h := range m.Headers {
			headers[i] = kafkago.Header{Key: h.Key, Value: h.Value}
		}
	}
	return kafkago.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Headers:   headers,
		Time:      m.Timestamp,
	}
}
