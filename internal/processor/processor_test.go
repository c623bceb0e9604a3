package processor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/qdfp-pricer/internal/american"
	"github.com/rzzdr/qdfp-pricer/internal/kafka"
	"github.com/rzzdr/qdfp-pricer/internal/pricing"
	"github.com/rzzdr/qdfp-pricer/pkg/models"
)

// sliceSource hands its messages to the handler, then blocks until cancelled
type sliceSource struct {
	messages  []*kafka.Message
	committed []int64
	closed    bool
}

func (s *sliceSource) ConsumeMessages(ctx context.Context, handler kafka.MessageHandler) error {
	for _, m := range s.messages {
		if err := handler(ctx, m); err == nil {
			s.committed = append(s.committed, m.Offset)
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

type published struct {
	key     string
	value   []byte
	headers []kafka.MessageHeader
}

// memorySink stores published values. It fails every call when fail is set and
// otherwise fails the first failures calls.
type memorySink struct {
	mu       sync.Mutex
	out      []published
	fail     bool
	failures int
}

func (s *memorySink) ProduceJSON(_ context.Context, key []byte, value interface{}, headers []kafka.MessageHeader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail || s.failures > 0 {
		s.failures--
		return errors.New("broker unavailable")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.out = append(s.out, published{key: string(key), value: data, headers: headers})
	return nil
}

func (s *memorySink) Close() error { return nil }

func (s *memorySink) results(t *testing.T) []models.PricingResult {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PricingResult, len(s.out))
	for i, p := range s.out {
		require.NoError(t, json.Unmarshal(p.value, &out[i]))
	}
	return out
}

type recordedBroadcasts struct {
	mu  sync.Mutex
	ids []string
}

func (b *recordedBroadcasts) BroadcastResult(res models.PricingResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ids = append(b.ids, res.ID)
}

type outcomeCounts struct {
	mu sync.Mutex
	m  map[string]int
}

func (c *outcomeCounts) RecordKafkaMessage(topic, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[topic+"/"+outcome]++
}

func newPricer(t *testing.T) *pricing.Service {
	t.Helper()
	e, err := american.NewEngine(american.WithScheme(american.FastScheme()))
	require.NoError(t, err)
	return pricing.NewService(pricing.ServiceConfig{}, e, nil)
}

func requestMessage(t *testing.T, offset int64, req models.PricingRequest, key string) *kafka.Message {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return &kafka.Message{Topic: "pricing.requests", Offset: offset, Key: []byte(key), Value: data}
}

func TestProcessorPricesAndPublishes(t *testing.T) {
	put := models.OptionContract{Symbol: "XYZ", OptionType: "put", Spot: 36, Strike: 40, Rate: 0.06, Volatility: 0.2, Maturity: 1}
	bad := put
	bad.Spot = -1

	source := &sliceSource{messages: []*kafka.Message{
		requestMessage(t, 1, models.PricingRequest{ID: "a", OptionContract: put}, "k1"),
		{Offset: 2, Value: []byte("not json"), Headers: []kafka.MessageHeader{{Key: "request-id", Value: []byte("h2")}}},
		requestMessage(t, 3, models.PricingRequest{OptionContract: bad}, "k3"),
	}}
	sink := &memorySink{}
	bc := &recordedBroadcasts{}
	counts := &outcomeCounts{m: map[string]int{}}

	p := NewProcessor(ProcessorConfig{RequestTopic: "pricing.requests", ResultTopic: "pricing.results"}, source, sink, newPricer(t), counts)
	p.SetBroadcaster(bc)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return len(sink.results(t)) == 3 }, 10*time.Second, 10*time.Millisecond)
	require.NoError(t, p.Stop())

	results := sink.results(t)

	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 4.4867, results[0].Price, 1e-2)
	assert.Equal(t, "qdfp", results[0].Method)
	assert.Equal(t, "k1", sink.out[0].key)

	assert.Equal(t, "h2", results[1].ID)
	assert.Equal(t, "invalid_input", results[1].ErrorType)
	assert.Equal(t, "h2", sink.out[1].key)

	assert.Equal(t, "k3", results[2].ID)
	assert.True(t, results[2].Failed())

	assert.Equal(t, []int64{1, 2, 3}, source.committed)
	assert.True(t, source.closed)
	assert.Equal(t, []string{"a", "h2", "k3"}, bc.ids)
	assert.Equal(t, 3, counts.m["pricing.requests/consumed"])
	assert.Equal(t, 1, counts.m["pricing.requests/malformed"])
	assert.Equal(t, 3, counts.m["pricing.results/produced"])
}

func TestProcessorLeavesUnpublishedUncommitted(t *testing.T) {
	put := models.OptionContract{Spot: 100, Strike: 100, Rate: 0.05, Dividend: 0.02, Volatility: 0.25, Maturity: 1}
	source := &sliceSource{messages: []*kafka.Message{requestMessage(t, 7, models.PricingRequest{ID: "x", OptionContract: put}, "")}}
	sink := &memorySink{fail: true}

	p := NewProcessor(ProcessorConfig{RequestTopic: "in", ResultTopic: "out"}, source, sink, newPricer(t), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, source.committed)
}

func (c *outcomeCounts) get(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[key]
}

func TestProcessorRetriesThroughBreaker(t *testing.T) {
	put := models.OptionContract{Spot: 100, Strike: 100, Rate: 0.05, Dividend: 0.02, Volatility: 0.25, Maturity: 1}
	source := &sliceSource{messages: []*kafka.Message{requestMessage(t, 7, models.PricingRequest{ID: "x", OptionContract: put}, "")}}
	sink := &memorySink{failures: 3}
	counts := &outcomeCounts{m: map[string]int{}}

	p := NewProcessor(ProcessorConfig{
		RequestTopic:    "in",
		ResultTopic:     "out",
		PublishFailures: 2,
		PublishCooldown: 30 * time.Millisecond,
		RetryBackoff:    5 * time.Millisecond,
	}, source, sink, newPricer(t), counts)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return len(sink.results(t)) == 1 }, 10*time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop())

	assert.Equal(t, []int64{7}, source.committed)
	assert.Equal(t, 3, counts.get("out/failed"))
	assert.Positive(t, counts.get("out/rejected"))
	assert.Equal(t, 1, counts.get("out/produced"))
}

func TestProcessorBreakerGivesUpOnCancel(t *testing.T) {
	put := models.OptionContract{Spot: 100, Strike: 100, Rate: 0.05, Dividend: 0.02, Volatility: 0.25, Maturity: 1}
	source := &sliceSource{messages: []*kafka.Message{requestMessage(t, 7, models.PricingRequest{ID: "x", OptionContract: put}, "")}}
	counts := &outcomeCounts{m: map[string]int{}}

	p := NewProcessor(ProcessorConfig{
		RequestTopic:    "in",
		ResultTopic:     "out",
		PublishFailures: 1,
		PublishCooldown: time.Hour,
		RetryBackoff:    time.Millisecond,
	}, source, &memorySink{fail: true}, newPricer(t), counts)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, source.committed)
	assert.Equal(t, 1, counts.get("out/failed"))
	assert.Positive(t, counts.get("out/rejected"))
}

func TestRequestID(t *testing.T) {
	msg := &kafka.Message{Key: []byte("key"), Headers: []kafka.MessageHeader{{Key: "request-id", Value: []byte("hdr")}}}
	assert.Equal(t, "body", requestID(msg, "body"))
	assert.Equal(t, "hdr", requestID(msg, ""))
	assert.Equal(t, "key", requestID(&kafka.Message{Key: []byte("key")}, ""))
}
