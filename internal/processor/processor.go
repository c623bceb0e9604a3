package processor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/rzzdr/qdfp-pricer/internal/kafka"
	"github.com/rzzdr/qdfp-pricer/pkg/models"
	"github.com/rzzdr/qdfp-pricer/pkg/utils/errors"
	"github.com/rzzdr/qdfp-pricer/pkg/utils/logger"
)

// Header carrying the request id when the payload has none
const requestIDHeader = "request-id"

// Source delivers pricing requests
type Source interface {
	ConsumeMessages(ctx context.Context, handler kafka.MessageHandler) error
	Close() error
}

// Sink publishes pricing results
type Sink interface {
	ProduceJSON(ctx context.Context, key []byte, value interface{}, headers []kafka.MessageHeader) error
	Close() error
}

// Pricer prices one request and reports failures in the result
type Pricer interface {
	Result(ctx context.Context, req models.PricingRequest) models.PricingResult
}

// Broadcaster pushes results to live subscribers
type Broadcaster interface {
	BroadcastResult(res models.PricingResult)
}

// MetricsRecorder defines the interface for recording metrics
type MetricsRecorder interface {
	RecordKafkaMessage(topic, outcome string)
}

// ProcessorConfig contains configuration for the pricing processor
type ProcessorConfig struct {
	RequestTopic string
	ResultTopic  string

	// PublishFailures consecutive publish errors open the publish breaker.
	// Zero disables the breaker and a failed publish is returned at once.
	PublishFailures uint32
	// PublishCooldown is how long the breaker stays open before probing
	PublishCooldown time.Duration
	// RetryBackoff is the pause between publish attempts
	RetryBackoff time.Duration
}

// Processor consumes pricing requests, prices them and publishes the results
type Processor struct {
	config      ProcessorConfig
	source      Source
	sink        Sink
	pricer      Pricer
	broadcaster Broadcaster
	recorder    MetricsRecorder
	breaker     *gobreaker.CircuitBreaker
	log         *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	err    error
}

// NewProcessor creates a processor. recorder may be nil.
func NewProcessor(config ProcessorConfig, source Source, sink Sink, pricer Pricer, recorder MetricsRecorder) *Processor {
	if config.PublishCooldown <= 0 {
		config.PublishCooldown = 5 * time.Second
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 250 * time.Millisecond
	}

	p := &Processor{
		config:   config,
		source:   source,
		sink:     sink,
		pricer:   pricer,
		recorder: recorder,
		log:      logger.GetLogger("processor"),
	}

	if config.PublishFailures > 0 {
		p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "publish:" + config.ResultTopic,
			MaxRequests: 1,
			Timeout:     config.PublishCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= config.PublishFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				p.log.Warnw("Publish breaker changed state", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return p
}

// SetBroadcaster also sends every result to b
func (p *Processor) SetBroadcaster(b Broadcaster) {
	p.broadcaster = b
}

// Run consumes until ctx is done or the source stops
func (p *Processor) Run(ctx context.Context) error {
	p.log.Infow("Processing pricing requests", "requests", p.config.RequestTopic, "results", p.config.ResultTopic)
	err := p.source.ConsumeMessages(ctx, p.handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Start runs the processor in the background
func (p *Processor) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.Run(ctx); err != nil {
			p.log.Errorf("Processor stopped: %v", err)
			p.err = err
		}
	}()
	return nil
}

// Stop stops consuming, waits for the in-flight request and closes the source
// and sink
func (p *Processor) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	srcErr := p.source.Close()
	sinkErr := p.sink.Close()
	switch {
	case p.err != nil:
		return p.err
	case srcErr != nil:
		return srcErr
	default:
		return sinkErr
	}
}

// handle prices one message. Undecodable requests are answered with an error
// result so they are not redelivered; publish failures leave the message
// uncommitted and the consumer retries it.
func (p *Processor) handle(ctx context.Context, msg *kafka.Message) error {
	p.record(p.config.RequestTopic, "consumed")

	var res models.PricingResult
	var req models.PricingRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		p.record(p.config.RequestTopic, "malformed")
		err = errors.WithType(err, errors.ErrorTypeInvalidInput, "decode pricing request")
		res = models.PricingResult{
			ID:        requestID(msg, ""),
			Error:     err.Error(),
			ErrorType: errors.TypeOf(err).String(),
		}
	} else {
		req.ID = requestID(msg, req.ID)
		res = p.pricer.Result(ctx, req)
	}

	key := msg.Key
	if len(key) == 0 && res.ID != "" {
		key = []byte(res.ID)
	}

	if err := p.publish(ctx, key, res); err != nil {
		return errors.Wrap(err, "publish pricing result")
	}

	if p.broadcaster != nil {
		p.broadcaster.BroadcastResult(res)
	}
	if res.Failed() {
		p.log.Debugw("Pricing request failed", "id", res.ID, "error", res.Error)
	}
	return nil
}

// publish sends res to the result topic. With a breaker configured it keeps
// retrying until the publish succeeds or ctx is done, so consumption stalls
// while the result topic is unavailable.
func (p *Processor) publish(ctx context.Context, key []byte, res models.PricingResult) error {
	headers := []kafka.MessageHeader{{Key: requestIDHeader, Value: []byte(res.ID)}}
	produce := func() (interface{}, error) {
		return nil, p.sink.ProduceJSON(ctx, key, res, headers)
	}

	for {
		var err error
		if p.breaker != nil {
			_, err = p.breaker.Execute(produce)
		} else {
			_, err = produce()
		}
		if err == nil {
			p.record(p.config.ResultTopic, "produced")
			return nil
		}

		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			p.record(p.config.ResultTopic, "rejected")
		default:
			p.record(p.config.ResultTopic, "failed")
		}

		if p.breaker == nil {
			return err
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(p.config.RetryBackoff):
		}
	}
}

func (p *Processor) record(topic, outcome string) {
	if p.recorder != nil {
		p.recorder.RecordKafkaMessage(topic, outcome)
	}
}

func requestID(msg *kafka.Message, id string) string {
	if id != "" {
		return id
	}
	if v, ok := msg.Header(requestIDHeader); ok {
		return string(v)
	}
	return string(msg.Key)
}
