package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	applogger "SignalDesk/pkg/logger"
)

// MessageHandler handles messages from one topic. Handlers must be
// idempotent: delivery is at least once.
type MessageHandler interface {
	Topic() string
	Handle(ctx context.Context, msg kafka.Message) error
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable; the message goes straight to the DLQ.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Consumer reads each registered topic in a consumer group and hands
// messages to its handler one at a time, committing after each message.
type Consumer struct {
	cfg      *ConsumerConfig
	handlers map[string]MessageHandler
	readers  []*kafka.Reader
	dlq      *Producer
	l        *applogger.Logger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	handled *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:    "signaldesk",
		RetryMax:   3,
		BackoffMin: 50 * time.Millisecond,
		BackoffMax: 2 * time.Second,
		MinBytes:   1,
		MaxBytes:   10e6,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	c := &Consumer{
		cfg:      cfg,
		handlers: make(map[string]MessageHandler),
		l:        cfg.Logger,
	}
	if cfg.DLQTopic != "" {
		p, err := NewProducer(WithBrokers(cfg.Brokers), WithProducerMetrics(cfg.Registerer))
		if err != nil {
			return nil, err
		}
		c.dlq = p
	}
	if cfg.Registerer != nil {
		f := promauto.With(cfg.Registerer)
		c.handled = f.NewCounterVec(prometheus.CounterOpts{
			Name: "signaldesk_kafka_consumer_messages_total",
			Help: "Messages handled by outcome",
		}, []string{"topic", "outcome"})
		c.latency = f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "signaldesk_kafka_consumer_handle_seconds",
			Help: "Handling time per message",
		}, []string{"topic"})
	}
	return c, nil
}

func (c *Consumer) RegisterHandler(h MessageHandler) {
	if _, ok := c.handlers[h.Topic()]; ok {
		c.warn("handler already registered", applogger.String("topic", h.Topic()))
		return
	}
	c.handlers[h.Topic()] = h
}

// Start launches one reader loop per registered topic.
func (c *Consumer) Start(ctx context.Context) error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}
	ctx, c.cancel = context.WithCancel(ctx)
	for topic, h := range c.handlers {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.cfg.Brokers,
			Topic:    topic,
			GroupID:  c.cfg.GroupID,
			MinBytes: c.cfg.MinBytes,
			MaxBytes: c.cfg.MaxBytes,
		})
		c.readers = append(c.readers, r)
		c.wg.Add(1)
		go c.consume(ctx, r, h)
		if c.l != nil {
			c.l.Info("kafka consumer started", applogger.String("topic", topic), applogger.String("group", c.cfg.GroupID))
		}
	}
	return nil
}

// Stop cancels the reader loops and waits for the in-flight message.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		done := make(chan struct{})
		go func() { c.wg.Wait(); close(done) }()
		select {
		case <-done:
		case <-ctx.Done():
			stopErr = fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
		}
		for _, r := range c.readers {
			if err := r.Close(); err != nil {
				c.warn("error closing reader", applogger.Error(err))
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				c.warn("error closing dlq writer", applogger.Error(err))
			}
		}
	})
	return stopErr
}

func (c *Consumer) consume(ctx context.Context, r *kafka.Reader, h MessageHandler) {
	defer c.wg.Done()
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.warn("kafka fetch failed", applogger.String("topic", h.Topic()), applogger.Error(err))
			if !sleepCtx(ctx, c.cfg.BackoffMax) {
				return
			}
			continue
		}

		start := time.Now()
		outcome, commit := c.process(ctx, h, msg)
		if c.handled != nil {
			c.handled.WithLabelValues(h.Topic(), outcome).Inc()
			c.latency.WithLabelValues(h.Topic()).Observe(time.Since(start).Seconds())
		}
		if !commit {
			continue
		}
		if err := c.commitWithRetry(ctx, r, msg, 3); err != nil && ctx.Err() != nil {
			return
		}
	}
}

// process runs the handler with retries. It reports the outcome and
// whether the offset may be committed.
func (c *Consumer) process(ctx context.Context, h MessageHandler, msg kafka.Message) (string, bool) {
	var err error
	for attempt := 1; ; attempt++ {
		err = safeHandle(ctx, h, msg)
		if err == nil {
			return "ok", true
		}
		if IsPermanent(err) || attempt > c.cfg.RetryMax || ctx.Err() != nil {
			break
		}
		if !sleepCtx(ctx, backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)) {
			break
		}
	}
	if ctx.Err() != nil {
		return "cancelled", false
	}

	if c.l != nil {
		c.l.Warn("kafka message failed",
			applogger.String("topic", h.Topic()),
			applogger.Int("partition", msg.Partition),
			applogger.Int64("offset", msg.Offset),
			applogger.Bool("permanent", IsPermanent(err)),
			applogger.Error(err),
		)
	}
	if c.dlq == nil {
		// a poison message is dropped; a transient failure is left uncommitted
		if IsPermanent(err) {
			return "dropped", true
		}
		return "failed", false
	}
	headers := append([]kafka.Header{
		{Key: "source_topic", Value: []byte(h.Topic())},
		{Key: "error", Value: []byte(err.Error())},
	}, msg.Headers...)
	if derr := c.dlq.Publish(ctx, c.cfg.DLQTopic, msg.Key, msg.Value, headers...); derr != nil {
		c.warn("dlq publish failed", applogger.String("dlq", c.cfg.DLQTopic), applogger.Error(derr))
		return "failed", false
	}
	return "dlq", true
}

func safeHandle(ctx context.Context, h MessageHandler, msg kafka.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return h.Handle(ctx, msg)
}

func (c *Consumer) commitWithRetry(ctx context.Context, r *kafka.Reader, msg kafka.Message, max int) error {
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = r.CommitMessages(cctx, msg)
		cancel()
		if err == nil {
			return nil
		}
		if !sleepCtx(ctx, backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt)) {
			return ctx.Err()
		}
	}
	c.warn("kafka commit failed", applogger.Int64("offset", msg.Offset), applogger.Error(err))
	return err
}

func (c *Consumer) warn(msg string, fields ...applogger.Field) {
	if c.l != nil {
		c.l.Warn(msg, fields...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	if attempt < 1 {
		attempt = 1
	}
	exp := max
	if attempt < 31 {
		if e := min * time.Duration(1<<uint(attempt-1)); e > 0 && e < max {
			exp = e
		}
	}
	// jitter up to 50%
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp - jitter
}
