package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/hotel-reservations/internal/logger"
)

// Handler processes one decoded envelope.  A returned error rejects the
// message without requeue, which routes it to the queue's dead-letter queue.
type Handler func(ctx context.Context, env Envelope) error

// Consumer reads one queue of a Topology.  Run keeps consuming across
// broker restarts until ctx is cancelled.
type Consumer struct {
	source   ChannelSource
	topology Topology
	queue    string
	name     string
	prefetch int
	retry    ReconnectPolicy
	handler  Handler
	log      *zap.Logger
}

func NewConsumer(source ChannelSource, topology Topology, queue, name string, prefetch int, retry ReconnectPolicy, handler Handler, log *zap.Logger) *Consumer {
	if retry == nil {
		retry = FixedBackoff(5 * time.Second)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{
		source:   source,
		topology: topology,
		queue:    queue,
		name:     name,
		prefetch: prefetch,
		retry:    retry,
		handler:  handler,
		log:      log.With(zap.String("component", "consumer"), zap.String("queue", queue)),
	}
}

// Run blocks until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := c.consumeOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrBrokerClosed) {
			return err
		}
		wait := c.retry.Delay(attempt)
		c.log.Warn("consume loop ended; restarting", zap.Error(err), zap.Duration("retry_in", wait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Consumer) consumeOnce(ctx context.Context) error {
	ch, err := c.source.Channel(ctx)
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := c.topology.Declare(ch); err != nil {
		return err
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		c.log.Warn("set QoS failed", zap.Error(err))
	}
	msgs, err := ch.Consume(c.queue, c.name, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.log.Info("consuming")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.deliver(ctx, d)
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery) {
	env, err := DecodeEnvelope(d.Body)
	if err != nil {
		c.log.Error("reject undecodable message", zap.Error(err), zap.String("routing_key", d.RoutingKey))
		_ = d.Nack(false, false)
		return
	}
	if env.CorrelationID != "" {
		ctx = logger.WithCorrelationID(ctx, env.CorrelationID)
	}
	if err := c.handler(ctx, env); err != nil {
		logger.WithContext(ctx, c.log).Error("handle message failed",
			zap.Error(err), zap.String("event", string(env.Event)), zap.String("event_id", env.ID))
		_ = d.Nack(false, false) // dead-letter, do not requeue to avoid tight loops
		return
	}
	_ = d.Ack(false)
}
