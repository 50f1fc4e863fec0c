package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher sends envelopes to one topic exchange, routing by event type.
// It keeps one channel open and drops it after any publish error so the
// next call opens a fresh one.  While the broker is reconnecting Publish
// fails at once with ErrBrokerUnavailable.
type Publisher struct {
	source   ChannelSource
	exchange string
	timeout  time.Duration
	log      *zap.Logger

	mu sync.Mutex
	ch Channel
}

func NewPublisher(source ChannelSource, exchange string, timeout time.Duration, log *zap.Logger) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{source: source, exchange: exchange, timeout: timeout, log: log.With(zap.String("exchange", exchange))}
}

// Publish sends env as a persistent message.  The request context's
// cancellation is ignored: a publish that follows a committed write should
// not be abandoned because the HTTP client went away.
func (p *Publisher) Publish(ctx context.Context, env Envelope) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		ch, err := channelNow(ctx, p.source)
		if err != nil {
			return fmt.Errorf("open channel: %w", err)
		}
		if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
		}
		p.ch = ch
	}
	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.ID,
		CorrelationId: env.CorrelationID,
		Timestamp:     env.CreatedAt,
		Type:          string(env.Event),
		Body:          body,
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, string(env.Event), false, false, msg); err != nil {
		_ = p.ch.Close()
		p.ch = nil
		return fmt.Errorf("publish %s: %w", env.Event, err)
	}
	p.log.Debug("published", zap.String("event", string(env.Event)), zap.String("event_id", env.ID))
	return nil
}

// Close releases the cached channel.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}
